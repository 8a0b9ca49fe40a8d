package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a room-scoped multicast event.
type EventType string

const (
	EventTypeSnapshot            EventType = "Snapshot"
	EventTypeStateChanged        EventType = "StateChanged"
	EventTypeQueueChanged        EventType = "QueueChanged"
	EventTypeParticipantsChanged EventType = "ParticipantsChanged"
	EventTypeHostTransferred     EventType = "HostTransferred"
	EventTypeError               EventType = "Error"
)

// RoomEvent is the envelope every publisher emits and every gateway instance
// fans out to its local connections for the room.
type RoomEvent struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"room_id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewRoomEvent wraps a payload into an envelope. Marshal failures are
// programming errors (all payloads are plain structs), so they surface as an
// error rather than a panic.
func NewRoomEvent(roomID uuid.UUID, eventType EventType, payload any) (*RoomEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &RoomEvent{
		ID:        uuid.New().String(),
		RoomID:    roomID.String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}
