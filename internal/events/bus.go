package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/cowork-live/focusroom/internal/models"
)

const subjectPrefix = "room.events."

// SubjectAll matches every room's event subject.
const SubjectAll = subjectPrefix + ">"

// Bus multicasts room events to every instance holding connections for the
// room. Core NATS pub/sub is enough: the UI resynchronizes from the snapshot
// on reconnect, so missed events need no replay.
type Bus struct {
	nc *nats.Conn
}

func NewBus(url string) (*Bus, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &Bus{nc: nc}, nil
}

func (b *Bus) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}

// Publish emits an event on the room's subject.
func (b *Bus) Publish(ctx context.Context, event *RoomEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.nc.Publish(subjectPrefix+event.RoomID, data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	log.Debug().
		Str("room_id", event.RoomID).
		Str("event_type", string(event.Type)).
		Msg("event published")
	return nil
}

// Subscribe delivers every room event to handler. Malformed messages are
// logged and dropped.
func (b *Bus) Subscribe(handler func(*RoomEvent)) (*nats.Subscription, error) {
	sub, err := b.nc.Subscribe(SubjectAll, func(msg *nats.Msg) {
		var event RoomEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to unmarshal room event")
			return
		}
		handler(&event)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to room events: %w", err)
	}
	return sub, nil
}

// PublishStateChanged publishes the timer state after a transition.
func (b *Bus) PublishStateChanged(ctx context.Context, roomID uuid.UUID, st *models.TimerState) error {
	event, err := NewRoomEvent(roomID, EventTypeStateChanged, NewStateChangedPayload(st))
	if err != nil {
		return err
	}
	return b.Publish(ctx, event)
}

// PublishQueueChanged publishes the full segment list after an edit.
func (b *Bus) PublishQueueChanged(ctx context.Context, roomID uuid.UUID, segments []models.Segment) error {
	event, err := NewRoomEvent(roomID, EventTypeQueueChanged, QueueChangedPayload{Segments: NewSegmentViews(segments)})
	if err != nil {
		return err
	}
	return b.Publish(ctx, event)
}

// PublishParticipantsChanged publishes the active participant list.
func (b *Bus) PublishParticipantsChanged(ctx context.Context, roomID uuid.UUID, active []models.Participant) error {
	event, err := NewRoomEvent(roomID, EventTypeParticipantsChanged, ParticipantsChangedPayload{Participants: NewParticipantViews(active)})
	if err != nil {
		return err
	}
	return b.Publish(ctx, event)
}

// PublishHostTransferred announces a host failover.
func (b *Bus) PublishHostTransferred(ctx context.Context, roomID uuid.UUID, newHost *models.Participant) error {
	event, err := NewRoomEvent(roomID, EventTypeHostTransferred, HostTransferredPayload{
		NewHostID:   newHost.ID.String(),
		NewHostName: newHost.DisplayName,
	})
	if err != nil {
		return err
	}
	return b.Publish(ctx, event)
}
