package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomStatus defines the lifecycle status of a room.
type RoomStatus string

const (
	RoomStatusIdle    RoomStatus = "IDLE"
	RoomStatusRunning RoomStatus = "RUNNING"
	RoomStatusPaused  RoomStatus = "PAUSED"
	RoomStatusEnded   RoomStatus = "ENDED"
)

// SegmentKind defines the type of a timed segment.
type SegmentKind string

const (
	SegmentKindFocus     SegmentKind = "FOCUS"
	SegmentKindBreak     SegmentKind = "BREAK"
	SegmentKindLongBreak SegmentKind = "LONG_BREAK"
	SegmentKindCustom    SegmentKind = "CUSTOM"
)

// Role defines a participant's role within a room.
type Role string

const (
	RoleHost  Role = "HOST"
	RoleGuest Role = "GUEST"
)

// Room represents a shared focus session. Status and CurrentSegmentIndex are
// mutated only by the timer orchestrator and the transition processor.
type Room struct {
	ID                  uuid.UUID  `json:"id"`
	Code                string     `json:"code"`
	Status              RoomStatus `json:"status"`
	CurrentSegmentIndex int        `json:"current_segment_index"`
	HostIdentity        string     `json:"host_identity"`
	StartsAt            *time.Time `json:"starts_at,omitempty"`
	ExpiresAt           time.Time  `json:"expires_at"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Segment is one timed phase in a room's queue. Order is dense and 0-based;
// segments are never deleted on consumption, the room only advances its index.
type Segment struct {
	ID          uuid.UUID   `json:"id"`
	RoomID      uuid.UUID   `json:"room_id"`
	Kind        SegmentKind `json:"kind"`
	DurationSec int         `json:"duration_sec"`
	Order       int         `json:"order"`
	PublicTask  string      `json:"public_task,omitempty"`
}

// Participant represents a member of a room. Role is the authority for host
// status and is kept consistent with Room.HostIdentity on every transfer.
type Participant struct {
	ID          uuid.UUID `json:"id"`
	RoomID      uuid.UUID `json:"room_id"`
	Identity    string    `json:"identity"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	JoinedAt    time.Time `json:"joined_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}
