package models

import "time"

// TimerState is the ephemeral per-room timer snapshot clients synchronize
// against. It is an advisory cache of Room plus scheduling intent, written
// together with Room on every transition, never a second source of truth.
type TimerState struct {
	Status RoomStatus `json:"status"`

	// CurrentIndex is the 0-based index of the segment the timer refers to.
	// It may equal the segment count when the room has run past its queue.
	CurrentIndex int `json:"current_index"`

	// SegmentEndsAt is the scheduled end of the current segment in epoch
	// milliseconds. Nil while the room is paused or idle.
	SegmentEndsAt *int64 `json:"segment_ends_at,omitempty"`

	// RemainingSec is only meaningful while paused.
	RemainingSec int `json:"remaining_sec,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}
