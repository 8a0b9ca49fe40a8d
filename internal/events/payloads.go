package events

import (
	"time"

	"github.com/cowork-live/focusroom/internal/models"
)

// Event payload types shared between the core components and the gateway.

// SegmentView is the wire shape of one queue entry.
type SegmentView struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	DurationSec int    `json:"duration_sec"`
	Order       int    `json:"order"`
	PublicTask  string `json:"public_task,omitempty"`
}

// ParticipantView is the wire shape of one active participant.
type ParticipantView struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// StateChangedPayload mirrors the ephemeral timer state after a transition.
type StateChangedPayload struct {
	Status        models.RoomStatus `json:"status"`
	CurrentIndex  int               `json:"current_index"`
	SegmentEndsAt *int64            `json:"segment_ends_at,omitempty"`
	RemainingSec  int               `json:"remaining_sec,omitempty"`
	ChangedAt     time.Time         `json:"changed_at"`
}

// QueueChangedPayload carries the full segment list after an edit.
type QueueChangedPayload struct {
	Segments []SegmentView `json:"segments"`
}

// ParticipantsChangedPayload carries the active participant list.
type ParticipantsChangedPayload struct {
	Participants []ParticipantView `json:"participants"`
}

// HostTransferredPayload announces a host failover or transfer.
type HostTransferredPayload struct {
	NewHostID   string `json:"new_host_id"`
	NewHostName string `json:"new_host_name"`
}

// SnapshotPayload is the first frame a joining connection receives.
type SnapshotPayload struct {
	State        StateChangedPayload `json:"state"`
	Segments     []SegmentView       `json:"segments"`
	Participants []ParticipantView   `json:"participants"`
}

// NewStateChangedPayload converts a timer snapshot into its wire payload.
func NewStateChangedPayload(st *models.TimerState) StateChangedPayload {
	return StateChangedPayload{
		Status:        st.Status,
		CurrentIndex:  st.CurrentIndex,
		SegmentEndsAt: st.SegmentEndsAt,
		RemainingSec:  st.RemainingSec,
		ChangedAt:     st.UpdatedAt,
	}
}

// NewSegmentViews converts segments into their wire shape.
func NewSegmentViews(segments []models.Segment) []SegmentView {
	views := make([]SegmentView, 0, len(segments))
	for _, seg := range segments {
		views = append(views, SegmentView{
			ID:          seg.ID.String(),
			Kind:        string(seg.Kind),
			DurationSec: seg.DurationSec,
			Order:       seg.Order,
			PublicTask:  seg.PublicTask,
		})
	}
	return views
}

// NewParticipantViews converts participants into their wire shape.
func NewParticipantViews(participants []models.Participant) []ParticipantView {
	views := make([]ParticipantView, 0, len(participants))
	for _, p := range participants {
		views = append(views, ParticipantView{
			ID:          p.ID.String(),
			DisplayName: p.DisplayName,
			Role:        string(p.Role),
		})
	}
	return views
}
