package gateway

import (
	"context"

	"github.com/google/uuid"

	"github.com/cowork-live/focusroom/internal/events"
	"github.com/cowork-live/focusroom/internal/models"
)

// SnapshotRepo is the durable-store surface snapshots need.
type SnapshotRepo interface {
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	ListSegments(ctx context.Context, roomID uuid.UUID) ([]models.Segment, error)
	ListParticipants(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error)
}

// SnapshotStore is the ephemeral-store surface snapshots need.
type SnapshotStore interface {
	TimerState(ctx context.Context, roomID uuid.UUID) (*models.TimerState, error)
	Presence(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
}

// StateProvider builds the full-state snapshot a joining connection receives
// as its first frame. Everything after it arrives as incremental events.
type StateProvider struct {
	repo  SnapshotRepo
	store SnapshotStore
}

func NewStateProvider(repo SnapshotRepo, store SnapshotStore) *StateProvider {
	return &StateProvider{repo: repo, store: store}
}

func (p *StateProvider) Snapshot(ctx context.Context, roomID uuid.UUID) (*events.SnapshotPayload, error) {
	room, err := p.repo.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	segments, err := p.repo.ListSegments(ctx, roomID)
	if err != nil {
		return nil, err
	}

	st, err := p.store.TimerState(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		// No live timer yet: derive an advisory state from the room row.
		st = &models.TimerState{
			Status:       room.Status,
			CurrentIndex: room.CurrentSegmentIndex,
			UpdatedAt:    room.UpdatedAt,
		}
	}

	active, err := p.store.Presence(ctx, roomID)
	if err != nil {
		return nil, err
	}
	activeSet := make(map[uuid.UUID]bool, len(active))
	for _, id := range active {
		activeSet[id] = true
	}

	participants, err := p.repo.ListParticipants(ctx, roomID)
	if err != nil {
		return nil, err
	}
	activeParticipants := make([]models.Participant, 0, len(participants))
	for _, part := range participants {
		if activeSet[part.ID] {
			activeParticipants = append(activeParticipants, part)
		}
	}

	return &events.SnapshotPayload{
		State:        events.NewStateChangedPayload(st),
		Segments:     events.NewSegmentViews(segments),
		Participants: events.NewParticipantViews(activeParticipants),
	}, nil
}
