package timer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cowork-live/focusroom/internal/models"
	"github.com/cowork-live/focusroom/internal/rooms"
)

// In-memory stand-ins for the durable repo, the ephemeral store, the delayed
// queue and the event bus.

type fakeRepo struct {
	rooms    map[uuid.UUID]*models.Room
	segments map[uuid.UUID][]models.Segment
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		rooms:    make(map[uuid.UUID]*models.Room),
		segments: make(map[uuid.UUID][]models.Segment),
	}
}

func (f *fakeRepo) addRoom(room *models.Room, durationsSec ...int) {
	f.rooms[room.ID] = room
	segs := make([]models.Segment, 0, len(durationsSec))
	for i, d := range durationsSec {
		segs = append(segs, models.Segment{
			ID:          uuid.New(),
			RoomID:      room.ID,
			Kind:        models.SegmentKindFocus,
			DurationSec: d,
			Order:       i,
		})
	}
	f.segments[room.ID] = segs
}

func (f *fakeRepo) GetRoom(_ context.Context, id uuid.UUID) (*models.Room, error) {
	room, ok := f.rooms[id]
	if !ok {
		return nil, rooms.ErrRoomNotFound
	}
	copied := *room
	return &copied, nil
}

func (f *fakeRepo) UpdateRoomProgress(_ context.Context, id uuid.UUID, status models.RoomStatus, currentIndex int) error {
	room, ok := f.rooms[id]
	if !ok {
		return rooms.ErrRoomNotFound
	}
	room.Status = status
	room.CurrentSegmentIndex = currentIndex
	return nil
}

func (f *fakeRepo) MarkRoomStarted(_ context.Context, id uuid.UUID, startedAt time.Time) error {
	room, ok := f.rooms[id]
	if !ok {
		return rooms.ErrRoomNotFound
	}
	if room.StartsAt == nil {
		room.StartsAt = &startedAt
	}
	return nil
}

func (f *fakeRepo) ListSegments(_ context.Context, roomID uuid.UUID) ([]models.Segment, error) {
	return f.segments[roomID], nil
}

type fakeStore struct {
	states map[uuid.UUID]*models.TimerState
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: make(map[uuid.UUID]*models.TimerState)}
}

func (f *fakeStore) TimerState(_ context.Context, roomID uuid.UUID) (*models.TimerState, error) {
	st, ok := f.states[roomID]
	if !ok {
		return nil, nil
	}
	copied := *st
	return &copied, nil
}

func (f *fakeStore) SetTimerState(_ context.Context, roomID uuid.UUID, st *models.TimerState) error {
	copied := *st
	f.states[roomID] = &copied
	return nil
}

type scheduledJob struct {
	roomID uuid.UUID
	index  int
	delay  time.Duration
}

type fakeQueue struct {
	scheduled []scheduledJob
	cancelled []string
}

func (f *fakeQueue) Schedule(_ context.Context, roomID uuid.UUID, index int, delay time.Duration) error {
	f.scheduled = append(f.scheduled, scheduledJob{roomID: roomID, index: index, delay: delay})
	return nil
}

func (f *fakeQueue) Cancel(_ context.Context, roomID uuid.UUID, index int) error {
	f.cancelled = append(f.cancelled, fmt.Sprintf("%s:%d", roomID, index))
	return nil
}

type fakeBus struct {
	published []*models.TimerState
}

func (f *fakeBus) PublishStateChanged(_ context.Context, _ uuid.UUID, st *models.TimerState) error {
	copied := *st
	f.published = append(f.published, &copied)
	return nil
}
