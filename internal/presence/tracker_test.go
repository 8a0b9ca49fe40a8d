package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/cowork-live/focusroom/internal/models"
)

type fakePresenceStore struct {
	sets   map[uuid.UUID]map[uuid.UUID]bool
	states map[uuid.UUID]*models.TimerState
	purged []uuid.UUID
}

func newFakePresenceStore() *fakePresenceStore {
	return &fakePresenceStore{
		sets:   make(map[uuid.UUID]map[uuid.UUID]bool),
		states: make(map[uuid.UUID]*models.TimerState),
	}
}

func (f *fakePresenceStore) AddPresence(_ context.Context, roomID, participantID uuid.UUID) error {
	if f.sets[roomID] == nil {
		f.sets[roomID] = make(map[uuid.UUID]bool)
	}
	f.sets[roomID][participantID] = true
	return nil
}

func (f *fakePresenceStore) RemovePresence(_ context.Context, roomID, participantID uuid.UUID) error {
	delete(f.sets[roomID], participantID)
	return nil
}

func (f *fakePresenceStore) Presence(_ context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(f.sets[roomID]))
	for id := range f.sets[roomID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakePresenceStore) PresenceCount(_ context.Context, roomID uuid.UUID) (int, error) {
	return len(f.sets[roomID]), nil
}

func (f *fakePresenceStore) IsPresent(_ context.Context, roomID, participantID uuid.UUID) (bool, error) {
	return f.sets[roomID][participantID], nil
}

func (f *fakePresenceStore) PurgeRoom(_ context.Context, roomID uuid.UUID) error {
	f.purged = append(f.purged, roomID)
	delete(f.sets, roomID)
	delete(f.states, roomID)
	return nil
}

func (f *fakePresenceStore) TimerState(_ context.Context, roomID uuid.UUID) (*models.TimerState, error) {
	return f.states[roomID], nil
}

type fakeParticipantRepo struct {
	participants map[uuid.UUID][]models.Participant
	deletedRooms []uuid.UUID
	transfers    []string
}

func newFakeParticipantRepo() *fakeParticipantRepo {
	return &fakeParticipantRepo{participants: make(map[uuid.UUID][]models.Participant)}
}

func (f *fakeParticipantRepo) ListParticipants(_ context.Context, roomID uuid.UUID) ([]models.Participant, error) {
	return f.participants[roomID], nil
}

func (f *fakeParticipantRepo) TransferHost(_ context.Context, roomID, oldHostID, newHostID uuid.UUID) (*models.Participant, error) {
	f.transfers = append(f.transfers, oldHostID.String()+"->"+newHostID.String())
	for i := range f.participants[roomID] {
		p := &f.participants[roomID][i]
		switch p.ID {
		case oldHostID:
			p.Role = models.RoleGuest
		case newHostID:
			p.Role = models.RoleHost
		}
	}
	for _, p := range f.participants[roomID] {
		if p.ID == newHostID {
			copied := p
			return &copied, nil
		}
	}
	return nil, errors.New("no such participant")
}

func (f *fakeParticipantRepo) DeleteRoom(_ context.Context, id uuid.UUID) error {
	f.deletedRooms = append(f.deletedRooms, id)
	return nil
}

type fakePresenceBus struct {
	participantLists [][]models.Participant
	hostTransfers    []*models.Participant
}

func (f *fakePresenceBus) PublishParticipantsChanged(_ context.Context, _ uuid.UUID, active []models.Participant) error {
	f.participantLists = append(f.participantLists, active)
	return nil
}

func (f *fakePresenceBus) PublishHostTransferred(_ context.Context, _ uuid.UUID, newHost *models.Participant) error {
	f.hostTransfers = append(f.hostTransfers, newHost)
	return nil
}

type fakeCanceler struct {
	cancelled []int
}

func (f *fakeCanceler) Cancel(_ context.Context, _ uuid.UUID, index int) error {
	f.cancelled = append(f.cancelled, index)
	return nil
}

func newTestTracker() (*Tracker, *fakePresenceStore, *fakeParticipantRepo, *fakePresenceBus, *fakeCanceler) {
	store := newFakePresenceStore()
	repo := newFakeParticipantRepo()
	bus := &fakePresenceBus{}
	queue := &fakeCanceler{}
	tracker := NewTracker(store, repo, bus, queue, clockwork.NewFakeClock())
	return tracker, store, repo, bus, queue
}

func addParticipant(repo *fakeParticipantRepo, roomID uuid.UUID, role models.Role, joinedAt time.Time) models.Participant {
	p := models.Participant{
		ID:       uuid.New(),
		RoomID:   roomID,
		Role:     role,
		JoinedAt: joinedAt,
	}
	repo.participants[roomID] = append(repo.participants[roomID], p)
	return p
}

func TestSecondTabKeepsParticipantPresent(t *testing.T) {
	tracker, store, repo, _, _ := newTestTracker()
	roomID := uuid.New()
	p := addParticipant(repo, roomID, models.RoleGuest, time.Now())
	ctx := context.Background()

	if err := tracker.OnConnect(ctx, roomID, p.ID); err != nil {
		t.Fatalf("first connect failed: %v", err)
	}
	if err := tracker.OnConnect(ctx, roomID, p.ID); err != nil {
		t.Fatalf("second connect failed: %v", err)
	}

	// Closing one of two tabs must not remove presence.
	if err := tracker.OnDisconnect(ctx, roomID, p.ID, false); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if !store.sets[roomID][p.ID] {
		t.Fatal("participant with a remaining connection must stay present")
	}

	if err := tracker.OnDisconnect(ctx, roomID, p.ID, false); err != nil {
		t.Fatalf("final disconnect failed: %v", err)
	}
	if store.sets[roomID][p.ID] {
		t.Fatal("participant with no connections must leave the presence set")
	}
}

func TestDisconnectForUnknownConnectionIsIgnored(t *testing.T) {
	tracker, store, _, bus, _ := newTestTracker()
	roomID := uuid.New()

	if err := tracker.OnDisconnect(context.Background(), roomID, uuid.New(), false); err != nil {
		t.Fatalf("expected silent ignore, got %v", err)
	}
	if len(store.purged) != 0 || len(bus.participantLists) != 0 {
		t.Fatal("unknown disconnect must have no effect")
	}
}

func TestHostDisconnectArmsFailoverTimer(t *testing.T) {
	tracker, _, repo, _, _ := newTestTracker()
	roomID := uuid.New()
	host := addParticipant(repo, roomID, models.RoleHost, time.Now())
	guest := addParticipant(repo, roomID, models.RoleGuest, time.Now().Add(time.Second))
	ctx := context.Background()

	if err := tracker.OnConnect(ctx, roomID, host.ID); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := tracker.OnConnect(ctx, roomID, guest.ID); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := tracker.OnDisconnect(ctx, roomID, host.ID, true); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}

	key := participantKey{room: roomID, participant: host.ID}
	if _, ok := tracker.hostTimers[key]; !ok {
		t.Fatal("expected an armed host failover timer")
	}

	// Reconnect within the grace period disarms it.
	if err := tracker.OnConnect(ctx, roomID, host.ID); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	if _, ok := tracker.hostTimers[key]; ok {
		t.Fatal("reconnect must disarm the failover timer")
	}
}

func TestFailoverPromotesOldestJoinedActiveParticipant(t *testing.T) {
	tracker, store, repo, bus, _ := newTestTracker()
	roomID := uuid.New()
	now := time.Now()
	host := addParticipant(repo, roomID, models.RoleHost, now)
	older := addParticipant(repo, roomID, models.RoleGuest, now.Add(time.Second))
	newer := addParticipant(repo, roomID, models.RoleGuest, now.Add(2*time.Second))
	ctx := context.Background()

	for _, id := range []uuid.UUID{older.ID, newer.ID} {
		if err := store.AddPresence(ctx, roomID, id); err != nil {
			t.Fatalf("seed presence failed: %v", err)
		}
	}

	tracker.failoverHost(roomID, host.ID)

	if len(repo.transfers) != 1 || repo.transfers[0] != host.ID.String()+"->"+older.ID.String() {
		t.Fatalf("expected transfer to the oldest-joined guest, got %v", repo.transfers)
	}
	if len(bus.hostTransfers) != 1 || bus.hostTransfers[0].ID != older.ID {
		t.Fatal("expected a host-transferred broadcast for the successor")
	}
	if bus.hostTransfers[0].Role != models.RoleHost {
		t.Fatal("successor must carry the host role")
	}
}

func TestFailoverSkippedWhenHostReappeared(t *testing.T) {
	tracker, store, repo, bus, _ := newTestTracker()
	roomID := uuid.New()
	host := addParticipant(repo, roomID, models.RoleHost, time.Now())
	guest := addParticipant(repo, roomID, models.RoleGuest, time.Now().Add(time.Second))
	ctx := context.Background()

	// Host rejoined on another instance: the shared set says present.
	for _, id := range []uuid.UUID{host.ID, guest.ID} {
		if err := store.AddPresence(ctx, roomID, id); err != nil {
			t.Fatalf("seed presence failed: %v", err)
		}
	}

	tracker.failoverHost(roomID, host.ID)

	if len(repo.transfers) != 0 || len(bus.hostTransfers) != 0 {
		t.Fatal("failover must not run when the host is present again")
	}
}

func TestFailoverWithNoSuccessorLeavesRoomAlone(t *testing.T) {
	tracker, _, repo, bus, _ := newTestTracker()
	roomID := uuid.New()
	host := addParticipant(repo, roomID, models.RoleHost, time.Now())

	tracker.failoverHost(roomID, host.ID)

	if len(repo.transfers) != 0 || len(bus.hostTransfers) != 0 {
		t.Fatal("an empty room has no successor to promote")
	}
	if len(repo.deletedRooms) != 0 {
		t.Fatal("failover must leave teardown to the empty-room timer")
	}
}

func TestEmptyRoomTornDownAfterGrace(t *testing.T) {
	tracker, store, repo, _, queue := newTestTracker()
	roomID := uuid.New()
	store.states[roomID] = &models.TimerState{
		Status:       models.RoomStatusRunning,
		CurrentIndex: 1,
	}

	tracker.teardownIfEmpty(roomID)

	if len(queue.cancelled) != 1 || queue.cancelled[0] != 1 {
		t.Fatalf("expected the pending job for index 1 to be cancelled, got %v", queue.cancelled)
	}
	if len(repo.deletedRooms) != 1 || repo.deletedRooms[0] != roomID {
		t.Fatal("expected the room row to be deleted")
	}
	if len(store.purged) != 1 || store.purged[0] != roomID {
		t.Fatal("expected the ephemeral keys to be purged")
	}
}

func TestTeardownSkippedWhenRoomRepopulated(t *testing.T) {
	tracker, store, repo, _, _ := newTestTracker()
	roomID := uuid.New()
	ctx := context.Background()
	if err := store.AddPresence(ctx, roomID, uuid.New()); err != nil {
		t.Fatalf("seed presence failed: %v", err)
	}

	tracker.teardownIfEmpty(roomID)

	if len(repo.deletedRooms) != 0 || len(store.purged) != 0 {
		t.Fatal("a repopulated room must survive the grace timer")
	}
}

func TestReconnectDisarmsRoomTeardownTimer(t *testing.T) {
	tracker, _, repo, _, _ := newTestTracker()
	roomID := uuid.New()
	p := addParticipant(repo, roomID, models.RoleGuest, time.Now())
	ctx := context.Background()

	if err := tracker.OnConnect(ctx, roomID, p.ID); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := tracker.OnDisconnect(ctx, roomID, p.ID, false); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if _, ok := tracker.roomTimers[roomID]; !ok {
		t.Fatal("expected an armed teardown timer for the empty room")
	}

	if err := tracker.OnConnect(ctx, roomID, p.ID); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	if _, ok := tracker.roomTimers[roomID]; ok {
		t.Fatal("reconnect must disarm the teardown timer")
	}
}
