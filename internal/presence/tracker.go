// Package presence reference-counts connections per participant, runs the
// grace-period timers for disconnects, and owns host failover and
// empty-room teardown.
//
// Reference counts are process-local: they only gate this instance's grace
// timers. The shared presence set is the cross-instance truth for "anyone
// connected".
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/cowork-live/focusroom/internal/models"
)

// PresenceStore is the shared-store surface the tracker needs.
type PresenceStore interface {
	AddPresence(ctx context.Context, roomID, participantID uuid.UUID) error
	RemovePresence(ctx context.Context, roomID, participantID uuid.UUID) error
	Presence(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
	PresenceCount(ctx context.Context, roomID uuid.UUID) (int, error)
	IsPresent(ctx context.Context, roomID, participantID uuid.UUID) (bool, error)
	PurgeRoom(ctx context.Context, roomID uuid.UUID) error
	TimerState(ctx context.Context, roomID uuid.UUID) (*models.TimerState, error)
}

// ParticipantRepo is the durable-store surface the tracker needs.
type ParticipantRepo interface {
	ListParticipants(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error)
	TransferHost(ctx context.Context, roomID, oldHostID, newHostID uuid.UUID) (*models.Participant, error)
	DeleteRoom(ctx context.Context, id uuid.UUID) error
}

// Publisher fans presence changes out to the room.
type Publisher interface {
	PublishParticipantsChanged(ctx context.Context, roomID uuid.UUID, active []models.Participant) error
	PublishHostTransferred(ctx context.Context, roomID uuid.UUID, newHost *models.Participant) error
}

// JobCanceler removes a room's pending transition during teardown.
type JobCanceler interface {
	Cancel(ctx context.Context, roomID uuid.UUID, index int) error
}

// LiveChecker reports whether a participant holds an actual open connection
// on this instance. Failover consults it in addition to the presence set to
// close the race where the set was updated by a different path.
type LiveChecker func(roomID, participantID uuid.UUID) bool

type participantKey struct {
	room        uuid.UUID
	participant uuid.UUID
}

const (
	// DefaultRoomGrace is how long an empty room survives before teardown.
	DefaultRoomGrace = 30 * time.Second
	// DefaultHostGrace is how long a host may dangle before failover.
	DefaultHostGrace = 10 * time.Second
)

// Tracker manages participant liveness: absent -> live -> draining -> absent,
// where a reconnect during draining always wins over the pending timer.
type Tracker struct {
	store PresenceStore
	repo  ParticipantRepo
	bus   Publisher
	queue JobCanceler
	clock clockwork.Clock

	roomGrace time.Duration
	hostGrace time.Duration
	isLive    LiveChecker

	mu         sync.Mutex
	refs       map[participantKey]int
	hostTimers map[participantKey]clockwork.Timer
	roomTimers map[uuid.UUID]clockwork.Timer
}

func NewTracker(store PresenceStore, repo ParticipantRepo, bus Publisher, queue JobCanceler, clock clockwork.Clock) *Tracker {
	return &Tracker{
		store:      store,
		repo:       repo,
		bus:        bus,
		queue:      queue,
		clock:      clock,
		roomGrace:  DefaultRoomGrace,
		hostGrace:  DefaultHostGrace,
		refs:       make(map[participantKey]int),
		hostTimers: make(map[participantKey]clockwork.Timer),
		roomTimers: make(map[uuid.UUID]clockwork.Timer),
	}
}

// SetGracePeriods overrides the two grace periods.
func (t *Tracker) SetGracePeriods(room, host time.Duration) {
	t.roomGrace = room
	t.hostGrace = host
}

// SetLiveChecker installs the authoritative open-connection check.
func (t *Tracker) SetLiveChecker(fn LiveChecker) {
	t.isLive = fn
}

// OnConnect registers one more connection for a participant. Any pending
// disconnect consequence for the participant or the room is cancelled first.
func (t *Tracker) OnConnect(ctx context.Context, roomID, participantID uuid.UUID) error {
	key := participantKey{room: roomID, participant: participantID}

	t.mu.Lock()
	if timer, ok := t.hostTimers[key]; ok {
		timer.Stop()
		delete(t.hostTimers, key)
	}
	if timer, ok := t.roomTimers[roomID]; ok {
		timer.Stop()
		delete(t.roomTimers, roomID)
	}
	t.refs[key]++
	count := t.refs[key]
	t.mu.Unlock()

	if err := t.store.AddPresence(ctx, roomID, participantID); err != nil {
		return err
	}

	log.Debug().
		Str("room_id", roomID.String()).
		Str("participant_id", participantID.String()).
		Int("connections", count).
		Msg("participant connected")

	return t.broadcastParticipants(ctx, roomID)
}

// OnDisconnect releases one connection reference. Only when the count hits
// zero does the participant leave the presence set and the grace timers
// start: the host-failover timer if they were host, the room-teardown timer
// if the room went empty.
func (t *Tracker) OnDisconnect(ctx context.Context, roomID, participantID uuid.UUID, wasHost bool) error {
	key := participantKey{room: roomID, participant: participantID}

	t.mu.Lock()
	if _, ok := t.refs[key]; !ok {
		t.mu.Unlock()
		log.Debug().
			Str("room_id", roomID.String()).
			Str("participant_id", participantID.String()).
			Msg("disconnect for unknown connection, ignoring")
		return nil
	}
	t.refs[key]--
	remaining := t.refs[key]
	if remaining <= 0 {
		delete(t.refs, key)
	}
	t.mu.Unlock()

	if remaining > 0 {
		log.Debug().
			Str("room_id", roomID.String()).
			Str("participant_id", participantID.String()).
			Int("connections", remaining).
			Msg("participant still has live connections")
		return nil
	}

	if err := t.store.RemovePresence(ctx, roomID, participantID); err != nil {
		return err
	}

	log.Debug().
		Str("room_id", roomID.String()).
		Str("participant_id", participantID.String()).
		Bool("was_host", wasHost).
		Msg("participant draining")

	if err := t.broadcastParticipants(ctx, roomID); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to broadcast participants")
	}

	t.mu.Lock()
	if wasHost {
		if old, ok := t.hostTimers[key]; ok {
			old.Stop()
		}
		t.hostTimers[key] = t.clock.AfterFunc(t.hostGrace, func() {
			t.failoverHost(roomID, participantID)
		})
	}
	t.mu.Unlock()

	count, err := t.store.PresenceCount(ctx, roomID)
	if err != nil {
		return err
	}
	if count == 0 {
		t.mu.Lock()
		if old, ok := t.roomTimers[roomID]; ok {
			old.Stop()
		}
		t.roomTimers[roomID] = t.clock.AfterFunc(t.roomGrace, func() {
			t.teardownIfEmpty(roomID)
		})
		t.mu.Unlock()
	}
	return nil
}

// failoverHost runs after the host grace period. It re-checks actual
// connections before acting, then promotes the oldest-joined active
// participant and demotes the lapsed host.
func (t *Tracker) failoverHost(roomID, oldHostID uuid.UUID) {
	ctx := context.Background()
	key := participantKey{room: roomID, participant: oldHostID}

	t.mu.Lock()
	delete(t.hostTimers, key)
	t.mu.Unlock()

	if t.isLive != nil && t.isLive(roomID, oldHostID) {
		log.Debug().Str("room_id", roomID.String()).Msg("host has a live connection again, skipping failover")
		return
	}
	present, err := t.store.IsPresent(ctx, roomID, oldHostID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to re-check host presence")
		return
	}
	if present {
		log.Debug().Str("room_id", roomID.String()).Msg("host reconnected on another instance, skipping failover")
		return
	}

	active, err := t.store.Presence(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to read presence for failover")
		return
	}
	activeSet := make(map[uuid.UUID]bool, len(active))
	for _, id := range active {
		activeSet[id] = true
	}

	participants, err := t.repo.ListParticipants(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to list participants for failover")
		return
	}

	// Participants come back ordered by join time, so the first active
	// non-host candidate is the deterministic successor.
	var successor *models.Participant
	for i := range participants {
		p := participants[i]
		if p.ID == oldHostID || !activeSet[p.ID] {
			continue
		}
		successor = &p
		break
	}
	if successor == nil {
		log.Debug().Str("room_id", roomID.String()).Msg("no active successor, leaving room to the empty-room path")
		return
	}

	newHost, err := t.repo.TransferHost(ctx, roomID, oldHostID, successor.ID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("host transfer failed")
		return
	}

	log.Info().
		Str("room_id", roomID.String()).
		Str("old_host_id", oldHostID.String()).
		Str("new_host_id", newHost.ID.String()).
		Msg("host failover complete")

	if err := t.bus.PublishHostTransferred(ctx, roomID, newHost); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to publish host transfer")
	}
	if err := t.broadcastParticipants(ctx, roomID); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to broadcast participants")
	}
}

// teardownIfEmpty runs after the room grace period. The presence set is
// re-checked so a reconnect that raced the timer always wins.
func (t *Tracker) teardownIfEmpty(roomID uuid.UUID) {
	ctx := context.Background()

	t.mu.Lock()
	delete(t.roomTimers, roomID)
	t.mu.Unlock()

	count, err := t.store.PresenceCount(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to re-check presence for teardown")
		return
	}
	if count > 0 {
		log.Debug().Str("room_id", roomID.String()).Msg("room repopulated, skipping teardown")
		return
	}

	// Drop the pending transition before the room row disappears; a job
	// racing past this is dropped by the processor's missing-room guard.
	if st, err := t.store.TimerState(ctx, roomID); err == nil && st != nil {
		if err := t.queue.Cancel(ctx, roomID, st.CurrentIndex); err != nil {
			log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to cancel pending job")
		}
	}

	if err := t.repo.DeleteRoom(ctx, roomID); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to delete room")
		return
	}
	if err := t.store.PurgeRoom(ctx, roomID); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to purge ephemeral keys")
		return
	}

	log.Info().Str("room_id", roomID.String()).Msg("empty room torn down")
}

func (t *Tracker) broadcastParticipants(ctx context.Context, roomID uuid.UUID) error {
	active, err := t.store.Presence(ctx, roomID)
	if err != nil {
		return err
	}
	activeSet := make(map[uuid.UUID]bool, len(active))
	for _, id := range active {
		activeSet[id] = true
	}

	participants, err := t.repo.ListParticipants(ctx, roomID)
	if err != nil {
		return err
	}

	activeParticipants := make([]models.Participant, 0, len(participants))
	for _, p := range participants {
		if activeSet[p.ID] {
			activeParticipants = append(activeParticipants, p)
		}
	}

	return t.bus.PublishParticipantsChanged(ctx, roomID, activeParticipants)
}
