// Package timer owns the room/segment timer state machine: the synchronous
// host-facing operations (start, pause, skip) and the processor that applies
// scheduled segment-end transitions.
//
// Cross-process consistency relies on staleness-checked writes against the
// shared state store, never on locks: a transition only applies when the
// live timer state still points at the index it was computed for.
package timer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/cowork-live/focusroom/internal/models"
)

// RoomRepo is the durable-store surface the timer needs.
type RoomRepo interface {
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	UpdateRoomProgress(ctx context.Context, id uuid.UUID, status models.RoomStatus, currentIndex int) error
	MarkRoomStarted(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	ListSegments(ctx context.Context, roomID uuid.UUID) ([]models.Segment, error)
}

// StateStore is the ephemeral-store surface the timer needs.
type StateStore interface {
	TimerState(ctx context.Context, roomID uuid.UUID) (*models.TimerState, error)
	SetTimerState(ctx context.Context, roomID uuid.UUID, st *models.TimerState) error
}

// JobQueue schedules and cancels segment-end transitions.
type JobQueue interface {
	Schedule(ctx context.Context, roomID uuid.UUID, index int, delay time.Duration) error
	Cancel(ctx context.Context, roomID uuid.UUID, index int) error
}

// Publisher fans state changes out to every instance with connections to the room.
type Publisher interface {
	PublishStateChanged(ctx context.Context, roomID uuid.UUID, st *models.TimerState) error
}

// Config carries the orchestrator's policy knobs.
type Config struct {
	// AutoContinue makes skip start the next segment immediately instead of
	// leaving it idle for an explicit start. Off by default.
	AutoContinue bool
}

// Orchestrator executes host actions. It is one of exactly two writers of
// timer transitions; the other is the Processor.
type Orchestrator struct {
	repo  RoomRepo
	store StateStore
	queue JobQueue
	bus   Publisher
	clock clockwork.Clock
	cfg   Config

	// wake nudges the local scheduler loop after a schedule; nil is fine.
	wake func()
}

func NewOrchestrator(repo RoomRepo, store StateStore, queue JobQueue, bus Publisher, clock clockwork.Clock, cfg Config) *Orchestrator {
	return &Orchestrator{
		repo:  repo,
		store: store,
		queue: queue,
		bus:   bus,
		clock: clock,
		cfg:   cfg,
	}
}

// SetWake installs a callback invoked after every schedule so the local
// scheduler loop re-evaluates its sleep.
func (o *Orchestrator) SetWake(wake func()) {
	o.wake = wake
}

// Start begins or resumes the current segment. Resuming from a pause keeps
// the paused remaining time; otherwise the segment's full duration is used.
// A room with no segment at the current index is a no-op.
func (o *Orchestrator) Start(ctx context.Context, roomID uuid.UUID) error {
	room, err := o.repo.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}

	segments, err := o.repo.ListSegments(ctx, roomID)
	if err != nil {
		return err
	}

	st, err := o.store.TimerState(ctx, roomID)
	if err != nil {
		return err
	}

	index := room.CurrentSegmentIndex
	if st != nil {
		index = st.CurrentIndex
	}
	if index >= len(segments) {
		log.Debug().Str("room_id", roomID.String()).Int("index", index).Msg("start with no current segment, ignoring")
		return nil
	}

	remaining := segments[index].DurationSec
	if st != nil && st.Status == models.RoomStatusPaused && st.RemainingSec > 0 {
		remaining = st.RemainingSec
	}

	now := o.clock.Now()
	endsAt := now.Add(time.Duration(remaining) * time.Second).UnixMilli()

	// Room first, then ephemeral state: a crash between the two is
	// recoverable because the processor trusts the ephemeral state for
	// "is a transition due".
	if err := o.repo.UpdateRoomProgress(ctx, roomID, models.RoomStatusRunning, index); err != nil {
		return err
	}
	if err := o.repo.MarkRoomStarted(ctx, roomID, now); err != nil {
		return err
	}

	next := &models.TimerState{
		Status:        models.RoomStatusRunning,
		CurrentIndex:  index,
		SegmentEndsAt: &endsAt,
		UpdatedAt:     now,
	}
	if err := o.store.SetTimerState(ctx, roomID, next); err != nil {
		return err
	}

	if err := o.bus.PublishStateChanged(ctx, roomID, next); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to publish state change")
	}

	if err := o.queue.Schedule(ctx, roomID, index, time.Duration(remaining)*time.Second); err != nil {
		return err
	}
	o.nudge()

	log.Info().
		Str("room_id", roomID.String()).
		Int("index", index).
		Int("remaining_sec", remaining).
		Msg("segment started")
	return nil
}

// Pause stops the running segment and records the remaining whole seconds.
// It is a no-op unless the timer is running.
func (o *Orchestrator) Pause(ctx context.Context, roomID uuid.UUID) error {
	st, err := o.store.TimerState(ctx, roomID)
	if err != nil {
		return err
	}
	if st == nil || st.Status != models.RoomStatusRunning {
		log.Debug().Str("room_id", roomID.String()).Msg("pause on non-running timer, ignoring")
		return nil
	}

	now := o.clock.Now()
	remaining := 0
	if st.SegmentEndsAt != nil {
		remaining = int((*st.SegmentEndsAt - now.UnixMilli() + 999) / 1000)
		if remaining < 0 {
			remaining = 0
		}
	}

	if err := o.repo.UpdateRoomProgress(ctx, roomID, models.RoomStatusPaused, st.CurrentIndex); err != nil {
		return err
	}

	next := &models.TimerState{
		Status:       models.RoomStatusPaused,
		CurrentIndex: st.CurrentIndex,
		RemainingSec: remaining,
		UpdatedAt:    now,
	}
	if err := o.store.SetTimerState(ctx, roomID, next); err != nil {
		return err
	}

	if err := o.bus.PublishStateChanged(ctx, roomID, next); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to publish state change")
	}

	// Cancel against the index read from the live timer state, not the
	// possibly stale room row, so a racing transition never loses the
	// wrong job.
	if err := o.queue.Cancel(ctx, roomID, st.CurrentIndex); err != nil {
		return err
	}

	log.Info().
		Str("room_id", roomID.String()).
		Int("index", st.CurrentIndex).
		Int("remaining_sec", remaining).
		Msg("segment paused")
	return nil
}

// Skip advances the index immediately without waiting for the timer and
// leaves the new segment idle; an explicit start is required unless
// AutoContinue is configured. Skipping past the last segment ends the room.
func (o *Orchestrator) Skip(ctx context.Context, roomID uuid.UUID) error {
	room, err := o.repo.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}

	segments, err := o.repo.ListSegments(ctx, roomID)
	if err != nil {
		return err
	}

	st, err := o.store.TimerState(ctx, roomID)
	if err != nil {
		return err
	}

	oldIndex := room.CurrentSegmentIndex
	if st != nil {
		oldIndex = st.CurrentIndex
	}

	nextIndex := oldIndex + 1
	status := models.RoomStatusIdle
	if nextIndex >= len(segments) {
		nextIndex = len(segments)
		status = models.RoomStatusEnded
	}

	if err := o.repo.UpdateRoomProgress(ctx, roomID, status, nextIndex); err != nil {
		return err
	}

	now := o.clock.Now()
	next := &models.TimerState{
		Status:       status,
		CurrentIndex: nextIndex,
		UpdatedAt:    now,
	}
	if err := o.store.SetTimerState(ctx, roomID, next); err != nil {
		return err
	}

	if err := o.bus.PublishStateChanged(ctx, roomID, next); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to publish state change")
	}

	if err := o.queue.Cancel(ctx, roomID, oldIndex); err != nil {
		return err
	}

	log.Info().
		Str("room_id", roomID.String()).
		Int("old_index", oldIndex).
		Int("new_index", nextIndex).
		Str("status", string(status)).
		Msg("segment skipped")

	if o.cfg.AutoContinue && status == models.RoomStatusIdle {
		return o.Start(ctx, roomID)
	}
	return nil
}

func (o *Orchestrator) nudge() {
	if o.wake != nil {
		o.wake()
	}
}
