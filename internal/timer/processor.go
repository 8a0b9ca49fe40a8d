package timer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/cowork-live/focusroom/internal/models"
	"github.com/cowork-live/focusroom/internal/rooms"
)

// Processor applies scheduled segment-end transitions. Jobs arrive
// at-least-once and possibly late; steps 1-3 are read-only guards, so a
// duplicate or stale delivery converges to a silent drop.
type Processor struct {
	repo  RoomRepo
	store StateStore
	queue JobQueue
	bus   Publisher
	clock clockwork.Clock

	wake func()
}

func NewProcessor(repo RoomRepo, store StateStore, queue JobQueue, bus Publisher, clock clockwork.Clock) *Processor {
	return &Processor{
		repo:  repo,
		store: store,
		queue: queue,
		bus:   bus,
		clock: clock,
	}
}

// SetWake installs a callback invoked after rescheduling the next segment.
func (p *Processor) SetWake(wake func()) {
	p.wake = wake
}

// ProcessDue handles a claimed (roomID, expectedIndex) job.
//
// Guard chain: missing room means the room was deleted; a non-running timer
// means a pause or skip superseded this job; an index mismatch means the job
// is stale. All three drop silently; staleness is the mechanism here, not a
// failure. Only a job that passes all guards is the authoritative transition.
func (p *Processor) ProcessDue(ctx context.Context, roomID uuid.UUID, expectedIndex int) error {
	if _, err := p.repo.GetRoom(ctx, roomID); err != nil {
		if errors.Is(err, rooms.ErrRoomNotFound) {
			log.Debug().Str("room_id", roomID.String()).Msg("job for deleted room, dropping")
			return nil
		}
		return err
	}

	st, err := p.store.TimerState(ctx, roomID)
	if err != nil {
		return err
	}
	if st == nil || st.Status != models.RoomStatusRunning {
		log.Debug().Str("room_id", roomID.String()).Msg("timer not running, dropping superseded job")
		return nil
	}
	if st.CurrentIndex != expectedIndex {
		log.Debug().
			Str("room_id", roomID.String()).
			Int("expected_index", expectedIndex).
			Int("current_index", st.CurrentIndex).
			Msg("stale job, dropping")
		return nil
	}

	segments, err := p.repo.ListSegments(ctx, roomID)
	if err != nil {
		return err
	}

	now := p.clock.Now()
	nextIndex := expectedIndex + 1

	if nextIndex < len(segments) {
		durationSec := segments[nextIndex].DurationSec
		endsAt := now.Add(time.Duration(durationSec) * time.Second).UnixMilli()

		if err := p.repo.UpdateRoomProgress(ctx, roomID, models.RoomStatusRunning, nextIndex); err != nil {
			return err
		}

		next := &models.TimerState{
			Status:        models.RoomStatusRunning,
			CurrentIndex:  nextIndex,
			SegmentEndsAt: &endsAt,
			UpdatedAt:     now,
		}
		if err := p.store.SetTimerState(ctx, roomID, next); err != nil {
			return err
		}

		if err := p.bus.PublishStateChanged(ctx, roomID, next); err != nil {
			log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to publish state change")
		}

		if err := p.queue.Schedule(ctx, roomID, nextIndex, time.Duration(durationSec)*time.Second); err != nil {
			return err
		}
		if p.wake != nil {
			p.wake()
		}

		log.Info().
			Str("room_id", roomID.String()).
			Int("index", nextIndex).
			Int("duration_sec", durationSec).
			Msg("advanced to next segment")
		return nil
	}

	// Queue exhausted: the room ends.
	if err := p.repo.UpdateRoomProgress(ctx, roomID, models.RoomStatusEnded, nextIndex); err != nil {
		return err
	}

	terminal := &models.TimerState{
		Status:       models.RoomStatusEnded,
		CurrentIndex: nextIndex,
		UpdatedAt:    now,
	}
	if err := p.store.SetTimerState(ctx, roomID, terminal); err != nil {
		return err
	}

	if err := p.bus.PublishStateChanged(ctx, roomID, terminal); err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to publish state change")
	}

	log.Info().Str("room_id", roomID.String()).Msg("room ended")
	return nil
}
