package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Processor applies a claimed segment-end transition. Delivery is
// at-least-once: the processor must treat duplicate and late jobs as no-ops.
type Processor interface {
	ProcessDue(ctx context.Context, roomID uuid.UUID, expectedIndex int) error
}

// JobQueue is the part of Queue the scheduler loop needs; tests substitute an
// in-memory implementation.
type JobQueue interface {
	ClaimDue(ctx context.Context, limit int) ([]Job, error)
	NextDue(ctx context.Context) (*time.Time, error)
	Retry(ctx context.Context, job Job, backoff time.Duration) error
}

// Scheduler sleeps until the next deadline, claims due jobs and feeds them to
// a worker pool. Every instance runs one; the atomic claim in the shared
// queue decides which instance applies a given transition.
type Scheduler struct {
	queue      JobQueue
	processor  Processor
	clock      clockwork.Clock
	batchSize  int
	numWorkers int
	retryDelay time.Duration
	instanceID string

	wakeCh chan struct{}
	workCh chan Job

	// Track in-flight work to prevent this instance processing the same
	// job twice when claims and retries interleave.
	inFlight   map[string]bool
	inFlightMu sync.Mutex
}

const (
	idlePollDuration  = 5 * time.Second
	defaultBatchSize  = 32
	defaultNumWorkers = 8
	defaultRetryDelay = 2 * time.Second
)

func NewScheduler(queue JobQueue, processor Processor, clock clockwork.Clock) *Scheduler {
	return &Scheduler{
		queue:      queue,
		processor:  processor,
		clock:      clock,
		batchSize:  defaultBatchSize,
		numWorkers: defaultNumWorkers,
		retryDelay: defaultRetryDelay,
		instanceID: uuid.New().String()[:8],
		wakeCh:     make(chan struct{}, 1),
		workCh:     make(chan Job, defaultNumWorkers*2),
		inFlight:   make(map[string]bool),
	}
}

// Wake nudges the loop after a local schedule so a sooner deadline is picked
// up without waiting out the idle poll.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Run loops forever, sleeping until the next deadline and dispatching due
// jobs. It returns when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().Str("instance", s.instanceID).Int("workers", s.numWorkers).Msg("scheduler started")

	var wg sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	for i := 0; i < s.numWorkers; i++ {
		wg.Add(1)
		go s.worker(workerCtx, &wg, i)
	}

	defer func() {
		log.Info().Str("instance", s.instanceID).Msg("shutting down workers")
		cancelWorkers()
		close(s.workCh)
		wg.Wait()
		log.Info().Str("instance", s.instanceID).Msg("all workers shut down")
	}()

	timer := s.clock.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-s.wakeCh:
			log.Debug().Str("instance", s.instanceID).Msg("drained wake channel")
		default:
		}

		next, err := s.queue.NextDue(ctx)
		if err != nil {
			log.Error().Err(err).Str("instance", s.instanceID).Msg("error peeking next deadline")
			timer.Reset(time.Second)
			select {
			case <-timer.Chan():
				continue
			case <-ctx.Done():
				return nil
			}
		}

		if next == nil {
			timer.Reset(idlePollDuration)
			select {
			case <-timer.Chan():
				continue
			case <-ctx.Done():
				log.Info().Str("instance", s.instanceID).Msg("shutdown during idle")
				return nil
			case <-s.wakeCh:
				log.Debug().Str("instance", s.instanceID).Msg("woken up from idle")
				continue
			}
		}

		if wait := next.Sub(s.clock.Now()); wait > 0 {
			timer.Reset(wait)
			select {
			case <-timer.Chan():
			case <-ctx.Done():
				log.Info().Str("instance", s.instanceID).Msg("shutdown during wait")
				return nil
			case <-s.wakeCh:
				log.Debug().Str("instance", s.instanceID).Msg("woken up early, new sooner deadline")
				continue
			}
		}

		jobs, err := s.queue.ClaimDue(ctx, s.batchSize)
		if err != nil {
			log.Error().Err(err).Str("instance", s.instanceID).Msg("error claiming due jobs")
			timer.Reset(time.Second)
			select {
			case <-timer.Chan():
				continue
			case <-ctx.Done():
				return nil
			}
		}

		for _, job := range jobs {
			member := job.Member()
			s.inFlightMu.Lock()
			if s.inFlight[member] {
				s.inFlightMu.Unlock()
				log.Debug().Str("job", member).Str("instance", s.instanceID).Msg("skipping job already in flight")
				continue
			}
			s.inFlight[member] = true
			s.inFlightMu.Unlock()

			select {
			case <-ctx.Done():
				s.inFlightMu.Lock()
				delete(s.inFlight, member)
				s.inFlightMu.Unlock()
				log.Info().Str("instance", s.instanceID).Msg("shutdown while queueing jobs")
				return nil
			case s.workCh <- job:
				log.Debug().Str("job", member).Str("instance", s.instanceID).Msg("queued job for worker")
			}
		}
	}
}

// worker processes claimed jobs from the work channel. A failed job goes back
// to the queue; redelivery is safe because the processor's guards are
// read-only until the transition actually applies.
func (s *Scheduler) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-s.workCh:
			if !ok {
				return
			}

			if err := s.processor.ProcessDue(ctx, job.RoomID, job.ExpectedIndex); err != nil {
				log.Error().
					Err(err).
					Str("job", job.Member()).
					Str("instance", s.instanceID).
					Int("worker_id", workerID).
					Msg("transition failed, requeueing")
				if retryErr := s.queue.Retry(ctx, job, s.retryDelay); retryErr != nil {
					log.Error().Err(retryErr).Str("job", job.Member()).Msg("failed to requeue job")
				} else {
					// The loop peeked its deadline before this retry
					// landed; nudge it so redelivery follows the retry
					// delay instead of the idle poll.
					s.Wake()
				}
			}

			s.inFlightMu.Lock()
			delete(s.inFlight, job.Member())
			s.inFlightMu.Unlock()
		}
	}
}
