package main

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/valkey-io/valkey-go"

	"github.com/cowork-live/focusroom/internal/auth"
	"github.com/cowork-live/focusroom/internal/events"
	"github.com/cowork-live/focusroom/internal/gateway"
	"github.com/cowork-live/focusroom/internal/httpapi"
	"github.com/cowork-live/focusroom/internal/presence"
	"github.com/cowork-live/focusroom/internal/ratelimit"
	"github.com/cowork-live/focusroom/internal/rooms"
	"github.com/cowork-live/focusroom/internal/schedule"
	"github.com/cowork-live/focusroom/internal/state"
	"github.com/cowork-live/focusroom/internal/timer"
)

type Services struct {
	Bus       *events.Bus
	Scheduler *schedule.Scheduler
	Gateway   *gateway.Service
	API       *httpapi.Handler
}

func setupServices(cfg Config, pool *pgxpool.Pool, vk valkey.Client) (*Services, error) {
	clock := clockwork.NewRealClock()

	repo := rooms.NewRepository(pool)
	store := state.NewStore(vk)
	queue := schedule.NewQueue(vk, clock)

	bus, err := events.NewBus(cfg.NATSURL)
	if err != nil {
		return nil, err
	}

	orchestrator := timer.NewOrchestrator(repo, store, queue, bus, clock, timer.Config{
		AutoContinue: cfg.AutoContinue,
	})
	processor := timer.NewProcessor(repo, store, queue, bus, clock)
	scheduler := schedule.NewScheduler(queue, processor, clock)

	// Local schedule writes nudge the local scheduler loop so a segment due
	// in the next few seconds fires without waiting for a poll tick.
	orchestrator.SetWake(scheduler.Wake)
	processor.SetWake(scheduler.Wake)

	tracker := presence.NewTracker(store, repo, bus, queue, clock)
	tracker.SetGracePeriods(cfg.RoomGracePeriod, cfg.HostGracePeriod)

	issuer := auth.NewIssuer([]byte(cfg.TokenSecret), cfg.TokenTTL)
	snapshots := gateway.NewStateProvider(repo, store)

	gw := gateway.NewService(gateway.DefaultConnectionConfig(), tracker, orchestrator, issuer, repo, snapshots, bus)

	// Host failover consults live sockets on this instance in addition to
	// the shared presence set.
	tracker.SetLiveChecker(gw.ConnectionManager().HasLiveConnection)

	limiter := ratelimit.NewLimiter(ratelimit.NewValkeyCounters(vk))
	api := httpapi.NewHandler(repo, limiter, issuer, bus, snapshots)

	return &Services{
		Bus:       bus,
		Scheduler: scheduler,
		Gateway:   gw,
		API:       api,
	}, nil
}
