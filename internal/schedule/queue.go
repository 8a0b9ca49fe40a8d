package schedule

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/valkey-io/valkey-go"
)

const queueKey = "focusroom:schedule"

// claimScript atomically pops every due member so that exactly one instance
// claims a given firing even though all instances poll the same set.
var claimScript = valkey.NewLuaScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
if #due > 0 then
    redis.call('ZREM', KEYS[1], unpack(due))
end
return due
`)

// Queue is the delayed job queue for segment-end transitions, backed by a
// shared sorted set scored by fire time in epoch milliseconds.
type Queue struct {
	client valkey.Client
	clock  clockwork.Clock
}

func NewQueue(client valkey.Client, clock clockwork.Clock) *Queue {
	return &Queue{client: client, clock: clock}
}

// Schedule enqueues the transition for (roomID, index) after delay. ZADD on
// an existing member replaces its score, which is exactly the "cancel any
// prior job for this index first" semantics idempotent re-scheduling needs.
func (q *Queue) Schedule(ctx context.Context, roomID uuid.UUID, index int, delay time.Duration) error {
	job := Job{RoomID: roomID, ExpectedIndex: index}
	fireAt := q.clock.Now().Add(delay).UnixMilli()

	err := q.client.Do(ctx, q.client.B().Zadd().Key(queueKey).
		ScoreMember().ScoreMember(float64(fireAt), job.Member()).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", job.Member(), err)
	}
	return nil
}

// Cancel removes the pending transition for (roomID, index). Canceling a job
// that already fired or never existed is a no-op.
func (q *Queue) Cancel(ctx context.Context, roomID uuid.UUID, index int) error {
	job := Job{RoomID: roomID, ExpectedIndex: index}
	err := q.client.Do(ctx, q.client.B().Zrem().Key(queueKey).Member(job.Member()).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", job.Member(), err)
	}
	return nil
}

// ClaimDue pops up to limit jobs whose fire time has passed. Members that no
// longer parse are dropped rather than poisoning the loop.
func (q *Queue) ClaimDue(ctx context.Context, limit int) ([]Job, error) {
	now := strconv.FormatInt(q.clock.Now().UnixMilli(), 10)
	members, err := claimScript.Exec(ctx, q.client,
		[]string{queueKey}, []string{now, strconv.Itoa(limit)}).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to claim due jobs: %w", err)
	}

	jobs := make([]Job, 0, len(members))
	for _, m := range members {
		job, err := ParseJob(m)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// NextDue returns the earliest pending fire time, or nil when the queue is empty.
func (q *Queue) NextDue(ctx context.Context) (*time.Time, error) {
	scores, err := q.client.Do(ctx, q.client.B().Zrange().
		Key(queueKey).Min("0").Max("0").Withscores().Build()).AsZScores()
	if err != nil {
		return nil, fmt.Errorf("failed to peek next due job: %w", err)
	}
	if len(scores) == 0 {
		return nil, nil
	}

	t := time.UnixMilli(int64(scores[0].Score))
	return &t, nil
}

// Retry re-enqueues a claimed job after a failure. NX keeps a fresh schedule
// written in the meantime (a pause/start race) from being clobbered by the
// retry of a stale attempt.
func (q *Queue) Retry(ctx context.Context, job Job, backoff time.Duration) error {
	fireAt := q.clock.Now().Add(backoff).UnixMilli()
	err := q.client.Do(ctx, q.client.B().Zadd().Key(queueKey).Nx().
		ScoreMember().ScoreMember(float64(fireAt), job.Member()).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to retry job %s: %w", job.Member(), err)
	}
	return nil
}
