package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/valkey-io/valkey-go"
)

// hitScript increments and sets the expiry in one atomic step. Running it
// server-side avoids the check-then-increment race across processes.
var hitScript = valkey.NewLuaScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('EXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('TTL', KEYS[1])
return {count, ttl}
`)

// ValkeyCounters implements CounterStore on the shared key-value store.
type ValkeyCounters struct {
	client valkey.Client
}

func NewValkeyCounters(client valkey.Client) *ValkeyCounters {
	return &ValkeyCounters{client: client}
}

func (c *ValkeyCounters) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	windowSec := strconv.Itoa(int(window.Seconds()))
	values, err := hitScript.Exec(ctx, c.client, []string{key}, []string{windowSec}).ToArray()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to hit rate limit counter: %w", err)
	}
	if len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected rate limit script reply of length %d", len(values))
	}

	count, err := values[0].AsInt64()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode counter value: %w", err)
	}
	ttlSec, err := values[1].AsInt64()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode counter ttl: %w", err)
	}

	return count, time.Duration(ttlSec) * time.Second, nil
}
