// Package ratelimit provides the shared counter-with-expiry primitive that
// guards chat, drawing and token-issuance endpoints across all instances.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Rule bounds an identifier to Max hits per Window.
type Rule struct {
	Max    int
	Window time.Duration
}

// Result reports the counter after a hit.
type Result struct {
	Count      int64
	RetryAfter time.Duration
}

// Error is surfaced to callers that exceeded a rule, with a retry hint.
type Error struct {
	RetryAfterSec int
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %ds", e.RetryAfterSec)
}

// CounterStore is the atomic increment-with-expiry primitive. Hit must set
// the expiry only on the first increment within the window, atomically, so
// concurrent processes never race a check against an increment.
type CounterStore interface {
	Hit(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

// Limiter enforces rules against the shared counter store. It fails open:
// when the store is unavailable the request proceeds, trading strictness for
// availability.
type Limiter struct {
	counters CounterStore
}

func NewLimiter(counters CounterStore) *Limiter {
	return &Limiter{counters: counters}
}

// Enforce counts one hit for identifier under rule. It returns *Error when
// the count exceeds rule.Max; any store failure is logged and allowed through.
func (l *Limiter) Enforce(ctx context.Context, identifier string, rule Rule) (Result, error) {
	count, ttl, err := l.counters.Hit(ctx, "ratelimit:"+identifier, rule.Window)
	if err != nil {
		log.Warn().Err(err).Str("identifier", identifier).Msg("rate limit store unavailable, failing open")
		return Result{}, nil
	}

	res := Result{Count: count, RetryAfter: ttl}
	if count > int64(rule.Max) {
		return res, &Error{RetryAfterSec: int(ttl.Seconds() + 0.999)}
	}
	return res, nil
}
