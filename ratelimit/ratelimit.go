// Package ratelimit bounds event rates per identity with a sliding
// window, backed by a shared Redis counter when available and an
// in-process window otherwise.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of one rate check.
type Result struct {
	// Count is the number of events in the window, including the one
	// just recorded.
	Count int

	// Remaining is how many events are left before the limit, or -1
	// when the backing store was unreachable and the check degraded.
	Remaining int

	// Allowed is false once Count exceeds the limit. The event that
	// crosses the threshold is itself counted, so exactly limit events
	// succeed per window.
	Allowed bool

	// Degraded is true when the backing store failed and the check
	// failed open.
	Degraded bool
}

// Limiter records an event under key and reports whether it is within
// limit for the trailing window. Implementations never block the
// request path on backing-store failure; they fail open instead.
type Limiter interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) Result
}

func resolve(count, limit int) Result {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Count:     count,
		Remaining: remaining,
		Allowed:   count <= limit,
	}
}

func degraded() Result {
	return Result{Remaining: -1, Allowed: true, Degraded: true}
}
