package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hearthchat/hearth/ratelimit"
)

func TestSlidingWindowAdmitsLimit(t *testing.T) {
	l := ratelimit.NewLocalLimiter()
	defer l.Close()
	ctx := context.Background()

	const limit = 5

	// Exactly limit events succeed; the crossing event is counted and
	// rejected.
	for i := 1; i <= limit; i++ {
		res := l.Check(ctx, "k", limit, time.Minute)
		assert.True(t, res.Allowed, "event %d should be allowed", i)
		assert.Equal(t, i, res.Count)
		assert.Equal(t, limit-i, res.Remaining)
	}

	res := l.Check(ctx, "k", limit, time.Minute)
	assert.False(t, res.Allowed)
	assert.Equal(t, limit+1, res.Count)
	assert.Equal(t, 0, res.Remaining)
}

func TestSlidingWindowEviction(t *testing.T) {
	l := ratelimit.NewLocalLimiter()
	defer l.Close()
	ctx := context.Background()

	const (
		limit  = 3
		window = 200 * time.Millisecond
	)

	for i := 0; i < limit; i++ {
		l.Check(ctx, "k", limit, window)
	}

	time.Sleep(window + 50*time.Millisecond)

	// All earlier events fell out of the window; the new event counts
	// as the first.
	res := l.Check(ctx, "k", limit, window)
	assert.Equal(t, 1, res.Count)
	assert.True(t, res.Allowed)
}

func TestKeysAreIndependent(t *testing.T) {
	l := ratelimit.NewLocalLimiter()
	defer l.Close()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		l.Check(ctx, "a", 2, time.Minute)
	}

	res := l.Check(ctx, "b", 2, time.Minute)
	assert.Equal(t, 1, res.Count)
	assert.True(t, res.Allowed)
}
