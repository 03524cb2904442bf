package ratelimit

import (
	"context"
	"sync"
	"time"
)

const janitorInterval = time.Minute

// keyWindow holds the event timestamps for one key together with the
// window length last used to check it, so the janitor never evicts
// events that are still inside a long window.
type keyWindow struct {
	stamps []time.Time
	window time.Duration
}

// LocalLimiter implements Limiter with in-process timestamp windows.
// It is the fallback when no shared counter store is configured, and
// backs the HTTP per-IP limiter.
type LocalLimiter struct {
	mu   sync.Mutex
	keys map[string]*keyWindow
	stop chan struct{}
	once sync.Once
}

// NewLocalLimiter creates a LocalLimiter and starts its janitor, which
// drops idle keys so the map cannot grow without bound.
func NewLocalLimiter() *LocalLimiter {
	l := &LocalLimiter{
		keys: make(map[string]*keyWindow),
		stop: make(chan struct{}),
	}
	go l.janitor()
	return l
}

// Check records an event under key and returns the window count.
func (l *LocalLimiter) Check(_ context.Context, key string, limit int, window time.Duration) Result {
	now := time.Now()
	cutoff := now.Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kw, ok := l.keys[key]
	if !ok {
		kw = &keyWindow{}
		l.keys[key] = kw
	}
	kw.window = window

	kept := kw.stamps[:0]
	for _, ts := range kw.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	kw.stamps = kept

	return resolve(len(kept), limit)
}

// Close stops the janitor. Safe to call more than once.
func (l *LocalLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *LocalLimiter) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep(time.Now())
		}
	}
}

// sweep drops keys whose newest event has aged out of both the key's
// own window and the janitor interval.
func (l *LocalLimiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, kw := range l.keys {
		idle := kw.window
		if idle < janitorInterval {
			idle = janitorInterval
		}
		if len(kw.stamps) == 0 || !kw.stamps[len(kw.stamps)-1].After(now.Add(-idle)) {
			delete(l.keys, key)
		}
	}
}
