package websocket

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hearthchat/hearth/broker"
	"github.com/hearthchat/hearth/observability"
)

const (
	// topicPrefix namespaces room traffic on the broker; one pattern
	// subscription covers every room.
	topicPrefix  = "ws:"
	topicPattern = topicPrefix + "*"

	startMaxAttempts      = 5
	defaultRetryBaseDelay = time.Second
)

// TopicForRoom maps a room name to its broker topic.
func TopicForRoom(room string) string {
	return topicPrefix + room
}

// RoomFromTopic recovers the room name from a broker topic. ok is
// false when the topic is not under the namespace.
func RoomFromTopic(topic string) (string, bool) {
	room, found := strings.CutPrefix(topic, topicPrefix)
	return room, found
}

// BridgeConfig carries Bridge tunables.
type BridgeConfig struct {
	// RetryBaseDelay is the first Start retry delay; it doubles on
	// each attempt. Zero means one second.
	RetryBaseDelay time.Duration
}

// Bridge keeps one pattern subscription to the broker and mirrors
// local publishes onto it, so every instance observes every message no
// matter which instance owns the origin connection. When the broker is
// unreachable it degrades to local-only fan-out instead of failing the
// process.
type Bridge struct {
	client    broker.Client
	registry  *Registry
	metrics   *observability.Metrics
	baseDelay time.Duration

	mu     sync.Mutex
	sub    broker.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBridge creates a stopped Bridge.
func NewBridge(client broker.Client, registry *Registry, metrics *observability.Metrics, cfg BridgeConfig) *Bridge {
	baseDelay := cfg.RetryBaseDelay
	if baseDelay == 0 {
		baseDelay = defaultRetryBaseDelay
	}
	return &Bridge{
		client:    client,
		registry:  registry,
		metrics:   metrics,
		baseDelay: baseDelay,
	}
}

// Start pings the broker, opens the pattern subscription, and launches
// the receive loop. Failures retry with the base delay doubling each
// attempt, at most five attempts in total; exhaustion logs and returns
// nil, leaving the bridge in local-only mode. Calling Start while
// running is a no-op.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done != nil {
		slog.Debug("bridge already started")
		return nil
	}

	attempt := func() error {
		b.metrics.BrokerRestarts.Inc()

		if err := b.client.Ping(ctx); err != nil {
			return err
		}
		sub, err := b.client.PSubscribe(ctx, topicPattern)
		if err != nil {
			return err
		}
		b.sub = sub
		return nil
	}

	strategy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(b.baseDelay),
				backoff.WithMultiplier(2),
				backoff.WithRandomizationFactor(0),
				backoff.WithMaxInterval(b.baseDelay<<startMaxAttempts),
				backoff.WithMaxElapsedTime(0),
			),
			startMaxAttempts-1,
		),
		ctx,
	)

	err := backoff.RetryNotify(attempt, strategy, func(err error, d time.Duration) {
		slog.Warn("bridge start attempt failed", "error", err, "next_attempt_in", d)
	})
	if err != nil {
		slog.Warn("bridge failed to start, continuing without broker fan-out", "error", err)
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.receiveLoop(loopCtx, b.sub, b.done)

	slog.Info("bridge subscribed", "pattern", topicPattern)
	return nil
}

// Publish mirrors payload onto the room's broker topic; the broker
// then fans it back to every subscribed instance, this one included.
// Without a live subscription the payload goes straight to the local
// registry. Errors are logged, never returned.
func (b *Bridge) Publish(ctx context.Context, room, payload string) {
	b.mu.Lock()
	running := b.done != nil
	b.mu.Unlock()

	if !running {
		b.registry.BroadcastLocal(room, []byte(payload))
		return
	}

	if err := b.client.Publish(ctx, TopicForRoom(room), payload); err != nil {
		slog.Warn("broker publish failed", "room", room, "error", err)
	}
}

// Stop cancels the receive loop, waits for it to exit, and closes the
// subscription. Idempotent; after Stop returns no further local
// broadcasts originate from the bridge.
func (b *Bridge) Stop() {
	b.mu.Lock()
	cancel, done, sub := b.cancel, b.done, b.sub
	b.cancel, b.done, b.sub = nil, nil, nil
	b.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done

	if sub != nil {
		if err := sub.Close(); err != nil {
			slog.Debug("error closing broker subscription", "error", err)
		}
	}
	slog.Info("bridge stopped")
}

// receiveLoop forwards broker frames to the local registry until the
// context is cancelled or the subscription ends. It does not restart
// itself; the owner calls Start again if it wants one.
func (b *Bridge) receiveLoop(ctx context.Context, sub broker.Subscription, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			slog.Info("bridge receive loop cancelled")
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				slog.Warn("broker subscription closed, bridge receive loop exiting")
				return
			}

			if msg.Type != broker.TypeMessage && msg.Type != broker.TypePatternMessage {
				continue
			}
			room, ok := RoomFromTopic(msg.Topic)
			if !ok {
				continue
			}

			b.registry.BroadcastLocal(room, []byte(msg.Payload))
		}
	}
}
