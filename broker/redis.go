package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/samber/oops"
)

const (
	publishMaxRetries     = 3
	publishInitialBackoff = 100 * time.Millisecond
	publishMaxBackoff     = 5 * time.Second

	dialTimeout = 5 * time.Second
)

// RedisClient implements Client on Redis pub/sub.
type RedisClient struct {
	rdb *redis.Client
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(addr string) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, oops.Code("BROKER_CONNECT_FAILED").With("addr", addr).Wrap(err)
	}

	return &RedisClient{rdb: rdb}, nil
}

// Publish sends payload to topic, retrying transient failures with
// exponential backoff before giving up.
func (c *RedisClient) Publish(ctx context.Context, topic, payload string) error {
	operation := func() error {
		return c.rdb.Publish(ctx, topic, payload).Err()
	}

	strategy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(publishInitialBackoff),
				backoff.WithMaxInterval(publishMaxBackoff),
			),
			publishMaxRetries,
		),
		ctx,
	)

	return backoff.RetryNotify(operation, strategy, func(err error, d time.Duration) {
		slog.Warn("retrying broker publish", "topic", topic, "error", err, "next_attempt_in", d)
	})
}

// PSubscribe opens a pattern subscription and confirms it with the server.
func (c *RedisClient) PSubscribe(ctx context.Context, pattern string) (Subscription, error) {
	pubsub := c.rdb.PSubscribe(ctx, pattern)

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, oops.Code("BROKER_SUBSCRIBE_FAILED").With("pattern", pattern).Wrap(err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		frames: make(chan Message),
	}
	go sub.pump(ctx)

	return sub, nil
}

// Redis exposes the underlying client so other Redis-backed components
// can share the connection pool.
func (c *RedisClient) Redis() *redis.Client {
	return c.rdb
}

// Ping verifies broker liveness.
func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return oops.Code("BROKER_PING_FAILED").Wrap(err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *RedisClient) Close() error {
	return c.rdb.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	frames chan Message
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.frames
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}

// pump converts go-redis messages into broker frames until the
// subscription closes or ctx is cancelled.
func (s *redisSubscription) pump(ctx context.Context) {
	defer close(s.frames)

	in := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}

			frameType := TypeMessage
			if msg.Pattern != "" {
				frameType = TypePatternMessage
			}

			frame := Message{Type: frameType, Topic: msg.Channel, Payload: msg.Payload}
			select {
			case s.frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}
}
