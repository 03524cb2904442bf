// Package broker abstracts the pub/sub backbone that fans messages out
// across process instances.
package broker

import (
	"context"
)

// Frame types delivered by the backend. Anything else is a control
// frame (subscription confirmations and the like).
const (
	TypeMessage        = "message"
	TypePatternMessage = "pmessage"
)

// Message is one event received from the broker.
type Message struct {
	Type    string
	Topic   string
	Payload string
}

// Subscription is a live pattern subscription.
type Subscription interface {
	// Messages returns the stream of broker frames. The channel is
	// closed when the subscription ends.
	Messages() <-chan Message

	Close() error
}

// Client is the capability set every broker implementation, including
// test doubles, must satisfy.
type Client interface {
	// Publish sends payload to a topic. Safe for concurrent use.
	Publish(ctx context.Context, topic, payload string) error

	// PSubscribe opens a single subscription matching every topic
	// under the given pattern.
	PSubscribe(ctx context.Context, pattern string) (Subscription, error)

	// Ping verifies broker liveness.
	Ping(ctx context.Context) error

	Close() error
}
