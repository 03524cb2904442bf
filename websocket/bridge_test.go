package websocket_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthchat/hearth/broker"
	"github.com/hearthchat/hearth/observability"
	"github.com/hearthchat/hearth/websocket"
)

// fakeBroker is an in-process broker.Client. Published payloads loop
// back to every open subscription as pattern messages, mimicking a
// broker echoing to the publishing instance.
type fakeBroker struct {
	mu           sync.Mutex
	subs         []*fakeSub
	pings        int
	pingErr      error
	subscribeErr error
}

type fakeSub struct {
	frames chan broker.Message
	once   sync.Once
}

func (s *fakeSub) Messages() <-chan broker.Message { return s.frames }

func (s *fakeSub) Close() error {
	s.once.Do(func() { close(s.frames) })
	return nil
}

func (b *fakeBroker) Publish(_ context.Context, topic, payload string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		sub.frames <- broker.Message{Type: broker.TypePatternMessage, Topic: topic, Payload: payload}
	}
	return nil
}

func (b *fakeBroker) PSubscribe(context.Context, string) (broker.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}
	sub := &fakeSub{frames: make(chan broker.Message, 16)}
	b.subs = append(b.subs, sub)
	return sub, nil
}

func (b *fakeBroker) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pings++
	return b.pingErr
}

func (b *fakeBroker) Close() error { return nil }

func (b *fakeBroker) pingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pings
}

// inject delivers a raw frame to every subscription, bypassing Publish.
func (b *fakeBroker) inject(msg broker.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		sub.frames <- msg
	}
}

func TestTopicRoundTrip(t *testing.T) {
	topic := websocket.TopicForRoom("lobby")
	assert.Equal(t, "ws:lobby", topic)

	room, ok := websocket.RoomFromTopic(topic)
	require.True(t, ok)
	assert.Equal(t, "lobby", room)

	_, ok = websocket.RoomFromTopic("other-namespace:lobby")
	assert.False(t, ok)
}

func TestBridge_PublishLoopsBackToRoom(t *testing.T) {
	reg := newTestRegistry()
	fb := &fakeBroker{}
	bridge := websocket.NewBridge(fb, reg, observability.NewTestMetrics(), websocket.BridgeConfig{RetryBaseDelay: time.Millisecond})

	require.NoError(t, bridge.Start(context.Background()))
	defer bridge.Stop()

	inRoom := &fakeSocket{}
	elsewhere := &fakeSocket{}
	reg.Accept(websocket.NewConnection(inRoom), "lobby", "a")
	reg.Accept(websocket.NewConnection(elsewhere), "other", "b")

	bridge.Publish(context.Background(), "lobby", `{"text":"hi"}`)

	require.Eventually(t, func() bool {
		return inRoom.writeCount() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte(`{"text":"hi"}`), inRoom.lastWrite())
	assert.Zero(t, elsewhere.writeCount())
}

func TestBridge_IgnoresControlAndForeignFrames(t *testing.T) {
	reg := newTestRegistry()
	fb := &fakeBroker{}
	bridge := websocket.NewBridge(fb, reg, observability.NewTestMetrics(), websocket.BridgeConfig{RetryBaseDelay: time.Millisecond})

	require.NoError(t, bridge.Start(context.Background()))
	defer bridge.Stop()

	sock := &fakeSocket{}
	reg.Accept(websocket.NewConnection(sock), "lobby", "a")

	fb.inject(broker.Message{Type: "psubscribe", Topic: "ws:*", Payload: "1"})
	fb.inject(broker.Message{Type: broker.TypePatternMessage, Topic: "notifications:lobby", Payload: "x"})
	fb.inject(broker.Message{Type: broker.TypePatternMessage, Topic: websocket.TopicForRoom("lobby"), Payload: "keep"})

	require.Eventually(t, func() bool {
		return sock.writeCount() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("keep"), sock.lastWrite())
}

func TestBridge_StartGivesUpAfterFiveAttempts(t *testing.T) {
	reg := newTestRegistry()
	fb := &fakeBroker{pingErr: errors.New("connection refused")}
	bridge := websocket.NewBridge(fb, reg, observability.NewTestMetrics(), websocket.BridgeConfig{RetryBaseDelay: time.Millisecond})

	err := bridge.Start(context.Background())

	// Startup failure degrades to local-only mode instead of erroring.
	require.NoError(t, err)
	assert.Equal(t, 5, fb.pingCount())
}

func TestBridge_DegradedPublishDeliversLocally(t *testing.T) {
	reg := newTestRegistry()
	fb := &fakeBroker{pingErr: errors.New("connection refused")}
	bridge := websocket.NewBridge(fb, reg, observability.NewTestMetrics(), websocket.BridgeConfig{RetryBaseDelay: time.Millisecond})
	require.NoError(t, bridge.Start(context.Background()))

	sock := &fakeSocket{}
	reg.Accept(websocket.NewConnection(sock), "lobby", "a")

	require.NotPanics(t, func() {
		bridge.Publish(context.Background(), "lobby", "local delivery")
	})
	assert.Equal(t, 1, sock.writeCount())
	assert.Equal(t, []byte("local delivery"), sock.lastWrite())
}

func TestBridge_StartWhileRunningIsNoOp(t *testing.T) {
	reg := newTestRegistry()
	fb := &fakeBroker{}
	bridge := websocket.NewBridge(fb, reg, observability.NewTestMetrics(), websocket.BridgeConfig{RetryBaseDelay: time.Millisecond})

	require.NoError(t, bridge.Start(context.Background()))
	defer bridge.Stop()

	require.NoError(t, bridge.Start(context.Background()))
	assert.Equal(t, 1, fb.pingCount())
}

func TestBridge_StopIsIdempotentAndHaltsDelivery(t *testing.T) {
	reg := newTestRegistry()
	fb := &fakeBroker{}
	bridge := websocket.NewBridge(fb, reg, observability.NewTestMetrics(), websocket.BridgeConfig{RetryBaseDelay: time.Millisecond})

	require.NoError(t, bridge.Start(context.Background()))

	sock := &fakeSocket{}
	reg.Accept(websocket.NewConnection(sock), "lobby", "a")

	bridge.Stop()
	require.NotPanics(t, bridge.Stop)

	// With the subscription gone, Publish falls back to direct local
	// delivery rather than dropping the message.
	bridge.Publish(context.Background(), "lobby", "after stop")
	assert.Equal(t, 1, sock.writeCount())
	assert.Equal(t, []byte("after stop"), sock.lastWrite())

	// Stop without Start is also safe.
	fresh := websocket.NewBridge(fb, reg, observability.NewTestMetrics(), websocket.BridgeConfig{})
	require.NotPanics(t, fresh.Stop)
}
