package websocket_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthchat/hearth/auth"
	"github.com/hearthchat/hearth/observability"
	"github.com/hearthchat/hearth/ratelimit"
	"github.com/hearthchat/hearth/websocket"
)

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "&lt;script&gt;alert(1)&lt;/script&gt;", websocket.SanitizeText("<script>alert(1)</script>"))
	assert.Equal(t, "plain text", websocket.SanitizeText("plain text"))

	// Escaping is stable: a second pass only touches fresh brackets.
	once := websocket.SanitizeText("a < b")
	assert.Equal(t, once, websocket.SanitizeText(once))
}

// gatewayHarness is a live gateway behind an httptest server with a
// loopback broker, so client frames travel the full publish path.
type gatewayHarness struct {
	t      *testing.T
	server *httptest.Server
	bridge *websocket.Bridge
	tokens *auth.Tokens
}

func newGatewayHarness(t *testing.T, cfg websocket.GatewayConfig, authorize websocket.AuthorizeFunc) *gatewayHarness {
	t.Helper()

	metrics := observability.NewTestMetrics()
	registry := websocket.NewRegistry(metrics)
	bridge := websocket.NewBridge(&fakeBroker{}, registry, metrics, websocket.BridgeConfig{RetryBaseDelay: time.Millisecond})
	require.NoError(t, bridge.Start(context.Background()))

	tokens := auth.NewTokens("gateway-test-secret")
	limiter := ratelimit.NewLocalLimiter()
	gateway := websocket.NewGateway(registry, bridge, tokens, limiter, authorize, metrics, cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{room}", gateway.HandleWebSocket)
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		server.Close()
		bridge.Stop()
		limiter.Close()
	})

	return &gatewayHarness{t: t, server: server, bridge: bridge, tokens: tokens}
}

// dial connects to room with a token for userID. Empty userID dials
// without a token.
func (h *gatewayHarness) dial(room, userID string) *gws.Conn {
	h.t.Helper()

	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws/" + room
	if userID != "" {
		token, err := h.tokens.Issue(userID, time.Minute)
		require.NoError(h.t, err)
		url += "?token=" + token
	}

	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *gws.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(payload, &msg))
	return msg
}

// expectSilence asserts that no frame arrives on conn within a short
// grace period.
func expectSilence(t *testing.T, conn *gws.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	netErr, ok := err.(interface{ Timeout() bool })
	require.True(t, ok, "expected a read timeout, got %v", err)
	assert.True(t, netErr.Timeout())
}

func expectClose(t *testing.T, conn *gws.Conn, code int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *gws.CloseError
		require.ErrorAs(t, err, &closeErr)
		assert.Equal(t, code, closeErr.Code)
		return
	}
}

func defaultGatewayConfig() websocket.GatewayConfig {
	return websocket.GatewayConfig{
		MessagesPerWindow: 100,
		Window:            time.Minute,
		MaxMessageBytes:   64 * 1024,
	}
}

func TestGateway_FanOutWithinRoom(t *testing.T) {
	h := newGatewayHarness(t, defaultGatewayConfig(), nil)

	alice := h.dial("lobby", "alice")
	bob := h.dial("lobby", "bob")
	carol := h.dial("other", "carol")
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, alice.WriteMessage(gws.TextMessage, []byte(`{"text":"hi"}`)))

	got := readJSON(t, bob)
	assert.Equal(t, "hi", got["text"])
	assert.Equal(t, "alice", got["user_id"])

	ts, ok := got["timestamp"].(string)
	require.True(t, ok)
	stamped, err := time.Parse(time.RFC3339, ts)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), stamped, 10*time.Second)

	// The sender hears its own message back; a foreign room does not.
	echo := readJSON(t, alice)
	assert.Equal(t, "hi", echo["text"])
	expectSilence(t, carol)
}

func TestGateway_SanitizesAndPreservesExtraFields(t *testing.T) {
	h := newGatewayHarness(t, defaultGatewayConfig(), nil)

	alice := h.dial("lobby", "alice")
	bob := h.dial("lobby", "bob")
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, alice.WriteMessage(gws.TextMessage, []byte(`{"text":"<b>bold</b>","client_ref":"r1"}`)))

	got := readJSON(t, bob)
	assert.Equal(t, "&lt;b&gt;bold&lt;/b&gt;", got["text"])
	assert.Equal(t, "r1", got["client_ref"])
}

func TestGateway_DropsMalformedAndOversizeFrames(t *testing.T) {
	cfg := defaultGatewayConfig()
	cfg.MaxMessageBytes = 128
	h := newGatewayHarness(t, cfg, nil)

	alice := h.dial("lobby", "alice")
	bob := h.dial("lobby", "bob")
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, alice.WriteMessage(gws.TextMessage, []byte(`not json`)))
	require.NoError(t, alice.WriteMessage(gws.TextMessage, []byte(`{"no_text_field":true}`)))
	require.NoError(t, alice.WriteMessage(gws.TextMessage, []byte(`{"text":42}`)))
	require.NoError(t, alice.WriteMessage(gws.TextMessage, []byte(`{"text":"`+strings.Repeat("a", 256)+`"}`)))

	// Drops are silent; the connection stays usable afterwards.
	require.NoError(t, alice.WriteMessage(gws.TextMessage, []byte(`{"text":"still here"}`)))
	got := readJSON(t, bob)
	assert.Equal(t, "still here", got["text"])
}

func countOpenFDs(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skipf("fd accounting unavailable: %v", err)
	}
	return len(entries)
}

func TestGateway_ReleasesSocketOnClientDisconnect(t *testing.T) {
	h := newGatewayHarness(t, defaultGatewayConfig(), nil)

	before := countOpenFDs(t)

	const cycles = 20
	for i := 0; i < cycles; i++ {
		url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws/lobby"
		token, err := h.tokens.Issue("alice", time.Minute)
		require.NoError(t, err)

		conn, _, err := gws.DefaultDialer.Dial(url+"?token="+token, nil)
		require.NoError(t, err)

		deadline := time.Now().Add(time.Second)
		require.NoError(t, conn.WriteControl(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseNormalClosure, ""), deadline))
		require.NoError(t, conn.Close())
	}

	// The handler closes the server-side socket when the read loop
	// ends, so the fd count settles back near the baseline instead of
	// growing by one per disconnected client.
	require.Eventually(t, func() bool {
		entries, err := os.ReadDir("/proc/self/fd")
		return err == nil && len(entries) <= before+3
	}, 5*time.Second, 50*time.Millisecond)
}

func TestGateway_RejectsBadToken(t *testing.T) {
	h := newGatewayHarness(t, defaultGatewayConfig(), nil)

	conn := h.dial("lobby", "")
	expectClose(t, conn, gws.ClosePolicyViolation)
}

func TestGateway_RejectsForbiddenRoom(t *testing.T) {
	authorize := func(_ context.Context, room, _ string) bool {
		return room != "staff"
	}
	h := newGatewayHarness(t, defaultGatewayConfig(), authorize)

	conn := h.dial("staff", "alice")
	expectClose(t, conn, gws.CloseUnsupportedData)
}

func TestGateway_RateLimitClosesConnection(t *testing.T) {
	cfg := defaultGatewayConfig()
	cfg.MessagesPerWindow = 2
	h := newGatewayHarness(t, cfg, nil)

	alice := h.dial("lobby", "alice")
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < 3; i++ {
		require.NoError(t, alice.WriteMessage(gws.TextMessage, []byte(`{"text":"spam"}`)))
	}

	// Drain echoes until the notice arrives, then expect the close.
	require.NoError(t, alice.SetReadDeadline(time.Now().Add(2*time.Second)))
	var sawNotice bool
	for {
		_, payload, err := alice.ReadMessage()
		if err != nil {
			var closeErr *gws.CloseError
			require.ErrorAs(t, err, &closeErr)
			assert.Equal(t, gws.CloseInternalServerErr, closeErr.Code)
			break
		}
		if strings.Contains(string(payload), "rate_limit_exceeded") {
			sawNotice = true
		}
	}
	assert.True(t, sawNotice)
}
