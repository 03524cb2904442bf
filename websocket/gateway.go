package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hearthchat/hearth/auth"
	"github.com/hearthchat/hearth/observability"
	"github.com/hearthchat/hearth/ratelimit"
)

// rateLimitNotice is sent once before closing a connection that
// exceeded its message budget.
const rateLimitNotice = `{"error":"rate_limit_exceeded"}`

// TokenDecoder authenticates bearer tokens presented at connection
// time.
type TokenDecoder interface {
	Decode(token string) (auth.Claims, error)
}

// AuthorizeFunc decides whether a principal may join a room.
type AuthorizeFunc func(ctx context.Context, room, principalID string) bool

// GatewayConfig carries the per-connection protocol limits.
type GatewayConfig struct {
	MessagesPerWindow int
	Window            time.Duration
	MaxMessageBytes   int
}

// Gateway drives the per-connection protocol: authenticate, authorize,
// then pump inbound messages through size, rate, and shape checks into
// the bridge.
type Gateway struct {
	registry  *Registry
	bridge    *Bridge
	tokens    TokenDecoder
	limiter   ratelimit.Limiter
	authorize AuthorizeFunc
	metrics   *observability.Metrics
	cfg       GatewayConfig
}

// NewGateway creates a Gateway. authorize may be nil, allowing every
// authenticated principal into every room.
func NewGateway(
	registry *Registry,
	bridge *Bridge,
	tokens TokenDecoder,
	limiter ratelimit.Limiter,
	authorize AuthorizeFunc,
	metrics *observability.Metrics,
	cfg GatewayConfig,
) *Gateway {
	return &Gateway{
		registry:  registry,
		bridge:    bridge,
		tokens:    tokens,
		limiter:   limiter,
		authorize: authorize,
		metrics:   metrics,
		cfg:       cfg,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// HandleWebSocket serves GET /ws/{room}. The upgrade happens first so
// authentication failures can answer with a proper close code.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "room", room, "error", err)
		return
	}
	sock := NewGorillaSocket(wsConn)
	// Gorilla never closes the hijacked transport on its own; without
	// this, every disconnecting client leaks a socket in CLOSE_WAIT.
	defer func() { _ = wsConn.Close() }()

	claims, err := g.tokens.Decode(r.URL.Query().Get("token"))
	if err != nil {
		slog.Info("websocket authentication failed", "room", room, "error", err)
		_ = sock.Close(websocket.ClosePolicyViolation, "authentication failed")
		return
	}
	principal := claims.Subject

	if g.authorize != nil && !g.authorize(r.Context(), room, principal) {
		slog.Info("room access denied", "room", room, "user_id", principal)
		_ = sock.Close(websocket.CloseUnsupportedData, "room access denied")
		return
	}

	conn := NewConnection(sock)
	g.registry.Accept(conn, room, principal)
	g.registry.Track()

	var removeOnce sync.Once
	remove := func() {
		removeOnce.Do(func() {
			g.registry.Remove(conn)
			g.registry.Done()
		})
	}
	defer remove()
	defer func() {
		// Nothing from a single connection may take the process down.
		if p := recover(); p != nil {
			slog.Error("panic in connection loop", "room", room, "conn_id", conn.ID, "panic", p)
		}
	}()

	g.readLoop(wsConn, conn)
}

// readLoop pumps inbound frames until the transport closes or the
// connection is terminated for a protocol violation. Publishing inline
// keeps one sender's messages ordered.
func (g *Gateway) readLoop(wsConn *websocket.Conn, conn *Connection) {
	// Detached from the request: the socket outlives the HTTP
	// handshake's context.
	ctx := context.Background()
	limitKey := conn.UserID + ":" + conn.Room

	for {
		msgType, payload, err := wsConn.ReadMessage()
		if err != nil {
			slog.Debug("connection read ended", "conn_id", conn.ID, "error", err)
			return
		}
		if msgType != websocket.TextMessage {
			g.metrics.DroppedFrames.WithLabelValues("non_text").Inc()
			continue
		}
		if len(payload) > g.cfg.MaxMessageBytes {
			g.metrics.DroppedFrames.WithLabelValues("oversize").Inc()
			continue
		}

		res := g.limiter.Check(ctx, limitKey, g.cfg.MessagesPerWindow, g.cfg.Window)
		if !res.Allowed {
			slog.Info("rate limit exceeded", "conn_id", conn.ID, "user_id", conn.UserID, "count", res.Count)
			_ = conn.WriteText([]byte(rateLimitNotice))
			_ = conn.Close(websocket.CloseInternalServerErr, "rate limit exceeded")
			return
		}

		out, ok := buildOutbound(payload, conn.UserID, time.Now())
		if !ok {
			g.metrics.DroppedFrames.WithLabelValues("malformed").Inc()
			continue
		}

		g.metrics.MessagesIn.Inc()
		g.bridge.Publish(ctx, conn.Room, string(out))
	}
}

// buildOutbound validates the inbound frame shape, sanitizes the text,
// and stamps sender identity and server time. ok is false for any
// frame that is not a JSON object with a string "text" field.
func buildOutbound(payload []byte, userID string, now time.Time) ([]byte, bool) {
	var msg map[string]any
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, false
	}
	text, ok := msg["text"].(string)
	if !ok {
		return nil, false
	}

	msg["text"] = SanitizeText(text)
	msg["user_id"] = userID
	msg["timestamp"] = now.UTC().Format(time.RFC3339)

	out, err := json.Marshal(msg)
	if err != nil {
		return nil, false
	}
	return out, true
}

// SanitizeText escapes angle brackets so payloads cannot inject markup
// into a downstream renderer.
func SanitizeText(text string) string {
	text = strings.ReplaceAll(text, "<", "&lt;")
	return strings.ReplaceAll(text, ">", "&gt;")
}
