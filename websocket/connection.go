package websocket

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Socket is the transport seam under a Connection. The gorilla adapter
// implements it in production; tests substitute fakes.
type Socket interface {
	WriteText(payload []byte) error
	Close(code int, reason string) error
}

// Connection is one live client session. The Registry owns it for its
// lifetime; the transport layer keeps a non-owning reference for
// sending.
type Connection struct {
	ID        string
	Room      string
	UserID    string
	CreatedAt time.Time

	mu   sync.Mutex
	sock Socket
}

// NewConnection wraps a socket in an unregistered Connection. Room and
// principal are assigned by Registry.Accept.
func NewConnection(sock Socket) *Connection {
	return &Connection{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		sock:      sock,
	}
}

// WriteText sends one text frame. Writes are serialized so concurrent
// broadcasts cannot interleave frames.
func (c *Connection) WriteText(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock.WriteText(payload)
}

// Close sends a close frame with the given code and tears the
// transport down.
func (c *Connection) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock.Close(code, reason)
}

// GorillaSocket adapts a gorilla connection to Socket.
type GorillaSocket struct {
	conn *websocket.Conn
}

// NewGorillaSocket creates a GorillaSocket.
func NewGorillaSocket(conn *websocket.Conn) *GorillaSocket {
	return &GorillaSocket{conn: conn}
}

// WriteText sends a text frame.
func (s *GorillaSocket) WriteText(payload []byte) error {
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close sends a close frame, then closes the underlying connection.
// The close frame is best effort; the peer may already be gone.
func (s *GorillaSocket) Close(code int, reason string) error {
	deadline := time.Now().Add(writeWait)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	return s.conn.Close()
}
