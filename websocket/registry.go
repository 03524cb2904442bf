// Package websocket implements the real-time fan-out layer: the
// process-local connection registry, the broker bridge that mirrors
// room traffic across instances, and the per-connection session
// gateway.
package websocket

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/hearthchat/hearth/observability"
)

// Registry tracks live connections per room and broadcasts to local
// members. The mutex guards structural mutation only, never sends, so
// a slow client cannot block joins and leaves.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]map[*Connection]struct{}
	wg    sync.WaitGroup

	metrics *observability.Metrics
}

// NewRegistry creates an empty Registry.
func NewRegistry(metrics *observability.Metrics) *Registry {
	return &Registry{
		rooms:   make(map[string]map[*Connection]struct{}),
		metrics: metrics,
	}
}

// Accept registers conn under room on behalf of principalID. The
// transport handshake has already happened by the time a Connection
// exists, so this is a pure (and idempotent) insert.
func (r *Registry) Accept(conn *Connection, room, principalID string) {
	conn.Room = room
	conn.UserID = principalID

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.rooms[room]
	if !ok {
		set = make(map[*Connection]struct{})
		r.rooms[room] = set
	}
	if _, present := set[conn]; present {
		return
	}
	set[conn] = struct{}{}
	r.metrics.ActiveConnections.Inc()

	slog.Info("connection joined room", "room", room, "conn_id", conn.ID, "user_id", principalID, "members", len(set))
}

// Remove discards conn from its room, deleting the room entry when the
// set empties. No-op if the connection is not registered.
func (r *Registry) Remove(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.rooms[conn.Room]
	if !ok {
		return
	}
	if _, present := set[conn]; !present {
		return
	}

	delete(set, conn)
	if len(set) == 0 {
		delete(r.rooms, conn.Room)
	}
	r.metrics.ActiveConnections.Dec()

	slog.Info("connection left room", "room", conn.Room, "conn_id", conn.ID, "members", len(set))
}

// BroadcastLocal sends payload to every connection registered under
// room when the member list is snapshotted. A failing connection is
// logged and removed; it never blocks delivery to the others and no
// error escapes.
func (r *Registry) BroadcastLocal(room string, payload []byte) {
	r.mu.Lock()
	members := make([]*Connection, 0, len(r.rooms[room]))
	for conn := range r.rooms[room] {
		members = append(members, conn)
	}
	r.mu.Unlock()

	for _, conn := range members {
		if err := conn.WriteText(payload); err != nil {
			slog.Warn("send failed, dropping connection", "room", room, "conn_id", conn.ID, "error", err)
			r.Remove(conn)
			continue
		}
		r.metrics.MessagesOut.Inc()
	}
}

// SendDirect unicasts payload to one connection, propagating the
// transport error to the caller.
func (r *Registry) SendDirect(conn *Connection, payload []byte) error {
	return conn.WriteText(payload)
}

// RoomSize returns the member count for room and whether the room key
// exists at all.
func (r *Registry) RoomSize(room string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.rooms[room]
	return len(set), ok
}

// Track marks the start of a per-connection task for shutdown draining.
func (r *Registry) Track() {
	r.wg.Add(1)
}

// Done marks the end of a per-connection task.
func (r *Registry) Done() {
	r.wg.Done()
}

// Wait blocks until all tracked connection tasks finish.
func (r *Registry) Wait() {
	r.wg.Wait()
}

// CloseAll closes every registered connection with a going-away code
// and empties the registry. Used during shutdown.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	var all []*Connection
	for _, set := range r.rooms {
		for conn := range set {
			all = append(all, conn)
		}
	}
	r.rooms = make(map[string]map[*Connection]struct{})
	r.metrics.ActiveConnections.Sub(float64(len(all)))
	r.mu.Unlock()

	for _, conn := range all {
		if err := conn.Close(websocket.CloseGoingAway, reason); err != nil {
			slog.Debug("error closing connection", "conn_id", conn.ID, "error", err)
		}
	}
}
