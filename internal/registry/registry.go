// Package registry implements the Connection Registry: it tracks live worker
// and observer connections, classifies each by declared role, and maintains
// liveness via periodic ping/pong sweeps.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"
	"github.com/gorilla/websocket"
)

// Role classifies a connection at handshake time.
type Role string

// Recognized roles.
const (
	RoleWorker   Role = "worker"
	RoleObserver Role = "observer"
)

// DefaultLivenessPeriod is the interval between liveness sweeps (spec: 30s).
const DefaultLivenessPeriod = 30 * time.Second

// writeWait bounds how long a single control-frame write may block.
const writeWait = 5 * time.Second

// Connection is one live remote endpoint: either a worker that executes
// tasks, or an observer that passively receives progress broadcasts.
type Connection struct {
	ID       string
	Role     Role
	IsMobile bool

	conn    *websocket.Conn
	writeMu sync.Mutex
	alive   atomic.Bool
}

// Send writes a JSON message to this connection. Safe for concurrent use:
// gorilla/websocket requires a single writer at a time per connection, so
// sends are serialized behind writeMu.
func (c *Connection) Send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn.WriteJSON(v)
}

// ReadJSON blocks until the next frame arrives and decodes it into v.
func (c *Connection) ReadJSON(v any) error {
	return c.conn.ReadJSON(v)
}

// Close tears down the underlying socket.
func (c *Connection) Close() error {
	return c.conn.Close()
}

func (c *Connection) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Registry partitions live connections into worker and observer sets and
// runs the liveness protocol against all of them.
type Registry struct {
	mu        sync.RWMutex
	workers   map[string]*Connection
	observers map[string]*Connection

	livenessPeriod time.Duration
	log            *slog.Logger
}

// New creates an empty Registry. A nil logger falls back to slog.Default.
func New(livenessPeriod time.Duration, log *slog.Logger) *Registry {
	if livenessPeriod <= 0 {
		livenessPeriod = DefaultLivenessPeriod
	}

	if log == nil {
		log = slog.Default()
	}

	return &Registry{
		workers:        make(map[string]*Connection),
		observers:      make(map[string]*Connection),
		livenessPeriod: livenessPeriod,
		log:            log,
	}
}

// Accept registers a new connection under the given role and installs a
// pong handler that flips it back to alive. Returns the handle.
func (r *Registry) Accept(conn *websocket.Conn, role Role, isMobile bool) *Connection {
	id, err := uuid.NewV4()
	if err != nil {
		id = uuid.Must(uuid.NewV1())
	}

	handle := &Connection{
		ID:       id.String(),
		Role:     role,
		IsMobile: isMobile,
		conn:     conn,
	}
	handle.alive.Store(true)

	conn.SetPongHandler(func(string) error {
		handle.alive.Store(true)

		return nil
	})

	r.mu.Lock()
	defer r.mu.Unlock()

	switch role {
	case RoleObserver:
		r.observers[handle.ID] = handle
	case RoleWorker:
		fallthrough
	default:
		r.workers[handle.ID] = handle
	}

	r.log.Info("registry: connection accepted", "id", handle.ID, "role", role)

	return handle
}

// Drop removes a connection from whichever set holds it and closes it.
func (r *Registry) Drop(handle *Connection) {
	if handle == nil {
		return
	}

	r.mu.Lock()
	delete(r.workers, handle.ID)
	delete(r.observers, handle.ID)
	r.mu.Unlock()

	err := handle.Close()
	if err != nil {
		r.log.Debug("registry: error closing dropped connection", "id", handle.ID, "error", err)
	}

	r.log.Info("registry: connection dropped", "id", handle.ID, "role", handle.Role)
}

// Workers returns a shallow snapshot of live worker connections, taken under
// lock so dispatch code can iterate without holding it.
func (r *Registry) Workers() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make([]*Connection, 0, len(r.workers))
	for _, c := range r.workers {
		snapshot = append(snapshot, c)
	}

	return snapshot
}

// Observers returns a shallow snapshot of live observer connections.
func (r *Registry) Observers() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make([]*Connection, 0, len(r.observers))
	for _, c := range r.observers {
		snapshot = append(snapshot, c)
	}

	return snapshot
}

// Broadcast sends v to every current observer. Best-effort: a send failure
// to one observer is logged and does not stop delivery to the rest, and
// does not drop the connection (that is the liveness sweep's job).
func (r *Registry) Broadcast(v any) {
	for _, obs := range r.Observers() {
		err := obs.Send(v)
		if err != nil {
			r.log.Warn("registry: broadcast send failed", "id", obs.ID, "error", err)
		}
	}
}

// RunLivenessSweep blocks, running the ping/pong liveness protocol on a
// ticker until ctx is cancelled. Every tick: connections that did not flip
// back to alive since the previous tick are torn down; the rest are marked
// dead-provisional and pinged.
func (r *Registry) RunLivenessSweep(ctx context.Context) {
	ticker := time.NewTicker(r.livenessPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce()
		}
	}
}

func (r *Registry) sweepOnce() {
	for _, c := range r.allConnections() {
		if !c.alive.Swap(false) {
			r.log.Warn("registry: liveness check failed, dropping connection", "id", c.ID, "role", c.Role)
			r.Drop(c)

			continue
		}

		err := c.ping()
		if err != nil {
			r.log.Warn("registry: ping failed, dropping connection", "id", c.ID, "error", err)
			r.Drop(c)
		}
	}
}

func (r *Registry) allConnections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*Connection, 0, len(r.workers)+len(r.observers))
	for _, c := range r.workers {
		all = append(all, c)
	}

	for _, c := range r.observers {
		all = append(all, c)
	}

	return all
}
