package realtime

import (
	"log/slog"
	"sync"

	"beacon/cmd/internal/notify"
	v1 "beacon/shared/contracts/wire/v1"
)

// ConnManager indexes live connections by connection id and user id and
// routes direct deliveries.
//
// Registering a connection starts a watcher that removes it again the
// moment the connection signals Done, so dead entries cannot linger.
type ConnManager struct {
	log    *slog.Logger
	notify notify.Notifier

	mu     sync.RWMutex
	conns  map[string]*Conn
	byUser map[string]map[string]*Conn
}

// NewConnManager constructs an empty ConnManager.
func NewConnManager(log *slog.Logger, sink notify.Notifier) *ConnManager {
	if sink == nil {
		sink = notify.Nop{}
	}
	return &ConnManager{
		log:    log,
		notify: sink,
		conns:  make(map[string]*Conn),
		byUser: make(map[string]map[string]*Conn),
	}
}

// Register adds a connection and watches it for shutdown.
func (m *ConnManager) Register(c *Conn) {
	if c == nil || c.ID == "" {
		return
	}

	m.mu.Lock()
	m.conns[c.ID] = c
	set, ok := m.byUser[c.UserID]
	if !ok {
		set = make(map[string]*Conn)
		m.byUser[c.UserID] = set
	}
	set[c.ID] = c
	m.mu.Unlock()

	m.log.Info("conn.register", "conn_id", c.ID, "user_id", c.UserID)

	go func() {
		<-c.Done()
		m.Unregister(c.ID)
	}()
}

// Unregister removes a connection (idempotent).
func (m *ConnManager) Unregister(connID string) {
	m.mu.Lock()
	c, ok := m.conns[connID]
	if ok {
		delete(m.conns, connID)
		if set, ok2 := m.byUser[c.UserID]; ok2 {
			delete(set, connID)
			if len(set) == 0 {
				delete(m.byUser, c.UserID)
			}
		}
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	m.log.Info("conn.unregister", "conn_id", connID, "user_id", c.UserID)
	m.notify.Publish("user.disconnected", map[string]any{"user_id": c.UserID, "conn_id": connID})
}

// Get returns the connection with the given id.
func (m *ConnManager) Get(connID string) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[connID]
	return c, ok
}

// IsOnline reports whether a user has at least one live connection.
func (m *ConnManager) IsOnline(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser[userID]) > 0
}

// OnlineUsers lists user ids with at least one live connection.
func (m *ConnManager) OnlineUsers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.byUser))
	for id := range m.byUser {
		out = append(out, id)
	}
	return out
}

// Count returns the number of live connections.
func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// SendToUser enqueues an envelope on every live connection of a user.
// Returns ErrUserNotConnected when the user has none. Per-connection
// enqueue is non-blocking: slow consumers drop rather than stall delivery
// to the user's other devices.
func (m *ConnManager) SendToUser(userID string, env v1.Envelope) error {
	m.mu.RLock()
	set := m.byUser[userID]
	targets := make([]*Conn, 0, len(set))
	for _, c := range set {
		targets = append(targets, c)
	}
	m.mu.RUnlock()

	if len(targets) == 0 {
		return ErrUserNotConnected
	}
	for _, c := range targets {
		if !c.TrySend(env) {
			m.log.Info("conn.send.drop", "conn_id", c.ID, "user_id", userID, "type", env.Type)
		}
	}
	return nil
}

// DeliverToConnection enqueues an envelope on one specific connection.
func (m *ConnManager) DeliverToConnection(connID string, env v1.Envelope) error {
	c, ok := m.Get(connID)
	if !ok {
		return ErrUserNotConnected
	}
	if !c.TrySend(env) {
		m.log.Info("conn.send.drop", "conn_id", connID, "user_id", c.UserID, "type", env.Type)
	}
	return nil
}

// CloseConnection signals shutdown for one connection (used by the
// presence sweeper when a heartbeat expires).
func (m *ConnManager) CloseConnection(connID string) {
	if c, ok := m.Get(connID); ok {
		c.Close()
	}
}
