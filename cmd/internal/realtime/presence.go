package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"beacon/cmd/internal/metrics"
)

// presenceRecord tracks one connection's liveness.
type presenceRecord struct {
	userID      string
	connectedAt time.Time
	lastSeen    time.Time
	metadata    map[string]string
}

// PresenceStats is a point-in-time summary of the tracker.
type PresenceStats struct {
	Connections int
	OnlineUsers int
}

// Presence tracks which users are online, keyed by connection id.
//
// A user is online while at least one of its connections has a fresh
// heartbeat. The byUser index is maintained atomically with records under
// one lock, so the two views never disagree.
type Presence struct {
	log *slog.Logger

	sweepInterval time.Duration
	timeout       time.Duration

	mu      sync.RWMutex
	records map[string]presenceRecord
	byUser  map[string]map[string]struct{}
}

// PresenceOption customizes a Presence tracker.
type PresenceOption func(*Presence)

// WithPresenceTimeout overrides the heartbeat expiry window.
func WithPresenceTimeout(d time.Duration) PresenceOption {
	return func(p *Presence) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithPresenceSweepInterval overrides the sweeper cadence.
func WithPresenceSweepInterval(d time.Duration) PresenceOption {
	return func(p *Presence) {
		if d > 0 {
			p.sweepInterval = d
		}
	}
}

// NewPresence constructs an empty tracker.
func NewPresence(log *slog.Logger, opts ...PresenceOption) *Presence {
	p := &Presence{
		log:           log,
		sweepInterval: presenceSweepInterval,
		timeout:       presenceTimeout,
		records:       make(map[string]presenceRecord),
		byUser:        make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register records a new connection for a user.
func (p *Presence) Register(connID, userID string, now time.Time, metadata map[string]string) {
	p.mu.Lock()
	p.records[connID] = presenceRecord{
		userID:      userID,
		connectedAt: now,
		lastSeen:    now,
		metadata:    metadata,
	}
	set, ok := p.byUser[userID]
	if !ok {
		set = make(map[string]struct{})
		p.byUser[userID] = set
	}
	set[connID] = struct{}{}
	online := len(p.byUser)
	p.mu.Unlock()

	metrics.OnlineUsers.Set(float64(online))
	p.log.Info("presence.register", "conn_id", connID, "user_id", userID)
}

// Heartbeat refreshes last_seen for a connection. Unknown connections are
// logged and ignored: the record may have been swept concurrently.
func (p *Presence) Heartbeat(connID string, now time.Time) {
	p.mu.Lock()
	rec, ok := p.records[connID]
	if ok {
		rec.lastSeen = now
		p.records[connID] = rec
	}
	p.mu.Unlock()

	if !ok {
		p.log.Warn("presence.heartbeat.unknown", "conn_id", connID)
	}
}

// Unregister removes a connection's record.
func (p *Presence) Unregister(connID string) {
	p.mu.Lock()
	rec, ok := p.records[connID]
	if ok {
		p.dropLocked(connID, rec.userID)
	}
	online := len(p.byUser)
	p.mu.Unlock()

	if ok {
		metrics.OnlineUsers.Set(float64(online))
		p.log.Info("presence.unregister", "conn_id", connID, "user_id", rec.userID)
	}
}

// UserConnections returns the connection ids of an online user.
func (p *Presence) UserConnections(userID string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	set, ok := p.byUser[userID]
	if !ok || len(set) == 0 {
		return nil, ErrPresenceNotFound
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out, nil
}

// OnlineUsers lists user ids with at least one live connection.
func (p *Presence) OnlineUsers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, 0, len(p.byUser))
	for id := range p.byUser {
		out = append(out, id)
	}
	return out
}

// Stats returns a point-in-time summary.
func (p *Presence) Stats() PresenceStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PresenceStats{
		Connections: len(p.records),
		OnlineUsers: len(p.byUser),
	}
}

// Sweep evicts connections whose heartbeat is older than the timeout and
// returns the evicted connection ids.
func (p *Presence) Sweep(now time.Time) []string {
	cut := now.Add(-p.timeout)

	p.mu.Lock()
	var evicted []string
	for connID, rec := range p.records {
		if rec.lastSeen.Before(cut) {
			p.dropLocked(connID, rec.userID)
			evicted = append(evicted, connID)
		}
	}
	online := len(p.byUser)
	p.mu.Unlock()

	if len(evicted) > 0 {
		metrics.OnlineUsers.Set(float64(online))
		metrics.PresenceEvictionsTotal.Add(float64(len(evicted)))
		p.log.Info("presence.sweep", "evicted", len(evicted))
	}
	return evicted
}

// Run sweeps on a ticker until ctx is done. onEvict, when non-nil, is called
// with each evicted connection id (used to tear down the websocket too).
func (p *Presence) Run(ctx context.Context, onEvict func(connID string)) {
	t := time.NewTicker(p.sweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			for _, connID := range p.Sweep(now.UTC()) {
				if onEvict != nil {
					onEvict(connID)
				}
			}
		}
	}
}

func (p *Presence) dropLocked(connID, userID string) {
	delete(p.records, connID)
	if set, ok := p.byUser[userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(p.byUser, userID)
		}
	}
}
