// Package revocation holds the fingerprints of invalidated tokens.
//
// The store is the negative half of token verification: a fingerprint hit
// means the token is dead no matter what its claims say. Entries carry the
// token's own expiry so the periodic sweep can drop them once they could
// no longer verify anyway.
package revocation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"beacon/cmd/internal/metrics"
)

const defaultSweepInterval = 1 * time.Hour

// Store is a concurrent set of revoked-token fingerprints with expiry.
//
// Reads take a shared lock and never block each other; a sweep in progress
// never blocks Contains beyond the map swap itself.
type Store struct {
	log *slog.Logger

	mu      sync.RWMutex
	entries map[string]time.Time // fingerprint -> expiry

	sweepInterval time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithSweepInterval overrides the periodic sweep interval (default 1h).
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// NewStore constructs an empty revocation store.
func NewStore(log *slog.Logger, opts ...Option) *Store {
	s := &Store{
		log:           log,
		entries:       make(map[string]time.Time),
		sweepInterval: defaultSweepInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Add records a revoked fingerprint together with the token's expiry.
// Re-adding an existing fingerprint keeps the later expiry.
func (s *Store) Add(fingerprint string, expiry time.Time) {
	if fingerprint == "" {
		return
	}

	s.mu.Lock()
	if cur, ok := s.entries[fingerprint]; !ok || expiry.After(cur) {
		s.entries[fingerprint] = expiry
	}
	n := len(s.entries)
	s.mu.Unlock()

	metrics.RevokedTokens.Set(float64(n))
}

// Contains reports whether the fingerprint has been revoked.
// An entry past its expiry but not yet swept still counts as revoked.
func (s *Store) Contains(fingerprint string) bool {
	s.mu.RLock()
	_, ok := s.entries[fingerprint]
	s.mu.RUnlock()
	return ok
}

// Len returns the current number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep removes entries whose expiry is at or before now and returns the
// number removed. It is idempotent: a second sweep at the same instant
// removes nothing. Entries are never removed before their expiry.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	removed := 0
	for fp, exp := range s.entries {
		if !exp.After(now) {
			delete(s.entries, fp)
			removed++
		}
	}
	n := len(s.entries)
	s.mu.Unlock()

	metrics.RevokedTokens.Set(float64(n))
	return removed
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *Store) Run(ctx context.Context) {
	t := time.NewTicker(s.sweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if removed := s.Sweep(time.Now().UTC()); removed > 0 {
				s.log.Debug("revocation.sweep", "removed", removed, "remaining", s.Len())
			}
		}
	}
}
