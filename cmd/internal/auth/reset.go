package auth

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	sectoken "beacon/cmd/security/token"
)

// resetTTL bounds how long a password-reset token stays usable.
const resetTTL = 1 * time.Hour

// resetStore holds outstanding password-reset tokens by fingerprint.
// Tokens are opaque random strings, single use, and expire after resetTTL.
type resetStore struct {
	mu      sync.Mutex
	entries map[string]resetEntry
}

type resetEntry struct {
	userID    string
	expiresAt time.Time
}

func newResetStore() *resetStore {
	return &resetStore{entries: make(map[string]resetEntry)}
}

// issue mints a fresh opaque token for userID.
func (r *resetStore) issue(userID string, now time.Time) (string, time.Time, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", time.Time{}, err
	}
	tok := base64.RawURLEncoding.EncodeToString(raw)
	exp := now.Add(resetTTL)

	r.mu.Lock()
	r.sweepLocked(now)
	r.entries[sectoken.Fingerprint(tok)] = resetEntry{userID: userID, expiresAt: exp}
	r.mu.Unlock()

	return tok, exp, nil
}

// peek reports the owner of a live token without consuming it.
func (r *resetStore) peek(tok string, now time.Time) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[sectoken.Fingerprint(tok)]
	if !ok || !e.expiresAt.After(now) {
		return "", false
	}
	return e.userID, true
}

// consume atomically validates and deletes a token. Only one caller can win.
func (r *resetStore) consume(tok string, now time.Time) (string, bool) {
	fp := sectoken.Fingerprint(tok)

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[fp]
	if !ok || !e.expiresAt.After(now) {
		return "", false
	}
	delete(r.entries, fp)
	return e.userID, true
}

func (r *resetStore) sweepLocked(now time.Time) {
	for fp, e := range r.entries {
		if !e.expiresAt.After(now) {
			delete(r.entries, fp)
		}
	}
}
