package revocation

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func newTestStore(opts ...Option) *Store {
	return NewStore(slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func TestAddAndContains(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	now := time.Now().UTC()

	s.Add("fp-1", now.Add(time.Hour))

	if !s.Contains("fp-1") {
		t.Fatalf("fp-1 missing after Add")
	}
	if s.Contains("fp-2") {
		t.Fatalf("fp-2 should not be present")
	}
	if s.Len() != 1 {
		t.Fatalf("Len=%d want 1", s.Len())
	}

	// Empty fingerprints are ignored.
	s.Add("", now.Add(time.Hour))
	if s.Len() != 1 {
		t.Fatalf("empty fingerprint was stored")
	}
}

func TestReAddKeepsLaterExpiry(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	now := time.Now().UTC()

	s.Add("fp", now.Add(2*time.Hour))
	s.Add("fp", now.Add(time.Hour)) // earlier expiry must not shorten

	if removed := s.Sweep(now.Add(90 * time.Minute)); removed != 0 {
		t.Fatalf("entry swept before its later expiry (removed=%d)", removed)
	}
	if !s.Contains("fp") {
		t.Fatalf("fp dropped early")
	}
}

func TestSweep(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	now := time.Now().UTC()

	s.Add("old", now.Add(-time.Minute))
	s.Add("live", now.Add(time.Hour))

	// Expired but unswept entries still count as revoked.
	if !s.Contains("old") {
		t.Fatalf("expired entry should count as revoked before sweep")
	}

	if removed := s.Sweep(now); removed != 1 {
		t.Fatalf("removed=%d want 1", removed)
	}
	if s.Contains("old") {
		t.Fatalf("old survived sweep")
	}
	if !s.Contains("live") {
		t.Fatalf("live entry swept")
	}

	// Idempotent at the same instant.
	if removed := s.Sweep(now); removed != 0 {
		t.Fatalf("second sweep removed=%d want 0", removed)
	}
}

func TestConcurrentAddContains(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	now := time.Now().UTC()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		fp := string(rune('a' + i%26))
		go func(fp string) {
			defer wg.Done()
			s.Add(fp, now.Add(time.Hour))
		}(fp)
		go func(fp string) {
			defer wg.Done()
			_ = s.Contains(fp)
		}(fp)
	}
	wg.Wait()

	if s.Len() != 26 {
		t.Fatalf("Len=%d want 26", s.Len())
	}
}
