package realtime

import (
	"errors"
	"testing"
	"time"

	v1 "beacon/shared/contracts/wire/v1"
)

func TestConnManagerSendToUser(t *testing.T) {
	t.Parallel()

	m := NewConnManager(testLogger(), nil)

	a1 := testConn("a1", "ua")
	a2 := testConn("a2", "ua")
	m.Register(a1)
	m.Register(a2)

	if !m.IsOnline("ua") {
		t.Fatalf("ua should be online")
	}
	if m.IsOnline("ub") {
		t.Fatalf("ub should be offline")
	}

	env := v1.Envelope{V: v1.Version, Type: v1.TypeDirectMessage}
	if err := m.SendToUser("ua", env); err != nil {
		t.Fatalf("SendToUser: %v", err)
	}

	// Every device of the user gets a copy.
	for _, c := range []*Conn{a1, a2} {
		select {
		case got := <-c.Send:
			if got.Type != v1.TypeDirectMessage {
				t.Fatalf("type=%q", got.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("conn %s got nothing", c.ID)
		}
	}

	if err := m.SendToUser("ub", env); !errors.Is(err, ErrUserNotConnected) {
		t.Fatalf("err=%v want ErrUserNotConnected", err)
	}
}

func TestConnManagerAutoUnregisterOnClose(t *testing.T) {
	t.Parallel()

	m := NewConnManager(testLogger(), nil)

	c := testConn("c1", "ua")
	m.Register(c)
	if m.Count() != 1 {
		t.Fatalf("Count=%d want 1", m.Count())
	}

	c.Close()

	// The watcher goroutine removes the entry.
	deadline := time.Now().Add(2 * time.Second)
	for m.IsOnline("ua") {
		if time.Now().After(deadline) {
			t.Fatalf("closed conn never unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if m.Count() != 0 {
		t.Fatalf("Count=%d want 0", m.Count())
	}
}

func TestDeliverToConnection(t *testing.T) {
	t.Parallel()

	m := NewConnManager(testLogger(), nil)

	c := testConn("c1", "ua")
	m.Register(c)

	env := v1.Envelope{V: v1.Version, Type: v1.TypeOK}
	if err := m.DeliverToConnection("c1", env); err != nil {
		t.Fatalf("DeliverToConnection: %v", err)
	}
	select {
	case got := <-c.Send:
		if got.Type != v1.TypeOK {
			t.Fatalf("type=%q", got.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("nothing delivered")
	}

	if err := m.DeliverToConnection("ghost", env); !errors.Is(err, ErrUserNotConnected) {
		t.Fatalf("err=%v want ErrUserNotConnected", err)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Second)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		if !rl.Allow(now) {
			t.Fatalf("event %d denied inside limit", i)
		}
	}
	if rl.Allow(now) {
		t.Fatalf("event over limit allowed")
	}

	// The window slides: old events expire.
	if !rl.Allow(now.Add(1100 * time.Millisecond)) {
		t.Fatalf("event denied after window passed")
	}
}
