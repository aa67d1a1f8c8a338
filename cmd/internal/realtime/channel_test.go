package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"beacon/cmd/internal/history"
	v1 "beacon/shared/contracts/wire/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry() *Registry {
	return NewRegistry(testLogger(), history.NewMemoryStore(), nil)
}

func testConn(id, userID string) *Conn {
	return NewConn(id, userID, "sess-"+id, 16)
}

// recvType pulls envelopes off a conn until one of the given type arrives.
func recvType(t *testing.T, c *Conn, typ string) v1.Envelope {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-c.Send:
			if env.Type == typ {
				return env
			}
		case <-deadline:
			t.Fatalf("no %q envelope on conn %s", typ, c.ID)
		}
	}
}

func requireNoEnvelope(t *testing.T, c *Conn) {
	t.Helper()

	select {
	case env := <-c.Send:
		t.Fatalf("unexpected envelope %q on conn %s", env.Type, c.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeCapacity(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	now := time.Now().UTC()

	ch, err := r.Create(now, ChannelConfig{Name: "room", OwnerID: "u1", MaxSubscribers: 2})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := ch.Subscribe(testConn("c1", "u1"), now); err != nil {
		t.Fatalf("sub 1: %v", err)
	}
	if err := ch.Subscribe(testConn("c2", "u2"), now); err != nil {
		t.Fatalf("sub 2: %v", err)
	}
	if err := ch.Subscribe(testConn("c3", "u3"), now); !errors.Is(err, ErrChannelFull) {
		t.Fatalf("sub 3: err=%v want ErrChannelFull", err)
	}

	info, err := ch.Info()
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Subscribers != 2 {
		t.Fatalf("subscribers=%d want 2", info.Subscribers)
	}
}

func TestDuplicateChannelName(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	now := time.Now().UTC()

	if _, err := r.Create(now, ChannelConfig{Name: "room", OwnerID: "u1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := r.Create(now, ChannelConfig{Name: "room", OwnerID: "u2"}); !errors.Is(err, ErrChannelExists) {
		t.Fatalf("err=%v want ErrChannelExists", err)
	}
}

func TestPublishRequiresSubscription(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	now := time.Now().UTC()

	ch, _ := r.Create(now, ChannelConfig{Name: "room", OwnerID: "u1", Persistent: true})

	if _, err := ch.Publish("nope", "u9", "hello", "", nil, nil, now); !errors.Is(err, ErrNotSubscribed) {
		t.Fatalf("err=%v want ErrNotSubscribed", err)
	}
}

func TestPublishDeliversAndCounts(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	now := time.Now().UTC()

	ch, _ := r.Create(now, ChannelConfig{Name: "room", OwnerID: "u1", Persistent: true})

	a := testConn("ca", "ua")
	b := testConn("cb", "ub")
	if err := ch.Subscribe(a, now); err != nil {
		t.Fatalf("sub a: %v", err)
	}
	if err := ch.Subscribe(b, now); err != nil {
		t.Fatalf("sub b: %v", err)
	}

	msgID, err := ch.Publish(a.ID, "ua", "hello room", "text", nil, nil, now)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if msgID == "" {
		t.Fatalf("empty message id")
	}

	for _, c := range []*Conn{a, b} {
		env := recvType(t, c, v1.TypeChannelMessage)
		var p v1.ChannelMessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if p.MessageID != msgID || p.SenderID != "ua" || p.Content != "hello room" {
			t.Fatalf("payload mismatch: %+v", p)
		}
	}

	info, _ := ch.Info()
	if info.MessageCount != 1 {
		t.Fatalf("message_count=%d want 1", info.MessageCount)
	}
	if !info.LastActivity.Equal(now) {
		t.Fatalf("last_activity=%v want=%v", info.LastActivity, now)
	}
}

func TestPublishExcludeList(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	now := time.Now().UTC()

	ch, _ := r.Create(now, ChannelConfig{Name: "room", OwnerID: "u1", Persistent: true})

	a := testConn("ca", "ua")
	b := testConn("cb", "ub")
	if err := ch.Subscribe(a, now); err != nil {
		t.Fatalf("sub a: %v", err)
	}
	if err := ch.Subscribe(b, now); err != nil {
		t.Fatalf("sub b: %v", err)
	}
	recvType(t, a, v1.TypeUserJoined)

	if _, err := ch.Publish(a.ID, "ua", "not for a", "", nil, []string{a.ID}, now); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	recvType(t, b, v1.TypeChannelMessage)
	requireNoEnvelope(t, a)
}

func TestJoinBroadcastExcludesJoiner(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	now := time.Now().UTC()

	ch, _ := r.Create(now, ChannelConfig{Name: "room", OwnerID: "u1", Persistent: true})

	a := testConn("ca", "ua")
	if err := ch.Subscribe(a, now); err != nil {
		t.Fatalf("sub a: %v", err)
	}
	// Alone in the channel: nobody to notify, including a itself.
	requireNoEnvelope(t, a)

	b := testConn("cb", "ub")
	if err := ch.Subscribe(b, now); err != nil {
		t.Fatalf("sub b: %v", err)
	}

	env := recvType(t, a, v1.TypeUserJoined)
	var p v1.MembershipPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.UserID != "ub" {
		t.Fatalf("user_id=%q want ub", p.UserID)
	}
	requireNoEnvelope(t, b)

	// Leave notifies the remaining member only.
	if err := ch.Unsubscribe(b.ID, now); err != nil {
		t.Fatalf("unsub b: %v", err)
	}
	env = recvType(t, a, v1.TypeUserLeft)
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.UserID != "ub" {
		t.Fatalf("user_id=%q want ub", p.UserID)
	}
}

func TestNonPersistentChannelTerminatesWhenEmpty(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	now := time.Now().UTC()

	ch, _ := r.Create(now, ChannelConfig{Name: "ephemeral", OwnerID: "u1"})

	c := testConn("c1", "u1")
	if err := ch.Subscribe(c, now); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := ch.Unsubscribe(c.ID, now); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	// The actor exits asynchronously after replying; poll for release.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := r.GetByName("ephemeral"); errors.Is(err, ErrChannelNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("channel not released after becoming empty")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Operations on the dead handle fail closed.
	if err := ch.Subscribe(testConn("c2", "u2"), now); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("err=%v want ErrChannelClosed", err)
	}

	// The name is reusable.
	if _, err := r.Create(now, ChannelConfig{Name: "ephemeral", OwnerID: "u2"}); err != nil {
		t.Fatalf("recreate: %v", err)
	}
}

func TestPersistentChannelSurvivesEmpty(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	now := time.Now().UTC()

	ch, _ := r.Create(now, ChannelConfig{Name: "durable", OwnerID: "u1", Persistent: true})

	c := testConn("c1", "u1")
	if err := ch.Subscribe(c, now); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := ch.Unsubscribe(c.ID, now); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if _, err := r.GetByName("durable"); err != nil {
		t.Fatalf("persistent channel released: %v", err)
	}
	info, err := ch.Info()
	if err != nil {
		t.Fatalf("Info after empty: %v", err)
	}
	if info.Subscribers != 0 {
		t.Fatalf("subscribers=%d want 0", info.Subscribers)
	}
}

func TestConcurrentSubscribes(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	now := time.Now().UTC()

	const n = 50
	ch, _ := r.Create(now, ChannelConfig{Name: "busy", OwnerID: "u1", Persistent: true, MaxSubscribers: n})

	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := testConn(fmt.Sprintf("c%02d", i), fmt.Sprintf("u%02d", i))
			errCh <- ch.Subscribe(conn, now)
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	}

	info, _ := ch.Info()
	if info.Subscribers != n {
		t.Fatalf("subscribers=%d want %d", info.Subscribers, n)
	}
}

func TestPersistentPublishReachesHistory(t *testing.T) {
	t.Parallel()

	hist := history.NewMemoryStore()
	r := NewRegistry(testLogger(), hist, nil)
	now := time.Now().UTC()

	ch, _ := r.Create(now, ChannelConfig{Name: "room", OwnerID: "u1", Persistent: true})
	c := testConn("c1", "u1")
	if err := ch.Subscribe(c, now); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	msgID, err := ch.Publish(c.ID, "u1", "for the record", "text", nil, nil, now)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// The save is asynchronous; poll.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if m, err := hist.Get(t.Context(), msgID); err == nil {
			if m.ChannelID != ch.ID() || m.Content != "for the record" {
				t.Fatalf("stored message mismatch: %+v", m)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("message %s never reached history", msgID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
