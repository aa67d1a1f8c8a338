package history

import (
	"context"
	"sync"
	"time"
)

// maxRetained bounds how many messages one channel or direct pair keeps
// in memory. Older messages fall off the front.
const maxRetained = 1000

// MemoryStore is the in-memory Store used in tests and single-node runs.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]*Message
	channels map[string][]*Message
	direct   map[pairKey][]*Message
}

type pairKey struct{ a, b string }

func newPairKey(userA, userB string) pairKey {
	if userA > userB {
		userA, userB = userB, userA
	}
	return pairKey{a: userA, b: userB}
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*Message),
		channels: make(map[string][]*Message),
		direct:   make(map[pairKey][]*Message),
	}
}

func (s *MemoryStore) Save(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := msg
	s.byID[m.ID] = &m

	if m.ChannelID != "" {
		list := append(s.channels[m.ChannelID], &m)
		if len(list) > maxRetained {
			drop := list[0]
			delete(s.byID, drop.ID)
			list = list[1:]
		}
		s.channels[m.ChannelID] = list
		return nil
	}

	key := newPairKey(m.SenderID, m.RecipientID)
	list := append(s.direct[key], &m)
	if len(list) > maxRetained {
		drop := list[0]
		delete(s.byID, drop.ID)
		list = list[1:]
	}
	s.direct[key] = list
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.byID[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return *m, nil
}

func (s *MemoryStore) ListByChannel(_ context.Context, channelID string, limit int) ([]Message, error) {
	limit = clampLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.channels[channelID], limit), nil
}

func (s *MemoryStore) ListDirect(_ context.Context, userA, userB string, limit int) ([]Message, error) {
	limit = clampLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.direct[newPairKey(userA, userB)], limit), nil
}

func (s *MemoryStore) MarkRead(_ context.Context, messageID, userID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[messageID]
	if !ok {
		return ErrNotFound
	}
	if m.RecipientID != userID {
		return ErrNotRecipient
	}
	if !m.Read {
		m.Read = true
		m.ReadAt = now
	}
	return nil
}

// tail copies the newest limit messages, preserving oldest-first order.
func tail(list []*Message, limit int) []Message {
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	out := make([]Message, len(list))
	for i, m := range list {
		out[i] = *m
	}
	return out
}
