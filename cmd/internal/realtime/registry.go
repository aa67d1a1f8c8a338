package realtime

import (
	"log/slog"
	"sync"
	"time"

	"beacon/cmd/internal/history"
	"beacon/cmd/internal/metrics"
	"beacon/cmd/internal/notify"
)

// Registry owns all live channel actors and supervises their run loops.
//
// A panicking channel is replaced by a fresh actor with the same identity
// and counters but empty membership; subscribers observe a dropped
// subscription and re-subscribe.
type Registry struct {
	log    *slog.Logger
	hist   history.Store
	notify notify.Notifier

	mu     sync.RWMutex
	byID   map[string]*Channel
	byName map[string]*Channel
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger, hist history.Store, sink notify.Notifier) *Registry {
	if sink == nil {
		sink = notify.Nop{}
	}
	return &Registry{
		log:    log,
		hist:   hist,
		notify: sink,
		byID:   make(map[string]*Channel),
		byName: make(map[string]*Channel),
	}
}

// Create registers a new channel and starts its actor.
// Channel names are unique; a taken name fails with ErrChannelExists.
func (r *Registry) Create(now time.Time, cfg ChannelConfig) (*Channel, error) {
	id, err := NewChannelID(now)
	if err != nil {
		return nil, err
	}

	ch := newChannel(r.log, id, cfg, r.hist, now, r.release)

	r.mu.Lock()
	if _, ok := r.byName[cfg.Name]; ok {
		r.mu.Unlock()
		return nil, ErrChannelExists
	}
	r.byID[id] = ch
	r.byName[cfg.Name] = ch
	active := len(r.byID)
	r.mu.Unlock()

	r.supervise(ch)

	metrics.ActiveChannels.Set(float64(active))
	r.log.Info("channel.created", "channel_id", id, "name", cfg.Name, "owner_id", cfg.OwnerID, "persistent", cfg.Persistent)
	r.notify.Publish("channel.created", map[string]any{"channel_id": id, "name": cfg.Name})
	return ch, nil
}

// Get returns the channel with the given id.
func (r *Registry) Get(channelID string) (*Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.byID[channelID]
	if !ok {
		return nil, ErrChannelNotFound
	}
	return ch, nil
}

// GetByName returns the channel with the given name.
func (r *Registry) GetByName(name string) (*Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.byName[name]
	if !ok {
		return nil, ErrChannelNotFound
	}
	return ch, nil
}

// List snapshots every live channel.
func (r *Registry) List() []ChannelInfo {
	r.mu.RLock()
	chans := make([]*Channel, 0, len(r.byID))
	for _, ch := range r.byID {
		chans = append(chans, ch)
	}
	r.mu.RUnlock()

	out := make([]ChannelInfo, 0, len(chans))
	for _, ch := range chans {
		info, err := ch.Info()
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	return out
}

// Count returns the number of live channels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Shutdown stops every channel actor.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	chans := make([]*Channel, 0, len(r.byID))
	for _, ch := range r.byID {
		chans = append(chans, ch)
	}
	r.mu.RUnlock()

	for _, ch := range chans {
		ch.Stop()
	}
}

// supervise runs the actor loop and restarts it on panic.
func (r *Registry) supervise(ch *Channel) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error("channel.panic", "channel_id", ch.id, "name", ch.cfg.Name, "panic", rec)
				ch.markClosed()
				r.restart(ch)
			}
		}()
		ch.run()
	}()
}

// restart replaces a crashed channel with a fresh, empty actor that keeps
// the same id, config, and message counter.
func (r *Registry) restart(old *Channel) {
	fresh := newChannel(r.log, old.id, old.cfg, r.hist, time.Now().UTC(), r.release)
	fresh.createdAt = old.createdAt
	fresh.msgCount = old.msgCount

	r.mu.Lock()
	// The crashed actor may have been released already (shutdown race).
	if cur, ok := r.byID[old.id]; !ok || cur != old {
		r.mu.Unlock()
		return
	}
	r.byID[old.id] = fresh
	r.byName[old.cfg.Name] = fresh
	r.mu.Unlock()

	r.supervise(fresh)
	r.log.Info("channel.restarted", "channel_id", old.id, "name", old.cfg.Name)
}

// release drops a terminated channel from the indexes. Called by the run
// loop on normal exit, so the name becomes reusable immediately.
func (r *Registry) release(ch *Channel) {
	r.mu.Lock()
	if cur, ok := r.byID[ch.id]; ok && cur == ch {
		delete(r.byID, ch.id)
		delete(r.byName, ch.cfg.Name)
	}
	active := len(r.byID)
	r.mu.Unlock()

	metrics.ActiveChannels.Set(float64(active))
	r.notify.Publish("channel.released", map[string]any{"channel_id": ch.id, "name": ch.cfg.Name})
}
