package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"beacon/cmd/internal/history"
	"beacon/cmd/internal/metrics"
	v1 "beacon/shared/contracts/wire/v1"
)

// ChannelConfig is the immutable identity of a channel.
type ChannelConfig struct {
	Name           string
	Topic          string
	OwnerID        string
	Private        bool
	Persistent     bool
	MaxSubscribers int // 0 = unlimited
	Metadata       map[string]string
}

// ChannelInfo is a point-in-time snapshot served by the info operation.
type ChannelInfo struct {
	ChannelID    string
	Name         string
	Topic        string
	OwnerID      string
	Private      bool
	Persistent   bool
	Subscribers  int
	MessageCount int64
	CreatedAt    time.Time
	LastActivity time.Time
}

// Channel is a per-topic actor. One goroutine (the run loop) owns all
// mutable state; every operation is a synchronous round-trip through the
// ops queue, so subscribes, publishes, and info reads serialize without
// locks and concurrent subscribers can never race the capacity check.
type Channel struct {
	log  *slog.Logger
	id   string
	cfg  ChannelConfig
	hist history.Store

	createdAt time.Time

	ops  chan chanOp
	done chan struct{}
	once sync.Once

	// onTerminate is invoked by the run loop right before a normal exit
	// (empty non-persistent channel, or explicit stop).
	onTerminate func(*Channel)

	// State below is owned by the run loop. It is only read from outside
	// after the loop has exited (supervisor restart).
	subs         map[string]*Conn
	msgCount     int64
	lastActivity time.Time
}

type opKind uint8

const (
	opSubscribe opKind = iota
	opUnsubscribe
	opPublish
	opInfo
	opStop
)

type chanOp struct {
	kind  opKind
	conn  *Conn
	conn2 string // conn id for unsubscribe
	pub   publishReq
	now   time.Time
	reply chan opResult
}

type publishReq struct {
	senderConn string
	senderID   string
	content    string
	kind       string
	metadata   map[string]string
	exclude    []string
}

type opResult struct {
	err       error
	info      ChannelInfo
	messageID string
}

func newChannel(log *slog.Logger, id string, cfg ChannelConfig, hist history.Store, now time.Time, onTerminate func(*Channel)) *Channel {
	return &Channel{
		log:          log,
		id:           id,
		cfg:          cfg,
		hist:         hist,
		createdAt:    now,
		ops:          make(chan chanOp, channelOpQueueSize),
		done:         make(chan struct{}),
		onTerminate:  onTerminate,
		subs:         make(map[string]*Conn),
		lastActivity: now,
	}
}

// ID returns the channel id.
func (c *Channel) ID() string { return c.id }

// Name returns the channel name.
func (c *Channel) Name() string { return c.cfg.Name }

// Subscribe adds a connection to the channel. Fails with ErrChannelFull at
// capacity. The joiner does not receive its own user_joined event.
func (c *Channel) Subscribe(conn *Conn, now time.Time) error {
	res := c.do(chanOp{kind: opSubscribe, conn: conn, now: now})
	return res.err
}

// Unsubscribe removes a connection. A non-persistent channel that becomes
// empty terminates and is released from its registry.
func (c *Channel) Unsubscribe(connID string, now time.Time) error {
	res := c.do(chanOp{kind: opUnsubscribe, conn2: connID, now: now})
	return res.err
}

// Publish broadcasts content from a subscribed sender and returns the
// assigned message id. Connections listed in exclude are skipped during
// fan-out.
func (c *Channel) Publish(senderConnID, senderID, content, kind string, metadata map[string]string, exclude []string, now time.Time) (string, error) {
	res := c.do(chanOp{
		kind: opPublish,
		pub: publishReq{
			senderConn: senderConnID,
			senderID:   senderID,
			content:    content,
			kind:       kind,
			metadata:   metadata,
			exclude:    exclude,
		},
		now: now,
	})
	return res.messageID, res.err
}

// Info returns a consistent snapshot of the channel state.
func (c *Channel) Info() (ChannelInfo, error) {
	res := c.do(chanOp{kind: opInfo})
	return res.info, res.err
}

// Stop terminates the run loop. Idempotent.
func (c *Channel) Stop() {
	_ = c.do(chanOp{kind: opStop})
}

// do performs a synchronous round-trip with the run loop.
func (c *Channel) do(op chanOp) opResult {
	op.reply = make(chan opResult, 1)

	select {
	case c.ops <- op:
	case <-c.done:
		return opResult{err: ErrChannelClosed}
	}

	select {
	case res := <-op.reply:
		return res
	case <-c.done:
		return opResult{err: ErrChannelClosed}
	}
}

func (c *Channel) markClosed() {
	c.once.Do(func() { close(c.done) })
}

// run is the actor loop. It exits when stopped or when a non-persistent
// channel loses its last subscriber. Panics propagate to the supervisor.
func (c *Channel) run() {
	defer c.markClosed()

	for {
		op := <-c.ops

		switch op.kind {
		case opSubscribe:
			op.reply <- opResult{err: c.subscribe(op.conn, op.now)}

		case opUnsubscribe:
			op.reply <- opResult{err: c.unsubscribe(op.conn2, op.now)}
			if len(c.subs) == 0 && !c.cfg.Persistent {
				c.terminate("empty")
				return
			}

		case opPublish:
			id, err := c.publish(op.pub, op.now)
			op.reply <- opResult{messageID: id, err: err}

		case opInfo:
			op.reply <- opResult{info: c.snapshot()}

		case opStop:
			op.reply <- opResult{}
			c.terminate("stop")
			return
		}
	}
}

func (c *Channel) subscribe(conn *Conn, now time.Time) error {
	if _, ok := c.subs[conn.ID]; ok {
		return nil
	}
	if c.cfg.MaxSubscribers > 0 && len(c.subs) >= c.cfg.MaxSubscribers {
		return ErrChannelFull
	}

	c.subs[conn.ID] = conn
	c.lastActivity = now

	c.broadcastMembership(v1.TypeUserJoined, conn.UserID, conn.ID, now)
	c.log.Info("channel.subscribe", "channel_id", c.id, "name", c.cfg.Name, "user_id", conn.UserID, "subscribers", len(c.subs))
	return nil
}

func (c *Channel) unsubscribe(connID string, now time.Time) error {
	conn, ok := c.subs[connID]
	if !ok {
		return ErrNotSubscribed
	}

	delete(c.subs, connID)
	c.lastActivity = now

	c.broadcastMembership(v1.TypeUserLeft, conn.UserID, connID, now)
	c.log.Info("channel.unsubscribe", "channel_id", c.id, "name", c.cfg.Name, "user_id", conn.UserID, "subscribers", len(c.subs))
	return nil
}

func (c *Channel) publish(req publishReq, now time.Time) (string, error) {
	if _, ok := c.subs[req.senderConn]; !ok {
		return "", ErrNotSubscribed
	}

	msgID, err := NewMessageID(now)
	if err != nil {
		return "", err
	}

	c.msgCount++
	c.lastActivity = now

	payload, _ := json.Marshal(v1.ChannelMessagePayload{
		MessageID:   msgID,
		ChannelID:   c.id,
		ChannelName: c.cfg.Name,
		SenderID:    req.senderID,
		Kind:        req.kind,
		Content:     req.content,
		Metadata:    req.metadata,
		TS:          now,
	})
	env := newEnvelope(v1.TypeChannelMessage, payload, now)

	var skip map[string]struct{}
	if len(req.exclude) > 0 {
		skip = make(map[string]struct{}, len(req.exclude))
		for _, id := range req.exclude {
			skip[id] = struct{}{}
		}
	}

	for _, conn := range c.subs {
		if _, ok := skip[conn.ID]; ok {
			continue
		}
		if !conn.TrySend(env) {
			c.log.Info("channel.send.drop", "channel_id", c.id, "conn_id", conn.ID)
		}
	}

	metrics.ChannelMessagesTotal.Inc()

	// Persistence is best-effort and off the hot path. A failed save loses
	// history, never delivery.
	if c.cfg.Persistent && c.hist != nil {
		msg := history.Message{
			ID:        msgID,
			ChannelID: c.id,
			SenderID:  req.senderID,
			Content:   req.content,
			Kind:      req.kind,
			Metadata:  req.metadata,
			CreatedAt: now,
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.hist.Save(ctx, msg); err != nil {
				c.log.Error("channel.history.save", "channel_id", c.id, "message_id", msg.ID, "err", err)
			}
		}()
	}

	return msgID, nil
}

// broadcastMembership fans a join/leave event to every subscriber except
// the connection it is about.
func (c *Channel) broadcastMembership(typ, userID, exceptConn string, now time.Time) {
	payload, _ := json.Marshal(v1.MembershipPayload{
		ChannelID:   c.id,
		ChannelName: c.cfg.Name,
		UserID:      userID,
		TS:          now,
	})
	env := newEnvelope(typ, payload, now)

	for id, conn := range c.subs {
		if id == exceptConn {
			continue
		}
		if !conn.TrySend(env) {
			c.log.Info("channel.send.drop", "channel_id", c.id, "conn_id", id)
		}
	}
}

func (c *Channel) snapshot() ChannelInfo {
	return ChannelInfo{
		ChannelID:    c.id,
		Name:         c.cfg.Name,
		Topic:        c.cfg.Topic,
		OwnerID:      c.cfg.OwnerID,
		Private:      c.cfg.Private,
		Persistent:   c.cfg.Persistent,
		Subscribers:  len(c.subs),
		MessageCount: c.msgCount,
		CreatedAt:    c.createdAt,
		LastActivity: c.lastActivity,
	}
}

func (c *Channel) terminate(reason string) {
	c.log.Info("channel.terminated", "channel_id", c.id, "name", c.cfg.Name, "reason", reason)
	if c.onTerminate != nil {
		c.onTerminate(c)
	}
}
