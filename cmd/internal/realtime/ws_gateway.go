package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"beacon/cmd/identity"
	"beacon/cmd/internal/auth/session"
	"beacon/cmd/internal/history"
	"beacon/cmd/internal/metrics"
	v1 "beacon/shared/contracts/wire/v1"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "beacon.wire.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Authenticator is the slice of the auth service the gateway needs.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string, rememberMe bool, metadata map[string]string) (identity.User, session.Session, error)
	Refresh(now time.Time, refreshToken string) (session.Rotated, error)
	Logout(now time.Time, accessToken, refreshToken string) error
	GeneratePasswordResetToken(ctx context.Context, email string, now time.Time) (string, time.Time, error)
	ResetPassword(ctx context.Context, resetToken, newPassword string, now time.Time) error
	TouchSession(sessionID string, now time.Time)
}

// WSGateway is the WebSocket entrypoint for Beacon.
//
// It enforces origin policy, subprotocol selection, rate limits, and
// heartbeats, and routes validated envelopes to the auth service, channel
// registry, connection manager, and history store. The first request on a
// connection must be auth.login (or auth.refresh); everything else is
// rejected until the connection is authenticated.
type WSGateway struct {
	log      *slog.Logger
	auth     Authenticator
	registry *Registry
	conns    *ConnManager
	presence *Presence
	hist     history.Store

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewWSGateway constructs a gateway with secure defaults.
func NewWSGateway(log *slog.Logger, auth Authenticator, registry *Registry, conns *ConnManager, presence *Presence, hist history.Store) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	g := &WSGateway{
		log:      log,
		auth:     auth,
		registry: registry,
		conns:    conns,
		presence: presence,
		hist:     hist,
	}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("BEACON_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("BEACON_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("BEACON_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy: same-host is ok,
	// cross-origin requires OriginPatterns. Derive the patterns from the
	// allowlist so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("BEACON_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("BEACON_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("BEACON_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("BEACON_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("BEACON_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("BEACON_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("BEACON_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the wire loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = wsConn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := wsConn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = wsConn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	wsConn.SetReadLimit(maxFrameBytes)

	connID, err := NewConnID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.connid.fail", "err", err)
		_ = wsConn.Close(websocket.StatusInternalError, "id generation failed")
		return
	}
	client := NewConn(connID, "", "", g.sendQueueSize)

	metrics.WSConnections.Inc()
	defer metrics.WSConnections.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// subscribed is only touched by the read loop.
	subscribed := make(map[string]*Channel)

	var closeOnce sync.Once

	// shutdown is idempotent and safe from any goroutine. It does NOT
	// close client.Send, and it does not touch the subscribed map (owned
	// by the read loop); channel membership is cleaned up after the read
	// loop exits.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			if client.UserID != "" {
				g.presence.Unregister(connID)
				g.conns.Unregister(connID)
			}

			// Release local state before the close handshake: Close blocks
			// on a dead peer until its timeout, and membership cleanup must
			// not wait for that.
			client.Close()
			cancel()
			_ = wsConn.Close(code, reason)
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				// External close (logout elsewhere, presence eviction).
				// Tear the socket down instead of waiting for read idle.
				shutdown(websocket.StatusGoingAway, "connection closed")
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, wsConn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := wsConn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", connID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0

				// A pong is proof of life as good as an inbound frame.
				if client.UserID != "" {
					g.presence.Heartbeat(connID, time.Now().UTC())
				}
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, wsConn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(client, env.ID, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "conn_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(client, env.ID, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.ValidateRequest(); err != nil {
			g.trySendError(client, env.ID, "bad_envelope", err.Error())
			continue readLoop
		}

		if client.UserID != "" {
			g.presence.Heartbeat(connID, now)
			g.auth.TouchSession(client.SessionID, now)
		}

		// Pre-auth, only login, refresh, and the password reset flow are
		// accepted (a locked-out user cannot log in first).
		if client.UserID == "" && !preAuthAllowed(env.Type) {
			g.trySendError(client, env.ID, "unauthenticated", "login first")
			continue readLoop
		}

		switch env.Type {
		case v1.TypeAuthLogin:
			if err := g.onLogin(ctx, client, env, now); err != nil {
				g.trySendError(client, env.ID, "auth_failed", err.Error())
				continue readLoop
			}

		case v1.TypeAuthRefresh:
			if err := g.onRefresh(client, env, now); err != nil {
				g.trySendError(client, env.ID, "refresh_failed", err.Error())
				continue readLoop
			}

		case v1.TypeAuthLogout:
			g.onLogout(client, env, now)
			shutdown(websocket.StatusNormalClosure, "logout")
			break readLoop

		case v1.TypeAuthResetRequest:
			if err := g.onResetRequest(ctx, client, env, now); err != nil {
				g.trySendError(client, env.ID, "reset_failed", err.Error())
				continue readLoop
			}

		case v1.TypeAuthResetConfirm:
			if err := g.onResetConfirm(ctx, client, env, now); err != nil {
				g.trySendError(client, env.ID, "reset_failed", err.Error())
				continue readLoop
			}

		case v1.TypeChannelCreate:
			if err := g.onChannelCreate(client, env, now); err != nil {
				g.trySendError(client, env.ID, "create_failed", err.Error())
				continue readLoop
			}

		case v1.TypeChannelSubscribe:
			ch, err := g.onChannelSubscribe(client, env, now)
			if err != nil {
				g.trySendError(client, env.ID, "subscribe_failed", err.Error())
				continue readLoop
			}
			subscribed[ch.ID()] = ch

		case v1.TypeChannelUnsubscribe:
			ch, err := g.onChannelUnsubscribe(client, env, now)
			if err != nil {
				g.trySendError(client, env.ID, "unsubscribe_failed", err.Error())
				continue readLoop
			}
			delete(subscribed, ch.ID())

		case v1.TypeChannelPublish:
			if err := g.onChannelPublish(client, env, now); err != nil {
				g.trySendError(client, env.ID, "publish_failed", err.Error())
				continue readLoop
			}

		case v1.TypeChannelInfo, v1.TypeChannelGet:
			if err := g.onChannelInfo(client, subscribed, env); err != nil {
				g.trySendError(client, env.ID, "info_failed", err.Error())
				continue readLoop
			}

		case v1.TypeChannelList:
			if err := g.onChannelList(client, subscribed, env, now); err != nil {
				g.trySendError(client, env.ID, "list_failed", err.Error())
				continue readLoop
			}

		case v1.TypeMessageSend:
			if err := g.onMessageSend(ctx, client, env, now); err != nil {
				g.trySendError(client, env.ID, "send_failed", err.Error())
				continue readLoop
			}

		case v1.TypeMessageHistory:
			if err := g.onMessageHistory(ctx, client, env); err != nil {
				g.trySendError(client, env.ID, "history_failed", err.Error())
				continue readLoop
			}

		case v1.TypeMessageMarkRead:
			if err := g.onMarkRead(ctx, client, env, now); err != nil {
				g.trySendError(client, env.ID, "mark_read_failed", err.Error())
				continue readLoop
			}

		default:
			g.trySendError(client, env.ID, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")

	// The read loop is the sole owner of subscribed, so membership cleanup
	// happens here, after it has exited.
	leaveAt := time.Now().UTC()
	for _, ch := range subscribed {
		_ = ch.Unsubscribe(connID, leaveAt)
	}

	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- auth handlers ----

func (g *WSGateway) onLogin(ctx context.Context, client *Conn, env v1.Envelope, now time.Time) error {
	if client.UserID != "" {
		return errors.New("already authenticated")
	}

	var p v1.AuthLoginPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	u, sess, err := g.auth.Authenticate(ctx, p.Username, p.Password, p.RememberMe, p.Metadata)
	if err != nil {
		return err
	}

	client.UserID = u.ID
	client.SessionID = sess.ID

	g.conns.Register(client)
	g.presence.Register(client.ID, u.ID, now, p.Metadata)

	okPayload, _ := json.Marshal(v1.AuthLoginOKPayload{
		UserID:       u.ID,
		Username:     u.Username,
		SessionID:    sess.ID,
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		ExpiresIn:    int64(sess.AccessExpiresAt.Sub(now) / time.Second),
	})
	if !g.enqueue(client, newReplyEnvelope(v1.TypeOK, env.ID, okPayload, now)) {
		return errors.New("backpressure: login ok")
	}
	return nil
}

func (g *WSGateway) onRefresh(client *Conn, env v1.Envelope, now time.Time) error {
	var p v1.AuthRefreshPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	rot, err := g.auth.Refresh(now, p.RefreshToken)
	if err != nil {
		return err
	}

	okPayload, _ := json.Marshal(v1.AuthRefreshOKPayload{
		AccessToken:  rot.AccessToken,
		RefreshToken: rot.RefreshToken,
		ExpiresIn:    int64(rot.ExpiresIn / time.Second),
	})
	if !g.enqueue(client, newReplyEnvelope(v1.TypeOK, env.ID, okPayload, now)) {
		return errors.New("backpressure: refresh ok")
	}
	return nil
}

func (g *WSGateway) onLogout(client *Conn, env v1.Envelope, now time.Time) {
	var p v1.AuthLogoutPayload
	if env.Payload != nil {
		_ = json.Unmarshal(env.Payload, &p)
	}

	if err := g.auth.Logout(now, p.AccessToken, p.RefreshToken); err != nil {
		g.log.Info("ws.logout.fail", "conn_id", client.ID, "err", err)
	}
	g.enqueue(client, newReplyEnvelope(v1.TypeOK, env.ID, nil, now))
}

// preAuthAllowed reports whether a request type may be handled before the
// connection has authenticated.
func preAuthAllowed(typ string) bool {
	switch typ {
	case v1.TypeAuthLogin, v1.TypeAuthRefresh, v1.TypeAuthResetRequest, v1.TypeAuthResetConfirm:
		return true
	}
	return false
}

func (g *WSGateway) onResetRequest(ctx context.Context, client *Conn, env v1.Envelope, now time.Time) error {
	var p v1.AuthResetRequestPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	email := strings.TrimSpace(p.Email)
	if email == "" {
		return errors.New("missing email")
	}

	tok, exp, err := g.auth.GeneratePasswordResetToken(ctx, email, now)
	if err != nil {
		return err
	}

	// The token is echoed to the requester; deployments with an out-of-band
	// delivery channel receive it via the notify sink instead.
	okPayload, _ := json.Marshal(v1.AuthResetRequestOKPayload{ResetToken: tok, ExpiresAt: exp})
	if !g.enqueue(client, newReplyEnvelope(v1.TypeOK, env.ID, okPayload, now)) {
		return errors.New("backpressure: reset request ok")
	}
	return nil
}

func (g *WSGateway) onResetConfirm(ctx context.Context, client *Conn, env v1.Envelope, now time.Time) error {
	var p v1.AuthResetConfirmPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	if err := g.auth.ResetPassword(ctx, p.ResetToken, p.NewPassword, now); err != nil {
		return err
	}

	if !g.enqueue(client, newReplyEnvelope(v1.TypeOK, env.ID, nil, now)) {
		return errors.New("backpressure: reset confirm ok")
	}
	return nil
}

// ---- channel handlers ----

func (g *WSGateway) onChannelCreate(client *Conn, env v1.Envelope, now time.Time) error {
	var p v1.ChannelCreatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	name := strings.TrimSpace(p.Name)
	if name == "" {
		return errors.New("missing name")
	}

	ch, err := g.registry.Create(now, ChannelConfig{
		Name:           name,
		Topic:          strings.TrimSpace(p.Topic),
		OwnerID:        client.UserID,
		Private:        p.Private,
		Persistent:     p.Persistent,
		MaxSubscribers: p.MaxSubscribers,
		Metadata:       p.Metadata,
	})
	if err != nil {
		return err
	}

	okPayload, _ := json.Marshal(v1.ChannelCreateOKPayload{ChannelID: ch.ID(), Name: ch.Name()})
	if !g.enqueue(client, newReplyEnvelope(v1.TypeOK, env.ID, okPayload, now)) {
		return errors.New("backpressure: create ok")
	}
	return nil
}

func (g *WSGateway) onChannelSubscribe(client *Conn, env v1.Envelope, now time.Time) (*Channel, error) {
	ch, err := g.channelFromRef(env)
	if err != nil {
		return nil, err
	}

	if err := ch.Subscribe(client, now); err != nil {
		return nil, err
	}

	okPayload, _ := json.Marshal(v1.ChannelCreateOKPayload{ChannelID: ch.ID(), Name: ch.Name()})
	if !g.enqueue(client, newReplyEnvelope(v1.TypeOK, env.ID, okPayload, now)) {
		_ = ch.Unsubscribe(client.ID, now)
		return nil, errors.New("backpressure: subscribe ok")
	}
	return ch, nil
}

func (g *WSGateway) onChannelUnsubscribe(client *Conn, env v1.Envelope, now time.Time) (*Channel, error) {
	ch, err := g.channelFromRef(env)
	if err != nil {
		return nil, err
	}

	if err := ch.Unsubscribe(client.ID, now); err != nil {
		return nil, err
	}

	g.enqueue(client, newReplyEnvelope(v1.TypeOK, env.ID, nil, now))
	return ch, nil
}

func (g *WSGateway) onChannelPublish(client *Conn, env v1.Envelope, now time.Time) error {
	var p v1.ChannelPublishPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	content := strings.TrimSpace(p.Content)
	if content == "" {
		return errors.New("empty content")
	}
	if len([]rune(content)) > maxMessageChars {
		return fmt.Errorf("message too long: max=%d chars", maxMessageChars)
	}

	ch, err := g.registry.GetByName(strings.TrimSpace(p.ChannelName))
	if err != nil {
		return err
	}

	msgID, err := ch.Publish(client.ID, client.UserID, content, p.Kind, p.Metadata, p.Exclude, now)
	if err != nil {
		return err
	}

	okPayload, _ := json.Marshal(v1.ChannelPublishOKPayload{MessageID: msgID})
	if !g.enqueue(client, newReplyEnvelope(v1.TypeOK, env.ID, okPayload, now)) {
		return errors.New("backpressure: publish ok")
	}
	return nil
}

// onChannelList answers with every channel the requester may see. Private
// channels are listed only for their owner and current subscribers, the
// same visibility rule channel.info applies.
func (g *WSGateway) onChannelList(client *Conn, subscribed map[string]*Channel, env v1.Envelope, now time.Time) error {
	infos := g.registry.List()

	out := make([]v1.ChannelSummary, 0, len(infos))
	for _, info := range infos {
		if info.Private && info.OwnerID != client.UserID {
			if _, ok := subscribed[info.ChannelID]; !ok {
				continue
			}
		}
		out = append(out, v1.ChannelSummary{
			ChannelID:    info.ChannelID,
			Name:         info.Name,
			Topic:        info.Topic,
			Private:      info.Private,
			Persistent:   info.Persistent,
			Subscribers:  info.Subscribers,
			MessageCount: info.MessageCount,
		})
	}

	okPayload, _ := json.Marshal(v1.ChannelListOKPayload{Channels: out})
	if !g.enqueue(client, newReplyEnvelope(v1.TypeOK, env.ID, okPayload, now)) {
		return errors.New("backpressure: list ok")
	}
	return nil
}

func (g *WSGateway) onChannelInfo(client *Conn, subscribed map[string]*Channel, env v1.Envelope) error {
	ch, err := g.channelFromRef(env)
	if err != nil {
		return err
	}

	info, err := ch.Info()
	if err != nil {
		return err
	}

	// Private channel details are for the owner and subscribers only.
	if info.Private && info.OwnerID != client.UserID {
		if _, ok := subscribed[info.ChannelID]; !ok {
			return ErrChannelNotFound
		}
	}

	okPayload, _ := json.Marshal(v1.ChannelInfoOKPayload{
		ChannelID:    info.ChannelID,
		Name:         info.Name,
		Topic:        info.Topic,
		OwnerID:      info.OwnerID,
		Subscribers:  info.Subscribers,
		MessageCount: info.MessageCount,
		CreatedAt:    info.CreatedAt,
		LastActivity: info.LastActivity,
	})
	if !g.enqueue(client, newReplyEnvelope(v1.TypeOK, env.ID, okPayload, time.Now().UTC())) {
		return errors.New("backpressure: info ok")
	}
	return nil
}

func (g *WSGateway) channelFromRef(env v1.Envelope) (*Channel, error) {
	var p v1.ChannelRefPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, errors.New("missing name")
	}
	return g.registry.GetByName(name)
}

// ---- direct message handlers ----

func (g *WSGateway) onMessageSend(ctx context.Context, client *Conn, env v1.Envelope, now time.Time) error {
	var p v1.MessageSendPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	recipient := strings.TrimSpace(p.RecipientID)
	if recipient == "" {
		return errors.New("missing recipient_id")
	}
	content := strings.TrimSpace(p.Content)
	if content == "" {
		return errors.New("empty content")
	}
	if len([]rune(content)) > maxMessageChars {
		return fmt.Errorf("message too long: max=%d chars", maxMessageChars)
	}

	msgID, err := NewMessageID(now)
	if err != nil {
		return err
	}

	if err := g.hist.Save(ctx, history.Message{
		ID:          msgID,
		SenderID:    client.UserID,
		RecipientID: recipient,
		Content:     content,
		Metadata:    p.Metadata,
		CreatedAt:   now,
	}); err != nil {
		return fmt.Errorf("store save: %w", err)
	}

	pushPayload, _ := json.Marshal(v1.DirectMessagePayload{
		MessageID: msgID,
		SenderID:  client.UserID,
		Content:   content,
		Metadata:  p.Metadata,
		TS:        now,
	})
	push := newEnvelope(v1.TypeDirectMessage, pushPayload, now)

	delivered := true
	if err := g.conns.SendToUser(recipient, push); err != nil {
		// Offline recipients read it from history later.
		delivered = false
	}

	okPayload, _ := json.Marshal(v1.MessageSendOKPayload{MessageID: msgID, Delivered: delivered})
	if !g.enqueue(client, newReplyEnvelope(v1.TypeOK, env.ID, okPayload, now)) {
		return errors.New("backpressure: send ok")
	}
	return nil
}

func (g *WSGateway) onMessageHistory(ctx context.Context, client *Conn, env v1.Envelope) error {
	var p v1.MessageHistoryPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	var (
		msgs []history.Message
		err  error
	)
	switch {
	case p.ChannelID != "" && p.PeerID != "":
		return errors.New("channel_id and peer_id are mutually exclusive")
	case p.ChannelID != "":
		msgs, err = g.hist.ListByChannel(ctx, p.ChannelID, p.Limit)
	case p.PeerID != "":
		msgs, err = g.hist.ListDirect(ctx, client.UserID, p.PeerID, p.Limit)
	default:
		return errors.New("missing channel_id or peer_id")
	}
	if err != nil {
		return err
	}

	entries := make([]v1.HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, v1.HistoryEntry{
			MessageID: m.ID,
			ChannelID: m.ChannelID,
			SenderID:  m.SenderID,
			Content:   m.Content,
			TS:        m.CreatedAt,
			Read:      m.Read,
		})
	}

	okPayload, _ := json.Marshal(v1.MessageHistoryOKPayload{Messages: entries})
	if !g.enqueue(client, newReplyEnvelope(v1.TypeOK, env.ID, okPayload, time.Now().UTC())) {
		return errors.New("backpressure: history ok")
	}
	return nil
}

func (g *WSGateway) onMarkRead(ctx context.Context, client *Conn, env v1.Envelope, now time.Time) error {
	var p v1.MessageMarkReadPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if strings.TrimSpace(p.MessageID) == "" {
		return errors.New("missing message_id")
	}

	if err := g.hist.MarkRead(ctx, p.MessageID, client.UserID, now); err != nil {
		return err
	}

	g.enqueue(client, newReplyEnvelope(v1.TypeOK, env.ID, nil, now))
	return nil
}

// ---- send helpers ----

func (g *WSGateway) trySendError(client *Conn, reqID, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	_ = g.enqueue(client, newReplyEnvelope(v1.TypeError, reqID, p, time.Now().UTC()))
}

func (g *WSGateway) enqueue(client *Conn, env v1.Envelope) bool {
	return client.TrySend(env)
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewRandomHex(10),
		TS:      ts,
		Payload: payload,
	}
}

// newReplyEnvelope correlates a response with its request by reusing the
// request envelope id.
func newReplyEnvelope(typ, reqID string, payload json.RawMessage, ts time.Time) v1.Envelope {
	env := newEnvelope(typ, payload, ts)
	if reqID != "" {
		env.ID = reqID
	}
	return env
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors surface from json.Unmarshal, not conn.Read.
	// The string fallback covers wrapped errors.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host.
	// Keep this strict: only hosts extracted from the allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Stable order for logs and tests.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
