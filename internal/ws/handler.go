// Package ws serves the per-session event stream over websockets and
// accepts join, vote and start frames on the same connection.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tournament-vote-backend/internal/bracket"
	"github.com/DoyleJ11/tournament-vote-backend/internal/broadcast"
	"github.com/DoyleJ11/tournament-vote-backend/internal/events"
	"github.com/DoyleJ11/tournament-vote-backend/internal/gameerr"
	"github.com/DoyleJ11/tournament-vote-backend/internal/registry"
	"github.com/DoyleJ11/tournament-vote-backend/internal/session"
	"github.com/DoyleJ11/tournament-vote-backend/internal/types"
)

type Option func(*Handler)

func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

func WithTimeouts(read, write time.Duration) Option {
	return func(h *Handler) {
		if read > 0 {
			h.readTimeout = read
		}
		if write > 0 {
			h.writeTimeout = write
		}
	}
}

// WithPingInterval sets how often idle peers are pinged. Zero disables pings,
// leaving only the read timeout.
func WithPingInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d >= 0 {
			h.pingInterval = d
		}
	}
}

// WithOriginPatterns allows cross-origin upgrades from the given host patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.origins = append(h.origins, patterns...) }
}

// WithAllowedOrigins takes browser origins ("https://vote.example") and
// allows upgrades from their hosts.
func WithAllowedOrigins(origins ...string) Option {
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		patterns = append(patterns, originHost(o))
	}
	return WithOriginPatterns(patterns...)
}

func originHost(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return origin
	}
	return u.Host
}

type Handler struct {
	reg          *registry.Registry
	log          *zap.Logger
	readTimeout  time.Duration
	writeTimeout time.Duration
	pingInterval time.Duration
	origins      []string
}

func NewHandler(reg *registry.Registry, opts ...Option) *Handler {
	h := &Handler{
		reg:          reg,
		log:          zap.NewNop(),
		readTimeout:  10 * time.Minute,
		writeTimeout: 3 * time.Second,
		pingInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP expects the session code as the chi URL param "code" and an
// optional player_id query param for reconnecting players.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(chi.URLParam(r, "code"))
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}
	s, err := h.reg.Get(r.Context(), code)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	playerID := r.URL.Query().Get("player_id")
	sub, err := s.Subscribe(r.Context(), playerID)
	if err != nil {
		h.writeNow(r.Context(), conn, types.ErrorMessage(0, err))
		conn.Close(websocket.StatusPolicyViolation, gameerr.Code(err))
		return
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Unsubscribe(ctx, sub.ID)
	}()

	c := &client{
		h:        h,
		conn:     conn,
		session:  s,
		sub:      sub,
		playerID: playerID,
		replies:  make(chan types.ServerMessage, 16),
		log:      h.log.With(zap.String("code", code), zap.String("sub", sub.ID)),
	}
	c.seen()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go c.writeLoop(ctx, cancel)
	go c.keepalive(ctx, cancel)
	c.readLoop(ctx)
}

func (h *Handler) writeNow(ctx context.Context, conn *websocket.Conn, m types.ServerMessage) {
	payload, _ := json.Marshal(m)
	wctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, payload)
}

type client struct {
	h        *Handler
	conn     *websocket.Conn
	session  *session.Session
	sub      *broadcast.Subscriber
	playerID string // set by a join frame; only the read loop touches it
	replies  chan types.ServerMessage
	log      *zap.Logger
	lastSeen atomic.Int64
}

func (c *client) seen() { c.lastSeen.Store(time.Now().UnixNano()) }

func (c *client) idle() time.Duration { return time.Since(time.Unix(0, c.lastSeen.Load())) }

// writeLoop is the only writer on the connection. Replies are stamped with
// the seq of the last event written so clients can order them.
func (c *client) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	var lastSeq uint64
	for {
		var msg types.ServerMessage
		select {
		case <-ctx.Done():
			return
		case env, ok := <-c.sub.C():
			if !ok {
				// session ended or we fell behind; either way the stream is over
				c.conn.Close(websocket.StatusNormalClosure, "stream closed")
				return
			}
			lastSeq = env.Seq
			msg = types.FromEnvelope(env)
		case msg = <-c.replies:
			msg.Seq = lastSeq
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			c.log.Error("marshal frame", zap.String("type", msg.Type), zap.Error(err))
			continue
		}
		wctx, wcancel := context.WithTimeout(ctx, c.h.writeTimeout)
		err = c.conn.Write(wctx, websocket.MessageText, payload)
		wcancel()
		if err != nil {
			c.log.Debug("write failed", zap.Error(err))
			return
		}
	}
}

// keepalive pings the peer and drops the connection once nothing, not even a
// pong, has arrived for the read timeout. Pongs are only processed while
// readLoop is blocked in Read.
func (c *client) keepalive(ctx context.Context, cancel context.CancelFunc) {
	every := c.h.pingInterval
	if every <= 0 {
		every = c.h.readTimeout / 4
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if c.h.pingInterval > 0 {
			pctx, pcancel := context.WithTimeout(ctx, every)
			if err := c.conn.Ping(pctx); err == nil {
				c.seen()
			}
			pcancel()
		}
		if idle := c.idle(); idle >= c.h.readTimeout {
			c.log.Debug("peer idle, closing", zap.Duration("idle", idle))
			cancel()
			return
		}
	}
}

func (c *client) readLoop(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					c.log.Debug("read failed", zap.Error(err))
				}
			}
			return
		}
		c.seen()

		var cm types.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			c.reply(ctx, types.ErrorMessage(0, gameerr.New(gameerr.ErrInvalidInput, "bad json")))
			continue
		}
		if err := c.dispatch(ctx, cm); err != nil {
			if errors.Is(err, session.ErrClosed) {
				return
			}
			c.reply(ctx, types.ErrorMessage(0, err))
		}
	}
}

func (c *client) dispatch(ctx context.Context, cm types.ClientMessage) error {
	switch cm.Type {
	case types.TypeHeartbeat:
		c.reply(ctx, types.Reply(types.TypeHeartbeatAck, 0, nil))
		return nil

	case types.TypeSync:
		snap, err := c.session.Snapshot(ctx)
		if err != nil {
			return err
		}
		c.reply(ctx, types.Reply(string(events.KindSnapshot), 0, snap))
		return nil

	case types.TypeJoin:
		var d types.JoinData
		if err := cm.Decode(&d); err != nil {
			return err
		}
		if c.playerID != "" {
			return gameerr.New(gameerr.ErrInvalidState, "connection already belongs to a player")
		}
		p, err := c.session.Join(ctx, d.Nickname, c.sub.ID)
		if err != nil {
			return err
		}
		c.playerID = p.ID
		c.reply(ctx, types.Reply(types.TypeJoined, 0, events.PlayerView{
			ID: p.ID, Nickname: p.Nickname, IsOrganizer: p.IsOrganizer, Spectator: p.Spectator, Connected: true, JoinedAt: p.JoinedAt,
		}))
		return nil

	case types.TypeVote:
		var d types.VoteData
		if err := cm.Decode(&d); err != nil {
			return err
		}
		if c.playerID == "" {
			return gameerr.New(gameerr.ErrPreconditionFailed, "join before voting")
		}
		res, err := c.session.Vote(ctx, c.playerID, bracket.PairKey{Round: d.RoundNumber, Index: d.PairIndex}, d.ItemID)
		if err != nil {
			return err
		}
		c.reply(ctx, types.Reply(types.TypeVoteAccepted, 0, map[string]any{
			"outcome":     res.Outcome.String(),
			"vote_counts": res.Counts,
		}))
		return nil

	case types.TypeStart:
		if c.playerID == "" {
			return gameerr.New(gameerr.ErrPreconditionFailed, "join before starting")
		}
		if err := c.session.Start(ctx, c.playerID); err != nil {
			return err
		}
		c.reply(ctx, types.Reply(types.TypeStarted, 0, nil))
		return nil

	default:
		return gameerr.New(gameerr.ErrInvalidInput, "unknown message type %q", cm.Type)
	}
}

func (c *client) reply(ctx context.Context, m types.ServerMessage) {
	select {
	case c.replies <- m:
	case <-ctx.Done():
	}
}
