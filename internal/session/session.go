// Package session runs one tournament session as an actor goroutine. All
// mutations of a session's engine state happen on that goroutine, one
// message at a time; sessions never share locks with each other.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tournament-vote-backend/internal/bracket"
	"github.com/DoyleJ11/tournament-vote-backend/internal/broadcast"
	"github.com/DoyleJ11/tournament-vote-backend/internal/catalog"
	"github.com/DoyleJ11/tournament-vote-backend/internal/engine"
	"github.com/DoyleJ11/tournament-vote-backend/internal/events"
	"github.com/DoyleJ11/tournament-vote-backend/internal/gameerr"
	"github.com/DoyleJ11/tournament-vote-backend/internal/metrics"
	"github.com/DoyleJ11/tournament-vote-backend/internal/tally"
)

var ErrClosed = gameerr.New(gameerr.ErrInvalidState, "session closed")

type Config struct {
	Code          string
	Competition   catalog.Competition
	OrganizerName string
	Rules         engine.Rules
	// Seed drives item shuffling. Zero picks a random seed.
	Seed int64
}

type Option func(*Session)

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithOnComplete registers a callback run, off the session goroutine, with
// the result of a completed game.
func WithOnComplete(fn func(events.Result)) Option {
	return func(s *Session) { s.onComplete = fn }
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Session) {
		if fn != nil {
			s.newID = fn
		}
	}
}

type Session struct {
	id    string
	code  string
	inbox chan msg
	done  chan struct{}
	ctx   context.Context
	stop  context.CancelFunc

	topic      *broadcast.Topic
	state      *engine.State
	now        func() time.Time
	newID      func() string
	log        *zap.Logger
	onComplete func(events.Result)

	timer    *time.Timer
	timerGen uint64

	conns map[string]int    // player id -> live subscriptions
	subs  map[string]string // subscriber id -> player id, "" for viewers

	status       atomic.Value
	lastActivity atomic.Int64
	finishedAt   atomic.Int64
	createdAt    time.Time
}

// New creates a session in the lobby with the organizer joined, and starts
// its actor goroutine. The session stops when parent is cancelled or
// Shutdown is called.
func New(parent context.Context, topic *broadcast.Topic, cfg Config, opts ...Option) (*Session, engine.Player, error) {
	s := &Session{
		id:    uuid.NewString(),
		code:  cfg.Code,
		inbox: make(chan msg, 64),
		done:  make(chan struct{}),
		topic: topic,
		now:   time.Now,
		newID: uuid.NewString,
		log:   zap.NewNop(),
		conns: make(map[string]int),
		subs:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(zap.String("code", cfg.Code))

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	now := s.now()
	st, err := engine.NewState(engine.Params{
		Code:          cfg.Code,
		SessionID:     s.id,
		Competition:   cfg.Competition,
		OrganizerID:   s.newID(),
		OrganizerName: cfg.OrganizerName,
		Rules:         cfg.Rules,
		Seed:          seed,
		At:            now,
	})
	if err != nil {
		return nil, engine.Player{}, err
	}
	s.state = st
	s.createdAt = now
	s.status.Store(st.Status)
	s.lastActivity.Store(now.UnixNano())

	organizer, _ := st.Player(st.OrganizerID)
	s.ctx, s.stop = context.WithCancel(parent)
	go s.loop()
	return s, organizer, nil
}

func (s *Session) ID() string   { return s.id }
func (s *Session) Code() string { return s.code }

// Done is closed once the actor goroutine has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) loop() {
	defer close(s.done)
	defer s.disarm()
	for {
		select {
		case <-s.ctx.Done():
			s.topic.Close()
			return
		case m := <-s.inbox:
			if _, ok := m.(shutdownMsg); ok {
				s.topic.Close()
				s.stop()
				return
			}
			s.handle(m)
		}
	}
}

func (s *Session) handle(m msg) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session panicked, abandoning", zap.Any("panic", r), zap.String("msg", fmt.Sprintf("%T", m)))
			s.forceAbandon("internal error")
			if f, ok := m.(failer); ok {
				f.fail(gameerr.New(gameerr.ErrInvalidState, "session failed"))
			}
		}
	}()

	switch m := m.(type) {
	case joinMsg:
		m.reply <- s.handleJoin(m)
	case startMsg:
		_, err := s.apply(engine.Command{Type: engine.CmdStart, PlayerID: m.playerID})
		m.reply <- err
	case voteMsg:
		m.reply <- s.handleVote(m)
	case subscribeMsg:
		m.reply <- s.handleSubscribe(m)
	case unsubscribeMsg:
		s.handleUnsubscribe(m.subID)
		m.reply <- struct{}{}
	case snapshotMsg:
		m.reply <- snapshotReply{snap: engine.Snapshot(s.state)}
	case playersMsg:
		m.reply <- playersReply{players: s.state.PlayerViews()}
	case resultMsg:
		res, ok := engine.Result(s.state)
		if !ok {
			m.reply <- resultReply{err: gameerr.New(gameerr.ErrInvalidState, "session %s has not completed", s.code)}
			break
		}
		m.reply <- resultReply{res: res}
	case abandonMsg:
		_, err := s.apply(engine.Command{Type: engine.CmdAbandon, Reason: m.reason})
		m.reply <- err
	case timerMsg:
		s.handleTimer(m)
	default:
		panic(fmt.Sprintf("unhandled session message %T", m))
	}
}

func (s *Session) handleJoin(m joinMsg) joinReply {
	out, err := s.apply(engine.Command{Type: engine.CmdJoin, PlayerID: s.newID(), Nickname: m.nickname})
	if err != nil {
		return joinReply{err: err}
	}
	p := *out.Player
	if bound, ok := s.subs[m.subID]; ok && m.subID != "" && bound == "" {
		s.subs[m.subID] = p.ID
		s.presence(p.ID, +1)
		if cur, ok := s.state.Player(p.ID); ok {
			p = cur
		}
	}
	s.log.Debug("player joined", zap.String("player_id", p.ID))
	return joinReply{player: p}
}

func (s *Session) handleVote(m voteMsg) voteReply {
	out, err := s.apply(engine.Command{Type: engine.CmdVote, PlayerID: m.playerID, Pair: m.key, ItemID: m.itemID})
	if err != nil {
		metrics.RecordVoteRejected(gameerr.Code(err))
		return voteReply{err: err}
	}
	metrics.RecordVoteAccepted(out.Vote.Outcome.String())
	return voteReply{res: *out.Vote}
}

func (s *Session) handleSubscribe(m subscribeMsg) subscribeReply {
	if m.playerID != "" {
		if _, ok := s.state.Player(m.playerID); !ok {
			return subscribeReply{err: engine.ErrUnknownPlayer}
		}
		s.presence(m.playerID, +1)
	}
	sub := s.topic.Subscribe(m.playerID, engine.Snapshot(s.state))
	s.subs[sub.ID] = m.playerID
	s.touch()
	return subscribeReply{sub: sub}
}

func (s *Session) handleUnsubscribe(subID string) {
	playerID, ok := s.subs[subID]
	if !ok {
		return
	}
	delete(s.subs, subID)
	s.topic.Unsubscribe(subID)
	s.touch()
	if playerID != "" {
		s.presence(playerID, -1)
	}
}

// presence tracks live subscriptions per player and tells the engine when a
// player gains its first or loses its last one.
func (s *Session) presence(playerID string, delta int) {
	prev := s.conns[playerID]
	next := prev + delta
	if next <= 0 {
		delete(s.conns, playerID)
	} else {
		s.conns[playerID] = next
	}

	var connected bool
	switch {
	case prev == 0 && next > 0:
		connected = true
	case prev > 0 && next <= 0:
		connected = false
	default:
		return
	}
	if _, err := s.apply(engine.Command{Type: engine.CmdSetPresence, PlayerID: playerID, Connected: connected}); err != nil {
		s.log.Warn("presence update failed", zap.String("player_id", playerID), zap.Error(err))
	}
}

func (s *Session) handleTimer(m timerMsg) {
	if m.gen != s.timerGen {
		return
	}
	s.timer = nil

	cmd := engine.Command{Pair: m.timer.Pair}
	switch m.timer.Kind {
	case engine.TimerPair:
		cmd.Type = engine.CmdPairTimeout
	case engine.TimerRound:
		cmd.Type = engine.CmdAdvanceRound
	default:
		return
	}
	if _, err := s.apply(cmd); err != nil {
		s.log.Debug("timer ignored", zap.String("command", string(cmd.Type)), zap.Error(err))
	}
}

// apply runs cmd through the engine and carries out the outcome.
func (s *Session) apply(cmd engine.Command) (engine.Outcome, error) {
	cmd.At = s.now()
	out, err := engine.Apply(s.state, cmd)
	if err != nil {
		return out, err
	}
	s.touch()
	s.publish(out.Events)
	switch {
	case out.Timer != nil:
		s.arm(*out.Timer)
	case out.CancelTimer:
		s.disarm()
	}
	// finishedAt before status: a terminal Stats always carries its finish time
	if out.Finished {
		s.finished()
	}
	s.status.Store(s.state.Status)
	return out, nil
}

func (s *Session) publish(evs []events.Event) {
	for _, ev := range evs {
		if pr, ok := ev.(events.PairResolved); ok {
			switch {
			case pr.Bye:
				metrics.RecordPairResolved("bye")
			case pr.TimedOut:
				metrics.RecordPairResolved("timeout")
			default:
				metrics.RecordPairResolved("votes")
			}
		}
		s.topic.Publish(ev)
	}
}

func (s *Session) arm(t engine.Timer) {
	s.disarm()
	gen := s.timerGen
	s.timer = time.AfterFunc(t.After, func() { s.post(timerMsg{gen: gen, timer: t}) })
}

// disarm stops the pending timer. Bumping the generation makes a timer that
// already fired and is queued in the inbox a no-op.
func (s *Session) disarm() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

func (s *Session) finished() {
	at := s.state.FinishedAt
	if at.IsZero() {
		at = s.now()
	}
	s.finishedAt.Store(at.UnixNano())
	metrics.RecordSessionFinished(string(s.state.Status))
	s.log.Info("session finished", zap.String("status", string(s.state.Status)))

	if res, ok := engine.Result(s.state); ok && s.onComplete != nil {
		go s.onComplete(res)
	}
}

// forceAbandon moves the session to Abandoned outside the engine. Used when
// a handler panicked and the state can no longer be trusted.
func (s *Session) forceAbandon(reason string) {
	s.disarm()
	if s.state.Status.Terminal() {
		return
	}
	s.state.Status = engine.StatusAbandoned
	s.state.FinishedAt = s.now()
	s.finished()
	s.status.Store(s.state.Status)
	s.topic.Publish(events.GameCancelled{Reason: reason})
}

func (s *Session) touch() { s.lastActivity.Store(s.now().UnixNano()) }

// post delivers an internal message unless the session has stopped.
func (s *Session) post(m msg) {
	select {
	case s.inbox <- m:
	case <-s.done:
	}
}

// Stats is a lock-free view for housekeeping; it never touches the actor.
type Stats struct {
	Code         string
	Status       engine.Status
	Connections  int
	CreatedAt    time.Time
	LastActivity time.Time
	FinishedAt   time.Time
}

func (s *Session) Stats() Stats {
	st := Stats{
		Code:         s.code,
		Status:       s.status.Load().(engine.Status),
		Connections:  s.topic.Len(),
		CreatedAt:    s.createdAt,
		LastActivity: time.Unix(0, s.lastActivity.Load()),
	}
	if f := s.finishedAt.Load(); f != 0 {
		st.FinishedAt = time.Unix(0, f)
	}
	return st
}

func (s *Session) send(ctx context.Context, m msg) error {
	select {
	case s.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

func await[T any](ctx context.Context, s *Session, ch <-chan T) (T, error) {
	var zero T
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-s.done:
		// the reply may have raced with shutdown
		select {
		case v := <-ch:
			return v, nil
		default:
			return zero, ErrClosed
		}
	}
}

// Join adds a player. If subID names an anonymous subscription of this
// session, the subscription is bound to the new player.
func (s *Session) Join(ctx context.Context, nickname, subID string) (engine.Player, error) {
	reply := make(chan joinReply, 1)
	if err := s.send(ctx, joinMsg{nickname: nickname, subID: subID, reply: reply}); err != nil {
		return engine.Player{}, err
	}
	r, err := await(ctx, s, reply)
	if err != nil {
		return engine.Player{}, err
	}
	return r.player, r.err
}

// Start begins the tournament. An empty playerID is an organizer action
// from a trusted surface.
func (s *Session) Start(ctx context.Context, playerID string) error {
	reply := make(chan error, 1)
	if err := s.send(ctx, startMsg{playerID: playerID, reply: reply}); err != nil {
		return err
	}
	err, waitErr := await(ctx, s, reply)
	if waitErr != nil {
		return waitErr
	}
	return err
}

func (s *Session) Vote(ctx context.Context, playerID string, key bracket.PairKey, itemID string) (tally.Result, error) {
	reply := make(chan voteReply, 1)
	if err := s.send(ctx, voteMsg{playerID: playerID, key: key, itemID: itemID, reply: reply}); err != nil {
		return tally.Result{}, err
	}
	r, err := await(ctx, s, reply)
	if err != nil {
		return tally.Result{}, err
	}
	return r.res, r.err
}

func (s *Session) Snapshot(ctx context.Context) (events.Snapshot, error) {
	reply := make(chan snapshotReply, 1)
	if err := s.send(ctx, snapshotMsg{reply: reply}); err != nil {
		return events.Snapshot{}, err
	}
	r, err := await(ctx, s, reply)
	if err != nil {
		return events.Snapshot{}, err
	}
	return r.snap, r.err
}

func (s *Session) Players(ctx context.Context) ([]events.PlayerView, error) {
	reply := make(chan playersReply, 1)
	if err := s.send(ctx, playersMsg{reply: reply}); err != nil {
		return nil, err
	}
	r, err := await(ctx, s, reply)
	if err != nil {
		return nil, err
	}
	return r.players, r.err
}

func (s *Session) Result(ctx context.Context) (events.Result, error) {
	reply := make(chan resultReply, 1)
	if err := s.send(ctx, resultMsg{reply: reply}); err != nil {
		return events.Result{}, err
	}
	r, err := await(ctx, s, reply)
	if err != nil {
		return events.Result{}, err
	}
	return r.res, r.err
}

// Subscribe opens an event stream. The first envelope is a snapshot of the
// current state. A non-empty playerID marks that player connected.
func (s *Session) Subscribe(ctx context.Context, playerID string) (*broadcast.Subscriber, error) {
	reply := make(chan subscribeReply, 1)
	if err := s.send(ctx, subscribeMsg{playerID: playerID, reply: reply}); err != nil {
		return nil, err
	}
	r, err := await(ctx, s, reply)
	if err != nil {
		return nil, err
	}
	return r.sub, r.err
}

// Unsubscribe closes a stream opened by Subscribe. Unknown ids are ignored.
func (s *Session) Unsubscribe(ctx context.Context, subID string) error {
	reply := make(chan struct{}, 1)
	if err := s.send(ctx, unsubscribeMsg{subID: subID, reply: reply}); err != nil {
		return err
	}
	_, err := await(ctx, s, reply)
	return err
}

func (s *Session) Abandon(ctx context.Context, reason string) error {
	reply := make(chan error, 1)
	if err := s.send(ctx, abandonMsg{reason: reason, reply: reply}); err != nil {
		return err
	}
	err, waitErr := await(ctx, s, reply)
	if waitErr != nil {
		return waitErr
	}
	return err
}

// Shutdown stops the actor and closes every open stream.
func (s *Session) Shutdown() {
	s.post(shutdownMsg{})
	<-s.done
}
