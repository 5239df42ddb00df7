// Package registry owns every live session of the process, keyed by its
// share code. The map is confined to one goroutine; sessions run on their
// own goroutines, so registry lookups never wait on tally work.
package registry

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/tournament-vote-backend/internal/broadcast"
	"github.com/DoyleJ11/tournament-vote-backend/internal/catalog"
	"github.com/DoyleJ11/tournament-vote-backend/internal/engine"
	"github.com/DoyleJ11/tournament-vote-backend/internal/events"
	"github.com/DoyleJ11/tournament-vote-backend/internal/gameerr"
	"github.com/DoyleJ11/tournament-vote-backend/internal/metrics"
	"github.com/DoyleJ11/tournament-vote-backend/internal/session"
)

var ErrStopped = gameerr.New(gameerr.ErrInvalidState, "registry stopped")

const CodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateCode returns a crypto-random code of the given length.
func GenerateCode(length int) (string, error) {
	code := make([]byte, length)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(CodeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = CodeCharset[num.Int64()]
	}
	return string(code), nil
}

// Archiver stores results of completed sessions.
type Archiver interface {
	Save(ctx context.Context, r events.Result) error
}

type Settings struct {
	CodeLength    int
	CodeAttempts  int
	MinItems      int
	Rules         engine.Rules
	IdleTimeout   time.Duration
	Retention     time.Duration
	SweepInterval time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		CodeLength:    6,
		CodeAttempts:  10,
		MinItems:      4,
		Rules:         engine.DefaultRules(),
		IdleTimeout:   10 * time.Minute,
		Retention:     30 * time.Minute,
		SweepInterval: time.Minute,
	}
}

type Option func(*Registry)

func WithSettings(s Settings) Option { return func(r *Registry) { r.settings = s } }

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithCodeGenerator replaces GenerateCode.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(r *Registry) {
		if gen != nil {
			r.genCode = gen
		}
	}
}

func WithArchive(a Archiver) Option { return func(r *Registry) { r.archive = a } }

func WithHub(h *broadcast.Hub) Option {
	return func(r *Registry) {
		if h != nil {
			r.hub = h
		}
	}
}

type Created struct {
	Code      string
	SessionID string
	Organizer engine.Player
	Session   *session.Session
}

type Registry struct {
	inbox    chan registryMsg
	done     chan struct{}
	sessions map[string]*session.Session
	ctx      context.Context
	cancel   context.CancelFunc

	catalog  catalog.Catalog
	hub      *broadcast.Hub
	archive  Archiver
	settings Settings
	genCode  func() (string, error)
	now      func() time.Time
	log      *zap.Logger
}

type registryMsg interface{ isRegistryMsg() }

type createMsg struct {
	competition   catalog.Competition
	organizerName string
	reply         chan createReply
}

type createReply struct {
	created Created
	err     error
}

type getMsg struct {
	code  string
	reply chan *session.Session
}

type listMsg struct {
	reply chan []*session.Session
}

type sweepMsg struct {
	reply chan int
}

type shutdownMsg struct{}

func (createMsg) isRegistryMsg()   {}
func (getMsg) isRegistryMsg()      {}
func (listMsg) isRegistryMsg()     {}
func (sweepMsg) isRegistryMsg()    {}
func (shutdownMsg) isRegistryMsg() {}

// New starts the registry goroutine. It runs until parent is cancelled or
// Shutdown is called; either way every session is shut down.
func New(parent context.Context, cat catalog.Catalog, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(parent)
	r := &Registry{
		inbox:    make(chan registryMsg, 64),
		done:     make(chan struct{}),
		sessions: make(map[string]*session.Session),
		ctx:      ctx,
		cancel:   cancel,
		catalog:  cat,
		hub:      broadcast.NewHub(),
		settings: DefaultSettings(),
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.genCode == nil {
		length := r.settings.CodeLength
		r.genCode = func() (string, error) { return GenerateCode(length) }
	}
	if r.settings.CodeAttempts < 1 {
		r.settings.CodeAttempts = 1
	}
	go r.loop()
	return r
}

func (r *Registry) Hub() *broadcast.Hub { return r.hub }

func (r *Registry) loop() {
	defer close(r.done)

	var tick <-chan time.Time
	if r.settings.SweepInterval > 0 {
		t := time.NewTicker(r.settings.SweepInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-r.ctx.Done():
			r.shutdownAll()
			return

		case <-tick:
			r.sweep()

		case m := <-r.inbox:
			switch msg := m.(type) {
			case createMsg:
				msg.reply <- r.create(msg)

			case getMsg:
				msg.reply <- r.sessions[msg.code] // may be nil

			case listMsg:
				out := make([]*session.Session, 0, len(r.sessions))
				for _, s := range r.sessions {
					out = append(out, s)
				}
				msg.reply <- out

			case sweepMsg:
				msg.reply <- r.sweep()

			case shutdownMsg:
				r.shutdownAll()
				r.cancel()
				return
			}
		}
	}
}

func (r *Registry) create(msg createMsg) createReply {
	for attempt := 0; attempt < r.settings.CodeAttempts; attempt++ {
		code, err := r.genCode()
		if err != nil {
			return createReply{err: err}
		}
		_, taken := r.sessions[code]
		if _, lingering := r.hub.Topic(code); taken || lingering {
			r.log.Debug("collision on code, regenerating", zap.String("code", code))
			continue
		}

		sess, organizer, err := session.New(r.ctx, r.hub.Open(code), session.Config{
			Code:          code,
			Competition:   msg.competition,
			OrganizerName: msg.organizerName,
			Rules:         r.settings.Rules,
		},
			session.WithClock(r.now),
			session.WithLogger(r.log.Named("session")),
			session.WithOnComplete(r.archiveResult),
		)
		if err != nil {
			r.hub.Remove(code)
			return createReply{err: err}
		}
		r.sessions[code] = sess
		metrics.RecordSessionCreated()
		metrics.UpdateActiveSessions(len(r.sessions))
		r.log.Info("session created",
			zap.String("code", code), zap.String("competition", msg.competition.ID), zap.String("player_id", organizer.ID))
		return createReply{created: Created{Code: code, SessionID: sess.ID(), Organizer: organizer, Session: sess}}
	}
	return createReply{err: gameerr.New(gameerr.ErrResourceExhausted, "no free session code after %d attempts", r.settings.CodeAttempts)}
}

func (r *Registry) archiveResult(res events.Result) {
	if r.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.archive.Save(ctx, res); err != nil {
		r.log.Error("archive result", zap.String("code", res.Code), zap.Error(err))
	}
}

// sweep evicts finished sessions past retention and abandons idle ones. It
// returns how many sessions were evicted.
func (r *Registry) sweep() int {
	now := r.now()
	evicted := 0
	for code, s := range r.sessions {
		st := s.Stats()
		switch {
		case st.Status.Terminal():
			if now.Sub(st.FinishedAt) < r.settings.Retention {
				continue
			}
			delete(r.sessions, code)
			r.hub.Remove(code) // before the code can be handed out again
			evicted++
			go s.Shutdown()
			r.log.Info("session evicted", zap.String("code", code), zap.String("status", string(st.Status)))

		case r.settings.IdleTimeout > 0 && st.Connections == 0 && now.Sub(st.LastActivity) >= r.settings.IdleTimeout:
			go func(s *session.Session) {
				ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
				defer cancel()
				if err := s.Abandon(ctx, "idle"); err != nil {
					r.log.Debug("abandon idle session", zap.String("code", s.Code()), zap.Error(err))
				}
			}(s)
			r.log.Info("abandoning idle session", zap.String("code", code))
		}
	}
	metrics.UpdateActiveSessions(len(r.sessions))
	return evicted
}

func (r *Registry) shutdownAll() {
	for code, s := range r.sessions {
		s.Shutdown()
		r.hub.Remove(code)
	}
	clear(r.sessions)
	metrics.UpdateActiveSessions(0)
}

func (r *Registry) send(ctx context.Context, m registryMsg) error {
	select {
	case r.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrStopped
	}
}

func recv[T any](ctx context.Context, r *Registry, ch <-chan T) (T, error) {
	var zero T
	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-r.done:
		select {
		case v := <-ch:
			return v, nil
		default:
			return zero, ErrStopped
		}
	}
}

// Create opens a new session on the competition with the organizer as its
// first player.
func (r *Registry) Create(ctx context.Context, competitionID, organizerName string) (Created, error) {
	comp, err := r.catalog.Competition(ctx, competitionID)
	if err != nil {
		return Created{}, err
	}
	if len(comp.Items) < r.settings.MinItems {
		return Created{}, gameerr.New(gameerr.ErrPreconditionFailed,
			"competition %q has %d items, need at least %d", competitionID, len(comp.Items), r.settings.MinItems)
	}

	reply := make(chan createReply, 1)
	if err := r.send(ctx, createMsg{competition: comp, organizerName: organizerName, reply: reply}); err != nil {
		return Created{}, err
	}
	res, err := recv(ctx, r, reply)
	if err != nil {
		return Created{}, err
	}
	return res.created, res.err
}

func (r *Registry) Get(ctx context.Context, code string) (*session.Session, error) {
	reply := make(chan *session.Session, 1)
	if err := r.send(ctx, getMsg{code: code, reply: reply}); err != nil {
		return nil, err
	}
	s, err := recv(ctx, r, reply)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, gameerr.New(gameerr.ErrNotFound, "session %q", code)
	}
	return s, nil
}

func (r *Registry) List(ctx context.Context) ([]*session.Session, error) {
	reply := make(chan []*session.Session, 1)
	if err := r.send(ctx, listMsg{reply: reply}); err != nil {
		return nil, err
	}
	return recv(ctx, r, reply)
}

// Sweep runs one housekeeping pass immediately.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := r.send(ctx, sweepMsg{reply: reply}); err != nil {
		return 0, err
	}
	return recv(ctx, r, reply)
}

// Shutdown stops the registry and every session it holds.
func (r *Registry) Shutdown() {
	select {
	case r.inbox <- shutdownMsg{}:
	case <-r.done:
	}
	<-r.done
}
