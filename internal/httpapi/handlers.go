package httpapi

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/DoyleJ11/tournament-vote-backend/internal/bracket"
	"github.com/DoyleJ11/tournament-vote-backend/internal/catalog"
	"github.com/DoyleJ11/tournament-vote-backend/internal/events"
	"github.com/DoyleJ11/tournament-vote-backend/internal/gameerr"
	"github.com/DoyleJ11/tournament-vote-backend/internal/registry"
	"github.com/DoyleJ11/tournament-vote-backend/internal/session"
)

// Results is the read side of the result archive.
type Results interface {
	Get(ctx context.Context, code string) (events.Result, error)
	ByCompetition(ctx context.Context, competitionID string, limit int) ([]events.Result, error)
}

type Option func(*API)

func WithResults(r Results) Option { return func(a *API) { a.results = r } }

// WithPublicURL sets the base of join links encoded in QR codes.
func WithPublicURL(u string) Option { return func(a *API) { a.publicURL = strings.TrimRight(u, "/") } }

func WithLogger(l *zap.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.log = l
		}
	}
}

// WithCORSOrigins allows browser calls from the given origins. "*" allows any.
func WithCORSOrigins(origins ...string) Option {
	return func(a *API) { a.corsOrigins = append(a.corsOrigins, origins...) }
}

// WithStream mounts the websocket handler at /ws/{code}.
func WithStream(h http.Handler) Option { return func(a *API) { a.stream = h } }

type API struct {
	reg       *registry.Registry
	catalog   catalog.Catalog
	results   Results
	stream    http.Handler
	publicURL string
	log       *zap.Logger

	corsOrigins []string
}

func New(reg *registry.Registry, cat catalog.Catalog, opts ...Option) *API {
	a := &API{reg: reg, catalog: cat, log: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type createRequest struct {
	CompetitionID string `json:"competition_id"`
	OrganizerName string `json:"organizer_name"`
}

type createResponse struct {
	Code      string            `json:"code"`
	SessionID string            `json:"session_id"`
	Organizer events.PlayerView `json:"organizer"`
	JoinURL   string            `json:"join_url,omitempty"`
}

type joinRequest struct {
	Nickname string `json:"nickname"`
}

type startRequest struct {
	PlayerID string `json:"player_id"`
}

type voteRequest struct {
	PlayerID    string `json:"player_id"`
	ItemID      string `json:"item_id"`
	RoundNumber int    `json:"round_number"`
	PairIndex   int    `json:"pair_index"`
}

type voteResponse struct {
	Outcome string         `json:"outcome"`
	Counts  map[string]int `json:"vote_counts"`
}

func (a *API) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.CompetitionID == "" {
		writeError(w, gameerr.New(gameerr.ErrInvalidInput, "competition_id is required"))
		return
	}
	created, err := a.reg.Create(r.Context(), req.CompetitionID, req.OrganizerName)
	if err != nil {
		writeError(w, err)
		return
	}
	org := created.Organizer
	writeJSON(w, http.StatusCreated, createResponse{
		Code:      created.Code,
		SessionID: created.SessionID,
		Organizer: events.PlayerView{ID: org.ID, Nickname: org.Nickname, IsOrganizer: true, JoinedAt: org.JoinedAt},
		JoinURL:   a.joinURL(created.Code),
	})
}

// session resolves {code} or writes the error.
func (a *API) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	code := strings.ToUpper(chi.URLParam(r, "code"))
	s, err := a.reg.Get(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return s, true
}

type sessionSummary struct {
	Code         string     `json:"code"`
	Status       string     `json:"status"`
	Connections  int        `json:"connections"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActivity time.Time  `json:"last_activity"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// ListSessions reports every live session without touching their actors.
func (a *API) ListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := a.reg.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]sessionSummary, 0, len(list))
	for _, s := range list {
		st := s.Stats()
		sum := sessionSummary{
			Code:         st.Code,
			Status:       string(st.Status),
			Connections:  st.Connections,
			CreatedAt:    st.CreatedAt,
			LastActivity: st.LastActivity,
		}
		if !st.FinishedAt.IsZero() {
			at := st.FinishedAt
			sum.FinishedAt = &at
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	writeJSON(w, http.StatusOK, out)
}

func (a *API) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	snap, err := s.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) GetPlayers(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	players, err := s.Players(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, players)
}

func (a *API) JoinSession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req joinRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := s.Join(r.Context(), req.Nickname, "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, events.PlayerView{
		ID: p.ID, Nickname: p.Nickname, IsOrganizer: p.IsOrganizer, Spectator: p.Spectator, JoinedAt: p.JoinedAt,
	})
}

// StartSession starts the game. Without a player_id the call acts for the
// organizer.
func (a *API) StartSession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.PlayerID == "" {
		snap, err := s.Snapshot(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		req.PlayerID = snap.OrganizerID
	}
	if err := s.Start(r.Context(), req.PlayerID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (a *API) SubmitVote(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req voteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.PlayerID == "" || req.ItemID == "" {
		writeError(w, gameerr.New(gameerr.ErrInvalidInput, "player_id and item_id are required"))
		return
	}
	res, err := s.Vote(r.Context(), req.PlayerID, bracket.PairKey{Round: req.RoundNumber, Index: req.PairIndex}, req.ItemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, voteResponse{Outcome: res.Outcome.String(), Counts: res.Counts})
}

// GetResults serves the live result, or the archived one once the session
// has been evicted.
func (a *API) GetResults(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(chi.URLParam(r, "code"))
	s, err := a.reg.Get(r.Context(), code)
	if err == nil {
		res, err := s.Result(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	if a.results == nil || gameerr.KindOf(err) != gameerr.ErrNotFound {
		writeError(w, err)
		return
	}
	res, err := a.results.Get(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) joinURL(code string) string {
	if a.publicURL == "" {
		return ""
	}
	return a.publicURL + "/join/" + code
}

// GetQR renders the join link of a session as a PNG.
func (a *API) GetQR(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	link := a.joinURL(s.Code())
	if link == "" {
		link = s.Code()
	}
	const qrSize = 320
	png, err := qrcode.Encode(link, qrcode.Medium, qrSize)
	if err != nil {
		a.log.Error("qr encode", zap.String("code", s.Code()), zap.Error(err))
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func (a *API) ListCompetitions(w http.ResponseWriter, r *http.Request) {
	comps, err := a.catalog.Competitions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	type summary struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Items int    `json:"item_count"`
	}
	out := make([]summary, 0, len(comps))
	for _, c := range comps {
		out = append(out, summary{ID: c.ID, Name: c.Name, Items: len(c.Items)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) GetCompetition(w http.ResponseWriter, r *http.Request) {
	c, err := a.catalog.Competition(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) CompetitionResults(w http.ResponseWriter, r *http.Request) {
	if a.results == nil {
		writeJSON(w, http.StatusOK, []events.Result{})
		return
	}
	res, err := a.results.ByCompetition(r.Context(), chi.URLParam(r, "id"), 20)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
