package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/tournament-vote-backend/internal/catalog"
	"github.com/DoyleJ11/tournament-vote-backend/internal/events"
	"github.com/DoyleJ11/tournament-vote-backend/internal/gameerr"
	"github.com/DoyleJ11/tournament-vote-backend/internal/registry"
)

type stubResults struct {
	byCode map[string]events.Result
}

func (s stubResults) Get(_ context.Context, code string) (events.Result, error) {
	r, ok := s.byCode[code]
	if !ok {
		return events.Result{}, gameerr.New(gameerr.ErrNotFound, "no result %q", code)
	}
	return r, nil
}

func (s stubResults) ByCompetition(_ context.Context, id string, _ int) ([]events.Result, error) {
	var out []events.Result
	for _, r := range s.byCode {
		if r.CompetitionID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

func newServer(t *testing.T, opts ...Option) http.Handler {
	t.Helper()
	cat := catalog.NewMemory(
		catalog.Competition{ID: "fruit", Name: "Fruit", Items: []catalog.Item{
			{ID: "A", Name: "Apple"}, {ID: "B", Name: "Banana"}, {ID: "C", Name: "Cherry"}, {ID: "D", Name: "Date"},
		}},
		catalog.Competition{ID: "tiny", Name: "Tiny", Items: []catalog.Item{{ID: "x"}, {ID: "y"}}},
	)
	settings := registry.DefaultSettings()
	settings.SweepInterval = 0
	reg := registry.New(context.Background(), cat, registry.WithSettings(settings))
	t.Cleanup(reg.Shutdown)

	archived := stubResults{byCode: map[string]events.Result{
		"OLD123": {Code: "OLD123", CompetitionID: "fruit", Winner: events.ItemView{ID: "B"}},
	}}
	opts = append([]Option{WithResults(archived), WithPublicURL("https://vote.example/")}, opts...)
	return New(reg, cat, opts...).Routes()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createSession(t *testing.T, h http.Handler) createResponse {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/sessions", createRequest{CompetitionID: "fruit", OrganizerName: "Olive"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[createResponse](t, rec)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		gameerr.New(gameerr.ErrInvalidInput, "x"):       http.StatusBadRequest,
		gameerr.New(gameerr.ErrNotFound, "x"):           http.StatusNotFound,
		gameerr.New(gameerr.ErrInvalidState, "x"):       http.StatusConflict,
		gameerr.New(gameerr.ErrConflict, "x"):           http.StatusConflict,
		gameerr.New(gameerr.ErrPreconditionFailed, "x"): http.StatusPreconditionFailed,
		gameerr.New(gameerr.ErrResourceExhausted, "x"):  http.StatusServiceUnavailable,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

func TestCreateSession(t *testing.T) {
	h := newServer(t)
	created := createSession(t, h)

	assert.Len(t, created.Code, 6)
	assert.NotEmpty(t, created.SessionID)
	assert.True(t, created.Organizer.IsOrganizer)
	assert.Equal(t, "https://vote.example/join/"+created.Code, created.JoinURL)
}

func TestCreateSessionErrors(t *testing.T) {
	h := newServer(t)

	rec := do(t, h, http.MethodPost, "/sessions", createRequest{CompetitionID: "nope", OrganizerName: "Olive"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[map[string]string](t, rec)["code"])

	rec = do(t, h, http.MethodPost, "/sessions", createRequest{CompetitionID: "tiny", OrganizerName: "Olive"})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = do(t, h, http.MethodPost, "/sessions", map[string]string{"bogus": "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSessions(t *testing.T) {
	h := newServer(t)

	rec := do(t, h, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]sessionSummary](t, rec))

	a := createSession(t, h)
	b := createSession(t, h)
	rec = do(t, h, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]sessionSummary](t, rec)
	require.Len(t, list, 2)

	codes := []string{list[0].Code, list[1].Code}
	assert.ElementsMatch(t, []string{a.Code, b.Code}, codes)
	assert.Less(t, list[0].Code, list[1].Code)
	for _, s := range list {
		assert.Equal(t, "lobby", s.Status)
		assert.False(t, s.CreatedAt.IsZero())
		assert.Nil(t, s.FinishedAt)
	}
}

func TestCORS(t *testing.T) {
	preflight := func(h http.Handler, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/sessions", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	h := newServer(t, WithCORSOrigins("http://localhost:3000"))
	rec := preflight(h, "http://localhost:3000")
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)

	rec = preflight(h, "http://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodGet, "/competitions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	// without origins configured no CORS headers are emitted
	rec = preflight(newServer(t), "http://localhost:3000")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestJoinStartAndVote(t *testing.T) {
	h := newServer(t)
	created := createSession(t, h)
	base := "/sessions/" + created.Code

	// one player is not enough
	rec := do(t, h, http.MethodPost, base+"/start", nil)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, base+"/join", joinRequest{Nickname: "Guest"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	guest := decode[events.PlayerView](t, rec)
	assert.Equal(t, "Guest", guest.Nickname)

	rec = do(t, h, http.MethodGet, base+"/players", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]events.PlayerView](t, rec), 2)

	rec = do(t, h, http.MethodPost, base+"/start", startRequest{PlayerID: guest.ID})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code, "guest may not start")

	rec = do(t, h, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, base+"/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "second start")

	rec = do(t, h, http.MethodPost, base+"/votes", voteRequest{PlayerID: guest.ID, ItemID: "A", RoundNumber: 1, PairIndex: 0})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	vote := decode[voteResponse](t, rec)
	assert.Equal(t, 1, vote.Counts["A"])

	rec = do(t, h, http.MethodPost, base+"/votes", voteRequest{PlayerID: guest.ID, ItemID: "Z", RoundNumber: 1, PairIndex: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, base+"/votes", voteRequest{ItemID: "A", RoundNumber: 1, PairIndex: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[events.Snapshot](t, rec)
	assert.Equal(t, "in_progress", snap.Status)
	require.NotNil(t, snap.CurrentPair)
	assert.Equal(t, 1, snap.Counts["A"])

	rec = do(t, h, http.MethodGet, base+"/results", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "results before completion")
}

func TestUnknownSession(t *testing.T) {
	h := newServer(t)
	for _, path := range []string{"/sessions/ZZZZZZ", "/sessions/ZZZZZZ/players", "/sessions/ZZZZZZ/qr", "/sessions/ZZZZZZ/results"} {
		rec := do(t, h, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestResultsFallBackToArchive(t *testing.T) {
	h := newServer(t)
	rec := do(t, h, http.MethodGet, "/sessions/old123/results", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "B", decode[events.Result](t, rec).Winner.ID)

	rec = do(t, h, http.MethodGet, "/competitions/fruit/results", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]events.Result](t, rec), 1)
}

func TestQRCode(t *testing.T) {
	h := newServer(t)
	created := createSession(t, h)

	rec := do(t, h, http.MethodGet, "/sessions/"+created.Code+"/qr", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func TestCompetitions(t *testing.T) {
	h := newServer(t)

	rec := do(t, h, http.MethodGet, "/competitions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]map[string]any](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, "fruit", list[0]["id"])
	assert.Equal(t, float64(4), list[0]["item_count"])

	rec = do(t, h, http.MethodGet, "/competitions/fruit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[catalog.Competition](t, rec).Items, 4)

	rec = do(t, h, http.MethodGet, "/competitions/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newServer(t)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", nil).Code)

	do(t, h, http.MethodGet, "/competitions", nil)
	rec := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tourney_http_requests_total")
}
