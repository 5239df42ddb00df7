package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/DoyleJ11/tournament-vote-backend/internal/metrics"
)

func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	if len(a.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   a.corsOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", Healthz)
	r.Handle("/metrics", metrics.Handler())

	r.Get("/competitions", MetricsMiddleware(a.ListCompetitions, "competitions"))
	r.Get("/competitions/{id}", MetricsMiddleware(a.GetCompetition, "competition"))
	r.Get("/competitions/{id}/results", MetricsMiddleware(a.CompetitionResults, "competition_results"))

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", MetricsMiddleware(a.ListSessions, "list_sessions"))
		r.Post("/", MetricsMiddleware(a.CreateSession, "create_session"))
		r.Route("/{code}", func(r chi.Router) {
			r.Get("/", MetricsMiddleware(a.GetSession, "get_session"))
			r.Get("/players", MetricsMiddleware(a.GetPlayers, "get_players"))
			r.Post("/join", MetricsMiddleware(a.JoinSession, "join_session"))
			r.Post("/start", MetricsMiddleware(a.StartSession, "start_session"))
			r.Post("/votes", MetricsMiddleware(a.SubmitVote, "submit_vote"))
			r.Get("/results", MetricsMiddleware(a.GetResults, "get_results"))
			r.Get("/qr", MetricsMiddleware(a.GetQR, "get_qr"))
		})
	})

	// not wrapped: the upgrade needs the raw ResponseWriter
	if a.stream != nil {
		r.Handle("/ws/{code}", a.stream)
	}
	return r
}
