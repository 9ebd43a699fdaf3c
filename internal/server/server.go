// Package server exposes the cache over a local JSON API. Everything
// user-facing (markup, galleries, onboarding) lives outside this process;
// these endpoints are what that layer talks to.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/miguell-h2o/RPWA/internal/app"
)

// Server wires HTTP routes to the application service.
type Server struct {
	app *app.App
}

// New returns a Server for the given application.
func New(a *app.App) *Server {
	return &Server{app: a}
}

// Routes returns the configured router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/refresh", s.handleRefresh)

		r.Get("/feeds/{feed}", s.handleFeedItems)
		r.Post("/feeds/{feed}/apply", s.handleApply)
		r.Put("/feeds/current", s.handleSetCurrentFeed)

		r.Post("/items/{id}/pin", s.handlePin)
		r.Delete("/items/{id}/pin", s.handleUnpin)

		r.Get("/follows", s.handleListFollows)
		r.Put("/follows", s.handleImportFollows)
		r.Post("/follows/{name}", s.handleFollow)
		r.Delete("/follows/{name}", s.handleUnfollow)

		r.Get("/blocks", s.handleListBlocks)
		r.Post("/blocks/{name}", s.handleBlock)
		r.Delete("/blocks/{name}", s.handleUnblock)

		r.Get("/subreddits/{name}/about", s.handleAbout)

		r.Post("/jobs/failed/clear", s.handleClearFailed)
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, code int, value any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)

	err := json.NewEncoder(w).Encode(value)
	if err != nil {
		slog.Warn("encode response failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
