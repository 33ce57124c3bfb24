// Package server exposes the read API and the batch trigger over HTTP.
// Every route is owner-scoped: callers identify themselves with the
// X-Owner-ID header and only ever see their own corpus.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/goodpocket/curator/internal/batch"
	"github.com/goodpocket/curator/internal/db"
	"github.com/goodpocket/curator/internal/server/sse"
)

// Service is the HTTP service. Construct with NewService, serve with Start.
type Service struct {
	orch      *batch.Orchestrator
	stores    batch.Stores
	router    chi.Router
	events    *sse.Broadcaster
	log       zerolog.Logger
	startTime time.Time
}

// NewService wires the routes over the given orchestrator and stores, and
// registers itself as the orchestrator's run event sink.
func NewService(orch *batch.Orchestrator, stores batch.Stores, log zerolog.Logger) *Service {
	s := &Service{
		orch:      orch,
		stores:    stores,
		router:    chi.NewRouter(),
		events:    sse.NewBroadcaster(),
		log:       log.With().Str("component", "server").Logger(),
		startTime: time.Now(),
	}
	orch.SetNotifier(s)
	s.setupRoutes()
	return s
}

// Router returns the service's handler, mainly for tests.
func (s *Service) Router() http.Handler { return s.router }

func (s *Service) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.requireOwner)

		r.Post("/batch-runs", s.handleTriggerRun)
		r.Get("/batch-runs", s.handleListRuns)
		r.Get("/batch-runs/{id}", s.handleGetRun)

		r.Get("/topics/tree", s.handleTopicTree)

		r.Get("/dup-groups", s.handleListDupGroups)
		r.Get("/dup-groups/{id}", s.handleGetDupGroup)

		r.Get("/clusters", s.handleListClusters)
		r.Get("/clusters/{id}", s.handleGetCluster)

		r.Get("/events", s.handleEvents)
	})
}

// Start serves until the context is canceled, then shuts down gracefully.
func (s *Service) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

// pageFrom reads ?page and ?size query parameters.
func pageFrom(r *http.Request) db.Page {
	return db.Page{
		Number: intQuery(r, "page", 1),
		Size:   intQuery(r, "size", db.DefaultPageSize),
	}
}
