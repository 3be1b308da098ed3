// Package api exposes the HTTP interface: job submission and status,
// live job events, search, and auth profile inspection.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tessera/crawler"
	"tessera/queue"
	"tessera/search"
)

// JobQueue is the queue surface the handlers need. *queue.Queue
// implements it.
type JobQueue interface {
	Enqueue(ctx context.Context, jobType string, sub queue.Submission) (string, error)
	Job(ctx context.Context, id string) (*queue.Job, error)
	Cancel(ctx context.Context, id string) error
	Subscribe(ctx context.Context, id string) (<-chan queue.Event, func(), error)
	HeartbeatAge(ctx context.Context) (time.Duration, bool, error)
}

// Retriever answers search queries. *search.Searcher implements it.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]search.Hit, error)
}

// ProfileValidator checks an auth profile end to end. *crawler.Browser
// implements it.
type ProfileValidator interface {
	ValidateProfile(ctx context.Context, profile crawler.AuthProfile) crawler.AuthCheckResult
}

// AuthHints reads the recorded auth bounce log. *crawler.HintLog
// implements it.
type AuthHints interface {
	Recent() ([]crawler.HintEntry, error)
	ByDomain() (map[string]crawler.DomainHint, error)
}

// Server wires the HTTP routes to the queue, searcher, and browser.
type Server struct {
	router    chi.Router
	jobs      JobQueue
	searcher  Retriever
	validator ProfileValidator
	hints     AuthHints
	profiles  map[string]crawler.AuthProfile
	logger    *zap.Logger

	staleAfter time.Duration
}

type ServerOptions struct {
	Profiles   map[string]crawler.AuthProfile
	StaleAfter time.Duration
}

func NewServer(
	jobs JobQueue,
	searcher Retriever,
	validator ProfileValidator,
	hints AuthHints,
	opts ServerOptions,
	logger *zap.Logger,
) *Server {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 5 * time.Minute
	}
	s := &Server{
		jobs:       jobs,
		searcher:   searcher,
		validator:  validator,
		hints:      hints,
		profiles:   opts.Profiles,
		logger:     logger,
		staleAfter: opts.StaleAfter,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/ingest", s.enqueueIngest)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.jobStatus)
				r.Post("/cancel", s.cancelJob)
				r.Get("/events", s.jobEvents)
			})
		})
		r.Get("/search", s.searchHandler)
		r.Route("/auth", func(r chi.Router) {
			r.Get("/profiles", s.listProfiles)
			r.Post("/profiles/{name}/validate", s.validateProfile)
			r.Get("/hints", s.authHints)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	age, seen, err := s.jobs.HeartbeatAge(r.Context())
	switch {
	case err != nil:
		resp["worker"] = "unknown"
	case !seen:
		resp["worker"] = "never started"
	case age > s.staleAfter:
		resp["worker"] = "stale"
		resp["worker_heartbeat_age"] = age.Round(time.Second).String()
	default:
		resp["worker"] = "alive"
		resp["worker_heartbeat_age"] = age.Round(time.Second).String()
	}
	s.writeJSON(w, http.StatusOK, resp)
}
