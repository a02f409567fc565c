// Package api is the HTTP surface of the sn-sync reference backend.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marcus/sn/internal/serverdb"
)

// Server is the HTTP API server for sn-sync.
type Server struct {
	config      Config
	http        *http.Server
	store       *serverdb.ServerDB
	metrics     *Metrics
	rateLimiter *RateLimiter
	cancel      context.CancelFunc
}

// NewServer creates a new Server with the given config and store.
func NewServer(cfg Config, store *serverdb.ServerDB) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("nil store")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.ListMaxLimit <= 0 {
		cfg.ListMaxLimit = 500
	}
	s := &Server{
		config:      cfg,
		store:       store,
		metrics:     NewMetrics(),
		rateLimiter: NewRateLimiter(),
	}

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Handler returns the routed handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.janitor(ctx, time.Hour)

	return nil
}

// janitor prunes rate limit events and old tombstones.
func (s *Server) janitor(ctx context.Context, every time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("cleanup panic", "panic", r)
		}
	}()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Server) cleanup() {
	if s.config.RateLimitEventRetention > 0 {
		if n, err := s.store.CleanupRateLimitEvents(s.config.RateLimitEventRetention); err != nil {
			slog.Error("cleanup rate limit events", "err", err)
		} else if n > 0 {
			slog.Info("cleaned up rate limit events", "count", n)
		}
	}
	if s.config.TombstoneRetention > 0 {
		cutoff := time.Now().UTC().Add(-s.config.TombstoneRetention)
		if n, err := s.store.PurgeTombstones(cutoff); err != nil {
			slog.Error("purge tombstones", "err", err)
		} else if n > 0 {
			slog.Info("purged tombstones", "count", n)
		}
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.rateLimiter.Close()
	return s.http.Shutdown(ctx)
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RealIP,
		recoveryMiddleware,
		requestIDMiddleware,
		loggerMiddleware,
		metricsMiddleware(s.metrics),
		loggingMiddleware,
		s.corsMiddleware,
		maxBytesMiddleware(s.config.MaxBodyBytes),
	)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeBadRequest, "method not allowed")
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/metricz", s.handleMetrics)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/whoami", s.handleWhoAmI)

		r.Route("/{table}", func(r chi.Router) {
			r.Use(requireTable)
			read := s.withRateLimit("read", s.config.RateLimitRead)
			write := s.withRateLimit("write", s.config.RateLimitWrite)

			r.With(read).Get("/", s.handleList)
			r.With(write).Post("/", s.handleCreate)
			r.With(read).Get("/{id}", s.handleFetch)
			r.With(write).Put("/{id}", s.handleUpdate)
			r.With(write).Delete("/{id}", s.handleDelete)
		})
	})

	return r
}

// handleHealth returns a health check response, pinging the server DB.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics returns a snapshot of server metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.metrics.Snapshot()
	if counts, err := s.store.RecordCounts(); err == nil {
		snap.Records = counts
	} else {
		logFor(r.Context()).Warn("count records", "err", err)
	}
	writeJSON(w, http.StatusOK, snap)
}
