// Package api serves the decision memory and review sessions over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dnm-router/internal/extract"
	"github.com/sells-group/dnm-router/internal/memory"
	"github.com/sells-group/dnm-router/internal/monitoring"
	"github.com/sells-group/dnm-router/internal/pipeline"
	"github.com/sells-group/dnm-router/internal/review"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = time.Minute
)

// Server exposes the router's HTTP API.
type Server struct {
	pipeline  *pipeline.Pipeline
	store     memory.Store
	collector *monitoring.Collector
	origins   []string
	// sessionTTL evicts sessions idle for longer. 0 keeps them until deleted.
	sessionTTL time.Duration

	mu   sync.Mutex
	logs map[string]*extract.Log
}

// New creates a Server. collector may be nil, in which case /health reports
// only liveness.
func New(p *pipeline.Pipeline, store memory.Store, collector *monitoring.Collector, allowedOrigins []string) *Server {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &Server{
		pipeline:  p,
		store:     store,
		collector: collector,
		origins:   allowedOrigins,
		logs:      make(map[string]*extract.Log),
	}
}

// WithSessionTTL sets how long an idle review session is kept.
func (s *Server) WithSessionTTL(ttl time.Duration) *Server {
	s.sessionTTL = ttl
	return s
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.stats)

		r.Route("/memory", func(r chi.Router) {
			r.Get("/stats", s.memoryStats)
			r.Get("/export", s.exportMemory)
			r.Post("/import", s.importMemory)
			r.Put("/", s.putDecision)
			r.Get("/{extracted}", s.lookupAll)
			r.Get("/{extracted}/{roster}", s.lookup)
			r.Delete("/{extracted}", s.deleteDecisions)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Post("/", s.createSession)
			r.Get("/{sessionID}", s.getSession)
			r.Get("/{sessionID}/question", s.currentQuestion)
			r.Post("/{sessionID}/answers", s.answer)
			r.Post("/{sessionID}/finalize", s.finalize)
			r.Delete("/{sessionID}", s.deleteSession)
		})
	})

	return r
}

// ListenAndServe serves on port until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.sessionTTL > 0 {
		go s.sweepLoop(ctx, sweepInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("api: starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- eris.Wrap(err, "api: listen")
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zap.L().Info("api: shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "api: shutdown")
	}
	return <-errCh
}

func (s *Server) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.sweepSessions(ctx, now)
		}
	}
}

// sweepSessions evicts sessions idle since before now minus the TTL and
// drops their extraction logs.
func (s *Server) sweepSessions(ctx context.Context, now time.Time) int {
	ids := s.sessions().Sweep(ctx, now.Add(-s.sessionTTL))
	for _, id := range ids {
		s.dropLog(id)
	}
	return len(ids)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	status := http.StatusOK
	if s.collector != nil {
		snap := s.collector.Collect(r.Context())
		if snap.CircuitState != "" {
			body["circuit_state"] = snap.CircuitState
		}
		if !snap.StoreAvailable() {
			body["status"] = "degraded"
			body["store_error"] = snap.StoreError
			status = http.StatusServiceUnavailable
		}
	}
	respondJSON(w, status, body)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		respondError(w, http.StatusNotFound, "monitoring is not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.collector.Collect(r.Context()))
}

func (s *Server) sessions() *review.Manager {
	return s.pipeline.Sessions()
}

func (s *Server) setLog(id string, log *extract.Log) {
	s.mu.Lock()
	s.logs[id] = log
	s.mu.Unlock()
}

func (s *Server) log(id string) *extract.Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logs[id]
}

func (s *Server) dropLog(id string) {
	s.mu.Lock()
	delete(s.logs, id)
	s.mu.Unlock()
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", chimiddleware.GetReqID(r.Context())),
		)
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Error("api: encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{
		"error":   true,
		"message": message,
		"code":    status,
	})
}

// respondErr maps domain errors to status codes.
func respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.Error(err))
	}
	respondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, review.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, memory.ErrInvalidKey), errors.Is(err, review.ErrInvalidAnswer):
		return http.StatusBadRequest
	case errors.Is(err, review.ErrStaleQuestion),
		errors.Is(err, review.ErrNoHistory),
		errors.Is(err, review.ErrNotResolved),
		errors.Is(err, review.ErrAlreadyPrepared),
		errors.Is(err, memory.ErrWriteConflict):
		return http.StatusConflict
	case errors.Is(err, review.ErrClosed):
		return http.StatusGone
	case errors.Is(err, memory.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
