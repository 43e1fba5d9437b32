// Package server exposes the relay's operational HTTP surface: a health
// check over the relay's dependencies, the last cycle report, and Prometheus
// metrics. It serves no alert traffic.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alertstream/internal/relay"
	"alertstream/internal/types"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// StatusProvider reports the latest completed cycle.
type StatusProvider interface {
	LastReport() *relay.CycleReport
}

// StatSource contributes one named figure to /status, such as the archived
// hash count or the message backlog.
type StatSource struct {
	Name string
	Fn   func(ctx context.Context) (any, error)
}

// Options configures a Server. Gatherer is optional; /metrics answers 404
// when it is absent.
type Options struct {
	Probes   []HealthProbe
	Status   StatusProvider
	Stats    []StatSource
	Gatherer prometheus.Gatherer
	Build    BuildInfo
	Logger   types.Logger
}

// BuildInfo is reported by /status.
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
}

// Server holds the router and its dependencies.
type Server struct {
	probes   []HealthProbe
	status   StatusProvider
	stats    []StatSource
	gatherer prometheus.Gatherer
	build    BuildInfo
	logger   types.Logger
	started  time.Time

	router *chi.Mux
}

// New builds the router with all routes mounted.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = types.NopLogger{}
	}
	s := &Server{
		probes:   opts.Probes,
		status:   opts.Status,
		stats:    opts.Stats,
		gatherer: opts.Gatherer,
		build:    opts.Build,
		logger:   opts.Logger.With("component", "http"),
		started:  time.Now(),
		router:   chi.NewRouter(),
	}
	s.mountRoutes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) mountRoutes() {
	s.router.Use(s.recoverer)
	s.router.Use(requestID)
	s.router.Use(s.requestLogger)

	s.router.Get("/health", s.HandleHealth)
	s.router.Get("/status", s.HandleStatus)
	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

type statusResponse struct {
	Build     BuildInfo          `json:"build"`
	Uptime    string             `json:"uptime"`
	LastCycle *relay.CycleReport `json:"last_cycle"`
	Stats     map[string]any     `json:"stats,omitempty"`
}

// HandleStatus returns build info, the last cycle report and the registered
// stats. A failing stat reports its error in place of a value.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Build:  s.build,
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}
	if s.status != nil {
		resp.LastCycle = s.status.LastReport()
	}
	if len(s.stats) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		resp.Stats = make(map[string]any, len(s.stats))
		for _, st := range s.stats {
			v, err := st.Fn(ctx)
			if err != nil {
				s.logger.Warn("status stat failed", "stat", st.Name, "error", err)
				v = map[string]string{"error": err.Error()}
			}
			resp.Stats[st.Name] = v
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// --- middleware ---

type responseCapture struct {
	http.ResponseWriter
	statusCode int
}

func (rc *responseCapture) WriteHeader(code int) {
	rc.statusCode = code
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Unwrap() http.ResponseWriter {
	return rc.ResponseWriter
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				s.logger.Error("panic recovered",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", fmt.Sprintf("%v", rvr),
					"stack", string(debug.Stack()),
				)
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"error": string(types.ErrCodeInternalUnexpected),
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(types.WithCycleID(r.Context(), id)))
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rc := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rc, r)

		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rc.statusCode,
			"duration", time.Since(start),
			"request_id", types.GetCycleID(r.Context()),
		}
		switch {
		case rc.statusCode >= 500:
			s.logger.Error("request completed", args...)
		case rc.statusCode >= 400:
			s.logger.Warn("request completed", args...)
		default:
			s.logger.Debug("request completed", args...)
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal_unexpected_error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
