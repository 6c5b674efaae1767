package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pixied/internal/config"
)

// ReadinessReporter reports whether the daemon can serve commands.
type ReadinessReporter interface {
	Ready() bool
	LastRefresh() time.Time
	LiveConnections() int64
}

// HealthService provides HTTP health check endpoints.
type HealthService struct {
	cfg      *config.Config
	reporter ReadinessReporter
	server   *http.Server
}

// NewHealthService creates a new HealthService.
func NewHealthService(cfg *config.Config) *HealthService {
	return &HealthService{
		cfg: cfg,
	}
}

// Start begins the health check server if enabled.
func (s *HealthService) Start(ctx context.Context, reporter ReadinessReporter) {
	if !s.cfg.Healthcheck.Enabled {
		return
	}
	s.reporter = reporter

	go s.run(ctx)
}

// Router builds the health endpoints.
func (s *HealthService) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Process is alive
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
	})

	// Logged in and the live channel is healthy
	r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if s.reporter == nil || !s.reporter.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
			return
		}
		body := map[string]any{
			"status":           "ready",
			"live_connections": s.reporter.LiveConnections(),
		}
		if last := s.reporter.LastRefresh(); !last.IsZero() {
			body["last_refresh"] = last.UTC().Format(time.RFC3339)
		}
		writeJSON(w, http.StatusOK, body)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("Failed to write health response")
	}
}

func (s *HealthService) run(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Healthcheck.Host, s.cfg.Healthcheck.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("Starting health check server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Health check server shutdown error")
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Health check server error")
	}
}
