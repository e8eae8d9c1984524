// Package ops serves the operational HTTP surface: health checks and
// Prometheus metrics.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Server holds dependencies for operational handlers
type Server struct {
	DB    *pgxpool.Pool
	Redis *redis.Client
}

type healthResp struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Redis    string `json:"redis"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// Healthz reports readiness of the backing stores. A degraded
// dependency turns the overall status unhealthy with a 503.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResp{Status: "ok", Database: "ok", Redis: "ok"}
	code := http.StatusOK

	if s.DB != nil {
		if err := s.DB.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("health check: database unreachable")
			resp.Database = "unreachable"
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("health check: redis unreachable")
			resp.Redis = "unreachable"
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, resp)
}

// Routes creates the operational HTTP router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	log.Info().Msg("operational routes registered")
	return r
}
