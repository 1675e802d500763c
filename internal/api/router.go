package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/KTo1/ai-friend-sub000/internal/database"
	mw "github.com/KTo1/ai-friend-sub000/internal/middleware"
	inats "github.com/KTo1/ai-friend-sub000/internal/nats"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Quota handlers
	GetQuotaStatus http.HandlerFunc
	ResetQuota     http.HandlerFunc

	// Tariff handlers
	ListTariffs       http.HandlerFunc
	GetTariff         http.HandlerFunc
	UpdateTariffLimit http.HandlerFunc
	AssignUserTariff  http.HandlerFunc

	// Auth middleware for admin routes
	AuthMiddleware func(http.Handler) http.Handler

	// XMPP component health
	ComponentHealthy func() bool
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	RateLimiter        func(http.Handler) http.Handler
}

func NewRouter(pool *pgxpool.Pool, natsClient *inats.Client, cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(chimw.Recoverer)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe — always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	// Readiness probe — checks DB, NATS, XMPP component
	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":   "healthy",
			"database": "healthy",
			"nats":     "healthy",
			"xmpp":     "healthy",
		}

		status := http.StatusOK

		if err := database.HealthCheck(r.Context(), pool); err != nil {
			health["database"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		if natsClient != nil && !natsClient.Healthy() {
			health["nats"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		} else if natsClient == nil {
			health["nats"] = "not configured"
		}

		if h.ComponentHealthy != nil {
			if !h.ComponentHealthy() {
				health["xmpp"] = "disconnected"
				health["status"] = "degraded"
			}
		} else {
			health["xmpp"] = "not configured"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API v1: all admin, behind bearer auth and the per-IP limiter
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter)
		}
		r.Use(h.AuthMiddleware)

		r.Route("/quota/{userID}", func(r chi.Router) {
			r.Get("/", h.GetQuotaStatus)
			r.Post("/reset", h.ResetQuota)
		})

		r.Route("/tariffs", func(r chi.Router) {
			r.Get("/", h.ListTariffs)
			r.Get("/{planID}", h.GetTariff)
			r.Patch("/{planID}/limits", h.UpdateTariffLimit)
		})

		r.Put("/users/{userID}/tariff", h.AssignUserTariff)
	})

	return r
}
