package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/roomledger/internal/api/middleware"
	"github.com/eldtechnologies/roomledger/internal/config"
	"github.com/eldtechnologies/roomledger/internal/handlers"
	"github.com/eldtechnologies/roomledger/internal/store"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(cfg *config.Config, logger zerolog.Logger, stores *store.Stores) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting needs Redis
	checks := map[string]handlers.Pinger{}
	var limiter *middleware.RateLimiter
	if stores.Redis != nil {
		limiter = middleware.NewRateLimiter(stores.Redis.Client(), logger, middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		})
		r.Use(limiter.Middleware)
		checks["redis"] = stores.Redis
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.HeaderKey, middleware.HeaderNonce, middleware.HeaderTimestamp, middleware.HeaderSignature},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(stores.Records, logger, handlers.Options{
		Backend:         cfg.Store,
		DefaultRoom:     cfg.DefaultRoom,
		SendMaxAttempts: cfg.SendMaxAttempts,
		Checks:          checks,
	})
	auth := middleware.NewAuthMiddleware(stores.Nonces, cfg.AuthWindow, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/api", h.Root)
	r.Get("/health", h.Health)
	r.Get("/room/{room}", h.GetRoom)
	r.Get("/room/{room}/messages", h.ListMessages)
	r.Get("/room/{room}/messages/{seq}", h.GetMessage)

	// Authenticated routes (require signature)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)
		if limiter != nil {
			r.Use(limiter.PerSigner)
		}

		r.Post("/room", h.InitializeRoom)
		r.Post("/room/{room}/messages", h.SendMessage)
		r.Post("/messages/for-user", h.MessagesForUser)
	})

	return r
}
