// Package api provides the HTTP API of the mosquito count model.
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/3T-LVTN/model/internal/api/handler"
	"github.com/3T-LVTN/model/internal/api/middleware"
	"github.com/3T-LVTN/model/internal/notify"
	"github.com/3T-LVTN/model/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	RequireTLS  bool

	// Notifier receives 5xx responses (default: notify.Nop).
	Notifier notify.Notifier

	// Tokens guards upload and admin endpoints.
	Tokens middleware.AdminValidator

	Predictor     handler.Predictor
	Uploader      handler.FileUploader
	Publisher     handler.JobPublisher
	MaxUploadSize int64

	Subsystems map[string]handler.Pinger
	Providers  *resilience.Registry

	// Now is the request clock (default: time.Now).
	Now func() time.Time
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "model-api"
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.NotifyServerErrors(notifier))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Subsystems, cfg.Providers)
	predictionHandler := handler.NewPredictionHandler(cfg.Predictor, cfg.Logger, cfg.Now)
	adminHandler := handler.NewAdminHandler(cfg.Uploader, cfg.Publisher, cfg.MaxUploadSize, cfg.Logger)

	adminAuth := middleware.AdminAuth(cfg.Tokens)
	adminRateLimit := middleware.RateLimitBySubject(middleware.AdminRateLimit)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.With(adminAuth).Get("/status", opsHandler.SystemStatus)
		})

		r.Route("/prediction", func(r chi.Router) {
			r.With(middleware.RateLimitByIP(middleware.BatchRateLimit)).Post("/", predictionHandler.Predict)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimitByIP(middleware.PredictionRateLimit))
				r.Post("/summary", predictionHandler.Summary)
				r.Post("/detail", predictionHandler.Detail)
				r.Get("/summary/hcmc", predictionHandler.ProvinceSummary)
			})
			r.With(adminAuth, adminRateLimit).Post("/upload", adminHandler.Upload)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(adminAuth)
			r.Use(adminRateLimit)
			r.Post("/train", adminHandler.Train)
		})
	})

	return r
}
