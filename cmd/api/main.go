// Package main provides the entrypoint for the mosquito model API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/3T-LVTN/model/internal/api"
	"github.com/3T-LVTN/model/internal/api/handler"
	"github.com/3T-LVTN/model/internal/api/middleware"
	"github.com/3T-LVTN/model/internal/app"
	"github.com/3T-LVTN/model/internal/auth"
	"github.com/3T-LVTN/model/internal/config"
	"github.com/3T-LVTN/model/internal/telemetry"
	"github.com/3T-LVTN/model/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "model-api"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting model API")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize OpenTelemetry
	ctx := context.Background()
	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.App.Env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize application")
		os.Exit(1)
	}
	defer a.Close()

	signingKey := cfg.Auth.SigningKey
	if signingKey == "" {
		signingKey = "local-dev-signing-key-change-in-production"
		log.Warn().Msg("using default JWT signing key - not secure for production")
	}
	jwtService := auth.NewJWTService(auth.JWTConfig{
		SigningKey: signingKey,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
	})

	// Jobs go to Pub/Sub when configured, otherwise they run in-process.
	var publisher handler.JobPublisher
	if cfg.PubSub.ProjectID != "" {
		p, err := worker.NewPublisher(ctx, cfg.PubSub.ProjectID, cfg.PubSub.Topic)
		if err != nil {
			log.Error().Err(err).Msg("failed to create job publisher")
			os.Exit(1)
		}
		defer func() {
			if err := p.Close(); err != nil {
				log.Warn().Err(err).Msg("closing job publisher")
			}
		}()
		publisher = p
		log.Info().Str("topic", cfg.PubSub.Topic).Msg("publishing jobs to Pub/Sub")
	} else {
		local := worker.NewLocalPublisher(a.Dispatcher)
		defer local.Wait()
		publisher = local
		log.Warn().Msg("Pub/Sub not configured - jobs run in the API process")
	}

	subsystems := make(map[string]handler.Pinger)
	for name, ping := range a.Pings() {
		subsystems[name] = handler.PingFunc(ping)
	}

	router := api.NewRouter(api.RouterConfig{
		Version:       Version,
		BuildTime:     BuildTime,
		Logger:        log,
		ServiceName:   serviceName,
		Metrics:       metrics,
		RequireTLS:    cfg.App.RequireTLS,
		Notifier:      a.Notifier,
		Tokens:        jwtService,
		Predictor:     a.Predictions,
		Uploader:      a.Uploader,
		Publisher:     publisher,
		MaxUploadSize: cfg.Storage.MaxUploadSize,
		Subsystems:    subsystems,
		Providers:     a.Providers,
	})

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return
	}

	log.Info().Msg("server stopped")
}
