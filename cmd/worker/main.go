// Package main provides the entrypoint for the background worker. It crawls
// weather on a schedule, imports uploaded files and runs jobs received over
// Pub/Sub.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/3T-LVTN/model/internal/api/handler"
	"github.com/3T-LVTN/model/internal/app"
	"github.com/3T-LVTN/model/internal/config"
	"github.com/3T-LVTN/model/internal/telemetry"
	"github.com/3T-LVTN/model/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "model-worker"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting model worker")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize application")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}
	defer a.Close()

	// Worker also exposes health endpoints for Cloud Run
	subsystems := make(map[string]handler.Pinger)
	for name, ping := range a.Pings() {
		subsystems[name] = handler.PingFunc(ping)
	}
	ops := handler.NewOpsHandler(Version, BuildTime, subsystems, a.Providers)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", ops.HealthCheck)
	mux.HandleFunc("/ready", ops.ReadinessCheck)

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health check server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	if cfg.PubSub.ProjectID != "" {
		sub, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSub.ProjectID,
			SubscriptionName: cfg.PubSub.Subscription,
			Dispatcher:       a.Dispatcher,
			Logger:           log,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to create pubsub handler")
			return
		}
		defer func() {
			if err := sub.Close(); err != nil {
				log.Warn().Err(err).Msg("closing pubsub client")
			}
		}()
		go func() {
			if err := sub.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("pubsub handler stopped")
			}
		}()
	} else {
		log.Warn().Msg("Pub/Sub not configured - only scheduled jobs will run")
	}

	go schedule(ctx, a.Dispatcher, cfg.Model.CrawlInterval, log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}

// schedule crawls weather and imports pending files every interval, starting
// immediately.
func schedule(ctx context.Context, d *worker.Dispatcher, interval time.Duration, log zerolog.Logger) {
	if interval <= 0 {
		log.Info().Msg("scheduled jobs disabled")
		return
	}
	log.Info().Dur("interval", interval).Msg("scheduler started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, job := range []string{worker.JobSyncFiles, worker.JobCrawlWeather} {
			if err := d.Handle(ctx, worker.JobMessage{JobType: job}); err != nil {
				log.Error().Err(err).Str("job_type", job).Msg("scheduled job failed")
			}
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}
