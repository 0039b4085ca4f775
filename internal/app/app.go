// Package app wires the components shared by the api and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/3T-LVTN/model/internal/artifact"
	"github.com/3T-LVTN/model/internal/config"
	"github.com/3T-LVTN/model/internal/countmodel"
	"github.com/3T-LVTN/model/internal/database"
	"github.com/3T-LVTN/model/internal/features"
	"github.com/3T-LVTN/model/internal/ingest"
	"github.com/3T-LVTN/model/internal/location"
	"github.com/3T-LVTN/model/internal/lock"
	"github.com/3T-LVTN/model/internal/notify"
	"github.com/3T-LVTN/model/internal/prediction"
	"github.com/3T-LVTN/model/internal/provider/resilience"
	"github.com/3T-LVTN/model/internal/telemetry"
	"github.com/3T-LVTN/model/internal/timeseries"
	"github.com/3T-LVTN/model/internal/weather"
	"github.com/3T-LVTN/model/internal/weather/visualcrossing"
	"github.com/3T-LVTN/model/internal/worker"
)

// lockPrefix namespaces lock keys in a shared Redis.
const lockPrefix = "model:lock:"

// App holds the wired components. Close releases them.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	Pool      *pgxpool.Pool
	Store     artifact.Store
	Redis     *redis.Client
	Providers *resilience.Registry
	Metrics   *telemetry.ModelMetrics
	Notifier  notify.Notifier

	Locations   *location.Service
	Series      timeseries.Repository
	Weather     *weather.Service
	Features    *features.Loader
	Models      *countmodel.Manager
	Predictions *prediction.Service
	Uploader    *ingest.Uploader
	Syncer      *ingest.Syncer
	Dispatcher  *worker.Dispatcher

	pings map[string]func(context.Context) error
}

// New connects to every backing service and builds the component graph.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{
		Config:    cfg,
		Logger:    log,
		Providers: resilience.NewRegistry(),
		pings:     make(map[string]func(context.Context) error),
	}

	metrics, err := telemetry.NewModelMetrics()
	if err != nil {
		return nil, fmt.Errorf("creating model metrics: %w", err)
	}
	a.Metrics = metrics

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	a.Pool = pool
	a.pings["postgres"] = pool.Ping
	if err := database.Migrate(ctx, pool); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	log.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Str("database", cfg.Database.Database).
		Msg("database connected")

	if err := a.initStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	locker, err := a.initLocker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Notifier = notify.New(notify.SlackConfig{
		WebhookURL: cfg.Slack.WebhookURL,
		Channel:    cfg.Slack.Channel,
		Client:     a.httpClient("slack"),
		Logger:     log,
	})

	a.Series = timeseries.NewPostgresRepository(pool)
	a.Locations = location.NewService(location.ServiceConfig{
		Repository:        location.NewPostgresRepository(pool),
		Logger:            log,
		DistanceThreshold: cfg.Model.LocationThreshold,
	})

	clientCfg := resilience.DefaultClientConfig(visualcrossing.ProviderName)
	clientCfg.Timeout = cfg.Weather.Timeout
	clientCfg.Registry = a.Providers
	a.Weather = weather.NewService(weather.ServiceConfig{
		Gateway: visualcrossing.NewClient(visualcrossing.ClientConfig{
			BaseURL:    cfg.Weather.BaseURL,
			Keys:       visualcrossing.NewKeyPool(cfg.Weather.APIKeys),
			UnitGroup:  cfg.Weather.UnitGroup,
			HTTPClient: resilience.NewClient(clientCfg),
			Logger:     log,
		}),
		Logger:  log,
		Timeout: cfg.Weather.Timeout,
	})
	if len(cfg.Weather.APIKeys) == 0 {
		log.Warn().Msg("no Visual Crossing API keys configured - weather fetches will fail")
	}

	a.Features = features.NewLoader(features.LoaderConfig{
		Series:  a.Series,
		Weather: a.Weather,
		Logger:  log,
	})

	opts := countmodel.DefaultFitOptions()
	opts.MaxIterations = cfg.Model.MaxIterations
	opts.Tolerance = cfg.Model.Tolerance
	a.Models = countmodel.NewManager(countmodel.ManagerConfig{
		Frames:       a.Features,
		Cache:        countmodel.NewCache(a.Store, log),
		Locker:       locker,
		LockTTL:      cfg.Redis.LockTTL,
		TrainTimeout: cfg.Model.TrainTimeout,
		Options:      opts,
		Logger:       log,
		OnTrained: func(ctx context.Context, m *countmodel.Fitted, took time.Duration) {
			metrics.RecordTraining(ctx, m.TimeWindowID, took)
		},
	})

	a.Predictions = prediction.NewService(prediction.ServiceConfig{
		Locations:    a.Locations,
		Series:       a.Series,
		Rows:         a.Features,
		Model:        a.Models.Model(cfg.Model.TimeWindowID),
		TimeWindowID: cfg.Model.TimeWindowID,
		Workers:      cfg.Model.Workers,
		Metrics:      metrics,
		Logger:       log,
	})

	files := ingest.NewPostgresRepository(pool)
	a.Uploader = ingest.NewUploader(ingest.UploaderConfig{
		Store:   a.Store,
		Files:   files,
		Logger:  log,
		MaxSize: cfg.Storage.MaxUploadSize,
	})
	a.Syncer = ingest.NewSyncer(ingest.SyncerConfig{
		Store:     a.Store,
		Files:     files,
		Locations: a.Locations,
		Series:    a.Series,
		Logger:    log,
	})

	a.Dispatcher = &worker.Dispatcher{
		Crawl: worker.NewCrawlJob(worker.CrawlJobConfig{
			Config: worker.CrawlConfig{
				SlidingSize: 1,
				Concurrency: cfg.Model.CrawlConcurrency,
				Timeout:     cfg.Weather.Timeout,
			},
			Logger:    log,
			Series:    a.Series,
			Locations: a.Locations,
			Weather:   a.Weather,
			Metrics:   metrics,
		}),
		Train:    worker.NewTrainJob(a.Models, a.Series, log),
		Sync:     a.Syncer,
		Notifier: a.Notifier,
		Logger:   log,
	}

	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	cfg := a.Config.Storage
	if cfg.Endpoint == "" {
		a.Logger.Warn().Msg("no object storage configured - artifacts and uploads are kept in memory")
		a.Store = artifact.NewMemoryStore()
		return nil
	}
	store, err := artifact.NewMinioStore(ctx, artifact.MinioConfig{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		UseSSL:    cfg.UseSSL,
		Logger:    a.Logger,
	})
	if err != nil {
		return fmt.Errorf("connecting to object storage: %w", err)
	}
	a.Store = store
	a.pings["object-storage"] = store.Ping
	a.Logger.Info().Str("endpoint", cfg.Endpoint).Str("bucket", cfg.Bucket).Msg("object storage connected")
	return nil
}

func (a *App) initLocker(ctx context.Context) (lock.Locker, error) {
	cfg := a.Config.Redis
	if cfg.Addr == "" {
		a.Logger.Warn().Msg("no Redis configured - training lock is process-local")
		return lock.NewLocalLocker(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	a.Redis = client
	a.pings["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	a.Logger.Info().Str("addr", cfg.Addr).Msg("redis connected")
	return lock.NewRedisLocker(client, lockPrefix), nil
}

func (a *App) httpClient(name string) *resilience.Client {
	cfg := resilience.DefaultClientConfig(name)
	cfg.Registry = a.Providers
	return resilience.NewClient(cfg)
}

// Pings returns a health check per backing service.
func (a *App) Pings() map[string]func(context.Context) error {
	return a.pings
}

// Close waits briefly for background training and pending notifications,
// then releases connections.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.Models != nil {
		if err := a.Models.Wait(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("background training still running at shutdown")
		}
	}
	if slack, ok := a.Notifier.(*notify.Slack); ok {
		if err := slack.Wait(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			a.Logger.Warn().Err(err).Msg("waiting for notifications")
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("closing redis")
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
