// Package config loads process configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/3T-LVTN/model/internal/database"
)

// Config is shared by the api and worker binaries.
type Config struct {
	App       AppConfig
	Database  database.Config
	Telemetry TelemetryConfig
	Weather   WeatherConfig
	Storage   StorageConfig
	Redis     RedisConfig
	PubSub    PubSubConfig
	Model     ModelConfig
	Slack     SlackConfig
	Auth      AuthConfig
}

type AppConfig struct {
	Port string
	Env  string

	// RequireTLS rejects requests forwarded over plain HTTP.
	RequireTLS bool
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
}

// WeatherConfig configures the Visual Crossing gateway.
type WeatherConfig struct {
	BaseURL   string
	APIKeys   []string
	UnitGroup string
	Timeout   time.Duration
}

// StorageConfig points at the S3 compatible bucket holding model artifacts and uploads.
type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool

	// MaxUploadSize bounds one uploaded outcome file in bytes.
	MaxUploadSize int64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

type PubSubConfig struct {
	ProjectID    string
	Topic        string
	Subscription string
}

// ModelConfig tunes training and prediction.
type ModelConfig struct {
	TimeWindowID      int64
	LocationThreshold float64
	TrainTimeout      time.Duration
	MaxIterations     int
	Tolerance         float64
	Workers           int
	CrawlInterval     time.Duration
	CrawlConcurrency  int
}

type SlackConfig struct {
	WebhookURL string
	Channel    string
}

type AuthConfig struct {
	SigningKey string
	Issuer     string
	Audience   string
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		App: AppConfig{
			Port:       getEnv("APP_PORT", "8080"),
			Env:        getEnv("APP_ENV", "development"),
			RequireTLS: getEnvAsBool("REQUIRE_TLS", false),
		},
		Database: database.ConfigFromEnv(),
		Telemetry: TelemetryConfig{
			Enabled:      getEnvAsBool("OTEL_ENABLED", false),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		},
		Weather: WeatherConfig{
			BaseURL:   getEnv("VISUAL_CROSSING_URL", "https://weather.visualcrossing.com"),
			APIKeys:   getEnvAsList("VISUAL_CROSSING_API_KEYS"),
			UnitGroup: getEnv("VISUAL_CROSSING_UNIT_GROUP", "us"),
			Timeout:   getEnvAsDuration("VISUAL_CROSSING_TIMEOUT", 20*time.Second),
		},
		Storage: StorageConfig{
			Endpoint:  getEnv("S3_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("S3_ACCESS_KEY", "minioadmin"),
			SecretKey: getEnv("S3_SECRET_KEY", "minioadmin"),
			Bucket:    getEnv("S3_BUCKET", "model"),
			UseSSL:    getEnvAsBool("S3_USE_SSL", false),

			MaxUploadSize: int64(getEnvAsInt("MAX_UPLOAD_SIZE", 32<<20)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			LockTTL:  getEnvAsDuration("TRAIN_LOCK_TTL", 15*time.Minute),
		},
		PubSub: PubSubConfig{
			ProjectID:    getEnv("PUBSUB_PROJECT_ID", ""),
			Topic:        getEnv("PUBSUB_TOPIC", "model-jobs"),
			Subscription: getEnv("PUBSUB_SUBSCRIPTION", "model-jobs-worker"),
		},
		Model: ModelConfig{
			TimeWindowID:      int64(getEnvAsInt("MODEL_TIME_WINDOW_ID", 1)),
			LocationThreshold: getEnvAsFloat("LOCATION_DISTANCE_THRESHOLD", 0.01),
			TrainTimeout:      getEnvAsDuration("MODEL_TRAIN_TIMEOUT", 10*time.Minute),
			MaxIterations:     getEnvAsInt("MODEL_MAX_ITERATIONS", 100),
			Tolerance:         getEnvAsFloat("MODEL_TOLERANCE", 1e-8),
			Workers:           getEnvAsInt("PREDICTION_WORKERS", 8),
			CrawlInterval:     getEnvAsDuration("CRAWL_INTERVAL", 6*time.Hour),
			CrawlConcurrency:  getEnvAsInt("CRAWL_CONCURRENCY", 3),
		},
		Slack: SlackConfig{
			WebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),
			Channel:    getEnv("SLACK_CHANNEL", "#model-alerts"),
		},
		Auth: AuthConfig{
			SigningKey: getEnv("JWT_SIGNING_KEY", ""),
			Issuer:     getEnv("JWT_ISSUER", "model-admin"),
			Audience:   getEnv("JWT_AUDIENCE", "model-api"),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
