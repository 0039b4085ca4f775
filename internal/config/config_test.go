package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3T-LVTN/model/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, int64(1), cfg.Model.TimeWindowID)
	assert.InDelta(t, 0.01, cfg.Model.LocationThreshold, 1e-12)
	assert.Equal(t, 10*time.Minute, cfg.Model.TrainTimeout)
	assert.Equal(t, "us", cfg.Weather.UnitGroup)
	assert.Empty(t, cfg.Weather.APIKeys)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.False(t, cfg.App.RequireTLS)
	assert.Equal(t, int64(32<<20), cfg.Storage.MaxUploadSize)
	assert.Equal(t, 3, cfg.Model.CrawlConcurrency)
	assert.Equal(t, "model-api", cfg.Auth.Audience)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("VISUAL_CROSSING_API_KEYS", " key-a, ,key-b ")
	t.Setenv("MODEL_TIME_WINDOW_ID", "7")
	t.Setenv("LOCATION_DISTANCE_THRESHOLD", "0.005")
	t.Setenv("MODEL_TRAIN_TIMEOUT", "90s")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("PREDICTION_WORKERS", "not-a-number")
	t.Setenv("REQUIRE_TLS", "true")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"key-a", "key-b"}, cfg.Weather.APIKeys)
	assert.Equal(t, int64(7), cfg.Model.TimeWindowID)
	assert.InDelta(t, 0.005, cfg.Model.LocationThreshold, 1e-12)
	assert.Equal(t, 90*time.Second, cfg.Model.TrainTimeout)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 8, cfg.Model.Workers)
	assert.True(t, cfg.App.RequireTLS)
}
