package resilience_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3T-LVTN/model/internal/provider/resilience"
)

func TestRegistry_ClientRegistersItself(t *testing.T) {
	registry := resilience.NewRegistry()
	cfg := resilience.DefaultClientConfig("visual-crossing")
	cfg.Registry = registry

	client := resilience.NewClient(cfg)
	assert.Equal(t, "visual-crossing", client.Name())

	health, ok := registry.Health("visual-crossing")
	require.True(t, ok)
	assert.Equal(t, gobreaker.StateClosed, health.CircuitState)
	assert.Equal(t, "ok", health.Status())
	assert.Nil(t, health.LastSuccessAt)

	_, ok = registry.Health("unknown")
	assert.False(t, ok)
}

func TestRegistry_RecordsOutcomes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	registry := resilience.NewRegistry()
	cfg := fastConfig("visual-crossing")
	cfg.Registry = registry
	client := resilience.NewClient(cfg)

	resp, err := client.Do(newRequest(t, server.URL))
	require.NoError(t, err)
	resp.Body.Close()

	health, _ := registry.Health("visual-crossing")
	assert.NotNil(t, health.LastSuccessAt)

	registry.RecordFailure("visual-crossing", errors.New("quota exhausted"))
	health, _ = registry.Health("visual-crossing")
	assert.NotNil(t, health.LastFailureAt)
	assert.Equal(t, "quota exhausted", health.LastError)
}

func TestRegistry_AllSortedByName(t *testing.T) {
	registry := resilience.NewRegistry()
	for _, name := range []string{"slack", "minio", "visual-crossing"} {
		cfg := resilience.DefaultClientConfig(name)
		cfg.Registry = registry
		resilience.NewClient(cfg)
	}

	all := registry.All()
	require.Len(t, all, 3)
	assert.Equal(t, "minio", all[0].Name)
	assert.Equal(t, "slack", all[1].Name)
	assert.Equal(t, "visual-crossing", all[2].Name)
}

func TestProviderHealth_Status(t *testing.T) {
	assert.Equal(t, "degraded", resilience.ProviderHealth{CircuitState: gobreaker.StateHalfOpen}.Status())
	assert.Equal(t, "down", resilience.ProviderHealth{CircuitState: gobreaker.StateOpen}.Status())
}
