package countmodel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/3T-LVTN/model/internal/artifact"
)

// ArtifactKey is the storage key of the model for a time window.
func ArtifactKey(timeWindowID int64) string {
	return fmt.Sprintf("model/%d", timeWindowID)
}

// Cache loads and saves fitted models in the artifact store and keeps
// decoded models in memory.
type Cache struct {
	store  artifact.Store
	logger zerolog.Logger

	mu     sync.RWMutex
	models map[int64]*Fitted
}

// NewCache creates a cache over store.
func NewCache(store artifact.Store, logger zerolog.Logger) *Cache {
	return &Cache{
		store:  store,
		logger: logger,
		models: make(map[int64]*Fitted),
	}
}

// Load returns the model for the time window, or nil when the artifact is
// missing, empty or cannot be decoded. Errors are only returned when the
// store itself fails.
func (c *Cache) Load(ctx context.Context, timeWindowID int64) (*Fitted, error) {
	c.mu.RLock()
	m, ok := c.models[timeWindowID]
	c.mu.RUnlock()
	if ok {
		return m, nil
	}

	key := ArtifactKey(timeWindowID)
	data, err := c.store.Get(ctx, key)
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", key, err)
	}
	if len(data) == 0 {
		c.logger.Warn().Str("key", key).Msg("model artifact is empty")
		return nil, nil
	}

	m = &Fitted{}
	if err := m.UnmarshalBinary(data); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("model artifact is corrupt")
		return nil, nil
	}

	c.mu.Lock()
	c.models[timeWindowID] = m
	c.mu.Unlock()
	return m, nil
}

// Save uploads m, replacing any previous artifact, and caches it.
func (c *Cache) Save(ctx context.Context, timeWindowID int64, m *Fitted) error {
	data, err := m.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encoding model: %w", err)
	}
	if err := c.store.Put(ctx, ArtifactKey(timeWindowID), data, "application/json"); err != nil {
		return err
	}

	c.mu.Lock()
	c.models[timeWindowID] = m
	c.mu.Unlock()
	return nil
}

// Forget drops the in-memory copy so the next Load reads the store.
func (c *Cache) Forget(timeWindowID int64) {
	c.mu.Lock()
	delete(c.models, timeWindowID)
	c.mu.Unlock()
}
