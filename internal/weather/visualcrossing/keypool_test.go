package visualcrossing_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3T-LVTN/model/internal/weather/visualcrossing"
)

func TestKeyPool_Rotation(t *testing.T) {
	pool := visualcrossing.NewKeyPool([]string{"a", "b", "c"})

	key, err := pool.Current()
	require.NoError(t, err)
	assert.Equal(t, "a", key)

	pool.MarkExhausted("a")
	key, _ = pool.Current()
	assert.Equal(t, "b", key)

	// Marking a key that is not current leaves the current one alone.
	pool.MarkExhausted("c")
	key, _ = pool.Current()
	assert.Equal(t, "b", key)
	assert.Equal(t, 1, pool.Available())

	pool.MarkExhausted("b")
	_, err = pool.Current()
	assert.ErrorIs(t, err, visualcrossing.ErrNoAPIKey)
}

func TestKeyPool_Empty(t *testing.T) {
	pool := visualcrossing.NewKeyPool(nil)
	_, err := pool.Current()
	assert.ErrorIs(t, err, visualcrossing.ErrNoAPIKey)
	assert.Equal(t, 0, pool.Available())
}

func TestKeyPool_ResetsWhenDayChanges(t *testing.T) {
	var mu sync.Mutex
	clock := time.Date(2024, 6, 1, 23, 59, 0, 0, time.UTC)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	pool := visualcrossing.NewKeyPool([]string{"a", "b"}, visualcrossing.WithClock(now))

	pool.MarkExhausted("a")
	pool.MarkExhausted("b")
	_, err := pool.Current()
	require.ErrorIs(t, err, visualcrossing.ErrNoAPIKey)

	mu.Lock()
	clock = clock.Add(30 * time.Second)
	mu.Unlock()
	_, err = pool.Current()
	assert.ErrorIs(t, err, visualcrossing.ErrNoAPIKey, "same UTC day")

	mu.Lock()
	clock = clock.Add(time.Minute)
	mu.Unlock()
	key, err := pool.Current()
	require.NoError(t, err)
	assert.Equal(t, "a", key)
	assert.Equal(t, 2, pool.Available())

	pool.MarkExhausted("a")
	key, err = pool.Current()
	require.NoError(t, err)
	assert.Equal(t, "b", key, "exhaustion after the rollover sticks for the day")
}
