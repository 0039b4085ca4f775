package artifact_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3T-LVTN/model/internal/artifact"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemoryStore()

	_, err := store.Get(ctx, "model/1")
	assert.ErrorIs(t, err, artifact.ErrNotFound)

	require.NoError(t, store.Put(ctx, "model/1", []byte("a"), "application/json"))
	require.NoError(t, store.Put(ctx, "model/1", []byte("b"), "application/json"))

	data, err := store.Get(ctx, "model/1")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), data)
	assert.Equal(t, 2, store.Puts())

	// Returned bytes are a copy.
	data[0] = 'x'
	again, _ := store.Get(ctx, "model/1")
	assert.Equal(t, []byte("b"), again)
}
