package location_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3T-LVTN/model/internal/location"
)

func ptr(v float64) *float64 { return &v }

func newService(repo *location.InMemoryRepository) *location.Service {
	return location.NewService(location.ServiceConfig{
		Repository:        repo,
		Logger:            zerolog.Nop(),
		DistanceThreshold: 0.01,
	})
}

func TestResolve_SamePointTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := location.NewInMemoryRepository()
	svc := newService(repo)

	first, alias, err := svc.Resolve(ctx, location.Query{Longitude: ptr(106.70), Latitude: ptr(10.77)})
	require.NoError(t, err)
	assert.Nil(t, alias)

	second, _, err := svc.Resolve(ctx, location.Query{Longitude: ptr(106.703), Latitude: ptr(10.772)})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestResolve_FarPointCreatesNewLocation(t *testing.T) {
	ctx := context.Background()
	svc := newService(location.NewInMemoryRepository())

	a, _, err := svc.Resolve(ctx, location.Query{Longitude: ptr(106.70), Latitude: ptr(10.77)})
	require.NoError(t, err)

	// Inside the square box but outside the circle.
	b, _, err := svc.Resolve(ctx, location.Query{Longitude: ptr(106.708), Latitude: ptr(10.778)})
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
}

func TestResolve_PicksNearestCandidate(t *testing.T) {
	ctx := context.Background()
	repo := location.NewInMemoryRepository()
	svc := newService(repo)

	require.NoError(t, repo.Create(ctx, &location.Location{Longitude: 106.705, Latitude: 10.77}))
	near := &location.Location{Longitude: 106.701, Latitude: 10.77}
	require.NoError(t, repo.Create(ctx, near))

	got, _, err := svc.Resolve(ctx, location.Query{Longitude: ptr(106.70), Latitude: ptr(10.77)})
	require.NoError(t, err)
	assert.Equal(t, near.ID, got.ID)
}

func TestResolve_CodeCreatesAliasThenHitsFastPath(t *testing.T) {
	ctx := context.Background()
	repo := location.NewInMemoryRepository()
	svc := newService(repo)

	loc, alias, err := svc.Resolve(ctx, location.Query{Longitude: ptr(106.70), Latitude: ptr(10.77), Code: "26734"})
	require.NoError(t, err)
	require.NotNil(t, alias)
	assert.Equal(t, loc.ID, alias.LocationID)

	// Coordinates are ignored once the code is known.
	again, againAlias, err := svc.Resolve(ctx, location.Query{Code: "26734"})
	require.NoError(t, err)
	assert.Equal(t, loc.ID, again.ID)
	assert.Equal(t, alias.ID, againAlias.ID)
}

func TestResolve_MissingData(t *testing.T) {
	svc := newService(location.NewInMemoryRepository())

	_, _, err := svc.Resolve(context.Background(), location.Query{Code: "unknown"})
	assert.ErrorIs(t, err, location.ErrMissingLocationData)

	_, _, err = svc.Resolve(context.Background(), location.Query{Longitude: ptr(106.7)})
	assert.ErrorIs(t, err, location.ErrMissingLocationData)
}

func TestResolveBatch_SkipsFailures(t *testing.T) {
	ctx := context.Background()
	svc := newService(location.NewInMemoryRepository())

	_, _, err := svc.Resolve(ctx, location.Query{Longitude: ptr(106.70), Latitude: ptr(10.77), Code: "A"})
	require.NoError(t, err)

	res := svc.ResolveBatch(ctx, []location.Query{
		{Code: "A"},
		{},
		{Longitude: ptr(105.0), Latitude: ptr(9.0), Code: "B"},
	})
	require.Len(t, res, 3)

	assert.NoError(t, res[0].Err)
	assert.Equal(t, "A", res[0].Alias.Code)
	assert.ErrorIs(t, res[1].Err, location.ErrMissingLocationData)
	assert.NoError(t, res[2].Err)
	assert.Equal(t, 2, res[2].Index)
	assert.NotEqual(t, res[0].Location.ID, res[2].Location.ID)
}

func TestNewService_DefaultThreshold(t *testing.T) {
	svc := location.NewService(location.ServiceConfig{Repository: location.NewInMemoryRepository()})
	assert.InDelta(t, location.DefaultDistanceThreshold, svc.Threshold(), 1e-12)
}
