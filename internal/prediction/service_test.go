package prediction_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3T-LVTN/model/internal/countmodel"
	"github.com/3T-LVTN/model/internal/features"
	"github.com/3T-LVTN/model/internal/location"
	"github.com/3T-LVTN/model/internal/prediction"
	"github.com/3T-LVTN/model/internal/timeseries"
	"github.com/3T-LVTN/model/internal/weather"
)

var now = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

// rowBuilder returns temperature = location id / 10, failing for the
// configured days.
type rowBuilder struct {
	mu      sync.Mutex
	calls   int
	failDay map[int64]bool
}

func (r *rowBuilder) InferenceRow(_ context.Context, loc *location.Location, when time.Time) (*features.Frame, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.failDay[when.Unix()] {
		return nil, weather.ErrUpstreamUnavailable
	}
	frame := features.NewFrame("temperature", features.LocationColumn)
	frame.Append([]float64{float64(loc.ID) / 10, float64(loc.ID)})
	return frame, nil
}

type modelSource struct {
	mu     sync.Mutex
	fitted *countmodel.Fitted
	err    error
	calls  int
}

func (m *modelSource) Get(context.Context) (*countmodel.Fitted, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.fitted, m.err
}

type fixture struct {
	svc       *prediction.Service
	series    *timeseries.InMemoryRepository
	locations *location.InMemoryRepository
	rows      *rowBuilder
	model     *modelSource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	locRepo := location.NewInMemoryRepository()
	series := timeseries.NewInMemoryRepository()
	rows := &rowBuilder{failDay: map[int64]bool{}}
	model := &modelSource{fitted: &countmodel.Fitted{
		Columns:      []string{"temperature"},
		Coefficients: []float64{1},
	}}

	svc := prediction.NewService(prediction.ServiceConfig{
		Locations:    location.NewService(location.ServiceConfig{Repository: locRepo, Logger: zerolog.Nop()}),
		Series:       series,
		Rows:         rows,
		Model:        model,
		TimeWindowID: 1,
		Workers:      4,
		Logger:       zerolog.Nop(),
		Now:          func() time.Time { return now },
	})
	return &fixture{svc: svc, series: series, locations: locRepo, rows: rows, model: model}
}

func (f *fixture) addLocation(t *testing.T, lon, lat float64) *location.Location {
	t.Helper()
	loc := &location.Location{Longitude: lon, Latitude: lat}
	require.NoError(t, f.locations.Create(context.Background(), loc))
	return loc
}

func TestPredictLocation_SameDayCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loc := f.addLocation(t, 106.7, 10.8)

	require.NoError(t, f.series.CreatePrediction(ctx, &timeseries.PredictionLog{
		LocationID:  loc.ID,
		Value:       42.5,
		PredictTime: timeseries.DayStart(now).Unix(),
		CreatedAt:   now.Add(-time.Hour),
	}))

	p, err := f.svc.PredictLocation(ctx, loc.ID, now)
	require.NoError(t, err)
	assert.True(t, p.Cached)
	assert.Equal(t, 42.5, p.Value)
	assert.Equal(t, 0, f.model.calls)
	assert.Equal(t, 0, f.rows.calls)
}

func TestPredictLocation_YesterdaysLogIsNotReused(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loc := f.addLocation(t, 106.7, 10.8)

	require.NoError(t, f.series.CreatePrediction(ctx, &timeseries.PredictionLog{
		LocationID:  loc.ID,
		Value:       42.5,
		PredictTime: timeseries.DayStart(now).Unix(),
		CreatedAt:   now.Add(-24 * time.Hour),
	}))

	p, err := f.svc.PredictLocation(ctx, loc.ID, now)
	require.NoError(t, err)
	assert.False(t, p.Cached)
	assert.Equal(t, 1, f.model.calls)
}

func TestPredictLocation_ComputesAndLogs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loc := f.addLocation(t, 106.7, 10.8)

	p, err := f.svc.PredictLocation(ctx, loc.ID, now)
	require.NoError(t, err)
	assert.False(t, p.Cached)
	assert.InDelta(t, math.Exp(float64(loc.ID)/10), p.Value, 1e-12)
	assert.Equal(t, timeseries.DayStart(now), p.Day)

	logged, err := f.series.LatestPredictionFor(ctx, loc.ID, timeseries.DayStart(now).Unix(), timeseries.DayStart(now))
	require.NoError(t, err)
	assert.Equal(t, p.Value, logged.Value)
	assert.Equal(t, "model/1", logged.ArtifactKey)
	assert.Equal(t, timeseries.DayStart(now).Unix(), logged.PredictTime)

	again, err := f.svc.PredictLocation(ctx, loc.ID, now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, p.Value, again.Value)
	assert.Equal(t, 1, f.model.calls)
	assert.Equal(t, 1, f.series.PredictionCount())
}

func TestPredictLocation_NonFiniteIsNotLogged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.model.fitted.Intercept = 1000
	loc := f.addLocation(t, 106.7, 10.8)

	_, err := f.svc.PredictLocation(ctx, loc.ID, now)
	assert.ErrorIs(t, err, countmodel.ErrNonFinitePrediction)
	assert.Equal(t, 0, f.series.PredictionCount())
}

func TestPredictLocation_ModelUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.model.err = countmodel.ErrModelNotTrainable
	loc := f.addLocation(t, 106.7, 10.8)

	_, err := f.svc.PredictLocation(ctx, loc.ID, now)
	assert.ErrorIs(t, err, countmodel.ErrModelNotTrainable)
}

func TestPredictCoordinates_ResolvesFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	lon, lat := 106.7, 10.8

	loc, p, err := f.svc.PredictCoordinates(ctx, location.Query{Longitude: &lon, Latitude: &lat}, now)
	require.NoError(t, err)
	assert.Equal(t, loc.ID, p.LocationID)

	_, _, err = f.svc.PredictCoordinates(ctx, location.Query{Code: "unknown"}, now)
	assert.ErrorIs(t, err, location.ErrMissingLocationData)
}

func TestPredictRange_SkipsFailedDays(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loc := f.addLocation(t, 106.7, 10.8)

	start := time.Date(2024, 5, 28, 0, 0, 0, 0, time.UTC)
	f.rows.failDay[start.AddDate(0, 0, 1).Unix()] = true

	got := f.svc.PredictRange(ctx, loc.ID, start, start.AddDate(0, 0, 3))
	require.Len(t, got, 3)
	assert.Equal(t, start, got[0].Day)
	assert.Equal(t, start.AddDate(0, 0, 2), got[1].Day)
	assert.Equal(t, start.AddDate(0, 0, 3), got[2].Day)
}

func TestPredictRange_SecondCallReusesLogs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loc := f.addLocation(t, 106.7, 10.8)

	start := time.Date(2024, 5, 29, 0, 0, 0, 0, time.UTC)
	first := f.svc.PredictRange(ctx, loc.ID, start, start.AddDate(0, 0, 3))
	require.Len(t, first, 4)
	for _, p := range first {
		assert.False(t, p.Cached)
	}
	calls := f.model.calls
	logged := f.series.PredictionCount()
	assert.Equal(t, 4, logged)

	second := f.svc.PredictRange(ctx, loc.ID, start, start.AddDate(0, 0, 3))
	require.Len(t, second, 4)
	for i, p := range second {
		assert.True(t, p.Cached, "day %d", i)
		assert.Equal(t, first[i].Day, p.Day)
		assert.Equal(t, first[i].Value, p.Value)
	}
	assert.Equal(t, calls, f.model.calls)
	assert.Equal(t, logged, f.series.PredictionCount())
}

func TestPredictLocation_CacheIsPerPredictedDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loc := f.addLocation(t, 106.7, 10.8)

	tomorrow := timeseries.DayStart(now).AddDate(0, 0, 1)
	require.NoError(t, f.series.CreatePrediction(ctx, &timeseries.PredictionLog{
		LocationID:  loc.ID,
		Value:       42.5,
		PredictTime: tomorrow.Unix(),
		CreatedAt:   now.Add(-time.Minute),
	}))

	p, err := f.svc.PredictLocation(ctx, loc.ID, now)
	require.NoError(t, err)
	assert.False(t, p.Cached)
	assert.NotEqual(t, 42.5, p.Value)

	p, err = f.svc.PredictLocation(ctx, loc.ID, tomorrow)
	require.NoError(t, err)
	assert.True(t, p.Cached)
	assert.Equal(t, 42.5, p.Value)
}

func TestPredictBatch_ExcludesFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.addLocation(t, 106.7, 10.8)
	b := f.addLocation(t, 106.9, 10.9)

	got := f.svc.PredictBatch(ctx, []int64{a.ID, 999, b.ID}, now)
	require.Len(t, got, 3)
	require.NotNil(t, got[0])
	assert.Nil(t, got[1])
	require.NotNil(t, got[2])
	assert.Equal(t, a.ID, got[0].LocationID)
	assert.Equal(t, b.ID, got[2].LocationID)
}

func TestBucket_Boundaries(t *testing.T) {
	thresholds := [3]float64{2.0, 5.0, 9.0}

	tests := []struct {
		value float64
		want  prediction.Rate
	}{
		{1.9, prediction.RateSafe},
		{2.0, prediction.RateNormal},
		{4.99, prediction.RateNormal},
		{5.0, prediction.RateLowRisk},
		{9.0, prediction.RateHighRisk},
		{9.5, prediction.RateHighRisk},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, prediction.Bucket(tt.value, thresholds), "value %v", tt.value)
	}
}

func TestRate_String(t *testing.T) {
	assert.Equal(t, "SAFE", prediction.RateSafe.String())
	assert.Equal(t, "NORMAL", prediction.RateNormal.String())
	assert.Equal(t, "LOW RISK", prediction.RateLowRisk.String())
	assert.Equal(t, "HIGH RISK", prediction.RateHighRisk.String())
	assert.Equal(t, "UNKNOWN", prediction.Rate(7).String())
}

func TestQuartiles_ComputedOnceAndMemoised(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i, v := range []float64{1, 2, 3, 4, 5, 6, 7, 8} {
		require.NoError(t, f.series.CreatePrediction(ctx, &timeseries.PredictionLog{
			LocationID:  int64(i + 1),
			Value:       v,
			PredictTime: timeseries.DayStart(now).Unix(),
			CreatedAt:   now.Add(-time.Duration(i) * time.Minute),
		}))
	}

	q, err := f.svc.Quartiles(ctx, now)
	require.NoError(t, err)
	assert.LessOrEqual(t, 1.0, q[0])
	assert.LessOrEqual(t, q[0], q[1])
	assert.LessOrEqual(t, q[1], q[2])
	assert.LessOrEqual(t, q[2], 8.0)

	require.NoError(t, f.series.CreatePrediction(ctx, &timeseries.PredictionLog{
		LocationID: 100, Value: 1000, PredictTime: timeseries.DayStart(now).Unix(), CreatedAt: now,
	}))
	again, err := f.svc.Quartiles(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, q, again)
}

func TestQuartiles_AllEqual(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < 4; i++ {
		require.NoError(t, f.series.CreatePrediction(ctx, &timeseries.PredictionLog{
			LocationID: int64(i), Value: 3, PredictTime: timeseries.DayStart(now).Unix(), CreatedAt: now,
		}))
	}

	q, err := f.svc.Quartiles(ctx, now)
	require.NoError(t, err)
	for _, v := range q {
		assert.InDelta(t, 3.0, v, 1e-9)
	}
}

func TestQuartiles_NewestValuePerLocation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	day := timeseries.DayStart(now)
	for i := 0; i < 4; i++ {
		require.NoError(t, f.series.CreatePrediction(ctx, &timeseries.PredictionLog{
			LocationID: int64(i), Value: 3, PredictTime: day.Unix(), CreatedAt: now,
		}))
	}
	require.NoError(t, f.series.CreatePrediction(ctx, &timeseries.PredictionLog{
		LocationID: 0, Value: 500, PredictTime: day.Unix(), CreatedAt: now.Add(-24 * time.Hour),
	}))
	require.NoError(t, f.series.CreatePrediction(ctx, &timeseries.PredictionLog{
		LocationID: 9, Value: 500, PredictTime: day.AddDate(0, 0, 1).Unix(), CreatedAt: now,
	}))

	q, err := f.svc.Quartiles(ctx, now)
	require.NoError(t, err)
	for _, v := range q {
		assert.InDelta(t, 3.0, v, 1e-9)
	}
}

func TestQuartiles_NoPredictions(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Quartiles(context.Background(), now)
	assert.ErrorIs(t, err, prediction.ErrNoPrediction)
}

func TestDetail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	lon, lat := 106.7, 10.8
	loc := f.addLocation(t, lon, lat)

	start := time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC)
	temp, precip := 30.5, 1.2
	require.NoError(t, f.series.CreateObservation(ctx, &timeseries.Observation{
		LocationID:    loc.ID,
		DateTime:      start.Unix(),
		Temperature:   &temp,
		Precipitation: &precip,
	}))

	detail, err := f.svc.Detail(ctx, location.Query{Longitude: &lon, Latitude: &lat}, start, start.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, loc.ID, detail.Location.ID)
	require.Len(t, detail.Days, 2)
	assert.Equal(t, 30.5, *detail.Days[0].Temperature)
	assert.Equal(t, 1.2, *detail.Days[0].Precip)
	assert.Nil(t, detail.Days[1].Temperature)
}

func TestDetail_NoPrediction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.model.err = errors.New("model store down")
	lon, lat := 106.7, 10.8

	_, err := f.svc.Detail(ctx, location.Query{Longitude: &lon, Latitude: &lat}, now, now)
	assert.ErrorIs(t, err, prediction.ErrNoPrediction)
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	loc := f.addLocation(t, 106.7, 10.8)
	require.NoError(t, f.locations.CreateAlias(ctx, &location.Alias{Code: "W1", LocationID: loc.ID}))

	got := f.svc.Summary(ctx, []string{"W1", "missing"}, 3)
	require.Len(t, got, 1)
	assert.Equal(t, "W1", got[0].Code)
	assert.Equal(t, loc.ID, got[0].Location.ID)
	assert.InDelta(t, math.Exp(float64(loc.ID)/10), got[0].Value, 1e-12)
	assert.Equal(t, 0.0, got[0].Precip)
}

func TestProvinceSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < 4; i++ {
		loc := f.addLocation(t, 106.0+float64(i), 10.0)
		f.locations.AddWard(location.Ward{Code: string(rune('A' + i)), Name: "ward", LocationID: loc.ID})
	}
	f.locations.AddWard(location.Ward{Code: "Z", Name: "orphan", LocationID: 999})

	summary, err := f.svc.ProvinceSummary(ctx, now)
	require.NoError(t, err)
	assert.Len(t, summary.Wards, 4)

	total := 0
	for _, r := range prediction.Rates() {
		total += summary.Counts[r]
	}
	assert.Equal(t, 4, total)
	assert.GreaterOrEqual(t, summary.Counts[prediction.RateHighRisk], 1, "the largest value is at or above the third quartile")
}

func TestPredictPoints(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	known := f.addLocation(t, 106.7, 10.8)

	lon, lat := 106.7, 10.8
	farLon, farLat := 107.5, 11.5
	points, err := f.svc.PredictPoints(ctx, []location.Query{
		{Longitude: &lon, Latitude: &lat},
		{Code: "unknown"},
		{Longitude: &farLon, Latitude: &farLat},
	}, now)
	require.NoError(t, err)
	require.Len(t, points, 3)

	require.NotNil(t, points[0])
	assert.Equal(t, known.ID, points[0].Location.ID)
	assert.Nil(t, points[1])
	require.NotNil(t, points[2])
	assert.NotEqual(t, known.ID, points[2].Location.ID)
	assert.Greater(t, points[2].Value, points[0].Value)
	assert.GreaterOrEqual(t, points[2].Rate, points[0].Rate)
}

func TestPredictPoints_NothingResolved(t *testing.T) {
	f := newFixture(t)

	points, err := f.svc.PredictPoints(context.Background(), []location.Query{{Code: "unknown"}}, now)
	require.NoError(t, err)
	assert.Equal(t, []*prediction.RatedPrediction{nil}, points)
	assert.Equal(t, 0, f.model.calls)
}

func TestPredictPoints_PastAndFutureDays(t *testing.T) {
	ctx := context.Background()
	lon, lat := 106.7, 10.8
	farLon, farLat := 107.5, 11.5

	for _, when := range []time.Time{now.AddDate(0, 0, -10), now.AddDate(0, 0, 1)} {
		f := newFixture(t)
		points, err := f.svc.PredictPoints(ctx, []location.Query{
			{Longitude: &lon, Latitude: &lat},
			{Longitude: &farLon, Latitude: &farLat},
		}, when)
		require.NoError(t, err, when)
		require.Len(t, points, 2)
		for _, p := range points {
			require.NotNil(t, p)
			assert.True(t, p.Rated)
			assert.Equal(t, timeseries.DayStart(when), p.Day)
		}
		assert.LessOrEqual(t, points[0].Rate, points[1].Rate)
	}
}

// noQuartiles fails every quartile lookup.
type noQuartiles struct {
	*timeseries.InMemoryRepository
}

func (noQuartiles) GetQuartiles(context.Context, int64) (*timeseries.QuartileThresholds, error) {
	return nil, errors.New("quartile table locked")
}

func TestPredictPoints_UnratedWhenQuartilesFail(t *testing.T) {
	ctx := context.Background()
	svc := prediction.NewService(prediction.ServiceConfig{
		Locations:    location.NewService(location.ServiceConfig{Repository: location.NewInMemoryRepository(), Logger: zerolog.Nop()}),
		Series:       noQuartiles{timeseries.NewInMemoryRepository()},
		Rows:         &rowBuilder{failDay: map[int64]bool{}},
		Model:        &modelSource{fitted: &countmodel.Fitted{Columns: []string{"temperature"}, Coefficients: []float64{1}}},
		TimeWindowID: 1,
		Logger:       zerolog.Nop(),
		Now:          func() time.Time { return now },
	})
	lon, lat := 106.7, 10.8

	points, err := svc.PredictPoints(ctx, []location.Query{{Longitude: &lon, Latitude: &lat}}, now)
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.NotNil(t, points[0])
	assert.False(t, points[0].Rated)
	assert.Greater(t, points[0].Value, 0.0)
}
