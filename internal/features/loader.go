package features

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/3T-LVTN/model/internal/location"
	"github.com/3T-LVTN/model/internal/timeseries"
	"github.com/3T-LVTN/model/internal/weather"
)

// ErrNoTrainingData is returned when no observation in a time window has a
// matching outcome value.
var ErrNoTrainingData = errors.New("no training rows for time window")

// DayFetcher fetches one day of weather for a coordinate.
type DayFetcher interface {
	FetchDay(ctx context.Context, lon, lat float64, day time.Time) (*weather.Record, error)
}

// LoaderConfig configures the loader.
type LoaderConfig struct {
	Series  timeseries.Repository
	Weather DayFetcher

	// Transform is applied to every frame before it is returned
	// (default: Normalize).
	Transform Transform

	Logger zerolog.Logger
}

// Loader reads observations and outcomes and shapes them into frames.
type Loader struct {
	series    timeseries.Repository
	weather   DayFetcher
	transform Transform
	logger    zerolog.Logger
}

// NewLoader creates a loader.
func NewLoader(cfg LoaderConfig) *Loader {
	transform := cfg.Transform
	if transform == nil {
		transform = Normalize
	}
	return &Loader{
		series:    cfg.Series,
		weather:   cfg.Weather,
		transform: transform,
		logger:    cfg.Logger,
	}
}

// TrainingColumns are the columns of a training frame.
func TrainingColumns() []string {
	cols := append([]string(nil), FeatureColumns...)
	return append(cols, OutcomeColumn, LocationColumn)
}

// InferenceColumns are the columns of an inference frame.
func InferenceColumns() []string {
	cols := append([]string(nil), FeatureColumns...)
	return append(cols, LocationColumn)
}

type joinKey struct {
	locationID int64
	dateTime   int64
}

// TrainingFrame joins the window's observations to its outcome values on
// (location_id, date_time). Observations without a label are dropped; an
// observation with several labels yields one row per label.
func (l *Loader) TrainingFrame(ctx context.Context, timeWindowID int64) (*Frame, error) {
	observations, err := l.series.ListObservationsByTimeWindow(ctx, timeWindowID)
	if err != nil {
		return nil, fmt.Errorf("listing observations: %w", err)
	}
	outcomes, err := l.series.ListOutcomesByTimeWindow(ctx, timeWindowID)
	if err != nil {
		return nil, fmt.Errorf("listing outcomes: %w", err)
	}

	labels := make(map[joinKey][]float64, len(outcomes))
	for _, o := range outcomes {
		k := joinKey{locationID: o.LocationID, dateTime: o.DateTime}
		labels[k] = append(labels[k], o.Value)
	}

	sort.SliceStable(observations, func(i, j int) bool {
		if observations[i].LocationID != observations[j].LocationID {
			return observations[i].LocationID < observations[j].LocationID
		}
		return observations[i].DateTime < observations[j].DateTime
	})

	frame := NewFrame(TrainingColumns()...)
	for _, obs := range observations {
		for _, y := range labels[joinKey{locationID: obs.LocationID, dateTime: obs.DateTime}] {
			row := featureValues(obs)
			row = append(row, y, float64(obs.LocationID))
			frame.Append(row)
		}
	}

	l.logger.Debug().
		Int64("time_window_id", timeWindowID).
		Int("observations", len(observations)).
		Int("outcomes", len(outcomes)).
		Int("rows", frame.Len()).
		Msg("built training frame")

	if frame.Len() == 0 {
		return nil, fmt.Errorf("%w %d", ErrNoTrainingData, timeWindowID)
	}
	return l.transform(frame), nil
}

// InferenceRow returns the one-row frame for loc on the day of when. A
// missing observation is fetched from the weather provider and stored
// without a time window; the crawl job assigns it later.
func (l *Loader) InferenceRow(ctx context.Context, loc *location.Location, when time.Time) (*Frame, error) {
	day := timeseries.DayStart(when.UTC())

	obs, err := l.series.GetObservation(ctx, loc.ID, day.Unix())
	switch {
	case err == nil:
	case errors.Is(err, timeseries.ErrObservationNotFound):
		obs, err = l.fetchObservation(ctx, loc, day)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("getting observation: %w", err)
	}

	frame := NewFrame(InferenceColumns()...)
	frame.Append(append(featureValues(obs), float64(loc.ID)))
	return l.transform(frame), nil
}

func (l *Loader) fetchObservation(ctx context.Context, loc *location.Location, day time.Time) (*timeseries.Observation, error) {
	if l.weather == nil {
		return nil, fmt.Errorf("%w: no weather provider configured", weather.ErrUpstreamUnavailable)
	}

	rec, err := l.weather.FetchDay(ctx, loc.Longitude, loc.Latitude, day)
	if err != nil {
		return nil, err
	}

	obs := rec.Observation(loc.ID, nil)
	obs.DateTime = day.Unix()
	if err := l.series.CreateObservation(ctx, obs); err != nil {
		return nil, fmt.Errorf("storing observation: %w", err)
	}

	l.logger.Info().
		Int64("location_id", loc.ID).
		Time("day", day).
		Msg("stored fetched weather observation")
	return obs, nil
}

// featureValues returns obs in FeatureColumns order with NaN for missing cells.
func featureValues(obs *timeseries.Observation) []float64 {
	return []float64{
		value(obs.MinimumTemperature),
		value(obs.MaximumTemperature),
		value(obs.Temperature),
		value(obs.DewPoint),
		value(obs.RelativeHumidity),
		value(obs.HeatIndex),
		value(obs.WindSpeed),
		value(obs.WindGust),
		value(obs.WindDirection),
		value(obs.WindChill),
		value(obs.Precipitation),
		value(obs.PrecipitationCover),
		value(obs.SnowDepth),
		value(obs.Visibility),
		value(obs.CloudCover),
		value(obs.SeaLevelPressure),
		weatherTypeValue(obs.WeatherType),
	}
}

func value(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

// weatherTypeValue reads numeric weather type codes; descriptive text has
// no numeric meaning and counts as missing.
func weatherTypeValue(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
