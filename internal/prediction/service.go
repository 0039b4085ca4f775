// Package prediction serves count predictions per location and day,
// reusing same-day results and bucketing values into risk rates.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/3T-LVTN/model/internal/countmodel"
	"github.com/3T-LVTN/model/internal/features"
	"github.com/3T-LVTN/model/internal/location"
	"github.com/3T-LVTN/model/internal/telemetry"
	"github.com/3T-LVTN/model/internal/timeseries"
)

// ErrNoPrediction is returned when none of the requested days could be
// predicted.
var ErrNoPrediction = errors.New("no prediction available")

// Resolver maps queries and ids to locations.
type Resolver interface {
	Resolve(ctx context.Context, q location.Query) (*location.Location, *location.Alias, error)
	ResolveByID(ctx context.Context, id int64) (*location.Location, error)
	Wards(ctx context.Context) ([]*location.Ward, error)
}

// RowBuilder builds the inference row of a location and day.
type RowBuilder interface {
	InferenceRow(ctx context.Context, loc *location.Location, when time.Time) (*features.Frame, error)
}

// ModelSource returns the fitted model, loading or training it on first use.
type ModelSource interface {
	Get(ctx context.Context) (*countmodel.Fitted, error)
}

// ServiceConfig configures the prediction service.
type ServiceConfig struct {
	Locations Resolver
	Series    timeseries.Repository
	Rows      RowBuilder
	Model     ModelSource

	// TimeWindowID selects the artifact recorded on prediction logs.
	TimeWindowID int64

	// Workers bounds batch fan-out (default: 8).
	Workers int

	Metrics *telemetry.ModelMetrics
	Logger  zerolog.Logger

	// Now is the clock (default: time.Now).
	Now func() time.Time
}

// Service is the prediction orchestrator.
type Service struct {
	locations    Resolver
	series       timeseries.Repository
	rows         RowBuilder
	model        ModelSource
	timeWindowID int64
	workers      int
	metrics      *telemetry.ModelMetrics
	logger       zerolog.Logger
	now          func() time.Time
	tracer       trace.Tracer
}

// NewService creates a prediction service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		locations:    cfg.Locations,
		series:       cfg.Series,
		rows:         cfg.Rows,
		model:        cfg.Model,
		timeWindowID: cfg.TimeWindowID,
		workers:      cfg.Workers,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		now:          cfg.Now,
		tracer:       telemetry.Tracer("github.com/3T-LVTN/model/internal/prediction"),
	}
}

// Prediction is one location-day value.
type Prediction struct {
	LocationID int64
	Day        time.Time
	Value      float64
	// Cached is true when the value came from a prediction logged today.
	Cached bool
}

// PredictLocation returns the prediction for a known location on the day
// of when. A prediction for the same day logged since midnight UTC today is
// reused without touching the model.
func (s *Service) PredictLocation(ctx context.Context, locationID int64, when time.Time) (*Prediction, error) {
	ctx, span := s.tracer.Start(ctx, "prediction.PredictLocation",
		trace.WithAttributes(attribute.Int64("location_id", locationID)))
	defer span.End()

	start := time.Now()
	p, err := s.predictLocation(ctx, locationID, when)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordPrediction(ctx, "failed", time.Since(start))
	case p.Cached:
		s.metrics.RecordPrediction(ctx, "cached", time.Since(start))
	default:
		s.metrics.RecordPrediction(ctx, "computed", time.Since(start))
	}
	return p, err
}

func (s *Service) predictLocation(ctx context.Context, locationID int64, when time.Time) (*Prediction, error) {
	day := timeseries.DayStart(when.UTC())
	today := timeseries.DayStart(s.now().UTC())

	cached, err := s.series.LatestPredictionFor(ctx, locationID, day.Unix(), today)
	switch {
	case err == nil:
		return &Prediction{LocationID: locationID, Day: day, Value: cached.Value, Cached: true}, nil
	case errors.Is(err, timeseries.ErrPredictionNotFound):
	default:
		return nil, fmt.Errorf("looking up cached prediction: %w", err)
	}

	loc, err := s.locations.ResolveByID(ctx, locationID)
	if err != nil {
		return nil, fmt.Errorf("loading location: %w", err)
	}
	row, err := s.rows.InferenceRow(ctx, loc, day)
	if err != nil {
		return nil, err
	}
	fitted, err := s.model.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting model: %w", err)
	}
	value, err := fitted.PredictOne(row)
	if err != nil {
		return nil, err
	}

	log := &timeseries.PredictionLog{
		LocationID:  locationID,
		Value:       value,
		ArtifactKey: countmodel.ArtifactKey(s.timeWindowID),
		PredictTime: day.Unix(),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.series.CreatePrediction(ctx, log); err != nil {
		return nil, fmt.Errorf("storing prediction: %w", err)
	}

	s.logger.Debug().
		Int64("location_id", locationID).
		Time("day", day).
		Float64("value", value).
		Msg("computed prediction")
	return &Prediction{LocationID: locationID, Day: day, Value: value}, nil
}

// PredictCoordinates resolves q and predicts for the resolved location.
func (s *Service) PredictCoordinates(ctx context.Context, q location.Query, when time.Time) (*location.Location, *Prediction, error) {
	loc, _, err := s.locations.Resolve(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.PredictLocation(ctx, loc.ID, when)
	if err != nil {
		return loc, nil, err
	}
	return loc, p, nil
}

// PredictRange predicts every day from start to end inclusive, in order.
// Days that fail are logged and left out.
func (s *Service) PredictRange(ctx context.Context, locationID int64, start, end time.Time) []Prediction {
	first := timeseries.DayStart(start.UTC())
	last := timeseries.DayStart(end.UTC())

	var out []Prediction
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		if ctx.Err() != nil {
			break
		}
		p, err := s.PredictLocation(ctx, locationID, day)
		if err != nil {
			s.logger.Warn().Err(err).
				Int64("location_id", locationID).
				Time("day", day).
				Msg("skipping day without prediction")
			continue
		}
		out = append(out, *p)
	}
	return out
}

// PredictBatch predicts each location concurrently. The result has one
// entry per input id, nil where prediction failed.
func (s *Service) PredictBatch(ctx context.Context, locationIDs []int64, when time.Time) []*Prediction {
	out := make([]*Prediction, len(locationIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, id := range locationIDs {
		g.Go(func() error {
			p, err := s.PredictLocation(gctx, id, when)
			if err != nil {
				s.logger.Warn().Err(err).Int64("location_id", id).Msg("batch prediction failed")
				return nil
			}
			out[i] = p
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	return out
}
