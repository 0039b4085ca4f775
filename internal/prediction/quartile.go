package prediction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/3T-LVTN/model/internal/timeseries"
)

// Rate is an ordinal risk bucket.
type Rate int

const (
	RateSafe Rate = iota
	RateNormal
	RateLowRisk
	RateHighRisk
)

var rateNames = [...]string{"SAFE", "NORMAL", "LOW RISK", "HIGH RISK"}

func (r Rate) String() string {
	if r < RateSafe || r > RateHighRisk {
		return "UNKNOWN"
	}
	return rateNames[r]
}

// Rates lists every rate in order.
func Rates() []Rate {
	return []Rate{RateSafe, RateNormal, RateLowRisk, RateHighRisk}
}

// Bucket returns the first index whose threshold is strictly greater than
// value, or the last bucket when none is. With thresholds [2, 5, 9]:
// 1.9 is 0, 2.0 is 1, 5.0 is 2, 9.0 and above are 3.
func Bucket(value float64, thresholds [3]float64) Rate {
	for i, t := range thresholds {
		if value < t {
			return Rate(i)
		}
	}
	return RateHighRisk
}

// Quartiles returns the 25th, 50th and 75th percentiles of the predictions
// made for day, taking the newest value per location. They are computed on
// first use and never recomputed.
func (s *Service) Quartiles(ctx context.Context, day time.Time) ([3]float64, error) {
	start := timeseries.DayStart(day.UTC())

	stored, err := s.series.GetQuartiles(ctx, start.Unix())
	if err == nil {
		return stored.Thresholds, nil
	}
	if !errors.Is(err, timeseries.ErrQuartilesNotFound) {
		return [3]float64{}, fmt.Errorf("getting quartiles: %w", err)
	}

	logs, err := s.series.ListPredictionsFor(ctx, start.Unix())
	if err != nil {
		return [3]float64{}, fmt.Errorf("listing predictions: %w", err)
	}
	if len(logs) == 0 {
		return [3]float64{}, fmt.Errorf("%w for %s", ErrNoPrediction, start.Format(time.DateOnly))
	}

	latest := make(map[int64]*timeseries.PredictionLog, len(logs))
	for _, l := range logs {
		if cur, ok := latest[l.LocationID]; !ok || !l.CreatedAt.Before(cur.CreatedAt) {
			latest[l.LocationID] = l
		}
	}
	values := make([]float64, 0, len(latest))
	for _, l := range latest {
		values = append(values, l.Value)
	}
	sort.Float64s(values)

	q := &timeseries.QuartileThresholds{Day: start.Unix()}
	for i, p := range []float64{0.25, 0.5, 0.75} {
		q.Thresholds[i] = stat.Quantile(p, stat.LinInterp, values, nil)
	}

	saved, err := s.series.CreateQuartiles(ctx, q)
	if err != nil {
		return [3]float64{}, fmt.Errorf("storing quartiles: %w", err)
	}
	s.logger.Info().
		Time("day", start).
		Int("predictions", len(values)).
		Floats64("thresholds", saved.Thresholds[:]).
		Msg("computed prediction quartiles")
	return saved.Thresholds, nil
}

// Rate buckets value against the quartiles of day.
func (s *Service) Rate(ctx context.Context, value float64, day time.Time) (Rate, error) {
	q, err := s.Quartiles(ctx, day)
	if err != nil {
		return 0, err
	}
	return Bucket(value, q), nil
}
