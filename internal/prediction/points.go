package prediction

import (
	"context"
	"time"

	"github.com/3T-LVTN/model/internal/location"
	"github.com/3T-LVTN/model/internal/timeseries"
)

// RatedPrediction is a prediction bucketed against the quartiles of its day.
// Rated is false when no thresholds could be computed for the day.
type RatedPrediction struct {
	Prediction
	Location *location.Location
	Rate     Rate
	Rated    bool
}

// PredictPoints resolves each query and predicts it for the day of when.
// The result has one entry per query, nil where the location could not be
// resolved or predicted. Queries are resolved in order so that nearby
// points in one request share a location. A failure to compute the day's
// quartiles leaves the points unrated instead of failing the request.
func (s *Service) PredictPoints(ctx context.Context, queries []location.Query, when time.Time) ([]*RatedPrediction, error) {
	day := timeseries.DayStart(when.UTC())
	out := make([]*RatedPrediction, len(queries))

	locs := make([]*location.Location, len(queries))
	var ids []int64
	var idx []int
	for _, res := range s.locations.ResolveBatch(ctx, queries) {
		if res.Err != nil {
			s.logger.Warn().Err(res.Err).Int("index", res.Index).Msg("skipping unresolved location")
			continue
		}
		locs[res.Index] = res.Location
		ids = append(ids, res.Location.ID)
		idx = append(idx, res.Index)
	}
	if len(ids) == 0 {
		return out, nil
	}

	predictions := s.PredictBatch(ctx, ids, day)
	var thresholds *[3]float64
	quartilesTried := false
	for j, p := range predictions {
		if p == nil {
			continue
		}
		if !quartilesTried {
			quartilesTried = true
			q, err := s.Quartiles(ctx, day)
			if err != nil {
				s.logger.Warn().Err(err).Time("day", day).Msg("returning predictions unrated")
			} else {
				thresholds = &q
			}
		}
		i := idx[j]
		rated := &RatedPrediction{Prediction: *p, Location: locs[i]}
		if thresholds != nil {
			rated.Rate = Bucket(p.Value, *thresholds)
			rated.Rated = true
		}
		out[i] = rated
	}
	return out, nil
}
