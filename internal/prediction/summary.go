package prediction

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"
	"golang.org/x/sync/errgroup"

	"github.com/3T-LVTN/model/internal/location"
	"github.com/3T-LVTN/model/internal/timeseries"
)

// DefaultSummaryDays is the summary interval when none is given.
const DefaultSummaryDays = 7

// LocationSummary averages predictions and weather over recent days.
type LocationSummary struct {
	Code        string
	Location    *location.Location
	Value       float64
	Precip      float64
	Temperature float64
}

// Summary averages the last days days (ending today) for each code.
// Codes that do not resolve or have no prediction are left out.
func (s *Service) Summary(ctx context.Context, codes []string, days int) []LocationSummary {
	if days <= 0 {
		days = DefaultSummaryDays
	}
	end := timeseries.DayStart(s.now().UTC())
	start := end.AddDate(0, 0, -(days - 1))

	out := make([]*LocationSummary, len(codes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, code := range codes {
		g.Go(func() error {
			loc, _, err := s.locations.Resolve(gctx, location.Query{Code: code})
			if err != nil {
				s.logger.Warn().Err(err).Str("location_code", code).Msg("summary: unresolved code")
				return nil
			}
			detail, err := s.detail(gctx, loc, start, end)
			if err != nil {
				s.logger.Warn().Err(err).Str("location_code", code).Msg("summary: no prediction")
				return nil
			}

			sum := &LocationSummary{Code: code, Location: loc}
			values := make([]float64, 0, len(detail.Days))
			var precip, temp []float64
			for _, d := range detail.Days {
				values = append(values, d.Value)
				if d.Precip != nil {
					precip = append(precip, *d.Precip)
				}
				if d.Temperature != nil {
					temp = append(temp, *d.Temperature)
				}
			}
			sum.Value = stat.Mean(values, nil)
			sum.Precip = mean(precip)
			sum.Temperature = mean(temp)

			out[i] = sum
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	result := make([]LocationSummary, 0, len(codes))
	for _, sum := range out {
		if sum != nil {
			result = append(result, *sum)
		}
	}
	return result
}

// DayDetail is one day of a location's series. Weather fields are nil when
// no observation is stored for the day.
type DayDetail struct {
	Date        time.Time
	Value       float64
	Temperature *float64
	Precip      *float64
}

// LocationDetail is the per-day series of one location.
type LocationDetail struct {
	Location *location.Location
	Days     []DayDetail
}

// Detail resolves q and returns predictions and weather for each day from
// start to end inclusive. It fails with ErrNoPrediction when no day could
// be predicted.
func (s *Service) Detail(ctx context.Context, q location.Query, start, end time.Time) (*LocationDetail, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("end %s is before start %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	loc, _, err := s.locations.Resolve(ctx, q)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, loc, timeseries.DayStart(start.UTC()), timeseries.DayStart(end.UTC()))
}

func (s *Service) detail(ctx context.Context, loc *location.Location, start, end time.Time) (*LocationDetail, error) {
	predictions := s.PredictRange(ctx, loc.ID, start, end)
	if len(predictions) == 0 {
		return nil, ErrNoPrediction
	}

	observations, err := s.series.ListObservations(ctx, []int64{loc.ID}, start.Unix(), end.AddDate(0, 0, 1).Unix())
	if err != nil {
		return nil, fmt.Errorf("listing observations: %w", err)
	}
	byDay := make(map[int64]*timeseries.Observation, len(observations))
	for _, o := range observations {
		byDay[o.DateTime] = o
	}

	out := &LocationDetail{Location: loc, Days: make([]DayDetail, 0, len(predictions))}
	for _, p := range predictions {
		d := DayDetail{Date: p.Day, Value: p.Value}
		if o, ok := byDay[p.Day.Unix()]; ok {
			d.Temperature = o.Temperature
			d.Precip = o.Precipitation
		}
		out.Days = append(out.Days, d)
	}
	return out, nil
}

// WardRate is the rate of one ward.
type WardRate struct {
	Ward  *location.Ward
	Value float64
	Rate  Rate
}

// ProvinceSummary is the rate of every ward on one day.
type ProvinceSummary struct {
	Day    time.Time
	Wards  []WardRate
	Counts map[Rate]int
}

// ProvinceSummary predicts every ward for the day of when and counts the
// wards per rate. Wards without a prediction are left out.
func (s *Service) ProvinceSummary(ctx context.Context, when time.Time) (*ProvinceSummary, error) {
	day := timeseries.DayStart(when.UTC())

	wards, err := s.locations.Wards(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing wards: %w", err)
	}
	ids := make([]int64, len(wards))
	for i, w := range wards {
		ids[i] = w.LocationID
	}
	predictions := s.PredictBatch(ctx, ids, day)

	summary := &ProvinceSummary{Day: day, Counts: make(map[Rate]int, len(rateNames))}
	for _, r := range Rates() {
		summary.Counts[r] = 0
	}

	var thresholds *[3]float64
	for i, p := range predictions {
		if p == nil {
			continue
		}
		if thresholds == nil {
			q, err := s.Quartiles(ctx, day)
			if err != nil {
				return nil, err
			}
			thresholds = &q
		}
		rate := Bucket(p.Value, *thresholds)
		summary.Wards = append(summary.Wards, WardRate{Ward: wards[i], Value: p.Value, Rate: rate})
		summary.Counts[rate]++
	}
	return summary, nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}
