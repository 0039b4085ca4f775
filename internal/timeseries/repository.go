package timeseries

import (
	"context"
	"time"
)

// Repository persists the time series tables.
type Repository interface {
	// GetTimeWindow returns ErrTimeWindowNotFound for unknown ids.
	GetTimeWindow(ctx context.Context, id int64) (*TimeWindow, error)

	// ListTimeWindows returns windows with the given sliding size, or all
	// windows when slidingSize is 0.
	ListTimeWindows(ctx context.Context, slidingSize int) ([]*TimeWindow, error)

	// CreateTimeWindow stores tw, or loads the existing row with the same
	// (StartTS, EndTS, SlidingSize), and sets tw.ID.
	CreateTimeWindow(ctx context.Context, tw *TimeWindow) error

	ListObservationsByTimeWindow(ctx context.Context, timeWindowID int64) ([]*Observation, error)

	// GetObservation returns the observation for a location at a day start,
	// or ErrObservationNotFound.
	GetObservation(ctx context.Context, locationID, day int64) (*Observation, error)

	// GetObservationInWindow returns any observation for the location tagged
	// with the window, or ErrObservationNotFound.
	GetObservationInWindow(ctx context.Context, locationID, timeWindowID int64) (*Observation, error)

	// ListObservations returns observations of the locations with
	// from <= DateTime < to, ordered by date.
	ListObservations(ctx context.Context, locationIDs []int64, from, to int64) ([]*Observation, error)

	CreateObservation(ctx context.Context, obs *Observation) error

	// AssignTimeWindow tags untagged observations dated inside [from, to)
	// and returns how many rows changed.
	AssignTimeWindow(ctx context.Context, timeWindowID, from, to int64) (int64, error)

	ListOutcomesByTimeWindow(ctx context.Context, timeWindowID int64) ([]*OutcomeValue, error)

	// CreateOutcome stores v, replacing the value of an existing row with the
	// same (LocationID, TimeWindowID, DateTime), and sets v.ID.
	CreateOutcome(ctx context.Context, v *OutcomeValue) error

	// LatestPredictionFor returns the newest log for the location and
	// predicted day created at or after since, or ErrPredictionNotFound.
	LatestPredictionFor(ctx context.Context, locationID, predictTime int64, since time.Time) (*PredictionLog, error)

	CreatePrediction(ctx context.Context, p *PredictionLog) error

	// ListPredictionsFor returns every log whose PredictTime is predictTime.
	ListPredictionsFor(ctx context.Context, predictTime int64) ([]*PredictionLog, error)

	// GetQuartiles returns ErrQuartilesNotFound when none were stored for day.
	GetQuartiles(ctx context.Context, day int64) (*QuartileThresholds, error)

	// CreateQuartiles stores q unless the day already has thresholds, and
	// returns the thresholds that are stored after the call.
	CreateQuartiles(ctx context.Context, q *QuartileThresholds) (*QuartileThresholds, error)
}
