package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/3T-LVTN/model/internal/countmodel"
	"github.com/3T-LVTN/model/internal/timeseries"
)

// WindowLister lists time windows by sliding size (0 for all).
type WindowLister interface {
	ListTimeWindows(ctx context.Context, slidingSize int) ([]*timeseries.TimeWindow, error)
}

// TrainJob retrains models.
type TrainJob struct {
	models  *countmodel.Manager
	windows WindowLister
	logger  zerolog.Logger
}

// NewTrainJob creates a train job.
func NewTrainJob(models *countmodel.Manager, windows WindowLister, logger zerolog.Logger) *TrainJob {
	return &TrainJob{models: models, windows: windows, logger: logger}
}

// TrainResult lists the windows trained and those that failed.
type TrainResult struct {
	Trained []int64
	Skipped []int64
	Failed  map[int64]error
}

// Run retrains the model of timeWindowID, or of every window when it is 0.
// A window whose training lock is held elsewhere is skipped. It returns an
// error when any window failed.
func (j *TrainJob) Run(ctx context.Context, timeWindowID int64) (*TrainResult, error) {
	ids := []int64{timeWindowID}
	if timeWindowID == 0 {
		windows, err := j.windows.ListTimeWindows(ctx, 0)
		if err != nil {
			return nil, fmt.Errorf("listing time windows: %w", err)
		}
		ids = ids[:0]
		for _, tw := range windows {
			ids = append(ids, tw.ID)
		}
	}

	result := &TrainResult{Failed: make(map[int64]error)}
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		fitted, err := j.models.Model(id).Retrain(ctx)
		switch {
		case errors.Is(err, countmodel.ErrTrainingInProgress):
			j.logger.Info().Int64("time_window_id", id).Msg("training already in progress")
			result.Skipped = append(result.Skipped, id)
		case err != nil:
			result.Failed[id] = err
			errs = append(errs, fmt.Errorf("time window %d: %w", id, err))
		default:
			j.logger.Info().
				Int64("time_window_id", id).
				Int("rows", fitted.Rows).
				Float64("alpha", fitted.Alpha).
				Msg("model retrained")
			result.Trained = append(result.Trained, id)
		}
	}
	return result, errors.Join(errs...)
}
