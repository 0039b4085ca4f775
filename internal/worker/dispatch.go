package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/3T-LVTN/model/internal/ingest"
	"github.com/3T-LVTN/model/internal/notify"
)

// JobMessage is the payload of a job message.
type JobMessage struct {
	JobType string `json:"job_type"`

	// TimeWindowID selects one window for train_model; 0 trains all.
	TimeWindowID int64 `json:"time_window_id,omitempty"`
}

// UnknownJobError is returned by Dispatcher.Handle for unknown job types.
type UnknownJobError struct {
	JobType string
}

func (e *UnknownJobError) Error() string {
	return fmt.Sprintf("unknown job type %q", e.JobType)
}

// Dispatcher runs jobs by type. Nil jobs make their type fail.
type Dispatcher struct {
	Crawl    *CrawlJob
	Train    *TrainJob
	Sync     *ingest.Syncer
	Notifier notify.Notifier
	Logger   zerolog.Logger
}

// Handle runs msg and notifies on failure.
func (d *Dispatcher) Handle(ctx context.Context, msg JobMessage) error {
	start := time.Now()
	err := d.run(ctx, msg)
	if err != nil {
		if d.Notifier != nil {
			d.Notifier.Notify(ctx, notify.Message{
				Title: msg.JobType + " failed",
				Text:  err.Error(),
				Fields: map[string]string{
					"time_window_id": strconv.FormatInt(msg.TimeWindowID, 10),
					"duration":       time.Since(start).Round(time.Millisecond).String(),
				},
			})
		}
		return err
	}
	d.Logger.Info().
		Str("job_type", msg.JobType).
		Dur("duration", time.Since(start)).
		Msg("job completed successfully")
	return nil
}

func (d *Dispatcher) run(ctx context.Context, msg JobMessage) error {
	switch msg.JobType {
	case JobCrawlWeather:
		if d.Crawl == nil {
			return fmt.Errorf("%s: not configured", msg.JobType)
		}
		result, err := d.Crawl.Run(ctx)
		if err != nil {
			return err
		}
		// Consider it successful if no more than half failed.
		if result.Failed > result.Stored {
			return fmt.Errorf("too many crawl failures: %d/%d", result.Failed, result.Failed+result.Stored)
		}
		return nil
	case JobTrainModel:
		if d.Train == nil {
			return fmt.Errorf("%s: not configured", msg.JobType)
		}
		_, err := d.Train.Run(ctx, msg.TimeWindowID)
		return err
	case JobSyncFiles:
		if d.Sync == nil {
			return fmt.Errorf("%s: not configured", msg.JobType)
		}
		report, err := d.Sync.Sync(ctx)
		if err != nil {
			return err
		}
		if report.Failed > 0 {
			return fmt.Errorf("%d files could not be synced", report.Failed)
		}
		return nil
	default:
		return &UnknownJobError{JobType: msg.JobType}
	}
}
