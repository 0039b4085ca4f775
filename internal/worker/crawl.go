package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/3T-LVTN/model/internal/features"
	"github.com/3T-LVTN/model/internal/location"
	"github.com/3T-LVTN/model/internal/telemetry"
	"github.com/3T-LVTN/model/internal/timeseries"
)

// LocationLister lists every known location.
type LocationLister interface {
	Locations(ctx context.Context) ([]*location.Location, error)
}

// CrawlJob fills time windows with weather observations for every known
// location.
type CrawlJob struct {
	config    CrawlConfig
	logger    zerolog.Logger
	series    timeseries.Repository
	locations LocationLister
	weather   features.DayFetcher
	metrics   *telemetry.ModelMetrics

	statsMu sync.RWMutex
	stats   CrawlStats
}

// CrawlStats accumulates over every run of a job.
type CrawlStats struct {
	Runs            int64
	Stored          int64
	Failed          int64
	LastRunAt       time.Time
	LastRunDuration time.Duration
}

// CrawlJobConfig holds configuration for creating a CrawlJob.
type CrawlJobConfig struct {
	Config    CrawlConfig
	Logger    zerolog.Logger
	Series    timeseries.Repository
	Locations LocationLister
	Weather   features.DayFetcher
	Metrics   *telemetry.ModelMetrics
}

// NewCrawlJob creates a crawl job.
func NewCrawlJob(cfg CrawlJobConfig) *CrawlJob {
	return &CrawlJob{
		config:    cfg.Config.withDefaults(),
		logger:    cfg.Logger,
		series:    cfg.Series,
		locations: cfg.Locations,
		weather:   cfg.Weather,
		metrics:   cfg.Metrics,
	}
}

// CrawlResult contains the result of one crawl.
type CrawlResult struct {
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Windows    int
	Backfilled int64
	Skipped    int
	Stored     int
	Failed     int
	Errors     []CrawlError
}

// CrawlError is one failed location and window.
type CrawlError struct {
	LocationID   int64
	TimeWindowID int64
	Error        string
}

type crawlTask struct {
	loc *location.Location
	tw  *timeseries.TimeWindow
}

type taskResult struct {
	task crawlTask
	err  error
}

// Run crawls every window with the configured sliding size. Untagged
// observations inside a window are tagged first; then each location
// without an observation in the window gets one fetched for the window's
// start day. It fails only when the windows or locations cannot be listed.
func (j *CrawlJob) Run(ctx context.Context) (*CrawlResult, error) {
	startTime := time.Now()
	result := &CrawlResult{StartTime: startTime}

	windows, err := j.series.ListTimeWindows(ctx, j.config.SlidingSize)
	if err != nil {
		return nil, fmt.Errorf("listing time windows: %w", err)
	}
	locations, err := j.locations.Locations(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing locations: %w", err)
	}
	result.Windows = len(windows)

	j.logger.Info().
		Int("windows", len(windows)).
		Int("locations", len(locations)).
		Int("concurrency", j.config.Concurrency).
		Msg("starting weather crawl")

	var tasks []crawlTask
	for _, tw := range windows {
		n, err := j.series.AssignTimeWindow(ctx, tw.ID, tw.StartTS, tw.EndTS)
		if err != nil {
			return nil, fmt.Errorf("backfilling time window %d: %w", tw.ID, err)
		}
		result.Backfilled += n

		for _, loc := range locations {
			pending, err := j.needsObservation(ctx, loc, tw)
			if err != nil {
				return nil, err
			}
			if !pending {
				result.Skipped++
				continue
			}
			tasks = append(tasks, crawlTask{loc: loc, tw: tw})
		}
	}

	taskChan := make(chan crawlTask, len(tasks))
	resultChan := make(chan taskResult, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < j.config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.crawlWorker(ctx, taskChan, resultChan)
		}()
	}

	for _, t := range tasks {
		taskChan <- t
	}
	close(taskChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for tr := range resultChan {
		if tr.err == nil {
			result.Stored++
			j.metrics.RecordWeatherFetch(ctx, "stored")
			continue
		}
		result.Failed++
		result.Errors = append(result.Errors, CrawlError{
			LocationID:   tr.task.loc.ID,
			TimeWindowID: tr.task.tw.ID,
			Error:        tr.err.Error(),
		})
		j.metrics.RecordWeatherFetch(ctx, "failed")
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)
	j.updateStats(result)

	j.logger.Info().
		Dur("duration", result.Duration).
		Int64("backfilled", result.Backfilled).
		Int("skipped", result.Skipped).
		Int("stored", result.Stored).
		Int("failed", result.Failed).
		Msg("weather crawl completed")

	return result, nil
}

// needsObservation reports whether neither the window nor the window's
// start day already has an observation for loc.
func (j *CrawlJob) needsObservation(ctx context.Context, loc *location.Location, tw *timeseries.TimeWindow) (bool, error) {
	_, err := j.series.GetObservationInWindow(ctx, loc.ID, tw.ID)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, timeseries.ErrObservationNotFound):
		return false, fmt.Errorf("checking observation: %w", err)
	}

	_, err = j.series.GetObservation(ctx, loc.ID, tw.StartTS)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, timeseries.ErrObservationNotFound):
		return true, nil
	default:
		return false, fmt.Errorf("checking observation: %w", err)
	}
}

func (j *CrawlJob) crawlWorker(ctx context.Context, tasks <-chan crawlTask, results chan<- taskResult) {
	for t := range tasks {
		select {
		case <-ctx.Done():
			results <- taskResult{task: t, err: ctx.Err()}
		default:
			results <- taskResult{task: t, err: j.crawl(ctx, t)}
		}
	}
}

func (j *CrawlJob) crawl(ctx context.Context, t crawlTask) error {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	day := t.tw.Start()
	rec, err := j.weather.FetchDay(ctx, t.loc.Longitude, t.loc.Latitude, day)
	if err != nil {
		j.logger.Warn().Err(err).
			Int64("location_id", t.loc.ID).
			Int64("time_window_id", t.tw.ID).
			Msg("weather fetch failed")
		return err
	}

	twID := t.tw.ID
	obs := rec.Observation(t.loc.ID, &twID)
	obs.DateTime = day.Unix()
	if err := j.series.CreateObservation(ctx, obs); err != nil {
		return fmt.Errorf("storing observation: %w", err)
	}
	return nil
}

func (j *CrawlJob) updateStats(result *CrawlResult) {
	j.statsMu.Lock()
	defer j.statsMu.Unlock()

	j.stats.Runs++
	j.stats.Stored += int64(result.Stored)
	j.stats.Failed += int64(result.Failed)
	j.stats.LastRunAt = result.EndTime
	j.stats.LastRunDuration = result.Duration
}

// Stats returns a copy of the accumulated statistics.
func (j *CrawlJob) Stats() CrawlStats {
	j.statsMu.RLock()
	defer j.statsMu.RUnlock()
	return j.stats
}
