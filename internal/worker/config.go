// Package worker runs the background jobs of the model service: weather
// crawling, model training and outcome file imports.
package worker

import (
	"time"
)

// Job types carried in JobMessage.JobType.
const (
	JobCrawlWeather = "crawl_weather"
	JobTrainModel   = "train_model"
	JobSyncFiles    = "sync_files"
)

// CrawlConfig holds configuration for the weather crawl job.
type CrawlConfig struct {
	// SlidingSize selects the time windows to crawl.
	// Default: 1
	SlidingSize int

	// Concurrency is the number of concurrent fetches.
	// Default: 3
	Concurrency int

	// Timeout bounds the fetch and store of one location.
	// Default: 30 seconds
	Timeout time.Duration
}

// DefaultCrawlConfig returns the default crawl configuration.
func DefaultCrawlConfig() CrawlConfig {
	return CrawlConfig{
		SlidingSize: 1,
		Concurrency: 3,
		Timeout:     30 * time.Second,
	}
}

func (c CrawlConfig) withDefaults() CrawlConfig {
	d := DefaultCrawlConfig()
	if c.SlidingSize <= 0 {
		c.SlidingSize = d.SlidingSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}
