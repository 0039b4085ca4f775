// Package weather fetches daily weather history from a third-party provider.
package weather

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/3T-LVTN/model/internal/timeseries"
)

// Gateway is a remote source of daily weather history. Implementations
// handle their own credential rotation; callers only see the final status.
type Gateway interface {
	Fetch(ctx context.Context, req Request) (*Result, error)

	// Name returns the provider name for logging.
	Name() string
}

// ServiceConfig configures the weather service.
type ServiceConfig struct {
	Gateway Gateway
	Logger  zerolog.Logger

	// Timeout bounds one gateway call (default: 30 seconds).
	Timeout time.Duration
}

// Service validates requests and bounds gateway calls.
type Service struct {
	gateway Gateway
	logger  zerolog.Logger
	timeout time.Duration
}

// NewService creates a weather service.
func NewService(cfg ServiceConfig) *Service {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		gateway: cfg.Gateway,
		logger:  cfg.Logger,
		timeout: timeout,
	}
}

// FetchDay returns the record for the day containing day.
func (s *Service) FetchDay(ctx context.Context, lon, lat float64, day time.Time) (*Record, error) {
	start := timeseries.DayStart(day)
	records, err := s.FetchRange(ctx, lon, lat, start, start.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no record for %s", ErrUpstreamUnavailable, start.Format(time.DateOnly))
	}
	return &records[0], nil
}

// FetchRange returns one record per day in [start, end).
func (s *Service) FetchRange(ctx context.Context, lon, lat float64, start, end time.Time) ([]Record, error) {
	if err := validateCoordinates(lat, lon); err != nil {
		return nil, err
	}
	if !start.Before(end) {
		return nil, ErrInvalidRange
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.logger.Debug().
		Float64("lat", lat).
		Float64("lon", lon).
		Time("start", start).
		Time("end", end).
		Str("provider", s.gateway.Name()).
		Msg("fetching weather history")

	res, err := s.gateway.Fetch(ctx, Request{Longitude: lon, Latitude: lat, Start: start, End: end})
	if err != nil {
		s.logger.Error().Err(err).
			Float64("lat", lat).
			Float64("lon", lon).
			Msg("weather gateway call failed")
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if res.Status != StatusSuccess {
		s.logger.Warn().
			Str("message", res.Message).
			Float64("lat", lat).
			Float64("lon", lon).
			Msg("weather gateway returned failure")
		return nil, fmt.Errorf("%w: %s", ErrUpstreamUnavailable, res.Message)
	}

	return res.Records, nil
}

// Name returns the gateway name.
func (s *Service) Name() string {
	return s.gateway.Name()
}

func validateCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return ErrInvalidCoordinates
	}
	return nil
}
