package location

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// DefaultDistanceThreshold is the dedup radius in degrees.
const DefaultDistanceThreshold = 0.01

// Query identifies a location by coordinates, code, or both.
type Query struct {
	Longitude *float64
	Latitude  *float64
	Code      string
}

// HasCoordinates reports whether both coordinates are set.
func (q Query) HasCoordinates() bool {
	return q.Longitude != nil && q.Latitude != nil
}

// Resolution is the outcome for one query of a batch.
type Resolution struct {
	Index    int
	Location *Location
	Alias    *Alias
	Err      error
}

// ServiceConfig configures the resolver.
type ServiceConfig struct {
	Repository Repository
	Logger     zerolog.Logger

	// DistanceThreshold defaults to DefaultDistanceThreshold.
	DistanceThreshold float64
}

// Service resolves queries to canonical locations, creating locations and
// aliases on first sight. Two concurrent requests for the same new point
// may both create a location; later lookups pick the nearest one.
type Service struct {
	repo      Repository
	logger    zerolog.Logger
	threshold float64
}

// NewService creates a resolver.
func NewService(cfg ServiceConfig) *Service {
	if cfg.DistanceThreshold <= 0 {
		cfg.DistanceThreshold = DefaultDistanceThreshold
	}
	return &Service{
		repo:      cfg.Repository,
		logger:    cfg.Logger,
		threshold: cfg.DistanceThreshold,
	}
}

// Threshold returns the dedup radius.
func (s *Service) Threshold() float64 {
	return s.threshold
}

// Resolve maps q to a Location. When q.Code is set the returned alias is
// the existing or newly created alias for it.
func (s *Service) Resolve(ctx context.Context, q Query) (*Location, *Alias, error) {
	if q.Code != "" {
		alias, err := s.repo.GetAlias(ctx, q.Code)
		switch {
		case err == nil:
			loc, err := s.repo.Get(ctx, alias.LocationID)
			if err != nil {
				return nil, nil, fmt.Errorf("get aliased location: %w", err)
			}
			return loc, alias, nil
		case !errors.Is(err, ErrAliasNotFound):
			return nil, nil, fmt.Errorf("get alias: %w", err)
		}
	}

	if !q.HasCoordinates() {
		return nil, nil, ErrMissingLocationData
	}

	loc, err := s.findOrCreate(ctx, *q.Longitude, *q.Latitude)
	if err != nil {
		return nil, nil, err
	}

	if q.Code == "" {
		return loc, nil, nil
	}

	alias := &Alias{Code: q.Code, LocationID: loc.ID}
	if err := s.repo.CreateAlias(ctx, alias); err != nil {
		return nil, nil, fmt.Errorf("create alias: %w", err)
	}
	s.logger.Debug().
		Str("location_code", q.Code).
		Int64("location_id", loc.ID).
		Msg("location alias created")

	return loc, alias, nil
}

// ResolveByID loads a known location.
func (s *Service) ResolveByID(ctx context.Context, id int64) (*Location, error) {
	return s.repo.Get(ctx, id)
}

// ResolveBatch resolves every query, fetching known aliases in one call.
// Failures are reported per item and never abort the batch.
func (s *Service) ResolveBatch(ctx context.Context, queries []Query) []Resolution {
	var codes []string
	for _, q := range queries {
		if q.Code != "" {
			codes = append(codes, q.Code)
		}
	}

	known := make(map[string]*Alias)
	if len(codes) > 0 {
		aliases, err := s.repo.ListAliases(ctx, codes)
		if err != nil {
			s.logger.Warn().Err(err).Msg("alias batch lookup failed, resolving one by one")
		}
		for _, a := range aliases {
			known[a.Code] = a
		}
	}

	out := make([]Resolution, len(queries))
	for i, q := range queries {
		out[i].Index = i
		if a, ok := known[q.Code]; ok {
			loc, err := s.repo.Get(ctx, a.LocationID)
			out[i].Location, out[i].Alias, out[i].Err = loc, a, err
			continue
		}
		out[i].Location, out[i].Alias, out[i].Err = s.Resolve(ctx, q)
	}
	return out
}

// Wards lists the administrative wards.
func (s *Service) Wards(ctx context.Context) ([]*Ward, error) {
	return s.repo.ListWards(ctx)
}

// Locations lists every known location.
func (s *Service) Locations(ctx context.Context) ([]*Location, error) {
	return s.repo.List(ctx)
}

func (s *Service) findOrCreate(ctx context.Context, lon, lat float64) (*Location, error) {
	loc, err := s.repo.Nearest(ctx, lon, lat, s.threshold)
	if err == nil {
		return loc, nil
	}
	if !errors.Is(err, ErrLocationNotFound) {
		return nil, fmt.Errorf("find nearest location: %w", err)
	}

	loc = &Location{Longitude: lon, Latitude: lat}
	if err := s.repo.Create(ctx, loc); err != nil {
		return nil, fmt.Errorf("create location: %w", err)
	}
	s.logger.Info().
		Int64("location_id", loc.ID).
		Float64("lon", lon).
		Float64("lat", lat).
		Msg("location created")

	return loc, nil
}
