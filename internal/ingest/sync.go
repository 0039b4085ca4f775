package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/3T-LVTN/model/internal/artifact"
	"github.com/3T-LVTN/model/internal/location"
	"github.com/3T-LVTN/model/internal/timeseries"
)

// CSV header names. Either ColumnCode or both coordinate columns identify
// the location of a row. ColumnTimeWindow is optional; rows without it are
// assigned the one-day window of their date.
const (
	ColumnCode       = "location_code"
	ColumnLongitude  = "long"
	ColumnLatitude   = "lat"
	ColumnDate       = "date"
	ColumnValue      = "value"
	ColumnTimeWindow = "time_window_id"
)

// LocationResolver maps a query to a location.
type LocationResolver interface {
	Resolve(ctx context.Context, q location.Query) (*location.Location, *location.Alias, error)
}

// SyncerConfig configures the Syncer.
type SyncerConfig struct {
	Store     artifact.Store
	Files     Repository
	Locations LocationResolver
	Series    timeseries.Repository
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Syncer imports pending uploaded files as outcome values.
type Syncer struct {
	store     artifact.Store
	files     Repository
	locations LocationResolver
	series    timeseries.Repository
	logger    zerolog.Logger
	now       func() time.Time
}

// NewSyncer creates a Syncer.
func NewSyncer(cfg SyncerConfig) *Syncer {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Syncer{
		store:     cfg.Store,
		files:     cfg.Files,
		locations: cfg.Locations,
		series:    cfg.Series,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
}

// SyncReport summarises one Sync run.
type SyncReport struct {
	Files    int
	Rejected int
	Failed   int
	Rows     int
	Skipped  int
}

// Sync imports every pending file. Files that cannot be read from the store
// stay pending for the next run. Files without the required columns are
// marked synced and counted as rejected.
func (s *Syncer) Sync(ctx context.Context) (*SyncReport, error) {
	pending, err := s.files.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing pending files: %w", err)
	}

	report := &SyncReport{}
	for _, f := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		log := s.logger.With().Str("file_name", f.FileName).Logger()

		data, err := s.store.Get(ctx, f.FileName)
		if err != nil {
			log.Error().Err(err).Msg("reading uploaded file")
			report.Failed++
			continue
		}

		rows, skipped, err := s.importFile(ctx, data)
		switch {
		case errors.Is(err, ErrEmptyFile), errors.Is(err, ErrMissingColumn):
			log.Error().Err(err).Msg("rejecting uploaded file")
			report.Rejected++
		case err != nil:
			log.Error().Err(err).Int("rows", rows).Msg("importing uploaded file")
			report.Failed++
			continue
		default:
			report.Files++
			report.Rows += rows
			report.Skipped += skipped
		}

		if err := s.files.MarkSynced(ctx, f.ID, s.now().UTC()); err != nil {
			return report, fmt.Errorf("marking %s synced: %w", f.FileName, err)
		}
		log.Info().Int("rows", rows).Int("skipped", skipped).Msg("file synced")
	}
	return report, nil
}

type columnIndex map[string]int

func (c columnIndex) get(record []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// importFile stores the rows of one CSV file and returns how many were
// stored and skipped. Row-level problems skip the row; store failures abort.
func (s *Syncer) importFile(ctx context.Context, data []byte) (int, int, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return 0, 0, ErrEmptyFile
	}
	if err != nil {
		return 0, 0, fmt.Errorf("reading header: %w", err)
	}
	cols := make(columnIndex, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, required := range []string{ColumnDate, ColumnValue} {
		if _, ok := cols[required]; !ok {
			return 0, 0, fmt.Errorf("%w %q", ErrMissingColumn, required)
		}
	}
	_, hasCode := cols[ColumnCode]
	_, hasLon := cols[ColumnLongitude]
	_, hasLat := cols[ColumnLatitude]
	if !hasCode && !(hasLon && hasLat) {
		return 0, 0, fmt.Errorf("%w %q or %q and %q", ErrMissingColumn, ColumnCode, ColumnLongitude, ColumnLatitude)
	}

	windows := make(map[int64]int64)
	var stored, skipped int
	for line := 2; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.logger.Warn().Err(err).Int("line", line).Msg("skipping unreadable row")
			skipped++
			continue
		}

		v, q, err := parseRow(cols, record)
		if err != nil {
			s.logger.Warn().Err(err).Int("line", line).Msg("skipping row")
			skipped++
			continue
		}
		loc, _, err := s.locations.Resolve(ctx, q)
		if err != nil {
			s.logger.Warn().Err(err).Int("line", line).Msg("skipping row with unknown location")
			skipped++
			continue
		}
		v.LocationID = loc.ID

		if v.TimeWindowID == 0 {
			id, err := s.dayWindow(ctx, windows, v.DateTime)
			if err != nil {
				return stored, skipped, err
			}
			v.TimeWindowID = id
		}
		if err := s.series.CreateOutcome(ctx, v); err != nil {
			return stored, skipped, fmt.Errorf("storing outcome: %w", err)
		}
		stored++
	}
	return stored, skipped, nil
}

// dayWindow returns the id of the one-day window starting at day.
func (s *Syncer) dayWindow(ctx context.Context, cache map[int64]int64, day int64) (int64, error) {
	if id, ok := cache[day]; ok {
		return id, nil
	}
	tw := &timeseries.TimeWindow{SlidingSize: 1, StartTS: day, EndTS: day + int64((24 * time.Hour).Seconds())}
	if err := s.series.CreateTimeWindow(ctx, tw); err != nil {
		return 0, fmt.Errorf("creating time window: %w", err)
	}
	cache[day] = tw.ID
	return tw.ID, nil
}

func parseRow(cols columnIndex, record []string) (*timeseries.OutcomeValue, location.Query, error) {
	var q location.Query
	q.Code = cols.get(record, ColumnCode)
	if lon, lat := cols.get(record, ColumnLongitude), cols.get(record, ColumnLatitude); lon != "" && lat != "" {
		x, errX := strconv.ParseFloat(lon, 64)
		y, errY := strconv.ParseFloat(lat, 64)
		if err := errors.Join(errX, errY); err != nil {
			return nil, q, fmt.Errorf("%w: coordinates: %v", ErrInvalidRow, err)
		}
		if !finite(x) || !finite(y) {
			return nil, q, fmt.Errorf("%w: coordinates %v,%v", ErrInvalidRow, x, y)
		}
		q.Longitude, q.Latitude = &x, &y
	}
	if q.Code == "" && !q.HasCoordinates() {
		return nil, q, fmt.Errorf("%w: no location", ErrInvalidRow)
	}

	day, err := parseDate(cols.get(record, ColumnDate))
	if err != nil {
		return nil, q, fmt.Errorf("%w: %v", ErrInvalidRow, err)
	}
	value, err := strconv.ParseFloat(cols.get(record, ColumnValue), 64)
	if err != nil {
		return nil, q, fmt.Errorf("%w: value: %v", ErrInvalidRow, err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return nil, q, fmt.Errorf("%w: value %v is not a count", ErrInvalidRow, value)
	}

	v := &timeseries.OutcomeValue{DateTime: day.Unix(), Value: value}
	if raw := cols.get(record, ColumnTimeWindow); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return nil, q, fmt.Errorf("%w: time window %q", ErrInvalidRow, raw)
		}
		v.TimeWindowID = id
	}
	return v, q, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range []string{time.DateOnly, time.RFC3339, "02/01/2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return timeseries.DayStart(t.UTC()), nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q", raw)
}
