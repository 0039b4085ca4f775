package timeseries

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const observationColumns = `
	id, location_id, time_window_id, date_time,
	minimum_temperature, maximum_temperature, temperature, dew_point,
	relative_humidity, heat_index, wind_speed, wind_gust, wind_direction,
	wind_chill, precipitation, precipitation_cover, snow_depth, visibility,
	cloud_cover, sea_level_pressure, weather_type, info, conditions`

// PostgresRepository is the PostgreSQL Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a repository over pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) GetTimeWindow(ctx context.Context, id int64) (*TimeWindow, error) {
	var tw TimeWindow
	err := r.pool.QueryRow(ctx, `
		SELECT id, sliding_size, start_ts, end_ts FROM time_window WHERE id = $1
	`, id).Scan(&tw.ID, &tw.SlidingSize, &tw.StartTS, &tw.EndTS)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTimeWindowNotFound
		}
		return nil, err
	}
	return &tw, nil
}

func (r *PostgresRepository) ListTimeWindows(ctx context.Context, slidingSize int) ([]*TimeWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, sliding_size, start_ts, end_ts
		FROM time_window
		WHERE $1 = 0 OR sliding_size = $1
		ORDER BY id
	`, slidingSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TimeWindow
	for rows.Next() {
		var tw TimeWindow
		if err := rows.Scan(&tw.ID, &tw.SlidingSize, &tw.StartTS, &tw.EndTS); err != nil {
			return nil, err
		}
		out = append(out, &tw)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CreateTimeWindow(ctx context.Context, tw *TimeWindow) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO time_window (sliding_size, start_ts, end_ts)
		VALUES ($1, $2, $3)
		ON CONFLICT (start_ts, end_ts, sliding_size) DO UPDATE SET sliding_size = EXCLUDED.sliding_size
		RETURNING id
	`, tw.SlidingSize, tw.StartTS, tw.EndTS).Scan(&tw.ID)
}

func (r *PostgresRepository) ListObservationsByTimeWindow(ctx context.Context, timeWindowID int64) ([]*Observation, error) {
	return r.queryObservations(ctx, `SELECT `+observationColumns+`
		FROM weather_log
		WHERE time_window_id = $1
		ORDER BY id`, timeWindowID)
}

func (r *PostgresRepository) GetObservation(ctx context.Context, locationID, day int64) (*Observation, error) {
	return r.queryObservation(ctx, `SELECT `+observationColumns+`
		FROM weather_log
		WHERE location_id = $1 AND date_time = $2
		ORDER BY id
		LIMIT 1`, locationID, day)
}

func (r *PostgresRepository) GetObservationInWindow(ctx context.Context, locationID, timeWindowID int64) (*Observation, error) {
	return r.queryObservation(ctx, `SELECT `+observationColumns+`
		FROM weather_log
		WHERE location_id = $1 AND time_window_id = $2
		ORDER BY id
		LIMIT 1`, locationID, timeWindowID)
}

func (r *PostgresRepository) ListObservations(ctx context.Context, locationIDs []int64, from, to int64) ([]*Observation, error) {
	return r.queryObservations(ctx, `SELECT `+observationColumns+`
		FROM weather_log
		WHERE location_id = ANY($1) AND date_time >= $2 AND date_time < $3
		ORDER BY date_time, id`, locationIDs, from, to)
}

func (r *PostgresRepository) CreateObservation(ctx context.Context, o *Observation) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO weather_log (
			location_id, time_window_id, date_time,
			minimum_temperature, maximum_temperature, temperature, dew_point,
			relative_humidity, heat_index, wind_speed, wind_gust, wind_direction,
			wind_chill, precipitation, precipitation_cover, snow_depth, visibility,
			cloud_cover, sea_level_pressure, weather_type, info, conditions
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		RETURNING id
	`,
		o.LocationID, o.TimeWindowID, o.DateTime,
		o.MinimumTemperature, o.MaximumTemperature, o.Temperature, o.DewPoint,
		o.RelativeHumidity, o.HeatIndex, o.WindSpeed, o.WindGust, o.WindDirection,
		o.WindChill, o.Precipitation, o.PrecipitationCover, o.SnowDepth, o.Visibility,
		o.CloudCover, o.SeaLevelPressure, o.WeatherType, o.Info, o.Conditions,
	).Scan(&o.ID)
}

func (r *PostgresRepository) AssignTimeWindow(ctx context.Context, timeWindowID, from, to int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE weather_log
		SET time_window_id = $1
		WHERE time_window_id IS NULL AND date_time >= $2 AND date_time < $3
	`, timeWindowID, from, to)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) ListOutcomesByTimeWindow(ctx context.Context, timeWindowID int64) ([]*OutcomeValue, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, location_id, time_window_id, date_time, value
		FROM predicted_var
		WHERE time_window_id = $1
		ORDER BY id
	`, timeWindowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*OutcomeValue
	for rows.Next() {
		var v OutcomeValue
		if err := rows.Scan(&v.ID, &v.LocationID, &v.TimeWindowID, &v.DateTime, &v.Value); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CreateOutcome(ctx context.Context, v *OutcomeValue) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO predicted_var (location_id, time_window_id, date_time, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (location_id, time_window_id, date_time) DO UPDATE SET value = EXCLUDED.value
		RETURNING id
	`, v.LocationID, v.TimeWindowID, v.DateTime, v.Value).Scan(&v.ID)
}

func (r *PostgresRepository) LatestPredictionFor(ctx context.Context, locationID, predictTime int64, since time.Time) (*PredictionLog, error) {
	var p PredictionLog
	err := r.pool.QueryRow(ctx, `
		SELECT id, location_id, value, model_file_path, predict_time, created_at
		FROM predicted_log
		WHERE location_id = $1 AND predict_time = $2 AND created_at >= $3
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, locationID, predictTime, since).Scan(&p.ID, &p.LocationID, &p.Value, &p.ArtifactKey, &p.PredictTime, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPredictionNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PostgresRepository) CreatePrediction(ctx context.Context, p *PredictionLog) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO predicted_log (location_id, value, model_file_path, predict_time)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, p.LocationID, p.Value, p.ArtifactKey, p.PredictTime).Scan(&p.ID, &p.CreatedAt)
}

func (r *PostgresRepository) ListPredictionsFor(ctx context.Context, predictTime int64) ([]*PredictionLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, location_id, value, model_file_path, predict_time, created_at
		FROM predicted_log
		WHERE predict_time = $1
		ORDER BY id
	`, predictTime)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PredictionLog
	for rows.Next() {
		var p PredictionLog
		if err := rows.Scan(&p.ID, &p.LocationID, &p.Value, &p.ArtifactKey, &p.PredictTime, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetQuartiles(ctx context.Context, day int64) (*QuartileThresholds, error) {
	var raw []float64
	err := r.pool.QueryRow(ctx, `
		SELECT quartile_threshold FROM prediction_quartile WHERE time = $1
	`, day).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQuartilesNotFound
		}
		return nil, err
	}
	if len(raw) != 3 {
		return nil, fmt.Errorf("prediction quartile for %d has %d thresholds", day, len(raw))
	}
	q := &QuartileThresholds{Day: day}
	copy(q.Thresholds[:], raw)
	return q, nil
}

func (r *PostgresRepository) CreateQuartiles(ctx context.Context, q *QuartileThresholds) (*QuartileThresholds, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO prediction_quartile (time, quartile_threshold)
		VALUES ($1, $2)
		ON CONFLICT (time) DO NOTHING
	`, q.Day, q.Thresholds[:])
	if err != nil {
		return nil, err
	}
	return r.GetQuartiles(ctx, q.Day)
}

func (r *PostgresRepository) queryObservation(ctx context.Context, query string, args ...any) (*Observation, error) {
	o, err := scanObservation(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrObservationNotFound
		}
		return nil, err
	}
	return o, nil
}

func (r *PostgresRepository) queryObservations(ctx context.Context, query string, args ...any) ([]*Observation, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanObservation(row pgx.Row) (*Observation, error) {
	var o Observation
	err := row.Scan(
		&o.ID, &o.LocationID, &o.TimeWindowID, &o.DateTime,
		&o.MinimumTemperature, &o.MaximumTemperature, &o.Temperature, &o.DewPoint,
		&o.RelativeHumidity, &o.HeatIndex, &o.WindSpeed, &o.WindGust, &o.WindDirection,
		&o.WindChill, &o.Precipitation, &o.PrecipitationCover, &o.SnowDepth, &o.Visibility,
		&o.CloudCover, &o.SeaLevelPressure, &o.WeatherType, &o.Info, &o.Conditions,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

var _ Repository = (*PostgresRepository)(nil)
