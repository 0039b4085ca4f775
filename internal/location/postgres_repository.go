package location

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is the PostgreSQL Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a repository over pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Get(ctx context.Context, id int64) (*Location, error) {
	var loc Location
	err := r.pool.QueryRow(ctx, `
		SELECT id, longitude, latitude, created_at
		FROM location
		WHERE id = $1
	`, id).Scan(&loc.ID, &loc.Longitude, &loc.Latitude, &loc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLocationNotFound
		}
		return nil, err
	}
	return &loc, nil
}

// Nearest filters by the open search box first so the lon/lat index is
// usable, then orders by Euclidean distance.
func (r *PostgresRepository) Nearest(ctx context.Context, lon, lat, threshold float64) (*Location, error) {
	var loc Location
	err := r.pool.QueryRow(ctx, `
		SELECT id, longitude, latitude, created_at
		FROM location
		WHERE longitude > $1 - $3 AND longitude < $1 + $3
		  AND latitude > $2 - $3 AND latitude < $2 + $3
		  AND (longitude - $1) * (longitude - $1) + (latitude - $2) * (latitude - $2) < $3 * $3
		ORDER BY (longitude - $1) * (longitude - $1) + (latitude - $2) * (latitude - $2), id
		LIMIT 1
	`, lon, lat, threshold).Scan(&loc.ID, &loc.Longitude, &loc.Latitude, &loc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLocationNotFound
		}
		return nil, err
	}
	return &loc, nil
}

func (r *PostgresRepository) Create(ctx context.Context, loc *Location) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO location (longitude, latitude)
		VALUES ($1, $2)
		RETURNING id, created_at
	`, loc.Longitude, loc.Latitude).Scan(&loc.ID, &loc.CreatedAt)
}

func (r *PostgresRepository) List(ctx context.Context) ([]*Location, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, longitude, latitude, created_at FROM location ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Location
	for rows.Next() {
		var loc Location
		if err := rows.Scan(&loc.ID, &loc.Longitude, &loc.Latitude, &loc.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &loc)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetAlias(ctx context.Context, code string) (*Alias, error) {
	var a Alias
	err := r.pool.QueryRow(ctx, `
		SELECT id, location_code, location_id, created_at
		FROM third_party_location
		WHERE location_code = $1
		ORDER BY id
		LIMIT 1
	`, code).Scan(&a.ID, &a.Code, &a.LocationID, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAliasNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *PostgresRepository) ListAliases(ctx context.Context, codes []string) ([]*Alias, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT ON (location_code) id, location_code, location_id, created_at
		FROM third_party_location
		WHERE location_code = ANY($1)
		ORDER BY location_code, id
	`, codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Alias
	for rows.Next() {
		var a Alias
		if err := rows.Scan(&a.ID, &a.Code, &a.LocationID, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CreateAlias(ctx context.Context, alias *Alias) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO third_party_location (location_code, location_id)
		VALUES ($1, $2)
		RETURNING id, created_at
	`, alias.Code, alias.LocationID).Scan(&alias.ID, &alias.CreatedAt)
}

func (r *PostgresRepository) ListWards(ctx context.Context) ([]*Ward, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, code, name, district_code, location_id
		FROM ward
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Ward
	for rows.Next() {
		var w Ward
		if err := rows.Scan(&w.ID, &w.Code, &w.Name, &w.DistrictCode, &w.LocationID); err != nil {
			return nil, err
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

var _ Repository = (*PostgresRepository)(nil)
