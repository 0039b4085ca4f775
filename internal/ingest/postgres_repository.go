package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PostgresRepository is the PostgreSQL Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a repository over pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Create(ctx context.Context, f *SyncedFile) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO synced_file (file_name, is_synced)
		VALUES ($1, $2)
		RETURNING id, created_at
	`, f.FileName, f.IsSynced).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrFileExists
		}
		return err
	}
	return nil
}

func (r *PostgresRepository) GetByName(ctx context.Context, name string) (*SyncedFile, error) {
	var f SyncedFile
	err := r.pool.QueryRow(ctx, `
		SELECT id, file_name, is_synced, created_at, synced_at
		FROM synced_file
		WHERE file_name = $1
	`, name).Scan(&f.ID, &f.FileName, &f.IsSynced, &f.CreatedAt, &f.SyncedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	return &f, nil
}

func (r *PostgresRepository) ListPending(ctx context.Context) ([]*SyncedFile, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, file_name, is_synced, created_at, synced_at
		FROM synced_file
		WHERE NOT is_synced
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SyncedFile
	for rows.Next() {
		var f SyncedFile
		if err := rows.Scan(&f.ID, &f.FileName, &f.IsSynced, &f.CreatedAt, &f.SyncedAt); err != nil {
			return nil, err
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) MarkSynced(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE synced_file SET is_synced = true, synced_at = $2 WHERE id = $1
	`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrFileNotFound
	}
	return nil
}
