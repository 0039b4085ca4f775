package ingest

import (
	"context"
	"time"
)

// Repository persists SyncedFile rows.
type Repository interface {
	// Create stores f and sets its ID and CreatedAt. It returns ErrFileExists
	// when the file name is taken.
	Create(ctx context.Context, f *SyncedFile) error

	// GetByName returns ErrFileNotFound for unknown names.
	GetByName(ctx context.Context, name string) (*SyncedFile, error)

	// ListPending returns files not yet synced, oldest first.
	ListPending(ctx context.Context) ([]*SyncedFile, error)

	// MarkSynced flags the file as imported at the given time.
	MarkSynced(ctx context.Context, id int64, at time.Time) error
}
