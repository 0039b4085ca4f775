// Package ingest accepts uploaded outcome files and imports them into the
// time series store.
package ingest

import (
	"errors"
	"time"
)

var (
	ErrFileNotFound   = errors.New("synced file not found")
	ErrFileExists     = errors.New("synced file already exists")
	ErrFileNotAllowed = errors.New("file extension not allowed")
	ErrEmptyFile      = errors.New("file is empty")
	ErrFileTooLarge   = errors.New("file too large")
	ErrMissingColumn  = errors.New("missing column")
	ErrInvalidRow     = errors.New("invalid row")
)

// AllowedExtensions are the upload extensions accepted, without the dot.
var AllowedExtensions = []string{"csv"}

// SyncedFile tracks one uploaded object and whether it has been imported.
type SyncedFile struct {
	ID int64
	// FileName is the object key in the artifact store.
	FileName  string
	IsSynced  bool
	CreatedAt time.Time
	SyncedAt  *time.Time
}
