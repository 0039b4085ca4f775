package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/3T-LVTN/model/internal/artifact"
)

const (
	// UploadPrefix is the key prefix of uploaded files.
	UploadPrefix = "uploads/"

	// DefaultMaxUploadSize bounds an upload body (default: 32 MiB).
	DefaultMaxUploadSize = 32 << 20

	uploadTimeLayout = "20060102150405"
)

// UploaderConfig configures the Uploader.
type UploaderConfig struct {
	Store   artifact.Store
	Files   Repository
	Logger  zerolog.Logger
	MaxSize int64

	Now   func() time.Time
	NewID func() string
}

// Uploader stores uploaded outcome files and records them for syncing.
type Uploader struct {
	store   artifact.Store
	files   Repository
	logger  zerolog.Logger
	maxSize int64
	now     func() time.Time
	newID   func() string
}

// NewUploader creates an Uploader.
func NewUploader(cfg UploaderConfig) *Uploader {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxUploadSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.New().String() }
	}
	return &Uploader{
		store:   cfg.Store,
		files:   cfg.Files,
		logger:  cfg.Logger,
		maxSize: cfg.MaxSize,
		now:     cfg.Now,
		newID:   cfg.NewID,
	}
}

// ObjectKey builds the storage key of an upload named name. Spaces become
// underscores and the stem is suffixed with the upload time and id.
func ObjectKey(name string, at time.Time, id string) (string, error) {
	name = strings.ReplaceAll(path.Base(strings.TrimSpace(name)), " ", "_")
	ext := path.Ext(name)
	extName := strings.ToLower(strings.TrimPrefix(ext, "."))
	if !slices.Contains(AllowedExtensions, extName) {
		return "", fmt.Errorf("%w: %q", ErrFileNotAllowed, ext)
	}
	stem := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s%s_%s_%s.%s", UploadPrefix, stem, at.UTC().Format(uploadTimeLayout), id, extName), nil
}

// Upload stores the body under a fresh key and records it as pending.
func (u *Uploader) Upload(ctx context.Context, name string, body io.Reader) (*SyncedFile, error) {
	key, err := ObjectKey(name, u.now(), u.newID())
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(body, u.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	if int64(len(data)) > u.maxSize {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrFileTooLarge, u.maxSize)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}

	if err := u.store.Put(ctx, key, data, "text/csv"); err != nil {
		return nil, fmt.Errorf("storing upload: %w", err)
	}

	f := &SyncedFile{FileName: key}
	if err := u.files.Create(ctx, f); err != nil {
		return nil, fmt.Errorf("recording upload: %w", err)
	}

	u.logger.Info().
		Str("file_name", key).
		Int("bytes", len(data)).
		Msg("file uploaded")
	return f, nil
}
