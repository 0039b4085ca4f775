package ingest

import (
	"context"
	"sync"
	"time"
)

// InMemoryRepository is a Repository for tests and local runs.
type InMemoryRepository struct {
	mu     sync.RWMutex
	files  []*SyncedFile
	nextID int64
	now    func() time.Time
}

// NewInMemoryRepository creates an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{now: time.Now}
}

func (r *InMemoryRepository) Create(_ context.Context, f *SyncedFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.files {
		if existing.FileName == f.FileName {
			return ErrFileExists
		}
	}
	r.nextID++
	f.ID = r.nextID
	if f.CreatedAt.IsZero() {
		f.CreatedAt = r.now().UTC()
	}
	r.files = append(r.files, copyFile(f))
	return nil
}

func (r *InMemoryRepository) GetByName(_ context.Context, name string) (*SyncedFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, f := range r.files {
		if f.FileName == name {
			return copyFile(f), nil
		}
	}
	return nil, ErrFileNotFound
}

func (r *InMemoryRepository) ListPending(_ context.Context) ([]*SyncedFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*SyncedFile
	for _, f := range r.files {
		if !f.IsSynced {
			out = append(out, copyFile(f))
		}
	}
	return out, nil
}

func (r *InMemoryRepository) MarkSynced(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files {
		if f.ID == id {
			f.IsSynced = true
			t := at
			f.SyncedAt = &t
			return nil
		}
	}
	return ErrFileNotFound
}

func copyFile(f *SyncedFile) *SyncedFile {
	cpy := *f
	if f.SyncedAt != nil {
		t := *f.SyncedAt
		cpy.SyncedAt = &t
	}
	return &cpy
}
