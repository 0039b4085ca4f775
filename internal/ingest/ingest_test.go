package ingest_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3T-LVTN/model/internal/artifact"
	"github.com/3T-LVTN/model/internal/ingest"
	"github.com/3T-LVTN/model/internal/location"
	"github.com/3T-LVTN/model/internal/timeseries"
)

var uploadTime = time.Date(2024, 6, 1, 9, 30, 15, 0, time.UTC)

func newUploader(store artifact.Store, files ingest.Repository) *ingest.Uploader {
	return ingest.NewUploader(ingest.UploaderConfig{
		Store:  store,
		Files:  files,
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return uploadTime },
		NewID:  func() string { return "abc" },
	})
}

type fixture struct {
	store     *artifact.MemoryStore
	files     *ingest.InMemoryRepository
	series    *timeseries.InMemoryRepository
	locations *location.InMemoryRepository
	uploader  *ingest.Uploader
	syncer    *ingest.Syncer
}

func newFixture() *fixture {
	f := &fixture{
		store:     artifact.NewMemoryStore(),
		files:     ingest.NewInMemoryRepository(),
		series:    timeseries.NewInMemoryRepository(),
		locations: location.NewInMemoryRepository(),
	}
	f.uploader = newUploader(f.store, f.files)
	f.syncer = ingest.NewSyncer(ingest.SyncerConfig{
		Store: f.store,
		Files: f.files,
		Locations: location.NewService(location.ServiceConfig{
			Repository: f.locations,
			Logger:     zerolog.Nop(),
		}),
		Series: f.series,
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return uploadTime },
	})
	return f
}

func TestObjectKey(t *testing.T) {
	key, err := ingest.ObjectKey("june counts.CSV", uploadTime, "abc")
	require.NoError(t, err)
	assert.Equal(t, "uploads/june_counts_20240601093015_abc.csv", key)

	_, err = ingest.ObjectKey("counts.xlsx", uploadTime, "abc")
	assert.ErrorIs(t, err, ingest.ErrFileNotAllowed)

	_, err = ingest.ObjectKey("counts", uploadTime, "abc")
	assert.ErrorIs(t, err, ingest.ErrFileNotAllowed)
}

func TestUpload_StoresAndRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	file, err := f.uploader.Upload(ctx, "counts.csv", strings.NewReader("date,value\n"))
	require.NoError(t, err)
	assert.Equal(t, "uploads/counts_20240601093015_abc.csv", file.FileName)
	assert.False(t, file.IsSynced)

	data, err := f.store.Get(ctx, file.FileName)
	require.NoError(t, err)
	assert.Equal(t, "date,value\n", string(data))

	pending, err := f.files.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, file.FileName, pending[0].FileName)
}

func TestUpload_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.uploader.Upload(ctx, "counts.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, ingest.ErrFileNotAllowed)

	_, err = f.uploader.Upload(ctx, "counts.csv", strings.NewReader("  \n"))
	assert.ErrorIs(t, err, ingest.ErrEmptyFile)

	assert.Equal(t, 0, f.store.Puts())
}

func TestUpload_TooLarge(t *testing.T) {
	f := newFixture()
	uploader := ingest.NewUploader(ingest.UploaderConfig{
		Store:   f.store,
		Files:   f.files,
		Logger:  zerolog.Nop(),
		MaxSize: 8,
	})

	_, err := uploader.Upload(context.Background(), "counts.csv", strings.NewReader("date,value\n2024-06-01,1\n"))
	assert.ErrorIs(t, err, ingest.ErrFileTooLarge)
	assert.Equal(t, 0, f.store.Puts())
}

func TestUpload_DuplicateName(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.uploader.Upload(ctx, "counts.csv", strings.NewReader("date,value\n"))
	require.NoError(t, err)
	_, err = f.uploader.Upload(ctx, "counts.csv", strings.NewReader("date,value\n"))
	assert.ErrorIs(t, err, ingest.ErrFileExists)
}

const outcomesCSV = `location_code,long,lat,date,value,time_window_id
W1,106.70,10.77,2024-06-01,12,
W1,,,2024-06-02,15,
,106.80,10.80,2024-06-01,3,7
,,,2024-06-01,4,
W2,,,2024-06-01,5,
W1,106.70,10.77,not-a-date,1,
`

func TestSync_ImportsRows(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	file, err := f.uploader.Upload(ctx, "counts.csv", strings.NewReader(outcomesCSV))
	require.NoError(t, err)

	report, err := f.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, ingest.SyncReport{Files: 1, Rows: 3, Skipped: 3}, *report)

	windows, err := f.series.ListTimeWindows(ctx, 1)
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), windows[0].Start())
	assert.Equal(t, time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC), windows[0].End())

	first, err := f.series.ListOutcomesByTimeWindow(ctx, windows[0].ID)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 12.0, first[0].Value)

	second, err := f.series.ListOutcomesByTimeWindow(ctx, windows[1].ID)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, 15.0, second[0].Value)
	assert.Equal(t, first[0].LocationID, second[0].LocationID, "alias resolves to the same location")

	explicit, err := f.series.ListOutcomesByTimeWindow(ctx, 7)
	require.NoError(t, err)
	require.Len(t, explicit, 1)
	assert.NotEqual(t, first[0].LocationID, explicit[0].LocationID)

	synced, err := f.files.GetByName(ctx, file.FileName)
	require.NoError(t, err)
	assert.True(t, synced.IsSynced)
	require.NotNil(t, synced.SyncedAt)

	again, err := f.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, ingest.SyncReport{}, *again)
}

func TestSync_SkipsNonCountValues(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	csv := "location_code,long,lat,date,value\n" +
		"W1,106.70,10.77,2024-06-01,NaN\n" +
		"W1,106.70,10.77,2024-06-01,-4\n" +
		"W1,106.70,10.77,2024-06-01,+Inf\n" +
		"W1,NaN,10.77,2024-06-01,2\n" +
		"W1,106.70,10.77,2024-06-01,9\n"
	_, err := f.uploader.Upload(ctx, "counts.csv", strings.NewReader(csv))
	require.NoError(t, err)

	report, err := f.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, ingest.SyncReport{Files: 1, Rows: 1, Skipped: 4}, *report)

	windows, err := f.series.ListTimeWindows(ctx, 1)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	outcomes, err := f.series.ListOutcomesByTimeWindow(ctx, windows[0].ID)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, 9.0, outcomes[0].Value)
}

// flakySeries fails CreateOutcome once after the first stored row.
type flakySeries struct {
	*timeseries.InMemoryRepository
	mu     sync.Mutex
	calls  int
	failed bool
}

func (s *flakySeries) CreateOutcome(ctx context.Context, v *timeseries.OutcomeValue) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls == 2 && !s.failed
	if fail {
		s.failed = true
	}
	s.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return s.InMemoryRepository.CreateOutcome(ctx, v)
}

func TestSync_RetryAfterPartialImportDoesNotDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	series := &flakySeries{InMemoryRepository: f.series}
	syncer := ingest.NewSyncer(ingest.SyncerConfig{
		Store: f.store,
		Files: f.files,
		Locations: location.NewService(location.ServiceConfig{
			Repository: f.locations,
			Logger:     zerolog.Nop(),
		}),
		Series: series,
		Logger: zerolog.Nop(),
	})

	_, err := f.uploader.Upload(ctx, "counts.csv", strings.NewReader(outcomesCSV))
	require.NoError(t, err)

	report, err := syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, f.series.OutcomeCount(), "first row stored before the failure")

	report, err = syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, ingest.SyncReport{Files: 1, Rows: 3, Skipped: 3}, *report)
	assert.Equal(t, 3, f.series.OutcomeCount())
}

func TestSync_RejectsFileWithoutColumns(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	file, err := f.uploader.Upload(ctx, "counts.csv", strings.NewReader("date,count\n2024-06-01,3\n"))
	require.NoError(t, err)

	report, err := f.syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rejected)
	assert.Equal(t, 0, report.Rows)

	synced, err := f.files.GetByName(ctx, file.FileName)
	require.NoError(t, err)
	assert.True(t, synced.IsSynced)
}

type failingStore struct{ *artifact.MemoryStore }

func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func TestSync_StoreFailureKeepsFilePending(t *testing.T) {
	ctx := context.Background()
	files := ingest.NewInMemoryRepository()
	store := failingStore{artifact.NewMemoryStore()}

	_, err := newUploader(store, files).Upload(ctx, "counts.csv", strings.NewReader(outcomesCSV))
	require.NoError(t, err)

	syncer := ingest.NewSyncer(ingest.SyncerConfig{
		Store:  store,
		Files:  files,
		Series: timeseries.NewInMemoryRepository(),
		Logger: zerolog.Nop(),
	})
	report, err := syncer.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	pending, err := files.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
