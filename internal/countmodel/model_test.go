package countmodel_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3T-LVTN/model/internal/artifact"
	"github.com/3T-LVTN/model/internal/countmodel"
	"github.com/3T-LVTN/model/internal/features"
	"github.com/3T-LVTN/model/internal/lock"
)

type frameSource struct {
	frame *features.Frame
	err   error
	calls atomic.Int32
}

func (f *frameSource) TrainingFrame(_ context.Context, _ int64) (*features.Frame, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.frame, nil
}

func newManager(store artifact.Store, frames countmodel.FrameSource, locker lock.Locker) *countmodel.Manager {
	return countmodel.NewManager(countmodel.ManagerConfig{
		Frames: frames,
		Cache:  countmodel.NewCache(store, zerolog.Nop()),
		Locker: locker,
		Logger: zerolog.Nop(),
	})
}

// blockingFrames holds TrainingFrame until release is closed.
type blockingFrames struct {
	frame   *features.Frame
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingFrames) TrainingFrame(ctx context.Context, _ int64) (*features.Frame, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return b.frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func waitForTraining(t *testing.T, manager *countmodel.Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, manager.Wait(ctx))
}

func TestModel_TrainsInBackgroundWhenNothingStored(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemoryStore()
	frames := &frameSource{frame: trainingFrame(t)}

	var trained atomic.Int32
	manager := countmodel.NewManager(countmodel.ManagerConfig{
		Frames: frames,
		Cache:  countmodel.NewCache(store, zerolog.Nop()),
		Logger: zerolog.Nop(),
		OnTrained: func(context.Context, *countmodel.Fitted, time.Duration) {
			trained.Add(1)
		},
	})
	model := manager.Model(1)
	assert.Equal(t, countmodel.StateUnloaded, model.State())

	_, err := model.Get(ctx)
	assert.ErrorIs(t, err, countmodel.ErrTrainingInProgress)
	waitForTraining(t, manager)

	fitted, err := model.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, countmodel.StateTrained, model.State())
	assert.Equal(t, int64(1), fitted.TimeWindowID)
	assert.Equal(t, 1, store.Puts())
	assert.Equal(t, int32(1), trained.Load())

	again, err := model.Get(ctx)
	require.NoError(t, err)
	assert.Same(t, fitted, again)
	assert.Equal(t, int32(1), frames.calls.Load())
	assert.Same(t, model, manager.Model(1))
}

func TestModel_GetDoesNotWaitForTraining(t *testing.T) {
	frames := &blockingFrames{
		frame:   trainingFrame(t),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	manager := newManager(artifact.NewMemoryStore(), frames, nil)
	model := manager.Model(1)

	reqCtx, cancel := context.WithCancel(context.Background())
	_, err := model.Get(reqCtx)
	assert.ErrorIs(t, err, countmodel.ErrTrainingInProgress)
	cancel()
	<-frames.started

	done := make(chan error, 1)
	go func() {
		_, err := model.Get(context.Background())
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, countmodel.ErrTrainingInProgress)
	case <-time.After(2 * time.Second):
		t.Fatal("Get blocked behind a running fit")
	}

	close(frames.release)
	waitForTraining(t, manager)

	fitted, err := model.Get(context.Background())
	require.NoError(t, err, "training outlives the request that started it")
	assert.NotNil(t, fitted)
}

func TestModel_LoadsStoredArtifact(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemoryStore()
	frame := trainingFrame(t)

	first, err := newManager(store, &frameSource{frame: frame}, nil).Model(1).Retrain(ctx)
	require.NoError(t, err)

	frames := &frameSource{frame: frame}
	model := newManager(store, frames, nil).Model(1)
	loaded, err := model.Get(ctx)
	require.NoError(t, err)

	assert.Equal(t, countmodel.StateLoaded, model.State())
	assert.Equal(t, int32(0), frames.calls.Load())
	assert.Equal(t, first.Predict(frame), loaded.Predict(frame))
}

func TestModel_CorruptArtifactFallsBackToTraining(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemoryStore()
	require.NoError(t, store.Put(ctx, countmodel.ArtifactKey(1), []byte("{not json"), ""))

	frames := &frameSource{frame: trainingFrame(t)}
	manager := newManager(store, frames, nil)
	model := manager.Model(1)

	_, err := model.Get(ctx)
	assert.ErrorIs(t, err, countmodel.ErrTrainingInProgress)
	waitForTraining(t, manager)

	_, err = model.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, countmodel.StateTrained, model.State())
	assert.Equal(t, int32(1), frames.calls.Load())
}

func TestModel_Retrain(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemoryStore()
	frames := &frameSource{frame: trainingFrame(t)}
	model := newManager(store, frames, nil).Model(1)

	first, err := model.Retrain(ctx)
	require.NoError(t, err)
	second, err := model.Retrain(ctx)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, int32(2), frames.calls.Load())
	assert.Equal(t, 2, store.Puts())

	current, err := model.Get(ctx)
	require.NoError(t, err)
	assert.Same(t, second, current)
}

func TestModel_NotTrainableKeepsStoredArtifact(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemoryStore()
	frames := &frameSource{err: features.ErrNoTrainingData}
	manager := newManager(store, frames, nil)
	model := manager.Model(1)

	_, err := model.Get(ctx)
	assert.ErrorIs(t, err, countmodel.ErrTrainingInProgress)
	waitForTraining(t, manager)

	_, err = model.Get(ctx)
	assert.ErrorIs(t, err, countmodel.ErrModelNotTrainable)
	assert.Equal(t, countmodel.StateUnloaded, model.State())
	assert.Equal(t, 0, store.Puts())
	assert.Equal(t, int32(1), frames.calls.Load(), "no new run before RetryAfter")

	_, err = model.Retrain(ctx)
	assert.ErrorIs(t, err, countmodel.ErrModelNotTrainable)
}

func TestModel_TrainingLockHeld(t *testing.T) {
	ctx := context.Background()
	locker := lock.NewLocalLocker()
	lease, err := locker.TryAcquire(ctx, "train/1", time.Minute)
	require.NoError(t, err)
	defer func() { _ = lease.Release(ctx) }()

	frames := &frameSource{frame: trainingFrame(t)}
	model := newManager(artifact.NewMemoryStore(), frames, locker).Model(1)

	_, err = model.Retrain(ctx)
	assert.ErrorIs(t, err, countmodel.ErrTrainingInProgress)
	assert.Equal(t, int32(0), frames.calls.Load())
}

func TestModel_TrainingLockHeldReadsNewerArtifact(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemoryStore()
	cache := countmodel.NewCache(store, zerolog.Nop())

	stale := &countmodel.Fitted{TimeWindowID: 1, Columns: []string{"temperature"}, Coefficients: []float64{0.1}}
	require.NoError(t, cache.Save(ctx, 1, stale))
	newer := &countmodel.Fitted{TimeWindowID: 1, Columns: []string{"temperature"}, Coefficients: []float64{0.2}}
	data, err := newer.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, countmodel.ArtifactKey(1), data, "application/json"))

	locker := lock.NewLocalLocker()
	lease, err := locker.TryAcquire(ctx, "train/1", time.Minute)
	require.NoError(t, err)
	defer func() { _ = lease.Release(ctx) }()

	manager := countmodel.NewManager(countmodel.ManagerConfig{
		Frames: &frameSource{frame: trainingFrame(t)},
		Cache:  cache,
		Locker: locker,
		Logger: zerolog.Nop(),
	})
	_, err = manager.Model(1).Retrain(ctx)
	require.ErrorIs(t, err, countmodel.ErrTrainingInProgress)

	loaded, err := cache.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.2}, loaded.Coefficients)
}

func TestCache_Load(t *testing.T) {
	ctx := context.Background()
	store := artifact.NewMemoryStore()
	cache := countmodel.NewCache(store, zerolog.Nop())

	m, err := cache.Load(ctx, 3)
	require.NoError(t, err)
	assert.Nil(t, m)

	require.NoError(t, store.Put(ctx, "model/3", nil, ""))
	m, err = cache.Load(ctx, 3)
	require.NoError(t, err)
	assert.Nil(t, m, "empty payload")

	require.NoError(t, store.Put(ctx, "model/3", []byte(`{"version":99}`), ""))
	m, err = cache.Load(ctx, 3)
	require.NoError(t, err)
	assert.Nil(t, m, "unknown version")

	fitted := &countmodel.Fitted{
		TimeWindowID:  3,
		Columns:       []string{"temperature"},
		Coefficients:  []float64{0.1},
		RandomEffects: map[int64]float64{1: 0.2},
	}
	require.NoError(t, cache.Save(ctx, 3, fitted))
	m, err = cache.Load(ctx, 3)
	require.NoError(t, err)
	assert.Same(t, fitted, m, "served from memory")

	cache.Forget(3)
	m, err = cache.Load(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, fitted.Coefficients, m.Coefficients)
	assert.Equal(t, fitted.RandomEffects, m.RandomEffects)
}
