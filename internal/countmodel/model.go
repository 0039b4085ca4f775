// Package countmodel fits and serves the negative binomial mixed model
// that predicts counts from weather features.
package countmodel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/3T-LVTN/model/internal/features"
	"github.com/3T-LVTN/model/internal/lock"
)

var (
	// ErrModelNotTrainable is returned when the training data cannot
	// support a fit. A previously saved model is left untouched.
	ErrModelNotTrainable = errors.New("model not trainable")

	// ErrNonFinitePrediction is returned when a prediction is NaN or infinite.
	ErrNonFinitePrediction = errors.New("prediction is not finite")

	// ErrTrainingInProgress is returned when another process holds the
	// training lock for the time window.
	ErrTrainingInProgress = errors.New("model training in progress")
)

// Train estimates alpha and fits the mixed model on a preprocessed
// training frame.
func Train(ctx context.Context, frame *features.Frame, opts FitOptions) (*Fitted, error) {
	opts = opts.withDefaults()

	est, err := EstimateAlpha(ctx, frame, opts)
	if err != nil {
		return nil, err
	}
	alpha := est.Alpha
	if alpha < opts.MinAlpha {
		alpha = opts.MinAlpha
	}

	y, err := outcome(frame)
	if err != nil {
		return nil, err
	}
	x, err := matrix(frame, features.FeatureColumns)
	if err != nil {
		return nil, err
	}
	groupValues := frame.Column(features.LocationColumn)
	if groupValues == nil {
		return nil, fmt.Errorf("%w: frame has no %s column", ErrModelNotTrainable, features.LocationColumn)
	}
	groups := make([]int64, len(groupValues))
	for i, g := range groupValues {
		groups[i] = int64(g)
	}

	fit, err := newMixedProblem(x, groups, y, alpha, opts.FixedEffectSD).fit(ctx, opts)
	if err != nil {
		return nil, err
	}

	return &Fitted{
		Alpha:          alpha,
		EstimatedAlpha: est.Alpha,
		Columns:        append([]string(nil), features.FeatureColumns...),
		Intercept:      fit.intercept,
		Coefficients:   fit.coef,
		RandomEffects:  fit.effects,
		LogSD:          fit.logSD,
		Iterations:     fit.iterations,
		Converged:      fit.converged,
		Rows:           frame.Len(),
		TrainedAt:      time.Now().UTC(),
	}, nil
}

// State is the lifecycle of a Model.
type State int

const (
	StateUnloaded State = iota
	StateLoaded
	StateTrained
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateTrained:
		return "trained"
	default:
		return "unloaded"
	}
}

// FrameSource builds training frames.
type FrameSource interface {
	TrainingFrame(ctx context.Context, timeWindowID int64) (*features.Frame, error)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Frames FrameSource
	Cache  *Cache

	// Locker serialises training across processes. Nil disables it.
	Locker  lock.Locker
	LockTTL time.Duration

	// TrainTimeout bounds one training run (default: 10 minutes).
	TrainTimeout time.Duration

	// RetryAfter is how long Get reports a failed background training
	// before starting another (default: 1 minute).
	RetryAfter time.Duration

	Options FitOptions
	Logger  zerolog.Logger

	// OnTrained is called after every successful training run.
	OnTrained func(ctx context.Context, m *Fitted, took time.Duration)
}

// Manager owns one Model per time window.
type Manager struct {
	cfg ManagerConfig
	wg  sync.WaitGroup

	mu     sync.Mutex
	models map[int64]*Model
}

// NewManager creates a manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.TrainTimeout == 0 {
		cfg.TrainTimeout = 10 * time.Minute
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = cfg.TrainTimeout + time.Minute
	}
	if cfg.RetryAfter == 0 {
		cfg.RetryAfter = time.Minute
	}
	return &Manager{cfg: cfg, models: make(map[int64]*Model)}
}

// Model returns the model for the time window, creating it unloaded.
func (m *Manager) Model(timeWindowID int64) *Model {
	m.mu.Lock()
	defer m.mu.Unlock()
	model, ok := m.models[timeWindowID]
	if !ok {
		model = &Model{timeWindowID: timeWindowID, cfg: &m.cfg, wg: &m.wg}
		m.models[timeWindowID] = model
	}
	return model
}

// Wait blocks until background training runs finish or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Model is the fitted model of one time window, loaded from the cache or
// trained in the background on first use.
type Model struct {
	timeWindowID int64
	cfg          *ManagerConfig
	wg           *sync.WaitGroup

	// fitMu serialises training runs in this process.
	fitMu sync.Mutex

	mu       sync.Mutex
	state    State
	fitted   *Fitted
	training int
	lastErr  error
	failedAt time.Time
}

// State returns the current lifecycle state.
func (m *Model) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Get returns the fitted model. An unloaded model is loaded from the cache.
// When no usable artifact exists Get starts training in the background and
// returns ErrTrainingInProgress; callers retry once it finishes. A failed
// background run is reported for RetryAfter before another one starts.
func (m *Model) Get(ctx context.Context) (*Fitted, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateUnloaded {
		return m.fitted, nil
	}
	if m.training > 0 {
		return nil, ErrTrainingInProgress
	}

	fitted, err := m.cfg.Cache.Load(ctx, m.timeWindowID)
	if err != nil {
		return nil, err
	}
	if fitted != nil {
		m.fitted = fitted
		m.state = StateLoaded
		m.cfg.Logger.Info().
			Int64("time_window_id", m.timeWindowID).
			Time("trained_at", fitted.TrainedAt).
			Msg("loaded model")
		return fitted, nil
	}

	if m.lastErr != nil && time.Since(m.failedAt) < m.cfg.RetryAfter {
		return nil, m.lastErr
	}

	m.training++
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if _, err := m.run(context.WithoutCancel(ctx)); err != nil {
			m.cfg.Logger.Warn().Err(err).Int64("time_window_id", m.timeWindowID).Msg("background training failed")
		}
	}()
	m.cfg.Logger.Info().Int64("time_window_id", m.timeWindowID).Msg("no stored model, training in background")
	return nil, ErrTrainingInProgress
}

// Retrain fits a new model regardless of state and waits for it. The
// current model keeps serving Get until the new one is ready.
func (m *Model) Retrain(ctx context.Context) (*Fitted, error) {
	m.mu.Lock()
	m.training++
	m.mu.Unlock()
	return m.run(ctx)
}

// run trains and publishes the result. The caller has counted the run in
// m.training.
func (m *Model) run(ctx context.Context) (*Fitted, error) {
	m.fitMu.Lock()
	fitted, err := m.train(ctx)
	m.fitMu.Unlock()

	if errors.Is(err, ErrTrainingInProgress) {
		// Another process is fitting; read its artifact on the next load.
		m.cfg.Cache.Forget(m.timeWindowID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.training--
	if err != nil {
		m.lastErr = err
		m.failedAt = time.Now()
		return nil, err
	}
	m.fitted = fitted
	m.state = StateTrained
	m.lastErr = nil
	return fitted, nil
}

func (m *Model) train(ctx context.Context) (*Fitted, error) {
	logger := m.cfg.Logger.With().Int64("time_window_id", m.timeWindowID).Logger()

	if m.cfg.Locker != nil {
		lease, err := m.cfg.Locker.TryAcquire(ctx, fmt.Sprintf("train/%d", m.timeWindowID), m.cfg.LockTTL)
		if errors.Is(err, lock.ErrHeld) {
			return nil, ErrTrainingInProgress
		}
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn().Err(err).Msg("failed to release training lock")
			}
		}()
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.TrainTimeout)
	defer cancel()

	start := time.Now()
	frame, err := m.cfg.Frames.TrainingFrame(ctx, m.timeWindowID)
	if errors.Is(err, features.ErrNoTrainingData) {
		return nil, fmt.Errorf("%w: %v", ErrModelNotTrainable, err)
	}
	if err != nil {
		return nil, fmt.Errorf("building training frame: %w", err)
	}

	fitted, err := Train(ctx, frame, m.cfg.Options)
	if err != nil {
		logger.Error().Err(err).Int("rows", frame.Len()).Msg("training failed")
		return nil, err
	}
	fitted.TimeWindowID = m.timeWindowID
	took := time.Since(start)

	if fitted.Alpha != fitted.EstimatedAlpha {
		logger.Warn().
			Float64("estimated_alpha", fitted.EstimatedAlpha).
			Float64("alpha", fitted.Alpha).
			Msg("dispersion estimate clamped")
	}
	if !fitted.Converged {
		logger.Warn().Int("iterations", fitted.Iterations).Msg("mixed model fit did not converge")
	}

	if err := m.cfg.Cache.Save(ctx, m.timeWindowID, fitted); err != nil {
		logger.Error().Err(err).Msg("failed to save model artifact")
	}

	logger.Info().
		Int("rows", fitted.Rows).
		Float64("alpha", fitted.Alpha).
		Int("iterations", fitted.Iterations).
		Dur("took", took).
		Msg("trained model")

	if m.cfg.OnTrained != nil {
		m.cfg.OnTrained(ctx, fitted, took)
	}
	return fitted, nil
}
