package timeseries

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryRepository is a Repository for tests and local runs.
type InMemoryRepository struct {
	mu           sync.RWMutex
	windows      []*TimeWindow
	observations []*Observation
	outcomes     []*OutcomeValue
	predictions  []*PredictionLog
	quartiles    map[int64]*QuartileThresholds
	nextID       int64
}

// NewInMemoryRepository creates an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{quartiles: make(map[int64]*QuartileThresholds)}
}

func (r *InMemoryRepository) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *InMemoryRepository) GetTimeWindow(_ context.Context, id int64) (*TimeWindow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, tw := range r.windows {
		if tw.ID == id {
			cpy := *tw
			return &cpy, nil
		}
	}
	return nil, ErrTimeWindowNotFound
}

func (r *InMemoryRepository) ListTimeWindows(_ context.Context, slidingSize int) ([]*TimeWindow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*TimeWindow
	for _, tw := range r.windows {
		if slidingSize == 0 || tw.SlidingSize == slidingSize {
			cpy := *tw
			out = append(out, &cpy)
		}
	}
	return out, nil
}

func (r *InMemoryRepository) CreateTimeWindow(_ context.Context, tw *TimeWindow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.windows {
		if existing.StartTS == tw.StartTS && existing.EndTS == tw.EndTS && existing.SlidingSize == tw.SlidingSize {
			tw.ID = existing.ID
			return nil
		}
	}
	tw.ID = r.id()
	cpy := *tw
	r.windows = append(r.windows, &cpy)
	return nil
}

func (r *InMemoryRepository) ListObservationsByTimeWindow(_ context.Context, timeWindowID int64) ([]*Observation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Observation
	for _, o := range r.observations {
		if o.TimeWindowID != nil && *o.TimeWindowID == timeWindowID {
			out = append(out, copyObservation(o))
		}
	}
	return out, nil
}

func (r *InMemoryRepository) GetObservation(_ context.Context, locationID, day int64) (*Observation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.observations {
		if o.LocationID == locationID && o.DateTime == day {
			return copyObservation(o), nil
		}
	}
	return nil, ErrObservationNotFound
}

func (r *InMemoryRepository) GetObservationInWindow(_ context.Context, locationID, timeWindowID int64) (*Observation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.observations {
		if o.LocationID == locationID && o.TimeWindowID != nil && *o.TimeWindowID == timeWindowID {
			return copyObservation(o), nil
		}
	}
	return nil, ErrObservationNotFound
}

func (r *InMemoryRepository) ListObservations(_ context.Context, locationIDs []int64, from, to int64) ([]*Observation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wanted := make(map[int64]bool, len(locationIDs))
	for _, id := range locationIDs {
		wanted[id] = true
	}
	var out []*Observation
	for _, o := range r.observations {
		if wanted[o.LocationID] && o.DateTime >= from && o.DateTime < to {
			out = append(out, copyObservation(o))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DateTime < out[j].DateTime })
	return out, nil
}

func (r *InMemoryRepository) CreateObservation(_ context.Context, obs *Observation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	obs.ID = r.id()
	r.observations = append(r.observations, copyObservation(obs))
	return nil
}

func (r *InMemoryRepository) AssignTimeWindow(_ context.Context, timeWindowID, from, to int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, o := range r.observations {
		if o.TimeWindowID == nil && o.DateTime >= from && o.DateTime < to {
			id := timeWindowID
			o.TimeWindowID = &id
			n++
		}
	}
	return n, nil
}

func (r *InMemoryRepository) ListOutcomesByTimeWindow(_ context.Context, timeWindowID int64) ([]*OutcomeValue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*OutcomeValue
	for _, v := range r.outcomes {
		if v.TimeWindowID == timeWindowID {
			cpy := *v
			out = append(out, &cpy)
		}
	}
	return out, nil
}

func (r *InMemoryRepository) CreateOutcome(_ context.Context, v *OutcomeValue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.outcomes {
		if existing.LocationID == v.LocationID && existing.TimeWindowID == v.TimeWindowID && existing.DateTime == v.DateTime {
			existing.Value = v.Value
			v.ID = existing.ID
			return nil
		}
	}
	v.ID = r.id()
	cpy := *v
	r.outcomes = append(r.outcomes, &cpy)
	return nil
}

func (r *InMemoryRepository) LatestPredictionFor(_ context.Context, locationID, predictTime int64, since time.Time) (*PredictionLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *PredictionLog
	for _, p := range r.predictions {
		if p.LocationID != locationID || p.PredictTime != predictTime || p.CreatedAt.Before(since) {
			continue
		}
		if latest == nil || !p.CreatedAt.Before(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, ErrPredictionNotFound
	}
	cpy := *latest
	return &cpy, nil
}

func (r *InMemoryRepository) CreatePrediction(_ context.Context, p *PredictionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = r.id()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	cpy := *p
	r.predictions = append(r.predictions, &cpy)
	return nil
}

func (r *InMemoryRepository) ListPredictionsFor(_ context.Context, predictTime int64) ([]*PredictionLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*PredictionLog
	for _, p := range r.predictions {
		if p.PredictTime == predictTime {
			cpy := *p
			out = append(out, &cpy)
		}
	}
	return out, nil
}

func (r *InMemoryRepository) GetQuartiles(_ context.Context, day int64) (*QuartileThresholds, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.quartiles[day]
	if !ok {
		return nil, ErrQuartilesNotFound
	}
	cpy := *q
	return &cpy, nil
}

func (r *InMemoryRepository) CreateQuartiles(_ context.Context, q *QuartileThresholds) (*QuartileThresholds, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.quartiles[q.Day]; ok {
		cpy := *existing
		return &cpy, nil
	}
	cpy := *q
	r.quartiles[q.Day] = &cpy
	out := cpy
	return &out, nil
}

// PredictionCount returns the number of stored prediction logs.
func (r *InMemoryRepository) PredictionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.predictions)
}

// OutcomeCount returns the number of stored outcome values.
func (r *InMemoryRepository) OutcomeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outcomes)
}

// ObservationCount returns the number of stored observations.
func (r *InMemoryRepository) ObservationCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.observations)
}

func copyObservation(o *Observation) *Observation {
	cpy := *o
	if o.TimeWindowID != nil {
		id := *o.TimeWindowID
		cpy.TimeWindowID = &id
	}
	return &cpy
}

var _ Repository = (*InMemoryRepository)(nil)
