package location

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/golang/geo/r2"
)

// InMemoryRepository is a Repository for tests and local runs.
type InMemoryRepository struct {
	mu        sync.RWMutex
	locations map[int64]*Location
	aliases   map[string]*Alias
	wards     []*Ward
	nextID    int64
}

// NewInMemoryRepository creates an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		locations: make(map[int64]*Location),
		aliases:   make(map[string]*Alias),
	}
}

func (r *InMemoryRepository) Get(_ context.Context, id int64) (*Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	loc, ok := r.locations[id]
	if !ok {
		return nil, ErrLocationNotFound
	}
	cpy := *loc
	return &cpy, nil
}

func (r *InMemoryRepository) Nearest(_ context.Context, lon, lat, threshold float64) (*Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	center := r2.Point{X: lon, Y: lat}
	var best *Location
	bestDist := 0.0
	for _, loc := range r.locations {
		if !within(center, loc.Point(), threshold) {
			continue
		}
		d := distance(center, loc.Point())
		if best == nil || d < bestDist || (d == bestDist && loc.ID < best.ID) {
			best, bestDist = loc, d
		}
	}
	if best == nil {
		return nil, ErrLocationNotFound
	}
	cpy := *best
	return &cpy, nil
}

func (r *InMemoryRepository) Create(_ context.Context, loc *Location) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	loc.ID = r.nextID
	if loc.CreatedAt.IsZero() {
		loc.CreatedAt = time.Now().UTC()
	}
	cpy := *loc
	r.locations[loc.ID] = &cpy
	return nil
}

func (r *InMemoryRepository) List(_ context.Context) ([]*Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Location, 0, len(r.locations))
	for _, loc := range r.locations {
		cpy := *loc
		out = append(out, &cpy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *InMemoryRepository) GetAlias(_ context.Context, code string) (*Alias, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.aliases[code]
	if !ok {
		return nil, ErrAliasNotFound
	}
	cpy := *a
	return &cpy, nil
}

func (r *InMemoryRepository) ListAliases(_ context.Context, codes []string) ([]*Alias, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Alias
	for _, code := range codes {
		if a, ok := r.aliases[code]; ok {
			cpy := *a
			out = append(out, &cpy)
		}
	}
	return out, nil
}

func (r *InMemoryRepository) CreateAlias(_ context.Context, alias *Alias) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	alias.ID = r.nextID
	if alias.CreatedAt.IsZero() {
		alias.CreatedAt = time.Now().UTC()
	}
	cpy := *alias
	r.aliases[alias.Code] = &cpy
	return nil
}

func (r *InMemoryRepository) ListWards(_ context.Context) ([]*Ward, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Ward, 0, len(r.wards))
	for _, w := range r.wards {
		cpy := *w
		out = append(out, &cpy)
	}
	return out, nil
}

// AddWard seeds a ward.
func (r *InMemoryRepository) AddWard(w Ward) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	w.ID = r.nextID
	r.wards = append(r.wards, &w)
}

var _ Repository = (*InMemoryRepository)(nil)
