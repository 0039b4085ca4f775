package visualcrossing

import (
	"errors"
	"sync"
	"time"
)

// ErrNoAPIKey is returned when every key in the pool is exhausted.
var ErrNoAPIKey = errors.New("no visual crossing api key available")

// KeyPool rotates API keys. A key is marked exhausted when the provider
// rejects it for quota; exhausted keys are skipped until the UTC day
// changes and the provider quota rolls over.
type KeyPool struct {
	mu        sync.Mutex
	keys      []string
	exhausted []bool
	current   int
	now       func() time.Time
	day       time.Time
}

// KeyPoolOption configures a KeyPool.
type KeyPoolOption func(*KeyPool)

// WithClock sets the clock used to detect the daily quota rollover.
func WithClock(now func() time.Time) KeyPoolOption {
	return func(p *KeyPool) { p.now = now }
}

// NewKeyPool creates a pool over keys in order.
func NewKeyPool(keys []string, opts ...KeyPoolOption) *KeyPool {
	cp := make([]string, len(keys))
	copy(cp, keys)
	p := &KeyPool{
		keys:      cp,
		exhausted: make([]bool, len(cp)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.day = quotaDay(p.now())
	return p
}

func quotaDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// rollover clears exhausted keys once per UTC day. Callers hold p.mu.
func (p *KeyPool) rollover() {
	if day := quotaDay(p.now()); day.After(p.day) {
		p.day = day
		p.reset()
	}
}

// Current returns the key in use, moving past exhausted keys.
func (p *KeyPool) Current() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollover()

	for i := 0; i < len(p.keys); i++ {
		idx := (p.current + i) % len(p.keys)
		if !p.exhausted[idx] {
			p.current = idx
			return p.keys[idx], nil
		}
	}
	return "", ErrNoAPIKey
}

// MarkExhausted flags key and advances to the next one.
func (p *KeyPool) MarkExhausted(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, k := range p.keys {
		if k == key {
			p.exhausted[i] = true
			if i == p.current && len(p.keys) > 0 {
				p.current = (i + 1) % len(p.keys)
			}
		}
	}
}

// Available returns the number of keys not exhausted.
func (p *KeyPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollover()

	n := 0
	for _, e := range p.exhausted {
		if !e {
			n++
		}
	}
	return n
}

func (p *KeyPool) reset() {
	for i := range p.exhausted {
		p.exhausted[i] = false
	}
	p.current = 0
}
