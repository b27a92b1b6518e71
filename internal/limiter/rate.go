package limiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateConfig configures per-key token buckets.
type RateConfig struct {
	RPS   float64
	Burst int
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// RatePool hands out one token bucket per key (viewer id or peer address).
type RatePool struct {
	mu  sync.Mutex
	m   map[string]*bucket
	cfg RateConfig
	now func() time.Time
}

// NewRatePool returns a pool; non-positive settings fall back to 5 rps, burst 10.
func NewRatePool(cfg RateConfig) *RatePool {
	if cfg.RPS <= 0 {
		cfg.RPS = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	return &RatePool{m: make(map[string]*bucket), cfg: cfg, now: time.Now}
}

func (p *RatePool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.m[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(p.cfg.RPS), p.cfg.Burst)}
		p.m[key] = b
	}
	b.seen = p.now()
	return b.lim
}

// Allow takes one token from key's bucket.
func (p *RatePool) Allow(key string) bool {
	return p.get(key).Allow()
}

// Prune forgets buckets idle for longer than idle and returns how many were dropped.
func (p *RatePool) Prune(idle time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	cut := p.now().Add(-idle)
	n := 0
	for k, b := range p.m {
		if b.seen.Before(cut) {
			delete(p.m, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (p *RatePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}
