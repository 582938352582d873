// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package resilience

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// BackoffConfig parameterizes an exponential backoff.
type BackoffConfig struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the fraction (0..1) of each delay that is randomized away.
	Jitter float64
}

// DefaultBackoff is the reconnect policy used by the event channel.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Base:       500 * time.Millisecond,
		Max:        30 * time.Second,
		Multiplier: 2,
		Jitter:     0.2,
	}
}

// Backoff computes bounded exponential delays with downward jitter. The
// random source is injectable so tests get reproducible sequences.
type Backoff struct {
	cfg BackoffConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBackoff creates a Backoff. A nil rng uses a randomly seeded source.
func NewBackoff(cfg BackoffConfig, rng *rand.Rand) *Backoff {
	if cfg.Base <= 0 {
		cfg.Base = 500 * time.Millisecond
	}
	if cfg.Max < cfg.Base {
		cfg.Max = cfg.Base
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2
	}
	cfg.Jitter = math.Min(math.Max(cfg.Jitter, 0), 1)
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Backoff{cfg: cfg, rng: rng}
}

// Delay returns the wait before retry number attempt (0-based). The result
// lies in [(1-Jitter)*d, d] where d = min(Max, Base*Multiplier^attempt).
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(b.cfg.Base) * math.Pow(b.cfg.Multiplier, float64(attempt))
	if d > float64(b.cfg.Max) || math.IsInf(d, 0) {
		d = float64(b.cfg.Max)
	}
	if b.cfg.Jitter > 0 {
		b.mu.Lock()
		r := b.rng.Float64()
		b.mu.Unlock()
		d -= d * b.cfg.Jitter * r
	}
	return time.Duration(d)
}

// Config returns the effective parameters.
func (b *Backoff) Config() BackoffConfig { return b.cfg }

// ExponentialDelay is the jitter-free base*2^n capped at max.
func ExponentialDelay(base, max time.Duration, n int) time.Duration {
	if n < 0 {
		n = 0
	}
	if n > 62 {
		return max
	}
	d := base << uint(n)
	if d <= 0 || d > max {
		return max
	}
	return d
}
