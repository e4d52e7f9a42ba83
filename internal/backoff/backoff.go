// Package backoff computes reconnect delay schedules.
//
// Delays grow exponentially from a base with a capped exponent, are clamped
// to a maximum, and carry additive jitter so that a fleet of clients does not
// reconnect in lockstep after a shared outage.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Default policy parameters.
const (
	DefaultBase        = 1 * time.Second
	DefaultMax         = 30 * time.Second
	DefaultCapExponent = 6
	DefaultJitterFrac  = 0.2
)

// Config holds backoff policy parameters.
type Config struct {
	Base        time.Duration // First delay (attempt 0)
	Max         time.Duration // Clamp for the deterministic part
	CapExponent int           // Exponent ceiling, bounds 2^n growth
	JitterFrac  float64       // Additive jitter as a fraction of the delay
}

// DefaultConfig returns the standard reconnect schedule (1s doubling to 30s,
// 20% jitter).
func DefaultConfig() Config {
	return Config{
		Base:        DefaultBase,
		Max:         DefaultMax,
		CapExponent: DefaultCapExponent,
		JitterFrac:  DefaultJitterFrac,
	}
}

// Policy produces delays for successive reconnect attempts.
type Policy struct {
	cfg Config
	rng *rand.Rand
}

// New creates a Policy using the shared random source. Zero config fields
// fall back to defaults.
func New(cfg Config) *Policy {
	return NewWithRand(cfg, nil)
}

// NewWithRand creates a Policy with an explicit random source. A nil rng
// uses the shared source; tests pass a seeded one for reproducible delays.
func NewWithRand(cfg Config, rng *rand.Rand) *Policy {
	if cfg.Base <= 0 {
		cfg.Base = DefaultBase
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultMax
	}
	if cfg.Max < cfg.Base {
		cfg.Max = cfg.Base
	}
	if cfg.CapExponent <= 0 {
		cfg.CapExponent = DefaultCapExponent
	}
	if cfg.JitterFrac < 0 {
		cfg.JitterFrac = 0
	}
	return &Policy{cfg: cfg, rng: rng}
}

// Delay returns the wait before reconnect attempt number attempt (0-based).
// The deterministic part is Base doubled min(attempt, CapExponent) times and
// clamped to Max; jitter in [0, delay*JitterFrac) is added on top.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	exp := attempt
	if exp > p.cfg.CapExponent {
		exp = p.cfg.CapExponent
	}

	delay := p.cfg.Base
	for i := 0; i < exp; i++ {
		delay *= 2
		if delay >= p.cfg.Max {
			delay = p.cfg.Max
			break
		}
	}

	if jitterMax := int64(float64(delay) * p.cfg.JitterFrac); jitterMax > 0 {
		delay += time.Duration(p.int64N(jitterMax))
	}
	return delay
}

func (p *Policy) int64N(n int64) int64 {
	if p.rng != nil {
		return p.rng.Int64N(n)
	}
	return rand.Int64N(n)
}
