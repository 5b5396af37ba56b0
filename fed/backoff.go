package fed

import (
	"math/rand"
	"time"
)

// Default reconnection backoff.
const (
	InitialBackoff    = 100 * time.Millisecond
	MaxBackoff        = 5 * time.Second
	BackoffMultiplier = 2.0
	JitterFactor      = 0.25
)

// BackoffConfig allows customizing the delay between connection attempts.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// DefaultBackoffConfig returns the default backoff parameters.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    InitialBackoff,
		Max:        MaxBackoff,
		Multiplier: BackoffMultiplier,
		Jitter:     JitterFactor,
	}
}

// backoff calculates exponential backoff delays with jitter.
// It is used by a single connect loop and is not safe for concurrent use.
type backoff struct {
	current    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
	rng        *rand.Rand
}

func newBackoff(cfg BackoffConfig) *backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = InitialBackoff
	}
	if cfg.Max <= 0 {
		cfg.Max = MaxBackoff
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = BackoffMultiplier
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	return &backoff{
		current:    cfg.Initial,
		max:        cfg.Max,
		multiplier: cfg.Multiplier,
		jitter:     cfg.Jitter,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// next returns the next delay (with jitter) and advances the backoff.
func (b *backoff) next() time.Duration {
	delay := b.current
	if b.jitter > 0 {
		delay += time.Duration(float64(delay) * b.jitter * b.rng.Float64())
	}
	grown := time.Duration(float64(b.current) * b.multiplier)
	if grown > b.max {
		grown = b.max
	}
	b.current = grown
	return delay
}
