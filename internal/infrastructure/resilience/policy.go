package resilience

import "time"

// Config drives both the retry loop and the per-operation circuit breakers.
type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

// maxRetryAfter caps how long an upstream Retry-After hint may hold a turn.
const maxRetryAfter = 5 * time.Second

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     400 * time.Millisecond,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

// normalize replaces zero or out-of-range values with defaults. BreakerEnabled
// is taken as given.
func (c Config) normalize() Config {
	def := DefaultConfig()
	c.RetryMaxAttempts = positiveOr(c.RetryMaxAttempts, def.RetryMaxAttempts)
	c.RetryInitialBackoff = positiveOr(c.RetryInitialBackoff, def.RetryInitialBackoff)
	c.RetryMaxBackoff = max(positiveOr(c.RetryMaxBackoff, def.RetryMaxBackoff), c.RetryInitialBackoff)
	if c.RetryMultiplier < 1 {
		c.RetryMultiplier = def.RetryMultiplier
	}

	c.BreakerMinRequests = positiveOr(c.BreakerMinRequests, def.BreakerMinRequests)
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		c.BreakerFailureRatio = def.BreakerFailureRatio
	}
	c.BreakerOpenTimeout = positiveOr(c.BreakerOpenTimeout, def.BreakerOpenTimeout)
	c.BreakerHalfOpenMaxCalls = positiveOr(c.BreakerHalfOpenMaxCalls, def.BreakerHalfOpenMaxCalls)
	return c
}

func positiveOr[T int | uint32 | time.Duration](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}

// backoff yields exponentially growing waits capped at max.
type backoff struct {
	next       time.Duration
	max        time.Duration
	multiplier float64
}

func (c Config) backoff() *backoff {
	return &backoff{next: c.RetryInitialBackoff, max: c.RetryMaxBackoff, multiplier: c.RetryMultiplier}
}

func (b *backoff) step() time.Duration {
	wait := min(b.next, b.max)
	b.next = min(time.Duration(float64(b.next)*b.multiplier), b.max)
	return wait
}
