package resilience

import "time"

// Config is the retry and circuit breaker policy shared by the outbound
// adapters (ollama, qdrant, nats). Zero fields take the defaults below.
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

const (
	defaultRetryMaxAttempts     = 3
	defaultRetryInitialBackoff  = 100 * time.Millisecond
	defaultRetryMaxBackoff      = 400 * time.Millisecond
	defaultRetryMultiplier      = 2.0
	defaultBreakerMinRequests   = 10
	defaultBreakerFailureRatio  = 0.5
	defaultBreakerOpenTimeout   = 30 * time.Second
	defaultBreakerHalfOpenCalls = 2
)

func positiveOr[T int | uint32 | float64 | time.Duration](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}

func (c Config) normalize() Config {
	c.RetryMaxAttempts = positiveOr(c.RetryMaxAttempts, defaultRetryMaxAttempts)
	c.RetryInitialBackoff = positiveOr(c.RetryInitialBackoff, defaultRetryInitialBackoff)
	c.RetryMaxBackoff = max(positiveOr(c.RetryMaxBackoff, defaultRetryMaxBackoff), c.RetryInitialBackoff)
	if c.RetryMultiplier < 1 {
		c.RetryMultiplier = defaultRetryMultiplier
	}

	c.BreakerMinRequests = positiveOr(c.BreakerMinRequests, defaultBreakerMinRequests)
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		c.BreakerFailureRatio = defaultBreakerFailureRatio
	}
	c.BreakerOpenTimeout = positiveOr(c.BreakerOpenTimeout, defaultBreakerOpenTimeout)
	c.BreakerHalfOpenMaxCalls = positiveOr(c.BreakerHalfOpenMaxCalls, defaultBreakerHalfOpenCalls)
	return c
}

// backoff is the wait before retry number attempt (1-based): the initial
// backoff grown by the multiplier and capped at RetryMaxBackoff.
func (c Config) backoff(attempt int) time.Duration {
	wait := c.RetryInitialBackoff
	for i := 1; i < attempt && wait < c.RetryMaxBackoff; i++ {
		wait = time.Duration(float64(wait) * c.RetryMultiplier)
	}
	return min(wait, c.RetryMaxBackoff)
}
