package errs

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig configures the retry delay curve.
type BackoffConfig struct {
	BaseDelay    time.Duration // delay before the first retry
	MaxDelay     time.Duration // cap on the computed delay
	JitterFactor float64       // random spread, 0.25 = ±25%
}

// DefaultBackoffConfig returns the delays used by the task retry path.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay:    2 * time.Second,
		MaxDelay:     5 * time.Minute,
		JitterFactor: 0.25,
	}
}

// Delay returns the exponential backoff delay for the given attempt,
// counting from 1. Attempt n waits base * 2^(n-1), capped and jittered.
func (c BackoffConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := c.BaseDelay
	if base <= 0 {
		base = 2 * time.Second
	}
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	if c.JitterFactor > 0 {
		spread := delay * c.JitterFactor
		delay += (rand.Float64()*2 - 1) * spread
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
