package camera

import (
	"math"
	"time"
)

// BackoffConfig is the reconnect policy for a failing stream.
type BackoffConfig struct {
	Base           time.Duration
	Multiplier     float64
	Cap            time.Duration
	MaxConsecutive int // failures before the camera is surfaced as backoff
}

// Delay returns the wait before reconnect attempt n (1-based):
// Base * Multiplier^(n-1), capped at Cap.
func (c BackoffConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := c.Base
	if base <= 0 {
		base = time.Second
	}
	mult := c.Multiplier
	if mult < 1 {
		mult = 2
	}

	d := float64(base) * math.Pow(mult, float64(attempt-1))
	if c.Cap > 0 && d > float64(c.Cap) {
		return c.Cap
	}
	if d >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
