package retry

import (
	"math"
	"math/rand"
	"time"
)

// Backoff defaults.
const (
	DefaultBaseDelay  = 500 * time.Millisecond
	DefaultMaxDelay   = 30 * time.Second
	DefaultMultiplier = 2.0
	minDelay          = 100 * time.Millisecond
	jitterFraction    = 0.1
)

// Backoff returns the delay before attempt n (0-based):
// clamp(base * multiplier^n, 100ms, max), with +/-10% jitter.
func Backoff(n int, base, max time.Duration, multiplier float64) time.Duration {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	if multiplier <= 1 {
		multiplier = DefaultMultiplier
	}

	d := time.Duration(float64(base) * math.Pow(multiplier, float64(n)))
	if d < minDelay {
		d = minDelay
	}
	if d > max {
		d = max
	}

	jitter := time.Duration((rand.Float64()*2 - 1) * jitterFraction * float64(d))
	d += jitter
	if d > max {
		d = max
	}
	if d < minDelay {
		d = minDelay
	}
	return d
}
