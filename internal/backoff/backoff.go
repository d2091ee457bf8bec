// Package backoff computes retry delays for repeatedly failing cycles.
package backoff

import (
	"math/rand"
	"time"
)

// Calculator produces exponential backoff with uniform jitter. The zero
// jitter and multiplier values are normalized by Delay.
type Calculator struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// Delay returns the backoff duration for the given consecutive failure count,
// starting at 0.
func (c Calculator) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Prevent overflow by limiting attempt
	if attempt > 30 {
		attempt = 30
	}

	multiplier := c.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	backoff := time.Duration(float64(c.Initial) * pow(multiplier, attempt))
	if backoff < 0 || (c.Max > 0 && backoff > c.Max) {
		backoff = c.Max
	}

	jitter := clampJitter(c.Jitter)
	if jitter > 0 {
		jitterAmount := time.Duration(float64(backoff) * jitter * rand.Float64())
		if c.Max > 0 && backoff+jitterAmount > c.Max {
			backoff = c.Max
		} else {
			backoff += jitterAmount
		}
	}
	return backoff
}

// clampJitter ensures jitter is within valid bounds [0, 1].
func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

// pow calculates base^exponent using integer exponentiation.
func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
