// Package backoff computes reconnect delays.
package backoff

import "time"

const (
	// Base is the delay before the first retry.
	Base = time.Second
	// Max caps every delay.
	Max = 30 * time.Second
)

// maxShift is the smallest exponent at which Base<<n already exceeds Max.
// Shifting further could overflow, so attempts are clamped to it.
const maxShift = 5

// Delay returns Base * 2^attempt capped at Max. Negative attempts count as 0.
// There is no jitter: the same attempt always yields the same delay.
func Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxShift {
		attempt = maxShift
	}
	d := Base << uint(attempt)
	if d > Max {
		return Max
	}
	return d
}
