// Package retry computes backoff delays and retry eligibility for failed uploads.
package retry

import (
	"math"
	"time"
)

// Policy holds the retry budget for failed uploads
type Policy struct {
	BaseDelay  time.Duration
	MaxRetries int
}

// Backoff returns BaseDelay * 2^attempt for the policy
func (p Policy) Backoff(attempt int) time.Duration {
	return Backoff(p.BaseDelay, attempt)
}

// ShouldRetry reports whether an item with retryCount failures has budget left
func (p Policy) ShouldRetry(retryCount int) bool {
	return retryCount < p.MaxRetries
}

// Backoff returns base * 2^attempt. Negative attempts count as zero and the
// result saturates at the largest representable duration.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 62 || base > time.Duration(math.MaxInt64>>uint(attempt)) {
		return time.Duration(math.MaxInt64)
	}
	return base << uint(attempt)
}

// BackoffMs is Backoff for millisecond inputs
func BackoffMs(baseMs int64, attempt int) int64 {
	if baseMs <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 62 || baseMs > math.MaxInt64>>uint(attempt) {
		return math.MaxInt64
	}
	return baseMs << uint(attempt)
}
