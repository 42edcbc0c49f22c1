package retry

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		name    string
		base    time.Duration
		attempt int
		want    time.Duration
	}{
		{name: "first attempt", base: 5 * time.Second, attempt: 0, want: 5 * time.Second},
		{name: "second attempt", base: 5 * time.Second, attempt: 1, want: 10 * time.Second},
		{name: "fourth attempt", base: 5 * time.Second, attempt: 3, want: 40 * time.Second},
		{name: "negative attempt", base: 5 * time.Second, attempt: -2, want: 5 * time.Second},
		{name: "zero base", base: 0, attempt: 4, want: 0},
		{name: "saturates", base: 5 * time.Second, attempt: 40, want: time.Duration(math.MaxInt64)},
		{name: "huge attempt", base: time.Nanosecond, attempt: 1000, want: time.Duration(math.MaxInt64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Backoff(tt.base, tt.attempt))
		})
	}
}

func TestBackoffMs(t *testing.T) {
	assert.Equal(t, int64(5000), BackoffMs(5000, 0))
	assert.Equal(t, int64(10000), BackoffMs(5000, 1))
	assert.Equal(t, int64(40000), BackoffMs(5000, 3))
	assert.Equal(t, int64(5000), BackoffMs(5000, -1))
	assert.Equal(t, int64(math.MaxInt64), BackoffMs(5000, 63))
	assert.Equal(t, int64(math.MaxInt64), BackoffMs(math.MaxInt64/2, 2))
}

func TestPolicy(t *testing.T) {
	p := Policy{BaseDelay: 5 * time.Second, MaxRetries: 3}

	assert.Equal(t, 20*time.Second, p.Backoff(2))
	assert.True(t, p.ShouldRetry(0))
	assert.True(t, p.ShouldRetry(2))
	assert.False(t, p.ShouldRetry(3))
	assert.False(t, p.ShouldRetry(4))

	assert.False(t, Policy{MaxRetries: 0}.ShouldRetry(0), "zero budget never retries")
}
