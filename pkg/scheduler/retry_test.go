package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff_Doubling(t *testing.T) {
	p := &ExponentialBackoff{DefaultBase: 10 * time.Second, MaxDelay: 10 * time.Minute}

	tests := []struct {
		attempt int
		base    time.Duration
		want    time.Duration
	}{
		{1, 5 * time.Second, 5 * time.Second},
		{2, 5 * time.Second, 10 * time.Second},
		{3, 5 * time.Second, 20 * time.Second},
		{4, 5 * time.Second, 40 * time.Second},
		// No base: the policy default applies
		{1, 0, 10 * time.Second},
		{2, 0, 20 * time.Second},
		// Attempt below 1 is treated as the first
		{0, 5 * time.Second, 5 * time.Second},
		{-3, 5 * time.Second, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt, tt.base), "attempt=%d base=%s", tt.attempt, tt.base)
	}
}

func TestExponentialBackoff_MaxClamp(t *testing.T) {
	p := &ExponentialBackoff{DefaultBase: 10 * time.Second, MaxDelay: time.Minute}

	assert.Equal(t, time.Minute, p.Delay(10, 10*time.Second))
	assert.Equal(t, time.Minute, p.Delay(100, 10*time.Second))
}

func TestExponentialBackoff_JitterBounds(t *testing.T) {
	p := &ExponentialBackoff{DefaultBase: 10 * time.Second, MaxDelay: 10 * time.Minute, JitterFraction: 0.2}

	base := 10 * time.Second
	for i := 0; i < 50; i++ {
		d := p.Delay(2, base)
		assert.GreaterOrEqual(t, d, 20*time.Second)
		assert.LessOrEqual(t, d, 24*time.Second)
	}
}

func TestExponentialBackoff_JitterNeverExceedsMax(t *testing.T) {
	p := &ExponentialBackoff{DefaultBase: 10 * time.Second, MaxDelay: 40 * time.Second, JitterFraction: 0.5}

	for i := 0; i < 50; i++ {
		assert.LessOrEqual(t, p.Delay(5, 10*time.Second), 40*time.Second)
	}
}

func TestFixedDelay(t *testing.T) {
	p := &FixedDelay{Interval: 15 * time.Second}
	assert.Equal(t, 15*time.Second, p.Delay(1, 5*time.Second))
	assert.Equal(t, 15*time.Second, p.Delay(9, 0))

	// Without an interval the task's base wins, then the default
	empty := &FixedDelay{}
	assert.Equal(t, 5*time.Second, empty.Delay(3, 5*time.Second))
	assert.Equal(t, 10*time.Second, empty.Delay(3, 0))
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	d := p.Delay(1, 0)
	assert.GreaterOrEqual(t, d, 10*time.Second)
	assert.LessOrEqual(t, d, 12*time.Second)
}
