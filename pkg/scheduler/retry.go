package scheduler

import (
	"math/rand"
	"time"
)

// RetryPolicy maps an attempt number to the delay before that attempt
type RetryPolicy interface {
	Delay(attempt int, base time.Duration) time.Duration
}

// ExponentialBackoff doubles the base delay per attempt, adds jitter,
// and caps the result at MaxDelay
type ExponentialBackoff struct {
	// DefaultBase applies when the task carries no retry delay
	DefaultBase time.Duration
	MaxDelay    time.Duration
	// JitterFraction widens each delay by up to this share of itself,
	// de-synchronising retries of tasks that failed together
	JitterFraction float64
}

// DefaultRetryPolicy is exponential backoff from 10s up to 10 minutes
// with 20% jitter
func DefaultRetryPolicy() RetryPolicy {
	return &ExponentialBackoff{
		DefaultBase:    10 * time.Second,
		MaxDelay:       10 * time.Minute,
		JitterFraction: 0.2,
	}
}

func (p *ExponentialBackoff) Delay(attempt int, base time.Duration) time.Duration {
	if base <= 0 {
		base = p.DefaultBase
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if p.JitterFraction > 0 {
		jitter := time.Duration(rand.Float64() * p.JitterFraction * float64(delay))
		delay += jitter
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// FixedDelay retries after the same delay every time
type FixedDelay struct {
	Interval time.Duration
}

func (p *FixedDelay) Delay(attempt int, base time.Duration) time.Duration {
	if p.Interval > 0 {
		return p.Interval
	}
	if base > 0 {
		return base
	}
	return 10 * time.Second
}
