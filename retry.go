package contextgraph

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines bounded retry behavior for transport failures.
// Retries are opt-in; the default client issues a single attempt so a
// logging failure never blocks the host beyond the configured timeout.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"` // Total attempts including the first
	BaseDelay   time.Duration `json:"base_delay"`   // Delay before the second attempt
	MaxDelay    time.Duration `json:"max_delay"`    // Upper bound on any delay
	Multiplier  float64       `json:"multiplier"`   // Backoff multiplier
	Jitter      bool          `json:"jitter"`       // Add random jitter
}

// DefaultRetryPolicy provides conservative settings for WithRetry.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   100 * time.Millisecond,
	MaxDelay:    2 * time.Second,
	Multiplier:  2.0,
	Jitter:      true,
}

// execute runs fn with retry semantics. fn reports whether its failure is
// retryable; non-retryable failures return immediately.
func (p *RetryPolicy) execute(ctx context.Context, fn func() (retryable bool, err error)) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		retryable, err := fn()
		if err == nil {
			return nil
		}
		if !retryable {
			return err
		}
		lastErr = err

		if attempt < attempts {
			select {
			case <-time.After(p.delay(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// delay determines the backoff delay for the given attempt.
func (p *RetryPolicy) delay(attempt int) time.Duration {
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	delay := time.Duration(float64(p.BaseDelay) * math.Pow(multiplier, float64(attempt-1)))

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.Jitter {
		delay += time.Duration(rand.Float64() * float64(delay) * 0.1) // 10% jitter
	}
	return delay
}
