package exchange

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Retrier re-runs an operation that failed with a retryable exchange error,
// backing off exponentially between attempts. Only idempotent operations may
// go through a Retrier.
type Retrier struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// NewRetrier returns the standard adapter retry policy: three attempts with
// 500ms base delay doubling per attempt.
func NewRetrier() *Retrier {
	return &Retrier{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
	}
}

// Do runs op until it succeeds, fails with a non-retryable error, exhausts
// the attempt budget or the context ends. The last error is returned as-is
// so sentinel matching with errors.Is keeps working.
func (r *Retrier) Do(ctx context.Context, op func() error) error {
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt == attempts-1 {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.backoff(attempt)):
		}
	}
	return lastErr
}

func (r *Retrier) backoff(attempt int) time.Duration {
	d := float64(r.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= r.Multiplier
	}
	delay := time.Duration(d)
	if delay > r.MaxDelay {
		delay = r.MaxDelay
	}
	// Jitter spreads concurrent monitors so a shared failure does not make
	// them all hammer the API in lockstep.
	return delay + time.Duration(rand.Int63n(int64(delay)/5+1))
}

// IsRetryable reports whether an error is worth another attempt: a
// standardized exchange error flagged retryable, such as a rate limit or a
// connection failure.
func IsRetryable(err error) bool {
	var ee *ExchangeError
	if errors.As(err, &ee) {
		return ee.IsRetryable
	}
	return false
}
