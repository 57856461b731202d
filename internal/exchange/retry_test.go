package exchange

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetrier(attempts int) *Retrier {
	return &Retrier{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestRetrier_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := fastRetrier(3).Do(context.Background(), func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrier_RetriesRetryableErrors(t *testing.T) {
	calls := 0
	err := fastRetrier(3).Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("%w: burst", ErrRateLimitExceeded)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrier_NonRetryableFailsFast(t *testing.T) {
	calls := 0
	err := fastRetrier(3).Do(context.Background(), func() error {
		calls++
		return fmt.Errorf("%w: bad key", ErrAuthenticationFailed)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, 1, calls)
}

func TestRetrier_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastRetrier(3).Do(context.Background(), func() error {
		calls++
		return fmt.Errorf("%w: network down", ErrConnectionFailed)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.Equal(t, 3, calls)
}

func TestRetrier_ContextCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	slow := &Retrier{
		MaxAttempts: 5,
		BaseDelay:   time.Hour,
		MaxDelay:    time.Hour,
		Multiplier:  1.0,
	}

	calls := 0
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- slow.Do(ctx, func() error {
			if calls == 0 {
				close(started)
			}
			calls++
			return fmt.Errorf("%w: flap", ErrConnectionFailed)
		})
	}()

	<-started
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(3 * time.Second):
		t.Fatal("retrier did not stop after context cancellation")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"rate limit", ErrRateLimitExceeded, true},
		{"wrapped connection failure", fmt.Errorf("list positions: %w", ErrConnectionFailed), true},
		{"authentication failure", ErrAuthenticationFailed, false},
		{"wrapped stop rejection", fmt.Errorf("%w: too tight", ErrStopRejected), false},
		{"plain error", fmt.Errorf("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
