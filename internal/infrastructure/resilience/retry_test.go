package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsEventually(t *testing.T) {
	policy := Retry{MaxAttempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsBudget(t *testing.T) {
	policy := Retry{MaxAttempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	sentinel := errors.New("still broken")
	err := policy.Do(context.Background(), func() error {
		calls++
		return sentinel
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestRetryStopsOnPermanent(t *testing.T) {
	policy := Retry{MaxAttempts: 5, BaseDelay: time.Millisecond}

	calls := 0
	fatal := errors.New("unsupported operation")
	err := policy.Do(context.Background(), func() error {
		calls++
		return NoRetry(fatal)
	})

	require.Error(t, err)
	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, calls)
}

func TestRetryObservesCancellation(t *testing.T) {
	policy := Retry{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := policy.Do(ctx, func() error {
		calls++
		return errors.New("transient")
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, calls, 2)
}

func TestRetryDelayGrowth(t *testing.T) {
	policy := Retry{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, policy.delay(1))
	assert.Equal(t, 200*time.Millisecond, policy.delay(2))
	assert.Equal(t, 300*time.Millisecond, policy.delay(3))
	assert.Equal(t, 300*time.Millisecond, policy.delay(4))
}
