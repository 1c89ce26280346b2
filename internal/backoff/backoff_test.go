package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoffPolicy_ComputeNextInterval(t *testing.T) {
	t.Run("BasicExponentialBackoff", func(t *testing.T) {
		policy := &ExponentialBackoffPolicy{
			InitialInterval: 100 * time.Millisecond,
			BackoffFactor:   2.0,
			MaxInterval:     5 * time.Second,
			MaxRetries:      5,
		}

		testCases := []struct {
			retryCount       int
			expectedInterval time.Duration
			expectError      bool
		}{
			{0, 100 * time.Millisecond, false},
			{1, 200 * time.Millisecond, false},
			{2, 400 * time.Millisecond, false},
			{3, 800 * time.Millisecond, false},
			{4, 1600 * time.Millisecond, false},
			{5, 0, true}, // Max retries reached
		}

		for _, tc := range testCases {
			interval, err := policy.ComputeNextInterval(tc.retryCount, 0, nil)
			if tc.expectError {
				assert.Equal(t, ErrRetriesExhausted, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.expectedInterval, interval)
			}
		}
	})

	t.Run("MaxIntervalCapping", func(t *testing.T) {
		policy := &ExponentialBackoffPolicy{
			InitialInterval: 1 * time.Second,
			BackoffFactor:   2.0,
			MaxInterval:     3 * time.Second,
			MaxRetries:      10,
		}

		testCases := []struct {
			retryCount       int
			expectedInterval time.Duration
		}{
			{0, 1 * time.Second},
			{1, 2 * time.Second},
			{2, 3 * time.Second}, // Capped at MaxInterval
			{3, 3 * time.Second},
		}

		for _, tc := range testCases {
			interval, err := policy.ComputeNextInterval(tc.retryCount, 0, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.expectedInterval, interval)
		}
	})

	t.Run("UnlimitedRetries", func(t *testing.T) {
		policy := &ExponentialBackoffPolicy{
			InitialInterval: 100 * time.Millisecond,
			BackoffFactor:   2.0,
			MaxInterval:     1 * time.Second,
			MaxRetries:      0, // Unlimited
		}

		for retryCount := 0; retryCount < 50; retryCount++ {
			_, err := policy.ComputeNextInterval(retryCount, 0, nil)
			require.NoError(t, err)
		}
	})
}

func TestConstantBackoffPolicy_ComputeNextInterval(t *testing.T) {
	policy := &ConstantBackoffPolicy{
		Interval:   250 * time.Millisecond,
		MaxRetries: 2,
	}

	interval, err := policy.ComputeNextInterval(0, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, interval)

	interval, err = policy.ComputeNextInterval(1, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, interval)

	_, err = policy.ComputeNextInterval(2, 0, nil)
	assert.Equal(t, ErrRetriesExhausted, err)
}

func TestRetrier(t *testing.T) {
	policy := &ExponentialBackoffPolicy{
		InitialInterval: 10 * time.Millisecond,
		BackoffFactor:   2.0,
		MaxInterval:     time.Second,
		MaxRetries:      3,
	}

	retrier := NewRetrier(policy)

	interval, err := retrier.Next(nil)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, interval)

	interval, err = retrier.Next(nil)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, interval)

	interval, err = retrier.Next(nil)
	require.NoError(t, err)
	assert.Equal(t, 40*time.Millisecond, interval)

	_, err = retrier.Next(nil)
	assert.Equal(t, ErrRetriesExhausted, err)

	retrier.Reset()
	interval, err = retrier.Next(nil)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, interval)
}

func TestRetry(t *testing.T) {
	t.Run("SuccessfulRetry", func(t *testing.T) {
		attempts := 0
		op := func(_ context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("temporary error")
			}
			return nil
		}

		policy := NewConstantBackoffPolicy(time.Millisecond)
		err := Retry(context.Background(), op, policy, nil)

		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("NonRetriableError", func(t *testing.T) {
		permanentErr := errors.New("permanent error")
		attempts := 0
		op := func(_ context.Context) error {
			attempts++
			return permanentErr
		}

		isRetriable := func(err error) bool {
			return !errors.Is(err, permanentErr)
		}

		policy := NewConstantBackoffPolicy(time.Millisecond)
		err := Retry(context.Background(), op, policy, isRetriable)

		assert.Equal(t, permanentErr, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("RetriesExhausted", func(t *testing.T) {
		transient := errors.New("still failing")
		attempts := 0
		op := func(_ context.Context) error {
			attempts++
			return transient
		}

		policy := &ConstantBackoffPolicy{Interval: time.Millisecond, MaxRetries: 2}
		err := Retry(context.Background(), op, policy, nil)

		// The original operation error comes back, not ErrRetriesExhausted.
		assert.Equal(t, transient, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("ContextCancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		attempts := 0
		op := func(_ context.Context) error {
			attempts++
			cancel()
			return errors.New("fail after cancel")
		}

		policy := NewConstantBackoffPolicy(time.Hour)
		err := Retry(ctx, op, policy, nil)

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	})
}
