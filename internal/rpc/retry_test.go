package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/common"
	"github.com/wjz5788/leverageguard-attestor-sub002/pkg/config"
)

type mockNetError struct {
	msg     string
	timeout bool
}

func (e *mockNetError) Error() string   { return e.msg }
func (e *mockNetError) Timeout() bool   { return e.timeout }
func (e *mockNetError) Temporary() bool { return false }

func testRetryConfig(attempts int, initial, maxBackoff time.Duration) *config.RetryConfig {
	return &config.RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    common.NewDuration(initial),
		MaxBackoff:        common.NewDuration(maxBackoff),
		BackoffMultiplier: 2.0,
	}
}

func TestRetryableError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "nil error"},
		{name: "network timeout", err: &mockNetError{msg: "network timeout", timeout: true}, retryable: true},
		{name: "connection refused", err: syscall.ECONNREFUSED, retryable: true},
		{name: "connection reset", err: syscall.ECONNRESET, retryable: true},
		{name: "broken pipe", err: syscall.EPIPE, retryable: true},
		{name: "wrapped connection refused", err: fmt.Errorf("dial: %w", syscall.ECONNREFUSED), retryable: true},
		{name: "net.OpError", err: &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, retryable: true},
		{name: "context deadline exceeded", err: context.DeadlineExceeded, retryable: true},
		{name: "context canceled", err: context.Canceled},
		{name: "timeout string", err: errors.New("operation timeout"), retryable: true},
		{name: "rate limit 429", err: errors.New("HTTP 429"), retryable: true},
		{name: "too many requests", err: errors.New("too many requests"), retryable: true},
		{name: "compute units", err: errors.New("exceeded its compute units per second capacity"), retryable: true},
		{name: "502 bad gateway", err: errors.New("502 bad gateway"), retryable: true},
		{name: "503 service unavailable", err: errors.New("503 Service Unavailable"), retryable: true},
		{name: "504 gateway timeout", err: errors.New("504 Gateway Timeout"), retryable: true},
		{name: "connection pool exhausted", err: errors.New("connection pool exhausted"), retryable: true},
		{name: "unexpected EOF", err: errors.New("unexpected EOF"), retryable: true},
		{
			name: "too many results",
			err:  &mockDataError{data: "Try with this block range [0x1, 0x2].", msg: "query returned more than 10000 results"},
		},
		{name: "block range too large", err: errors.New("block range is too large")},
		{name: "invalid parameter", err: errors.New("invalid parameter")},
		{name: "unauthorized", err: errors.New("401 Unauthorized")},
		{name: "not found", err: errors.New("404 Not Found")},
		{name: "bad request", err: errors.New("400 Bad Request")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, retryableError(tt.err))
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	cfg := testRetryConfig(0, time.Second, 30*time.Second)

	tests := []struct {
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{attempt: 1, min: 0, max: 0},
		{attempt: 2, min: 750 * time.Millisecond, max: 1250 * time.Millisecond},
		{attempt: 3, min: 1500 * time.Millisecond, max: 2500 * time.Millisecond},
		{attempt: 4, min: 3 * time.Second, max: 5 * time.Second},
		{attempt: 5, min: 6 * time.Second, max: 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.attempt), func(t *testing.T) {
			for range 10 {
				backoff := calculateBackoff(tt.attempt, cfg)
				assert.GreaterOrEqual(t, backoff, tt.min)
				assert.LessOrEqual(t, backoff, tt.max)
			}
		})
	}
}

func TestCalculateBackoff_CappedAtMax(t *testing.T) {
	cfg := testRetryConfig(0, time.Second, 5*time.Second)

	assert.LessOrEqual(t, calculateBackoff(10, cfg), 6250*time.Millisecond)
}

func TestRetryWithBackoff(t *testing.T) {
	t.Run("success on first attempt", func(t *testing.T) {
		calls := 0
		err := retryWithBackoff(context.Background(), testRetryConfig(3, 10*time.Millisecond, 100*time.Millisecond), "op",
			func() error {
				calls++
				return nil
			})
		require.NoError(t, err)
		require.Equal(t, 1, calls)
	})

	t.Run("success after retries", func(t *testing.T) {
		calls := 0
		err := retryWithBackoff(context.Background(), testRetryConfig(5, 10*time.Millisecond, 100*time.Millisecond), "op",
			func() error {
				calls++
				if calls < 3 {
					return &mockNetError{msg: "temporary", timeout: true}
				}
				return nil
			})
		require.NoError(t, err)
		require.Equal(t, 3, calls)
	})

	t.Run("non-retryable error", func(t *testing.T) {
		calls := 0
		expected := errors.New("invalid parameter")
		err := retryWithBackoff(context.Background(), testRetryConfig(5, 10*time.Millisecond, 100*time.Millisecond), "op",
			func() error {
				calls++
				return expected
			})
		require.ErrorIs(t, err, expected)
		require.Contains(t, err.Error(), "non-retryable error")
		require.Equal(t, 1, calls)
	})

	t.Run("exhausted retries", func(t *testing.T) {
		calls := 0
		expected := &mockNetError{msg: "persistent", timeout: true}
		err := retryWithBackoff(context.Background(), testRetryConfig(3, 10*time.Millisecond, 100*time.Millisecond), "op",
			func() error {
				calls++
				return expected
			})
		require.ErrorIs(t, err, expected)
		require.Contains(t, err.Error(), "all 3 attempts failed")
		require.Equal(t, 3, calls)
	})

	t.Run("context cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		calls := 0
		err := retryWithBackoff(ctx, testRetryConfig(5, 10*time.Millisecond, 100*time.Millisecond), "op",
			func() error {
				calls++
				if calls == 2 {
					cancel()
				}
				return &mockNetError{msg: "temporary", timeout: true}
			})
		require.ErrorIs(t, err, context.Canceled)
		require.Contains(t, err.Error(), "context cancelled")
		require.Equal(t, 2, calls)
	})

	t.Run("context deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		calls := 0
		err := retryWithBackoff(ctx, testRetryConfig(10, 100*time.Millisecond, time.Second), "op",
			func() error {
				calls++
				return &mockNetError{msg: "temporary", timeout: true}
			})
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.Less(t, calls, 10)
	})

	t.Run("nil config runs once", func(t *testing.T) {
		calls := 0
		expected := errors.New("some error")
		err := retryWithBackoff(context.Background(), nil, "op", func() error {
			calls++
			return expected
		})
		require.ErrorIs(t, err, expected)
		require.Equal(t, 1, calls)
	})
}

func TestRetryWithBackoff_BackoffTiming(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing test in short mode")
	}

	calls := 0
	start := time.Now()
	err := retryWithBackoff(context.Background(), testRetryConfig(3, 100*time.Millisecond, 500*time.Millisecond), "op",
		func() error {
			calls++
			return &mockNetError{msg: "temporary", timeout: true}
		})

	require.Error(t, err)
	require.Equal(t, 3, calls)
	require.Greater(t, time.Since(start), 200*time.Millisecond)
}
