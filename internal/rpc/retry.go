package rpc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/wjz5788/leverageguard-attestor-sub002/pkg/config"
)

// jitterFraction spreads backoff by ±25% so concurrent callers do not retry in lockstep.
const jitterFraction = 0.25

// transientMarkers are substrings of error messages from gateways and providers
// that indicate a temporary condition.
var transientMarkers = []string{
	"timeout",
	"deadline exceeded",
	"502",
	"503",
	"504",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"connection pool",
	"no available connection",
	"eof",
}

// retryableError checks if an error should trigger a retry.
// Range errors are never retried here: the caller shrinks the range instead.
func retryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	if ok, _ := IsTooManyResultsError(err); ok {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if IsRateLimitError(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}

// calculateBackoff returns the wait before the given attempt. The first attempt never waits.
// Backoff returns the jittered wait before the given 1-based attempt under cfg.
// Callers that retry outside a single RPC call, such as resubscription, use it.
func Backoff(cfg *config.RetryConfig, attempt int) time.Duration {
	if cfg == nil {
		return 0
	}
	return calculateBackoff(attempt, cfg)
}

func calculateBackoff(attempt int, cfg *config.RetryConfig) time.Duration {
	if attempt <= 1 {
		return 0
	}

	backoff := float64(cfg.InitialBackoff.Duration) * math.Pow(cfg.BackoffMultiplier, float64(attempt-2))
	backoff = math.Min(backoff, float64(cfg.MaxBackoff.Duration))

	spread := backoff * jitterFraction
	backoff += rand.Float64()*2*spread - spread //nolint:gosec

	return time.Duration(math.Max(backoff, 0))
}

// retryWithBackoff runs fn until it succeeds, returns a non-retryable error,
// exhausts cfg.MaxAttempts or ctx is done. A nil cfg runs fn exactly once.
func retryWithBackoff(ctx context.Context, cfg *config.RetryConfig, operation string, fn func() error) error {
	if cfg == nil {
		return fn()
	}

	var lastErr error
	started := time.Now()

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if wait := calculateBackoff(attempt, cfg); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("context cancelled during backoff (attempt %d/%d): %w",
					attempt-1, cfg.MaxAttempts, errors.Join(ctx.Err(), lastErr))
			}
			RPCRetryInc(operation)
		}

		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled before attempt %d: %w", attempt, err)
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryableError(err) {
			return fmt.Errorf("non-retryable error on attempt %d/%d: %w", attempt, cfg.MaxAttempts, err)
		}
	}

	return fmt.Errorf("all %d attempts failed after %v (last error: %w)",
		cfg.MaxAttempts, time.Since(started), lastErr)
}
