// Package retry implements exponential backoff with jitter for transient
// External Store failures (spec.md §7: "Transient backend operations retry
// with exponential backoff (batched inserts, reverts)").
//
// Adapted from the teacher's internal/rpc/retry.go, which retried transient
// Ethereum JSON-RPC errors; generalized here to retry transient SQL errors
// from batch_insert_entities and revert_from_block.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/goran-ethernal/subgraphd/internal/metrics"
)

// Config controls the backoff schedule.
type Config struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultConfig mirrors the teacher's defaults (5000ms busy timeout scale).
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// retryableError checks if an error should trigger a retry: network errors,
// timeouts, and the SQLite-specific "database is locked" / "database is
// busy" conditions that show up under concurrent batch_insert_entities and
// revert_from_block operations (spec.md §5: "External Store session is
// shared ... used concurrently across distinct entity types").
func retryableError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, substr := range []string{
		"timeout",
		"deadline exceeded",
		"database is locked",
		"database is busy",
		"connection reset",
		"broken pipe",
		"too many requests",
		"rate limit",
		"service unavailable",
	} {
		if strings.Contains(errStr, substr) {
			return true
		}
	}

	return false
}

func calculateBackoff(attempt int, cfg Config) time.Duration {
	if attempt <= 1 {
		return 0
	}

	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffMultiplier, float64(attempt-2))
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}

	const jitterFraction = 0.25
	jitterRange := backoff * jitterFraction
	jitter := (rand.Float64() * 2 * jitterRange) - jitterRange
	backoff += jitter

	if backoff < 0 {
		backoff = 0
	}

	return time.Duration(backoff)
}

// Do executes fn with exponential backoff retry on transient errors. A
// non-retryable error fails immediately. operation labels the metric.
func Do(ctx context.Context, cfg Config, operation string, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig()
	}

	var lastErr error
	start := time.Now()

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry: context cancelled before attempt %d: %w", attempt, err)
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !retryableError(err) {
			return fmt.Errorf("retry: non-retryable error on attempt %d/%d: %w", attempt, cfg.MaxAttempts, err)
		}

		if attempt >= cfg.MaxAttempts {
			break
		}

		backoffDuration := calculateBackoff(attempt, cfg)
		if backoffDuration > 0 {
			select {
			case <-time.After(backoffDuration):
			case <-ctx.Done():
				return fmt.Errorf("retry: context cancelled during backoff (attempt %d/%d): %w",
					attempt, cfg.MaxAttempts, ctx.Err())
			}
		}

		metrics.StoreRetriesTotal.WithLabelValues(operation).Inc()
	}

	return fmt.Errorf("retry: all %d attempts for %q failed after %v (last error: %w)",
		cfg.MaxAttempts, operation, time.Since(start), lastErr)
}
