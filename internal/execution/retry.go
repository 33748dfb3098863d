package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"orderGuard/internal/metrics"
	"orderGuard/internal/ports"
)

// SleepFunc suspends the calling task for d or until ctx is done. Injectable
// so tests run without real delays.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ContextSleep is the production SleepFunc.
func ContextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retrier wraps venue calls in a bounded exponential-backoff budget. Only
// transient failures are retried; rejections surface immediately. Exhausting
// the budget surfaces ErrRetryBudgetExhausted wrapping the last failure.
type Retrier struct {
	logger      ports.Logger
	maxAttempts int
	baseDelay   time.Duration
	sleep       SleepFunc
}

// RetrierConfig holds configuration for a Retrier.
type RetrierConfig struct {
	Logger      ports.Logger
	MaxAttempts int           // capped to [1, 5]; default 3
	BaseDelay   time.Duration // default 500ms
	Sleep       SleepFunc     // default ContextSleep
}

// NewRetrier creates a retrier.
func NewRetrier(cfg RetrierConfig) (*Retrier, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for retrier")
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	if attempts > 5 {
		attempts = 5
	}
	base := cfg.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = ContextSleep
	}
	return &Retrier{logger: cfg.Logger, maxAttempts: attempts, baseDelay: base, sleep: sleep}, nil
}

// Do invokes fn until it succeeds, fails non-transiently, or the attempt
// budget runs out.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := &backoff.Backoff{
		Min:    r.baseDelay,
		Max:    r.baseDelay * 8,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !ports.IsTransient(lastErr) {
			return lastErr
		}
		if attempt == r.maxAttempts {
			break
		}

		delay := b.Duration()
		metrics.IncRetry(op)
		r.logger.Warn(ctx, op+": transient failure, retrying", map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   lastErr.Error(),
		})
		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return fmt.Errorf("%s: %w: %w", op, ports.ErrContextCanceled, sleepErr)
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w: %w", op, r.maxAttempts, ports.ErrRetryBudgetExhausted, lastErr)
}
