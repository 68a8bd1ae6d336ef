// Package retry implements the bounded exponential-backoff loop used around
// ObjectStore and MetadataStore calls.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	config "github.com/tigerroll/rorefcat/pkg/batch/core/config"
	"github.com/tigerroll/rorefcat/pkg/batch/support/util/exception"
)

// RetryPolicy decides whether an error is retried and how long to wait.
type RetryPolicy interface {
	// ShouldRetry reports whether err may be retried.
	ShouldRetry(err error) bool
	// GetBackoffInterval returns the wait after the given failed attempt (1-based).
	GetBackoffInterval(attempt int) time.Duration
	// GetMaxAttempts returns the total number of attempts, including the first.
	GetMaxAttempts() int
}

// ExponentialPolicy retries transient storage errors with exponential backoff.
type ExponentialPolicy struct {
	maxAttempts         int
	initial             time.Duration
	max                 time.Duration
	factor              float64
	retryableExceptions []string
}

var _ RetryPolicy = (*ExponentialPolicy)(nil)

// NewExponentialPolicy creates a policy from a RetryConfig. Errors of kind
// StorageTransientError are always retryable; retryableExceptions adds
// further registered error type names.
func NewExponentialPolicy(cfg config.RetryConfig, retryableExceptions ...string) *ExponentialPolicy {
	p := &ExponentialPolicy{
		maxAttempts:         cfg.MaxAttempts,
		initial:             time.Duration(cfg.InitialInterval) * time.Millisecond,
		max:                 time.Duration(cfg.MaxInterval) * time.Millisecond,
		factor:              cfg.Factor,
		retryableExceptions: retryableExceptions,
	}
	if p.maxAttempts < 1 {
		p.maxAttempts = 1
	}
	if p.factor < 1 {
		p.factor = 1
	}
	return p
}

// GetMaxAttempts returns the maximum number of attempts.
func (p *ExponentialPolicy) GetMaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry reports whether err is transient.
func (p *ExponentialPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, exception.ErrStorageTransient) {
		return true
	}
	var be *exception.BatchError
	if errors.As(err, &be) && be.Kind == nil && be.IsRetryable() {
		return true
	}
	for _, typeName := range p.retryableExceptions {
		if exception.IsErrorOfType(err, typeName) {
			return true
		}
	}
	return false
}

// GetBackoffInterval returns initial * factor^(attempt-1), capped at the maximum interval.
func (p *ExponentialPolicy) GetBackoffInterval(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(p.initial) * math.Pow(p.factor, float64(attempt-1)))
	if p.max > 0 && (d > p.max || d < 0) {
		d = p.max
	}
	return d
}

// Do runs op until it succeeds, returns a non-retryable error, or the policy's
// attempts are exhausted. onRetry, when set, is called before every wait.
// Exhausted transient errors are escalated to StorageFatalError.
func Do(ctx context.Context, module string, policy RetryPolicy, op func(ctx context.Context) error, onRetry func(attempt int, err error)) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if !policy.ShouldRetry(err) {
			return err
		}
		if attempt >= policy.GetMaxAttempts() {
			return exception.EscalateStorageError(module, attempt, err)
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		timer := time.NewTimer(policy.GetBackoffInterval(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
