// Package retry runs an operation under a per-attempt deadline with linear backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"contract-backend/internal/shared/metrics"
	"contract-backend/internal/shared/telemetry"
)

// Decision tells the executor what to do after a failed attempt.
type Decision int

const (
	Retry Decision = iota
	Abort
)

func (d Decision) String() string {
	if d == Abort {
		return "abort"
	}
	return "retry"
}

// Policy configures Do. The zero value runs a single attempt with no deadline.
type Policy struct {
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	Classify   func(error) Decision
}

// Backoff returns the wait before the attempt following attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return time.Duration(attempt) * p.BaseDelay
}

func (p Policy) classify(err error) Decision {
	if p.Classify != nil {
		return p.Classify(err)
	}
	return DefaultClassify(err)
}

// TimeoutError is recorded when an attempt does not finish before the policy timeout.
type TimeoutError struct {
	Label   string
	Attempt int
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: attempt %d timed out after %s", e.Label, e.Attempt, e.After)
}

type permanent interface {
	Permanent() bool
}

// DefaultClassify aborts on errors that declare themselves permanent and on
// cancellation of the caller's context. Everything else, including timeouts, is retried.
func DefaultClassify(err error) Decision {
	var p permanent
	if errors.As(err, &p) && p.Permanent() {
		return Abort
	}
	if errors.Is(err, context.Canceled) {
		return Abort
	}
	return Retry
}

type result[T any] struct {
	val T
	err error
}

// Do calls op until it succeeds, the classifier aborts, ctx ends, or
// MaxRetries+1 attempts have failed. The returned error wraps the last
// attempt's error.
func Do[T any](ctx context.Context, label string, policy Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := policy.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		started := time.Now()
		val, err := runAttempt(ctx, label, attempt, policy.Timeout, op)
		if err == nil {
			metrics.IncAttempt(label, "ok")
			if attempt > 1 {
				telemetry.Info("retry.succeeded", map[string]any{
					"label":    label,
					"attempts": attempt,
				})
			}
			return val, nil
		}
		lastErr = err

		var timeout *TimeoutError
		if errors.As(err, &timeout) {
			metrics.IncTimeout(label)
		}

		decision := policy.classify(err)
		if ctx.Err() != nil {
			decision = Abort
		}
		outcome := decision.String()
		if decision == Retry && attempt == maxAttempts {
			outcome = "exhausted"
		}
		metrics.IncAttempt(label, outcome)
		telemetry.Warn("retry.attempt_failed", map[string]any{
			"label":        label,
			"attempt":      attempt,
			"max_attempts": maxAttempts,
			"decision":     outcome,
			"duration_ms":  time.Since(started).Milliseconds(),
			"error":        err.Error(),
		})

		if decision == Abort || attempt == maxAttempts {
			return zero, fmt.Errorf("%s failed after %d attempt(s): %w", label, attempt, err)
		}

		if delay := policy.Backoff(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("%s failed after %d attempt(s): %w", label, attempt, errors.Join(lastErr, ctx.Err()))
			case <-timer.C:
			}
		}
	}
	return zero, fmt.Errorf("%s failed after %d attempt(s): %w", label, maxAttempts, lastErr)
}

// runAttempt races op against the attempt deadline. A timed out op keeps
// running in the background with a cancelled context; its result is dropped.
func runAttempt[T any](ctx context.Context, label string, attempt int, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	var zero T
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		val, err := op(attemptCtx)
		done <- result[T]{val: val, err: err}
	}()

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case res := <-done:
		return res.val, res.err
	case <-timerC:
		return zero, &TimeoutError{Label: label, Attempt: attempt, After: timeout}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
