// Package retry implements the two-layer policy used for every unreliable
// external call: bounded retries with exponential backoff against one target,
// then ordered fallback across interchangeable targets.
package retry

import (
	"DeepDistill/backend/go/internal/config"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Policy configures retries against a single target.
type Policy struct {
	MaxAttempts int           // Total attempts per target, including the first one.
	BaseDelay   time.Duration // Delay before the second attempt.
	MaxDelay    time.Duration // Upper bound for a single delay; zero means unbounded.
	Multiplier  float64       // Backoff factor applied per attempt.

	// Retryable reports whether err is worth another attempt against the same
	// target. Nil retries everything except permanent and cancellation errors.
	Retryable func(err error) bool

	// OnRetry is called before sleeping between attempts.
	OnRetry func(attempt int, err error, delay time.Duration)

	// Sleep waits for d or until ctx is done. Tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// FromConfig builds a Policy from its YAML representation.
func FromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		Multiplier:  cfg.Multiplier,
	}
}

// Delay returns the wait before attempt+1, where attempt counts from 1.
// With BaseDelay=2s and Multiplier=2 the sequence is 2s, 4s, 8s.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// shouldRetry only allows another attempt while ctx is still live. A per-call
// deadline that fired while ctx is live counts as a transient failure.
func (p Policy) shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil || IsPermanent(err) || errors.Is(err, context.Canceled) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Sleep waits for d, returning early with ctx.Err() if ctx is done first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempt
// budget runs out, or ctx is done. It returns the number of attempts made.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, int, error) {
	var zero T
	max := p.attempts()
	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return zero, attempt - 1, lastErr
		}
		v, err := fn(ctx)
		if err == nil {
			return v, attempt, nil
		}
		lastErr = err
		if attempt == max || !p.shouldRetry(ctx, err) {
			return zero, attempt, err
		}
		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		if err := p.sleep(ctx, delay); err != nil {
			return zero, attempt, lastErr
		}
	}
	return zero, max, lastErr
}

// Candidate is one target in a fallback chain.
type Candidate[T any] struct {
	Name string
	Call func(ctx context.Context) (T, error)
}

// Failure records why a candidate was abandoned.
type Failure struct {
	Name     string
	Attempts int
	Err      error
}

// ExhaustedError is returned when every candidate in a chain has failed.
type ExhaustedError struct {
	Failures []Failure
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s (%d attempts): %v", f.Name, f.Attempts, f.Err))
	}
	return fmt.Sprintf("all %d candidates exhausted: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes every candidate's last error to errors.Is and errors.As.
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Fallback tries candidates in order, retrying each with p, and returns the
// first success together with the winning candidate's name. If ctx ends the
// chain early its error is returned as-is so callers can tell a timeout from
// genuine exhaustion.
func Fallback[T any](ctx context.Context, p Policy, candidates []Candidate[T]) (T, string, error) {
	var zero T
	if len(candidates) == 0 {
		return zero, "", &ExhaustedError{}
	}
	failures := make([]Failure, 0, len(candidates))
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		v, attempts, err := Do(ctx, p, c.Call)
		if err == nil {
			return v, c.Name, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, "", fmt.Errorf("%s: %w", c.Name, ctxErr)
		}
		failures = append(failures, Failure{Name: c.Name, Attempts: attempts, Err: err})
	}
	return zero, "", &ExhaustedError{Failures: failures}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying against the same target.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
