// Package retry runs remote operations under bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/matheus3301/canteiro/internal/remote"
	"go.uber.org/zap"
)

// Options configures a Policy. Zero fields take the defaults below.
type Options struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	AttemptTimeout time.Duration
	// RetryCondition decides whether a failed attempt may be retried.
	RetryCondition func(error) bool
}

// Defaults for ordinary remote calls.
var DefaultOptions = Options{
	MaxAttempts:   3,
	BaseDelay:     500 * time.Millisecond,
	MaxDelay:      8 * time.Second,
	BackoffFactor: 2,
}

// ExhaustedError is returned once every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Policy retries an operation while its failures are retryable.
type Policy struct {
	opts   Options
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a policy, filling unset options from DefaultOptions.
func New(opts Options, logger *zap.Logger) *Policy {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultOptions.MaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultOptions.BaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultOptions.MaxDelay
	}
	if opts.BackoffFactor < 1 {
		opts.BackoffFactor = DefaultOptions.BackoffFactor
	}
	if opts.RetryCondition == nil {
		opts.RetryCondition = remote.Retryable
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{opts: opts, logger: logger, sleep: sleepContext}
}

// Options returns the effective options.
func (p *Policy) Options() Options {
	return p.opts
}

// Delay returns the wait before retry number attempt (1-based):
// min(MaxDelay, BaseDelay * BackoffFactor^(attempt-1)).
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.opts.BaseDelay) * math.Pow(p.opts.BackoffFactor, float64(attempt-1))
	if d > float64(p.opts.MaxDelay) {
		return p.opts.MaxDelay
	}
	return time.Duration(d)
}

// Do runs op until it succeeds, fails with a non-retryable error, the attempt
// budget is spent, or ctx is done.
func (p *Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Run(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Run is Do for operations that return a value.
func Run[T any](ctx context.Context, p *Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, err
		}

		v, err := runAttempt(ctx, p.opts.AttemptTimeout, op)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !p.opts.RetryCondition(err) {
			return zero, err
		}
		if attempt == p.opts.MaxAttempts {
			break
		}

		delay := p.Delay(attempt)
		// A server that says it is unavailable gets a longer pause than a flaky link.
		if remote.KindOf(err) == remote.KindServerUnavailable {
			delay = min(2*delay, p.opts.MaxDelay)
		}
		p.logger.Warn("retrying remote operation",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.opts.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := p.sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
	}
	return zero, &ExhaustedError{Attempts: p.opts.MaxAttempts, Err: lastErr}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	v, err := op(actx)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		// The attempt timed out, not the caller.
		err = &remote.Error{Kind: remote.KindTransientTransport, Op: "attempt", Message: "attempt timed out", Err: err}
	}
	return v, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
