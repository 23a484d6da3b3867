package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// CriticalOptions are the aggressive defaults for operations whose failure
// has a fallback (conversation deletion).
var CriticalOptions = Options{
	MaxAttempts:   3,
	BaseDelay:     250 * time.Millisecond,
	MaxDelay:      2 * time.Second,
	BackoffFactor: 2,
}

// Critical retries an operation and, once every retry failed, hands the last
// error to a fallback.
type Critical struct {
	policy *Policy
	logger *zap.Logger
}

// NewCritical creates a Critical runner; unset options come from CriticalOptions.
func NewCritical(opts Options, logger *zap.Logger) *Critical {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = CriticalOptions.MaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = CriticalOptions.BaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = CriticalOptions.MaxDelay
	}
	if opts.BackoffFactor < 1 {
		opts.BackoffFactor = CriticalOptions.BackoffFactor
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Critical{policy: New(opts, logger), logger: logger}
}

// Policy exposes the underlying retry policy.
func (c *Critical) Policy() *Policy {
	return c.policy
}

// Run executes op. If the retry budget is exhausted and fallback is non-nil,
// fallback receives the final error and its result becomes the result of Run;
// fellBack reports that this happened. Non-retryable failures and caller
// cancellation are returned as is.
func (c *Critical) Run(ctx context.Context, op func(ctx context.Context) error, fallback func(cause error) error) (fellBack bool, err error) {
	err = c.policy.Do(ctx, op)
	if err == nil {
		return false, nil
	}
	var exhausted *ExhaustedError
	if fallback == nil || !errors.As(err, &exhausted) || ctx.Err() != nil {
		return false, err
	}
	c.logger.Warn("critical operation exhausted retries, using fallback",
		zap.Int("attempts", exhausted.Attempts),
		zap.Error(exhausted.Err),
	)
	return true, fallback(err)
}
