package failsafe

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/giantswarm/mcp-gateway/internal/gwerr"
	"github.com/giantswarm/mcp-gateway/pkg/logging"
)

// RetryConfig configures the exponential-backoff retry wrapper.
type RetryConfig struct {
	Enabled         bool
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	Multiplier      float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled:        true,
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
	}
}

// Retrier wraps a closure in bounded exponential backoff. Only errors
// classified retryable by gwerr.IsRetryable are retried; everything else
// returns immediately. On exhaustion the last error is returned — the
// retry wrapper silently swallows the first N-1 errors of a burst and
// surfaces only the final one.
type Retrier struct {
	name string
	cfg  RetryConfig
}

func NewRetrier(name string, cfg RetryConfig) *Retrier {
	return &Retrier{name: name, cfg: cfg}
}

// Do runs fn, retrying on retryable errors per the configured policy. If
// retry is disabled, fn is invoked exactly once.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	if !r.cfg.Enabled {
		return fn(ctx)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialBackoff
	b.MaxInterval = r.cfg.MaxBackoff
	b.Multiplier = r.cfg.Multiplier

	attempt := 0
	op := func() (any, error) {
		attempt++
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !gwerr.IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		logging.Warn("failsafe.retry", "%s: attempt %d/%d failed: %v", r.name, attempt, r.cfg.MaxAttempts, err)
		return nil, err
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.cfg.MaxAttempts)),
	)
}
