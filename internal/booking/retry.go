package booking

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy retries an operation while it fails with a TransactionConflict.
// Attempts counts retries after the first try.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Log       *zap.Logger
}

// Run calls fn until it succeeds, fails with a non-retryable error, or the
// attempts are spent. The last error is returned unchanged.
func (p RetryPolicy) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= p.Attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !IsRetryable(err) || attempt == p.Attempts {
			return err
		}

		wait := p.backoff(attempt)
		if p.Log != nil {
			p.Log.Debug("retrying after transaction conflict",
				zap.Int("attempt", attempt+1),
				zap.Duration("wait", wait),
				zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return Conflict("wait for retry", ctx.Err())
		case <-time.After(wait):
		}
	}
	return err
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 10 * time.Millisecond
	}
	wait := time.Duration(1<<min(attempt, 16)) * base
	if p.MaxDelay > 0 && wait > p.MaxDelay {
		wait = p.MaxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(wait)/5 + 1))
	return wait + jitter
}
