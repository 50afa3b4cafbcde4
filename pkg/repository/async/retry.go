package async

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy bounds a retry loop's backoff schedule: exponential growth
// capped at MaxBackoff, and a cumulative ceiling after which the loop
// gives up and surfaces the last failure. There is no off-the-shelf
// scheduled-retry library in the dependency pack, so this is a small
// hand-rolled time.Timer loop — the same shape as the teacher's own
// inline retry loops in pkg/store/content/s3 (writeContentWithRetry,
// uploadPartWithRetry), generalized into a reusable policy type instead
// of being copy-pasted at every call site.
type RetryPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// MaxCumulative bounds the total time spent retrying; once exceeded,
	// the next failure is surfaced without further retries. Zero means
	// unbounded (limited only by the caller's context).
	MaxCumulative time.Duration
}

// DefaultRetryPolicy matches the 1000ms cumulative cap named in SPEC_FULL.md
// §4.11 for the retry listener.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		Multiplier:     2.0,
		MaxCumulative:  1000 * time.Millisecond,
	}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

// IsRetryable classifies op's failure as transient, and thus worth
// rescheduling via Retry. Callers supply this per op kind (e.g. S3's
// smithy API error classification in pkg/repository/blob/s3store).
type IsRetryable func(err error) bool

// Retry runs op, rescheduling it after the policy's backoff while
// classify(err) reports the failure as retryable and the cumulative
// elapsed time stays under MaxCumulative. It surfaces the first
// non-retryable failure, or the last failure once the cumulative budget
// is exhausted.
func Retry(ctx context.Context, policy RetryPolicy, classify IsRetryable, op func(ctx context.Context) error) error {
	start := time.Now()
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		if classify != nil && !classify(lastErr) {
			return lastErr
		}

		wait := policy.backoff(attempt)
		if policy.MaxCumulative > 0 && time.Since(start)+wait > policy.MaxCumulative {
			return lastErr
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
