// Package ratelimit wraps an io.Reader with a token-bucket throttle sized
// in bytes per second, tracking cumulative blocked time for operators.
package ratelimit

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Reader wraps an io.Reader, blocking the calling goroutine before each
// Read until the token bucket has enough capacity. A Reader constructed
// with a non-positive bytes-per-second value is a null limiter: it passes
// reads through untouched and never blocks.
type Reader struct {
	inner       io.Reader
	limiter     *rate.Limiter
	blockedNs   *atomic.Int64
	ctx         context.Context
	maxReadSize int
}

// New wraps r with a token bucket allowing bytesPerSec bytes per second and
// burst capacity equal to bytesPerSec (one second's worth). bytesPerSec <= 0
// disables throttling, returning a pass-through reader. blockedNs, if
// non-nil, accumulates the total nanoseconds this reader has spent blocked
// waiting for tokens; share the same counter across every reader pulling
// from one direction's limit (upload vs. restore) to get an aggregate
// across concurrent transfers. ctx is polled on every blocking wait so
// cancellation (including cooperative snapshot abort) unblocks promptly;
// pass context.Background() if the caller has no deadline of its own.
func New(ctx context.Context, r io.Reader, bytesPerSec int64, blockedNs *atomic.Int64) *Reader {
	if bytesPerSec <= 0 {
		return &Reader{inner: r, ctx: ctx}
	}

	burst := int(bytesPerSec)
	if burst <= 0 {
		burst = 1
	}

	return &Reader{
		inner:       r,
		limiter:     rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		blockedNs:   blockedNs,
		ctx:         ctx,
		maxReadSize: burst,
	}
}

// Read reads into p, first blocking until the token bucket can afford the
// request (clamped to the bucket's burst size, so a single Read never asks
// for more tokens than the bucket can ever hold).
func (r *Reader) Read(p []byte) (int, error) {
	if r.limiter == nil {
		return r.inner.Read(p)
	}

	want := len(p)
	if want > r.maxReadSize {
		want = r.maxReadSize
	}
	if want == 0 {
		want = 1
	}

	start := time.Now()
	if err := r.limiter.WaitN(r.ctx, want); err != nil {
		return 0, err
	}
	if r.blockedNs != nil {
		if blocked := time.Since(start); blocked > 0 {
			r.blockedNs.Add(int64(blocked))
		}
	}

	return r.inner.Read(p[:want])
}
