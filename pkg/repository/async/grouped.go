// Package async implements the repository engine's completion-composition
// primitives (C11): a grouped join that fans out N independent operations
// and fires once all complete, a single-slot latch for sequential
// composition without nested callbacks, and a bounded-retry scheduler for
// transient failures. Grounded on the teacher's semaphore-channel +
// sync.WaitGroup fan-out idiom (pkg/store/content/s3's
// uploadPartsInParallel), generalized here with golang.org/x/sync/errgroup
// for the grouped-completion case.
package async

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Grouped runs n independent tasks with bounded concurrency, returning
// the first error encountered (subsequent ones are suppressed) once every
// task has either completed or the group has decided to stop accepting
// new ones. This is the Go-idiomatic replacement for a GroupedListener
// with an explicit completion count: errgroup.Group already implements
// "collect n completions, surface the first failure" without a
// hand-rolled counter.
//
// maxConcurrency <= 0 means unbounded.
func Grouped(ctx context.Context, maxConcurrency int, tasks []func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	if maxConcurrency > 0 {
		g.SetLimit(maxConcurrency)
	}
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			return task(gctx)
		})
	}
	return g.Wait()
}

// GroupedResults runs n independent tasks with bounded concurrency and
// collects every result alongside the first error, for callers that need
// per-task outcomes (e.g. the snapshot creator's per-file upload fan-out,
// which must know which files uploaded before the first failure aborted
// the rest).
func GroupedResults[T any](ctx context.Context, maxConcurrency int, tasks []func(ctx context.Context) (T, error)) ([]T, error) {
	results := make([]T, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	if maxConcurrency > 0 {
		g.SetLimit(maxConcurrency)
	}
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			r, err := task(gctx)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	err := g.Wait()
	return results, err
}
