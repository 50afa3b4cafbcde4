package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGroupedAllSucceed(t *testing.T) {
	var calls atomic.Int32
	tasks := make([]func(context.Context) error, 5)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error {
			calls.Add(1)
			return nil
		}
	}
	if err := Grouped(context.Background(), 2, tasks); err != nil {
		t.Fatalf("Grouped: %v", err)
	}
	if calls.Load() != 5 {
		t.Errorf("expected 5 calls, got %d", calls.Load())
	}
}

func TestGroupedFirstFailureSurfaces(t *testing.T) {
	wantErr := errors.New("boom")
	tasks := []func(context.Context) error{
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return wantErr },
		func(ctx context.Context) error { return nil },
	}
	err := Grouped(context.Background(), 0, tasks)
	if !errors.Is(err, wantErr) {
		t.Errorf("got %v, want %v", err, wantErr)
	}
}

func TestGroupedResultsCollectsValues(t *testing.T) {
	tasks := []func(context.Context) (int, error){
		func(ctx context.Context) (int, error) { return 1, nil },
		func(ctx context.Context) (int, error) { return 2, nil },
		func(ctx context.Context) (int, error) { return 3, nil },
	}
	results, err := GroupedResults(context.Background(), 0, tasks)
	if err != nil {
		t.Fatalf("GroupedResults: %v", err)
	}
	if results[0] != 1 || results[1] != 2 || results[2] != 3 {
		t.Errorf("got %v", results)
	}
}

func TestStepListenerLateRegistration(t *testing.T) {
	s := NewStepListener[string]()
	s.Complete("done")

	var got string
	var gotErr error
	s.WhenComplete(func(v string, err error) {
		got, gotErr = v, err
	})
	if got != "done" || gotErr != nil {
		t.Errorf("got %q, %v", got, gotErr)
	}
}

func TestStepListenerEarlyRegistration(t *testing.T) {
	s := NewStepListener[int]()
	done := make(chan struct{})
	var got int
	s.WhenComplete(func(v int, err error) {
		got = v
		close(done)
	})
	s.Complete(42)
	<-done
	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}
}

func TestStepListenerSecondResolveIgnored(t *testing.T) {
	s := NewStepListener[int]()
	s.Complete(1)
	s.Complete(2)
	s.Fail(errors.New("ignored"))

	var got int
	var gotErr error
	s.WhenComplete(func(v int, err error) { got, gotErr = v, err })
	if got != 1 || gotErr != nil {
		t.Errorf("got %d, %v, want 1, nil", got, gotErr)
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	policy := RetryPolicy{InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Multiplier: 2, MaxCumulative: time.Second}

	err := Retry(context.Background(), policy, func(error) bool { return true }, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryNonRetryableSurfacesImmediately(t *testing.T) {
	wantErr := errors.New("permanent")
	attempts := 0
	policy := DefaultRetryPolicy()

	err := Retry(context.Background(), policy, func(error) bool { return false }, func(ctx context.Context) error {
		attempts++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("got %v, want %v", err, wantErr)
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt for a non-retryable failure, got %d", attempts)
	}
}

func TestRetryGivesUpAfterCumulativeBudget(t *testing.T) {
	attempts := 0
	policy := RetryPolicy{InitialBackoff: 5 * time.Millisecond, MaxBackoff: 5 * time.Millisecond, Multiplier: 1, MaxCumulative: 12 * time.Millisecond}

	err := Retry(context.Background(), policy, func(error) bool { return true }, func(ctx context.Context) error {
		attempts++
		return errors.New("always fails")
	})
	if err == nil {
		t.Fatal("expected eventual failure")
	}
	if attempts < 1 || attempts > 4 {
		t.Errorf("expected a small bounded number of attempts, got %d", attempts)
	}
}
