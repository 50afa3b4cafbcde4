package async

import "sync"

// StepListener is a single-slot latch: exactly one of Complete or Fail
// may be called, and WhenComplete delivers the outcome to every
// registered callback (immediately if the step already completed). It
// lets sequential async steps compose without nesting callbacks inside
// callbacks, the way the teacher's retry/backoff loops stay flat by
// using a for-loop instead of recursive continuations.
type StepListener[T any] struct {
	mu       sync.Mutex
	done     bool
	value    T
	err      error
	waiters  []func(T, error)
}

// NewStepListener returns an unresolved StepListener.
func NewStepListener[T any]() *StepListener[T] {
	return &StepListener[T]{}
}

// Complete resolves the listener successfully with value. A second call
// to Complete or Fail is a no-op.
func (s *StepListener[T]) Complete(value T) {
	s.resolve(value, nil)
}

// Fail resolves the listener with err. A second call to Complete or Fail
// is a no-op.
func (s *StepListener[T]) Fail(err error) {
	var zero T
	s.resolve(zero, err)
}

func (s *StepListener[T]) resolve(value T, err error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.value = value
	s.err = err
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	for _, w := range waiters {
		w(value, err)
	}
}

// WhenComplete registers onDone to be invoked with the listener's
// eventual outcome, immediately if it already resolved.
func (s *StepListener[T]) WhenComplete(onDone func(T, error)) {
	s.mu.Lock()
	if s.done {
		value, err := s.value, s.err
		s.mu.Unlock()
		onDone(value, err)
		return
	}
	s.waiters = append(s.waiters, onDone)
	s.mu.Unlock()
}
