package s3store

import (
	"errors"
	"testing"
	"time"

	"github.com/aws/smithy-go"
)

func TestCalculateBackoff(t *testing.T) {
	s := &Store{retry: retryConfig{
		initialBackoff:    100 * time.Millisecond,
		maxBackoff:        2 * time.Second,
		backoffMultiplier: 2.0,
	}}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{10, 2 * time.Second}, // clamps to maxBackoff
	}
	for _, c := range cases {
		got := s.calculateBackoff(c.attempt)
		if got != c.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

type fakeAPIError struct{ code string }

func (e fakeAPIError) Error() string     { return "fake: " + e.code }
func (e fakeAPIError) ErrorCode() string { return e.code }
func (e fakeAPIError) ErrorMessage() string { return "" }
func (e fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

func TestIsRetryableError(t *testing.T) {
	if isRetryableError(nil) {
		t.Error("nil should not be retryable")
	}
	if !isRetryableError(fakeAPIError{code: "SlowDown"}) {
		t.Error("SlowDown should be retryable")
	}
	if isRetryableError(fakeAPIError{code: "AccessDenied"}) {
		t.Error("AccessDenied should not be retryable")
	}
	if !isRetryableError(errors.New("connection reset by peer")) {
		t.Error("unclassified network errors should default to retryable")
	}
}

func TestKeyPrefix(t *testing.T) {
	s := &Store{keyPrefix: "snapvault/"}
	if got := s.key("index-1"); got != "snapvault/index-1" {
		t.Errorf("key() = %q, want %q", got, "snapvault/index-1")
	}

	s2 := &Store{}
	if got := s2.key("index-1"); got != "index-1" {
		t.Errorf("key() with no prefix = %q, want %q", got, "index-1")
	}
}
