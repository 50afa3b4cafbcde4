package blob

import (
	"context"
	"io"
	"time"
)

// Metrics is the subset of metrics.BlobStoreMetrics this package depends
// on, kept local so blob never imports pkg/metrics.
type Metrics interface {
	ObserveOperation(operation string, duration time.Duration, err error)
	RecordBytes(operation string, bytes int64)
}

// WithMetrics wraps inner so every operation reports its duration, error
// status, and byte count through m. repository.New wraps every backend
// with it; s3store's own Config.Metrics is left unset there, so S3
// operations are not counted twice.
func WithMetrics(inner Store, m Metrics) Store {
	if m == nil {
		return inner
	}
	return &instrumented{inner: inner, m: m}
}

type instrumented struct {
	inner Store
	m     Metrics
}

func (s *instrumented) ReadBlob(ctx context.Context, name string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := s.inner.ReadBlob(ctx, name)
	s.m.ObserveOperation("ReadBlob", time.Since(start), err)
	return rc, err
}

func (s *instrumented) WriteBlob(ctx context.Context, name string, r io.Reader, length int64, failIfExists bool) error {
	start := time.Now()
	err := s.inner.WriteBlob(ctx, name, r, length, failIfExists)
	s.m.ObserveOperation("WriteBlob", time.Since(start), err)
	if err == nil {
		s.m.RecordBytes("WriteBlob", length)
	}
	return err
}

func (s *instrumented) WriteBlobAtomic(ctx context.Context, name string, r io.Reader, length int64, failIfExists bool) error {
	start := time.Now()
	err := s.inner.WriteBlobAtomic(ctx, name, r, length, failIfExists)
	s.m.ObserveOperation("WriteBlobAtomic", time.Since(start), err)
	if err == nil {
		s.m.RecordBytes("WriteBlobAtomic", length)
	}
	return err
}

func (s *instrumented) ListByPrefix(ctx context.Context, prefix string) (map[string]Metadata, error) {
	start := time.Now()
	entries, err := s.inner.ListByPrefix(ctx, prefix)
	s.m.ObserveOperation("ListByPrefix", time.Since(start), err)
	return entries, err
}

func (s *instrumented) DeleteBlobIgnoringMissing(ctx context.Context, name string) error {
	start := time.Now()
	err := s.inner.DeleteBlobIgnoringMissing(ctx, name)
	s.m.ObserveOperation("DeleteBlobIgnoringMissing", time.Since(start), err)
	return err
}

func (s *instrumented) DeleteBlobsIgnoringMissing(ctx context.Context, names []string) error {
	start := time.Now()
	err := s.inner.DeleteBlobsIgnoringMissing(ctx, names)
	s.m.ObserveOperation("DeleteBlobsIgnoringMissing", time.Since(start), err)
	return err
}

func (s *instrumented) Exists(ctx context.Context, name string) (bool, error) {
	start := time.Now()
	exists, err := s.inner.Exists(ctx, name)
	s.m.ObserveOperation("Exists", time.Since(start), err)
	return exists, err
}

func (s *instrumented) Close() error {
	return s.inner.Close()
}
