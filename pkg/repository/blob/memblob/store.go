// Package memblob implements an in-memory blob.Store fake for tests, the
// same role the teacher's memory-backed block store plays for its own
// test suite: a fast double that exercises the real Store contract
// (fail-if-exists, missing-is-ok deletes) without any I/O.
package memblob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/marmos91/snapvault/pkg/repository/blob"
	"github.com/marmos91/snapvault/pkg/repository/rerr"
)

// Store is a goroutine-safe, in-memory implementation of blob.Store.
type Store struct {
	mu      sync.RWMutex
	blobs   map[string][]byte
	closed  bool
	noList  bool // when true, ListByPrefix reports rerr.ErrListingUnsupported
}

// New returns an empty in-memory blob store.
func New() *Store {
	return &Store{blobs: make(map[string][]byte)}
}

// NewListingUnsupported returns an in-memory blob store that always fails
// ListByPrefix, for exercising the index.latest fallback path (C5).
func NewListingUnsupported() *Store {
	return &Store{blobs: make(map[string][]byte), noList: true}
}

func (s *Store) ReadBlob(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[name]
	if !ok {
		return nil, fmt.Errorf("memblob: %q: %w", name, rerr.ErrBlobNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Store) WriteBlob(ctx context.Context, name string, r io.Reader, length int64, failIfExists bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("memblob: read source for %q: %w", name, err)
	}
	if int64(len(data)) != length {
		return fmt.Errorf("memblob: %q: declared length %d but got %d bytes", name, length, len(data))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if failIfExists {
		if _, exists := s.blobs[name]; exists {
			return fmt.Errorf("memblob: %q: %w", name, rerr.ErrBlobExists)
		}
	}
	s.blobs[name] = data
	return nil
}

// WriteBlobAtomic is identical to WriteBlob here: the in-memory map update
// is already all-or-nothing under the write lock, so no partial blob can
// ever be observed.
func (s *Store) WriteBlobAtomic(ctx context.Context, name string, r io.Reader, length int64, failIfExists bool) error {
	return s.WriteBlob(ctx, name, r, length, failIfExists)
}

func (s *Store) ListByPrefix(ctx context.Context, prefix string) (map[string]blob.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.noList {
		return nil, rerr.ErrListingUnsupported
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]blob.Metadata)
	for name, data := range s.blobs {
		if strings.HasPrefix(name, prefix) {
			out[name] = blob.Metadata{Length: int64(len(data))}
		}
	}
	return out, nil
}

func (s *Store) DeleteBlobIgnoringMissing(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, name)
	return nil
}

func (s *Store) DeleteBlobsIgnoringMissing(ctx context.Context, names []string) error {
	for _, name := range names {
		if err := s.DeleteBlobIgnoringMissing(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[name]
	return ok, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Snapshot returns a shallow copy of every blob name currently stored, for
// assertions in tests.
func (s *Store) Snapshot() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.blobs))
	for name, data := range s.blobs {
		out[name] = len(data)
	}
	return out
}
