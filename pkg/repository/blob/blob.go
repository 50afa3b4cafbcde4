// Package blob defines the uniform interface every object-store backend
// must satisfy to back a repository (C1): read, atomic write, list by
// prefix, and delete-ignoring-missing. There is no inheritance chain here —
// verification, rate limiting, and catalog logic are all composed on top
// of this one interface, never specialized per backend.
package blob

import (
	"context"
	"io"
)

// Metadata describes one blob discovered by ListByPrefix.
type Metadata struct {
	// Length is the blob's size in bytes.
	Length int64
}

// Store is the BlobContainer adapter: a uniform key/value+stream interface
// over an underlying object store. All operations are blocking and are
// expected to be invoked from a bounded I/O worker pool (see pkg/repository/async).
type Store interface {
	// ReadBlob opens a blob for reading. Callers must Close the returned
	// reader. Returns rerr.ErrBlobNotFound if the blob does not exist.
	ReadBlob(ctx context.Context, name string) (io.ReadCloser, error)

	// WriteBlob writes length bytes from r under name. If failIfExists is
	// true, the write must fail with rerr.ErrBlobExists if the blob is
	// already present, without clobbering it.
	WriteBlob(ctx context.Context, name string, r io.Reader, length int64, failIfExists bool) error

	// WriteBlobAtomic behaves like WriteBlob but additionally guarantees
	// that on failure no partial blob is ever visible to readers: either
	// the write is fully durable, or the blob is absent.
	WriteBlobAtomic(ctx context.Context, name string, r io.Reader, length int64, failIfExists bool) error

	// ListByPrefix enumerates blobs whose name begins with prefix. It may
	// fail with rerr.ErrListingUnsupported on read-only URL-backed stores;
	// callers must have a fallback (see pkg/repository/catalog).
	ListByPrefix(ctx context.Context, prefix string) (map[string]Metadata, error)

	// DeleteBlobIgnoringMissing removes name, returning nil if it was
	// already absent.
	DeleteBlobIgnoringMissing(ctx context.Context, name string) error

	// DeleteBlobsIgnoringMissing removes every name in names, returning
	// nil for names that were already absent. It stops at and reports the
	// first non-missing error; names after that point are not attempted.
	DeleteBlobsIgnoringMissing(ctx context.Context, names []string) error

	// Exists reports whether name is present.
	Exists(ctx context.Context, name string) (bool, error)

	// Close releases resources held by the store. Called exactly once,
	// at engine shutdown.
	Close() error
}
