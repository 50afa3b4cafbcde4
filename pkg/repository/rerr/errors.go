// Package rerr defines the sentinel error kinds and the wrapping error
// type shared across every repository component, kept in a leaf package
// so both the engine and its low-level collaborators (codec, blob store
// adapters) can depend on it without import cycles.
package rerr

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the repository engine. Callers should check
// for these with errors.Is(); RepositoryError wraps them without losing
// that compatibility.
var (
	// ErrConcurrentModification indicates a generation CAS mismatch on
	// index-N. Callers should re-read current state and retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrSnapshotMissing indicates the snapshot id was not present during
	// a read or delete.
	ErrSnapshotMissing = errors.New("snapshot missing")

	// ErrInvalidSnapshotName indicates a duplicate name at creation time.
	ErrInvalidSnapshotName = errors.New("invalid snapshot name")

	// ErrSnapshotCreationFailed wraps a lower-level error during snapshot
	// creation.
	ErrSnapshotCreationFailed = errors.New("snapshot creation failed")

	// ErrIndexShardSnapshotFailed wraps a lower-level error during a single
	// shard's snapshot upload.
	ErrIndexShardSnapshotFailed = errors.New("shard snapshot failed")

	// ErrIndexShardRestoreFailed wraps a lower-level error during restore.
	ErrIndexShardRestoreFailed = errors.New("shard restore failed")

	// ErrSnapshotAborted indicates cooperative cancellation of a snapshot.
	ErrSnapshotAborted = errors.New("snapshot aborted")

	// ErrCorruptedRepository indicates a checksum or codec header mismatch
	// on read.
	ErrCorruptedRepository = errors.New("corrupted repository")

	// ErrReadOnlyRepository indicates a write was attempted against a
	// repository opened with readonly=true.
	ErrReadOnlyRepository = errors.New("repository is read-only")

	// ErrRepositoryVerification indicates a cross-node reachability
	// failure during the verification probe.
	ErrRepositoryVerification = errors.New("repository verification failed")

	// ErrListingUnsupported indicates the blob store cannot list by
	// prefix (e.g. a read-only URL-backed store). Callers fall back to
	// index.latest.
	ErrListingUnsupported = errors.New("listing not supported by this blob store")

	// ErrBlobNotFound indicates the requested blob does not exist.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrBlobExists indicates a fail-if-exists write lost a race or
	// collided with a pre-existing blob.
	ErrBlobExists = errors.New("blob already exists")
)

// RepositoryError wraps a sentinel repository error with structured
// operational context, without losing errors.Is() compatibility with the
// wrapped sentinel.
//
//	err := NewRepositoryError("finalizeSnapshot", "repo-1", snapshotID, shardID, ErrConcurrentModification)
//	errors.Is(err, ErrConcurrentModification) // true
type RepositoryError struct {
	// Op names the operation that failed, e.g. "finalizeSnapshot", "deleteSnapshot".
	Op string

	// Repository is the repository name providing routing context.
	Repository string

	// SnapshotID is the snapshot UUID involved, if any.
	SnapshotID string

	// ShardID identifies the (index, shard) pair involved, if any.
	ShardID string

	// Err is the wrapped sentinel error.
	Err error
}

// Error returns a human-readable description of the failure.
func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s: %s (repo=%s, snapshot=%s, shard=%s)",
		e.Op, e.Err, e.Repository, e.SnapshotID, e.ShardID)
}

// Unwrap returns the wrapped sentinel error, enabling errors.Is()/errors.As()
// to match through the wrapper.
func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// NewRepositoryError wraps err with operational context.
func NewRepositoryError(op, repository, snapshotID, shardID string, err error) *RepositoryError {
	return &RepositoryError{
		Op:         op,
		Repository: repository,
		SnapshotID: snapshotID,
		ShardID:    shardID,
		Err:        err,
	}
}
