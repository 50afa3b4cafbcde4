// Package localfs implements the C1 BlobContainer adapter over a local
// (or NFS-mounted) directory tree, the way the teacher's memory-backed
// block store stands in for a real disk-backed one: plain files named
// after the blob, written through a temp-file-plus-rename dance so a
// reader never observes a partially written blob.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/marmos91/snapvault/pkg/repository/blob"
	"github.com/marmos91/snapvault/pkg/repository/rerr"
)

// Store is a blob.Store backed by a directory on a local or network
// filesystem. Blob names may contain '/' and are mapped directly onto
// subdirectories beneath Root.
type Store struct {
	root    string
	tmpSeq  atomic.Uint64
}

// New returns a Store rooted at root. The directory is created if absent.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("localfs: create root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

func (s *Store) ReadBlob(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("localfs: %q: %w", name, rerr.ErrBlobNotFound)
		}
		return nil, fmt.Errorf("localfs: open %q: %w", name, err)
	}
	return f, nil
}

func (s *Store) WriteBlob(ctx context.Context, name string, r io.Reader, length int64, failIfExists bool) error {
	return s.writeBlob(ctx, name, r, length, failIfExists, false)
}

func (s *Store) WriteBlobAtomic(ctx context.Context, name string, r io.Reader, length int64, failIfExists bool) error {
	return s.writeBlob(ctx, name, r, length, failIfExists, true)
}

// writeBlob always stages through a sibling temp file, then renames it
// into place, or, for a fail-if-exists write, hard-links it onto the
// final name: on a POSIX filesystem both are atomic, so both the plain
// and the "atomic" variant share this path. The distinction in the blob.Store
// contract exists for backends (object stores) where non-atomic writes
// are cheaper but allow a torn read.
func (s *Store) writeBlob(ctx context.Context, name string, r io.Reader, length int64, failIfExists, _ bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dest := s.path(name)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("localfs: mkdir for %q: %w", name, err)
	}

	if failIfExists {
		if _, err := os.Stat(dest); err == nil {
			return fmt.Errorf("localfs: %q: %w", name, rerr.ErrBlobExists)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("localfs: stat %q: %w", name, err)
		}
	}

	tmp := dest + fmt.Sprintf(".tmp-%d-%d", os.Getpid(), s.tmpSeq.Add(1))
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("localfs: create temp for %q: %w", name, err)
	}
	defer os.Remove(tmp) // no-op once renamed away

	written, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		return fmt.Errorf("localfs: write temp for %q: %w", name, err)
	}
	if written != length {
		f.Close()
		return fmt.Errorf("localfs: %q: declared length %d but wrote %d bytes", name, length, written)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("localfs: fsync temp for %q: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("localfs: close temp for %q: %w", name, err)
	}

	if failIfExists {
		// os.Link fails with ErrExist if dest is already present, so the
		// existence check and the publish are one atomic step; the Stat
		// above only avoids staging the data for a blob that already exists.
		if err := os.Link(tmp, dest); err != nil {
			if errors.Is(err, os.ErrExist) {
				return fmt.Errorf("localfs: %q: %w", name, rerr.ErrBlobExists)
			}
			return fmt.Errorf("localfs: link temp into %q: %w", name, err)
		}
		return nil
	}

	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("localfs: rename into %q: %w", name, err)
	}
	return nil
}

func (s *Store) ListByPrefix(ctx context.Context, prefix string) (map[string]blob.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]blob.Metadata)
	walkRoot := s.root
	dir, base := filepath.Split(filepath.FromSlash(prefix))
	if dir != "" {
		walkRoot = filepath.Join(s.root, dir)
	}

	err := filepath.Walk(walkRoot, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !strings.HasPrefix(rel, prefix) {
			return nil
		}
		_ = base
		out[rel] = blob.Metadata{Length: info.Size()}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("localfs: walk for prefix %q: %w", prefix, err)
	}
	return out, nil
}

func (s *Store) DeleteBlobIgnoringMissing(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("localfs: delete %q: %w", name, err)
	}
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
	_, err := os.Stat(s.path(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("localfs: stat %q: %w", name, err)
}

func (s *Store) Close() error {
	return nil
}

// RemoveEmptyDirs prunes any directory beneath Root that is left empty
// after a deletion sweep (C8's per-shard cleanup). It is best-effort: a
// failure to remove one directory does not stop the walk.
func (s *Store) RemoveEmptyDirs(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var dirs []string
	err := filepath.Walk(s.root, func(p string, info os.FileInfo, err error) error {
		if err != nil || p == s.root {
			return nil
		}
		if info.IsDir() {
			dirs = append(dirs, p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("localfs: walk for empty dirs: %w", err)
	}
	// Remove deepest-first so a now-empty parent is seen after its child
	// is gone.
	for i := len(dirs) - 1; i >= 0; i-- {
		_ = os.Remove(dirs[i])
	}
	return nil
}
