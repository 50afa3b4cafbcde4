// Package localstore defines the node-local segment-file store consulted
// by the snapshot creator (C7, to diff local files against the shard
// catalog) and the restore engine (C9, as the write target), grounded on
// the teacher's block.Store interface shape: a small, storage-agnostic
// contract with a verifying-read path and a corrupted-store sentinel.
package localstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/marmos91/snapvault/pkg/bufpool"
)

// ErrCorrupted marks a local store that has observed a checksum mismatch
// on a verifying read and must not be trusted for further snapshots
// until repaired.
var ErrCorrupted = errors.New("local store corrupted")

// FileMeta describes one physical segment file as seen by the creator's
// diff pass: name, length, and content checksum.
type FileMeta struct {
	Name     string
	Length   uint64
	Checksum string
}

// Store is the node-local segment-file store. Checksums are SHA-256, hex
// encoded, matching the FileInfo.Checksum field in pkg/repository/model.
type Store interface {
	// ListFiles returns metadata for every file currently present.
	ListFiles(ctx context.Context) ([]FileMeta, error)

	// OpenVerifyingInput opens name for reading. The returned reader
	// computes a running checksum as bytes are consumed and, on Close,
	// compares it against the expected checksum recorded for name;
	// mismatch marks the store corrupted and returns ErrCorrupted.
	OpenVerifyingInput(ctx context.Context, name string) (io.ReadCloser, error)

	// CreateForRestore opens name for writing during a restore, creating
	// parent directories as needed. The caller must Close the writer;
	// on Close the written bytes' checksum is compared against expected
	// and a mismatch returns ErrCorrupted.
	CreateForRestore(ctx context.Context, name string, expectedChecksum string) (io.WriteCloser, error)

	// IncRef and DecRef track how many live commit points reference name,
	// so a local implementation backed by reference-counted storage can
	// reclaim a segment file only once nothing depends on it. A
	// blob-store-backed repository never calls these directly — they
	// exist for local-store implementations layered under NFS/local
	// filesystem consumers that share segment files across snapshots.
	IncRef(name string) error
	DecRef(name string) error

	// Corrupted reports whether a prior verifying read detected damage.
	Corrupted() bool

	Close() error
}

// DirStore is a Store backed by a plain directory of files, the
// reference local-store implementation used by tests and by the
// single-node deployment mode.
type DirStore struct {
	root      string
	mu        sync.RWMutex
	refs      map[string]int
	corrupted atomic.Bool
}

// NewDirStore returns a DirStore rooted at root, creating it if absent.
func NewDirStore(root string) (*DirStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("localstore: create root %s: %w", root, err)
	}
	return &DirStore{root: root, refs: make(map[string]int)}, nil
}

func (d *DirStore) ListFiles(ctx context.Context) ([]FileMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []FileMeta
	err := filepath.Walk(d.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(d.root, p)
		if relErr != nil {
			return relErr
		}
		sum, sumErr := checksumFile(p)
		if sumErr != nil {
			return sumErr
		}
		out = append(out, FileMeta{
			Name:     filepath.ToSlash(rel),
			Length:   uint64(info.Size()),
			Checksum: sum,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("localstore: list files: %w", err)
	}
	return out, nil
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := bufpool.Get(bufpool.DefaultLargeSize)
	defer bufpool.Put(buf)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (d *DirStore) OpenVerifyingInput(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	expected, err := checksumFile(filepath.Join(d.root, filepath.FromSlash(name)))
	if err != nil {
		return nil, fmt.Errorf("localstore: stat %s for verify: %w", name, err)
	}

	f, err := os.Open(filepath.Join(d.root, filepath.FromSlash(name)))
	if err != nil {
		return nil, fmt.Errorf("localstore: open %s: %w", name, err)
	}
	h := sha256.New()
	return &verifyingReadCloser{f: f, h: h, expected: expected, store: d}, nil
}

type verifyingReadCloser struct {
	f        *os.File
	h        interface {
		io.Writer
		Sum([]byte) []byte
	}
	expected string
	store    *DirStore
}

func (v *verifyingReadCloser) Read(p []byte) (int, error) {
	n, err := v.f.Read(p)
	if n > 0 {
		v.h.Write(p[:n])
	}
	return n, err
}

func (v *verifyingReadCloser) Close() error {
	closeErr := v.f.Close()
	got := hex.EncodeToString(v.h.Sum(nil))
	if got != v.expected {
		v.store.corrupted.Store(true)
		return ErrCorrupted
	}
	return closeErr
}

type verifyingWriteCloser struct {
	f        *os.File
	h        interface {
		io.Writer
		Sum([]byte) []byte
	}
	expected string
	store    *DirStore
}

func (v *verifyingWriteCloser) Write(p []byte) (int, error) {
	n, err := v.f.Write(p)
	if n > 0 {
		v.h.Write(p[:n])
	}
	return n, err
}

func (v *verifyingWriteCloser) Close() error {
	closeErr := v.f.Close()
	got := hex.EncodeToString(v.h.Sum(nil))
	if got != v.expected {
		v.store.corrupted.Store(true)
		return ErrCorrupted
	}
	return closeErr
}

func (d *DirStore) CreateForRestore(ctx context.Context, name string, expectedChecksum string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dest := filepath.Join(d.root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("localstore: mkdir for %s: %w", name, err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("localstore: create %s: %w", name, err)
	}
	return &verifyingWriteCloser{f: f, h: sha256.New(), expected: expectedChecksum, store: d}, nil
}

func (d *DirStore) IncRef(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs[name]++
	return nil
}

func (d *DirStore) DecRef(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refs[name] > 0 {
		d.refs[name]--
	}
	return nil
}

func (d *DirStore) Corrupted() bool {
	return d.corrupted.Load()
}

func (d *DirStore) Close() error {
	return nil
}
