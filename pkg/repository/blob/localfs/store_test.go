package localfs

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/snapvault/pkg/repository/rerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	data := []byte("payload")

	if err := s.WriteBlob(ctx, "indices/idx1/0/snap-1.dat", bytes.NewReader(data), int64(len(data)), false); err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}

	r, err := s.ReadBlob(ctx, "indices/idx1/0/snap-1.dat")
	if err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		t.Fatalf("read: %v", err)
	}
	if buf.String() != "payload" {
		t.Errorf("got %q, want %q", buf.String(), "payload")
	}
}

func TestReadMissingIsBlobNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ReadBlob(context.Background(), "missing")
	if !errors.Is(err, rerr.ErrBlobNotFound) {
		t.Errorf("got %v, want ErrBlobNotFound", err)
	}
}

func TestWriteFailIfExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.WriteBlob(ctx, "index-1", bytes.NewReader([]byte("v1")), 2, true); err != nil {
		t.Fatalf("first write: %v", err)
	}
	err := s.WriteBlob(ctx, "index-1", bytes.NewReader([]byte("v2")), 2, true)
	if !errors.Is(err, rerr.ErrBlobExists) {
		t.Errorf("second write: got %v, want ErrBlobExists", err)
	}

	r, err := s.ReadBlob(ctx, "index-1")
	if err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}
	defer r.Close()
	var buf bytes.Buffer
	buf.ReadFrom(r)
	if buf.String() != "v1" {
		t.Errorf("lost write collided: got %q, want %q", buf.String(), "v1")
	}
}

func TestNoPartialBlobOnFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WriteBlob(ctx, "broken", bytes.NewReader([]byte("short")), 100, false)
	if err == nil {
		t.Fatal("expected length mismatch error")
	}

	if _, statErr := os.Stat(filepath.Join(s.root, "broken")); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("partial blob was left behind: %v", statErr)
	}
}

func TestListByPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"index-1", "index-2", "meta-1"} {
		if err := s.WriteBlob(ctx, name, bytes.NewReader([]byte("x")), 1, false); err != nil {
			t.Fatalf("WriteBlob(%s): %v", name, err)
		}
	}

	got, err := s.ListByPrefix(ctx, "index-")
	if err != nil {
		t.Fatalf("ListByPrefix: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d entries, want 2: %v", len(got), got)
	}
}

func TestDeleteIgnoringMissing(t *testing.T) {
	s := newTestStore(t)
	if err := s.DeleteBlobIgnoringMissing(context.Background(), "never-existed"); err != nil {
		t.Errorf("DeleteBlobIgnoringMissing: %v", err)
	}
}

func TestRemoveEmptyDirs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.WriteBlob(ctx, "a/b/c/blob", bytes.NewReader([]byte("x")), 1, false); err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	if err := s.DeleteBlobIgnoringMissing(ctx, "a/b/c/blob"); err != nil {
		t.Fatalf("DeleteBlobIgnoringMissing: %v", err)
	}
	if err := s.RemoveEmptyDirs(ctx); err != nil {
		t.Fatalf("RemoveEmptyDirs: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.root, "a")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected empty dir tree removed, got err=%v", err)
	}
}
