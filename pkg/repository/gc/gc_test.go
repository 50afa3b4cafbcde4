package gc

import (
	"bytes"
	"context"
	"testing"

	"github.com/marmos91/snapvault/pkg/repository/blob/memblob"
	"github.com/marmos91/snapvault/pkg/repository/model"
)

func mustWrite(t *testing.T, store *memblob.Store, name string, data []byte) {
	t.Helper()
	if err := store.WriteBlob(context.Background(), name, bytes.NewReader(data), int64(len(data)), false); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestSweepDeletesUnreferencedSinglePartBlob(t *testing.T) {
	store := memblob.New()
	mustWrite(t, store, "__keep", []byte("keepme"))
	mustWrite(t, store, "__orphan", []byte("bye"))

	stats, err := Sweep(context.Background(), store, map[string]bool{"__keep": true}, Options{})
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.OrphanBlobs != 1 {
		t.Errorf("OrphanBlobs = %d, want 1", stats.OrphanBlobs)
	}

	snap := store.Snapshot()
	if _, ok := snap["__orphan"]; ok {
		t.Error("orphan blob should have been deleted")
	}
	if _, ok := snap["__keep"]; !ok {
		t.Error("referenced blob should not have been deleted")
	}
}

func TestSweepDeletesAllPartsOfOrphanedMultipartBlob(t *testing.T) {
	store := memblob.New()
	mustWrite(t, store, "__orphan.part0", []byte("a"))
	mustWrite(t, store, "__orphan.part1", []byte("b"))
	mustWrite(t, store, "__keep.part0", []byte("c"))

	stats, err := Sweep(context.Background(), store, map[string]bool{"__keep": true}, Options{})
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.OrphanBlobs != 2 {
		t.Errorf("OrphanBlobs = %d, want 2", stats.OrphanBlobs)
	}

	snap := store.Snapshot()
	if _, ok := snap["__orphan.part0"]; ok {
		t.Error("orphan part0 should have been deleted")
	}
	if _, ok := snap["__orphan.part1"]; ok {
		t.Error("orphan part1 should have been deleted")
	}
	if _, ok := snap["__keep.part0"]; !ok {
		t.Error("referenced part should not have been deleted")
	}
}

func TestSweepDryRunLeavesBlobsInPlace(t *testing.T) {
	store := memblob.New()
	mustWrite(t, store, "__orphan", []byte("bye"))

	stats, err := Sweep(context.Background(), store, map[string]bool{}, Options{DryRun: true})
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.OrphanBlobs != 1 {
		t.Errorf("OrphanBlobs = %d, want 1", stats.OrphanBlobs)
	}
	if _, ok := store.Snapshot()["__orphan"]; !ok {
		t.Error("dry run should not delete blobs")
	}
}

func TestSweepEmptyStoreIsNoop(t *testing.T) {
	store := memblob.New()
	stats, err := Sweep(context.Background(), store, map[string]bool{}, Options{})
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.BlobsScanned != 0 || stats.OrphanBlobs != 0 {
		t.Errorf("expected zero stats, got %+v", stats)
	}
}

func TestReferencedNamesAfterRemoval(t *testing.T) {
	sc := model.ShardCatalog{
		Generation: 2,
		CommitPoints: []model.CommitPoint{
			{SnapshotUUID: "snap-a", Files: []model.FileInfo{{Name: "__f1"}, {Name: "__f2"}}},
			{SnapshotUUID: "snap-b", Files: []model.FileInfo{{Name: "__f2"}, {Name: "__f3"}}},
		},
	}

	refs := ReferencedNamesAfterRemoval(sc, "snap-a")
	if refs["__f1"] {
		t.Error("__f1 was only referenced by the removed snapshot, should be gone")
	}
	if !refs["__f2"] || !refs["__f3"] {
		t.Error("__f2 and __f3 are still referenced by snap-b")
	}
}
