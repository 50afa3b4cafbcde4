package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/snapvault/pkg/repository/blob/memblob"
	"github.com/marmos91/snapvault/pkg/repository/catalog"
	"github.com/marmos91/snapvault/pkg/repository/localstore"
	"github.com/marmos91/snapvault/pkg/repository/model"
	"github.com/marmos91/snapvault/pkg/repository/rerr"
)

func newLocalStore(t *testing.T, files map[string]string) localstore.Store {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		full := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}
	s, err := localstore.NewDirStore(dir)
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}
	return s
}

func TestCreatorUploadsNewFiles(t *testing.T) {
	ctx := context.Background()
	local := newLocalStore(t, map[string]string{"a.si": "hello world"})
	shardStore := memblob.New()
	cat := catalog.NewShardCatalog(shardStore)

	c := &Creator{
		LocalStore:     local,
		ShardStore:     shardStore,
		Catalog:        cat,
		ChunkSize:      4,
		MaxConcurrency: 2,
	}

	cp, sc, err := c.Create(ctx, "snap-1", "uuid-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(cp.Files) != 1 {
		t.Fatalf("expected 1 file in commit point, got %d", len(cp.Files))
	}
	if sc.Generation != 0 {
		t.Errorf("expected shard catalog generation 0 after first write, got %d", sc.Generation)
	}

	fi := cp.Files[0]
	wantParts := 3 // "hello world" is 11 bytes, chunk size 4 -> 3 parts
	if fi.PartCount() != wantParts {
		t.Errorf("PartCount = %d, want %d", fi.PartCount(), wantParts)
	}

	snap := shardStore.Snapshot()
	for i := 0; i < wantParts; i++ {
		name := fi.Name
		if wantParts > 1 {
			name = name + ".part" + string(rune('0'+i))
		}
		if _, ok := snap[name]; !ok {
			t.Errorf("expected part blob %q to exist", name)
		}
	}
}

func TestCreatorReusesUnchangedFile(t *testing.T) {
	ctx := context.Background()
	local := newLocalStore(t, map[string]string{"a.si": "same content"})
	shardStore := memblob.New()
	cat := catalog.NewShardCatalog(shardStore)

	c := &Creator{LocalStore: local, ShardStore: shardStore, Catalog: cat, ChunkSize: 1024}

	cp1, _, err := c.Create(ctx, "snap-1", "uuid-1")
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}

	cp2, _, err := c.Create(ctx, "snap-2", "uuid-2")
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}

	if cp1.Files[0].Name != cp2.Files[0].Name {
		t.Errorf("expected reused logical name, got %q vs %q", cp1.Files[0].Name, cp2.Files[0].Name)
	}
}

func TestCreatorRejectsDuplicateSnapshotName(t *testing.T) {
	ctx := context.Background()
	local := newLocalStore(t, map[string]string{"a.si": "content"})
	shardStore := memblob.New()
	cat := catalog.NewShardCatalog(shardStore)
	c := &Creator{LocalStore: local, ShardStore: shardStore, Catalog: cat, ChunkSize: 1024}

	if _, _, err := c.Create(ctx, "snap-1", "uuid-1"); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	_, _, err := c.Create(ctx, "snap-1", "uuid-2")
	if !errors.Is(err, rerr.ErrInvalidSnapshotName) {
		t.Errorf("got %v, want ErrInvalidSnapshotName", err)
	}
}

func TestDeleteFromShardSweepsOrphans(t *testing.T) {
	ctx := context.Background()
	local := newLocalStore(t, map[string]string{"a.si": "alpha", "b.si": "beta"})
	shardStore := memblob.New()
	cat := catalog.NewShardCatalog(shardStore)
	c := &Creator{LocalStore: local, ShardStore: shardStore, Catalog: cat, ChunkSize: 1024}

	cp, _, err := c.Create(ctx, "snap-1", "uuid-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	d := &Deleter{ShardStore: shardStore, Catalog: cat}
	sc, stats, err := d.DeleteFromShard(ctx, "uuid-1")
	if err != nil {
		t.Fatalf("DeleteFromShard: %v", err)
	}
	if len(sc.CommitPoints) != 0 {
		t.Errorf("expected commit point removed, got %d remaining", len(sc.CommitPoints))
	}
	if stats.OrphanBlobs != len(cp.Files) {
		t.Errorf("OrphanBlobs = %d, want %d", stats.OrphanBlobs, len(cp.Files))
	}

	snap := shardStore.Snapshot()
	for _, fi := range cp.Files {
		if _, ok := snap[fi.Name]; ok {
			t.Errorf("expected %q to be swept", fi.Name)
		}
	}
}

func TestRepositoryDeleterRemovesSnapshotFromIndex(t *testing.T) {
	ctx := context.Background()
	rootStore := memblob.New()
	idx := catalog.NewRepositoryIndex(rootStore)

	data, err := idx.GetRepositoryData(ctx)
	if err != nil {
		t.Fatalf("GetRepositoryData: %v", err)
	}
	data.Snapshots["uuid-1"] = model.SnapshotRecord{
		SnapshotID: model.SnapshotID{Name: "snap-1", UUID: "uuid-1"},
		State:      model.SnapshotStateSuccess,
	}
	written, err := idx.WriteIndexGen(ctx, data, data.Generation)
	if err != nil {
		t.Fatalf("WriteIndexGen: %v", err)
	}
	_ = written

	d := &RepositoryDeleter{RootStore: rootStore, Index: idx}
	result, err := d.Delete(ctx, "uuid-1")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := result.Snapshots["uuid-1"]; ok {
		t.Error("expected snapshot removed from repository data")
	}
}

func TestRepositoryDeleterMissingSnapshot(t *testing.T) {
	ctx := context.Background()
	rootStore := memblob.New()
	idx := catalog.NewRepositoryIndex(rootStore)
	d := &RepositoryDeleter{RootStore: rootStore, Index: idx}

	_, err := d.Delete(ctx, "does-not-exist")
	if !errors.Is(err, rerr.ErrSnapshotMissing) {
		t.Errorf("got %v, want ErrSnapshotMissing", err)
	}
}
