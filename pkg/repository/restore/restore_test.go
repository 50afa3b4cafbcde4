package restore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marmos91/snapvault/pkg/repository/blob/memblob"
	"github.com/marmos91/snapvault/pkg/repository/catalog"
	"github.com/marmos91/snapvault/pkg/repository/localstore"
	"github.com/marmos91/snapvault/pkg/repository/model"
	"github.com/marmos91/snapvault/pkg/repository/rerr"
	"github.com/marmos91/snapvault/pkg/repository/snapshot"
)

type fakeObserver struct {
	started []string
	done    []string
	errs    []error
}

func (f *fakeObserver) OnFileStarted(name string, length uint64) { f.started = append(f.started, name) }
func (f *fakeObserver) OnFileDone(name string, err error) {
	f.done = append(f.done, name)
	f.errs = append(f.errs, err)
}

func TestEngineRestoresSingleAndMultiPartFiles(t *testing.T) {
	ctx := context.Background()

	srcDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcDir, "a.si"), []byte("hello world, this is a longer file"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "b.si"), []byte("short"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	srcStore, err := localstore.NewDirStore(srcDir)
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}

	shardStore := memblob.New()
	cat := catalog.NewShardCatalog(shardStore)
	creator := &snapshot.Creator{LocalStore: srcStore, ShardStore: shardStore, Catalog: cat, ChunkSize: 8}

	cp, _, err := creator.Create(ctx, "snap-1", "uuid-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	destDir := t.TempDir()
	destStore, err := localstore.NewDirStore(destDir)
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}

	obs := &fakeObserver{}
	engine := &Engine{ShardStore: shardStore, LocalStore: destStore, Observer: obs}

	if err := engine.Restore(ctx, cp); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(destDir, "a.si"))
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if string(got) != "hello world, this is a longer file" {
		t.Errorf("restored content mismatch: %q", got)
	}
	gotShort, err := os.ReadFile(filepath.Join(destDir, "b.si"))
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if string(gotShort) != "short" {
		t.Errorf("restored content mismatch: %q", gotShort)
	}
	if len(obs.started) != 2 || len(obs.done) != 2 || obs.errs[0] != nil || obs.errs[1] != nil {
		t.Errorf("observer calls unexpected: %+v", obs)
	}
}

func TestEngineSurfacesChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	shardStore := memblob.New()

	fi := model.FileInfo{Name: "__bad", PhysicalName: "b.si", Length: 3, Checksum: "deadbeef", PartSize: 1024}
	if err := shardStore.WriteBlob(ctx, "__bad", strings.NewReader("xyz"), 3, false); err != nil {
		t.Fatalf("seed blob: %v", err)
	}

	destDir := t.TempDir()
	destStore, err := localstore.NewDirStore(destDir)
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}

	engine := &Engine{ShardStore: shardStore, LocalStore: destStore}
	err = engine.Restore(ctx, model.CommitPoint{SnapshotUUID: "uuid-1", Files: []model.FileInfo{fi}})
	if !errors.Is(err, rerr.ErrIndexShardRestoreFailed) {
		t.Errorf("got %v, want ErrIndexShardRestoreFailed", err)
	}
	if !errors.Is(err, localstore.ErrCorrupted) {
		t.Errorf("got %v, want wrapped ErrCorrupted", err)
	}
}
