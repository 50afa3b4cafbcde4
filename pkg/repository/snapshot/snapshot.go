// Package snapshot implements the snapshot creator (C7) and the two
// halves of the snapshot deleter (C8): the shard-level catalog rewrite
// plus orphan sweep, and the repository-level index rewrite plus global
// blob cleanup. Grounded on the teacher's upload fan-out idiom
// (pkg/store/content/s3's uploadPartsInParallel, generalized here via
// pkg/repository/async.GroupedResults) and its incremental-write
// dedup-by-identity pattern.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/marmos91/snapvault/pkg/repository/async"
	"github.com/marmos91/snapvault/pkg/repository/blob"
	"github.com/marmos91/snapvault/pkg/repository/catalog"
	"github.com/marmos91/snapvault/pkg/repository/gc"
	"github.com/marmos91/snapvault/pkg/repository/localstore"
	"github.com/marmos91/snapvault/pkg/repository/model"
	"github.com/marmos91/snapvault/pkg/repository/ratelimit"
	"github.com/marmos91/snapvault/pkg/repository/rerr"
	"github.com/marmos91/snapvault/pkg/repository/slicedstream"
)

// Creator implements C7 against one (index, shard) pair: it diffs the
// node-local store against the shard catalog, uploads only files whose
// (physical name, length, checksum) identity is not already present in a
// prior commit point, and writes a new commit point plus shard catalog
// generation.
type Creator struct {
	LocalStore     localstore.Store
	ShardStore     blob.Store // scoped to this shard's directory
	Catalog        *catalog.ShardCatalog
	ChunkSize      uint64
	MaxConcurrency int
	BytesPerSec    int64 // 0 disables the upload-direction rate limit
	BlockedNs      *atomic.Int64
	Aborted        *atomic.Bool // sticky abort flag, polled between files
	Metrics        SnapshotMetrics
}

// SnapshotMetrics is the subset of metrics.SnapshotMetrics the creator
// reports against; kept as a small local interface so callers
// may pass nil without importing the metrics package.
type SnapshotMetrics interface {
	RecordFilesUploaded(count int, bytes int64)
	RecordFilesSkipped(count int)
}

// Create runs C7 for one shard: list local files, diff against the
// catalog, fan out uploads for files not already present, and commit.
// name must not collide with any snapshot name already recorded in this
// shard's catalog.
func (c *Creator) Create(ctx context.Context, name, snapshotUUID string) (model.CommitPoint, model.ShardCatalog, error) {
	if c.isAborted() {
		return model.CommitPoint{}, model.ShardCatalog{}, rerr.ErrSnapshotAborted
	}

	sc, err := c.Catalog.Read(ctx)
	if err != nil {
		return model.CommitPoint{}, model.ShardCatalog{}, fmt.Errorf("snapshot: read shard catalog: %w", err)
	}
	for _, cp := range sc.CommitPoints {
		if cp.SnapshotName == name {
			return model.CommitPoint{}, model.ShardCatalog{}, fmt.Errorf("snapshot: name %q already used in this shard: %w", name, rerr.ErrInvalidSnapshotName)
		}
	}

	localFiles, err := c.LocalStore.ListFiles(ctx)
	if err != nil {
		return model.CommitPoint{}, model.ShardCatalog{}, fmt.Errorf("snapshot: list local files: %w", err)
	}

	var skipped atomic.Int64
	var uploadedCount atomic.Int64
	var uploadedBytes atomic.Int64

	tasks := make([]func(context.Context) (model.FileInfo, error), len(localFiles))
	for i, lf := range localFiles {
		lf := lf
		tasks[i] = func(ctx context.Context) (model.FileInfo, error) {
			if reused, ok := findReusable(sc, lf); ok {
				skipped.Add(1)
				return reused, nil
			}
			if c.isAborted() {
				return model.FileInfo{}, rerr.ErrSnapshotAborted
			}

			fi := model.FileInfo{
				Name:         "__" + uuid.New().String(),
				PhysicalName: lf.Name,
				Length:       lf.Length,
				Checksum:     lf.Checksum,
				PartSize:     c.ChunkSize,
			}
			if err := c.uploadFile(ctx, fi); err != nil {
				return model.FileInfo{}, fmt.Errorf("snapshot: upload %s: %w", lf.Name, err)
			}
			uploadedCount.Add(1)
			uploadedBytes.Add(int64(fi.Length))
			return fi, nil
		}
	}

	files, err := async.GroupedResults(ctx, c.MaxConcurrency, tasks)
	if err != nil {
		if c.Aborted != nil {
			c.Aborted.Store(true)
		}
		return model.CommitPoint{}, model.ShardCatalog{}, fmt.Errorf("snapshot: %w: %v", rerr.ErrIndexShardSnapshotFailed, err)
	}

	if c.Metrics != nil {
		if n := uploadedCount.Load(); n > 0 {
			c.Metrics.RecordFilesUploaded(int(n), uploadedBytes.Load())
		}
		if n := skipped.Load(); n > 0 {
			c.Metrics.RecordFilesSkipped(int(n))
		}
	}

	cp := model.CommitPoint{SnapshotName: name, SnapshotUUID: snapshotUUID, Files: files}
	if err := c.Catalog.WriteCommitPoint(ctx, cp); err != nil {
		return model.CommitPoint{}, model.ShardCatalog{}, fmt.Errorf("snapshot: write commit point: %w", err)
	}

	updated := model.ShardCatalog{
		Generation:   sc.Generation,
		CommitPoints: append(append([]model.CommitPoint{}, sc.CommitPoints...), cp),
	}
	written, err := c.Catalog.WriteGen(ctx, updated, sc.Generation)
	if err != nil {
		return model.CommitPoint{}, model.ShardCatalog{}, fmt.Errorf("snapshot: write shard generation: %w", err)
	}

	return cp, written, nil
}

func (c *Creator) isAborted() bool {
	return c.Aborted != nil && c.Aborted.Load()
}

// findReusable returns an existing FileInfo describing the same physical
// file, by the (physical name, length, checksum) identity rule, if the
// shard catalog already has one.
func findReusable(sc model.ShardCatalog, lf localstore.FileMeta) (model.FileInfo, bool) {
	candidate := model.FileInfo{PhysicalName: lf.Name, Length: lf.Length, Checksum: lf.Checksum}
	for _, fi := range sc.FindPhysical(lf.Name) {
		if fi.IsSameContent(candidate) {
			return fi, true
		}
	}
	return model.FileInfo{}, false
}

// uploadFile streams fi's local content into 1..PartCount() blobs, reading
// the local file exactly once, sequentially, so a single verifying-read
// Close at the end validates the whole file's checksum regardless of how
// many parts it was split across.
func (c *Creator) uploadFile(ctx context.Context, fi model.FileInfo) error {
	rc, err := c.LocalStore.OpenVerifyingInput(ctx, fi.PhysicalName)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}

	n := fi.PartCount()
	var uploadErr error
	for i := 0; i < n; i++ {
		if c.isAborted() {
			uploadErr = rerr.ErrSnapshotAborted
			break
		}

		start, end := slicedstream.PartBounds(i, fi.Length, fi.PartSize)
		partLen := int64(end - start)
		partName := slicedstream.PartName(fi.Name, i, n)

		limited := ratelimit.New(ctx, io.LimitReader(rc, partLen), c.BytesPerSec, c.BlockedNs)
		if err := c.ShardStore.WriteBlobAtomic(ctx, partName, limited, partLen, false); err != nil {
			uploadErr = fmt.Errorf("write %s: %w", partName, err)
			break
		}
	}

	closeErr := rc.Close()
	if uploadErr != nil {
		return uploadErr
	}
	return closeErr
}

// Deleter implements the shard-local half of C8: remove snapshotUUID's
// commit point from the shard catalog, write the new generation (the
// linearization point for this shard), and sweep any data blob the
// rewritten catalog no longer references.
type Deleter struct {
	ShardStore blob.Store
	Catalog    *catalog.ShardCatalog
}

// DeleteFromShard removes snapshotUUID's commit point and cleans up
// orphaned data blobs.
func (d *Deleter) DeleteFromShard(ctx context.Context, snapshotUUID string) (model.ShardCatalog, gc.Stats, error) {
	sc, err := d.Catalog.Read(ctx)
	if err != nil {
		return model.ShardCatalog{}, gc.Stats{}, fmt.Errorf("snapshot: read shard catalog: %w", err)
	}

	updated := sc.WithoutSnapshot(snapshotUUID)
	written, err := d.Catalog.WriteGen(ctx, updated, sc.Generation)
	if err != nil {
		return model.ShardCatalog{}, gc.Stats{}, fmt.Errorf("snapshot: write shard generation: %w", err)
	}

	stats, err := gc.Sweep(ctx, d.ShardStore, written.ReferencedNames(), gc.Options{})
	if err != nil {
		return written, stats, fmt.Errorf("snapshot: sweep orphans: %w", err)
	}
	return written, stats, nil
}

// RepositoryDeleter implements the repository-level half of C8: rewrite
// the repository index without snapshotUUID (the overall linearization
// point for the delete), then best-effort remove the snapshot's global
// metadata and commit-point blobs.
type RepositoryDeleter struct {
	RootStore blob.Store
	Index     *catalog.RepositoryIndex
}

// Delete removes snapshotUUID from the repository-level catalog.
func (d *RepositoryDeleter) Delete(ctx context.Context, snapshotUUID string) (model.RepositoryData, error) {
	data, err := d.Index.GetRepositoryData(ctx)
	if err != nil {
		return model.RepositoryData{}, fmt.Errorf("snapshot: read repository data: %w", err)
	}
	if _, ok := data.Snapshots[snapshotUUID]; !ok {
		return model.RepositoryData{}, fmt.Errorf("snapshot: %s: %w", snapshotUUID, rerr.ErrSnapshotMissing)
	}

	newData := data.Without(snapshotUUID)
	written, err := d.Index.WriteIndexGen(ctx, newData, data.Generation)
	if err != nil {
		return model.RepositoryData{}, fmt.Errorf("snapshot: write repository generation: %w", err)
	}

	_ = catalog.DeleteCommitPointAndGlobal(ctx, d.RootStore, snapshotUUID)
	return written, nil
}
