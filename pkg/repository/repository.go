// Package repository wires C1-C11 into the single entry point external
// callers use: one Repository instance bound to one blob store backend,
// exposing the snapshot lifecycle (initialize, create-per-shard,
// finalize, delete, restore, verify). Scheduling across shards and
// indices is left to the caller, matching the spec's assumption that an
// external coordinator decides which node snapshots which shard; this
// package only executes the instructions for one repository instance on
// one node. Grounded on the teacher's top-level server wiring (a single
// struct holding the store, its index, and its metrics, constructed once
// from Config and closed once at shutdown). Per-shard deletion fans out
// on a sourcegraph/conc context pool, distinct from the errgroup-based
// upload fan-out in pkg/repository/async.
package repository

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/marmos91/snapvault/pkg/config"
	"github.com/marmos91/snapvault/pkg/metrics"
	"github.com/marmos91/snapvault/pkg/repository/blob"
	"github.com/marmos91/snapvault/pkg/repository/blob/localfs"
	"github.com/marmos91/snapvault/pkg/repository/blob/s3store"
	"github.com/marmos91/snapvault/pkg/repository/catalog"
	"github.com/marmos91/snapvault/pkg/repository/codec"
	"github.com/marmos91/snapvault/pkg/repository/localstore"
	"github.com/marmos91/snapvault/pkg/repository/model"
	"github.com/marmos91/snapvault/pkg/repository/restore"
	"github.com/marmos91/snapvault/pkg/repository/rerr"
	"github.com/marmos91/snapvault/pkg/repository/snapshot"
	"github.com/marmos91/snapvault/pkg/repository/verify"
)

// IndexSpec describes one index participating in a snapshot, as supplied
// by the external coordinator at InitializeSnapshot time.
type IndexSpec struct {
	ID         string
	Name       string
	ShardCount int
}

// Repository is one repository instance bound to one blob store backend.
// It owns all writes to the repository's blob namespace; readers may run
// concurrently and lock-free against it.
type Repository struct {
	cfg     config.RepositoryConfig
	root    blob.Store // metrics-wrapped; used for all I/O
	rawRoot blob.Store // unwrapped backend, for backend-specific features

	index *catalog.RepositoryIndex

	snapshotBlockedNs atomic.Int64
	restoreBlockedNs  atomic.Int64

	snapshotMetrics metrics.SnapshotMetrics
	restoreMetrics  metrics.RestoreMetrics
}

// New constructs a Repository from cfg, mounting the blob store backend
// named by cfg.Repository.Backend.
func New(ctx context.Context, cfg *config.Config) (*Repository, error) {
	raw, err := newBlobStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("repository: mount blob store: %w", err)
	}
	wrapped := blob.WithMetrics(raw, metrics.NewBlobStoreMetrics())

	return &Repository{
		cfg:             cfg.Repository,
		root:            wrapped,
		rawRoot:         raw,
		index:           catalog.NewRepositoryIndex(wrapped),
		snapshotMetrics: metrics.NewSnapshotMetrics(),
		restoreMetrics:  metrics.NewRestoreMetrics(),
	}, nil
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	switch cfg.Repository.Backend {
	case "localfs":
		return localfs.New(cfg.Blobstore.LocalFS.Root)
	case "s3":
		s3cfg := cfg.Blobstore.S3
		client, err := s3store.NewClientFromCredentials(ctx, s3cfg.Endpoint, s3cfg.Region, s3cfg.AccessKeyID, s3cfg.SecretAccessKey, s3cfg.ForcePathStyle)
		if err != nil {
			return nil, err
		}
		return s3store.New(ctx, s3store.Config{
			Client:             client,
			Bucket:             s3cfg.Bucket,
			KeyPrefix:          s3cfg.KeyPrefix,
			MultipartThreshold: int64(s3cfg.MultipartThreshold),
			PartSize:           int64(s3cfg.PartSize),
		})
	default:
		return nil, fmt.Errorf("repository: unknown backend %q", cfg.Repository.Backend)
	}
}

// Close releases the underlying blob store. Called exactly once, at
// shutdown.
func (r *Repository) Close() error {
	return r.root.Close()
}

// GetRepositoryData returns the current repository-level catalog.
func (r *Repository) GetRepositoryData(ctx context.Context) (model.RepositoryData, error) {
	return r.index.GetRepositoryData(ctx)
}

// InitializeSnapshot begins a new snapshot: writes the global cluster
// metadata blob and a per-index metadata blob for every index in
// indices. Returns the snapshot's opaque UUID. The snapshot is not yet
// visible in the repository-level catalog; that happens at
// FinalizeSnapshot.
func (r *Repository) InitializeSnapshot(ctx context.Context, indices []IndexSpec, settings map[string]string) (string, error) {
	const op = "InitializeSnapshot"
	if r.cfg.Readonly {
		return "", rerr.NewRepositoryError(op, r.cfg.Name, "", "", rerr.ErrReadOnlyRepository)
	}

	snapshotUUID := uuid.New().String()

	global := model.GlobalMetadata{SnapshotUUID: snapshotUUID, Settings: settings}
	if err := r.writeMetadata(ctx, globalMetaPath(snapshotUUID), codec.VariantGlobalMetadata, global); err != nil {
		return "", rerr.NewRepositoryError(op, r.cfg.Name, snapshotUUID, "", err)
	}

	for _, idx := range indices {
		im := model.IndexMetadata{SnapshotUUID: snapshotUUID, IndexID: idx.ID, ShardCount: idx.ShardCount}
		if err := r.writeMetadata(ctx, indexMetaPath(idx.ID, snapshotUUID), codec.VariantIndexMetadata, im); err != nil {
			return "", rerr.NewRepositoryError(op, r.cfg.Name, snapshotUUID, idx.ID, err)
		}
	}

	return snapshotUUID, nil
}

// CreateShardSnapshot drives C7 for one (index, shard) pair against
// localStore, producing a new commit point and shard catalog generation.
func (r *Repository) CreateShardSnapshot(ctx context.Context, indexID string, shardNum int, name, snapshotUUID string, localStore localstore.Store) (model.CommitPoint, error) {
	const op = "CreateShardSnapshot"
	shardID := fmt.Sprintf("%s/%d", indexID, shardNum)
	if r.cfg.Readonly {
		return model.CommitPoint{}, rerr.NewRepositoryError(op, r.cfg.Name, snapshotUUID, shardID, rerr.ErrReadOnlyRepository)
	}

	shardStore := r.shardStore(indexID, shardNum)
	creator := &snapshot.Creator{
		LocalStore:     localStore,
		ShardStore:     shardStore,
		Catalog:        catalog.NewShardCatalog(shardStore),
		ChunkSize:      uint64(r.cfg.ChunkSize),
		MaxConcurrency: r.cfg.MaxConcurrentUploads,
		BytesPerSec:    int64(r.cfg.MaxSnapshotBytesPerSec),
		BlockedNs:      &r.snapshotBlockedNs,
		Metrics:        r.snapshotMetrics,
	}

	start := time.Now()
	cp, _, err := creator.Create(ctx, name, snapshotUUID)
	if r.snapshotMetrics != nil {
		r.snapshotMetrics.RecordSnapshotDuration("create", time.Since(start), err)
	}
	if err != nil {
		return model.CommitPoint{}, rerr.NewRepositoryError(op, r.cfg.Name, snapshotUUID, shardID, err)
	}
	return cp, nil
}

// FinalizeSnapshot writes the repository-level snapshot info blob and
// advances the repository catalog to reference snapshotUUID against
// every index in indexIDs.
func (r *Repository) FinalizeSnapshot(ctx context.Context, name, snapshotUUID string, indexIDs []string) (model.RepositoryData, error) {
	const op = "FinalizeSnapshot"
	if r.cfg.Readonly {
		return model.RepositoryData{}, rerr.NewRepositoryError(op, r.cfg.Name, snapshotUUID, "", rerr.ErrReadOnlyRepository)
	}

	data, err := r.index.GetRepositoryData(ctx)
	if err != nil {
		return model.RepositoryData{}, rerr.NewRepositoryError(op, r.cfg.Name, snapshotUUID, "", err)
	}

	now := time.Now()
	data.Snapshots[snapshotUUID] = model.SnapshotRecord{
		SnapshotID: model.SnapshotID{Name: name, UUID: snapshotUUID},
		State:      model.SnapshotStateSuccess,
		StartedAt:  now,
		EndedAt:    now,
	}
	for _, indexID := range indexIDs {
		data.IndexSnapshots[indexID] = appendUnique(data.IndexSnapshots[indexID], snapshotUUID)
	}

	info := model.SnapshotInfo{
		SnapshotID: model.SnapshotID{Name: name, UUID: snapshotUUID},
		State:      model.SnapshotStateSuccess,
		Indices:    indexIDs,
		StartedAt:  now,
		EndedAt:    now,
	}
	if err := r.writeMetadata(ctx, snapInfoPath(snapshotUUID), codec.VariantSnapshotInfo, info); err != nil {
		return model.RepositoryData{}, rerr.NewRepositoryError(op, r.cfg.Name, snapshotUUID, "", err)
	}

	written, err := r.index.WriteIndexGen(ctx, data, data.Generation)
	if err != nil {
		return model.RepositoryData{}, rerr.NewRepositoryError(op, r.cfg.Name, snapshotUUID, "", err)
	}
	return written, nil
}

// DeleteSnapshot removes snapshotUUID from the repository: rewrites the
// repository index (the linearization point), then for every index only
// referenced by this snapshot, rewrites each of its shard catalogs and
// sweeps orphaned data blobs, finally removing the now-empty index
// directories.
func (r *Repository) DeleteSnapshot(ctx context.Context, snapshotUUID string) error {
	const op = "DeleteSnapshot"
	if r.cfg.Readonly {
		return rerr.NewRepositoryError(op, r.cfg.Name, snapshotUUID, "", rerr.ErrReadOnlyRepository)
	}

	before, err := r.index.GetRepositoryData(ctx)
	if err != nil {
		return rerr.NewRepositoryError(op, r.cfg.Name, snapshotUUID, "", err)
	}
	onlyReferenced := before.IndicesOnlyReferencedBy(snapshotUUID)

	repoDeleter := &snapshot.RepositoryDeleter{RootStore: r.root, Index: r.index}
	if _, err := repoDeleter.Delete(ctx, snapshotUUID); err != nil {
		return rerr.NewRepositoryError(op, r.cfg.Name, snapshotUUID, "", err)
	}

	for _, indexID := range onlyReferenced {
		if err := r.deleteIndex(ctx, indexID, snapshotUUID); err != nil {
			return rerr.NewRepositoryError(op, r.cfg.Name, snapshotUUID, indexID, err)
		}
	}
	return nil
}

// deleteIndex schedules per-shard deletion of indexID's shards on the
// bounded worker pool, then removes the index metadata blob belonging to
// it. Each shard's catalog rewrite and orphan sweep is independent of
// every other shard, so they run concurrently rather than one at a time.
func (r *Repository) deleteIndex(ctx context.Context, indexID, snapshotUUID string) error {
	shardCount, err := r.indexShardCount(ctx, indexID, snapshotUUID)
	if err != nil {
		// Best-effort: the spec tolerates a missing index metadata blob
		// during delete and leaks the corresponding shards to a later
		// sweep rather than failing the whole deletion.
		return nil
	}

	p := pool.New().
		WithMaxGoroutines(maxInt(1, r.cfg.MaxConcurrentUploads)).
		WithErrors().
		WithContext(ctx).
		WithCancelOnError()
	for shardNum := 0; shardNum < shardCount; shardNum++ {
		shardNum := shardNum
		p.Go(func(ctx context.Context) error {
			shardStore := r.shardStore(indexID, shardNum)
			deleter := &snapshot.Deleter{ShardStore: shardStore, Catalog: catalog.NewShardCatalog(shardStore)}
			if _, err := deleter.DeleteFromShard(ctx, snapshotUUID); err != nil {
				return fmt.Errorf("shard %d: %w", shardNum, err)
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return err
	}

	_ = r.root.DeleteBlobIgnoringMissing(ctx, indexMetaPath(indexID, snapshotUUID))

	if fs, ok := r.rawRoot.(*localfs.Store); ok {
		_ = fs.RemoveEmptyDirs(ctx)
	}
	return nil
}

// indexShardCount reads the per-(index, snapshot) metadata blob to
// recover how many shards that index had at snapshot time.
func (r *Repository) indexShardCount(ctx context.Context, indexID, snapshotUUID string) (int, error) {
	rc, err := r.root.ReadBlob(ctx, indexMetaPath(indexID, snapshotUUID))
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	var im model.IndexMetadata
	if err := codec.Decode(rc, codec.VariantIndexMetadata, &im); err != nil {
		return 0, err
	}
	return im.ShardCount, nil
}

// Restore drives C9 against one shard's commit point for snapshotUUID,
// streaming every referenced data blob into localStore.
func (r *Repository) Restore(ctx context.Context, indexID string, shardNum int, snapshotUUID string, localStore localstore.Store, observer restore.Observer) error {
	const op = "Restore"
	shardID := fmt.Sprintf("%s/%d", indexID, shardNum)

	shardStore := r.shardStore(indexID, shardNum)
	sc, err := catalog.NewShardCatalog(shardStore).Read(ctx)
	if err != nil {
		return rerr.NewRepositoryError(op, r.cfg.Name, snapshotUUID, shardID, err)
	}

	var cp model.CommitPoint
	var found bool
	for _, candidate := range sc.CommitPoints {
		if candidate.SnapshotUUID == snapshotUUID {
			cp, found = candidate, true
			break
		}
	}
	if !found {
		return rerr.NewRepositoryError(op, r.cfg.Name, snapshotUUID, shardID, rerr.ErrSnapshotMissing)
	}

	engine := &restore.Engine{
		ShardStore:  shardStore,
		LocalStore:  localStore,
		BytesPerSec: int64(r.cfg.MaxRestoreBytesPerSec),
		BlockedNs:   &r.restoreBlockedNs,
		Observer:    observer,
	}

	start := time.Now()
	err = engine.Restore(ctx, cp)
	if r.restoreMetrics != nil {
		r.restoreMetrics.RecordRestoreDuration(time.Since(start), err)
	}
	if err != nil {
		return rerr.NewRepositoryError(op, r.cfg.Name, snapshotUUID, shardID, err)
	}
	return nil
}

// StartVerification, Verify, and EndVerification drive C10 against the
// repository root.
func (r *Repository) StartVerification(ctx context.Context) (string, error) {
	p := &verify.Prober{Store: r.root, ReadOnly: r.cfg.Readonly}
	return p.StartVerification(ctx)
}

func (r *Repository) Verify(ctx context.Context, seed, nodeID string) error {
	p := &verify.Prober{Store: r.root, ReadOnly: r.cfg.Readonly}
	return p.Verify(ctx, seed, nodeID)
}

func (r *Repository) EndVerification(ctx context.Context, seed string) error {
	p := &verify.Prober{Store: r.root, ReadOnly: r.cfg.Readonly}
	return p.EndVerification(ctx, seed)
}

// shardStore scopes the root blob store to one (index, shard) directory.
func (r *Repository) shardStore(indexID string, shardNum int) blob.Store {
	return blob.WithPrefix(r.root, fmt.Sprintf("indices/%s/%d/", indexID, shardNum))
}

func (r *Repository) writeMetadata(ctx context.Context, path string, v codec.Variant, payload any) error {
	var buf bytes.Buffer
	if err := codec.Encode(&buf, v, r.cfg.Compress, payload); err != nil {
		return err
	}
	return r.root.WriteBlobAtomic(ctx, path, &buf, int64(buf.Len()), false)
}

func globalMetaPath(snapshotUUID string) string { return fmt.Sprintf("meta-%s.dat", snapshotUUID) }
func snapInfoPath(snapshotUUID string) string   { return fmt.Sprintf("snap-%s.dat", snapshotUUID) }
func indexMetaPath(indexID, snapshotUUID string) string {
	return fmt.Sprintf("indices/%s/meta-%s.dat", indexID, snapshotUUID)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func appendUnique(uuids []string, snapshotUUID string) []string {
	for _, u := range uuids {
		if u == snapshotUUID {
			return uuids
		}
	}
	return append(uuids, snapshotUUID)
}
