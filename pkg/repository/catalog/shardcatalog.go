package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/marmos91/snapvault/pkg/repository/blob"
	"github.com/marmos91/snapvault/pkg/repository/codec"
	"github.com/marmos91/snapvault/pkg/repository/model"
	"github.com/marmos91/snapvault/pkg/repository/rerr"
)

const (
	shardIndexPrefix = "index-"
	shardSnapPrefix  = "snap-"
	shardSnapSuffix  = ".dat"
)

// ShardCatalog reads and writes the per-(index,shard) generational
// catalog (C6) against a blob.Store rooted at that shard's directory.
type ShardCatalog struct {
	store blob.Store
}

// NewShardCatalog returns a ShardCatalog backed by store, which must
// already be scoped to one shard's directory (e.g. via a key-prefixed
// blob.Store).
func NewShardCatalog(store blob.Store) *ShardCatalog {
	return &ShardCatalog{store: store}
}

// Read implements the catalog read policy: list the shard directory,
// find the largest index-<gen>, and decode it. If no index-<gen> exists
// but commit points do, rebuild via RebuildFromCommitPoints (the
// recovery path). If a readable index-<gen> exists it is authoritative
// and commit points are never cross-checked against it.
func (c *ShardCatalog) Read(ctx context.Context) (model.ShardCatalog, error) {
	entries, err := c.store.ListByPrefix(ctx, shardIndexPrefix)
	if err != nil {
		return model.ShardCatalog{}, fmt.Errorf("catalog: list shard catalog: %w", err)
	}

	gen := largestGeneration(entries, shardIndexPrefix)
	if gen < 0 {
		return c.RebuildFromCommitPoints(ctx)
	}

	rc, err := c.store.ReadBlob(ctx, genName(shardIndexPrefix, gen))
	if err != nil {
		return model.ShardCatalog{}, fmt.Errorf("catalog: read shard index-%d: %w", gen, err)
	}
	defer rc.Close()

	var sc model.ShardCatalog
	if err := codec.Decode(rc, codec.VariantShardCatalog, &sc); err != nil {
		return model.ShardCatalog{}, err
	}
	sc.Generation = gen
	return sc, nil
}

// RebuildFromCommitPoints is the single-writer-only recovery path:
// reconstruct a shard catalog by reading every snap-<uuid>.dat commit
// point directly, used only when no index-<gen> blob exists. Its
// interaction with concurrent writers is undefined and it must never be
// invoked from the concurrent write path (see DESIGN.md).
func (c *ShardCatalog) RebuildFromCommitPoints(ctx context.Context) (model.ShardCatalog, error) {
	entries, err := c.store.ListByPrefix(ctx, shardSnapPrefix)
	if err != nil {
		return model.ShardCatalog{}, fmt.Errorf("catalog: list commit points: %w", err)
	}

	sc := model.NewShardCatalog()
	for name := range entries {
		if !strings.HasSuffix(name, shardSnapSuffix) {
			continue
		}
		rc, err := c.store.ReadBlob(ctx, name)
		if err != nil {
			return model.ShardCatalog{}, fmt.Errorf("catalog: read commit point %s: %w", name, err)
		}
		var cp model.CommitPoint
		decodeErr := codec.Decode(rc, codec.VariantShardCommitPoint, &cp)
		rc.Close()
		if decodeErr != nil {
			return model.ShardCatalog{}, decodeErr
		}
		sc.CommitPoints = append(sc.CommitPoints, cp)
	}
	return sc, nil
}

// WriteCommitPoint writes a shard commit point (snap-<uuid>.dat) with
// fail_if_exists=false: re-invoking finalize for the same snapshot uuid
// after a master failover is idempotent at this step.
func (c *ShardCatalog) WriteCommitPoint(ctx context.Context, cp model.CommitPoint) error {
	var buf strings.Builder
	if err := codec.Encode(&buf, codec.VariantShardCommitPoint, true, cp); err != nil {
		return fmt.Errorf("catalog: encode commit point %s: %w", cp.SnapshotUUID, err)
	}
	body := buf.String()

	name := shardSnapPrefix + cp.SnapshotUUID + shardSnapSuffix
	if err := c.store.WriteBlobAtomic(ctx, name, strings.NewReader(body), int64(len(body)), false); err != nil {
		return fmt.Errorf("catalog: write commit point %s: %w", name, err)
	}
	return nil
}

// WriteGen writes the new shard catalog generation (expectedGen+1)
// atomically with fail-if-exists, mirroring RepositoryIndex.WriteIndexGen.
// Unlike the repository index there is no best-effort index.latest
// pointer at shard scope: shard catalogs are always listed, never
// URL-backed read-only stores.
func (c *ShardCatalog) WriteGen(ctx context.Context, sc model.ShardCatalog, expectedGen int64) (model.ShardCatalog, error) {
	entries, err := c.store.ListByPrefix(ctx, shardIndexPrefix)
	if err != nil {
		return model.ShardCatalog{}, fmt.Errorf("catalog: list shard catalog: %w", err)
	}
	current := largestGeneration(entries, shardIndexPrefix)
	if current != expectedGen {
		return model.ShardCatalog{}, fmt.Errorf("catalog: shard catalog at generation %d, expected %d: %w",
			current, expectedGen, rerr.ErrConcurrentModification)
	}

	newGen := expectedGen + 1
	sc.Generation = newGen

	var buf strings.Builder
	if err := codec.Encode(&buf, codec.VariantShardCatalog, true, sc); err != nil {
		return model.ShardCatalog{}, fmt.Errorf("catalog: encode shard index-%d: %w", newGen, err)
	}
	body := buf.String()

	if err := c.store.WriteBlobAtomic(ctx, genName(shardIndexPrefix, newGen), strings.NewReader(body), int64(len(body)), true); err != nil {
		return model.ShardCatalog{}, fmt.Errorf("catalog: write shard index-%d: %w", newGen, err)
	}

	if newGen-2 >= 0 {
		_ = c.store.DeleteBlobIgnoringMissing(ctx, genName(shardIndexPrefix, newGen-2))
	}

	return sc, nil
}

// DeleteCommitPointAndGlobal best-effort deletes the root-level
// per-snapshot blobs (snap-<uuid>.dat, meta-<uuid>.dat), ignoring missing
// entries, used by the deleter (C8) against the repository-root store.
func DeleteCommitPointAndGlobal(ctx context.Context, rootStore blob.Store, snapshotUUID string) error {
	names := []string{
		shardSnapPrefix + snapshotUUID + shardSnapSuffix,
		"meta-" + snapshotUUID + shardSnapSuffix,
	}
	return rootStore.DeleteBlobsIgnoringMissing(ctx, names)
}
