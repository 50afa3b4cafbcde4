// Package gc implements the blob-store side of C8's cleanup sweep: after a
// shard catalog has been rewritten without a deleted snapshot's commit
// point, any data blob no longer referenced by a remaining commit point is
// an orphan and can be removed. Grounded on the teacher's
// pkg/payload/gc.CollectGarbage (list-by-prefix, group, check against
// metadata, delete orphans), adapted from NFS payload-id/metadata-store
// reconciliation to shard-catalog FileInfo reconciliation.
package gc

import (
	"context"
	"strings"

	"github.com/marmos91/snapvault/internal/logger"
	"github.com/marmos91/snapvault/pkg/repository/blob"
	"github.com/marmos91/snapvault/pkg/repository/model"
)

// Stats summarizes one sweep.
type Stats struct {
	BlobsScanned   int
	OrphanBlobs    int
	BytesReclaimed int64
	Errors         int
}

// Options configures a sweep.
type Options struct {
	// DryRun, if true, only reports orphans without deleting them.
	DryRun bool
}

// dataBlobPrefix is the common prefix of every per-shard data blob; "__"
// plus its opaque uuid, optionally followed by ".partN". Catalog blobs
// (index-N, snap-<uuid>.dat) never share this prefix, so listing it never
// risks mistaking a catalog entry for a data blob.
const dataBlobPrefix = "__"

// Sweep lists every data blob under shardStore, strips part suffixes to
// recover each blob's logical name, and deletes any logical name absent
// from referenced (normally catalog.ReferencedNames() after a commit point
// has been removed). Blobs belonging to a logical name that is still
// referenced are left untouched even if only some of their parts were
// listed, since a partial listing race is resolved by re-checking
// membership per part rather than per group.
func Sweep(ctx context.Context, shardStore blob.Store, referenced map[string]bool, opts Options) (Stats, error) {
	stats := Stats{}

	entries, err := shardStore.ListByPrefix(ctx, dataBlobPrefix)
	if err != nil {
		return stats, err
	}
	if len(entries) == 0 {
		return stats, nil
	}

	logger.Debug("gc: scanning shard data blobs", "count", len(entries))

	var orphans []string
	for name, meta := range entries {
		stats.BlobsScanned++
		logicalName := logicalNameOf(name)
		if referenced[logicalName] {
			continue
		}
		orphans = append(orphans, name)
		stats.OrphanBlobs++
		stats.BytesReclaimed += meta.Length
	}

	if len(orphans) == 0 {
		return stats, nil
	}

	logger.Debug("gc: found orphan blobs", "count", len(orphans), "dryRun", opts.DryRun)

	if opts.DryRun {
		return stats, nil
	}

	if err := shardStore.DeleteBlobsIgnoringMissing(ctx, orphans); err != nil {
		stats.Errors++
		return stats, err
	}

	return stats, nil
}

// logicalNameOf strips a ".partN" suffix, if present, recovering the
// logical blob name a part belongs to.
func logicalNameOf(blobName string) string {
	if idx := strings.Index(blobName, ".part"); idx > 0 {
		return blobName[:idx]
	}
	return blobName
}

// ReferencedNamesAfterRemoval is a convenience wrapper for C8: the set of
// logical blob names still referenced once snapshotUUID's commit point is
// removed from sc.
func ReferencedNamesAfterRemoval(sc model.ShardCatalog, snapshotUUID string) map[string]bool {
	return sc.WithoutSnapshot(snapshotUUID).ReferencedNames()
}
