// Package model defines the data types shared across the repository
// engine's components: the repository-level and shard-level catalog
// records, file descriptors, and snapshot lifecycle states. None of these
// types touch I/O; they are plain value types serialized by
// pkg/repository/codec.
package model

import "time"

// SnapshotState is the lifecycle state of one snapshot as recorded in the
// repository catalog.
type SnapshotState string

const (
	SnapshotStateInProgress SnapshotState = "IN_PROGRESS"
	SnapshotStateSuccess    SnapshotState = "SUCCESS"
	SnapshotStatePartial    SnapshotState = "PARTIAL"
	SnapshotStateFailed     SnapshotState = "FAILED"
)

// SnapshotID identifies one snapshot: a human-assigned name, unique
// across all live snapshots in a repository, and an immutable opaque
// UUID used in every blob name belonging to the snapshot.
type SnapshotID struct {
	Name string
	UUID string
}

// IndexID identifies one index: a stable, repository-assigned id used in
// blob paths, plus an informational display name that may be renamed.
type IndexID struct {
	ID   string
	Name string
}

// RepositoryData is the repository-level catalog at generation N: every
// live snapshot id plus its state, and the set of index ids each
// snapshot references. Serialized as the self-describing blob
// `index-<N>` via codec.VariantRepositoryData.
type RepositoryData struct {
	Generation int64
	Snapshots  map[string]SnapshotRecord // keyed by SnapshotID.UUID
	// IndexSnapshots maps IndexID.ID to the set of snapshot UUIDs that
	// reference it. Invariant: any index referenced by a live snapshot
	// appears here exactly once.
	IndexSnapshots map[string][]string
}

// SnapshotRecord is one entry in RepositoryData.
type SnapshotRecord struct {
	SnapshotID SnapshotID
	State      SnapshotState
	StartedAt  time.Time
	EndedAt    time.Time
}

// NewRepositoryData returns an empty catalog at generation -1, the
// sentinel "no catalog has ever been written" generation; the first
// successful write produces generation 0.
func NewRepositoryData() RepositoryData {
	return RepositoryData{
		Generation:     -1,
		Snapshots:      make(map[string]SnapshotRecord),
		IndexSnapshots: make(map[string][]string),
	}
}

// Without returns a copy of d with snapshotUUID removed from Snapshots
// and from every IndexSnapshots entry, pruning any index left with no
// referencing snapshot.
func (d RepositoryData) Without(snapshotUUID string) RepositoryData {
	out := RepositoryData{
		Generation:     d.Generation,
		Snapshots:      make(map[string]SnapshotRecord, len(d.Snapshots)),
		IndexSnapshots: make(map[string][]string, len(d.IndexSnapshots)),
	}
	for uuid, rec := range d.Snapshots {
		if uuid == snapshotUUID {
			continue
		}
		out.Snapshots[uuid] = rec
	}
	for indexID, uuids := range d.IndexSnapshots {
		var kept []string
		for _, u := range uuids {
			if u != snapshotUUID {
				kept = append(kept, u)
			}
		}
		if len(kept) > 0 {
			out.IndexSnapshots[indexID] = kept
		}
	}
	return out
}

// IndicesOnlyReferencedBy returns the IndexIDs in d whose sole referencing
// snapshot is snapshotUUID.
func (d RepositoryData) IndicesOnlyReferencedBy(snapshotUUID string) []string {
	var out []string
	for indexID, uuids := range d.IndexSnapshots {
		if len(uuids) == 1 && uuids[0] == snapshotUUID {
			out = append(out, indexID)
		}
	}
	return out
}

// FileInfo describes one logical data blob belonging to a shard: its
// logical name (beginning with "__"), the physical on-disk filename it
// was sourced from, the file's length and checksum, and the part size
// used to split it across `__<uuid>.partN` blobs. Two FileInfos with
// equal (PhysicalName, Length, Checksum) describe the same underlying
// content and are reused across commit points rather than re-uploaded.
type FileInfo struct {
	Name         string // logical blob name, e.g. "__3f9a2..."
	PhysicalName string // source filename in the local store
	Length       uint64
	Checksum     string
	PartSize     uint64
}

// PartCount returns the number of parts this FileInfo was (or will be)
// split into.
func (f FileInfo) PartCount() int {
	if f.PartSize == 0 {
		if f.Length == 0 {
			return 1
		}
		return 1
	}
	n := f.Length / f.PartSize
	if f.Length%f.PartSize != 0 || n == 0 {
		n++
	}
	return int(n)
}

// IsSameContent reports whether f and other describe identical underlying
// content by the (physical name, length, checksum) identity rule.
func (f FileInfo) IsSameContent(other FileInfo) bool {
	return f.PhysicalName == other.PhysicalName && f.Length == other.Length && f.Checksum == other.Checksum
}

// CommitPoint is an immutable snapshot of one shard at one point in time:
// the snapshot name plus every FileInfo needed to reconstruct the shard.
// Serialized as `snap-<uuid>.dat` via codec.VariantShardCommitPoint.
type CommitPoint struct {
	SnapshotName string
	SnapshotUUID string
	Files        []FileInfo
}

// ShardCatalog is the shard-level catalog at generation Gen: every commit
// point recorded for this (index, shard) pair. Serialized as
// `index-<gen>` via codec.VariantShardCatalog.
type ShardCatalog struct {
	Generation   int64
	CommitPoints []CommitPoint
}

// NewShardCatalog returns an empty shard catalog at the sentinel
// generation -1.
func NewShardCatalog() ShardCatalog {
	return ShardCatalog{Generation: -1}
}

// FindPhysical returns every FileInfo across all commit points sharing
// physicalName, letting the caller pick a reusable entry by length and
// checksum.
func (c ShardCatalog) FindPhysical(physicalName string) []FileInfo {
	var out []FileInfo
	seen := make(map[string]bool)
	for _, cp := range c.CommitPoints {
		for _, f := range cp.Files {
			if f.PhysicalName == physicalName && !seen[f.Name] {
				seen[f.Name] = true
				out = append(out, f)
			}
		}
	}
	return out
}

// FindNameFile returns the FileInfo for logical blob name across all
// commit points, or false if it is unreferenced by any of them.
func (c ShardCatalog) FindNameFile(name string) (FileInfo, bool) {
	for _, cp := range c.CommitPoints {
		for _, f := range cp.Files {
			if f.Name == name {
				return f, true
			}
		}
	}
	return FileInfo{}, false
}

// WithoutSnapshot returns a copy of c with the commit point for
// snapshotUUID removed.
func (c ShardCatalog) WithoutSnapshot(snapshotUUID string) ShardCatalog {
	out := ShardCatalog{Generation: c.Generation}
	for _, cp := range c.CommitPoints {
		if cp.SnapshotUUID != snapshotUUID {
			out.CommitPoints = append(out.CommitPoints, cp)
		}
	}
	return out
}

// ReferencedNames returns the set of logical blob names referenced by any
// commit point in c, used by the garbage collector to find orphans.
func (c ShardCatalog) ReferencedNames() map[string]bool {
	out := make(map[string]bool)
	for _, cp := range c.CommitPoints {
		for _, f := range cp.Files {
			out[f.Name] = true
		}
	}
	return out
}

// GlobalMetadata is the per-snapshot cluster-wide metadata blob
// (`meta-<uuid>.dat`).
type GlobalMetadata struct {
	SnapshotUUID string
	Settings     map[string]string
}

// IndexMetadata is the per-(index,snapshot) metadata blob
// (`indices/<indexId>/meta-<uuid>.dat`).
type IndexMetadata struct {
	SnapshotUUID string
	IndexID      string
	ShardCount   int
}

// SnapshotInfo is the repository-level per-snapshot info blob
// (`snap-<uuid>.dat` at root).
type SnapshotInfo struct {
	SnapshotID SnapshotID
	State      SnapshotState
	Indices    []string
	StartedAt  time.Time
	EndedAt    time.Time
	Reason     string // failure reason, empty on success
}

// LocalFile describes one physical segment file in the node-local store
// that the creator diffs against the shard catalog, and that the
// restorer reconstructs on restore.
type LocalFile struct {
	Name     string
	Length   uint64
	Checksum string
}
