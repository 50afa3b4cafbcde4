// Package catalog implements the two generational catalogs the engine
// reconciles on every snapshot transition: the repository-level index
// (C5, this file) and the shard-level catalog (C6, shardcatalog.go).
// Both share the same generation-number CAS discipline: read the latest
// generation, write N+1 with fail-if-exists, and best-effort prune the
// generation before last.
package catalog

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/marmos91/snapvault/pkg/repository/blob"
	"github.com/marmos91/snapvault/pkg/repository/codec"
	"github.com/marmos91/snapvault/pkg/repository/model"
	"github.com/marmos91/snapvault/pkg/repository/rerr"
)

const (
	repoIndexPrefix = "index-"
	repoIndexLatest = "index.latest"
)

// RepositoryIndex reads and writes the repository-level generational
// catalog (C5) against a blob.Store rooted at the repository base path.
type RepositoryIndex struct {
	store blob.Store
}

// NewRepositoryIndex returns a RepositoryIndex backed by store.
func NewRepositoryIndex(store blob.Store) *RepositoryIndex {
	return &RepositoryIndex{store: store}
}

// latestGeneration determines the latest written generation: first by
// listing and parsing the largest "index-N" suffix, falling back to the
// best-effort index.latest pointer if listing is unsupported. Returns -1
// if no catalog has ever been written.
func (r *RepositoryIndex) latestGeneration(ctx context.Context) (int64, error) {
	entries, err := r.store.ListByPrefix(ctx, repoIndexPrefix)
	if err == nil {
		return largestGeneration(entries, repoIndexPrefix), nil
	}
	if !isListingUnsupported(err) {
		return 0, fmt.Errorf("catalog: list repository index: %w", err)
	}

	rc, readErr := r.store.ReadBlob(ctx, repoIndexLatest)
	if readErr != nil {
		if isNotFound(readErr) {
			return -1, nil
		}
		return 0, fmt.Errorf("catalog: read index.latest: %w", readErr)
	}
	defer rc.Close()

	var buf [8]byte
	if _, err := io.ReadFull(rc, buf[:]); err != nil {
		return 0, fmt.Errorf("catalog: parse index.latest: %w", err)
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

// GetRepositoryData implements get_repository_data: determine the latest
// generation and read+decode it. Returns an empty RepositoryData at
// generation -1 if no catalog has ever been written.
func (r *RepositoryIndex) GetRepositoryData(ctx context.Context) (model.RepositoryData, error) {
	gen, err := r.latestGeneration(ctx)
	if err != nil {
		return model.RepositoryData{}, err
	}
	if gen < 0 {
		return model.NewRepositoryData(), nil
	}
	return r.readGeneration(ctx, gen)
}

func (r *RepositoryIndex) readGeneration(ctx context.Context, gen int64) (model.RepositoryData, error) {
	rc, err := r.store.ReadBlob(ctx, genName(repoIndexPrefix, gen))
	if err != nil {
		return model.RepositoryData{}, fmt.Errorf("catalog: read %s: %w", genName(repoIndexPrefix, gen), err)
	}
	defer rc.Close()

	var data model.RepositoryData
	if err := codec.Decode(rc, codec.VariantRepositoryData, &data); err != nil {
		return model.RepositoryData{}, err
	}
	data.Generation = gen
	return data, nil
}

// ReadGeneration is an explicit downgrade read of a specific prior
// generation, used to recover when the latest generation's payload is
// corrupt (TESTABLE PROPERTIES scenario 5: index-<N-1> remains readable).
func (r *RepositoryIndex) ReadGeneration(ctx context.Context, gen int64) (model.RepositoryData, error) {
	return r.readGeneration(ctx, gen)
}

// WriteIndexGen implements write_index_gen: re-read the latest
// generation and fail with ErrConcurrentModification if it differs
// from expectedGen, write the new generation with fail-if-exists, update
// the best-effort index.latest pointer, then best-effort prune the
// generation before last.
func (r *RepositoryIndex) WriteIndexGen(ctx context.Context, data model.RepositoryData, expectedGen int64) (model.RepositoryData, error) {
	current, err := r.latestGeneration(ctx)
	if err != nil {
		return model.RepositoryData{}, err
	}
	if current != expectedGen {
		return model.RepositoryData{}, fmt.Errorf("catalog: repository index at generation %d, expected %d: %w",
			current, expectedGen, rerr.ErrConcurrentModification)
	}

	newGen := expectedGen + 1
	data.Generation = newGen

	var buf strings.Builder
	if err := codec.Encode(&buf, codec.VariantRepositoryData, true, data); err != nil {
		return model.RepositoryData{}, fmt.Errorf("catalog: encode repository index gen %d: %w", newGen, err)
	}
	body := buf.String()

	if err := r.store.WriteBlobAtomic(ctx, genName(repoIndexPrefix, newGen), strings.NewReader(body), int64(len(body)), true); err != nil {
		return model.RepositoryData{}, fmt.Errorf("catalog: write index-%d: %w", newGen, err)
	}

	var latestBuf [8]byte
	binary.BigEndian.PutUint64(latestBuf[:], uint64(newGen))
	_ = r.store.WriteBlobAtomic(ctx, repoIndexLatest, bytes.NewReader(latestBuf[:]), int64(len(latestBuf)), false)

	if newGen-2 >= 0 {
		_ = r.store.DeleteBlobIgnoringMissing(ctx, genName(repoIndexPrefix, newGen-2))
	}

	return data, nil
}

func genName(prefix string, gen int64) string {
	return fmt.Sprintf("%s%d", prefix, gen)
}

// largestGeneration parses every "<prefix><N>" entry and returns the
// largest N found, or -1 if entries is empty or none parse.
func largestGeneration(entries map[string]blob.Metadata, prefix string) int64 {
	best := int64(-1)
	for name := range entries {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		suffix := name[len(prefix):]
		n, err := strconv.ParseInt(suffix, 10, 64)
		if err != nil {
			continue
		}
		if n > best {
			best = n
		}
	}
	return best
}

func isListingUnsupported(err error) bool {
	return err != nil && errors.Is(err, rerr.ErrListingUnsupported)
}

func isNotFound(err error) bool {
	return err != nil && errors.Is(err, rerr.ErrBlobNotFound)
}
