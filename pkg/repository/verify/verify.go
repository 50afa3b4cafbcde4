// Package verify implements the repository verification probe (C10): a
// smoke test that every node in the cluster can reach the same blob
// store, either by a read-only listing check or by round-tripping a
// per-node marker blob under a scratch prefix. Grounded on the teacher's
// HeadBucket-based access check in pkg/repository/blob/s3store.New,
// generalized here into a multi-node write/verify/cleanup protocol.
package verify

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/marmos91/snapvault/pkg/repository/blob"
	"github.com/marmos91/snapvault/pkg/repository/rerr"
)

// readOnlySeed is the sentinel seed returned by StartVerification against
// a read-only repository: no scratch blobs are ever written for it, and
// Verify/EndVerification recognize it and become no-ops.
const readOnlySeed = "read-only"

const testPrefixBase = "temp-verify-"

// Prober runs the verification protocol against a blob.Store scoped to
// the repository's base path.
type Prober struct {
	Store    blob.Store
	ReadOnly bool
}

// StartVerification begins a verification round. Against a read-only
// repository it only smoke-reads the index (listing index-* blobs, or
// checking index.latest where listing is unsupported) and returns the
// readOnlySeed sentinel. Otherwise it generates a fresh seed and writes a
// master.dat marker blob under that seed's scratch prefix.
func (p *Prober) StartVerification(ctx context.Context) (string, error) {
	if p.ReadOnly {
		if err := p.smokeRead(ctx); err != nil {
			return "", fmt.Errorf("verify: read-only smoke read: %w: %w", rerr.ErrRepositoryVerification, err)
		}
		return readOnlySeed, nil
	}

	seed, err := newSeed()
	if err != nil {
		return "", fmt.Errorf("verify: generate seed: %w", err)
	}

	marker := make([]byte, 16)
	if _, err := rand.Read(marker); err != nil {
		return "", fmt.Errorf("verify: generate marker: %w", err)
	}

	path := masterPath(seed)
	if err := p.Store.WriteBlobAtomic(ctx, path, bytes.NewReader(marker), int64(len(marker)), false); err != nil {
		return "", fmt.Errorf("verify: write %s: %w: %w", path, rerr.ErrRepositoryVerification, err)
	}
	return seed, nil
}

// Verify asserts the master.dat blob written by StartVerification is
// reachable from this node, then writes this node's own marker blob under
// the same scratch prefix.
func (p *Prober) Verify(ctx context.Context, seed, nodeID string) error {
	if seed == readOnlySeed {
		return nil
	}

	path := masterPath(seed)
	exists, err := p.Store.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("verify: check %s: %w: %w", path, rerr.ErrRepositoryVerification, err)
	}
	if !exists {
		return fmt.Errorf("verify: %s not visible from this node: %w", path, rerr.ErrRepositoryVerification)
	}

	dataPath := dataPath(seed, nodeID)
	marker := []byte(nodeID)
	if err := p.Store.WriteBlobAtomic(ctx, dataPath, bytes.NewReader(marker), int64(len(marker)), false); err != nil {
		return fmt.Errorf("verify: write %s: %w: %w", dataPath, rerr.ErrRepositoryVerification, err)
	}
	return nil
}

// EndVerification deletes every scratch blob written under seed's prefix.
func (p *Prober) EndVerification(ctx context.Context, seed string) error {
	if seed == readOnlySeed {
		return nil
	}

	prefix := testPrefixBase + seed + "/"
	entries, err := p.Store.ListByPrefix(ctx, prefix)
	if err != nil {
		if isListingUnsupported(err) {
			// Best-effort: at minimum remove the blobs this probe itself
			// knows it wrote.
			return p.Store.DeleteBlobIgnoringMissing(ctx, masterPath(seed))
		}
		return fmt.Errorf("verify: list %s: %w", prefix, err)
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	return p.Store.DeleteBlobsIgnoringMissing(ctx, names)
}

func (p *Prober) smokeRead(ctx context.Context) error {
	_, err := p.Store.ListByPrefix(ctx, "index-")
	if err == nil {
		return nil
	}
	if isListingUnsupported(err) {
		_, readErr := p.Store.Exists(ctx, "index.latest")
		return readErr
	}
	return err
}

func masterPath(seed string) string {
	return testPrefixBase + seed + "/master.dat"
}

func dataPath(seed, nodeID string) string {
	return testPrefixBase + seed + "/data-" + sanitizeNodeID(nodeID) + ".dat"
}

// sanitizeNodeID strips path separators from nodeID so it can never
// escape the scratch prefix.
func sanitizeNodeID(nodeID string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(nodeID)
}

func newSeed() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func isListingUnsupported(err error) bool {
	return err != nil && errors.Is(err, rerr.ErrListingUnsupported)
}
