package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/marmos91/snapvault/pkg/repository/blob/memblob"
	"github.com/marmos91/snapvault/pkg/repository/rerr"
)

func TestVerifyRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memblob.New()
	p := &Prober{Store: store}

	seed, err := p.StartVerification(ctx)
	if err != nil {
		t.Fatalf("StartVerification: %v", err)
	}
	if seed == readOnlySeed {
		t.Fatal("expected a generated seed for a writable repository")
	}

	if err := p.Verify(ctx, seed, "node-a"); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	snap := store.Snapshot()
	if len(snap) != 2 {
		t.Errorf("expected master.dat + data-node-a.dat, got %d entries: %v", len(snap), snap)
	}

	if err := p.EndVerification(ctx, seed); err != nil {
		t.Fatalf("EndVerification: %v", err)
	}
	if len(store.Snapshot()) != 0 {
		t.Errorf("expected scratch blobs removed, got %v", store.Snapshot())
	}
}

func TestVerifyFailsIfMasterMissing(t *testing.T) {
	ctx := context.Background()
	store := memblob.New()
	p := &Prober{Store: store}

	err := p.Verify(ctx, "some-seed-nobody-wrote", "node-a")
	if !errors.Is(err, rerr.ErrRepositoryVerification) {
		t.Errorf("got %v, want ErrRepositoryVerification", err)
	}
}

func TestReadOnlyStartVerificationIsSentinel(t *testing.T) {
	ctx := context.Background()
	store := memblob.New()
	p := &Prober{Store: store, ReadOnly: true}

	seed, err := p.StartVerification(ctx)
	if err != nil {
		t.Fatalf("StartVerification: %v", err)
	}
	if seed != readOnlySeed {
		t.Errorf("got seed %q, want %q", seed, readOnlySeed)
	}

	if err := p.Verify(ctx, seed, "node-a"); err != nil {
		t.Errorf("Verify on read-only sentinel should be a no-op: %v", err)
	}
	if err := p.EndVerification(ctx, seed); err != nil {
		t.Errorf("EndVerification on read-only sentinel should be a no-op: %v", err)
	}
	if len(store.Snapshot()) != 0 {
		t.Error("read-only verification must never write blobs")
	}
}

func TestReadOnlyStartVerificationFallsBackToIndexLatest(t *testing.T) {
	ctx := context.Background()
	store := memblob.NewListingUnsupported()
	p := &Prober{Store: store, ReadOnly: true}

	seed, err := p.StartVerification(ctx)
	if err != nil {
		t.Fatalf("StartVerification should succeed via the index.latest reachability fallback: %v", err)
	}
	if seed != readOnlySeed {
		t.Errorf("got seed %q, want %q", seed, readOnlySeed)
	}
}
