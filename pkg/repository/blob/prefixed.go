package blob

import (
	"context"
	"io"
)

// prefixed wraps a Store, transparently prepending prefix to every blob
// name, so the repository-root, per-index, and per-shard directories
// described in the blob layout can each be addressed as an independent
// Store without every caller string-concatenating paths by hand.
type prefixed struct {
	inner  Store
	prefix string
}

// WithPrefix returns a Store that behaves like inner but scoped beneath
// prefix (e.g. "indices/<indexId>/<shard>/"). Close is a no-op: the
// underlying Store is owned and closed by whoever constructed it.
func WithPrefix(inner Store, prefix string) Store {
	if prefix == "" {
		return inner
	}
	return &prefixed{inner: inner, prefix: prefix}
}

func (p *prefixed) ReadBlob(ctx context.Context, name string) (io.ReadCloser, error) {
	return p.inner.ReadBlob(ctx, p.prefix+name)
}

func (p *prefixed) WriteBlob(ctx context.Context, name string, r io.Reader, length int64, failIfExists bool) error {
	return p.inner.WriteBlob(ctx, p.prefix+name, r, length, failIfExists)
}

func (p *prefixed) WriteBlobAtomic(ctx context.Context, name string, r io.Reader, length int64, failIfExists bool) error {
	return p.inner.WriteBlobAtomic(ctx, p.prefix+name, r, length, failIfExists)
}

func (p *prefixed) ListByPrefix(ctx context.Context, prefix string) (map[string]Metadata, error) {
	entries, err := p.inner.ListByPrefix(ctx, p.prefix+prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Metadata, len(entries))
	for name, meta := range entries {
		out[name[len(p.prefix):]] = meta
	}
	return out, nil
}

func (p *prefixed) DeleteBlobIgnoringMissing(ctx context.Context, name string) error {
	return p.inner.DeleteBlobIgnoringMissing(ctx, p.prefix+name)
}

func (p *prefixed) DeleteBlobsIgnoringMissing(ctx context.Context, names []string) error {
	prefixed := make([]string, len(names))
	for i, name := range names {
		prefixed[i] = p.prefix + name
	}
	return p.inner.DeleteBlobsIgnoringMissing(ctx, prefixed)
}

func (p *prefixed) Exists(ctx context.Context, name string) (bool, error) {
	return p.inner.Exists(ctx, p.prefix+name)
}

// Close is a no-op: the prefix view does not own the underlying Store.
func (p *prefixed) Close() error {
	return nil
}
