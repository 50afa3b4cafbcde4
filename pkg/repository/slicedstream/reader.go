package slicedstream

import (
	"fmt"
	"io"
)

// OpenFunc opens slice i of a sliced stream, returning a fresh reader for
// that slice's bytes. It is the overridable hook referenced by the C4
// design: callers typically bind it to a blob store's read_blob for part
// name PartName(blobName, i, n).
type OpenFunc func(i int) (io.ReadCloser, error)

// Reader presents N numbered slices, opened lazily via OpenFunc, as one
// logically contiguous input stream. Slice 0 is opened on the first Read;
// each subsequent slice is opened only once the prior one is exhausted, so
// an aborted read never opens slices past the point of cancellation.
type Reader struct {
	open    OpenFunc
	n       int
	current int
	cur     io.ReadCloser
	closed  bool
}

// New constructs a sliced reader over n slices, numbered 0..n-1.
func New(n int, open OpenFunc) *Reader {
	return &Reader{open: open, n: n, current: -1}
}

// Read implements io.Reader, advancing across slice boundaries transparently.
func (r *Reader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, fmt.Errorf("slicedstream: read after close")
	}

	for {
		if r.cur == nil {
			if err := r.openNext(); err != nil {
				return 0, err
			}
			if r.cur == nil {
				return 0, io.EOF
			}
		}

		n, err := r.cur.Read(p)
		if n > 0 {
			return n, nil
		}
		if err == io.EOF {
			r.cur.Close()
			r.cur = nil
			continue
		}
		if err != nil {
			return 0, err
		}
	}
}

// openNext opens the next unread slice, or leaves cur nil once all slices
// are exhausted.
func (r *Reader) openNext() error {
	r.current++
	if r.current >= r.n {
		return nil
	}

	rc, err := r.open(r.current)
	if err != nil {
		return fmt.Errorf("slicedstream: open slice %d: %w", r.current, err)
	}
	r.cur = rc
	return nil
}

// Close releases the currently open slice, if any. It does not open or
// close slices that were never read.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.cur != nil {
		err := r.cur.Close()
		r.cur = nil
		return err
	}
	return nil
}
