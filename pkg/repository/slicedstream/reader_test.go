package slicedstream

import (
	"bytes"
	"io"
	"testing"
)

func TestReaderConcatenatesSlices(t *testing.T) {
	slices := [][]byte{[]byte("abc"), []byte(""), []byte("defgh")}
	opens := 0

	r := New(len(slices), func(i int) (io.ReadCloser, error) {
		opens++
		return io.NopCloser(bytes.NewReader(slices[i])), nil
	})

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "abcdefgh" {
		t.Errorf("got %q, want %q", got, "abcdefgh")
	}
	if opens != len(slices) {
		t.Errorf("opened %d slices, want %d", opens, len(slices))
	}
}

func TestReaderZeroSlices(t *testing.T) {
	r := New(0, func(i int) (io.ReadCloser, error) {
		t.Fatal("should never open a slice")
		return nil, nil
	})

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %q, want empty", got)
	}
}

func TestReaderStopsOpeningAfterClose(t *testing.T) {
	opens := 0
	r := New(3, func(i int) (io.ReadCloser, error) {
		opens++
		return io.NopCloser(bytes.NewReader([]byte("x"))), nil
	})

	buf := make([]byte, 1)
	if _, err := r.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := r.Read(buf); err == nil {
		t.Error("expected error reading after close")
	}
	if opens != 1 {
		t.Errorf("opened %d slices before close, want 1", opens)
	}
}
