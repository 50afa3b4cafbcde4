package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/marmos91/snapvault/pkg/repository/rerr"
)

type samplePayload struct {
	Name  string
	Count int
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		var buf bytes.Buffer
		in := samplePayload{Name: "foo", Count: 42}
		if err := Encode(&buf, VariantSnapshotInfo, compress, in); err != nil {
			t.Fatalf("Encode(compress=%v): %v", compress, err)
		}

		var out samplePayload
		if err := Decode(&buf, VariantSnapshotInfo, &out); err != nil {
			t.Fatalf("Decode(compress=%v): %v", compress, err)
		}
		if out != in {
			t.Errorf("compress=%v: got %+v, want %+v", compress, out, in)
		}
	}
}

func TestDecodeWrongVariantIsCorrupted(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, VariantSnapshotInfo, false, samplePayload{Name: "x"}); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var out samplePayload
	err := Decode(&buf, VariantShardCatalog, &out)
	if !errors.Is(err, rerr.ErrCorruptedRepository) {
		t.Errorf("Decode with mismatched variant: got %v, want ErrCorruptedRepository", err)
	}
}

func TestDecodeTamperedPayloadIsCorrupted(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, VariantSnapshotInfo, false, samplePayload{Name: "x"}); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	raw := buf.Bytes()
	raw[len(raw)-9] ^= 0xFF // flip the last payload byte, just before the checksum

	var out samplePayload
	err := Decode(bytes.NewReader(raw), VariantSnapshotInfo, &out)
	if !errors.Is(err, rerr.ErrCorruptedRepository) {
		t.Errorf("Decode tampered frame: got %v, want ErrCorruptedRepository", err)
	}
}
