// Package codec implements the checksummed, self-describing framing used
// for every metadata/catalog blob in the repository: a fixed codec-name
// header, an optional compression marker, a JSON payload, and a trailing
// 8-byte CRC-64 checksum over header+payload. Reads verify the header and
// checksum and report rerr.ErrCorruptedRepository on mismatch.
package codec

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc64"
	"io"

	"github.com/marmos91/snapvault/pkg/repository/rerr"
)

var crcTable = crc64.MakeTable(crc64.ISO)

// magic prefixes the codec name in the header ("SNAPVAULT:<name>"),
// ahead of the version int, so a reader can validate both before
// trusting the payload.
const magic = "SNAPVAULT"

// compressedMarker, when present immediately after the header, signals the
// payload is gzip-compressed. Its absence means the payload is written
// as-is. Compression is always read-detected from this marker, never
// assumed from configuration.
const compressedMarker = byte(1)
const uncompressedMarker = byte(0)

// Variant fixes (codec-name, version) for one kind of record: global
// metadata, index metadata, snapshot info, shard commit point, shard
// catalog, or repository data. Each variant shares the same envelope but is versioned
// independently so future format changes to one kind don't collide with
// another.
type Variant struct {
	// Name is embedded in the header and must match on read.
	Name string

	// Version is embedded in the header and must match on read.
	Version int
}

var (
	// VariantGlobalMetadata frames per-snapshot global cluster metadata
	// (<base>/meta-<uuid>.dat).
	VariantGlobalMetadata = Variant{Name: "global-metadata", Version: 1}

	// VariantIndexMetadata frames per-(index,snapshot) index metadata
	// (<base>/indices/<indexId>/meta-<uuid>.dat).
	VariantIndexMetadata = Variant{Name: "index-metadata", Version: 1}

	// VariantSnapshotInfo frames the repository-level snapshot info blob
	// (<base>/snap-<uuid>.dat).
	VariantSnapshotInfo = Variant{Name: "snapshot-info", Version: 1}

	// VariantShardCommitPoint frames a per-shard commit point
	// (<base>/indices/<indexId>/<shard>/snap-<uuid>.dat).
	VariantShardCommitPoint = Variant{Name: "shard-commit-point", Version: 1}

	// VariantShardCatalog frames the shard-level generational catalog
	// (<base>/indices/<indexId>/<shard>/index-<gen>).
	VariantShardCatalog = Variant{Name: "shard-catalog", Version: 1}

	// VariantRepositoryData frames the repository-level generational
	// catalog (<base>/index-<N>).
	VariantRepositoryData = Variant{Name: "repository-data", Version: 1}
)

// Encode writes payload (any JSON-serializable value) framed for variant v
// into w. compress selects whether the payload is gzip-compressed; the
// choice is recorded in the frame so Decode never needs to be told.
func Encode(w io.Writer, v Variant, compress bool, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("codec: marshal payload: %w", err)
	}

	if compress {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(body); err != nil {
			return fmt.Errorf("codec: gzip payload: %w", err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("codec: gzip close: %w", err)
		}
		body = buf.Bytes()
	}

	var frame bytes.Buffer
	writeHeader(&frame, v)
	if compress {
		frame.WriteByte(compressedMarker)
	} else {
		frame.WriteByte(uncompressedMarker)
	}
	frame.Write(body)

	sum := crc64.Checksum(frame.Bytes(), crcTable)

	if _, err := w.Write(frame.Bytes()); err != nil {
		return fmt.Errorf("codec: write frame: %w", err)
	}
	var sumBuf [8]byte
	binary.BigEndian.PutUint64(sumBuf[:], sum)
	if _, err := w.Write(sumBuf[:]); err != nil {
		return fmt.Errorf("codec: write checksum: %w", err)
	}
	return nil
}

// Decode reads a frame written by Encode for variant v from r, verifying
// the header and checksum, and unmarshals the payload into out (a pointer).
// Any header or checksum mismatch is reported as
// rerr.ErrCorruptedRepository.
func Decode(r io.Reader, v Variant, out any) error {
	raw, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return fmt.Errorf("codec: read frame: %w", err)
	}

	if len(raw) < 8 {
		return fmt.Errorf("%w: frame too short", rerr.ErrCorruptedRepository)
	}

	body, sumBytes := raw[:len(raw)-8], raw[len(raw)-8:]
	wantSum := binary.BigEndian.Uint64(sumBytes)
	gotSum := crc64.Checksum(body, crcTable)
	if gotSum != wantSum {
		return fmt.Errorf("%w: checksum mismatch", rerr.ErrCorruptedRepository)
	}

	header, rest, err := readHeader(body)
	if err != nil {
		return fmt.Errorf("%w: %v", rerr.ErrCorruptedRepository, err)
	}
	if header.Name != v.Name || header.Version != v.Version {
		return fmt.Errorf("%w: expected codec %s v%d, got %s v%d",
			rerr.ErrCorruptedRepository, v.Name, v.Version, header.Name, header.Version)
	}

	if len(rest) < 1 {
		return fmt.Errorf("%w: missing compression marker", rerr.ErrCorruptedRepository)
	}
	marker, payload := rest[0], rest[1:]

	if marker == compressedMarker {
		gz, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("%w: gzip header: %v", rerr.ErrCorruptedRepository, err)
		}
		defer gz.Close()
		decompressed, err := io.ReadAll(gz)
		if err != nil {
			return fmt.Errorf("%w: gzip body: %v", rerr.ErrCorruptedRepository, err)
		}
		payload = decompressed
	} else if marker != uncompressedMarker {
		return fmt.Errorf("%w: unknown compression marker %d", rerr.ErrCorruptedRepository, marker)
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: payload parse: %v", rerr.ErrCorruptedRepository, err)
	}
	return nil
}

type header struct {
	Name    string
	Version int
}

func writeHeader(buf *bytes.Buffer, v Variant) {
	var nameLen [4]byte
	binary.BigEndian.PutUint32(nameLen[:], uint32(len(magic)+1+len(v.Name)))
	buf.Write(nameLen[:])
	buf.WriteString(magic)
	buf.WriteByte(':')
	buf.WriteString(v.Name)

	var versionBuf [4]byte
	binary.BigEndian.PutUint32(versionBuf[:], uint32(v.Version))
	buf.Write(versionBuf[:])
}

func readHeader(raw []byte) (header, []byte, error) {
	if len(raw) < 4 {
		return header{}, nil, fmt.Errorf("truncated header length")
	}
	nameLen := binary.BigEndian.Uint32(raw[:4])
	raw = raw[4:]
	if uint32(len(raw)) < nameLen+4 {
		return header{}, nil, fmt.Errorf("truncated header body")
	}

	nameField := string(raw[:nameLen])
	raw = raw[nameLen:]
	version := int(binary.BigEndian.Uint32(raw[:4]))
	raw = raw[4:]

	prefix := magic + ":"
	if len(nameField) < len(prefix) || nameField[:len(prefix)] != prefix {
		return header{}, nil, fmt.Errorf("bad magic %q", nameField)
	}

	return header{Name: nameField[len(prefix):], Version: version}, raw, nil
}
