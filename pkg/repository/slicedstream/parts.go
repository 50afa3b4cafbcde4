// Package slicedstream implements the part-numbering math and the
// composite stream reader used to upload and restore a single data blob
// split across one or more chunk-sized parts.
package slicedstream

import "strconv"

// PartCount returns the number of parts a file of the given length is split
// into under chunkSize. A zero-length file still occupies one (empty) part.
//
//	PartCount(100, 4096)  → 1
//	PartCount(5000, 4096) → 2
func PartCount(length, chunkSize uint64) int {
	if chunkSize == 0 {
		return 1
	}
	if length == 0 {
		return 1
	}
	return int((length + chunkSize - 1) / chunkSize)
}

// PartBounds returns the [start, end) byte range, in file coordinates, that
// part index i covers for a file of the given length split at chunkSize.
func PartBounds(i int, length, chunkSize uint64) (start, end uint64) {
	if chunkSize == 0 {
		return 0, length
	}
	start = uint64(i) * chunkSize
	end = min(start+chunkSize, length)
	return start, end
}

// PartName returns the blob name for part i of a data blob named blobName.
// A single-part file is stored under the plain blob name; multi-part files
// use the "<blobName>.part<i>" naming convention (0-indexed).
func PartName(blobName string, i, total int) string {
	if total <= 1 {
		return blobName
	}
	return blobName + ".part" + strconv.Itoa(i)
}
