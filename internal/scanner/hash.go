package scanner

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"

	"github.com/soficis/forge-meta-link/internal/filesystem"
)

const quickHashSampleBytes = 64 * 1024

// QuickHash computes a fast, HDD-friendly content fingerprint from
// sampled bytes: SHA-256 over the file size, the first 64 KiB, and
// the last 64 KiB, truncated to 24 hex characters. Cheaper than
// hashing the whole file and good enough for duplicate-candidate
// grouping.
//
// sizeHint skips a stat call when the caller already knows the size;
// pass 0 to look it up. Returns "" when the file is empty or cannot
// be read.
func QuickHash(path string, sizeHint int64) string {
	file, err := filesystem.Open(path, filesystem.DefaultRetryConfig())
	if err != nil {
		return ""
	}
	defer file.Close()

	size := sizeHint
	if size <= 0 {
		info, err := file.Stat()
		if err != nil {
			return ""
		}
		size = info.Size()
	}
	if size <= 0 {
		return ""
	}

	sampleLen := size
	if sampleLen > quickHashSampleBytes {
		sampleLen = quickHashSampleBytes
	}

	hasher := sha256.New()
	var sizeLE [8]byte
	binary.LittleEndian.PutUint64(sizeLE[:], uint64(size))
	hasher.Write(sizeLE[:])

	head := make([]byte, sampleLen)
	if _, err := io.ReadFull(file, head); err != nil {
		return ""
	}
	hasher.Write(head)

	if size > quickHashSampleBytes {
		tail := make([]byte, sampleLen)
		if _, err := file.ReadAt(tail, size-sampleLen); err != nil {
			return ""
		}
		hasher.Write(tail)
	}

	return hex.EncodeToString(hasher.Sum(nil))[:24]
}
