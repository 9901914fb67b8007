// Package crypto holds the payload compression and hashing primitives
// shared by the integrity pipeline and the sender-side tooling.
// Adapted from the teacher's zstd-based chunk codec: same
// compress/decompress/hash/verify shape, retargeted to gzip to match
// the wire compression algorithm the map transfer protocol uses.
package crypto

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// CompressChunk gzip-compresses data at the default compression level.
func CompressChunk(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// DecompressChunk inflates gzip-compressed data.
func DecompressChunk(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip new reader: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip decode: %w", err)
	}
	return out, nil
}

// HashChunk returns the SHA-256 hash of data as a fixed array.
func HashChunk(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// VerifyChunk hashes data and compares it to expectedHash.
func VerifyChunk(data []byte, expectedHash [32]byte) bool {
	actual := HashChunk(data)
	return actual == expectedHash
}
