// Package chunker splits an in-memory payload into fixed-size pieces
// for the terminal-side sender CLI. Adapted from the teacher's
// file-based ChunkerConfig: the clamp/normalize sizing logic survives
// unchanged, but the file-reading and AI-predicted chunk sizing (a
// Hugging Face call and a local ML microservice call) are gone — an
// offline embedded BLE device has no business reaching either, and the
// map transfer protocol's chunk_size is negotiated by the coordinator,
// not guessed by a heuristic.
package chunker

import (
	"crypto/sha256"
)

// Config controls how an in-memory payload is split into chunks.
type Config struct {
	MinChunkSize     int
	MaxChunkSize     int
	DefaultChunkSize int
}

// normalize ensures sane defaults for the config.
func (c *Config) normalize() {
	if c.MinChunkSize == 0 {
		c.MinChunkSize = 64
	}
	if c.MaxChunkSize == 0 {
		c.MaxChunkSize = 512
	}
	if c.DefaultChunkSize == 0 {
		c.DefaultChunkSize = 400
	}
	if c.DefaultChunkSize < c.MinChunkSize {
		c.DefaultChunkSize = c.MinChunkSize
	}
	if c.DefaultChunkSize > c.MaxChunkSize {
		c.DefaultChunkSize = c.MaxChunkSize
	}
}

// ClampSize ensures a requested chunk size respects Min/Max
// constraints, falling back to DefaultChunkSize when size <= 0.
func (c *Config) ClampSize(size int) int {
	c.normalize()
	if size <= 0 {
		size = c.DefaultChunkSize
	}
	if size < c.MinChunkSize {
		size = c.MinChunkSize
	}
	if size > c.MaxChunkSize {
		size = c.MaxChunkSize
	}
	return size
}

// Chunk is a single piece of a split payload.
type Chunk struct {
	Index   int
	Payload []byte
}

// SplitBytes splits payload into chunkSize-byte pieces, clamped to the
// configured bounds. The final chunk holds the remainder.
func SplitBytes(cfg Config, payload []byte, chunkSize int) []Chunk {
	chunkSize = cfg.ClampSize(chunkSize)
	if len(payload) == 0 {
		return nil
	}

	total := (len(payload) + chunkSize - 1) / chunkSize
	chunks := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		buf := make([]byte, end-start)
		copy(buf, payload[start:end])
		chunks = append(chunks, Chunk{Index: i, Payload: buf})
	}
	return chunks
}

// HashChunk computes the SHA-256 hash for a given chunk.
func HashChunk(chunk []byte) [32]byte {
	return sha256.Sum256(chunk)
}
