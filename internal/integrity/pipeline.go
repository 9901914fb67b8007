// Package integrity implements the Integrity Pipeline (C4): the
// reassemble -> verify -> decompress -> verify -> structural-check
// sequence a completed transfer's payload must pass before the Atomic
// Store is allowed to commit it. Grounded on the original
// MapTransferManager's _reconstruct_file hash checks, generalized into
// its own component with one failure kind per step per spec.md §4.4/§7.
package integrity

import (
	"encoding/hex"
	"encoding/json"

	"github.com/atscadalab/blemap-transfer/internal/crypto"
	"github.com/atscadalab/blemap-transfer/pkg/models"
)

// structuralShape is the minimal decode target for the "is this JSON
// at all shaped like a map" check: a version int and a zones array,
// nothing more. Map zone semantics are out of scope here.
type structuralShape struct {
	Metadata struct {
		Version *int64 `json:"version"`
	} `json:"metadata"`
	Zones *[]json.RawMessage `json:"zones"`
}

// Result carries the canonical (post-decompression) bytes once every
// check has passed.
type Result struct {
	Canonical []byte
}

// Run executes the full integrity pipeline over a completed transfer
// session: reassembly is assumed already done by the caller (the
// session's Reassemble), wireHash is checked against the wire-format
// bytes, then decompression runs if metadata declares it, then the
// canonical hash is checked, then a minimal structural check runs.
func Run(wireBytes []byte, metadata models.TransferMetadata) (Result, error) {
	if err := checkWireHash(wireBytes, metadata); err != nil {
		return Result{}, err
	}

	canonical := wireBytes
	if metadata.IsCompressed() {
		decompressed, err := crypto.DecompressChunk(wireBytes)
		if err != nil {
			return Result{}, models.NewError(models.ErrDecompressFailed, "gzip decompress failed: %v", err)
		}
		canonical = decompressed
	}

	if err := checkCanonicalHash(canonical, metadata); err != nil {
		return Result{}, err
	}
	if err := checkStructural(canonical); err != nil {
		return Result{}, err
	}
	return Result{Canonical: canonical}, nil
}

func checkWireHash(wireBytes []byte, metadata models.TransferMetadata) error {
	if int64(len(wireBytes)) != metadata.WireSize() {
		return models.NewError(models.ErrReassemblyLengthMismatch,
			"reassembled %d bytes, expected %d", len(wireBytes), metadata.WireSize())
	}

	expectedHex := metadata.FileHash
	if metadata.IsCompressed() {
		expectedHex = metadata.CompressedHash
	}
	expected, err := hex.DecodeString(expectedHex)
	if err != nil || len(expected) != 32 {
		return models.NewError(models.ErrInvalidMetadata, "wire hash is not a valid sha256 hex digest")
	}
	var want [32]byte
	copy(want[:], expected)
	if !crypto.VerifyChunk(wireBytes, want) {
		return models.NewError(models.ErrWireHashMismatch, "reassembled payload does not match declared wire hash")
	}
	return nil
}

func checkCanonicalHash(canonical []byte, metadata models.TransferMetadata) error {
	if !metadata.IsCompressed() {
		return nil // wire hash check above already covered the canonical bytes
	}
	expected, err := hex.DecodeString(metadata.FileHash)
	if err != nil || len(expected) != 32 {
		return models.NewError(models.ErrInvalidMetadata, "file_hash is not a valid sha256 hex digest")
	}
	var want [32]byte
	copy(want[:], expected)
	if !crypto.VerifyChunk(canonical, want) {
		return models.NewError(models.ErrCanonicalHashMismatch, "decompressed payload does not match declared file_hash")
	}
	return nil
}

func checkStructural(canonical []byte) error {
	var shape structuralShape
	if err := json.Unmarshal(canonical, &shape); err != nil {
		return models.NewError(models.ErrStructuralInvalid, "payload is not valid JSON: %v", err)
	}
	if shape.Metadata.Version == nil {
		return models.NewError(models.ErrStructuralInvalid, "payload missing metadata.version")
	}
	if shape.Zones == nil {
		return models.NewError(models.ErrStructuralInvalid, "payload missing zones array")
	}
	return nil
}
