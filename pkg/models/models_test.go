package models

import "testing"

func TestTransferMetadataValidate(t *testing.T) {
	m := TransferMetadata{FileSize: 1024, FileHash: "abc", Version: 1}
	if err := m.Validate(); err != nil {
		t.Fatalf("expected valid metadata, got error: %v", err)
	}

	m.FileSize = 0
	if err := m.Validate(); err == nil {
		t.Fatalf("expected error for zero file_size")
	}
}

func TestTransferMetadataValidateGzipRequiresFields(t *testing.T) {
	m := TransferMetadata{FileSize: 1024, FileHash: "abc", Version: 1, Compression: CompressionGzip}
	if err := m.Validate(); err == nil {
		t.Fatalf("expected error: gzip compression without compressed_size/compressed_hash")
	}

	m.CompressedSize = 512
	m.CompressedHash = "def"
	if err := m.Validate(); err != nil {
		t.Fatalf("expected valid metadata with compressed fields set, got: %v", err)
	}
}

func TestWireSize(t *testing.T) {
	m := TransferMetadata{FileSize: 1024, Version: 1, FileHash: "abc"}
	if got := m.WireSize(); got != 1024 {
		t.Fatalf("expected wire size 1024, got %d", got)
	}

	m.Compression = CompressionGzip
	m.CompressedSize = 256
	if got := m.WireSize(); got != 256 {
		t.Fatalf("expected wire size 256 for compressed transfer, got %d", got)
	}
}

func newSession(chunkSize int, wireSize int64) *TransferSession {
	total := int((wireSize + int64(chunkSize) - 1) / int64(chunkSize))
	return &TransferSession{
		SessionID:   "s1",
		State:       StateReceiving,
		Metadata:    TransferMetadata{FileSize: wireSize, FileHash: "abc", Version: 1},
		ChunkSize:   chunkSize,
		TotalChunks: total,
		Received:    make(map[int][]byte),
	}
}

func TestExpectedChunkLengthLastShort(t *testing.T) {
	s := newSession(16, 40) // 3 chunks: 16, 16, 8
	for i, want := range []int{16, 16, 8} {
		got, err := s.ExpectedChunkLength(i)
		if err != nil {
			t.Fatalf("chunk %d: unexpected error: %v", i, err)
		}
		if got != want {
			t.Fatalf("chunk %d: expected length %d, got %d", i, want, got)
		}
	}
	if _, err := s.ExpectedChunkLength(3); err == nil {
		t.Fatalf("expected out-of-range error for chunk 3")
	}
}

func TestMissingAndComplete(t *testing.T) {
	s := newSession(16, 40)
	if s.IsComplete() {
		t.Fatalf("empty session should not be complete")
	}
	if len(s.Missing()) != 3 {
		t.Fatalf("expected 3 missing chunks, got %d", len(s.Missing()))
	}

	s.Received[0] = make([]byte, 16)
	s.Received[1] = make([]byte, 16)
	s.Received[2] = make([]byte, 8)
	if !s.IsComplete() {
		t.Fatalf("expected session to be complete once all chunks received")
	}
	if len(s.Missing()) != 0 {
		t.Fatalf("expected no missing chunks, got %v", s.Missing())
	}
}

func TestReassembleOrdersByIndex(t *testing.T) {
	s := newSession(4, 10)
	s.Received[2] = []byte{9}
	s.Received[0] = []byte{1, 2, 3, 4}
	s.Received[1] = []byte{5, 6, 7, 8}

	got := s.Reassemble()
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	if len(got) != len(want) {
		t.Fatalf("expected %d bytes, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestTransferErrorKindOf(t *testing.T) {
	err := NewError(ErrChecksumMismatch, "chunk %d", 3)
	kind, ok := KindOf(err)
	if !ok || kind != ErrChecksumMismatch {
		t.Fatalf("expected ErrChecksumMismatch, got %v (ok=%v)", kind, ok)
	}

	if _, ok := KindOf(errNotTransferError{}); ok {
		t.Fatalf("expected ok=false for a plain error")
	}
}

type errNotTransferError struct{}

func (errNotTransferError) Error() string { return "plain error" }
