package wire

import (
	"strings"
	"testing"

	"github.com/atscadalab/blemap-transfer/pkg/models"
)

func TestRoundTripEachFrameType(t *testing.T) {
	frames := []Frame{
		AuthRequest{Type: TypeAuthRequest, ClientID: "terminal-1"},
		AuthChallenge{Type: TypeAuthChallenge, SessionID: "s1", Nonce: "abcd", Timestamp: 1000, PayloadHash: "deadbeef"},
		AuthResponse{Type: TypeAuthResponse, SessionID: "s1", Signature: "ab12"},
		AuthSuccess{Type: TypeAuthSuccess, SessionID: "s1", ServerCapabilities: ServerCapabilities{
			MaxTransferSize: 1 << 20, ChunkSize: 400, Compression: []string{"none", "gzip"}, Resume: true,
		}},
		AuthError{Type: TypeAuthError, Code: string(models.ErrAuthFailed), Message: "bad signature"},
		TransferInit{Type: TypeTransferInit, Metadata: TransferInitMetadata{FileSize: 2048, FileHash: "h1", Version: 3}},
		TransferReady{Type: TypeTransferReady, SessionID: "s1", ChunkSize: 400, TotalChunks: 6, ExpectedHash: "h1"},
		EncodeChunkData("s1", 0, []byte("hello world")),
		ChunkAck{Type: TypeChunkAck, ChunkIndex: 0, ChunksReceived: 1, TotalChunks: 6, Progress: 0.166},
		TransferControl{Type: TypeTransferControl, Command: ControlPause},
		TransferComplete{Type: TypeTransferComplete, SessionID: "s1", FileHash: "h1", FileSize: 2048, DurationMs: 500, NewVersion: 3},
		TransferError{Type: TypeTransferError, Code: string(models.ErrChecksumMismatch), Message: "chunk 2", RetrySuggested: true},
		StatusSnapshot{Type: TypeStatusSnapshot, Code: "ok", State: "receiving", ChunksReceived: 2, TotalChunks: 6, Progress: 0.33},
	}

	for _, f := range frames {
		encoded, err := EncodeFrame(f)
		if err != nil {
			t.Fatalf("encode %s: %v", f.FrameType(), err)
		}
		decoded, err := DecodeFrame(encoded)
		if err != nil {
			t.Fatalf("decode %s: %v", f.FrameType(), err)
		}
		if decoded.FrameType() != f.FrameType() {
			t.Fatalf("expected type %s, got %s", f.FrameType(), decoded.FrameType())
		}
	}
}

func TestDecodeFrameRejectsUnknownType(t *testing.T) {
	_, err := DecodeFrame([]byte(`{"type":"not_a_real_type"}`))
	if err == nil {
		t.Fatalf("expected error for unknown frame type")
	}
	kind, ok := models.KindOf(err)
	if !ok || kind != models.ErrInvalidEncoding {
		t.Fatalf("expected ErrInvalidEncoding, got %v", kind)
	}
}

func TestDecodeFrameRejectsMalformedJSON(t *testing.T) {
	_, err := DecodeFrame([]byte(`{"type": "auth_request", `))
	if err == nil {
		t.Fatalf("expected error for malformed json")
	}
}

func TestDecodeFrameRejectsOversizedBuffer(t *testing.T) {
	huge := []byte(`{"type":"chunk_data","data":"` + strings.Repeat("ab", MaxFrameBytes) + `"}`)
	_, err := DecodeFrame(huge)
	if err == nil {
		t.Fatalf("expected error for oversized frame")
	}
}

func TestEncodeFrameTruncatesOversizedStatusSnapshot(t *testing.T) {
	snap := StatusSnapshot{
		Type:                TypeStatusSnapshot,
		Code:                "ok",
		State:               strings.Repeat("x", MaxFrameBytes),
		ChunksReceived:      10,
		TotalChunks:         20,
		Progress:            0.5,
		BytesReceived:       1 << 20,
		RateBps:             1234.5,
		EstimatedCompletion: 12.3,
	}
	encoded, err := EncodeFrame(snap)
	if err != nil {
		t.Fatalf("expected truncation to succeed, got error: %v", err)
	}
	if len(encoded) > MaxFrameBytes {
		t.Fatalf("truncated snapshot still exceeds cap: %d bytes", len(encoded))
	}
	decoded, err := DecodeFrame(encoded)
	if err != nil {
		t.Fatalf("decode truncated snapshot: %v", err)
	}
	got, ok := decoded.(StatusSnapshot)
	if !ok {
		t.Fatalf("expected StatusSnapshot, got %T", decoded)
	}
	if got.State != "" {
		t.Fatalf("expected State dropped by truncation, got %q", got.State)
	}
	if got.ChunksReceived != 10 || got.TotalChunks != 20 {
		t.Fatalf("truncation dropped required progress fields: %+v", got)
	}
}

func TestChunkDataRoundTripPreservesPayload(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	f := EncodeChunkData("s1", 4, payload)

	encoded, err := EncodeFrame(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeFrame(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	cd, ok := decoded.(ChunkData)
	if !ok {
		t.Fatalf("expected ChunkData, got %T", decoded)
	}
	chunk, err := DecodeChunkData(cd)
	if err != nil {
		t.Fatalf("DecodeChunkData: %v", err)
	}
	if string(chunk.Payload) != string(payload) {
		t.Fatalf("payload mismatch: got %q, want %q", chunk.Payload, payload)
	}
}

func TestDecodeChunkDataRejectsNonHex(t *testing.T) {
	f := ChunkData{Type: TypeChunkData, SessionID: "s1", ChunkIndex: 0, Data: "not-hex-zz"}
	_, err := DecodeChunkData(f)
	if err == nil {
		t.Fatalf("expected error for non-hex data")
	}
	kind, ok := models.KindOf(err)
	if !ok || kind != models.ErrInvalidEncoding {
		t.Fatalf("expected ErrInvalidEncoding, got %v", kind)
	}
}

func TestDecodeChunkDataDetectsChecksumMismatch(t *testing.T) {
	f := EncodeChunkData("s1", 0, []byte("original"))
	f.Checksum = "00000000000000000000000000000000"

	_, err := DecodeChunkData(f)
	if err == nil {
		t.Fatalf("expected checksum mismatch error")
	}
	kind, ok := models.KindOf(err)
	if !ok || kind != models.ErrChecksumMismatch {
		t.Fatalf("expected ErrChecksumMismatch, got %v", kind)
	}
}

func TestDecodeChunkDataBitFlipDetected(t *testing.T) {
	f := EncodeChunkData("s1", 0, []byte("abcdefgh"))
	// flip a hex nibble in the payload without updating the checksum.
	flipped := []byte(f.Data)
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}
	f.Data = string(flipped)

	_, err := DecodeChunkData(f)
	if err == nil {
		t.Fatalf("expected checksum mismatch after bit flip")
	}
}
