package chunker

import "testing"

func TestSplitBytesEvenDivision(t *testing.T) {
	payload := make([]byte, 32)
	chunks := SplitBytes(Config{MinChunkSize: 1, MaxChunkSize: 512}, payload, 8)
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Fatalf("chunk %d has index %d", i, c.Index)
		}
		if len(c.Payload) != 8 {
			t.Fatalf("chunk %d: expected 8 bytes, got %d", i, len(c.Payload))
		}
	}
}

func TestSplitBytesRemainder(t *testing.T) {
	payload := make([]byte, 20)
	chunks := SplitBytes(Config{MinChunkSize: 1, MaxChunkSize: 512}, payload, 8)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[2].Payload) != 4 {
		t.Fatalf("expected last chunk to hold remainder of 4 bytes, got %d", len(chunks[2].Payload))
	}
}

func TestSplitBytesEmptyPayload(t *testing.T) {
	chunks := SplitBytes(Config{}, nil, 8)
	if chunks != nil {
		t.Fatalf("expected nil chunks for empty payload, got %v", chunks)
	}
}

func TestClampSizeRespectsBounds(t *testing.T) {
	cfg := Config{MinChunkSize: 16, MaxChunkSize: 64, DefaultChunkSize: 32}
	if got := cfg.ClampSize(0); got != 32 {
		t.Fatalf("expected default 32, got %d", got)
	}
	if got := cfg.ClampSize(8); got != 16 {
		t.Fatalf("expected clamp to min 16, got %d", got)
	}
	if got := cfg.ClampSize(1000); got != 64 {
		t.Fatalf("expected clamp to max 64, got %d", got)
	}
}

func TestHashChunkDeterministic(t *testing.T) {
	data := []byte("map payload chunk")
	a := HashChunk(data)
	b := HashChunk(data)
	if a != b {
		t.Fatalf("expected identical hashes for identical input")
	}
}
