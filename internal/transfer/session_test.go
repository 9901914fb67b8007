package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/atscadalab/blemap-transfer/pkg/models"
)

func testMetadata(size int64) models.TransferMetadata {
	return models.TransferMetadata{FileSize: size, FileHash: "h1", Version: 1}
}

func noLimitConfig() Config {
	return Config{MaxChunksPerSecond: 0, SessionTimeout: time.Minute}
}

func recvChunk(t *testing.T, s *Session, index int, payload []byte) (bool, error) {
	t.Helper()
	return s.ReceiveChunk(context.Background(), index, payload)
}

func TestReceiveChunkOutOfOrder(t *testing.T) {
	s := New("s1", testMetadata(40), 16, noLimitConfig())
	if _, err := recvChunk(t, s, 2, make([]byte, 8)); err != nil {
		t.Fatalf("chunk 2: %v", err)
	}
	if _, err := recvChunk(t, s, 0, make([]byte, 16)); err != nil {
		t.Fatalf("chunk 0: %v", err)
	}
	if _, err := recvChunk(t, s, 1, make([]byte, 16)); err != nil {
		t.Fatalf("chunk 1: %v", err)
	}
	if !s.IsComplete() {
		t.Fatalf("expected session complete after all 3 chunks arrive out of order")
	}
}

func TestReceiveChunkDuplicateIsIdempotent(t *testing.T) {
	s := New("s1", testMetadata(32), 16, noLimitConfig())
	payload := make([]byte, 16)
	duplicate, err := recvChunk(t, s, 0, payload)
	if err != nil {
		t.Fatalf("first receive: %v", err)
	}
	if duplicate {
		t.Fatalf("first receive should not be reported as a duplicate")
	}
	duplicate, err = recvChunk(t, s, 0, payload)
	if err != nil {
		t.Fatalf("duplicate receive should be a no-op, got: %v", err)
	}
	if !duplicate {
		t.Fatalf("second receive of the same index should be reported as a duplicate")
	}
	if got := len(s.State().Received); got != 1 {
		t.Fatalf("expected 1 stored chunk after duplicate, got %d", got)
	}
}

func TestReceiveChunkWrongLengthRejected(t *testing.T) {
	s := New("s1", testMetadata(32), 16, noLimitConfig())
	if _, err := recvChunk(t, s, 0, make([]byte, 10)); err == nil {
		t.Fatalf("expected wrong-length chunk to be rejected")
	}
}

func TestReceiveChunkOutOfRangeRejected(t *testing.T) {
	s := New("s1", testMetadata(32), 16, noLimitConfig())
	if _, err := recvChunk(t, s, 5, make([]byte, 16)); err == nil {
		t.Fatalf("expected out-of-range chunk index to be rejected")
	}
}

func TestPauseReturnsMissingThenResume(t *testing.T) {
	s := New("s1", testMetadata(48), 16, noLimitConfig())
	if _, err := recvChunk(t, s, 0, make([]byte, 16)); err != nil {
		t.Fatalf("chunk 0: %v", err)
	}
	missing, err := s.Pause()
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if len(missing) != 2 {
		t.Fatalf("expected 2 missing chunks, got %v", missing)
	}
	if _, err := recvChunk(t, s, 1, make([]byte, 16)); err == nil {
		t.Fatalf("expected chunk receipt to be rejected while paused")
	}
	if err := s.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if _, err := recvChunk(t, s, 1, make([]byte, 16)); err != nil {
		t.Fatalf("chunk 1 after resume: %v", err)
	}
}

func TestCancelIsTerminal(t *testing.T) {
	s := New("s1", testMetadata(16), 16, noLimitConfig())
	s.Cancel()
	if _, err := recvChunk(t, s, 0, make([]byte, 16)); err == nil {
		t.Fatalf("expected chunk receipt to be rejected after cancel")
	}
}

func TestRateLimitDefersExcessChunks(t *testing.T) {
	cfg := Config{MaxChunksPerSecond: 1, SessionTimeout: time.Minute}
	s := New("s1", testMetadata(32), 16, cfg)

	if _, err := recvChunk(t, s, 0, make([]byte, 16)); err != nil {
		t.Fatalf("first chunk should pass under burst allowance: %v", err)
	}

	start := time.Now()
	if _, err := recvChunk(t, s, 1, make([]byte, 16)); err != nil {
		t.Fatalf("second chunk should be deferred, not rejected: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 400*time.Millisecond {
		t.Fatalf("expected acceptance of the second chunk to be deferred by the rate limit, took only %s", elapsed)
	}
	if !s.IsComplete() {
		t.Fatalf("expected both chunks eventually accepted, not dropped or reordered")
	}
}

func TestRateLimitWaitRespectsContextCancellation(t *testing.T) {
	cfg := Config{MaxChunksPerSecond: 1, SessionTimeout: time.Minute}
	s := New("s1", testMetadata(48), 16, cfg)
	if _, err := recvChunk(t, s, 0, make([]byte, 16)); err != nil {
		t.Fatalf("first chunk should pass under burst allowance: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := s.ReceiveChunk(ctx, 1, make([]byte, 16)); err == nil {
		t.Fatalf("expected a cancelled context to surface as an error instead of blocking forever")
	}
}

func TestMetricsEstimatedCompletion(t *testing.T) {
	m := NewMetrics(10)
	if got := m.EstimatedCompletion(); got != 0 {
		t.Fatalf("expected 0 estimate before any chunk, got %f", got)
	}
	m.RecordChunk(100)
	time.Sleep(5 * time.Millisecond)
	if got := m.EstimatedCompletion(); got <= 0 {
		t.Fatalf("expected positive estimate after one chunk, got %f", got)
	}
}
