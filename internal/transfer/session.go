// Package transfer implements the Transfer Session (C3): the
// chunk-receiving half of a map transfer once metadata has been
// accepted, including rate limiting, pause/resume, and the write-once
// chunk table. Grounded on the original MapTransferManager's
// start_transfer/receive_chunk contract, generalized from a single
// module-global transfer into an explicit per-session object the
// coordinator owns.
package transfer

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/atscadalab/blemap-transfer/pkg/models"
)

// Config controls rate limiting and timeouts for a Session.
type Config struct {
	MaxChunksPerSecond float64
	SessionTimeout     time.Duration
}

// DefaultConfig mirrors the original's max_chunks_per_second=10,
// session_timeout=600s defaults.
func DefaultConfig() Config {
	return Config{
		MaxChunksPerSecond: 10,
		SessionTimeout:     600 * time.Second,
	}
}

// Session wraps a models.TransferSession with the rate limiter and
// clock bookkeeping needed to service inbound chunks. It is not
// goroutine-safe on its own: the coordinator serializes all access
// through its single-owner actor loop.
type Session struct {
	state   *models.TransferSession
	limiter *rate.Limiter
	cfg     Config

	now func() time.Time
}

// New starts a session in StateReceiving for metadata, sized into
// chunkSize-byte chunks.
func New(sessionID string, metadata models.TransferMetadata, chunkSize int, cfg Config) *Session {
	wireSize := metadata.WireSize()
	total := int((wireSize + int64(chunkSize) - 1) / int64(chunkSize))
	if total < 1 {
		total = 1
	}

	var limiter *rate.Limiter
	if cfg.MaxChunksPerSecond > 0 {
		burst := int(cfg.MaxChunksPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxChunksPerSecond), burst)
	}

	now := time.Now()
	return &Session{
		state: &models.TransferSession{
			SessionID:    sessionID,
			State:        models.StateReceiving,
			Metadata:     metadata,
			ChunkSize:    chunkSize,
			TotalChunks:  total,
			Received:     make(map[int][]byte),
			StartTime:    now.UnixNano(),
			LastActivity: now.UnixNano(),
		},
		limiter: limiter,
		cfg:     cfg,
		now:     time.Now,
	}
}

// State returns the underlying session record. Callers must not mutate
// the returned struct's maps directly.
func (s *Session) State() *models.TransferSession { return s.state }

// TotalChunks is the number of chunks this session expects.
func (s *Session) TotalChunks() int { return s.state.TotalChunks }

// ReceiveChunk validates and stores an inbound chunk, enforcing the
// write-once table, chunk-length correctness, and the configured rate
// limit. Out-of-order chunks are accepted unconditionally, per
// spec.md §4.3. duplicate reports whether index had already been
// received (an idempotent no-op, not an error); the caller must not
// count a duplicate toward metrics. A chunk arriving faster than the
// configured rate defers acceptance until the interval elapses rather
// than being dropped or reordered.
func (s *Session) ReceiveChunk(ctx context.Context, index int, payload []byte) (duplicate bool, err error) {
	if s.state.State != models.StateReceiving {
		return false, models.NewError(models.ErrInvalidState, "session %s is not receiving (state=%s)", s.state.SessionID, s.state.State)
	}
	if index < 0 || index >= s.state.TotalChunks {
		return false, models.NewError(models.ErrChunkOutOfRange, "chunk index %d out of range [0,%d)", index, s.state.TotalChunks)
	}

	if existing, ok := s.state.Received[index]; ok {
		if len(existing) == len(payload) {
			return true, nil // duplicate, idempotent no-op
		}
		return false, models.NewError(models.ErrWrongChunkLength, "chunk %d resent with different length", index)
	}

	wantLen, err := s.state.ExpectedChunkLength(index)
	if err != nil {
		return false, err
	}
	if len(payload) != wantLen {
		return false, models.NewError(models.ErrWrongChunkLength, "chunk %d: expected %d bytes, got %d", index, wantLen, len(payload))
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return false, models.NewError(models.ErrCancelledByUser, "chunk %d: %v", index, err)
		}
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.state.Received[index] = buf
	s.state.BytesReceived += int64(len(buf))
	s.state.LastActivity = s.now().UnixNano()
	return false, nil
}

// Pause moves the session to StatePaused, returning the current
// missing-chunk set so the sender knows what to resend on resume.
func (s *Session) Pause() ([]int, error) {
	if s.state.State != models.StateReceiving {
		return nil, models.NewError(models.ErrInvalidState, "can only pause while receiving (state=%s)", s.state.State)
	}
	s.state.State = models.StatePaused
	return s.state.Missing(), nil
}

// Resume moves a paused session back to StateReceiving.
func (s *Session) Resume() error {
	if s.state.State != models.StatePaused {
		return models.NewError(models.ErrInvalidState, "can only resume a paused session (state=%s)", s.state.State)
	}
	s.state.State = models.StateReceiving
	return nil
}

// Cancel marks the session cancelled. Terminal: no further chunks may
// be accepted afterward.
func (s *Session) Cancel() {
	s.state.State = models.StateCancelled
}

// Missing returns the sorted set of not-yet-received chunk indices,
// valid while Receiving or Paused.
func (s *Session) Missing() []int { return s.state.Missing() }

// IsComplete reports whether every chunk has arrived.
func (s *Session) IsComplete() bool { return s.state.IsComplete() }

// TimedOut reports whether the session has been idle longer than its
// configured SessionTimeout.
func (s *Session) TimedOut() bool {
	if s.cfg.SessionTimeout <= 0 {
		return false
	}
	last := time.Unix(0, s.state.LastActivity)
	return s.now().Sub(last) > s.cfg.SessionTimeout
}

// Reassemble concatenates received chunks in order. Caller must have
// verified IsComplete first.
func (s *Session) Reassemble() []byte { return s.state.Reassemble() }
