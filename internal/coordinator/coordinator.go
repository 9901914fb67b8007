// Package coordinator implements the Session Coordinator (C6): the
// single-owner actor that authoritatively advances a transfer's state
// machine, routes frames by logical channel, and hands the slow
// integrity+commit pipeline off to a worker goroutine so that a cancel
// request is never blocked behind it. Grounded on spec.md §9's "single
// owner task model" design note, expressed the way the teacher
// structures its own manager types: one struct owning state behind a
// mutex-free, channel-serialized command loop instead.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/atscadalab/blemap-transfer/internal/auth"
	"github.com/atscadalab/blemap-transfer/internal/integrity"
	"github.com/atscadalab/blemap-transfer/internal/store"
	"github.com/atscadalab/blemap-transfer/internal/transfer"
	"github.com/atscadalab/blemap-transfer/internal/transport"
	"github.com/atscadalab/blemap-transfer/pkg/models"
	"github.com/atscadalab/blemap-transfer/pkg/wire"
)

// Config bundles the coordinator's transfer-level policy knobs.
type Config struct {
	ChunkSize            int
	MaxTransferSize      int64
	CompressionEnabled   bool
	CompressionThreshold int64
	Transfer             transfer.Config
	LivenessTimeout      time.Duration
}

// commandKind enumerates the external control operations the
// coordinator's owning goroutine will serialize alongside inbound
// frames.
type commandKind int

const (
	cmdPause commandKind = iota
	cmdResume
	cmdCancel
	cmdStatus
)

type command struct {
	kind  commandKind
	reply chan error
}

// pipelineResult is what the validate+commit worker goroutine reports
// back. generation guards against a result arriving after the session
// it belongs to was already cancelled or superseded.
type pipelineResult struct {
	generation int
	version    int64
	err        error
}

// Coordinator is the single owner of all session-state mutation for one
// active peer connection. Exactly one goroutine (Run) ever touches
// session, generation, or authSessionID after construction.
type Coordinator struct {
	transport transport.Transport
	receiver  transport.Receiver
	authz     *auth.Engine
	storage   *store.Store
	cfg       Config
	sink      EventSink
	deviceCap wire.ServerCapabilities

	cmdCh    chan command
	inboxCh  chan wire.Frame
	resultCh chan pipelineResult

	ctx context.Context

	session       *transfer.Session
	metrics       *transfer.Metrics
	authSessionID string
	generation    int
}

// New constructs a Coordinator. Run must be called to start its actor
// loop before any frames are processed.
func New(t transport.Transport, r transport.Receiver, authz *auth.Engine, storage *store.Store, cfg Config, sink EventSink) *Coordinator {
	if sink == nil {
		sink = NopSink{}
	}
	compression := []string{string(models.CompressionNone)}
	if cfg.CompressionEnabled {
		compression = append(compression, string(models.CompressionGzip))
	}
	return &Coordinator{
		transport: t,
		receiver:  r,
		authz:     authz,
		storage:   storage,
		cfg:       cfg,
		sink:      sink,
		deviceCap: wire.ServerCapabilities{
			MaxTransferSize: cfg.MaxTransferSize,
			ChunkSize:       cfg.ChunkSize,
			Compression:     compression,
			Resume:          true,
		},
		cmdCh:    make(chan command),
		inboxCh:  make(chan wire.Frame, 8),
		resultCh: make(chan pipelineResult, 1),
	}
}

// Run drives the coordinator's actor loop until ctx is cancelled or the
// transport disconnects. It is meant to be run in its own goroutine.
func (c *Coordinator) Run(ctx context.Context) {
	c.ctx = ctx

	recvErrCh := make(chan error, 1)
	go c.pumpInbox(recvErrCh)

	livenessPoll := c.cfg.LivenessTimeout
	if livenessPoll <= 0 {
		livenessPoll = time.Second
	}
	liveness := time.NewTicker(livenessPoll)
	defer liveness.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.transport.Disconnected():
			c.teardown("transport disconnected")
			return
		case err := <-recvErrCh:
			c.teardown(fmt.Sprintf("receive loop ended: %v", err))
			return
		case frame := <-c.inboxCh:
			c.handleFrame(frame)
		case cmd := <-c.cmdCh:
			cmd.reply <- c.handleCommand(cmd.kind)
		case result := <-c.resultCh:
			c.handlePipelineResult(result)
		case <-liveness.C:
			c.checkLiveness()
		}
	}
}

// checkLiveness cancels the active session as Timeout once it has sat
// idle longer than its configured session_timeout, per spec.md §4.3 and
// §4.6's "maintain a liveness timer over the session".
func (c *Coordinator) checkLiveness() {
	if c.session == nil || c.session.State().State.IsTerminal() {
		return
	}
	if !c.session.TimedOut() {
		return
	}
	c.session.Cancel()
	c.generation++
	c.authz.Invalidate(c.authSessionID)
	c.sink.OnStateChange(models.StateCancelled)
	err := models.NewError(models.ErrTimeout, "session %s timed out from inactivity", c.session.State().SessionID)
	c.sink.OnError(models.ErrTimeout, err.Error())
	c.transport.WriteData(wire.TransferError{Type: wire.TypeTransferError, Code: string(models.ErrTimeout), Message: err.Error()})
}

func (c *Coordinator) pumpInbox(errCh chan<- error) {
	for {
		frame, err := c.receiver.Recv()
		if err != nil {
			errCh <- err
			return
		}
		c.inboxCh <- frame
	}
}

func (c *Coordinator) teardown(reason string) {
	if c.authSessionID != "" {
		c.authz.Invalidate(c.authSessionID)
	}
	if c.session != nil && !c.session.State().State.IsTerminal() {
		c.session.Cancel()
		c.sink.OnStateChange(models.StateCancelled)
	}
	c.sink.OnError(models.ErrSystemError, reason)
}

func (c *Coordinator) handleFrame(frame wire.Frame) {
	switch f := frame.(type) {
	case wire.AuthRequest:
		c.onAuthRequest(f)
	case wire.AuthResponse:
		c.onAuthResponse(f)
	case wire.TransferInit:
		c.onTransferInit(f)
	case wire.ChunkData:
		c.onChunkData(f)
	case wire.TransferControl:
		c.applyControl(f.Command)
	default:
		c.sendError(models.ErrInvalidState, fmt.Sprintf("unexpected frame type %s", frame.FrameType()))
	}
}

func (c *Coordinator) onAuthRequest(f wire.AuthRequest) {
	sessionID, nonce, timestamp, payloadHash, err := c.authz.GenerateChallenge(f.ClientID)
	if err != nil {
		c.sendAuthError(err)
		return
	}
	c.transport.WriteAuth(wire.AuthChallenge{
		Type:        wire.TypeAuthChallenge,
		SessionID:   sessionID,
		Nonce:       nonce,
		Timestamp:   timestamp,
		PayloadHash: payloadHash,
	})
}

func (c *Coordinator) onAuthResponse(f wire.AuthResponse) {
	if err := c.authz.VerifyResponse(f.SessionID, f.Signature); err != nil {
		c.sendAuthError(err)
		return
	}
	c.authSessionID = f.SessionID
	c.transport.WriteAuth(wire.AuthSuccess{
		Type:               wire.TypeAuthSuccess,
		SessionID:          f.SessionID,
		ServerCapabilities: c.deviceCap,
	})
}

func (c *Coordinator) sendAuthError(err error) {
	kind, ok := models.KindOf(err)
	if !ok {
		kind = models.ErrSystemError
	}
	c.sink.OnError(kind, err.Error())
	c.transport.WriteAuth(wire.AuthError{Type: wire.TypeAuthError, Code: string(kind), Message: err.Error()})
}

func (c *Coordinator) onTransferInit(f wire.TransferInit) {
	if !c.authz.IsAuthenticated(c.authSessionID) {
		c.sendTransferError(models.NewError(models.ErrAuthRequired, "transfer_init received before authentication"))
		return
	}
	if c.session != nil && !c.session.State().State.IsTerminal() {
		c.sendTransferError(models.NewError(models.ErrTransferAlreadyActive, "a transfer is already in progress"))
		return
	}

	metadata := models.TransferMetadata{
		FileSize:       f.Metadata.FileSize,
		FileHash:       f.Metadata.FileHash,
		Version:        f.Metadata.Version,
		Compression:    models.Compression(f.Metadata.Compression),
		CompressedSize: f.Metadata.CompressedSize,
		CompressedHash: f.Metadata.CompressedHash,
	}
	if err := metadata.Validate(); err != nil {
		c.sendTransferError(models.NewError(models.ErrInvalidMetadata, "%v", err))
		return
	}
	if c.cfg.MaxTransferSize > 0 && metadata.FileSize > c.cfg.MaxTransferSize {
		c.sendTransferError(models.NewError(models.ErrFileTooLarge, "file_size %d exceeds max_transfer_size %d", metadata.FileSize, c.cfg.MaxTransferSize))
		return
	}
	if err := c.storage.CheckVersion(metadata.Version); err != nil {
		c.sendTransferError(err)
		return
	}

	c.generation++
	c.sink.OnStateChange(models.StateMetadataAccepted)

	sessionID := c.authSessionID
	c.session = transfer.New(sessionID, metadata, c.cfg.ChunkSize, c.cfg.Transfer)
	c.metrics = transfer.NewMetrics(c.session.TotalChunks())
	c.sink.OnStateChange(models.StateReceiving)

	c.transport.WriteData(wire.TransferReady{
		Type:         wire.TypeTransferReady,
		SessionID:    sessionID,
		ChunkSize:    c.cfg.ChunkSize,
		TotalChunks:  c.session.TotalChunks(),
		ExpectedHash: metadata.FileHash,
	})
}

func (c *Coordinator) onChunkData(f wire.ChunkData) {
	if c.session == nil {
		c.sendTransferError(models.NewError(models.ErrNoActiveTransfer, "chunk received with no active transfer"))
		return
	}
	if f.SessionID != c.session.State().SessionID {
		c.sendTransferError(models.NewError(models.ErrSessionMismatch, "chunk for session %s does not match active session %s", f.SessionID, c.session.State().SessionID))
		return
	}

	chunk, err := wire.DecodeChunkData(f)
	if err != nil {
		c.sendTransferError(err)
		return
	}
	duplicate, err := c.session.ReceiveChunk(c.ctx, chunk.ChunkIndex, chunk.Payload)
	if err != nil {
		c.sendTransferError(err)
		return
	}
	if !duplicate {
		c.metrics.RecordChunk(len(chunk.Payload))
	}

	received, total := len(c.session.State().Received), c.session.TotalChunks()
	if !duplicate {
		bytesReceived := c.session.State().BytesReceived
		c.sink.OnProgress(received, total, bytesReceived, c.metrics.RateBps())
	}
	c.transport.WriteData(wire.ChunkAck{
		Type:           wire.TypeChunkAck,
		ChunkIndex:     chunk.ChunkIndex,
		ChunksReceived: received,
		TotalChunks:    total,
		Progress:       c.session.State().Progress(),
		Duplicate:      duplicate,
	})

	if c.session.IsComplete() {
		c.startValidation()
	}
}

func (c *Coordinator) applyControl(cmd wire.ControlCommand) {
	var kind commandKind
	switch cmd {
	case wire.ControlPause:
		kind = cmdPause
	case wire.ControlResume:
		kind = cmdResume
	case wire.ControlCancel:
		kind = cmdCancel
	case wire.ControlStatus:
		kind = cmdStatus
	default:
		c.sendTransferError(models.NewError(models.ErrInvalidState, "unknown control command %q", cmd))
		return
	}
	if err := c.handleCommand(kind); err != nil {
		c.sendTransferError(err)
	}
}

func (c *Coordinator) handleCommand(kind commandKind) error {
	switch kind {
	case cmdPause:
		if c.session == nil {
			return models.NewError(models.ErrNoActiveTransfer, "no active transfer to pause")
		}
		missing, err := c.session.Pause()
		if err != nil {
			return err
		}
		c.sink.OnStateChange(models.StatePaused)
		c.transport.WriteStatus(wire.ChunkAck{
			Type:          wire.TypeChunkAck,
			MissingSample: firstN(missing, 16),
		})
		return nil
	case cmdResume:
		if c.session == nil {
			return models.NewError(models.ErrNoActiveTransfer, "no active transfer to resume")
		}
		if err := c.session.Resume(); err != nil {
			return err
		}
		c.sink.OnStateChange(models.StateReceiving)
		return nil
	case cmdCancel:
		if c.session != nil {
			c.session.Cancel()
			c.generation++
			c.authz.Invalidate(c.authSessionID)
			c.sink.OnStateChange(models.StateCancelled)
		}
		return nil
	case cmdStatus:
		c.writeStatusSnapshot()
		return nil
	}
	return nil
}

func (c *Coordinator) writeStatusSnapshot() {
	snap := wire.StatusSnapshot{Type: wire.TypeStatusSnapshot, Code: "ok"}
	if c.session != nil {
		st := c.session.State()
		snap.State = string(st.State)
		snap.ChunksReceived = len(st.Received)
		snap.TotalChunks = c.session.TotalChunks()
		snap.Progress = st.Progress()
		snap.BytesReceived = st.BytesReceived
		if c.metrics != nil {
			snap.RateBps = c.metrics.RateBps()
			snap.EstimatedCompletion = c.metrics.EstimatedCompletion()
		}
	}
	c.transport.WriteStatus(snap)
}

// startValidation hands the integrity+commit pipeline off to a worker
// goroutine, tagged with the current generation so a late result after
// a cancel or a new transfer is silently dropped.
func (c *Coordinator) startValidation() {
	c.sink.OnStateChange(models.StateValidating)
	metadata := c.session.State().Metadata
	wireBytes := c.session.Reassemble()
	gen := c.generation
	if metadata.IsCompressed() {
		c.sink.OnStateChange(models.StateDecompressing)
	}

	go func() {
		result, err := integrity.Run(wireBytes, metadata)
		if err != nil {
			c.resultCh <- pipelineResult{generation: gen, err: err}
			return
		}
		if commitErr := c.storage.Commit(result.Canonical, metadata.Version); commitErr != nil {
			c.resultCh <- pipelineResult{generation: gen, err: commitErr}
			return
		}
		c.resultCh <- pipelineResult{generation: gen, version: metadata.Version}
	}()
}

func (c *Coordinator) handlePipelineResult(result pipelineResult) {
	if result.generation != c.generation {
		return // superseded by a cancel or a new transfer, ignore
	}
	if result.err != nil {
		kind, ok := models.KindOf(result.err)
		if !ok {
			kind = models.ErrSystemError
		}
		c.session.State().State = models.StateFailed
		c.sink.OnStateChange(models.StateFailed)
		c.sink.OnError(kind, result.err.Error())
		c.transport.WriteData(wire.TransferError{Type: wire.TypeTransferError, Code: string(kind), Message: result.err.Error()})
		return
	}

	c.sink.OnStateChange(models.StateCommitting)
	c.session.State().State = models.StateCompleted
	c.sink.OnStateChange(models.StateCompleted)
	c.sink.OnComplete(result.version)
	c.transport.WriteData(wire.TransferComplete{
		Type:       wire.TypeTransferComplete,
		SessionID:  c.session.State().SessionID,
		FileHash:   c.session.State().Metadata.FileHash,
		FileSize:   c.session.State().Metadata.FileSize,
		NewVersion: result.version,
	})
}

func (c *Coordinator) sendTransferError(err error) {
	kind, ok := models.KindOf(err)
	if !ok {
		kind = models.ErrSystemError
	}
	c.sink.OnError(kind, err.Error())
	c.transport.WriteData(wire.TransferError{Type: wire.TypeTransferError, Code: string(kind), Message: err.Error()})
}

// Pause requests the active transfer pause, blocking until the
// coordinator's owning goroutine has applied it.
func (c *Coordinator) Pause() error { return c.send(cmdPause) }

// Resume requests the active transfer resume.
func (c *Coordinator) Resume() error { return c.send(cmdResume) }

// Cancel requests the active transfer cancel. This is always
// immediately serviced: it never waits behind the validate/commit
// worker, since that work runs off the owning goroutine.
func (c *Coordinator) Cancel() error { return c.send(cmdCancel) }

// RequestStatus asks the coordinator to emit a status_snapshot frame.
func (c *Coordinator) RequestStatus() error { return c.send(cmdStatus) }

func (c *Coordinator) send(kind commandKind) error {
	reply := make(chan error, 1)
	c.cmdCh <- command{kind: kind, reply: reply}
	return <-reply
}

func firstN(xs []int, n int) []int {
	if len(xs) <= n {
		return xs
	}
	return xs[:n]
}
