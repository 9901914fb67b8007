// Package wire implements the Message Codec (C1): encoding and decoding
// of the JSON frames exchanged on the auth, data, and status logical
// channels, per spec.md §4.1 and §6.
package wire

// FrameType is the wire-stable "type" tag every frame carries.
type FrameType string

const (
	TypeAuthRequest   FrameType = "auth_request"
	TypeAuthChallenge FrameType = "auth_challenge"
	TypeAuthResponse  FrameType = "auth_response"
	TypeAuthSuccess   FrameType = "auth_success"
	TypeAuthError     FrameType = "auth_error"

	TypeTransferInit     FrameType = "transfer_init"
	TypeTransferReady    FrameType = "transfer_ready"
	TypeChunkData        FrameType = "chunk_data"
	TypeChunkAck         FrameType = "chunk_ack"
	TypeTransferControl  FrameType = "transfer_control"
	TypeTransferComplete FrameType = "transfer_complete"
	TypeTransferError    FrameType = "transfer_error"

	TypeStatusSnapshot FrameType = "status_snapshot"
)

// Channel identifies which of the three logical write channels a frame
// type belongs to.
type Channel string

const (
	ChannelAuth   Channel = "auth"
	ChannelData   Channel = "data"
	ChannelStatus Channel = "status"
)

// ChannelOf returns the logical channel a frame type is carried on.
func ChannelOf(t FrameType) Channel {
	switch t {
	case TypeAuthRequest, TypeAuthChallenge, TypeAuthResponse, TypeAuthSuccess, TypeAuthError:
		return ChannelAuth
	case TypeStatusSnapshot:
		return ChannelStatus
	default:
		return ChannelData
	}
}

// Frame is implemented by every concrete wire frame.
type Frame interface {
	FrameType() FrameType
}

// --- Auth channel ---

type AuthRequest struct {
	Type     FrameType `json:"type"`
	ClientID string    `json:"client_id"`
}

func (AuthRequest) FrameType() FrameType { return TypeAuthRequest }

type AuthChallenge struct {
	Type        FrameType `json:"type"`
	SessionID   string    `json:"session_id"`
	Nonce       string    `json:"nonce"`
	Timestamp   int64     `json:"timestamp"`
	PayloadHash string    `json:"payload_hash"`
}

func (AuthChallenge) FrameType() FrameType { return TypeAuthChallenge }

type AuthResponse struct {
	Type      FrameType `json:"type"`
	SessionID string    `json:"session_id"`
	Signature string    `json:"signature"` // hex-encoded
}

func (AuthResponse) FrameType() FrameType { return TypeAuthResponse }

// ServerCapabilities is advertised to the client on successful auth.
type ServerCapabilities struct {
	MaxTransferSize int64    `json:"max_transfer_size"`
	ChunkSize       int      `json:"chunk_size"`
	Compression     []string `json:"compression"`
	Resume          bool     `json:"resume"`
}

type AuthSuccess struct {
	Type               FrameType          `json:"type"`
	SessionID          string             `json:"session_id"`
	ServerCapabilities ServerCapabilities `json:"server_capabilities"`
}

func (AuthSuccess) FrameType() FrameType { return TypeAuthSuccess }

type AuthError struct {
	Type    FrameType `json:"type"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

func (AuthError) FrameType() FrameType { return TypeAuthError }

// --- Data channel ---

// TransferInitMetadata mirrors models.TransferMetadata's wire shape.
type TransferInitMetadata struct {
	FileSize       int64  `json:"file_size"`
	FileHash       string `json:"file_hash"`
	Version        int64  `json:"version"`
	Signature      string `json:"signature,omitempty"` // hex-encoded
	Compression    string `json:"compression,omitempty"`
	CompressedSize int64  `json:"compressed_size,omitempty"`
	CompressedHash string `json:"compressed_hash,omitempty"`
}

type TransferInit struct {
	Type     FrameType            `json:"type"`
	Metadata TransferInitMetadata `json:"metadata"`
}

func (TransferInit) FrameType() FrameType { return TypeTransferInit }

type TransferReady struct {
	Type         FrameType `json:"type"`
	SessionID    string    `json:"session_id"`
	ChunkSize    int       `json:"chunk_size"`
	TotalChunks  int       `json:"total_chunks"`
	ExpectedHash string    `json:"expected_hash"`
}

func (TransferReady) FrameType() FrameType { return TypeTransferReady }

type ChunkData struct {
	Type       FrameType `json:"type"`
	SessionID  string    `json:"session_id"`
	ChunkIndex int       `json:"chunk_index"`
	Data       string    `json:"data"` // hex-encoded payload
	Checksum   string    `json:"checksum,omitempty"`
}

func (ChunkData) FrameType() FrameType { return TypeChunkData }

type ChunkAck struct {
	Type           FrameType `json:"type"`
	ChunkIndex     int       `json:"chunk_index"`
	ChunksReceived int       `json:"chunks_received"`
	TotalChunks    int       `json:"total_chunks"`
	Progress       float64   `json:"progress"`
	MissingSample  []int     `json:"missing_sample,omitempty"`
	Duplicate      bool      `json:"duplicate,omitempty"`
}

func (ChunkAck) FrameType() FrameType { return TypeChunkAck }

// ControlCommand enumerates transfer_control commands.
type ControlCommand string

const (
	ControlPause  ControlCommand = "pause"
	ControlResume ControlCommand = "resume"
	ControlCancel ControlCommand = "cancel"
	ControlStatus ControlCommand = "status"
)

type TransferControl struct {
	Type    FrameType      `json:"type"`
	Command ControlCommand `json:"command"`
}

func (TransferControl) FrameType() FrameType { return TypeTransferControl }

type TransferComplete struct {
	Type       FrameType `json:"type"`
	SessionID  string    `json:"session_id"`
	FileHash   string    `json:"file_hash"`
	FileSize   int64     `json:"file_size"`
	DurationMs int64     `json:"duration"`
	NewVersion int64     `json:"new_version"`
}

func (TransferComplete) FrameType() FrameType { return TypeTransferComplete }

type TransferError struct {
	Type           FrameType `json:"type"`
	Code           string    `json:"code"`
	Message        string    `json:"message"`
	RetrySuggested bool      `json:"retry_suggested"`
}

func (TransferError) FrameType() FrameType { return TypeTransferError }

// --- Status channel ---

// StatusSnapshot is the coordinator's progress/status report. When it
// would exceed the per-write size cap, EncodeFrame truncates it to just
// Type, Code, ChunksReceived, TotalChunks, and Progress (spec.md §4.1).
type StatusSnapshot struct {
	Type                FrameType `json:"type"`
	Code                string    `json:"code"`
	State               string    `json:"state,omitempty"`
	ChunksReceived      int       `json:"chunks_received"`
	TotalChunks         int       `json:"total_chunks"`
	Progress            float64   `json:"progress"`
	BytesReceived       int64     `json:"bytes_received,omitempty"`
	RateBps             float64   `json:"rate_bps,omitempty"`
	EstimatedCompletion float64   `json:"estimated_completion,omitempty"`
}

func (StatusSnapshot) FrameType() FrameType { return TypeStatusSnapshot }

// Truncated returns a copy carrying only the fields required to survive
// truncation when a full snapshot does not fit in a single write.
func (s StatusSnapshot) Truncated() StatusSnapshot {
	return StatusSnapshot{
		Type:           s.Type,
		Code:           s.Code,
		ChunksReceived: s.ChunksReceived,
		TotalChunks:    s.TotalChunks,
		Progress:       s.Progress,
	}
}
