package wire

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/atscadalab/blemap-transfer/pkg/models"
)

// MaxFrameBytes is the BLE GATT characteristic-write ceiling every
// encoded frame must fit under (spec.md §6).
const MaxFrameBytes = 512

// envelope is used only to read the "type" tag during decode; the full
// frame is then unmarshalled into its concrete struct on a second pass.
type envelope struct {
	Type FrameType `json:"type"`
}

// EncodeFrame marshals f to JSON, truncating status_snapshot frames that
// would not otherwise fit under MaxFrameBytes. Any other frame exceeding
// the cap is a caller error: the upstream chunk size (and therefore
// chunk_data frame size) must already respect the link MTU.
func EncodeFrame(f Frame) ([]byte, error) {
	out, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", f.FrameType(), err)
	}
	if len(out) <= MaxFrameBytes {
		return out, nil
	}
	if snap, ok := f.(StatusSnapshot); ok {
		out, err = json.Marshal(snap.Truncated())
		if err != nil {
			return nil, fmt.Errorf("wire: encode truncated status_snapshot: %w", err)
		}
		if len(out) <= MaxFrameBytes {
			return out, nil
		}
	}
	return nil, models.NewError(models.ErrSystemError,
		"encoded %s frame is %d bytes, exceeds %d-byte link cap", f.FrameType(), len(out), MaxFrameBytes)
}

// DecodeFrame dispatches buf to its concrete Frame type based on the
// "type" tag, via a two-pass json.RawMessage decode.
func DecodeFrame(buf []byte) (Frame, error) {
	if len(buf) > MaxFrameBytes {
		return nil, models.NewError(models.ErrInvalidEncoding, "frame of %d bytes exceeds %d-byte link cap", len(buf), MaxFrameBytes)
	}
	var env envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return nil, models.NewError(models.ErrInvalidEncoding, "malformed frame: %v", err)
	}

	var (
		frame Frame
		err   error
	)
	switch env.Type {
	case TypeAuthRequest:
		var f AuthRequest
		err = json.Unmarshal(buf, &f)
		frame = f
	case TypeAuthChallenge:
		var f AuthChallenge
		err = json.Unmarshal(buf, &f)
		frame = f
	case TypeAuthResponse:
		var f AuthResponse
		err = json.Unmarshal(buf, &f)
		frame = f
	case TypeAuthSuccess:
		var f AuthSuccess
		err = json.Unmarshal(buf, &f)
		frame = f
	case TypeAuthError:
		var f AuthError
		err = json.Unmarshal(buf, &f)
		frame = f
	case TypeTransferInit:
		var f TransferInit
		err = json.Unmarshal(buf, &f)
		frame = f
	case TypeTransferReady:
		var f TransferReady
		err = json.Unmarshal(buf, &f)
		frame = f
	case TypeChunkData:
		var f ChunkData
		err = json.Unmarshal(buf, &f)
		frame = f
	case TypeChunkAck:
		var f ChunkAck
		err = json.Unmarshal(buf, &f)
		frame = f
	case TypeTransferControl:
		var f TransferControl
		err = json.Unmarshal(buf, &f)
		frame = f
	case TypeTransferComplete:
		var f TransferComplete
		err = json.Unmarshal(buf, &f)
		frame = f
	case TypeTransferError:
		var f TransferError
		err = json.Unmarshal(buf, &f)
		frame = f
	case TypeStatusSnapshot:
		var f StatusSnapshot
		err = json.Unmarshal(buf, &f)
		frame = f
	default:
		return nil, models.NewError(models.ErrInvalidEncoding, "unknown frame type %q", env.Type)
	}
	if err != nil {
		return nil, models.NewError(models.ErrInvalidEncoding, "malformed %s frame: %v", env.Type, err)
	}
	return frame, nil
}

// DecodeChunkData decodes a ChunkData frame's hex payload into a
// models.ChunkFrame, rejecting non-hex data and, when a checksum is
// present, verifying it against the decoded payload via MD5.
func DecodeChunkData(f ChunkData) (models.ChunkFrame, error) {
	payload, err := hex.DecodeString(f.Data)
	if err != nil {
		return models.ChunkFrame{}, models.NewError(models.ErrInvalidEncoding, "chunk %d: data is not valid hex: %v", f.ChunkIndex, err)
	}
	if f.Checksum != "" {
		sum := md5.Sum(payload)
		if hex.EncodeToString(sum[:]) != f.Checksum {
			return models.ChunkFrame{}, models.NewError(models.ErrChecksumMismatch, "chunk %d: checksum mismatch", f.ChunkIndex)
		}
	}
	return models.ChunkFrame{
		SessionID:  f.SessionID,
		ChunkIndex: f.ChunkIndex,
		Payload:    payload,
		Checksum:   f.Checksum,
	}, nil
}

// EncodeChunkData hex-encodes payload and stamps its MD5 checksum into a
// ChunkData frame ready for EncodeFrame.
func EncodeChunkData(sessionID string, index int, payload []byte) ChunkData {
	sum := md5.Sum(payload)
	return ChunkData{
		Type:       TypeChunkData,
		SessionID:  sessionID,
		ChunkIndex: index,
		Data:       hex.EncodeToString(payload),
		Checksum:   hex.EncodeToString(sum[:]),
	}
}
