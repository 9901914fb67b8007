// Command terminal is the mobile enforcement terminal's side of the map
// transfer: it authenticates to a device, pushes a signed map file over
// a chunked session, and reports progress on the way. Adapted from the
// teacher's sender CLI — the flag parsing, progress bar, and Ctrl+C
// handling survive, but file chunking and TCP framing are now delegated
// to the wire/chunker/auth packages that implement the actual protocol.
package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mitchellh/colorstring"
	"github.com/schollz/progressbar/v3"

	"github.com/atscadalab/blemap-transfer/internal/auth"
	"github.com/atscadalab/blemap-transfer/internal/chunker"
	"github.com/atscadalab/blemap-transfer/internal/config"
	"github.com/atscadalab/blemap-transfer/internal/crypto"
	"github.com/atscadalab/blemap-transfer/internal/telemetry"
	"github.com/atscadalab/blemap-transfer/internal/transport"
	"github.com/atscadalab/blemap-transfer/pkg/models"
	"github.com/atscadalab/blemap-transfer/pkg/utils"
	"github.com/atscadalab/blemap-transfer/pkg/wire"
)

func main() {
	mapFile := flag.String("file", "", "path to the signed map JSON file to push")
	deviceAddr := flag.String("device", "", "device host:port to connect to")
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	clientID := flag.String("client-id", "terminal-01", "client identity presented in auth_request")
	keyPath := flag.String("key", "", "path to a PEM-encoded ECDSA P-256 private key (required unless dev mode)")
	devSecretHex := flag.String("dev-secret", "", "hex-encoded HMAC secret for dev-mode auth (testing only)")
	flag.Parse()

	if *mapFile == "" || *deviceAddr == "" {
		log.Fatal("usage: terminal -file <map.json> -device <host:port> [-config cfg.yaml]")
	}

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}

	payload, err := os.ReadFile(*mapFile)
	if err != nil {
		log.Fatalf("read %s: %v", *mapFile, err)
	}
	canonicalHash := utils.HashBytesSHA256(payload)

	var version int64 = time.Now().Unix()
	metadata := models.TransferMetadata{
		FileSize: int64(len(payload)),
		FileHash: canonicalHash,
		Version:  version,
	}

	wirePayload := payload
	if cfg.BLE.CompressionEnabled && int64(len(payload)) >= cfg.BLE.CompressionThreshold {
		compressed, err := crypto.CompressChunk(payload)
		if err != nil {
			log.Fatalf("compress payload: %v", err)
		}
		wirePayload = compressed
		metadata.Compression = models.CompressionGzip
		metadata.CompressedSize = int64(len(compressed))
		metadata.CompressedHash = utils.HashBytesSHA256(compressed)
	}

	conn, err := net.DialTimeout("tcp", *deviceAddr, 10*time.Second)
	if err != nil {
		log.Fatalf("dial %s: %v", *deviceAddr, err)
	}
	link := transport.NewConnTransport(conn)
	defer link.Close()

	var signer *ecdsa.PrivateKey
	if *keyPath != "" {
		signer, err = loadPrivateKey(*keyPath)
		if err != nil {
			log.Fatalf("load signing key: %v", err)
		}
	}
	devSecret, _ := hex.DecodeString(*devSecretHex)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		colorstring.Println("[yellow]received interrupt, cancelling transfer...[reset]")
		_ = link.WriteData(wire.TransferControl{Type: wire.TypeTransferControl, Command: wire.ControlCancel})
		cancel()
	}()

	collector := telemetry.NewTelemetryCollector()

	sessionID, chunkSize, err := authenticate(link, *clientID, signer, devSecret)
	if err != nil {
		log.Fatalf("authentication failed: %v", err)
	}
	colorstring.Printf("[green]authenticated[reset] session=%s chunk_size=%d\n", sessionID, chunkSize)

	totalChunks, err := sendTransfer(ctx, link, sessionID, metadata, wirePayload, chunkSize, collector)
	if err != nil {
		log.Fatalf("transfer failed: %v", err)
	}
	colorstring.Printf("[green]transfer complete[reset] chunks=%d bandwidth=%.2fMbps\n", totalChunks, collector.BandwidthMbps())
}

// loadPrivateKey parses a PEM-encoded PKCS8 or SEC1 ECDSA P-256 key.
func loadPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse EC private key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key at %s is not an ECDSA key", path)
	}
	return key, nil
}

// authenticate drives the auth_request/auth_challenge/auth_response/
// auth_success handshake and returns the session_id and negotiated
// chunk size the device advertised.
func authenticate(link *transport.Loopback, clientID string, signer *ecdsa.PrivateKey, devSecret []byte) (string, int, error) {
	if err := link.WriteAuth(wire.AuthRequest{Type: wire.TypeAuthRequest, ClientID: clientID}); err != nil {
		return "", 0, fmt.Errorf("send auth_request: %w", err)
	}

	frame, err := link.Recv()
	if err != nil {
		return "", 0, fmt.Errorf("recv auth_challenge: %w", err)
	}
	challenge, ok := frame.(wire.AuthChallenge)
	if !ok {
		if authErr, ok := frame.(wire.AuthError); ok {
			return "", 0, fmt.Errorf("device rejected auth: %s: %s", authErr.Code, authErr.Message)
		}
		return "", 0, fmt.Errorf("expected auth_challenge, got %T", frame)
	}

	var signature string
	switch {
	case signer != nil:
		signature, err = auth.Sign(signer, challenge.PayloadHash)
		if err != nil {
			return "", 0, fmt.Errorf("sign challenge: %w", err)
		}
	case len(devSecret) > 0:
		signature = devHMACSign(devSecret, challenge.PayloadHash)
	default:
		return "", 0, fmt.Errorf("no signing key or dev secret provided")
	}

	if err := link.WriteAuth(wire.AuthResponse{
		Type:      wire.TypeAuthResponse,
		SessionID: challenge.SessionID,
		Signature: signature,
	}); err != nil {
		return "", 0, fmt.Errorf("send auth_response: %w", err)
	}

	frame, err = link.Recv()
	if err != nil {
		return "", 0, fmt.Errorf("recv auth_success: %w", err)
	}
	success, ok := frame.(wire.AuthSuccess)
	if !ok {
		if authErr, ok := frame.(wire.AuthError); ok {
			return "", 0, fmt.Errorf("device rejected signature: %s: %s", authErr.Code, authErr.Message)
		}
		return "", 0, fmt.Errorf("expected auth_success, got %T", frame)
	}
	return success.SessionID, success.ServerCapabilities.ChunkSize, nil
}

// devHMACSign reproduces the dev-mode signature scheme the auth engine
// accepts when Config.DevMode is set: HMAC-SHA256 over the hex-decoded
// payload hash.
func devHMACSign(secret []byte, payloadHash string) string {
	digest, _ := hex.DecodeString(payloadHash)
	mac := hmac.New(sha256.New, secret)
	mac.Write(digest)
	return hex.EncodeToString(mac.Sum(nil))
}

// sendTransfer pushes transfer_init, waits for transfer_ready, then
// streams every chunk, tracking progress with a progress bar and
// bandwidth with the telemetry collector.
func sendTransfer(ctx context.Context, link *transport.Loopback, sessionID string, metadata models.TransferMetadata, wirePayload []byte, chunkSize int, collector *telemetry.TelemetryCollector) (int, error) {
	initMeta := wire.TransferInitMetadata{
		FileSize:       metadata.FileSize,
		FileHash:       metadata.FileHash,
		Version:        metadata.Version,
		Compression:    string(metadata.Compression),
		CompressedSize: metadata.CompressedSize,
		CompressedHash: metadata.CompressedHash,
	}
	if err := link.WriteData(wire.TransferInit{Type: wire.TypeTransferInit, Metadata: initMeta}); err != nil {
		return 0, fmt.Errorf("send transfer_init: %w", err)
	}

	frame, err := link.Recv()
	if err != nil {
		return 0, fmt.Errorf("recv transfer_ready: %w", err)
	}
	ready, ok := frame.(wire.TransferReady)
	if !ok {
		if transferErr, ok := frame.(wire.TransferError); ok {
			return 0, fmt.Errorf("device rejected transfer_init: %s: %s", transferErr.Code, transferErr.Message)
		}
		return 0, fmt.Errorf("expected transfer_ready, got %T", frame)
	}

	chunks := chunker.SplitBytes(chunker.Config{}, wirePayload, ready.ChunkSize)
	bar := progressbar.NewOptions(len(chunks),
		progressbar.OptionSetDescription("pushing map"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionOnCompletion(func() { fmt.Println() }),
	)

	for _, chunk := range chunks {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		start := time.Now()
		if err := link.WriteData(wire.EncodeChunkData(sessionID, chunk.Index, chunk.Payload)); err != nil {
			return 0, fmt.Errorf("send chunk %d: %w", chunk.Index, err)
		}
		ackFrame, err := link.Recv()
		if err != nil {
			return 0, fmt.Errorf("recv chunk_ack for %d: %w", chunk.Index, err)
		}
		ack, ok := ackFrame.(wire.ChunkAck)
		if !ok {
			if transferErr, ok := ackFrame.(wire.TransferError); ok {
				return 0, fmt.Errorf("device reported transfer error: %s: %s", transferErr.Code, transferErr.Message)
			}
			return 0, fmt.Errorf("expected chunk_ack, got %T", ackFrame)
		}
		collector.RecordRTT(time.Since(start))
		collector.RecordBytesSent(len(chunk.Payload))
		_ = bar.Set(ack.ChunksReceived)
	}

	frame, err = link.Recv()
	if err != nil {
		return 0, fmt.Errorf("recv transfer_complete: %w", err)
	}
	if _, ok := frame.(wire.TransferComplete); !ok {
		if transferErr, ok := frame.(wire.TransferError); ok {
			return 0, fmt.Errorf("transfer failed: %s: %s", transferErr.Code, transferErr.Message)
		}
		return 0, fmt.Errorf("expected transfer_complete, got %T", frame)
	}
	return len(chunks), nil
}
