// Command device runs the fixed embedded device's side of the map
// transfer: it listens for a terminal connection, authenticates it, and
// hands every accepted connection to a Session Coordinator that owns the
// rest of the transfer. Adapted from the teacher's receiver CLI, whose
// per-connection accept loop survives; the manual chunk reassembly and
// session bookkeeping it used to do by hand are now the coordinator's
// job.
package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"flag"
	"fmt"
	"log"
	"net"
	"os"

	"github.com/mitchellh/colorstring"

	"github.com/atscadalab/blemap-transfer/internal/auth"
	"github.com/atscadalab/blemap-transfer/internal/config"
	"github.com/atscadalab/blemap-transfer/internal/coordinator"
	"github.com/atscadalab/blemap-transfer/internal/store"
	"github.com/atscadalab/blemap-transfer/internal/transfer"
	"github.com/atscadalab/blemap-transfer/internal/transport"
	"github.com/atscadalab/blemap-transfer/pkg/models"
)

func main() {
	port := flag.Int("port", 8765, "listening port")
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}

	authCfg := auth.Config{
		AuthWindow:      cfg.AuthWindow(),
		SessionLifetime: cfg.SessionLifetime(),
		MaxAttempts:     cfg.Security.MaxAuthAttempts,
		DevMode:         cfg.Security.DevMode,
	}
	if cfg.Security.DevMode {
		secret, err := hex.DecodeString(cfg.Security.DevSecretHex)
		if err != nil {
			log.Fatalf("decode dev_secret_hex: %v", err)
		}
		if len(secret) == 0 {
			log.Fatalf("dev_mode requires a non-empty dev_secret_hex")
		}
		authCfg.DevSecret = secret
	} else if cfg.Security.PublicKeyPath != "" {
		pub, err := loadPublicKey(cfg.Security.PublicKeyPath)
		if err != nil {
			log.Fatalf("load public key: %v", err)
		}
		authCfg.PublicKey = pub
	}

	storeCfg := store.Config{
		ActiveMapPath: cfg.Storage.ActiveMap,
		TempDir:       cfg.Storage.TempDir,
		BackupDir:     cfg.Storage.BackupMapDir,
		MaxBackups:    cfg.Storage.MaxBackups,
	}
	mapStore, err := store.New(storeCfg)
	if err != nil {
		log.Fatalf("create store: %v", err)
	}

	coordCfg := coordinator.Config{
		ChunkSize:            cfg.BLE.ChunkSize,
		MaxTransferSize:      cfg.BLE.MaxTransferSize,
		CompressionEnabled:   cfg.BLE.CompressionEnabled,
		CompressionThreshold: cfg.BLE.CompressionThreshold,
		Transfer: transfer.Config{
			MaxChunksPerSecond: cfg.BLE.MaxChunksPerSecond,
			SessionTimeout:     cfg.SessionTimeout(),
		},
	}

	addr := fmt.Sprintf(":%d", *port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("listen on %s: %v", addr, err)
	}
	defer ln.Close()

	colorstring.Printf("[green]device %s listening on %s[reset]\n", cfg.DeviceID, addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Printf("accept error: %v", err)
			continue
		}
		go handleConnection(conn, cfg.DeviceID, authCfg, mapStore, coordCfg)
	}
}

// handleConnection runs one Session Coordinator per accepted connection:
// the coordinator's Run loop owns the connection until it disconnects or
// the context is cancelled. Connections are served concurrently, each with
// its own coordinator and auth engine, so the one-active-session rule is
// enforced within a connection only, not across connections.
func handleConnection(conn net.Conn, deviceID string, authCfg auth.Config, mapStore *store.Store, coordCfg coordinator.Config) {
	defer conn.Close()

	link := transport.NewConnTransport(conn)
	defer link.Close()

	authz := auth.NewEngine(deviceID, authCfg)
	sink := loggingSink{remote: conn.RemoteAddr().String()}

	coord := coordinator.New(link, link, authz, mapStore, coordCfg, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coord.Run(ctx)
}

// loggingSink logs every coordinator event to stdout, in place of the
// real embedded device's UI/telemetry surface, which is out of scope
// here.
type loggingSink struct {
	remote string
}

func (s loggingSink) OnStateChange(state models.SessionState) {
	log.Printf("[%s] state -> %s", s.remote, state)
}

func (s loggingSink) OnProgress(chunksReceived, totalChunks int, bytesReceived int64, rateBps float64) {
	log.Printf("[%s] progress %d/%d chunks (%.0f B/s)", s.remote, chunksReceived, totalChunks, rateBps)
}

func (s loggingSink) OnError(kind models.ErrKind, message string) {
	log.Printf("[%s] error %s: %s", s.remote, kind, message)
}

func (s loggingSink) OnComplete(newVersion int64) {
	colorstring.Printf("[green][%s] map updated to version %d[reset]\n", s.remote, newVersion)
}

// loadPublicKey parses a PEM-encoded PKIX ECDSA P-256 public key.
func loadPublicKey(path string) (*ecdsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %s", path)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("key at %s is not an ECDSA key", path)
	}
	return pub, nil
}
