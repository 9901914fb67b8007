// Package auth implements the Auth Engine (C2): challenge issuance,
// signature verification, and single-use replay protection for the
// handshake a terminal must complete before a transfer session may
// begin. Grounded on the original AuthenticationManager's
// challenge/response/session shape, hardened to real ECDSA P-256
// signatures (or an HMAC-SHA256 dev-mode fallback) in place of the
// original's demo hash-matching.
package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atscadalab/blemap-transfer/pkg/models"
)

// Config controls the Auth Engine's handshake and session lifetime
// parameters, populated from the configuration file's security section.
type Config struct {
	AuthWindow      time.Duration // how long a challenge remains answerable
	SessionLifetime time.Duration // how long a completed auth stays valid
	MaxAttempts     int           // consecutive failed responses before throttling

	// DevMode switches signature verification from ECDSA P-256 to an
	// HMAC-SHA256 scheme keyed by DevSecret. Production deployments
	// must leave this false.
	DevMode   bool
	DevSecret []byte

	// PublicKey verifies AuthResponse signatures when DevMode is false.
	PublicKey *ecdsa.PublicKey
}

// DefaultConfig returns the conservative defaults spec.md §6 lists for
// the security section absent an explicit override.
func DefaultConfig() Config {
	return Config{
		AuthWindow:      30 * time.Second,
		SessionLifetime: 300 * time.Second,
		MaxAttempts:     3,
	}
}

type challengeSession struct {
	clientID    string
	nonce       string
	timestamp   int64
	payloadHash string
	issuedAt    time.Time
	attempts    int
	used        bool

	authenticated   bool
	authenticatedAt time.Time
}

// Engine issues challenges and verifies responses for a single device.
// One Engine instance serves every client_id that connects to it; the
// session_id namespace disambiguates concurrent handshakes.
type Engine struct {
	cfg      Config
	deviceID string
	throttle *Throttle

	mu       sync.Mutex
	sessions map[string]*challengeSession // keyed by session_id
}

// NewEngine constructs an Engine for deviceID (the fixed embedded
// device's own identity, bound into every challenge hash).
func NewEngine(deviceID string, cfg Config) *Engine {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Engine{
		cfg:      cfg,
		deviceID: deviceID,
		throttle: NewThrottle(maxAttempts),
		sessions: make(map[string]*challengeSession),
	}
}

// GenerateChallenge mints a fresh session_id and nonce for clientID and
// binds them into a SHA-256 hash the client must sign (or HMAC, in dev
// mode) to prove possession of its key.
func (e *Engine) GenerateChallenge(clientID string) (sessionID, nonce string, timestamp int64, payloadHash string, err error) {
	if !e.throttle.Allow(clientID) {
		return "", "", 0, "", models.NewError(models.ErrAuthFailed, "client %s is throttled after repeated failures", clientID)
	}

	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", "", 0, "", models.NewError(models.ErrSystemError, "failed to generate nonce: %v", err)
	}

	sessionID = uuid.NewString()
	nonce = hex.EncodeToString(nonceBytes)
	timestamp = time.Now().Unix()
	payloadHash = bindingHash(e.deviceID, nonce, timestamp, sessionID)

	e.mu.Lock()
	e.sessions[sessionID] = &challengeSession{
		clientID:    clientID,
		nonce:       nonce,
		timestamp:   timestamp,
		payloadHash: payloadHash,
		issuedAt:    time.Now(),
	}
	e.mu.Unlock()

	return sessionID, nonce, timestamp, payloadHash, nil
}

// bindingHash computes SHA-256(device_id || nonce || timestamp || session_id)
// as hex, per spec.md §4.2.
func bindingHash(deviceID, nonce string, timestamp int64, sessionID string) string {
	h := sha256.New()
	h.Write([]byte(deviceID))
	h.Write([]byte(nonce))
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestamp))
	h.Write(ts[:])
	h.Write([]byte(sessionID))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyResponse checks a client's signature over the outstanding
// challenge for sessionID. Every challenge is single-use: the outcome,
// success or failure, consumes it.
func (e *Engine) VerifyResponse(sessionID, signatureHex string) error {
	e.mu.Lock()
	sess, ok := e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		return models.NewError(models.ErrSessionMismatch, "no outstanding challenge for session %s", sessionID)
	}
	if sess.used {
		e.mu.Unlock()
		return models.NewError(models.ErrInvalidState, "challenge for session %s already consumed", sessionID)
	}
	sess.attempts++
	clientID := sess.clientID

	if sess.attempts > e.cfg.MaxAttempts {
		sess.used = true
		e.mu.Unlock()
		e.throttle.RecordFailure(clientID)
		return models.NewError(models.ErrAuthFailed, "max authentication attempts exceeded for session %s", sessionID)
	}
	if time.Since(sess.issuedAt) > e.cfg.AuthWindow {
		sess.used = true
		e.mu.Unlock()
		e.throttle.RecordFailure(clientID)
		return models.NewError(models.ErrAuthExpired, "challenge for session %s expired", sessionID)
	}
	payloadHash := sess.payloadHash
	e.mu.Unlock()

	valid, err := e.verifySignature(payloadHash, signatureHex)
	if err != nil {
		e.mu.Lock()
		sess.used = true
		e.mu.Unlock()
		e.throttle.RecordFailure(clientID)
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !valid {
		sess.used = true
		e.throttle.RecordFailure(clientID)
		return models.NewError(models.ErrInvalidSignature, "signature verification failed for session %s", sessionID)
	}

	sess.used = true
	sess.authenticated = true
	sess.authenticatedAt = time.Now()
	e.throttle.RecordSuccess(clientID)
	return nil
}

// verifySignature checks signatureHex against payloadHash using ECDSA
// P-256, or HMAC-SHA256 when the Engine runs in dev mode.
func (e *Engine) verifySignature(payloadHash, signatureHex string) (bool, error) {
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false, models.NewError(models.ErrInvalidEncoding, "signature is not valid hex: %v", err)
	}
	digest, err := hex.DecodeString(payloadHash)
	if err != nil {
		return false, models.NewError(models.ErrSystemError, "internal payload hash is not valid hex: %v", err)
	}

	if e.cfg.DevMode {
		mac := hmac.New(sha256.New, e.cfg.DevSecret)
		mac.Write(digest)
		expected := mac.Sum(nil)
		return hmac.Equal(expected, sig), nil
	}

	if e.cfg.PublicKey == nil {
		return false, models.NewError(models.ErrSystemError, "no public key configured for signature verification")
	}
	if len(sig) == 0 {
		return false, nil
	}
	half := len(sig) / 2
	if len(sig)%2 != 0 || half == 0 {
		return false, models.NewError(models.ErrInvalidEncoding, "signature length %d is not a valid fixed-width ECDSA (r,s) pair", len(sig))
	}
	r := new(big.Int).SetBytes(sig[:half])
	s := new(big.Int).SetBytes(sig[half:])
	return ecdsa.Verify(e.cfg.PublicKey, digest, r, s), nil
}

// IsAuthenticated reports whether sessionID completed a handshake and
// is still within its session lifetime.
func (e *Engine) IsAuthenticated(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[sessionID]
	if !ok || !sess.authenticated {
		return false
	}
	if time.Since(sess.authenticatedAt) > e.cfg.SessionLifetime {
		return false
	}
	return true
}

// Invalidate tears down sessionID's authentication state, called on
// transport disconnect per spec.md §4.2.
func (e *Engine) Invalidate(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, sessionID)
}

// GenerateKeyPair is a convenience for tests and dev tooling that need
// an ECDSA P-256 key pair without reaching for openssl.
func GenerateKeyPair() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("auth: generate key pair: %w", err)
	}
	return key, nil
}

// Sign produces the fixed-width hex (r,s) signature VerifyResponse
// expects, over the hex-decoded payloadHash.
func Sign(key *ecdsa.PrivateKey, payloadHash string) (string, error) {
	digest, err := hex.DecodeString(payloadHash)
	if err != nil {
		return "", fmt.Errorf("auth: payload hash is not valid hex: %w", err)
	}
	r, s, err := ecdsa.Sign(rand.Reader, key, digest)
	if err != nil {
		return "", fmt.Errorf("auth: sign: %w", err)
	}
	size := (key.Curve.Params().BitSize + 7) / 8
	out := make([]byte, 2*size)
	r.FillBytes(out[:size])
	s.FillBytes(out[size:])
	return hex.EncodeToString(out), nil
}
