package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/atscadalab/blemap-transfer/pkg/wire"
)

// Loopback is a Transport/Receiver endpoint over a net.Conn: an
// in-process net.Pipe pair in tests, or a TCP socket in the terminal and
// device CLIs (see NewConnTransport). Framing is length-prefixed JSON, the
// same [4-byte big-endian length][payload] shape the teacher's
// TCPSender/TCPReceiver used over a real socket, adapted here to carry
// wire.Frame values instead of raw chunk+metadata pairs.
type Loopback struct {
	conn net.Conn

	closeOnce   sync.Once
	disconnectC chan struct{}
}

// NewLoopbackPair returns two connected Loopback endpoints: writes on
// one are readable via Recv on the other. Used by tests.
func NewLoopbackPair() (a, b *Loopback) {
	ca, cb := net.Pipe()
	a = &Loopback{conn: ca, disconnectC: make(chan struct{})}
	b = &Loopback{conn: cb, disconnectC: make(chan struct{})}
	return a, b
}

// NewConnTransport wraps any net.Conn (a real TCP socket included) in
// the same length-prefixed framing Loopback uses over net.Pipe. The
// terminal and device CLIs use this over TCP as a stand-in for the
// real BLE GATT link, which is out of scope here.
func NewConnTransport(conn net.Conn) *Loopback {
	return &Loopback{conn: conn, disconnectC: make(chan struct{})}
}

func (l *Loopback) WriteAuth(frame wire.Frame) error   { return l.write(frame) }
func (l *Loopback) WriteData(frame wire.Frame) error   { return l.write(frame) }
func (l *Loopback) WriteStatus(frame wire.Frame) error { return l.write(frame) }

func (l *Loopback) write(frame wire.Frame) error {
	payload, err := wire.EncodeFrame(frame)
	if err != nil {
		return err
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(payload)))
	if _, err := l.conn.Write(lenPrefix[:]); err != nil {
		l.signalDisconnect()
		return fmt.Errorf("transport: write length prefix: %w", err)
	}
	if _, err := l.conn.Write(payload); err != nil {
		l.signalDisconnect()
		return fmt.Errorf("transport: write frame: %w", err)
	}
	return nil
}

// Recv reads the next length-prefixed frame and decodes it.
func (l *Loopback) Recv() (wire.Frame, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(l.conn, lenPrefix[:]); err != nil {
		l.signalDisconnect()
		return nil, fmt.Errorf("transport: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > wire.MaxFrameBytes {
		l.signalDisconnect()
		return nil, fmt.Errorf("transport: frame of %d bytes exceeds link cap", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(l.conn, buf); err != nil {
		l.signalDisconnect()
		return nil, fmt.Errorf("transport: read frame: %w", err)
	}
	return wire.DecodeFrame(buf)
}

func (l *Loopback) Disconnected() <-chan struct{} { return l.disconnectC }

func (l *Loopback) signalDisconnect() {
	l.closeOnce.Do(func() { close(l.disconnectC) })
}

// Close shuts down the underlying pipe and surfaces a disconnect to
// any Disconnected() watcher.
func (l *Loopback) Close() error {
	l.signalDisconnect()
	return l.conn.Close()
}
