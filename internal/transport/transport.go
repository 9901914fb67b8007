// Package transport defines the link abstraction the coordinator
// writes frames over, and a Loopback implementation used by tests (over
// net.Pipe) and by the terminal and device CLIs (over TCP). The real BLE GATT characteristic
// plumbing is out of scope: any transport need only satisfy this
// interface's three-channel, ordered-per-channel, promptly-surfaced-
// disconnect contract (spec.md §6).
package transport

import "github.com/atscadalab/blemap-transfer/pkg/wire"

// Transport is the one-way write surface the coordinator uses to push
// frames to its peer, split by logical channel exactly as the GATT
// characteristic model requires.
type Transport interface {
	WriteAuth(frame wire.Frame) error
	WriteData(frame wire.Frame) error
	WriteStatus(frame wire.Frame) error

	// Disconnected is closed the moment the link is known to be down.
	// Never sends a value, only closes.
	Disconnected() <-chan struct{}

	Close() error
}

// Receiver is implemented by whatever drains a Transport's peer side
// and hands decoded frames to the coordinator.
type Receiver interface {
	// Recv blocks until the next frame arrives on any channel, or the
	// transport disconnects (in which case it returns an error).
	Recv() (wire.Frame, error)
}
