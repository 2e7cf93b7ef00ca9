// Package core defines the contracts between the session engine and
// its adapters. It owns no goroutines and no transport resources.
package core

import (
	"context"
	"errors"

	"github.com/hiredesk/interview/internal/domain"
)

var (
	// ErrIDTaken is returned by Claim when the address is already held
	// by another live peer. This is the expected race-loser outcome of
	// hub election, not a fault.
	ErrIDTaken = errors.New("peer id already taken")

	// ErrServerUnreachable marks a transport-level failure to reach the
	// address registry. Fatal at start; no retry loop.
	ErrServerUnreachable = errors.New("transport server unreachable")

	// ErrPeerUnavailable is returned by Call/Connect when the target
	// address is not currently registered.
	ErrPeerUnavailable = errors.New("peer unavailable")

	// ErrClosed is returned by operations on a destroyed peer or a
	// closed link. Sends on closed links are swallowed one layer up.
	ErrClosed = errors.New("closed")

	// ErrBackpressure is returned by TrySend-style paths when the
	// receiver's queue is full.
	ErrBackpressure = errors.New("backpressure")
)

// CallMetadata rides along with a media call so the callee learns the
// caller's display name before any data link opens.
type CallMetadata struct {
	Name string `json:"name"`
}

// Transport is the platform peer service: a shared address namespace
// with claim-if-absent semantics plus call/data-link establishment.
// Claiming an address is the leader-election primitive; exactly one
// claimant wins any given id.
type Transport interface {
	Claim(ctx context.Context, id domain.PeerAddress) (Peer, error)
}

// Peer is one claimed registration. All asynchronous transport
// activity is delivered as Events on a single queue so the consumer
// can stay a single-goroutine event loop.
type Peer interface {
	ID() domain.PeerAddress

	// Call dials target with the local stream attached.
	Call(target domain.PeerAddress, stream MediaStream, meta CallMetadata) (MediaCall, error)

	// Connect opens a data link to target.
	Connect(target domain.PeerAddress) (DataLink, error)

	// Events delivers incoming calls, incoming links, remote streams,
	// inbound data, closures and disconnects, in arrival order. The
	// channel closes when the peer is destroyed.
	Events() <-chan Event

	// Reconnect re-registers the same address after a transport
	// disconnect. The address is kept reserved by the platform.
	Reconnect() error

	// Destroy releases the registration and closes every call and
	// link owned by this peer. Idempotent.
	Destroy()
}

// MediaCall is one live media exchange with a counterpart. The remote
// stream arrives as a StreamEvent, not on this handle.
type MediaCall interface {
	Peer() domain.PeerAddress
	Metadata() CallMetadata

	// Answer attaches the local stream to an incoming call.
	Answer(stream MediaStream) error

	// Close hangs up. Idempotent; already-closed calls are tolerated.
	Close()
}

// DataLink is the send side of one auxiliary data channel. Inbound
// payloads surface as DataEvents on the owning peer's queue.
type DataLink interface {
	Peer() domain.PeerAddress

	// Send transmits one payload, in order, best effort. It returns
	// ErrClosed after Close and ErrBackpressure when the counterpart
	// cannot keep up; callers decide whether either matters.
	Send(payload []byte) error

	// Close tears the link down. Idempotent.
	Close()
}
