package core

import "github.com/hiredesk/interview/internal/domain"

// Event is the sum type delivered on Peer.Events. Every transport
// callback becomes one of these so session code never runs re-entrant.
type Event interface{ isEvent() }

// CallEvent: a counterpart is calling. The consumer must Answer or
// Close the call.
type CallEvent struct {
	Call MediaCall
}

// LinkEvent: a counterpart opened a data link to us.
type LinkEvent struct {
	Link DataLink
}

// StreamEvent: the remote media stream for an answered or dialed call
// has arrived.
type StreamEvent struct {
	Peer   domain.PeerAddress
	Stream MediaStream
}

// DataEvent: one payload received on the link to Peer.
type DataEvent struct {
	Peer    domain.PeerAddress
	Payload []byte
}

// CallClosedEvent: the call to Peer ended or errored. Err is nil for a
// clean close.
type CallClosedEvent struct {
	Peer domain.PeerAddress
	Err  error
}

// LinkClosedEvent: the data link to Peer is gone.
type LinkClosedEvent struct {
	Peer domain.PeerAddress
}

// DisconnectedEvent: the registration lost its transport connection.
// The address stays reserved; Reconnect may restore it.
type DisconnectedEvent struct{}

func (CallEvent) isEvent()         {}
func (LinkEvent) isEvent()         {}
func (StreamEvent) isEvent()       {}
func (DataEvent) isEvent()         {}
func (CallClosedEvent) isEvent()   {}
func (LinkClosedEvent) isEvent()   {}
func (DisconnectedEvent) isEvent() {}
