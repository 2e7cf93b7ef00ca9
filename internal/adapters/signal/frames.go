// Package signal is the broker: a websocket address registry with
// claim-if-absent semantics plus offer/answer/candidate relay between
// registered peers. It holds no session state beyond the live
// registrations.
package signal

import "encoding/json"

// Frame is the broker wire envelope. Claim and heartbeat frames carry
// no payload; relay frames carry an opaque payload the broker never
// inspects.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Src     string          `json:"src,omitempty"`
	Dst     string          `json:"dst,omitempty"`
	Code    string          `json:"code,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	// Client to broker.
	TypeClaim     = "claim"
	TypeHeartbeat = "heartbeat"

	// Broker to client.
	TypeOpen  = "open"
	TypeError = "error"
	TypePong  = "pong"

	// Relayed verbatim, src stamped by the broker.
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "candidate"
	TypeBye       = "bye"
)

const (
	CodeIDTaken     = "id_taken"
	CodeUnavailable = "peer_unavailable"
	CodeRateLimited = "rate_limited"
	CodeBadFrame    = "bad_frame"
)

func errorFrame(code string) Frame {
	return Frame{Type: TypeError, Code: code}
}

func relayable(t string) bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeCandidate, TypeBye:
		return true
	}
	return false
}
