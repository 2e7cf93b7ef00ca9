// Package relay implements the data-link protocol between the hub and
// its spokes: identity exchange, policy pushes, caption fan-out and
// violation reporting over a star of per-peer links.
package relay

import (
	"encoding/json"
	"fmt"

	"github.com/hiredesk/interview/internal/domain"
)

// Kind tags the four message variants. This is the protocol's entire
// vocabulary.
type Kind string

const (
	KindIdentity  Kind = "identity"
	KindSettings  Kind = "settings"
	KindCaption   Kind = "caption"
	KindViolation Kind = "violation"
)

// Message is the wire form of a relay message. Exactly the fields of
// one variant are populated; messages are immutable once built and
// serialized fresh per send.
type Message struct {
	Type Kind `json:"type"`

	// identity, caption, violation: the sender's display name.
	Name string `json:"name,omitempty"`

	// settings
	Policy *domain.SessionPolicy `json:"policy,omitempty"`

	// caption
	Text  string `json:"text,omitempty"`
	Final bool   `json:"is_final,omitempty"`

	// violation
	Violation domain.ViolationKind `json:"violation_type,omitempty"`
	Detail    string               `json:"message,omitempty"`
}

func NewIdentity(name string) Message {
	return Message{Type: KindIdentity, Name: name}
}

func NewSettings(p domain.SessionPolicy) Message {
	return Message{Type: KindSettings, Policy: &p}
}

func NewCaption(text string, final bool, speaker string) Message {
	return Message{Type: KindCaption, Text: text, Final: final, Name: speaker}
}

func NewViolation(kind domain.ViolationKind, detail, speaker string) Message {
	return Message{Type: KindViolation, Violation: kind, Detail: detail, Name: speaker}
}

// Encode serializes the message for one send.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a payload received on a data link.
func Decode(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("relay: bad payload: %w", err)
	}
	switch m.Type {
	case KindIdentity, KindSettings, KindCaption, KindViolation:
		return m, nil
	default:
		return Message{}, fmt.Errorf("relay: unknown message type %q", m.Type)
	}
}
