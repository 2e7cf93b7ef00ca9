// Package domain contains the session's entities and value types,
// no transport or lifecycle logic, just meta-data.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxRoomIDLen bounds the sanitized room identifier.
	MaxRoomIDLen = 20

	addressPrefix = "hd"
	hubMarker     = "host"
)

// RoomID is the sanitized, deterministic room identifier shared by all
// participants of one room. Derive it with NewRoomID; raw external ids
// must never be used as addressing material directly.
type RoomID string

// NewRoomID strips everything but alphanumerics from the external room
// id and caps the length. The result is identical for every
// participant given the same input.
func NewRoomID(raw string) RoomID {
	var b strings.Builder
	for _, r := range raw {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() == MaxRoomIDLen {
			break
		}
	}
	return RoomID(b.String())
}

// Role of a participant within a room. Exactly one hub exists per live
// room; the role is assigned by the claim race, not configuration.
type Role string

const (
	RoleHub   Role = "hub"
	RoleSpoke Role = "spoke"
)

// PeerAddress is the addressing key for calls and data links. The hub
// address is deterministic per room; spoke addresses are unique per
// join attempt.
type PeerAddress string

// HubAddress returns the single deterministic hub address for the room.
func (r RoomID) HubAddress() PeerAddress {
	return PeerAddress(fmt.Sprintf("%s-%s-%s", addressPrefix, r, hubMarker))
}

// SpokeAddress returns a fresh spoke address. The nanosecond timestamp
// plus uuid suffix makes collisions a non-concern.
func (r RoomID) SpokeAddress(now time.Time) PeerAddress {
	return PeerAddress(fmt.Sprintf("%s-%s-g%d-%s",
		addressPrefix, r, now.UnixNano(), uuid.NewString()[:8]))
}

// IsHubAddress reports whether addr is the hub address of this room.
func (r RoomID) IsHubAddress(addr PeerAddress) bool {
	return addr == r.HubAddress()
}
