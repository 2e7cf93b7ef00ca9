package domain

// SessionPolicy is the hub-owned room policy. The hub holds the single
// authoritative copy; spokes cache the last revision they applied.
// Rev increases on every hub-side change so a spoke can discard pushes
// that arrive out of order across a reconnect.
type SessionPolicy struct {
	Rev      uint64 `json:"rev"`
	ExitLock bool   `json:"exit_lock"`
	Captions bool   `json:"captions_enabled"`
}

// Next returns the successor policy with the given flags.
func (p SessionPolicy) Next(exitLock, captions bool) SessionPolicy {
	return SessionPolicy{Rev: p.Rev + 1, ExitLock: exitLock, Captions: captions}
}

// Supersedes reports whether p is a newer revision than other.
func (p SessionPolicy) Supersedes(other SessionPolicy) bool {
	return p.Rev > other.Rev
}
