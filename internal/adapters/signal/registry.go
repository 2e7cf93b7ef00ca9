package signal

import (
	"errors"
	"sync"

	"github.com/hiredesk/interview/internal/domain"
)

var (
	ErrIDTaken      = errors.New("signal: id already claimed")
	ErrBackpressure = errors.New("signal: backpressure")
	ErrClosed       = errors.New("signal: connection closed")
)

// Sender is the outbound half of a registered connection.
type Sender interface {
	TrySend(b []byte) error
	Close()
}

// Registry owns the live address namespace. The first claimant of an
// address wins; release happens when its connection goes away.
type Registry struct {
	mu    sync.Mutex
	conns map[domain.PeerAddress]Sender
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.PeerAddress]Sender)}
}

// Claim registers s under addr atomically.
func (r *Registry) Claim(addr domain.PeerAddress, s Sender) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[addr]; ok {
		return ErrIDTaken
	}
	r.conns[addr] = s
	return nil
}

// Release frees addr if it is still held by s.
func (r *Registry) Release(addr domain.PeerAddress, s Sender) {
	r.mu.Lock()
	if r.conns[addr] == s {
		delete(r.conns, addr)
	}
	r.mu.Unlock()
}

// Lookup returns the connection registered under addr.
func (r *Registry) Lookup(addr domain.PeerAddress) (Sender, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.conns[addr]
	return s, ok
}

// Size reports the number of live registrations.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
