// Package mem is an in-process implementation of the peer transport:
// a claim-if-absent address registry plus piped calls and data links.
// It backs tests and single-process runs with the exact semantics the
// session engine expects from the platform peer service.
package mem

import (
	"context"
	"sync"

	"github.com/hiredesk/interview/internal/core"
	"github.com/hiredesk/interview/internal/domain"
)

// eventBuffer sizes each peer's event queue. Control events are
// dropped rather than blocking a sender's loop if a consumer stalls
// this far behind.
const eventBuffer = 256

// Broker owns the address namespace. The first claimant of an id wins;
// everyone else gets core.ErrIDTaken.
type Broker struct {
	mu          sync.Mutex
	peers       map[domain.PeerAddress]*Peer
	unreachable bool
}

func NewBroker() *Broker {
	return &Broker{peers: make(map[domain.PeerAddress]*Peer)}
}

// SetUnreachable makes subsequent claims fail with
// core.ErrServerUnreachable. Simulates the registry being down.
func (b *Broker) SetUnreachable(down bool) {
	b.mu.Lock()
	b.unreachable = down
	b.mu.Unlock()
}

// Claim registers id atomically. Exactly one concurrent claimant of
// the same id succeeds.
func (b *Broker) Claim(ctx context.Context, id domain.PeerAddress) (core.Peer, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.ErrServerUnreachable
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unreachable {
		return nil, core.ErrServerUnreachable
	}
	if _, ok := b.peers[id]; ok {
		return nil, core.ErrIDTaken
	}
	p := &Peer{
		broker: b,
		id:     id,
		events: make(chan core.Event, eventBuffer),
		calls:  make(map[*call]struct{}),
		links:  make(map[*link]struct{}),
	}
	b.peers[id] = p
	return p, nil
}

func (b *Broker) lookup(id domain.PeerAddress) (*Peer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.peers[id]
	if !ok {
		return nil, false
	}
	p.mu.Lock()
	alive := !p.destroyed && !p.disconnected
	p.mu.Unlock()
	return p, alive
}

func (b *Broker) release(id domain.PeerAddress, p *Peer) {
	b.mu.Lock()
	if b.peers[id] == p {
		delete(b.peers, id)
	}
	b.mu.Unlock()
}
