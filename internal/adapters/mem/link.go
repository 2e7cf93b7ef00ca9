package mem

import (
	"sync"

	"github.com/hiredesk/interview/internal/core"
	"github.com/hiredesk/interview/internal/domain"
)

// linkPair is the shared state of one data link; a and b are the two
// halves.
type linkPair struct {
	mu     sync.Mutex
	a, b   *link
	closed bool
}

type link struct {
	pair        *linkPair
	owner       *Peer
	counterpart domain.PeerAddress
}

func (l *link) Peer() domain.PeerAddress { return l.counterpart }

// Send delivers one payload to the other half's owner, preserving
// per-link order. A full receiver queue reports backpressure; a closed
// link reports ErrClosed.
func (l *link) Send(payload []byte) error {
	l.pair.mu.Lock()
	if l.pair.closed {
		l.pair.mu.Unlock()
		return core.ErrClosed
	}
	other := l.other()
	l.pair.mu.Unlock()

	cp := make([]byte, len(payload))
	copy(cp, payload)
	if !other.owner.deliver(core.DataEvent{Peer: other.counterpart, Payload: cp}) {
		return core.ErrBackpressure
	}
	return nil
}

// Close tears down both halves; each owner observes a LinkClosedEvent.
// Idempotent, and sends after Close are ErrClosed no-ops for callers
// that swallow them.
func (l *link) Close() {
	l.pair.close()
}

func (l *link) other() *link {
	if l.pair.a == l {
		return l.pair.b
	}
	return l.pair.a
}

func (p *linkPair) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	a, b := p.a, p.b
	p.mu.Unlock()

	for _, half := range []*link{a, b} {
		half.owner.untrackLink(half)
		half.owner.deliver(core.LinkClosedEvent{Peer: half.counterpart})
	}
}
