package mem

import (
	"sync"

	"github.com/hiredesk/interview/internal/core"
	"github.com/hiredesk/interview/internal/domain"
)

// callPair is the shared state of one media call. Each side holds a
// *call facing the other.
type callPair struct {
	mu     sync.Mutex
	meta   core.CallMetadata
	caller *call
	callee *call
	closed bool
}

type call struct {
	pair        *callPair
	owner       *Peer
	counterpart domain.PeerAddress
	incoming    bool

	mu     sync.Mutex
	stream core.MediaStream
}

func (c *call) Peer() domain.PeerAddress { return c.counterpart }

func (c *call) Metadata() core.CallMetadata {
	c.pair.mu.Lock()
	defer c.pair.mu.Unlock()
	return c.pair.meta
}

// Answer attaches the callee's stream and releases both remote
// streams: each side observes the counterpart's stream as a
// StreamEvent.
func (c *call) Answer(stream core.MediaStream) error {
	c.pair.mu.Lock()
	if c.pair.closed {
		c.pair.mu.Unlock()
		return core.ErrClosed
	}
	caller, callee := c.pair.caller, c.pair.callee
	c.pair.mu.Unlock()

	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()

	caller.mu.Lock()
	callerStream := caller.stream
	caller.mu.Unlock()

	caller.owner.deliver(core.StreamEvent{Peer: caller.counterpart, Stream: stream})
	if callerStream != nil {
		callee.owner.deliver(core.StreamEvent{Peer: callee.counterpart, Stream: callerStream})
	}
	return nil
}

// Close hangs up both sides. Idempotent.
func (c *call) Close() {
	c.pair.close(c)
}

func (p *callPair) close(from *call) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	caller, callee := p.caller, p.callee
	p.mu.Unlock()

	for _, side := range []*call{caller, callee} {
		side.owner.untrack(side)
		if side != from {
			side.owner.deliver(core.CallClosedEvent{Peer: side.counterpart})
		}
	}
	if from != nil {
		from.owner.deliver(core.CallClosedEvent{Peer: from.counterpart})
	}
}
