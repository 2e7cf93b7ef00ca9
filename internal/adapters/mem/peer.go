package mem

import (
	"sync"

	"github.com/hiredesk/interview/internal/core"
	"github.com/hiredesk/interview/internal/domain"
)

// Peer is one claimed registration.
type Peer struct {
	broker *Broker
	id     domain.PeerAddress

	mu           sync.Mutex
	events       chan core.Event
	destroyed    bool
	disconnected bool
	calls        map[*call]struct{}
	links        map[*link]struct{}
}

func (p *Peer) ID() domain.PeerAddress { return p.id }

func (p *Peer) Events() <-chan core.Event { return p.events }

// deliver enqueues an event without ever blocking the producer. A full
// queue drops the event; data sends report that as backpressure at the
// link layer instead.
func (p *Peer) deliver(ev core.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return false
	}
	select {
	case p.events <- ev:
		return true
	default:
		return false
	}
}

// Call dials target with the local stream. The callee sees a
// CallEvent; both sides receive the counterpart's stream as a
// StreamEvent once the callee answers.
func (p *Peer) Call(target domain.PeerAddress, stream core.MediaStream, meta core.CallMetadata) (core.MediaCall, error) {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil, core.ErrClosed
	}
	p.mu.Unlock()

	remote, alive := p.broker.lookup(target)
	if !alive {
		return nil, core.ErrPeerUnavailable
	}

	pair := &callPair{meta: meta}
	caller := &call{pair: pair, owner: p, counterpart: target, stream: stream}
	callee := &call{pair: pair, owner: remote, counterpart: p.id, incoming: true}
	pair.caller = caller
	pair.callee = callee

	p.track(caller)
	remote.track(callee)

	if !remote.deliver(core.CallEvent{Call: callee}) {
		pair.close(nil)
		return nil, core.ErrPeerUnavailable
	}
	return caller, nil
}

// Connect opens a data link to target. The counterpart sees a
// LinkEvent carrying its half.
func (p *Peer) Connect(target domain.PeerAddress) (core.DataLink, error) {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil, core.ErrClosed
	}
	p.mu.Unlock()

	remote, alive := p.broker.lookup(target)
	if !alive {
		return nil, core.ErrPeerUnavailable
	}

	pair := &linkPair{}
	mine := &link{pair: pair, owner: p, counterpart: target}
	theirs := &link{pair: pair, owner: remote, counterpart: p.id}
	pair.a, pair.b = mine, theirs

	p.trackLink(mine)
	remote.trackLink(theirs)

	if !remote.deliver(core.LinkEvent{Link: theirs}) {
		pair.close()
		return nil, core.ErrPeerUnavailable
	}
	return mine, nil
}

// SimulateDisconnect severs the registration from the broker without
// releasing the address, mirroring a transport drop. The peer observes
// a DisconnectedEvent and may Reconnect.
func (p *Peer) SimulateDisconnect() {
	p.mu.Lock()
	if p.destroyed || p.disconnected {
		p.mu.Unlock()
		return
	}
	p.disconnected = true
	p.mu.Unlock()
	p.deliverDisconnected()
}

func (p *Peer) deliverDisconnected() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}
	select {
	case p.events <- core.DisconnectedEvent{}:
	default:
	}
}

// Reconnect restores a disconnected registration. The address was
// never released, so this cannot lose the claim race.
func (p *Peer) Reconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return core.ErrClosed
	}
	p.disconnected = false
	return nil
}

// Destroy releases the address and closes every call and link owned by
// this peer. Idempotent; the events channel closes last.
func (p *Peer) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	calls := make([]*call, 0, len(p.calls))
	for c := range p.calls {
		calls = append(calls, c)
	}
	links := make([]*link, 0, len(p.links))
	for l := range p.links {
		links = append(links, l)
	}
	p.mu.Unlock()

	for _, c := range calls {
		c.Close()
	}
	for _, l := range links {
		l.Close()
	}

	p.broker.release(p.id, p)

	p.mu.Lock()
	close(p.events)
	p.mu.Unlock()
}

func (p *Peer) track(c *call) {
	p.mu.Lock()
	if !p.destroyed {
		p.calls[c] = struct{}{}
	}
	p.mu.Unlock()
}

func (p *Peer) untrack(c *call) {
	p.mu.Lock()
	delete(p.calls, c)
	p.mu.Unlock()
}

func (p *Peer) trackLink(l *link) {
	p.mu.Lock()
	if !p.destroyed {
		p.links[l] = struct{}{}
	}
	p.mu.Unlock()
}

func (p *Peer) untrackLink(l *link) {
	p.mu.Lock()
	delete(p.links, l)
	p.mu.Unlock()
}
