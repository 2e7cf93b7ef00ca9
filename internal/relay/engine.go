package relay

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/hiredesk/interview/internal/core"
	"github.com/hiredesk/interview/internal/domain"
)

// Caption is a decoded caption delivered to the sink.
type Caption struct {
	Speaker string
	Text    string
	Final   bool
}

// ViolationReport is a decoded spoke violation delivered to the hub's
// sink.
type ViolationReport struct {
	Kind    domain.ViolationKind
	Detail  string
	Speaker string
}

// Sink receives decoded protocol events. Implemented by the session;
// every method is called from whatever goroutine feeds HandleData.
type Sink interface {
	OnIdentity(peer domain.PeerAddress, name string)
	OnPolicy(policy domain.SessionPolicy)
	OnCaption(peer domain.PeerAddress, c Caption)
	OnViolation(peer domain.PeerAddress, v ViolationReport)
}

// Engine moves relay messages across the star topology. The hub holds
// one link per spoke and performs the broker duties (settings fan-out,
// caption relay); a spoke holds exactly one link to the hub. The
// engine exclusively owns its link set.
//
// Delivery is best effort and fire-and-forget: send failures are
// logged and swallowed, and nothing is retried.
type Engine struct {
	role domain.Role
	name string
	sink Sink
	log  zerolog.Logger

	mu     sync.Mutex
	links  map[domain.PeerAddress]core.DataLink
	policy domain.SessionPolicy
}

func NewEngine(role domain.Role, name string, sink Sink, logger zerolog.Logger) *Engine {
	return &Engine{
		role:  role,
		name:  name,
		sink:  sink,
		log:   logger.With().Str("module", "relay").Str("role", string(role)).Logger(),
		links: make(map[domain.PeerAddress]core.DataLink),
	}
}

// Policy returns the current policy: authoritative on the hub, the
// last applied revision on a spoke.
func (e *Engine) Policy() domain.SessionPolicy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.policy
}

// HasLink reports whether a link to peer is currently open.
func (e *Engine) HasLink(peer domain.PeerAddress) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.links[peer]
	return ok
}

// LinkCount reports the number of open links.
func (e *Engine) LinkCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.links)
}

// AddLink registers a freshly opened link and performs the open
// handshake: both ends send identity, the hub additionally pushes its
// current settings snapshot.
func (e *Engine) AddLink(link core.DataLink) {
	e.mu.Lock()
	e.links[link.Peer()] = link
	policy := e.policy
	e.mu.Unlock()

	e.log.Info().Str("peer", string(link.Peer())).Msg("link open")
	e.send(link, NewIdentity(e.name))
	if e.role == domain.RoleHub {
		e.send(link, NewSettings(policy))
	}
}

// RemoveLink drops a closed link from the active set. Idempotent; no
// error reaches the other party beyond eventual silence.
func (e *Engine) RemoveLink(peer domain.PeerAddress) {
	e.mu.Lock()
	delete(e.links, peer)
	e.mu.Unlock()
	e.log.Info().Str("peer", string(peer)).Msg("link removed")
}

// CloseAll closes every link. Used by session teardown.
func (e *Engine) CloseAll() {
	e.mu.Lock()
	links := make([]core.DataLink, 0, len(e.links))
	for _, l := range e.links {
		links = append(links, l)
	}
	e.links = make(map[domain.PeerAddress]core.DataLink)
	e.mu.Unlock()

	for _, l := range links {
		l.Close()
	}
}

// SetPolicy bumps the revision, stores the new policy and pushes it to
// every open link. Hub only; only the hub is authoritative for
// settings.
func (e *Engine) SetPolicy(exitLock, captions bool) domain.SessionPolicy {
	if e.role != domain.RoleHub {
		e.log.Warn().Msg("SetPolicy on spoke ignored")
		return e.Policy()
	}

	e.mu.Lock()
	e.policy = e.policy.Next(exitLock, captions)
	policy := e.policy
	links := e.snapshotLocked()
	e.mu.Unlock()

	msg := NewSettings(policy)
	for _, l := range links {
		e.send(l, msg)
	}
	e.log.Info().Uint64("rev", policy.Rev).Bool("exit_lock", policy.ExitLock).
		Bool("captions", policy.Captions).Msg("policy pushed")
	return policy
}

// SendCaption emits a local caption. The hub broadcasts to every
// spoke; a spoke sends to its single link and relies on the hub to
// relay onward.
func (e *Engine) SendCaption(text string, final bool) {
	msg := NewCaption(text, final, e.name)
	e.mu.Lock()
	links := e.snapshotLocked()
	e.mu.Unlock()
	for _, l := range links {
		e.send(l, msg)
	}
}

// ReportViolation sends a policy violation to the hub. Single hop;
// the hub never relays these onward. On the hub this is a no-op: the
// hub carries no exit-lock policy.
func (e *Engine) ReportViolation(kind domain.ViolationKind, detail string) {
	if e.role == domain.RoleHub {
		return
	}
	msg := NewViolation(kind, detail, e.name)
	e.mu.Lock()
	links := e.snapshotLocked()
	e.mu.Unlock()
	for _, l := range links {
		e.send(l, msg)
	}
}

// HandleData decodes one inbound payload and dispatches it. Caption
// messages arriving at the hub are relayed verbatim to every other
// spoke link, never back to the sender; this is the protocol's only
// multi-hop path.
func (e *Engine) HandleData(from domain.PeerAddress, payload []byte) {
	msg, err := Decode(payload)
	if err != nil {
		e.log.Warn().Err(err).Str("peer", string(from)).Msg("dropping payload")
		return
	}

	switch msg.Type {
	case KindIdentity:
		e.sink.OnIdentity(from, msg.Name)

	case KindSettings:
		// Only the hub is authoritative; the hub ignores inbound
		// settings entirely.
		if e.role == domain.RoleHub || msg.Policy == nil {
			return
		}
		e.mu.Lock()
		stale := !msg.Policy.Supersedes(e.policy) && e.policy.Rev != 0
		if !stale {
			e.policy = *msg.Policy
		}
		e.mu.Unlock()
		if stale {
			e.log.Debug().Uint64("rev", msg.Policy.Rev).Msg("stale settings ignored")
			return
		}
		e.sink.OnPolicy(*msg.Policy)

	case KindCaption:
		e.sink.OnCaption(from, Caption{Speaker: msg.Name, Text: msg.Text, Final: msg.Final})
		if e.role == domain.RoleHub {
			e.relayCaption(from, payload)
		}

	case KindViolation:
		if e.role != domain.RoleHub {
			return
		}
		e.sink.OnViolation(from, ViolationReport{Kind: msg.Violation, Detail: msg.Detail, Speaker: msg.Name})
	}
}

func (e *Engine) relayCaption(from domain.PeerAddress, payload []byte) {
	e.mu.Lock()
	targets := make([]core.DataLink, 0, len(e.links))
	for peer, l := range e.links {
		if peer == from {
			continue
		}
		targets = append(targets, l)
	}
	e.mu.Unlock()

	for _, l := range targets {
		if err := l.Send(payload); err != nil {
			e.log.Debug().Err(err).Str("peer", string(l.Peer())).Msg("caption relay dropped")
		}
	}
}

func (e *Engine) snapshotLocked() []core.DataLink {
	out := make([]core.DataLink, 0, len(e.links))
	for _, l := range e.links {
		out = append(out, l)
	}
	return out
}

func (e *Engine) send(link core.DataLink, msg Message) {
	b, err := msg.Encode()
	if err != nil {
		e.log.Error().Err(err).Msg("encode")
		return
	}
	if err := link.Send(b); err != nil {
		e.log.Debug().Err(err).Str("peer", string(link.Peer())).
			Str("type", string(msg.Type)).Msg("send dropped")
	}
}
