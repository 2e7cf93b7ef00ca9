package session

import (
	"github.com/hiredesk/interview/internal/domain"
	"github.com/hiredesk/interview/internal/relay"
)

// relaySink adapts the session to relay.Sink. All callbacks arrive on
// the event loop because HandleData and AddLink are only invoked
// there.
type relaySink Session

func (rs *relaySink) OnIdentity(peer domain.PeerAddress, name string) {
	s := (*Session)(rs)
	if entry, ok := s.calls[peer]; ok {
		entry.Name = name
	}
	s.obs.OnPeerName(peer, name)
}

func (rs *relaySink) OnPolicy(policy domain.SessionPolicy) {
	s := (*Session)(rs)
	s.obs.OnPolicy(policy)
	if s.guard != nil {
		s.guard.Apply(policy)
	}
	s.captions.set(policy.Captions)
}

func (rs *relaySink) OnCaption(peer domain.PeerAddress, c relay.Caption) {
	s := (*Session)(rs)
	if c.Final {
		s.transcript.Add(c.Speaker, c.Text)
	}
	s.obs.OnCaption(peer, c)
}

func (rs *relaySink) OnViolation(peer domain.PeerAddress, v relay.ViolationReport) {
	s := (*Session)(rs)
	s.log.Warn().Str("peer", string(peer)).Str("kind", string(v.Kind)).
		Str("speaker", v.Speaker).Msg("violation reported")
	s.obs.OnViolationAlert(v)
}
