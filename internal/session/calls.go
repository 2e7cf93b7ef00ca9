package session

import (
	"github.com/hiredesk/interview/internal/core"
	"github.com/hiredesk/interview/internal/domain"
	"github.com/hiredesk/interview/internal/relay"
)

// onIncomingCall always answers with the local stream and tracks the
// entry. Data links are spoke-initiated: the hub only accepts them, as
// LinkEvents on the event queue.
func (s *Session) onIncomingCall(call core.MediaCall) {
	addr := call.Peer()
	entry := &CallEntry{Addr: addr, Name: call.Metadata().Name, call: call}
	s.calls[addr] = entry
	if entry.Name != "" {
		s.obs.OnPeerName(addr, entry.Name)
	}

	if err := call.Answer(s.local); err != nil {
		s.log.Warn().Err(err).Str("peer", string(addr)).Msg("answer failed")
		delete(s.calls, addr)
		return
	}
	s.log.Info().Str("peer", string(addr)).Msg("call answered")
}

func (s *Session) onRemoteStream(addr domain.PeerAddress, stream core.MediaStream) {
	entry, ok := s.calls[addr]
	if !ok {
		// Stream for a call we already dropped; ignore.
		return
	}
	entry.Stream = stream
	s.obs.OnPeerStream(addr, stream)
}

// onCallClosed removes the entry and any dependent per-peer state.
// Closing is idempotent at the transport layer, so a late duplicate is
// a no-op here.
func (s *Session) onCallClosed(addr domain.PeerAddress) {
	if _, ok := s.calls[addr]; !ok {
		return
	}
	delete(s.calls, addr)
	s.obs.OnPeerGone(addr)
	s.log.Info().Str("peer", string(addr)).Msg("call closed")
}

// dialHub places the spoke's call and data link to the hub. If the hub
// has not finished claiming yet, retry once per failure after a fixed
// delay; this tolerates a spoke launching before the race winner is
// registered.
func (s *Session) dialHub() {
	if s.state == StateEnded {
		return
	}
	call, err := s.peer.Call(s.hubAddr, s.local, core.CallMetadata{Name: s.self.Name})
	if err != nil {
		s.log.Warn().Err(err).Dur("retry_in", s.cfg.CallRetryDelay).Msg("hub not reachable yet")
		s.after(s.cfg.CallRetryDelay, func() { s.dialHub() })
		return
	}
	s.calls[s.hubAddr] = &CallEntry{Addr: s.hubAddr, call: call}

	link, err := s.peer.Connect(s.hubAddr)
	if err != nil {
		s.log.Warn().Err(err).Msg("hub data link failed")
		return
	}
	s.engine.AddLink(link)
}

// ToggleAudio flips the local audio track's enabled flag and reports
// the new value. The track is never stopped, so re-enabling needs no
// device re-acquisition.
func (s *Session) ToggleAudio() bool {
	return s.toggleTrack(s.local.AudioTrack())
}

// ToggleVideo flips the local video track's enabled flag.
func (s *Session) ToggleVideo() bool {
	return s.toggleTrack(s.local.VideoTrack())
}

func (s *Session) toggleTrack(t core.MediaTrack) bool {
	done := make(chan bool, 1)
	s.post(func() {
		t.SetEnabled(!t.Enabled())
		done <- t.Enabled()
	})
	select {
	case on := <-done:
		return on
	case <-s.done:
		return false
	}
}

// SetPolicy flips the room policy and pushes it to every spoke. Hub
// only; spokes can only apply what they receive.
func (s *Session) SetPolicy(exitLock, captions bool) {
	s.post(func() {
		if s.role != domain.RoleHub {
			return
		}
		policy := s.engine.SetPolicy(exitLock, captions)
		s.obs.OnPolicy(policy)
		s.captions.set(policy.Captions)
	})
}

// SendCaption emits a locally produced caption to the room and, when
// final, appends it to the transcript.
func (s *Session) SendCaption(text string, final bool) {
	s.post(func() {
		if s.state == StateEnded {
			return
		}
		s.engine.SendCaption(text, final)
		if final {
			s.transcript.Add(s.self.Name, text)
		}
		s.obs.OnCaption(s.peer.ID(), relay.Caption{Speaker: s.self.Name, Text: text, Final: final})
	})
}

// Calls returns a snapshot of the live call entries.
func (s *Session) Calls() []CallEntry {
	out := make(chan []CallEntry, 1)
	s.post(func() {
		snap := make([]CallEntry, 0, len(s.calls))
		for _, e := range s.calls {
			snap = append(snap, *e)
		}
		out <- snap
	})
	select {
	case snap := <-out:
		return snap
	case <-s.done:
		return nil
	}
}
