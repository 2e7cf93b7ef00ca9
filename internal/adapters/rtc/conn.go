package rtc

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/hiredesk/interview/internal/adapters/signal"

	"github.com/hiredesk/interview/internal/core"
	"github.com/hiredesk/interview/internal/domain"
)

// linkQueueLimit bounds messages buffered on a data link before its
// channel opens.
const linkQueueLimit = 64

func (cp candidatePayload) toInit() webrtc.ICECandidateInit {
	init := webrtc.ICECandidateInit{Candidate: cp.Candidate}
	if cp.SDPMid != "" {
		mid := cp.SDPMid
		init.SDPMid = &mid
	}
	idx := cp.SDPMLineIndex
	init.SDPMLineIndex = &idx
	return init
}

// Call dials target: a dedicated peer connection carrying the local
// tracks, negotiated through the broker. The remote stream arrives
// later as a StreamEvent.
func (p *Peer) Call(target domain.PeerAddress, stream core.MediaStream, meta core.CallMetadata) (core.MediaCall, error) {
	ls, ok := stream.(*LocalStream)
	if !ok {
		return nil, errors.New("rtc: stream was not captured by this transport")
	}

	c := &mediaCall{
		peer:        p,
		id:          newConnID(),
		counterpart: target,
		meta:        meta,
	}
	if err := p.register(c.id, c, nil); err != nil {
		return nil, err
	}

	pc, err := webrtc.NewPeerConnection(p.transport.cfg.webrtc())
	if err != nil {
		p.dropCall(c.id)
		return nil, err
	}
	c.bindPC(pc)

	for _, tr := range ls.rtpTracks() {
		if _, err := pc.AddTrack(tr); err != nil {
			c.closeLocal(err)
			return nil, err
		}
	}

	sdp, err := c.createOffer()
	if err != nil {
		c.closeLocal(err)
		return nil, err
	}
	if err := p.sendSignal(signal.TypeOffer, target, sdpPayload{
		ConnID: c.id, Kind: kindMedia, SDP: sdp, Name: meta.Name,
	}); err != nil {
		c.closeLocal(err)
		return nil, err
	}
	return c, nil
}

// acceptCall registers an inbound media offer and surfaces it as a
// CallEvent; negotiation finishes when the application answers.
func (p *Peer) acceptCall(from domain.PeerAddress, offer sdpPayload) {
	c := &mediaCall{
		peer:        p,
		id:          offer.ConnID,
		counterpart: from,
		meta:        core.CallMetadata{Name: offer.Name},
		incoming:    true,
		offerSDP:    offer.SDP,
	}
	if err := p.register(c.id, c, nil); err != nil {
		return
	}
	p.deliver(core.CallEvent{Call: c})
}

// mediaCall is one audio/video peer connection.
type mediaCall struct {
	peer        *Peer
	id          string
	counterpart domain.PeerAddress
	meta        core.CallMetadata
	incoming    bool
	offerSDP    string

	mu         sync.Mutex
	pc         *webrtc.PeerConnection
	remote     *RemoteStream
	pending    []webrtc.ICECandidateInit
	haveRemote bool
	closed     bool
}

func (c *mediaCall) Peer() domain.PeerAddress    { return c.counterpart }
func (c *mediaCall) Metadata() core.CallMetadata { return c.meta }

// Answer accepts an incoming call with the local stream.
func (c *mediaCall) Answer(stream core.MediaStream) error {
	if !c.incoming {
		return errors.New("rtc: answer on outgoing call")
	}
	ls, ok := stream.(*LocalStream)
	if !ok {
		return errors.New("rtc: stream was not captured by this transport")
	}

	pc, err := webrtc.NewPeerConnection(c.peer.transport.cfg.webrtc())
	if err != nil {
		return err
	}
	c.bindPC(pc)

	for _, tr := range ls.rtpTracks() {
		if _, err := pc.AddTrack(tr); err != nil {
			c.closeLocal(err)
			return err
		}
	}

	if err := c.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: c.offerSDP}); err != nil {
		c.closeLocal(err)
		return err
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		c.closeLocal(err)
		return err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		c.closeLocal(err)
		return err
	}
	<-gathered

	return c.peer.sendSignal(signal.TypeAnswer, c.counterpart, sdpPayload{
		ConnID: c.id, Kind: kindMedia, SDP: pc.LocalDescription().SDP,
	})
}

func (c *mediaCall) Close() {
	_ = c.peer.sendSignal(signal.TypeBye, c.counterpart, byePayload{ConnID: c.id})
	c.closeLocal(nil)
}

func (c *mediaCall) bindPC(pc *webrtc.PeerConnection) {
	c.mu.Lock()
	c.pc = pc
	c.mu.Unlock()

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.peer.sendCandidate(c.counterpart, c.id, cand.ToJSON())
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.peer.log.Info().Str("kind", track.Kind().String()).
			Str("peer", string(c.counterpart)).Msg("remote track")
		c.mu.Lock()
		if c.remote == nil {
			c.remote = newRemoteStream()
		}
		first := c.remote.add(track)
		stream := c.remote
		c.mu.Unlock()
		if first {
			c.peer.deliver(core.StreamEvent{Peer: c.counterpart, Stream: stream})
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			c.closeLocal(nil)
		}
	})
}

// createOffer produces a complete non-trickle offer.
func (c *mediaCall) createOffer() (string, error) {
	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	<-gathered
	return pc.LocalDescription().SDP, nil
}

func (c *mediaCall) applyAnswer(sdp string) {
	if err := c.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		c.peer.log.Warn().Err(err).Str("peer", string(c.counterpart)).Msg("apply answer")
		c.closeLocal(err)
	}
}

// setRemote applies the remote description and flushes candidates that
// arrived before it.
func (c *mediaCall) setRemote(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()
	if pc == nil {
		return errors.New("rtc: no peer connection")
	}
	if err := pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.haveRemote = true
	c.mu.Unlock()
	for _, init := range pending {
		if err := pc.AddICECandidate(init); err != nil {
			c.peer.log.Debug().Err(err).Msg("flush candidate")
		}
	}
	return nil
}

func (c *mediaCall) addCandidate(init webrtc.ICECandidateInit) {
	c.mu.Lock()
	if !c.haveRemote || c.pc == nil {
		c.pending = append(c.pending, init)
		c.mu.Unlock()
		return
	}
	pc := c.pc
	c.mu.Unlock()
	if err := pc.AddICECandidate(init); err != nil {
		c.peer.log.Debug().Err(err).Msg("add candidate")
	}
}

// closeLocal tears the call down once and reports it.
func (c *mediaCall) closeLocal(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pc := c.pc
	c.mu.Unlock()

	if pc != nil {
		_ = pc.Close()
	}
	c.peer.dropCall(c.id)
	c.peer.deliver(core.CallClosedEvent{Peer: c.counterpart, Err: err})
}

// Connect opens a data link to target on its own peer connection.
func (p *Peer) Connect(target domain.PeerAddress) (core.DataLink, error) {
	l := &dataLink{
		peer:        p,
		id:          newConnID(),
		counterpart: target,
	}
	if err := p.register(l.id, nil, l); err != nil {
		return nil, err
	}

	pc, err := webrtc.NewPeerConnection(p.transport.cfg.webrtc())
	if err != nil {
		p.dropLink(l.id)
		return nil, err
	}
	l.bindPC(pc)

	dc, err := pc.CreateDataChannel("relay", nil)
	if err != nil {
		l.closeLocal()
		return nil, err
	}
	l.bindDC(dc)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		l.closeLocal()
		return nil, err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		l.closeLocal()
		return nil, err
	}
	<-gathered

	if err := p.sendSignal(signal.TypeOffer, target, sdpPayload{
		ConnID: l.id, Kind: kindData, SDP: pc.LocalDescription().SDP,
	}); err != nil {
		l.closeLocal()
		return nil, err
	}
	return l, nil
}

// acceptLink answers an inbound data offer. The link surfaces as a
// LinkEvent once the counterpart's channel arrives.
func (p *Peer) acceptLink(from domain.PeerAddress, offer sdpPayload) {
	l := &dataLink{
		peer:        p,
		id:          offer.ConnID,
		counterpart: from,
	}
	if err := p.register(l.id, nil, l); err != nil {
		return
	}

	pc, err := webrtc.NewPeerConnection(p.transport.cfg.webrtc())
	if err != nil {
		p.dropLink(l.id)
		return
	}
	l.bindPC(pc)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		l.bindDC(dc)
		p.deliver(core.LinkEvent{Link: l})
	})

	if err := l.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		l.closeLocal()
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		l.closeLocal()
		return
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		l.closeLocal()
		return
	}
	<-gathered

	if err := p.sendSignal(signal.TypeAnswer, from, sdpPayload{
		ConnID: l.id, Kind: kindData, SDP: pc.LocalDescription().SDP,
	}); err != nil {
		l.closeLocal()
	}
}

// dataLink is one datachannel peer connection. Sends before the
// channel opens are queued and flushed on open, so the relay handshake
// can ride immediately after Connect.
type dataLink struct {
	peer        *Peer
	id          string
	counterpart domain.PeerAddress

	mu         sync.Mutex
	pc         *webrtc.PeerConnection
	dc         *webrtc.DataChannel
	open       bool
	queue      [][]byte
	pending    []webrtc.ICECandidateInit
	haveRemote bool
	closed     bool
}

func (l *dataLink) Peer() domain.PeerAddress { return l.counterpart }

func (l *dataLink) Send(b []byte) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return core.ErrClosed
	}
	if !l.open {
		if len(l.queue) >= linkQueueLimit {
			l.mu.Unlock()
			return core.ErrBackpressure
		}
		buf := make([]byte, len(b))
		copy(buf, b)
		l.queue = append(l.queue, buf)
		l.mu.Unlock()
		return nil
	}
	dc := l.dc
	l.mu.Unlock()
	return dc.Send(b)
}

func (l *dataLink) Close() {
	_ = l.peer.sendSignal(signal.TypeBye, l.counterpart, byePayload{ConnID: l.id})
	l.closeLocal()
}

func (l *dataLink) bindPC(pc *webrtc.PeerConnection) {
	l.mu.Lock()
	l.pc = pc
	l.mu.Unlock()

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		l.peer.sendCandidate(l.counterpart, l.id, cand.ToJSON())
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			l.closeLocal()
		}
	})
}

func (l *dataLink) bindDC(dc *webrtc.DataChannel) {
	l.mu.Lock()
	l.dc = dc
	l.mu.Unlock()

	dc.OnOpen(func() {
		l.mu.Lock()
		l.open = true
		queued := l.queue
		l.queue = nil
		l.mu.Unlock()
		for _, b := range queued {
			if err := dc.Send(b); err != nil {
				l.peer.log.Debug().Err(err).Msg("flush queued send")
			}
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		l.peer.deliver(core.DataEvent{Peer: l.counterpart, Payload: msg.Data})
	})
	dc.OnClose(func() {
		l.closeLocal()
	})
}

func (l *dataLink) applyAnswer(sdp string) {
	if err := l.setRemote(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		l.peer.log.Warn().Err(err).Str("peer", string(l.counterpart)).Msg("apply answer")
		l.closeLocal()
	}
}

func (l *dataLink) setRemote(desc webrtc.SessionDescription) error {
	l.mu.Lock()
	pc := l.pc
	l.mu.Unlock()
	if pc == nil {
		return errors.New("rtc: no peer connection")
	}
	if err := pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.haveRemote = true
	l.mu.Unlock()
	for _, init := range pending {
		if err := pc.AddICECandidate(init); err != nil {
			l.peer.log.Debug().Err(err).Msg("flush candidate")
		}
	}
	return nil
}

func (l *dataLink) addCandidate(init webrtc.ICECandidateInit) {
	l.mu.Lock()
	if !l.haveRemote || l.pc == nil {
		l.pending = append(l.pending, init)
		l.mu.Unlock()
		return
	}
	pc := l.pc
	l.mu.Unlock()
	if err := pc.AddICECandidate(init); err != nil {
		l.peer.log.Debug().Err(err).Msg("add candidate")
	}
}

func (l *dataLink) closeLocal() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	pc := l.pc
	l.mu.Unlock()

	if pc != nil {
		_ = pc.Close()
	}
	l.peer.dropLink(l.id)
	l.peer.deliver(core.LinkClosedEvent{Peer: l.counterpart})
}

func (p *Peer) sendCandidate(dst domain.PeerAddress, connID string, init webrtc.ICECandidateInit) {
	cp := candidatePayload{ConnID: connID, Candidate: init.Candidate}
	if init.SDPMid != nil {
		cp.SDPMid = *init.SDPMid
	}
	if init.SDPMLineIndex != nil {
		cp.SDPMLineIndex = *init.SDPMLineIndex
	}
	if err := p.sendSignal(signal.TypeCandidate, dst, cp); err != nil {
		p.log.Debug().Err(err).Msg("candidate send dropped")
	}
}
