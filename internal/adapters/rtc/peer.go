package rtc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hiredesk/interview/internal/adapters/signal"
	"github.com/hiredesk/interview/internal/core"
	"github.com/hiredesk/interview/internal/domain"
)

const writeDeadline = 5 * time.Second

// sdpPayload is carried inside offer and answer frames. ConnID ties
// every frame of one negotiation together; Kind separates media calls
// from data links.
type sdpPayload struct {
	ConnID string `json:"conn_id"`
	Kind   string `json:"kind"`
	SDP    string `json:"sdp"`
	Name   string `json:"name,omitempty"`
}

const (
	kindMedia = "media"
	kindData  = "data"
)

type candidatePayload struct {
	ConnID        string `json:"conn_id"`
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
}

type byePayload struct {
	ConnID string `json:"conn_id"`
}

// Peer is one claimed registration: the broker socket plus every peer
// connection negotiated through it.
type Peer struct {
	transport *Transport
	id        domain.PeerAddress
	log       zerolog.Logger

	events chan core.Event

	mu           sync.Mutex
	ws           *websocket.Conn
	send         chan []byte
	destroyed    bool
	disconnected bool
	calls        map[string]*mediaCall
	links        map[string]*dataLink
}

func (p *Peer) ID() domain.PeerAddress { return p.id }

func (p *Peer) Events() <-chan core.Event { return p.events }

func (p *Peer) startPumps(ws *websocket.Conn) {
	p.mu.Lock()
	send := p.send
	p.mu.Unlock()
	go p.writePump(ws, send)
	go p.readPump(ws)
}

func (p *Peer) writePump(ws *websocket.Conn, send <-chan []byte) {
	for data := range send {
		if err := ws.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
			return
		}
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			p.log.Debug().Err(err).Msg("broker write failed")
			return
		}
	}
}

func (p *Peer) readPump(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			p.onSocketDown(ws)
			return
		}
		p.handleFrame(data)
	}
}

// onSocketDown reports a lost broker socket. The registration may be
// restored with Reconnect; the live peer connections stay up since
// media no longer needs the broker.
func (p *Peer) onSocketDown(ws *websocket.Conn) {
	p.mu.Lock()
	if p.destroyed || p.ws != ws {
		p.mu.Unlock()
		return
	}
	p.disconnected = true
	p.mu.Unlock()
	p.deliver(core.DisconnectedEvent{})
	p.log.Warn().Msg("broker socket lost")
}

// Reconnect redials the broker and claims the same address again. The
// address was released server-side when the socket died, so the claim
// runs the full race.
func (p *Peer) Reconnect() error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return core.ErrClosed
	}
	old := p.send
	p.mu.Unlock()

	ws, err := p.transport.dial(context.Background())
	if err != nil {
		return core.ErrServerUnreachable
	}
	if err := p.transport.claimOn(ws, p.id); err != nil {
		_ = ws.Close()
		return err
	}

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		_ = ws.Close()
		return core.ErrClosed
	}
	p.ws = ws
	p.send = make(chan []byte, sendBuffer)
	p.disconnected = false
	p.mu.Unlock()

	close(old)
	p.startPumps(ws)
	p.log.Info().Msg("broker socket restored")
	return nil
}

// Destroy closes every call and link, drops the registration and
// closes the event channel.
func (p *Peer) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	calls := make([]*mediaCall, 0, len(p.calls))
	for _, c := range p.calls {
		calls = append(calls, c)
	}
	links := make([]*dataLink, 0, len(p.links))
	for _, l := range p.links {
		links = append(links, l)
	}
	ws := p.ws
	send := p.send
	p.mu.Unlock()

	for _, c := range calls {
		c.Close()
	}
	for _, l := range links {
		l.Close()
	}
	close(send)
	_ = ws.Close()

	p.mu.Lock()
	close(p.events)
	p.mu.Unlock()
	p.log.Info().Msg("registration destroyed")
}

// deliver enqueues an event without blocking; a full queue drops it.
func (p *Peer) deliver(ev core.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}
	select {
	case p.events <- ev:
	default:
		p.log.Warn().Msg("event queue full, dropping")
	}
}

func (p *Peer) sendFrame(f signal.Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return core.ErrClosed
	}
	if p.disconnected {
		return core.ErrServerUnreachable
	}
	select {
	case p.send <- b:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (p *Peer) sendSignal(frameType string, dst domain.PeerAddress, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.sendFrame(signal.Frame{Type: frameType, Dst: string(dst), Payload: raw})
}

func (p *Peer) handleFrame(data []byte) {
	var f signal.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		p.log.Debug().Err(err).Msg("bad broker frame")
		return
	}

	switch f.Type {
	case signal.TypeOffer:
		p.handleOffer(domain.PeerAddress(f.Src), f.Payload)
	case signal.TypeAnswer:
		p.handleAnswer(f.Payload)
	case signal.TypeCandidate:
		p.handleCandidate(f.Payload)
	case signal.TypeBye:
		p.handleBye(f.Payload)
	case signal.TypePong:
	case signal.TypeError:
		p.log.Debug().Str("code", f.Code).Msg("broker error frame")
	default:
		p.log.Debug().Str("type", f.Type).Msg("unknown broker frame")
	}
}

func (p *Peer) handleOffer(from domain.PeerAddress, raw json.RawMessage) {
	var offer sdpPayload
	if err := json.Unmarshal(raw, &offer); err != nil {
		p.log.Debug().Err(err).Msg("bad offer payload")
		return
	}
	switch offer.Kind {
	case kindMedia:
		p.acceptCall(from, offer)
	case kindData:
		p.acceptLink(from, offer)
	default:
		p.log.Debug().Str("kind", offer.Kind).Msg("unknown offer kind")
	}
}

func (p *Peer) handleAnswer(raw json.RawMessage) {
	var answer sdpPayload
	if err := json.Unmarshal(raw, &answer); err != nil {
		return
	}
	p.mu.Lock()
	call := p.calls[answer.ConnID]
	link := p.links[answer.ConnID]
	p.mu.Unlock()

	switch {
	case call != nil:
		call.applyAnswer(answer.SDP)
	case link != nil:
		link.applyAnswer(answer.SDP)
	default:
		p.log.Debug().Str("conn", answer.ConnID).Msg("answer for unknown connection")
	}
}

func (p *Peer) handleCandidate(raw json.RawMessage) {
	var cp candidatePayload
	if err := json.Unmarshal(raw, &cp); err != nil {
		return
	}
	p.mu.Lock()
	call := p.calls[cp.ConnID]
	link := p.links[cp.ConnID]
	p.mu.Unlock()

	init := cp.toInit()
	switch {
	case call != nil:
		call.addCandidate(init)
	case link != nil:
		link.addCandidate(init)
	}
}

func (p *Peer) handleBye(raw json.RawMessage) {
	var bp byePayload
	if err := json.Unmarshal(raw, &bp); err != nil {
		return
	}
	p.mu.Lock()
	call := p.calls[bp.ConnID]
	link := p.links[bp.ConnID]
	p.mu.Unlock()

	if call != nil {
		call.closeLocal(nil)
	}
	if link != nil {
		link.closeLocal()
	}
}

func (p *Peer) dropCall(id string) {
	p.mu.Lock()
	delete(p.calls, id)
	p.mu.Unlock()
}

func (p *Peer) dropLink(id string) {
	p.mu.Lock()
	delete(p.links, id)
	p.mu.Unlock()
}

func (p *Peer) register(id string, call *mediaCall, link *dataLink) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return core.ErrClosed
	}
	if call != nil {
		p.calls[id] = call
	}
	if link != nil {
		p.links[id] = link
	}
	return nil
}

func newConnID() string { return uuid.NewString() }
