// Package rtc implements the peer transport over WebRTC: addresses are
// claimed at the broker over a websocket, and each call or data link
// is its own pion peer connection negotiated through broker-relayed
// offer/answer frames.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/hiredesk/interview/internal/adapters/signal"
	"github.com/hiredesk/interview/internal/core"
	"github.com/hiredesk/interview/internal/domain"
)

const (
	claimTimeout = 10 * time.Second
	sendBuffer   = 32
	eventBuffer  = 256
)

// Config tunes the transport.
type Config struct {
	BrokerURL   string
	ICEServers  []webrtc.ICEServer
	DialTimeout time.Duration
}

func DefaultConfig(brokerURL string) Config {
	return Config{
		BrokerURL: brokerURL,
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		DialTimeout: claimTimeout,
	}
}

func (c Config) webrtc() webrtc.Configuration {
	return webrtc.Configuration{ICEServers: c.ICEServers}
}

// Transport claims addresses at the broker.
type Transport struct {
	cfg Config
	log zerolog.Logger
}

func NewTransport(cfg Config, logger zerolog.Logger) *Transport {
	return &Transport{
		cfg: cfg,
		log: logger.With().Str("module", "rtc").Logger(),
	}
}

// Claim dials the broker and runs the claim handshake. Exactly one
// concurrent claimant of an id wins; losers get core.ErrIDTaken.
func (t *Transport) Claim(ctx context.Context, id domain.PeerAddress) (core.Peer, error) {
	ws, err := t.dial(ctx)
	if err != nil {
		return nil, core.ErrServerUnreachable
	}

	if err := t.claimOn(ws, id); err != nil {
		_ = ws.Close()
		return nil, err
	}

	p := &Peer{
		transport: t,
		id:        id,
		log:       t.log.With().Str("addr", string(id)).Logger(),
		ws:        ws,
		send:      make(chan []byte, sendBuffer),
		events:    make(chan core.Event, eventBuffer),
		calls:     make(map[string]*mediaCall),
		links:     make(map[string]*dataLink),
	}
	p.startPumps(ws)
	return p, nil
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.DialTimeout}
	ws, _, err := dialer.DialContext(ctx, t.cfg.BrokerURL, nil)
	if err != nil {
		t.log.Error().Err(err).Str("url", t.cfg.BrokerURL).Msg("broker dial failed")
		return nil, err
	}
	return ws, nil
}

// claimOn performs the synchronous claim handshake on a fresh socket.
func (t *Transport) claimOn(ws *websocket.Conn, id domain.PeerAddress) error {
	claim, err := json.Marshal(signal.Frame{Type: signal.TypeClaim, ID: string(id)})
	if err != nil {
		return err
	}
	deadline := time.Now().Add(claimTimeout)
	if err := ws.SetWriteDeadline(deadline); err != nil {
		return core.ErrServerUnreachable
	}
	if err := ws.WriteMessage(websocket.TextMessage, claim); err != nil {
		return core.ErrServerUnreachable
	}
	if err := ws.SetReadDeadline(deadline); err != nil {
		return core.ErrServerUnreachable
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return core.ErrServerUnreachable
		}
		var f signal.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		switch {
		case f.Type == signal.TypeOpen:
			_ = ws.SetReadDeadline(time.Time{})
			t.log.Info().Str("addr", string(id)).Msg("claim won")
			return nil
		case f.Type == signal.TypeError && f.Code == signal.CodeIDTaken:
			t.log.Info().Str("addr", string(id)).Msg("claim lost")
			return core.ErrIDTaken
		case f.Type == signal.TypeError:
			return errors.New("rtc: claim rejected: " + f.Code)
		}
	}
}
