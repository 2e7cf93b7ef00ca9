// Package session runs one participant's live interview session: role
// election, the media call set, the relay protocol and teardown. All
// session state is owned by a single event-loop goroutine; transport
// callbacks never run re-entrant.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/hiredesk/interview/internal/core"
	"github.com/hiredesk/interview/internal/domain"
	"github.com/hiredesk/interview/internal/guard"
	"github.com/hiredesk/interview/internal/relay"
	"github.com/hiredesk/interview/internal/stt"
)

// State is the externally observable connection state.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateServerError  State = "server-error"
	StateMediaError   State = "media-error"
	StateEnded        State = "ended"
)

// Config carries the per-session tunables. Zero values are filled in
// by Defaults.
type Config struct {
	CallRetryDelay time.Duration // spoke redial after hub-unavailable
	ReconnectDelay time.Duration // transport reconnect pacing
	Capture        core.CaptureConstraints
}

// Defaults returns the stock timings: 3s dial retry, 2s reconnect.
func Defaults() Config {
	return Config{
		CallRetryDelay: 3 * time.Second,
		ReconnectDelay: 2 * time.Second,
		Capture:        core.CaptureConstraints{VideoWidth: 1280, VideoHeight: 720, SampleRate: 48000},
	}
}

// CallEntry is one live counterpart: its call handle, media stream
// once arrived, and display name once learned.
type CallEntry struct {
	Addr   domain.PeerAddress
	Stream core.MediaStream
	Name   string

	call core.MediaCall
}

// Observer receives session updates. Methods are invoked from the
// session's event loop; implementations must not call back into the
// session synchronously.
type Observer interface {
	OnState(s State)
	OnPeerStream(peer domain.PeerAddress, stream core.MediaStream)
	OnPeerGone(peer domain.PeerAddress)
	OnPeerName(peer domain.PeerAddress, name string)
	OnCaption(peer domain.PeerAddress, c relay.Caption)
	OnPolicy(p domain.SessionPolicy)
	OnViolationAlert(v relay.ViolationReport)
}

// NopObserver implements Observer with no-ops; embed it to pick only
// the callbacks you care about.
type NopObserver struct{}

func (NopObserver) OnState(State)                                     {}
func (NopObserver) OnPeerStream(domain.PeerAddress, core.MediaStream) {}
func (NopObserver) OnPeerGone(domain.PeerAddress)                     {}
func (NopObserver) OnPeerName(domain.PeerAddress, string)             {}
func (NopObserver) OnCaption(domain.PeerAddress, relay.Caption)       {}
func (NopObserver) OnPolicy(domain.SessionPolicy)                     {}
func (NopObserver) OnViolationAlert(relay.ViolationReport)            {}

// Session is one participant's session. Construct with New, run with
// Start, stop with End. The local capture stream is exclusively owned
// here: components outside receive read-only references and all track
// mutation goes through ToggleAudio/ToggleVideo.
type Session struct {
	cfg        Config
	transport  core.Transport
	capture    core.CaptureFunc
	room       domain.RoomID
	self       domain.Participant
	obs        Observer
	log        zerolog.Logger
	recognizer stt.Recognizer
	platform   guard.Platform

	// Owned by the event loop after Start.
	role    domain.Role
	peer    core.Peer
	local   core.MediaStream
	calls   map[domain.PeerAddress]*CallEntry
	engine  *relay.Engine
	guard   *guard.Guard
	state   State
	hubAddr domain.PeerAddress

	transcript *Transcript
	captions   *captionRunner

	cmds   chan func()
	done   chan struct{}
	cancel context.CancelFunc
}

// Option tweaks session construction.
type Option func(*Session)

// WithRecognizer wires a speech-to-text engine for live captions.
func WithRecognizer(r stt.Recognizer) Option {
	return func(s *Session) { s.recognizer = r }
}

// WithGuardPlatform wires the platform surface the exit-lock guard
// controls. Only meaningful for participants that may become spokes.
func WithGuardPlatform(p guard.Platform) Option {
	return func(s *Session) { s.platform = p }
}

// WithObserver registers the update receiver.
func WithObserver(o Observer) Option {
	return func(s *Session) { s.obs = o }
}

func New(cfg Config, transport core.Transport, capture core.CaptureFunc,
	room domain.RoomID, self domain.Participant, logger zerolog.Logger, opts ...Option) *Session {

	s := &Session{
		cfg:        cfg,
		transport:  transport,
		capture:    capture,
		room:       room,
		self:       self,
		obs:        NopObserver{},
		log:        logger.With().Str("module", "session").Str("room", string(room)).Logger(),
		calls:      make(map[domain.PeerAddress]*CallEntry),
		state:      StateConnecting,
		hubAddr:    room.HubAddress(),
		transcript: NewTranscript(room),
		cmds:       make(chan func(), 16),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Role reports the elected role. Valid after Start returns.
func (s *Session) Role() domain.Role { return s.role }

// Addr reports the claimed peer address. Valid after Start returns.
func (s *Session) Addr() domain.PeerAddress { return s.peer.ID() }

// Guard exposes the exit-lock guard so the embedding app can forward
// platform visibility/fullscreen events. Nil on the hub.
func (s *Session) Guard() *guard.Guard { return s.guard }

// Transcript exposes the accumulated final captions.
func (s *Session) Transcript() *Transcript { return s.transcript }

// Done closes when the session has fully torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start acquires media, resolves the role and launches the event
// loop. Media and claim failures are fatal-at-start: reported once,
// no retry loop.
func (s *Session) Start(ctx context.Context) error {
	local, err := s.capture(ctx, s.cfg.Capture)
	if err != nil {
		s.setState(StateMediaError)
		s.log.Error().Err(err).Msg("capture failed")
		return err
	}
	s.local = local

	if err := s.resolveRole(ctx); err != nil {
		local.Close()
		s.setState(StateServerError)
		return err
	}

	// Spokes join muted to avoid feedback when several participants
	// arrive near-simultaneously. The track stays acquired, so
	// unmuting is instantaneous.
	if s.role == domain.RoleSpoke {
		s.local.AudioTrack().SetEnabled(false)
	}

	s.engine = relay.NewEngine(s.role, s.self.Name, (*relaySink)(s), s.log)
	if s.role == domain.RoleSpoke && s.platform != nil {
		s.guard = guard.New(s.platform, s.engine, s.log)
	}
	s.captions = newCaptionRunner(s)

	s.setState(StateConnected)
	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(loopCtx)

	if s.role == domain.RoleSpoke {
		s.post(func() { s.dialHub() })
	}
	s.log.Info().Str("role", string(s.role)).Str("addr", string(s.peer.ID())).Msg("session started")
	return nil
}

// resolveRole races for the deterministic hub address. Losing the
// race (id taken) is the expected spoke outcome; anything else from
// the transport is fatal.
func (s *Session) resolveRole(ctx context.Context) error {
	peer, err := s.transport.Claim(ctx, s.hubAddr)
	switch {
	case err == nil:
		s.role = domain.RoleHub
		s.peer = peer
		return nil
	case errors.Is(err, core.ErrIDTaken):
		spokeAddr := s.room.SpokeAddress(time.Now())
		peer, err = s.transport.Claim(ctx, spokeAddr)
		if err != nil {
			// Spoke address collisions are treated as impossible; any
			// failure here is a transport fault.
			s.log.Error().Err(err).Str("addr", string(spokeAddr)).Msg("spoke claim failed")
			return err
		}
		s.role = domain.RoleSpoke
		s.peer = peer
		return nil
	default:
		s.log.Error().Err(err).Msg("hub claim failed")
		return err
	}
}

// End tears the session down synchronously: stop local media, close
// calls, close data links, destroy the registration. Safe to call
// more than once.
func (s *Session) End() {
	s.post(func() { s.teardown() })
	<-s.done
}

// post hands a command to the event loop; dropped once the loop has
// exited.
func (s *Session) post(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.done:
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.teardown()
			return
		case fn := <-s.cmds:
			fn()
			if s.state == StateEnded {
				return
			}
		case ev, ok := <-s.peer.Events():
			if !ok {
				if s.state != StateEnded {
					s.teardown()
				}
				return
			}
			s.handle(ev)
			if s.state == StateEnded {
				return
			}
		}
	}
}

func (s *Session) handle(ev core.Event) {
	switch e := ev.(type) {
	case core.CallEvent:
		s.onIncomingCall(e.Call)
	case core.StreamEvent:
		s.onRemoteStream(e.Peer, e.Stream)
	case core.LinkEvent:
		s.engine.AddLink(e.Link)
	case core.DataEvent:
		s.engine.HandleData(e.Peer, e.Payload)
	case core.LinkClosedEvent:
		s.engine.RemoveLink(e.Peer)
	case core.CallClosedEvent:
		s.onCallClosed(e.Peer)
	case core.DisconnectedEvent:
		s.onDisconnected()
	}
}

func (s *Session) onDisconnected() {
	s.setState(StateReconnecting)
	s.log.Warn().Msg("transport disconnected, reconnecting")
	s.after(s.cfg.ReconnectDelay, func() {
		if s.state != StateReconnecting {
			return
		}
		if err := s.peer.Reconnect(); err != nil {
			s.log.Error().Err(err).Msg("reconnect failed, retrying")
			s.onDisconnected()
			return
		}
		s.setState(StateConnected)
		s.log.Info().Msg("reconnected")
	})
}

// after schedules fn onto the event loop.
func (s *Session) after(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { s.post(fn) })
}

func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.state = st
	s.obs.OnState(st)
}

func (s *Session) teardown() {
	if s.state == StateEnded {
		return
	}
	s.captions.stop()
	if s.guard != nil {
		s.guard.Release()
	}

	// Order matters: local media first, then calls, then links, then
	// the registration itself.
	if s.local != nil {
		s.local.Close()
	}
	for addr, entry := range s.calls {
		entry.call.Close()
		delete(s.calls, addr)
	}
	if s.engine != nil {
		s.engine.CloseAll()
	}
	s.peer.Destroy()
	if s.cancel != nil {
		s.cancel()
	}
	s.setState(StateEnded)
	s.log.Info().Msg("session ended")
}
