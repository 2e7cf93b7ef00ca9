package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hiredesk/interview/internal/adapters/mem"
	"github.com/hiredesk/interview/internal/core"
	"github.com/hiredesk/interview/internal/domain"
	"github.com/hiredesk/interview/internal/guard"
	"github.com/hiredesk/interview/internal/relay"
	"github.com/hiredesk/interview/internal/stt"
)

const waitTimeout = 3 * time.Second

func testConfig() Config {
	cfg := Defaults()
	cfg.CallRetryDelay = 50 * time.Millisecond
	cfg.ReconnectDelay = 50 * time.Millisecond
	return cfg
}

type recObserver struct {
	states     chan State
	policies   chan domain.SessionPolicy
	captions   chan relay.Caption
	names      chan string
	gone       chan domain.PeerAddress
	streams    chan domain.PeerAddress
	violations chan relay.ViolationReport
}

func newRecObserver() *recObserver {
	return &recObserver{
		states:     make(chan State, 64),
		policies:   make(chan domain.SessionPolicy, 64),
		captions:   make(chan relay.Caption, 64),
		names:      make(chan string, 64),
		gone:       make(chan domain.PeerAddress, 64),
		streams:    make(chan domain.PeerAddress, 64),
		violations: make(chan relay.ViolationReport, 64),
	}
}

func (o *recObserver) OnState(s State)                 { push(o.states, s) }
func (o *recObserver) OnPolicy(p domain.SessionPolicy) { push(o.policies, p) }
func (o *recObserver) OnCaption(_ domain.PeerAddress, c relay.Caption) {
	push(o.captions, c)
}
func (o *recObserver) OnPeerName(_ domain.PeerAddress, name string) { push(o.names, name) }
func (o *recObserver) OnPeerGone(peer domain.PeerAddress)           { push(o.gone, peer) }
func (o *recObserver) OnPeerStream(peer domain.PeerAddress, _ core.MediaStream) {
	push(o.streams, peer)
}
func (o *recObserver) OnViolationAlert(v relay.ViolationReport) { push(o.violations, v) }

func push[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func recv[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func waitUntil(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting until %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func startSession(t *testing.T, broker *mem.Broker, room domain.RoomID, name string, opts ...Option) *Session {
	t.Helper()
	self, err := domain.NewParticipant(name, false)
	if err != nil {
		t.Fatalf("participant: %v", err)
	}
	s := New(testConfig(), broker, mem.Capture(nil), room, self, zerolog.Nop(), opts...)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start %s: %v", name, err)
	}
	t.Cleanup(s.End)
	return s
}

func TestHubElectionExactlyOneWinner(t *testing.T) {
	broker := mem.NewBroker()
	room := domain.NewRoomID("election")

	const n = 6
	sessions := make([]*Session, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			self, _ := domain.NewParticipant("p", false)
			s := New(testConfig(), broker, mem.Capture(nil), room, self, zerolog.Nop())
			if err := s.Start(context.Background()); err != nil {
				t.Errorf("start: %v", err)
				return
			}
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	hubs := 0
	for _, s := range sessions {
		if s == nil {
			continue
		}
		defer s.End()
		if s.Role() == domain.RoleHub {
			hubs++
			if s.Addr() != room.HubAddress() {
				t.Errorf("hub addr = %s, want %s", s.Addr(), room.HubAddress())
			}
		}
	}
	if hubs != 1 {
		t.Fatalf("got %d hubs, want exactly 1", hubs)
	}
}

func TestSpokeCallsHubAndNamesPropagate(t *testing.T) {
	broker := mem.NewBroker()
	room := domain.NewRoomID("names")
	hubObs, spokeObs := newRecObserver(), newRecObserver()

	hub := startSession(t, broker, room, "Helen Host", WithObserver(hubObs))
	spoke := startSession(t, broker, room, "Gus Guest", WithObserver(spokeObs))

	if hub.Role() != domain.RoleHub || spoke.Role() != domain.RoleSpoke {
		t.Fatalf("roles = %s/%s", hub.Role(), spoke.Role())
	}

	// Hub learns the caller's name from call metadata.
	if name := recv(t, hubObs.names, "spoke name on hub"); name != "Gus Guest" {
		t.Errorf("hub saw name %q, want Gus Guest", name)
	}
	// Spoke learns the hub's name from the identity handshake.
	if name := recv(t, spokeObs.names, "hub name on spoke"); name != "Helen Host" {
		t.Errorf("spoke saw name %q, want Helen Host", name)
	}

	// Media flows both ways once the hub answers.
	recv(t, hubObs.streams, "spoke stream on hub")
	recv(t, spokeObs.streams, "hub stream on spoke")

	waitUntil(t, func() bool { return len(hub.Calls()) == 1 }, "hub tracks one call")
	waitUntil(t, func() bool { return spoke.engine.LinkCount() == 1 }, "spoke data link open")
}

func TestSpokeRetriesDialUntilHubAnswers(t *testing.T) {
	broker := mem.NewBroker()
	room := domain.NewRoomID("retry")

	// Hold the hub address with a dead registration so the next joiner
	// elects spoke but cannot place the call yet.
	placeholder, err := broker.Claim(context.Background(), room.HubAddress())
	if err != nil {
		t.Fatalf("placeholder claim: %v", err)
	}
	placeholder.(*mem.Peer).SimulateDisconnect()

	spokeObs := newRecObserver()
	spoke := startSession(t, broker, room, "Gus Guest", WithObserver(spokeObs))
	if spoke.Role() != domain.RoleSpoke {
		t.Fatalf("role = %s, want spoke", spoke.Role())
	}

	// Free the address and let a real hub claim it; the spoke's fixed
	// retry must then land.
	placeholder.Destroy()
	startSession(t, broker, room, "Helen Host", WithObserver(newRecObserver()))

	recv(t, spokeObs.streams, "hub stream after retry")
	waitUntil(t, func() bool { return len(spoke.Calls()) == 1 }, "spoke call established")
}

func TestSpokeJoinsMutedAndToggleRestores(t *testing.T) {
	broker := mem.NewBroker()
	room := domain.NewRoomID("mute")

	hub := startSession(t, broker, room, "Helen Host")
	spoke := startSession(t, broker, room, "Gus Guest")

	if hub.local.AudioTrack().Enabled() != true {
		t.Error("hub joined muted")
	}
	if spoke.local.AudioTrack().Enabled() != false {
		t.Error("spoke joined unmuted")
	}
	if on := spoke.ToggleAudio(); !on {
		t.Error("ToggleAudio did not unmute")
	}
	if on := spoke.ToggleVideo(); on {
		t.Error("ToggleVideo did not disable video")
	}
}

func TestPolicyConvergesOnEverySpoke(t *testing.T) {
	broker := mem.NewBroker()
	room := domain.NewRoomID("policy")
	obs1, obs2 := newRecObserver(), newRecObserver()

	hub := startSession(t, broker, room, "Helen Host")
	spoke1 := startSession(t, broker, room, "Gus Guest", WithObserver(obs1))
	spoke2 := startSession(t, broker, room, "Iva Guest", WithObserver(obs2))
	waitUntil(t, func() bool { return hub.engine.LinkCount() == 2 }, "hub links open")

	hub.SetPolicy(true, false)

	for _, obs := range []*recObserver{obs1, obs2} {
		p := recv(t, obs.policies, "policy push")
		// The initial rev-0 handshake snapshot may arrive first.
		if p.Rev == 0 {
			p = recv(t, obs.policies, "policy push")
		}
		if !p.ExitLock || p.Captions || p.Rev != 1 {
			t.Errorf("policy = %+v, want rev 1 exit-lock", p)
		}
	}
	waitUntil(t, func() bool {
		return spoke1.engine.Policy().Rev == 1 && spoke2.engine.Policy().Rev == 1
	}, "engines converge on rev 1")
}

func TestCaptionRelaySkipsSender(t *testing.T) {
	broker := mem.NewBroker()
	room := domain.NewRoomID("captions")
	hubObs, obs1, obs2 := newRecObserver(), newRecObserver(), newRecObserver()

	hub := startSession(t, broker, room, "Helen Host", WithObserver(hubObs))
	spoke1 := startSession(t, broker, room, "Gus Guest", WithObserver(obs1))
	spoke2 := startSession(t, broker, room, "Iva Guest", WithObserver(obs2))
	waitUntil(t, func() bool { return hub.engine.LinkCount() == 2 }, "hub links open")

	spoke1.SendCaption("the answer is forty-two", true)

	// Sender sees exactly its own local echo.
	own := recv(t, obs1.captions, "local caption echo")
	if own.Speaker != "Gus Guest" || !own.Final {
		t.Errorf("local echo = %+v", own)
	}

	hubSeen := recv(t, hubObs.captions, "caption on hub")
	relayed := recv(t, obs2.captions, "caption relayed to other spoke")
	for _, c := range []relay.Caption{hubSeen, relayed} {
		if c.Speaker != "Gus Guest" || c.Text != "the answer is forty-two" || !c.Final {
			t.Errorf("caption = %+v", c)
		}
	}

	// Nothing bounced back to the sender.
	time.Sleep(100 * time.Millisecond)
	select {
	case c := <-obs1.captions:
		t.Fatalf("caption relayed back to sender: %+v", c)
	default:
	}

	// Final captions land in every transcript.
	waitUntil(t, func() bool {
		return len(hub.Transcript().Entries()) == 1 &&
			len(spoke1.Transcript().Entries()) == 1 &&
			len(spoke2.Transcript().Entries()) == 1
	}, "transcripts converge")
}

func TestInterimCaptionsStayOutOfTranscript(t *testing.T) {
	broker := mem.NewBroker()
	room := domain.NewRoomID("interim")
	hubObs := newRecObserver()

	hub := startSession(t, broker, room, "Helen Host", WithObserver(hubObs))
	spoke := startSession(t, broker, room, "Gus Guest")
	waitUntil(t, func() bool { return hub.engine.LinkCount() == 1 }, "hub link open")

	spoke.SendCaption("the answ", false)
	c := recv(t, hubObs.captions, "interim caption on hub")
	if c.Final {
		t.Errorf("caption marked final: %+v", c)
	}

	time.Sleep(50 * time.Millisecond)
	if n := len(hub.Transcript().Entries()); n != 0 {
		t.Errorf("interim caption reached the transcript: %d entries", n)
	}
}

type stubPlatform struct {
	mu         sync.Mutex
	fullscreen bool
}

func (p *stubPlatform) RequestFullscreen() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fullscreen = true
	return nil
}
func (p *stubPlatform) ExitFullscreen() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fullscreen = false
}
func (p *stubPlatform) FullscreenActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fullscreen
}
func (p *stubPlatform) PageHidden() bool    { return false }
func (p *stubPlatform) SetClosePrompt(bool) {}

func TestViolationReachesHubOnly(t *testing.T) {
	broker := mem.NewBroker()
	room := domain.NewRoomID("violations")
	hubObs, obs1, obs2 := newRecObserver(), newRecObserver(), newRecObserver()

	hub := startSession(t, broker, room, "Helen Host", WithObserver(hubObs))
	spoke1 := startSession(t, broker, room, "Gus Guest",
		WithObserver(obs1), WithGuardPlatform(&stubPlatform{}))
	startSession(t, broker, room, "Iva Guest", WithObserver(obs2))
	waitUntil(t, func() bool { return hub.engine.LinkCount() == 2 }, "hub links open")

	hub.SetPolicy(true, false)
	waitUntil(t, func() bool { return spoke1.Guard().State() == guard.Locked }, "spoke guard locked")

	spoke1.Guard().OnVisibilityChange(true)

	v := recv(t, hubObs.violations, "violation on hub")
	if v.Kind != domain.ViolationTabSwitch || v.Speaker != "Gus Guest" {
		t.Errorf("violation = %+v", v)
	}

	// Single hop: the other spoke never hears about it.
	time.Sleep(100 * time.Millisecond)
	select {
	case got := <-obs2.violations:
		t.Fatalf("violation relayed to another spoke: %+v", got)
	default:
	}
}

func TestScriptedCaptionsFollowPolicy(t *testing.T) {
	broker := mem.NewBroker()
	room := domain.NewRoomID("stt")
	hubObs := newRecObserver()

	hub := startSession(t, broker, room, "Helen Host", WithObserver(hubObs))
	rec := &stt.ScriptedRecognizer{
		Script: []stt.Result{
			{Text: "hello", Final: false},
			{Text: "hello there", Final: true},
		},
		Pace: 10 * time.Millisecond,
	}
	startSession(t, broker, room, "Gus Guest", WithRecognizer(rec))
	waitUntil(t, func() bool { return hub.engine.LinkCount() == 1 }, "hub link open")

	hub.SetPolicy(false, true)

	var final relay.Caption
	for final.Text == "" {
		c := recv(t, hubObs.captions, "recognized caption on hub")
		if c.Final {
			final = c
		}
	}
	if final.Text != "hello there" || final.Speaker != "Gus Guest" {
		t.Errorf("final caption = %+v", final)
	}
	waitUntil(t, func() bool { return len(hub.Transcript().Entries()) == 1 }, "transcript entry")
}

func TestEndTearsDownAndReleasesAddress(t *testing.T) {
	broker := mem.NewBroker()
	room := domain.NewRoomID("teardown")
	hubObs := newRecObserver()
	spokeObs := newRecObserver()

	hub := startSession(t, broker, room, "Helen Host", WithObserver(hubObs))
	spoke := startSession(t, broker, room, "Gus Guest", WithObserver(spokeObs))
	recv(t, hubObs.streams, "spoke stream on hub")

	spokeAddr := spoke.Addr()
	local := spoke.local.(*mem.Stream)
	spoke.End()

	if !local.AudioTrack().(*mem.Track).Stopped() || !local.VideoTrack().(*mem.Track).Stopped() {
		t.Error("local tracks not stopped on End")
	}
	select {
	case <-spoke.Done():
	default:
		t.Error("Done not closed after End")
	}

	if gone := recv(t, hubObs.gone, "peer-gone on hub"); gone != spokeAddr {
		t.Errorf("peer gone = %s, want %s", gone, spokeAddr)
	}
	waitUntil(t, func() bool { return hub.engine.LinkCount() == 0 }, "hub link removed")

	// Address released: a fresh claim must succeed.
	p, err := broker.Claim(context.Background(), spokeAddr)
	if err != nil {
		t.Fatalf("re-claim after End: %v", err)
	}
	p.Destroy()

	// End twice is safe.
	spoke.End()
}

func TestDisconnectEntersReconnectingThenRecovers(t *testing.T) {
	broker := mem.NewBroker()
	room := domain.NewRoomID("reconnect")
	obs := newRecObserver()

	hub := startSession(t, broker, room, "Helen Host", WithObserver(obs))
	drainStates(obs)

	hub.peer.(*mem.Peer).SimulateDisconnect()

	if st := recv(t, obs.states, "reconnecting state"); st != StateReconnecting {
		t.Fatalf("state = %s, want %s", st, StateReconnecting)
	}
	if st := recv(t, obs.states, "connected state"); st != StateConnected {
		t.Fatalf("state = %s, want %s", st, StateConnected)
	}
}

func TestCaptureFailureIsFatalAtStart(t *testing.T) {
	broker := mem.NewBroker()
	room := domain.NewRoomID("media")
	obs := newRecObserver()

	self, _ := domain.NewParticipant("Helen Host", false)
	mediaErr := &core.MediaError{Kind: core.MediaPermissionDenied}
	s := New(testConfig(), broker, mem.Capture(mediaErr), room, self, zerolog.Nop(), WithObserver(obs))

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded without media")
	}
	if st := recv(t, obs.states, "media-error state"); st != StateMediaError {
		t.Errorf("state = %s, want %s", st, StateMediaError)
	}

	// The failed start must not hold the hub address.
	p, err := broker.Claim(context.Background(), room.HubAddress())
	if err != nil {
		t.Fatalf("hub address leaked: %v", err)
	}
	p.Destroy()
}

func TestServerUnreachableIsFatalAtStart(t *testing.T) {
	broker := mem.NewBroker()
	broker.SetUnreachable(true)
	obs := newRecObserver()

	self, _ := domain.NewParticipant("Helen Host", false)
	s := New(testConfig(), broker, mem.Capture(nil), domain.NewRoomID("down"), self, zerolog.Nop(), WithObserver(obs))

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded with unreachable broker")
	}
	if st := recv(t, obs.states, "server-error state"); st != StateServerError {
		t.Errorf("state = %s, want %s", st, StateServerError)
	}
}

func drainStates(o *recObserver) {
	for {
		select {
		case <-o.states:
		default:
			return
		}
	}
}
