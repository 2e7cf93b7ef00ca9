package signal

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestServer() *Server {
	return NewServer(NewRegistry(), NewClaimRateLimiter(10, time.Minute), zerolog.Nop())
}

func newTestConn() *wsConn {
	return &wsConn{send: make(chan []byte, sendBuffer)}
}

func mustFrame(t *testing.T, f Frame) []byte {
	t.Helper()
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func nextFrame(t *testing.T, c *wsConn) Frame {
	t.Helper()
	select {
	case b := <-c.send:
		var f Frame
		if err := json.Unmarshal(b, &f); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame queued")
		panic("unreachable")
	}
}

func noFrame(t *testing.T, c *wsConn) {
	t.Helper()
	select {
	case b := <-c.send:
		t.Fatalf("unexpected frame queued: %s", b)
	default:
	}
}

func TestClaimRaceSingleWinner(t *testing.T) {
	reg := NewRegistry()
	const n = 16
	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reg.Claim("hd-race-host", newTestConn()); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, ErrIDTaken) {
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("got %d winners, want 1", wins)
	}
	if reg.Size() != 1 {
		t.Fatalf("registry size = %d, want 1", reg.Size())
	}
}

func TestClaimHandshake(t *testing.T) {
	s := newTestServer()
	c := newTestConn()

	addr := s.handleFrame("tok", c, "", mustFrame(t, Frame{Type: TypeClaim, ID: "hd-demo-host"}))

	if addr != "hd-demo-host" {
		t.Fatalf("claimed addr = %q", addr)
	}
	resp := nextFrame(t, c)
	if resp.Type != TypeOpen || resp.ID != "hd-demo-host" {
		t.Errorf("response = %+v, want open", resp)
	}
}

func TestSecondClaimantGetsIDTaken(t *testing.T) {
	s := newTestServer()
	winner, loser := newTestConn(), newTestConn()

	s.handleFrame("a", winner, "", mustFrame(t, Frame{Type: TypeClaim, ID: "hd-demo-host"}))
	addr := s.handleFrame("b", loser, "", mustFrame(t, Frame{Type: TypeClaim, ID: "hd-demo-host"}))

	if addr != "" {
		t.Fatalf("loser claimed %q", addr)
	}
	<-winner.send
	resp := nextFrame(t, loser)
	if resp.Type != TypeError || resp.Code != CodeIDTaken {
		t.Errorf("response = %+v, want id_taken error", resp)
	}
}

func TestDoubleClaimOnOneConnectionRejected(t *testing.T) {
	s := newTestServer()
	c := newTestConn()

	addr := s.handleFrame("tok", c, "", mustFrame(t, Frame{Type: TypeClaim, ID: "hd-demo-host"}))
	<-c.send
	addr = s.handleFrame("tok", c, addr, mustFrame(t, Frame{Type: TypeClaim, ID: "hd-demo-g2"}))

	if addr != "hd-demo-host" {
		t.Fatalf("addr changed to %q", addr)
	}
	resp := nextFrame(t, c)
	if resp.Type != TypeError || resp.Code != CodeBadFrame {
		t.Errorf("response = %+v, want bad_frame error", resp)
	}
	if _, ok := s.reg.Lookup("hd-demo-g2"); ok {
		t.Error("second address registered")
	}
}

func TestRelayStampsSource(t *testing.T) {
	s := newTestServer()
	hub, spoke := newTestConn(), newTestConn()
	s.handleFrame("a", hub, "", mustFrame(t, Frame{Type: TypeClaim, ID: "hd-demo-host"}))
	spokeAddr := s.handleFrame("b", spoke, "", mustFrame(t, Frame{Type: TypeClaim, ID: "hd-demo-g1-abc"}))
	<-hub.send
	<-spoke.send

	payload := json.RawMessage(`{"sdp":"v=0"}`)
	s.handleFrame("b", spoke, spokeAddr, mustFrame(t, Frame{
		Type: TypeOffer, Dst: "hd-demo-host", Payload: payload,
	}))

	got := nextFrame(t, hub)
	if got.Type != TypeOffer || got.Src != "hd-demo-g1-abc" {
		t.Errorf("relayed = %+v, want offer from spoke", got)
	}
	if string(got.Payload) != string(payload) {
		t.Errorf("payload = %s, want passthrough", got.Payload)
	}
	noFrame(t, spoke)
}

func TestRelayToMissingPeer(t *testing.T) {
	s := newTestServer()
	c := newTestConn()
	addr := s.handleFrame("a", c, "", mustFrame(t, Frame{Type: TypeClaim, ID: "hd-demo-host"}))
	<-c.send

	s.handleFrame("a", c, addr, mustFrame(t, Frame{Type: TypeOffer, Dst: "hd-demo-gone"}))

	resp := nextFrame(t, c)
	if resp.Type != TypeError || resp.Code != CodeUnavailable {
		t.Errorf("response = %+v, want peer_unavailable", resp)
	}
}

func TestRelayBeforeClaimRejected(t *testing.T) {
	s := newTestServer()
	c := newTestConn()

	s.handleFrame("a", c, "", mustFrame(t, Frame{Type: TypeOffer, Dst: "hd-demo-host"}))

	resp := nextFrame(t, c)
	if resp.Type != TypeError || resp.Code != CodeBadFrame {
		t.Errorf("response = %+v, want bad_frame", resp)
	}
}

func TestHeartbeat(t *testing.T) {
	s := newTestServer()
	c := newTestConn()

	s.handleFrame("a", c, "", mustFrame(t, Frame{Type: TypeHeartbeat}))

	if resp := nextFrame(t, c); resp.Type != TypePong {
		t.Errorf("response = %+v, want pong", resp)
	}
}

func TestReleaseFreesAddressForReclaim(t *testing.T) {
	reg := NewRegistry()
	first := newTestConn()
	if err := reg.Claim("hd-demo-host", first); err != nil {
		t.Fatalf("claim: %v", err)
	}

	reg.Release("hd-demo-host", first)

	if err := reg.Claim("hd-demo-host", newTestConn()); err != nil {
		t.Fatalf("re-claim after release: %v", err)
	}
}

func TestReleaseIgnoresStaleHolder(t *testing.T) {
	reg := NewRegistry()
	current := newTestConn()
	if err := reg.Claim("hd-demo-host", current); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// A release from a connection that lost the address must not evict
	// the current holder.
	reg.Release("hd-demo-host", newTestConn())

	if got, ok := reg.Lookup("hd-demo-host"); !ok || got != Sender(current) {
		t.Error("stale release evicted the live registration")
	}
}

func TestRateLimiterBlocksBurst(t *testing.T) {
	rl := NewClaimRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("tok") {
			t.Fatalf("attempt %d blocked inside limit", i+1)
		}
	}
	if rl.Allow("tok") {
		t.Error("fourth attempt allowed")
	}
	if !rl.Allow("other") {
		t.Error("unrelated token blocked")
	}
}

func TestBackpressureDropsInsteadOfBlocking(t *testing.T) {
	c := newTestConn()
	for i := 0; i < sendBuffer; i++ {
		if err := c.TrySend([]byte("x")); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	if err := c.TrySend([]byte("x")); !errors.Is(err, ErrBackpressure) {
		t.Fatalf("TrySend = %v, want ErrBackpressure", err)
	}

	c.Close()
	if err := c.TrySend([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("TrySend after close = %v, want ErrClosed", err)
	}
}
