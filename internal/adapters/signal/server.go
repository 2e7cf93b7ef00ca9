package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hiredesk/interview/internal/domain"
)

const (
	sendBuffer    = 32
	writeDeadline = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server terminates broker websocket connections: one claim per
// connection, then frame relay until the socket dies. Losing the
// socket releases the address.
type Server struct {
	reg     *Registry
	limiter *ClaimRateLimiter
	log     zerolog.Logger

	// ReadLimit caps inbound frame size when set.
	ReadLimit int64
}

func NewServer(reg *Registry, limiter *ClaimRateLimiter, logger zerolog.Logger) *Server {
	return &Server{
		reg:     reg,
		limiter: limiter,
		log:     logger.With().Str("module", "signal").Logger(),
	}
}

// Registry exposes the live registration set.
func (s *Server) Registry() *Registry { return s.reg }

type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
}

// HandleWS upgrades the request and runs the connection's pumps.
func (s *Server) HandleWS(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	s.log.Info().Str("token", token).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if s.ReadLimit > 0 {
		ws.SetReadLimit(s.ReadLimit)
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan []byte, sendBuffer),
	}
	ctx, cancel := context.WithCancel(ctx)

	go s.writePump(ctx, conn)
	go func() {
		defer cancel()
		s.readPump(ctx, token, conn)
	}()
}

func (s *Server) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				s.log.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Error().Err(err).Msg("writePump write error")
				return
			}
		}
	}
}

func (s *Server) readPump(ctx context.Context, token string, c *wsConn) {
	var addr domain.PeerAddress
	defer func() {
		if addr != "" {
			s.reg.Release(addr, c)
			s.log.Info().Str("addr", string(addr)).Msg("registration released")
		}
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				s.log.Debug().Err(err).Str("token", token).Msg("readPump read error")
				return
			}
			addr = s.handleFrame(token, c, addr, data)
		}
	}
}

// handleFrame dispatches one inbound frame and returns the claimed
// address, which is empty until the claim handshake succeeds.
func (s *Server) handleFrame(token string, c *wsConn, addr domain.PeerAddress, data []byte) domain.PeerAddress {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		s.sendFrame(c, errorFrame(CodeBadFrame))
		return addr
	}

	switch {
	case f.Type == TypeClaim:
		return s.handleClaim(token, c, addr, f)

	case f.Type == TypeHeartbeat:
		s.sendFrame(c, Frame{Type: TypePong})
		return addr

	case relayable(f.Type):
		if addr == "" {
			s.sendFrame(c, errorFrame(CodeBadFrame))
			return addr
		}
		s.relay(addr, c, f)
		return addr

	default:
		s.log.Warn().Str("type", f.Type).Msg("unknown frame")
		return addr
	}
}

// handleClaim runs the claim-if-absent race. One claim per connection;
// exactly one concurrent claimant of an address wins.
func (s *Server) handleClaim(token string, c *wsConn, addr domain.PeerAddress, f Frame) domain.PeerAddress {
	if addr != "" || f.ID == "" {
		s.sendFrame(c, errorFrame(CodeBadFrame))
		return addr
	}
	if !s.limiter.Allow(token) {
		s.sendFrame(c, errorFrame(CodeRateLimited))
		return addr
	}

	claimed := domain.PeerAddress(f.ID)
	if err := s.reg.Claim(claimed, c); err != nil {
		s.log.Info().Str("addr", f.ID).Msg("claim lost")
		s.sendFrame(c, errorFrame(CodeIDTaken))
		return addr
	}
	s.log.Info().Str("addr", f.ID).Msg("claim won")
	s.sendFrame(c, Frame{Type: TypeOpen, ID: f.ID})
	return claimed
}

// relay stamps the sender and forwards the frame to its destination.
// The payload passes through opaque.
func (s *Server) relay(from domain.PeerAddress, c *wsConn, f Frame) {
	dst, ok := s.reg.Lookup(domain.PeerAddress(f.Dst))
	if !ok {
		s.sendFrame(c, errorFrame(CodeUnavailable))
		return
	}
	f.Src = string(from)
	b, err := json.Marshal(f)
	if err != nil {
		s.log.Error().Err(err).Msg("relay marshal")
		return
	}
	if err := dst.TrySend(b); err != nil {
		s.log.Debug().Err(err).Str("dst", f.Dst).Msg("relay dropped")
	}
}

func (s *Server) sendFrame(c *wsConn, f Frame) {
	b, err := json.Marshal(f)
	if err != nil {
		s.log.Error().Err(err).Msg("sendFrame marshal")
		return
	}
	_ = c.TrySend(b)
}
