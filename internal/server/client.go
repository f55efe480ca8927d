package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat/internal/auth"
	"github.com/Tyrowin/gochat/internal/protocol"
	"github.com/Tyrowin/gochat/internal/router"
	"github.com/Tyrowin/gochat/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// inboundQueueSize bounds the frames read but not yet processed.
	inboundQueueSize = 64
)

// Dispatcher runs an authenticated envelope. *dispatch.Dispatcher
// satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, id auth.Identity, h router.Handle, env protocol.Envelope)
}

// Client is one WebSocket connection. The read pump only reads; frames are
// processed in order by processFrames, so a handler that is still running
// never delays noticing a closed connection. Deliver may be called from any
// goroutine.
type Client struct {
	conn       *websocket.Conn
	hub        *Hub
	addr       string
	session    *session.Session
	dispatcher Dispatcher
	limiter    *rateLimiter
	rateLimit  int
	maxSize    int64
	log        zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	inbound chan []byte

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// ClientOptions carries the per-connection settings.
type ClientOptions struct {
	MaxMessageSize int64
	SendBufferSize int
	RateBurst      int
	RateInterval   time.Duration
	Now            func() time.Time
}

// NewClient creates a Client for conn. Its session verifies tokens with
// verifier and registers with registrar.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, verifier auth.Verifier, registrar session.Registrar, d Dispatcher, opts ClientOptions, log zerolog.Logger) *Client {
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = 256
	}
	if conn != nil && opts.MaxMessageSize > 0 {
		conn.SetReadLimit(opts.MaxMessageSize)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:       conn,
		hub:        hub,
		addr:       addr,
		dispatcher: d,
		limiter:    newRateLimiter(opts.RateBurst, opts.RateInterval, opts.Now),
		rateLimit:  opts.RateBurst,
		maxSize:    opts.MaxMessageSize,
		log:        log.With().Str("remote", addr).Logger(),
		ctx:        ctx,
		cancel:     cancel,
		inbound:    make(chan []byte, inboundQueueSize),
		send:       make(chan []byte, opts.SendBufferSize),
	}

	sessOpts := []session.Option{session.WithLogger(c.log)}
	if opts.Now != nil {
		sessOpts = append(sessOpts, session.WithClock(opts.Now))
	}
	c.session = session.New(verifier, registrar, c, sessOpts...)
	return c
}

// Deliver implements router.Deliverer. It never blocks: a client whose send
// buffer is full is disconnected.
func (c *Client) Deliver(msgType string, payload any) {
	frame, err := protocol.Encode(msgType, payload)
	if err != nil {
		c.log.Error().Err(err).Str("type", msgType).Msg("failed to encode envelope")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		c.log.Warn().Str("type", msgType).Msg("send buffer full; closing slow connection")
		c.closeSendLocked()
	}
}

// closeSend stops further deliveries and lets the write pump close the
// connection. It is idempotent.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeSendLocked()
}

func (c *Client) closeSendLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	c.cancel()
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Debug().Err(err).Msg("failed to set initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn().Int64("limit", c.maxSize).Msg("message exceeded maximum size")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Debug().Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), isExpectedCloseError(err):
		c.log.Debug().Err(err).Msg("connection closed")
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		c.log.Warn().Err(err).Msg("unexpected WebSocket close")
	default:
		c.log.Warn().Err(err).Msg("WebSocket read error")
	}
}

func (c *Client) readPump() {
	defer c.release()

	c.setupReadConnection()

	for {
		frameType, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if frameType != websocket.TextMessage {
			continue
		}
		select {
		case c.inbound <- raw:
		default:
			c.log.Warn().Int("queued", cap(c.inbound)).Msg("inbound queue full; closing connection")
			return
		}
	}
}

// release runs once the read side has ended. It cancels the context of any
// handler still in flight and drops the router registration right away.
func (c *Client) release() {
	c.cancel()
	c.session.Close()
	close(c.inbound)
	c.hub.Unregister(c)
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Debug().Err(err).Msg("error closing connection in readPump")
	}
}

// processFrames handles queued frames one at a time until the read pump
// closes the queue. Frames still queued after the connection ended are
// discarded.
func (c *Client) processFrames() {
	for raw := range c.inbound {
		if c.ctx.Err() != nil {
			continue
		}
		c.handleFrame(raw)
	}
}

// handleFrame runs one inbound frame to completion.
func (c *Client) handleFrame(raw []byte) {
	env, decodeErr := protocol.Decode(raw)

	if !c.limiter.allow() {
		c.log.Debug().Int("burst", c.rateLimit).Msg("rate limit exceeded")
		c.Deliver(protocol.TypeError, protocol.ErrorPayload{
			Type:          protocol.ErrorRateLimited,
			TransactionID: env.TransactionID,
		})
		return
	}

	if decodeErr != nil {
		c.log.Debug().Err(decodeErr).Msg("undecodable frame")
		c.Deliver(protocol.TypeError, protocol.ErrorPayload{Type: protocol.ErrorUnknown})
		return
	}

	if env.Type == protocol.TypeAuthenticate {
		c.authenticate(env)
		return
	}

	id, h, err := c.session.Authorize()
	if err != nil {
		c.log.Debug().Err(err).Str("type", env.Type).Msg("rejected unauthenticated envelope")
		c.Deliver(protocol.TypeUnauthenticated, protocol.UnauthenticatedPayload{TransactionID: env.TransactionID})
		return
	}

	c.dispatcher.Dispatch(c.ctx, id, h, env)
}

func (c *Client) authenticate(env protocol.Envelope) {
	// An unusable payload leaves Token empty and fails verification.
	var p protocol.AuthenticatePayload
	_ = json.Unmarshal(env.Payload, &p)

	v, err := c.session.Authenticate(c.ctx, p.Token)
	switch {
	case err == nil:
		c.log.Info().Str("user", v.Identity.UserID).Msg("client authenticated")
		c.Deliver(protocol.TypeWelcome, protocol.WelcomePayload{
			UserID:        v.Identity.UserID,
			Username:      v.Identity.Username,
			Expires:       v.ExpiresAt.UnixMilli(),
			TransactionID: env.TransactionID,
		})
	case errors.Is(err, session.ErrAuthInProgress):
		c.Deliver(protocol.TypeError, protocol.ErrorPayload{
			Type:          protocol.ErrorAuthInProgress,
			TransactionID: env.TransactionID,
		})
	case errors.Is(err, session.ErrClosed):
		// Connection is going away; nobody to answer.
	default:
		c.log.Debug().Err(err).Msg("authentication failed")
		c.Deliver(protocol.TypeUnauthenticated, protocol.UnauthenticatedPayload{TransactionID: env.TransactionID})
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		if !ok {
			return c.writeCloseMessage()
		}
		return c.writeFrames(message)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Debug().Err(err).Msg("error closing connection in writePump")
	}
}

func (c *Client) writeCloseMessage() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.log.Debug().Err(err).Msg("error writing close message")
	}
	return false
}

// writeFrames writes message and then whatever else is already queued, one
// envelope per frame.
func (c *Client) writeFrames(message []byte) bool {
	if !c.writeFrame(message) {
		return false
	}
	n := len(c.send)
	for i := 0; i < n; i++ {
		next, ok := <-c.send
		if !ok {
			return c.writeCloseMessage()
		}
		if !c.writeFrame(next) {
			return false
		}
	}
	return true
}

func (c *Client) writeFrame(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug().Err(err).Msg("error setting write deadline")
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn().Err(err).Msg("error writing message")
		}
		return false
	}
	return true
}

func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug().Err(err).Msg("error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug().Err(err).Msg("error writing ping")
		}
		return false
	}
	return true
}
