package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lxzan/gws"
	"github.com/rs/zerolog"
)

// ErrClosed is returned by WriteMessage after the connection has gone away.
var ErrClosed = errors.New("websocket closed")

// Conn is one physical bidirectional message connection.
type Conn interface {
	// Serve reads until the connection fails or is closed, calling onMessage
	// for every text frame on the calling goroutine. The slice is only valid
	// for the duration of the call.
	Serve(onMessage func([]byte)) error
	// WriteMessage sends one text frame. It fails fast once the connection is closed.
	WriteMessage(data []byte) error
	// Close force-closes the connection, unblocking Serve.
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Config holds the endpoint and heartbeat settings of a gws dialer.
type Config struct {
	// URL is the websocket server endpoint.
	URL string `validate:"required,url"`
	// PingInterval is the time between client pings.
	PingInterval time.Duration `validate:"min=1ms"`
	// PongTimeout is how long past PingInterval the connection may stay silent.
	PongTimeout time.Duration `validate:"min=1ms"`
}

// GwsDialer dials connections with github.com/lxzan/gws and keeps them
// alive with a ping heartbeat.
type GwsDialer struct {
	config Config
	logger zerolog.Logger
}

func NewGwsDialer(config Config, logger zerolog.Logger) (*GwsDialer, error) {
	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid websocket config: %w", err)
	}
	return &GwsDialer{config: config, logger: logger}, nil
}

func (d *GwsDialer) Dial(ctx context.Context) (Conn, error) {
	handler := &eventHandler{
		deadline: d.config.PingInterval + d.config.PongTimeout,
		logger:   d.logger,
	}

	type result struct {
		socket *gws.Conn
		err    error
	}
	done := make(chan result, 1)
	go func() {
		socket, _, err := gws.NewClient(handler, &gws.ClientOption{
			Addr:             d.config.URL,
			HandshakeTimeout: d.config.PongTimeout,
		})
		done <- result{socket: socket, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("connect websocket: %w", r.err)
		}
		return &gwsConn{socket: r.socket, handler: handler, pingInterval: d.config.PingInterval}, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				_ = r.socket.NetConn().Close()
			}
		}()
		return nil, ctx.Err()
	}
}

type eventHandler struct {
	deadline  time.Duration
	logger    zerolog.Logger
	onMessage func([]byte)
	closeErr  error
}

func (h *eventHandler) OnOpen(socket *gws.Conn) {
	_ = socket.SetDeadline(time.Now().Add(h.deadline))
}

func (h *eventHandler) OnClose(socket *gws.Conn, err error) {
	h.closeErr = err
}

func (h *eventHandler) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(h.deadline))
	_ = socket.WritePong(nil)
}

func (h *eventHandler) OnPong(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(h.deadline))
}

func (h *eventHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	data := message.Bytes()
	if len(data) == 0 || h.onMessage == nil {
		return
	}
	h.onMessage(data)
}

type gwsConn struct {
	socket       *gws.Conn
	handler      *eventHandler
	pingInterval time.Duration

	mu     sync.Mutex
	closed bool
}

func (c *gwsConn) Serve(onMessage func([]byte)) error {
	c.handler.onMessage = onMessage

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Go(func() {
		c.heartbeat(stop)
	})

	c.socket.ReadLoop()

	close(stop)
	wg.Wait()

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	if c.handler.closeErr != nil {
		return c.handler.closeErr
	}
	return ErrClosed
}

func (c *gwsConn) heartbeat(stop <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.socket.WritePing(nil); err != nil {
				c.handler.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		}
	}
}

func (c *gwsConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return c.socket.WriteMessage(gws.OpcodeText, data)
}

func (c *gwsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.socket.NetConn().Close()
}
