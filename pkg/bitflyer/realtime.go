package bitflyer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"bitflyer/internal/metrics"
	"bitflyer/internal/ws"
	"bitflyer/pkg/core"
)

// SessionState is the lifecycle state of a RealTime session.
type SessionState = ws.SessionState

const (
	StateStopped    = ws.StateStopped
	StateStarting   = ws.StateStarting
	StateConnecting = ws.StateConnecting
	StateOpen       = ws.StateOpen
	StateBackoff    = ws.StateBackoff
)

// decodeFunc turns the message field of a push into a typed record.
type decodeFunc func(raw []byte) (any, error)

// RealTime keeps one streaming connection alive, replays every registered
// subscription on each connect and routes pushes to handlers by channel.
type RealTime struct {
	config     *core.Config
	dialer     ws.Dialer
	backoff    backoff.BackOff
	logger     zerolog.Logger
	registerer prometheus.Registerer
	metrics    *metrics.Stream
	decoders   map[core.Channel]decodeFunc
	subs       *registry
	state      ws.State

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex
	// dispatching counts handlers running on worker goroutines.
	dispatching atomic.Int32

	mu     sync.Mutex
	conn   ws.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// RealTimeOption configures a RealTime.
type RealTimeOption func(*RealTime)

// WithDialer replaces the gws dialer, e.g. with an in-memory transport.
func WithDialer(d ws.Dialer) RealTimeOption {
	return func(r *RealTime) {
		r.dialer = d
	}
}

// WithBackOff replaces the constant reconnect delay policy.
func WithBackOff(b backoff.BackOff) RealTimeOption {
	return func(r *RealTime) {
		r.backoff = b
	}
}

// WithStreamLogger sets the logger of the session.
func WithStreamLogger(logger zerolog.Logger) RealTimeOption {
	return func(r *RealTime) {
		r.logger = logger
	}
}

// WithRegisterer registers the session counters on reg.
func WithRegisterer(reg prometheus.Registerer) RealTimeOption {
	return func(r *RealTime) {
		r.registerer = reg
	}
}

// NewRealTime creates a stopped session for config.StreamURL.
func NewRealTime(config *core.Config, opts ...RealTimeOption) (*RealTime, error) {
	if config == nil {
		config = core.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	r := &RealTime{
		config:   config,
		logger:   zerolog.Nop(),
		decoders: defaultDecoders(NewNormalizer()),
		subs:     newRegistry(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.dialer == nil {
		d, err := ws.NewGwsDialer(ws.Config{
			URL:          config.StreamURL,
			PingInterval: config.PingInterval,
			PongTimeout:  config.PongTimeout,
		}, r.logger)
		if err != nil {
			return nil, err
		}
		r.dialer = d
	}
	if r.backoff == nil {
		r.backoff = backoff.NewConstantBackOff(config.ReconnectDelay)
	}
	r.metrics = metrics.NewStream(r.registerer)

	return r, nil
}

// Start launches the background worker. It is a no-op while a worker is
// alive. The worker runs until Stop is called or ctx is cancelled.
func (r *RealTime) Start(ctx context.Context) {
	if r.dispatching.Load() == 0 {
		r.lifecycle.Lock()
		defer r.lifecycle.Unlock()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return
	}

	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.state.Store(ws.StateStarting)

	go r.run(wctx, done)
}

// Stop cancels the worker, force-closes the connection and waits for the
// worker to exit. It is idempotent and safe to call before Start.
// Subscriptions are kept for the next Start.
//
// Called while a handler is running, e.g. from the handler itself, Stop does
// not wait: the worker exits once the handler returns.
func (r *RealTime) Stop() {
	if r.dispatching.Load() > 0 {
		r.halt()
		return
	}

	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if done := r.halt(); done != nil {
		<-done
	}
}

// halt cancels the worker and closes its connection. It returns the channel
// closed when the worker exits, or nil if no worker was running.
func (r *RealTime) halt() chan struct{} {
	r.mu.Lock()
	cancel, done, conn := r.cancel, r.done, r.conn
	r.cancel, r.done = nil, nil
	if cancel != nil {
		cancel()
	}
	r.mu.Unlock()

	if done != nil && conn != nil {
		_ = conn.Close()
	}
	return done
}

// IsAlive reports whether the worker is running.
func (r *RealTime) IsAlive() bool {
	return r.state.Load().Alive()
}

// State returns the current session state.
func (r *RealTime) State() SessionState {
	return r.state.Load()
}

// Subscriptions returns the registered channel keys, sorted.
func (r *RealTime) Subscriptions() []string {
	return r.subs.keys()
}

// Subscribe registers handler for kind on product under the key
// kind_product, replacing any previous handler. If the connection is open
// the subscribe request is sent at once; a failed send is only logged since
// the subscription is replayed on the next connect.
func (r *RealTime) Subscribe(kind core.Channel, product core.ProductCode, handler Handler) {
	if handler == nil {
		r.logger.Warn().Str("kind", string(kind)).Str("product", string(product)).Msg("ignoring nil handler")
		return
	}

	key := kind.Key(product)
	if r.subs.put(subscription{key: key, kind: kind, product: product, handler: handler}) {
		r.logger.Debug().Str("channel", key).Msg("handler replaced")
	}

	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return
	}
	if err := r.sendSubscribe(conn, key); err != nil {
		r.logger.Debug().Err(err).Str("channel", key).Msg("subscribe deferred to next connect")
	}
}

// SubscribeTicker subscribes to lightning_ticker for product.
func (r *RealTime) SubscribeTicker(product core.ProductCode, fn func(*core.Ticker)) {
	r.Subscribe(core.ChannelTicker, product, func(m any) {
		fn(m.(*core.Ticker))
	})
}

// SubscribeExecutions subscribes to lightning_executions for product.
func (r *RealTime) SubscribeExecutions(product core.ProductCode, fn func([]core.Execution)) {
	r.Subscribe(core.ChannelExecutions, product, func(m any) {
		fn(m.([]core.Execution))
	})
}

// SubscribeBoard subscribes to order book diffs for product.
func (r *RealTime) SubscribeBoard(product core.ProductCode, fn func(*core.Board)) {
	r.Subscribe(core.ChannelBoard, product, func(m any) {
		fn(m.(*core.Board))
	})
}

// SubscribeBoardSnapshot subscribes to full order book snapshots for product.
func (r *RealTime) SubscribeBoardSnapshot(product core.ProductCode, fn func(*core.Board)) {
	r.Subscribe(core.ChannelBoardSnapshot, product, func(m any) {
		fn(m.(*core.Board))
	})
}

func (r *RealTime) run(ctx context.Context, done chan struct{}) {
	defer func() {
		r.mu.Lock()
		if r.done == done {
			r.done, r.cancel = nil, nil
		}
		if r.done == nil {
			r.state.Store(ws.StateStopped)
		}
		r.mu.Unlock()
		close(done)
		r.logger.Info().Msg("realtime worker stopped")
	}()

	r.backoff.Reset()
	for {
		r.session(ctx)
		if ctx.Err() != nil {
			return
		}

		r.state.Store(ws.StateBackoff)
		wait := r.backoff.NextBackOff()
		if wait == backoff.Stop {
			wait = r.config.ReconnectDelay
		}
		r.logger.Debug().Dur("wait", wait).Msg("realtime reconnect scheduled")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session runs one connection from dial to close.
func (r *RealTime) session(ctx context.Context) {
	r.state.Store(ws.StateConnecting)

	conn, err := r.dialer.Dial(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.metrics.IncConnect("failure")
			r.logger.Warn().Err(&core.ConnectionError{Op: "dial", Err: err}).Msg("realtime connect failed")
		}
		return
	}
	r.metrics.IncConnect("success")

	stopClose := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stopClose()
	defer conn.Close()

	if !r.setConn(ctx, conn) {
		return
	}
	defer r.clearConn(conn)

	r.backoff.Reset()
	r.logger.Info().Str("url", r.config.StreamURL).Int("subscriptions", r.subs.len()).Msg("realtime connected")

	r.replay(conn)
	r.state.Store(ws.StateOpen)

	err = conn.Serve(r.dispatch)
	if ctx.Err() == nil {
		r.logger.Warn().Err(&core.ConnectionError{Op: "read", Err: err}).Msg("realtime disconnected")
	}
}

func (r *RealTime) setConn(ctx context.Context, conn ws.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	r.conn = conn
	return true
}

func (r *RealTime) clearConn(conn ws.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == conn {
		r.conn = nil
	}
}

// replay sends a subscribe request for every registered channel.
func (r *RealTime) replay(conn ws.Conn) {
	for _, key := range r.subs.keys() {
		if err := r.sendSubscribe(conn, key); err != nil {
			r.logger.Warn().Err(err).Str("channel", key).Msg("replay interrupted")
			return
		}
	}
}

type subscribeRequest struct {
	Method string          `json:"method"`
	Params subscribeParams `json:"params"`
}

type subscribeParams struct {
	Channel string `json:"channel"`
}

func (r *RealTime) sendSubscribe(conn ws.Conn, key string) error {
	data, err := sonic.Marshal(subscribeRequest{
		Method: "subscribe",
		Params: subscribeParams{Channel: key},
	})
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}
	if err := conn.WriteMessage(data); err != nil {
		r.metrics.IncSubscribe("failure")
		return fmt.Errorf("send subscribe: %w", err)
	}
	r.metrics.IncSubscribe("success")
	return nil
}

type envelope struct {
	Params *struct {
		Channel string          `json:"channel"`
		Message json.RawMessage `json:"message"`
	} `json:"params"`
}

// dispatch routes one inbound frame. No error escapes: every failure is
// logged, counted and dropped so the worker keeps reading.
func (r *RealTime) dispatch(data []byte) {
	err := r.route(data)
	if err == nil {
		return
	}

	var decodeErr *core.DecodeError
	switch {
	case errors.Is(err, core.ErrUnroutableMessage):
		r.metrics.IncDrop(metrics.DropUnroutable)
		r.logger.Warn().Err(err).Msg("unroutable message")
	case errors.As(err, &decodeErr):
		r.metrics.IncDrop(metrics.DropDecode)
		r.logger.Warn().Err(err).Str("channel", decodeErr.Channel).Msg("failed to decode message")
	default:
		r.metrics.IncDrop(metrics.DropMalformed)
		r.logger.Debug().Err(err).Msg("malformed message")
	}
}

// route parses the envelope, finds the handler registered for the exact
// channel, decodes the payload by the subscription's kind and invokes the
// handler synchronously.
func (r *RealTime) route(data []byte) error {
	var env envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %v", core.ErrMalformedMessage, err)
	}
	if env.Params == nil || env.Params.Channel == "" {
		// Responses to our own requests carry no channel.
		return nil
	}
	channel := env.Params.Channel

	sub, ok := r.subs.get(channel)
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnroutableMessage, channel)
	}

	decode, ok := r.decoders[sub.kind]
	if !ok {
		r.metrics.IncDrop(metrics.DropUnknownKind)
		r.logger.Debug().Str("channel", channel).Msg("no decoder for channel kind")
		return nil
	}

	msg, err := decode(env.Params.Message)
	if err != nil {
		return &core.DecodeError{Channel: channel, Err: err}
	}

	if r.invoke(channel, sub.handler, msg) {
		r.metrics.IncMessage(string(sub.kind))
	}
	return nil
}

// invoke runs h and reports whether it returned without panicking.
func (r *RealTime) invoke(channel string, h Handler, msg any) (ok bool) {
	r.dispatching.Add(1)
	defer r.dispatching.Add(-1)
	defer func() {
		if p := recover(); p != nil {
			ok = false
			r.metrics.IncDrop(metrics.DropHandlerPanic)
			r.logger.Error().Str("channel", channel).Interface("panic", p).Msg("handler panicked")
		}
	}()
	h(msg)
	return true
}

func defaultDecoders(n *Normalizer) map[core.Channel]decodeFunc {
	board := func(raw []byte) (any, error) {
		var data rawBoard
		if err := sonic.Unmarshal(raw, &data); err != nil {
			return nil, err
		}
		return n.NormalizeBoard(&data)
	}

	return map[core.Channel]decodeFunc{
		core.ChannelTicker: func(raw []byte) (any, error) {
			var data rawTicker
			if err := sonic.Unmarshal(raw, &data); err != nil {
				return nil, err
			}
			return n.NormalizeTicker(&data)
		},
		core.ChannelExecutions: func(raw []byte) (any, error) {
			var data []rawExecution
			if err := sonic.Unmarshal(raw, &data); err != nil {
				return nil, err
			}
			return n.NormalizeExecutions(data)
		},
		core.ChannelBoard:         board,
		core.ChannelBoardSnapshot: board,
	}
}
