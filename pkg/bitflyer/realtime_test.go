package bitflyer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitflyer/internal/metrics"
	"bitflyer/internal/ws"
	"bitflyer/pkg/core"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeConn is an in-memory ws.Conn. Frames pushed on inbound are delivered
// to Serve; writes are recorded.
type fakeConn struct {
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu     sync.Mutex
	writes []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Serve(onMessage func([]byte)) error {
	for {
		select {
		case <-c.closed:
			return ws.ErrClosed
		case data := <-c.inbound:
			onMessage(data)
		}
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return ws.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, string(data))
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(t *testing.T, channel string, message string) {
	t.Helper()
	frame := fmt.Sprintf(`{"jsonrpc":"2.0","method":"channelMessage","params":{"channel":%q,"message":%s}}`, channel, message)
	select {
	case c.inbound <- []byte(frame):
	case <-time.After(waitFor):
		t.Fatal("push timed out")
	}
}

// subscribed returns the channels of every subscribe request written so far.
func (c *fakeConn) subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var channels []string
	for _, w := range c.writes {
		var req subscribeRequest
		if sonic.Unmarshal([]byte(w), &req) == nil && req.Method == "subscribe" {
			channels = append(channels, req.Params.Channel)
		}
	}
	return channels
}

// fakeDialer hands out a new fakeConn per dial, failing the first failures dials.
type fakeDialer struct {
	conns    chan *fakeConn
	failures atomic.Int32
	dials    atomic.Int32
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context) (ws.Conn, error) {
	d.dials.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.failures.Load() > 0 {
		d.failures.Add(-1)
		return nil, errors.New("connection refused")
	}
	conn := newFakeConn()
	d.conns <- conn
	return conn, nil
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case conn := <-d.conns:
		return conn
	case <-time.After(waitFor):
		t.Fatal("no connection dialed")
		return nil
	}
}

func newTestRealTime(t *testing.T, dialer ws.Dialer) (*RealTime, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	rt, err := NewRealTime(core.DefaultConfig(),
		WithDialer(dialer),
		WithBackOff(backoff.NewConstantBackOff(time.Millisecond)),
		WithRegisterer(reg),
	)
	require.NoError(t, err)
	t.Cleanup(rt.Stop)
	return rt, reg
}

func drops(rt *RealTime, reason string) float64 {
	return testutil.ToFloat64(rt.metrics.Drops.WithLabelValues(reason))
}

func TestRealTime_ReplaysSubscriptionsOnEveryConnect(t *testing.T) {
	dialer := newFakeDialer()
	rt, _ := newTestRealTime(t, dialer)

	rt.SubscribeTicker(core.ProductBTCJPY, func(*core.Ticker) {})
	rt.SubscribeExecutions(core.ProductFXBTCJPY, func([]core.Execution) {})

	rt.Start(context.Background())

	first := dialer.next(t)
	want := []string{"lightning_executions_FX_BTC_JPY", "lightning_ticker_BTC_JPY"}
	require.Eventually(t, func() bool { return len(first.subscribed()) == 2 }, waitFor, tick)
	assert.ElementsMatch(t, want, first.subscribed())

	// Drop the connection; the worker reconnects after the fixed delay.
	_ = first.Close()

	second := dialer.next(t)
	require.Eventually(t, func() bool { return len(second.subscribed()) == 2 }, waitFor, tick)
	assert.ElementsMatch(t, want, second.subscribed())
	assert.Equal(t, float64(2), testutil.ToFloat64(rt.metrics.Connects.WithLabelValues("success")))
}

func TestRealTime_SubscribeWhileOpenSendsImmediately(t *testing.T) {
	dialer := newFakeDialer()
	rt, _ := newTestRealTime(t, dialer)

	rt.Start(context.Background())
	conn := dialer.next(t)
	require.Eventually(t, func() bool { return rt.State() == StateOpen }, waitFor, tick)
	assert.Empty(t, conn.subscribed())

	rt.SubscribeBoard(core.ProductETHJPY, func(*core.Board) {})

	assert.Equal(t, []string{"lightning_board_ETH_JPY"}, conn.subscribed())
}

func TestRealTime_SubscribeSendFailureIsSwallowed(t *testing.T) {
	dialer := newFakeDialer()
	rt, _ := newTestRealTime(t, dialer)

	rt.Start(context.Background())
	conn := dialer.next(t)
	require.Eventually(t, func() bool { return rt.State() == StateOpen }, waitFor, tick)

	// Close the transport under the session so the send fails, then check the
	// subscription is replayed on the next connection.
	_ = conn.Close()
	rt.SubscribeTicker(core.ProductXRPJPY, func(*core.Ticker) {})
	assert.Contains(t, rt.Subscriptions(), "lightning_ticker_XRP_JPY")

	next := dialer.next(t)
	require.Eventually(t, func() bool {
		return slices.Contains(next.subscribed(), "lightning_ticker_XRP_JPY")
	}, waitFor, tick)
}

func TestRealTime_DeliversTicker(t *testing.T) {
	dialer := newFakeDialer()
	rt, _ := newTestRealTime(t, dialer)

	var calls atomic.Int32
	got := make(chan *core.Ticker, 2)
	rt.SubscribeTicker(core.ProductBTCJPY, func(ticker *core.Ticker) {
		calls.Add(1)
		got <- ticker
	})
	executions := subscribeExecutions(rt)
	rt.Start(context.Background())

	conn := dialer.next(t)
	conn.push(t, "lightning_ticker_BTC_JPY", tickerJSON)
	conn.push(t, "lightning_executions_FX_BTC_JPY", executionsFrame)
	awaitExecutions(t, executions)

	// The worker is sequential, so the ticker has been fully dispatched.
	require.Equal(t, int32(1), calls.Load())
	ticker := <-got
	assert.Equal(t, core.ProductBTCJPY, ticker.ProductCode)
	assert.Equal(t, core.StateRunning, ticker.State)
	assert.Equal(t, int64(3579), ticker.TickID)
	assert.True(t, time.Date(2015, 7, 8, 2, 50, 59, 970000000, time.UTC).Equal(ticker.Timestamp))
	assert.Equal(t, "30000", ticker.BestBid.String())
	assert.Equal(t, "36640", ticker.BestAsk.String())
	assert.Equal(t, "31690", ticker.LTP.String())
	assert.Equal(t, "16819.26", ticker.Volume.String())
	assert.Equal(t, float64(1), testutil.ToFloat64(rt.metrics.Messages.WithLabelValues("lightning_ticker")))
}

func TestRealTime_ResubscribeReplacesHandler(t *testing.T) {
	dialer := newFakeDialer()
	rt, _ := newTestRealTime(t, dialer)

	var firstCalls atomic.Int32
	second := make(chan struct{}, 1)
	rt.SubscribeTicker(core.ProductBTCJPY, func(*core.Ticker) { firstCalls.Add(1) })
	rt.SubscribeTicker(core.ProductBTCJPY, func(*core.Ticker) { second <- struct{}{} })
	assert.Equal(t, []string{"lightning_ticker_BTC_JPY"}, rt.Subscriptions())

	rt.Start(context.Background())
	conn := dialer.next(t)
	conn.push(t, "lightning_ticker_BTC_JPY", tickerJSON)

	select {
	case <-second:
	case <-time.After(waitFor):
		t.Fatal("replacement handler not called")
	}
	assert.Zero(t, firstCalls.Load())
}

const executionsFrame = `[{"id":1,"side":"BUY","price":5000000,"size":0.01,"exec_date":"2024-01-01T00:00:00Z"}]`

// subscribeExecutions registers an FX_BTC_JPY executions handler used to
// check that the worker still delivers on an unrelated channel.
func subscribeExecutions(rt *RealTime) <-chan []core.Execution {
	got := make(chan []core.Execution, 4)
	rt.SubscribeExecutions(core.ProductFXBTCJPY, func(e []core.Execution) { got <- e })
	return got
}

func awaitExecutions(t *testing.T, got <-chan []core.Execution) {
	t.Helper()
	select {
	case e := <-got:
		require.Len(t, e, 1)
		assert.Equal(t, core.SideBuy, e[0].Side)
	case <-time.After(waitFor):
		t.Fatal("executions not delivered")
	}
}

func TestRealTime_UnroutableMessageIsCounted(t *testing.T) {
	dialer := newFakeDialer()
	rt, _ := newTestRealTime(t, dialer)

	var tickers atomic.Int32
	rt.SubscribeTicker(core.ProductBTCJPY, func(*core.Ticker) { tickers.Add(1) })
	executions := subscribeExecutions(rt)
	rt.Start(context.Background())

	conn := dialer.next(t)
	conn.push(t, "lightning_ticker_ETH_JPY", tickerJSON)
	conn.push(t, "lightning_executions_FX_BTC_JPY", executionsFrame)
	awaitExecutions(t, executions)

	assert.Equal(t, float64(1), drops(rt, metrics.DropUnroutable))
	assert.Zero(t, tickers.Load())
	assert.True(t, rt.IsAlive())
}

func TestRealTime_DecodeErrorKeepsWorkerRunning(t *testing.T) {
	dialer := newFakeDialer()
	rt, _ := newTestRealTime(t, dialer)

	var tickers atomic.Int32
	rt.SubscribeTicker(core.ProductBTCJPY, func(*core.Ticker) { tickers.Add(1) })
	executions := subscribeExecutions(rt)
	rt.Start(context.Background())

	conn := dialer.next(t)
	conn.push(t, "lightning_ticker_BTC_JPY", `{"product_code":"BTC_JPY","state":"HALTED"}`)
	conn.push(t, "lightning_ticker_BTC_JPY", `"not an object"`)
	conn.push(t, "lightning_executions_FX_BTC_JPY", executionsFrame)
	awaitExecutions(t, executions)

	assert.Equal(t, float64(2), drops(rt, metrics.DropDecode))
	assert.Zero(t, tickers.Load())
	assert.Zero(t, testutil.ToFloat64(rt.metrics.Messages.WithLabelValues("lightning_ticker")))
	assert.Equal(t, float64(1), testutil.ToFloat64(rt.metrics.Connects.WithLabelValues("success")))
}

func TestRealTime_MalformedFrameKeepsWorkerRunning(t *testing.T) {
	dialer := newFakeDialer()
	rt, _ := newTestRealTime(t, dialer)

	executions := subscribeExecutions(rt)
	rt.Start(context.Background())

	conn := dialer.next(t)
	select {
	case conn.inbound <- []byte(`{"params":`):
	case <-time.After(waitFor):
		t.Fatal("push timed out")
	}
	conn.push(t, "lightning_executions_FX_BTC_JPY", executionsFrame)
	awaitExecutions(t, executions)

	assert.Equal(t, float64(1), drops(rt, metrics.DropMalformed))
	assert.True(t, rt.IsAlive())
}

func TestRealTime_HandlerPanicIsRecovered(t *testing.T) {
	dialer := newFakeDialer()
	rt, _ := newTestRealTime(t, dialer)

	rt.SubscribeTicker(core.ProductBTCJPY, func(*core.Ticker) { panic("boom") })
	executions := subscribeExecutions(rt)
	rt.Start(context.Background())

	conn := dialer.next(t)
	conn.push(t, "lightning_ticker_BTC_JPY", tickerJSON)
	conn.push(t, "lightning_executions_FX_BTC_JPY", executionsFrame)
	awaitExecutions(t, executions)

	assert.Equal(t, float64(1), drops(rt, metrics.DropHandlerPanic))
	assert.Zero(t, testutil.ToFloat64(rt.metrics.Messages.WithLabelValues("lightning_ticker")),
		"a panicking handler is not counted as delivered")
	assert.True(t, rt.IsAlive())
}

func TestRealTime_StopFromHandler(t *testing.T) {
	dialer := newFakeDialer()
	rt, _ := newTestRealTime(t, dialer)

	returned := make(chan struct{})
	var once sync.Once
	rt.SubscribeTicker(core.ProductBTCJPY, func(*core.Ticker) {
		rt.Stop()
		once.Do(func() { close(returned) })
	})
	rt.Start(context.Background())

	conn := dialer.next(t)
	conn.push(t, "lightning_ticker_BTC_JPY", tickerJSON)

	select {
	case <-returned:
	case <-time.After(waitFor):
		t.Fatal("Stop blocked inside handler")
	}
	require.Eventually(t, func() bool { return rt.State() == StateStopped }, waitFor, tick)
	assert.False(t, rt.IsAlive())

	stopped := make(chan struct{})
	go func() {
		rt.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(waitFor):
		t.Fatal("Stop blocked after handler stopped the worker")
	}

	rt.Start(context.Background())
	second := dialer.next(t)
	require.Eventually(t, func() bool { return len(second.subscribed()) == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return rt.State() == StateOpen }, waitFor, tick)
}

func TestRealTime_RestartFromHandler(t *testing.T) {
	dialer := newFakeDialer()
	rt, _ := newTestRealTime(t, dialer)

	var calls atomic.Int32
	rt.SubscribeTicker(core.ProductBTCJPY, func(*core.Ticker) {
		if calls.Add(1) == 1 {
			rt.Stop()
			rt.Start(context.Background())
		}
	})
	executions := subscribeExecutions(rt)
	rt.Start(context.Background())

	first := dialer.next(t)
	first.push(t, "lightning_ticker_BTC_JPY", tickerJSON)

	second := dialer.next(t)
	require.Eventually(t, func() bool { return len(second.subscribed()) == 2 }, waitFor, tick)
	second.push(t, "lightning_executions_FX_BTC_JPY", executionsFrame)
	awaitExecutions(t, executions)

	assert.True(t, rt.IsAlive())
	assert.Equal(t, StateOpen, rt.State())
}

func TestRealTime_ReconnectsAfterDialFailures(t *testing.T) {
	dialer := newFakeDialer()
	dialer.failures.Store(3)
	rt, _ := newTestRealTime(t, dialer)

	rt.SubscribeTicker(core.ProductBTCJPY, func(*core.Ticker) {})
	rt.Start(context.Background())

	conn := dialer.next(t)
	require.Eventually(t, func() bool { return len(conn.subscribed()) == 1 }, waitFor, tick)
	assert.Equal(t, int32(4), dialer.dials.Load())
	assert.Equal(t, float64(3), testutil.ToFloat64(rt.metrics.Connects.WithLabelValues("failure")))
}

func TestRealTime_Lifecycle(t *testing.T) {
	dialer := newFakeDialer()
	rt, _ := newTestRealTime(t, dialer)

	assert.Equal(t, StateStopped, rt.State())
	assert.False(t, rt.IsAlive())

	// Stop before Start is a no-op.
	rt.Stop()
	assert.False(t, rt.IsAlive())

	rt.SubscribeTicker(core.ProductBTCJPY, func(*core.Ticker) {})
	rt.Start(context.Background())
	rt.Start(context.Background())
	assert.True(t, rt.IsAlive())

	first := dialer.next(t)
	require.Eventually(t, func() bool { return rt.State() == StateOpen }, waitFor, tick)

	rt.Stop()
	rt.Stop()
	assert.Equal(t, StateStopped, rt.State())
	assert.False(t, rt.IsAlive())
	assert.ErrorIs(t, first.WriteMessage([]byte("x")), ws.ErrClosed)

	// Restart resumes every existing subscription.
	rt.Start(context.Background())
	second := dialer.next(t)
	require.Eventually(t, func() bool { return len(second.subscribed()) == 1 }, waitFor, tick)
	assert.Equal(t, []string{"lightning_ticker_BTC_JPY"}, second.subscribed())
	assert.Equal(t, int32(2), dialer.dials.Load())
}

func TestRealTime_ContextCancelStopsWorker(t *testing.T) {
	dialer := newFakeDialer()
	rt, _ := newTestRealTime(t, dialer)

	ctx, cancel := context.WithCancel(context.Background())
	rt.Start(ctx)
	conn := dialer.next(t)
	require.Eventually(t, func() bool { return rt.State() == StateOpen }, waitFor, tick)

	cancel()
	require.Eventually(t, func() bool { return !rt.IsAlive() }, waitFor, tick)
	assert.ErrorIs(t, conn.WriteMessage([]byte("x")), ws.ErrClosed)

	rt.Start(context.Background())
	dialer.next(t)
	require.Eventually(t, func() bool { return rt.State() == StateOpen }, waitFor, tick)
}

func TestRealTime_Route(t *testing.T) {
	rt, _ := newTestRealTime(t, newFakeDialer())

	delivered := 0
	rt.SubscribeTicker(core.ProductBTCJPY, func(*core.Ticker) { delivered++ })
	rt.Subscribe(core.Channel("lightning_orders"), core.ProductBTCJPY, func(any) { delivered++ })
	rt.Subscribe(core.ChannelTicker, core.ProductETHJPY, nil)

	tests := []struct {
		name    string
		frame   string
		wantErr error
	}{
		{"rpc_ack", `{"jsonrpc":"2.0","id":1,"result":true}`, nil},
		{"no_channel", `{"jsonrpc":"2.0","method":"channelMessage","params":{}}`, nil},
		{"unknown_kind", `{"params":{"channel":"lightning_orders_BTC_JPY","message":{}}}`, nil},
		{"unroutable", `{"params":{"channel":"lightning_ticker_MONA_JPY","message":{}}}`, core.ErrUnroutableMessage},
		{"nil_handler_not_registered", `{"params":{"channel":"lightning_ticker_ETH_JPY","message":{}}}`, core.ErrUnroutableMessage},
		{"malformed", `{"params":`, core.ErrMalformedMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rt.route([]byte(tt.frame))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}

	var decodeErr *core.DecodeError
	err := rt.route([]byte(`{"params":{"channel":"lightning_ticker_BTC_JPY","message":{"state":"HALTED"}}}`))
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "lightning_ticker_BTC_JPY", decodeErr.Channel)
	assert.ErrorIs(t, err, core.ErrUnknownValue)

	assert.Zero(t, delivered)
	assert.Equal(t, float64(1), drops(rt, metrics.DropUnknownKind))
}

func TestRealTime_DispatchCountsDrops(t *testing.T) {
	rt, reg := newTestRealTime(t, newFakeDialer())

	rt.dispatch([]byte(`{"params":{"channel":"lightning_board_BTC_JPY","message":{}}}`))
	rt.dispatch([]byte(`garbage`))

	assert.Equal(t, float64(1), drops(rt, metrics.DropUnroutable))
	assert.Equal(t, float64(1), drops(rt, metrics.DropMalformed))

	count, err := testutil.GatherAndCount(reg, "bitflyer_realtime_dropped_messages_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRealTime_BoardKindsDoNotCollide(t *testing.T) {
	rt, _ := newTestRealTime(t, newFakeDialer())

	var diff, snapshot *core.Board
	rt.SubscribeBoard(core.ProductBTCJPY, func(b *core.Board) { diff = b })
	rt.SubscribeBoardSnapshot(core.ProductBTCJPY, func(b *core.Board) { snapshot = b })

	require.NoError(t, rt.route([]byte(`{"params":{"channel":"lightning_board_snapshot_BTC_JPY","message":{"mid_price":100,"bids":[],"asks":[]}}}`)))
	require.NoError(t, rt.route([]byte(`{"params":{"channel":"lightning_board_BTC_JPY","message":{"mid_price":101,"bids":[{"price":100,"size":0}],"asks":[]}}}`)))

	require.NotNil(t, snapshot)
	require.NotNil(t, diff)
	assert.Equal(t, "100", snapshot.MidPrice.String())
	assert.Equal(t, "101", diff.MidPrice.String())
	assert.Len(t, diff.Bids, 1)
}

func TestRealTime_Executions(t *testing.T) {
	rt, _ := newTestRealTime(t, newFakeDialer())

	var got []core.Execution
	rt.SubscribeExecutions(core.ProductFXBTCJPY, func(e []core.Execution) { got = e })

	require.NoError(t, rt.route([]byte(`{"params":{"channel":"lightning_executions_FX_BTC_JPY","message":[
		{"id":1,"side":"BUY","price":5000000,"size":0.01,"exec_date":"2024-01-01T00:00:00.1234567Z"}
	]}}`)))
	require.Len(t, got, 1)
	assert.Equal(t, core.SideBuy, got[0].Side)
	assert.Equal(t, 123456700, got[0].ExecDate.Nanosecond())
}

func TestNewRealTime_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewRealTime(nil, WithDialer(newFakeDialer()), WithRegisterer(reg))
	require.NoError(t, err)
	second, err := NewRealTime(nil, WithDialer(newFakeDialer()), WithRegisterer(reg))
	require.NoError(t, err)

	first.dispatch([]byte(`garbage`))
	second.dispatch([]byte(`garbage`))
	assert.Equal(t, float64(2), drops(first, metrics.DropMalformed))
}
