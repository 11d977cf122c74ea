package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"market_maker_go/internal/domain"
	"market_maker_go/internal/event"
)

// MarketWorkerConfig carries the connection policy of one depth stream.
type MarketWorkerConfig struct {
	WSBase         string // e.g. wss://stream.binance.com:9443/ws
	Symbol         string // wire form, e.g. BTCUSDT
	Depth          int    // levels per side
	ReconnectDelay time.Duration
	MaxAttempts    int
	AutoReconnect  bool
}

// MarketWorker streams partial depth updates for one symbol and delivers
// each decoded book to the registered handler on its reader goroutine, in
// receive order. Disconnects are recovered by the reconnect policy; a
// heartbeat closes connections that go silent.
type MarketWorker struct {
	cfg      MarketWorkerConfig
	handler  domain.BookHandler
	onFatal  func(error)
	recorder TradeRecorder
	logger   *slog.Logger

	conn *websocket.Conn
	mu   sync.RWMutex

	state       atomic.Int32
	lastInbound atomic.Int64 // unix nanos of the newest inbound frame

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMarketWorker creates a worker. recorder may be nil.
func NewMarketWorker(cfg MarketWorkerConfig, recorder TradeRecorder) *MarketWorker {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &MarketWorker{
		cfg:      cfg,
		recorder: recorder,
		logger:   slog.Default().With("module", "binance_market"),
	}
}

// SetBookHandler registers the depth callback. Call before Connect.
func (w *MarketWorker) SetBookHandler(h domain.BookHandler) {
	w.handler = h
}

// SetFatalHandler registers the callback fired when reconnection gives
// up. Call before Connect.
func (w *MarketWorker) SetFatalHandler(h func(error)) {
	w.onFatal = h
}

// StreamURL returns the depth stream endpoint for the configured symbol.
func (w *MarketWorker) StreamURL() string {
	return fmt.Sprintf("%s/%s@depth%d@100ms", w.cfg.WSBase, strings.ToLower(w.cfg.Symbol), w.cfg.Depth)
}

// State returns the current connection state.
func (w *MarketWorker) State() domain.ConnectionState {
	return domain.ConnectionState(w.state.Load())
}

func (w *MarketWorker) setState(s domain.ConnectionState) {
	w.state.Store(int32(s))
}

// IsConnected reports whether the stream is open.
func (w *MarketWorker) IsConnected() bool {
	return w.State() == domain.ConnOpen
}

// Connect dials the stream and starts the session goroutine. The first
// dial is synchronous so initialization failures surface to the caller;
// later disconnects are handled by the reconnect policy.
func (w *MarketWorker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	if err := w.connect(ctx); err != nil {
		w.setState(domain.ConnIdle)
		return err
	}

	w.wg.Add(1)
	go w.sessionLoop(ctx)
	return nil
}

// sessionLoop owns the stream for its whole life: read until disconnect,
// then reconnect per policy, until the context ends or attempts run out.
func (w *MarketWorker) sessionLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		w.readLoop(ctx)
		w.recorder.MarkDisconnected()

		if ctx.Err() != nil {
			w.setState(domain.ConnIdle)
			return
		}
		if !w.cfg.AutoReconnect {
			w.setState(domain.ConnIdle)
			w.logger.Warn("Market stream closed, auto-reconnect disabled")
			return
		}

		if err := w.reconnect(ctx); err != nil {
			w.setState(domain.ConnIdle)
			if ctx.Err() == nil && w.onFatal != nil {
				w.onFatal(err)
			}
			return
		}
		w.recorder.RecordReconnect()
	}
}

func (w *MarketWorker) reconnect(ctx context.Context) error {
	w.setState(domain.ConnReconnecting)

	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.cfg.ReconnectDelay):
		}

		w.logger.Info("Reconnecting market stream",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", w.cfg.MaxAttempts),
		)
		if err := w.connect(ctx); err != nil {
			w.logger.Warn("Market stream reconnect failed",
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
			continue
		}
		return nil
	}

	return domain.NewFatalNetworkError(
		fmt.Sprintf("market stream %s", w.cfg.Symbol),
		fmt.Errorf("%w after %d attempts", domain.ErrConnectionFailed, w.cfg.MaxAttempts))
}

func (w *MarketWorker) connect(ctx context.Context) error {
	w.setState(domain.ConnConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.StreamURL(), nil)
	if err != nil {
		return fmt.Errorf("dial market stream: %w", err)
	}

	conn.SetReadLimit(maxFrameBytes)
	conn.SetPingHandler(func(payload string) error {
		w.lastInbound.Store(time.Now().UnixNano())
		return conn.WriteControl(websocket.PongMessage, []byte(payload), time.Now().Add(writeWait))
	})
	conn.SetPongHandler(func(string) error {
		w.lastInbound.Store(time.Now().UnixNano())
		return nil
	})

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	w.lastInbound.Store(time.Now().UnixNano())
	w.setState(domain.ConnOpen)
	w.recorder.MarkConnected()

	w.wg.Add(1)
	go w.heartbeat(ctx, conn)

	w.logger.Info("Market stream connected", slog.String("url", w.StreamURL()))
	return nil
}

// heartbeat pings the server every pingInterval and declares the
// connection dead when nothing arrived within idleTimeout. It exits once
// its connection is replaced or closed.
func (w *MarketWorker) heartbeat(ctx context.Context, conn *websocket.Conn) {
	defer w.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if w.current() != conn {
			return
		}

		idle := time.Since(time.Unix(0, w.lastInbound.Load()))
		if idle > idleTimeout {
			w.logger.Warn("Market stream idle timeout, closing connection",
				slog.Duration("idle", idle),
			)
			conn.Close()
			return
		}

		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			w.logger.Warn("Market stream ping failed", slog.Any("error", err))
			return
		}
	}
}

func (w *MarketWorker) current() *websocket.Conn {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.conn
}

func (w *MarketWorker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.closeConnection()
			return
		default:
		}

		conn := w.current()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.logger.Warn("Market stream read error", slog.Any("error", err))
			}
			w.closeConnection()
			return
		}

		w.lastInbound.Store(time.Now().UnixNano())
		w.handleMessage(msg)
	}
}

// handleMessage decodes one depth frame and hands the book to the
// handler. The book rides a pooled event; handlers must not retain it.
func (w *MarketWorker) handleMessage(msg []byte) {
	var frame depthFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		w.logger.Warn("Undecodable depth frame", slog.Any("error", err))
		return
	}
	if len(frame.Bids) == 0 && len(frame.Asks) == 0 {
		return
	}

	ev := event.AcquireBookEvent()
	ev.Book.Symbol = w.cfg.Symbol
	ev.Book.ReceivedAt = time.Now()

	var err error
	if ev.Book.Bids, err = appendLevels(ev.Book.Bids, frame.Bids); err == nil {
		ev.Book.Asks, err = appendLevels(ev.Book.Asks, frame.Asks)
	}
	if err != nil {
		w.logger.Warn("Bad depth level", slog.Any("error", err))
		event.ReleaseBookEvent(ev)
		return
	}
	sortBook(&ev.Book)

	w.recorder.RecordBook()
	if w.handler != nil {
		w.handler(&ev.Book)
	}
	event.ReleaseBookEvent(ev)
}

func (w *MarketWorker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}

// Disconnect stops the session and waits for its goroutines.
func (w *MarketWorker) Disconnect() {
	w.setState(domain.ConnClosing)
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
	w.setState(domain.ConnIdle)
	w.logger.Info("Market stream disconnected")
}
