package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"market_maker_go/internal/domain"
)

// TradingClient places and cancels orders over the ws-api duplex channel.
// Each request carries a unique id; a single reader goroutine matches
// responses back to their waiting callers. Requests left in flight when
// the connection drops fail with ErrConnectionClosed.
type TradingClient struct {
	url      string
	signer   *Signer
	recorder TradeRecorder
	logger   *slog.Logger

	conn    *websocket.Conn
	mu      sync.RWMutex
	writeMu sync.Mutex

	pending   map[string]chan wsAPIResponse
	pendingMu sync.Mutex

	reqSeq atomic.Uint64
	state  atomic.Int32
	closed atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	lastInbound atomic.Int64
}

// NewTradingClient creates a client for url, e.g.
// wss://ws-api.binance.com:443/ws-api/v3. recorder may be nil.
func NewTradingClient(url string, signer *Signer, recorder TradeRecorder) *TradingClient {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &TradingClient{
		url:      url,
		signer:   signer,
		recorder: recorder,
		pending:  make(map[string]chan wsAPIResponse),
		logger:   slog.Default().With("module", "binance_trading"),
	}
}

// State returns the current connection state.
func (c *TradingClient) State() domain.ConnectionState {
	return domain.ConnectionState(c.state.Load())
}

func (c *TradingClient) setState(s domain.ConnectionState) {
	c.state.Store(int32(s))
}

// IsConnected reports whether the trading channel is open.
func (c *TradingClient) IsConnected() bool {
	return c.State() == domain.ConnOpen
}

// Connect dials the trading endpoint, retrying per the dial policy, and
// starts the session goroutine. It blocks until connected or the policy
// is exhausted.
func (c *TradingClient) Connect(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	if err := c.dial(ctx); err != nil {
		c.setState(domain.ConnIdle)
		return err
	}

	c.wg.Add(1)
	go c.sessionLoop(ctx)
	return nil
}

// dial attempts the connection up to maxTradingDials times.
func (c *TradingClient) dial(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= maxTradingDials; attempt++ {
		lastErr = c.connect(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == maxTradingDials {
			break
		}

		delay := dialDelay(attempt)
		c.logger.Debug("Trading dial failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("error", lastErr),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return domain.NewFatalNetworkError("trading session",
		fmt.Errorf("%w after %d attempts (%v)", domain.ErrConnectionFailed, maxTradingDials, lastErr))
}

func (c *TradingClient) connect(ctx context.Context) error {
	c.setState(domain.ConnConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial trading endpoint: %w", err)
	}

	conn.SetReadLimit(maxFrameBytes)
	conn.SetPingHandler(func(payload string) error {
		c.lastInbound.Store(time.Now().UnixNano())
		return conn.WriteControl(websocket.PongMessage, []byte(payload), time.Now().Add(writeWait))
	})
	conn.SetPongHandler(func(string) error {
		c.lastInbound.Store(time.Now().UnixNano())
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.lastInbound.Store(time.Now().UnixNano())
	c.setState(domain.ConnOpen)

	c.wg.Add(1)
	go c.heartbeat(ctx, conn)

	c.logger.Info("Trading session connected", slog.String("url", c.url))
	return nil
}

// sessionLoop reads until the connection drops, fails whatever was in
// flight, and redials unless the client is closing.
func (c *TradingClient) sessionLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		c.readLoop(ctx)
		c.failAllPending()

		if ctx.Err() != nil || c.closed.Load() {
			c.setState(domain.ConnIdle)
			return
		}

		c.setState(domain.ConnReconnecting)
		c.logger.Warn("Trading session dropped, redialing")
		if err := c.dial(ctx); err != nil {
			c.setState(domain.ConnIdle)
			if ctx.Err() == nil {
				c.logger.Error("Trading session redial exhausted", slog.Any("error", err))
			}
			return
		}
		c.recorder.RecordReconnect()
	}
}

func (c *TradingClient) heartbeat(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if c.current() != conn {
			return
		}

		idle := time.Since(time.Unix(0, c.lastInbound.Load()))
		if idle > idleTimeout {
			c.logger.Warn("Trading session idle timeout, closing connection",
				slog.Duration("idle", idle),
			)
			conn.Close()
			return
		}

		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			return
		}
	}
}

func (c *TradingClient) current() *websocket.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *TradingClient) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.closeConnection()
			return
		default:
		}

		conn := c.current()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !c.closed.Load() {
				c.logger.Warn("Trading session read error", slog.Any("error", err))
			}
			c.closeConnection()
			return
		}

		c.lastInbound.Store(time.Now().UnixNano())
		c.dispatch(msg)
	}
}

// dispatch routes one inbound frame to the caller waiting on its id.
// Responses for ids nobody waits on (timed out, cancelled) are dropped.
func (c *TradingClient) dispatch(msg []byte) {
	var resp wsAPIResponse
	if err := json.Unmarshal(msg, &resp); err != nil {
		c.logger.Warn("Undecodable trading frame", slog.Any("error", err))
		return
	}
	if resp.ID == "" {
		return
	}
	if ch := c.take(resp.ID); ch != nil {
		ch <- resp
	}
}

// take removes and returns the pending slot for id, or nil if none. The
// removal is what guarantees each request completes at most once.
func (c *TradingClient) take(id string) chan wsAPIResponse {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	ch := c.pending[id]
	delete(c.pending, id)
	return ch
}

// failAllPending closes every in-flight slot so waiting callers observe
// ErrConnectionClosed.
func (c *TradingClient) failAllPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *TradingClient) writeJSON(req wsAPIRequest) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn := c.current()
	if conn == nil {
		return domain.ErrConnectionClosed
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(req)
}

// call signs params, sends one request and waits for its response. The
// wait ends on response, caller cancellation, disconnect, or the request
// timeout, whichever comes first.
func (c *TradingClient) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, domain.ErrShuttingDown
	}
	if !c.IsConnected() {
		return nil, fmt.Errorf("%s: %w", method, domain.ErrNotConnected)
	}

	id := fmt.Sprintf("req_%d", c.reqSeq.Add(1))
	req := wsAPIRequest{ID: id, Method: method, Params: c.signer.SignParams(params)}

	ch := make(chan wsAPIResponse, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	start := time.Now()
	if err := c.writeJSON(req); err != nil {
		c.take(id)
		return nil, domain.NewNetworkError("send "+method, err)
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%s: %w", method, domain.ErrConnectionClosed)
		}
		c.recorder.RecordRequest(time.Since(start))
		if resp.Error != nil {
			return nil, &domain.ExchangeError{Code: resp.Error.Code, Msg: resp.Error.Msg}
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.take(id)
		return nil, ctx.Err()
	case <-timer.C:
		c.take(id)
		return nil, fmt.Errorf("%s: %w", method, domain.ErrRequestTimeout)
	}
}

// PlaceLimit submits a GTC limit order via order.place.
func (c *TradingClient) PlaceLimit(ctx context.Context, symbol string, side domain.Side, price, size decimal.Decimal, clientID string) (*domain.Order, error) {
	params := map[string]any{
		"symbol":      symbol,
		"side":        side.WireName(),
		"type":        "LIMIT",
		"timeInForce": "GTC",
		"price":       price.String(),
		"quantity":    size.String(),
	}
	if clientID != "" {
		params["newClientOrderId"] = clientID
	}

	result, err := c.call(ctx, "order.place", params)
	if err != nil {
		c.recorder.RecordOrderFailed()
		return nil, fmt.Errorf("place %s order: %w", side, err)
	}

	var payload orderPayload
	if err := json.Unmarshal(result, &payload); err != nil {
		c.recorder.RecordOrderFailed()
		return nil, fmt.Errorf("place %s order: decode result: %w", side, err)
	}

	order := payload.toOrder()
	if !order.IsOpen() {
		c.recorder.RecordOrderFailed()
		return nil, fmt.Errorf("place %s order: unexpected status %s", side, order.Status)
	}

	c.recorder.RecordOrderPlaced()
	return order, nil
}

// Cancel removes one resting order via order.cancel.
func (c *TradingClient) Cancel(ctx context.Context, symbol, orderID string) error {
	params := map[string]any{"symbol": symbol}
	addOrderID(params, orderID)

	result, err := c.call(ctx, "order.cancel", params)
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}

	var payload orderPayload
	if err := json.Unmarshal(result, &payload); err != nil {
		return fmt.Errorf("cancel order %s: decode result: %w", orderID, err)
	}
	if payload.Status != domain.OrderStatusCanceled {
		return fmt.Errorf("cancel order %s: unexpected status %s", orderID, payload.Status)
	}

	c.recorder.RecordOrderCancelled()
	return nil
}

// CancelAll removes every resting order on symbol via
// openOrders.cancelAll. A "no open orders" reject counts as success.
func (c *TradingClient) CancelAll(ctx context.Context, symbol string) error {
	result, err := c.call(ctx, "openOrders.cancelAll", map[string]any{"symbol": symbol})
	if err != nil {
		var exErr *domain.ExchangeError
		if errors.As(err, &exErr) && exErr.Code == codeUnknownOrder {
			return nil
		}
		return fmt.Errorf("cancel all %s: %w", symbol, err)
	}

	var payloads []orderPayload
	if err := json.Unmarshal(result, &payloads); err != nil {
		return fmt.Errorf("cancel all %s: decode result: %w", symbol, err)
	}
	for range payloads {
		c.recorder.RecordOrderCancelled()
	}
	return nil
}

// QueryOrder fetches the current state of one order via order.status.
func (c *TradingClient) QueryOrder(ctx context.Context, symbol, orderID string) (*domain.Order, error) {
	params := map[string]any{"symbol": symbol}
	addOrderID(params, orderID)

	result, err := c.call(ctx, "order.status", params)
	if err != nil {
		return nil, fmt.Errorf("query order %s: %w", orderID, err)
	}

	var payload orderPayload
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("query order %s: decode result: %w", orderID, err)
	}
	return payload.toOrder(), nil
}

// OpenOrders lists all resting orders on symbol via openOrders.status.
func (c *TradingClient) OpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error) {
	result, err := c.call(ctx, "openOrders.status", map[string]any{"symbol": symbol})
	if err != nil {
		return nil, fmt.Errorf("open orders %s: %w", symbol, err)
	}

	var payloads []orderPayload
	if err := json.Unmarshal(result, &payloads); err != nil {
		return nil, fmt.Errorf("open orders %s: decode result: %w", symbol, err)
	}
	orders := make([]*domain.Order, 0, len(payloads))
	for i := range payloads {
		orders = append(orders, payloads[i].toOrder())
	}
	return orders, nil
}

// Close tears the session down and fails whatever was still in flight.
func (c *TradingClient) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.setState(domain.ConnClosing)
	if c.cancel != nil {
		c.cancel()
	}
	c.closeConnection()
	c.wg.Wait()
	c.failAllPending()
	c.setState(domain.ConnIdle)
	c.logger.Info("Trading session closed")
}

func (c *TradingClient) closeConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// dialDelay returns the pause before dial attempt number attempt
// (1-based). The delay grows linearly with the attempt count, capped at
// maxDialDelay.
func dialDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(attempt) * tradingDialStep
	if delay > maxDialDelay {
		return maxDialDelay
	}
	return delay
}

// addOrderID sets orderId for numeric exchange ids and origClientOrderId
// otherwise, matching what the ws-api expects for each form.
func addOrderID(params map[string]any, orderID string) {
	if n, err := strconv.ParseInt(orderID, 10, 64); err == nil {
		params["orderId"] = n
		return
	}
	params["origClientOrderId"] = orderID
}
