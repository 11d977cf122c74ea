package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"market_maker_go/internal/domain"
)

// RestClient talks to the Binance spot REST API. It serves two roles:
// bootstrap reads (exchange metadata, account, depth, ticker) and the
// fallback trading path when websocket trading is disabled.
type RestClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *Signer
	recorder   TradeRecorder
	logger     *slog.Logger
}

// NewRestClient creates a client for baseURL. recorder may be nil.
func NewRestClient(baseURL string, signer *Signer, recorder TradeRecorder) *RestClient {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &RestClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		signer:   signer,
		recorder: recorder,
		logger:   slog.Default().With("module", "binance_rest"),
	}
}

// PlaceLimit submits a GTC limit order and returns the created order.
func (c *RestClient) PlaceLimit(ctx context.Context, symbol string, side domain.Side, price, size decimal.Decimal, clientID string) (*domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side.WireName())
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("price", price.String())
	params.Set("quantity", size.String())
	if clientID != "" {
		params.Set("newClientOrderId", clientID)
	}

	var payload orderPayload
	if err := c.do(ctx, http.MethodPost, "/api/v3/order", params, true, &payload); err != nil {
		c.recorder.RecordOrderFailed()
		return nil, fmt.Errorf("place %s order: %w", side, err)
	}

	order := payload.toOrder()
	if !order.IsOpen() {
		c.recorder.RecordOrderFailed()
		return nil, fmt.Errorf("place %s order: unexpected status %s", side, order.Status)
	}

	c.recorder.RecordOrderPlaced()
	return order, nil
}

// Cancel removes one resting order. Success requires the exchange to
// report status CANCELED.
func (c *RestClient) Cancel(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	var payload orderPayload
	if err := c.do(ctx, http.MethodDelete, "/api/v3/order", params, true, &payload); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	if payload.Status != domain.OrderStatusCanceled {
		return fmt.Errorf("cancel order %s: unexpected status %s", orderID, payload.Status)
	}

	c.recorder.RecordOrderCancelled()
	return nil
}

// CancelAll removes every resting order on symbol. A "no open orders"
// reject counts as success so the call stays idempotent.
func (c *RestClient) CancelAll(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)

	var payloads []orderPayload
	err := c.do(ctx, http.MethodDelete, "/api/v3/openOrders", params, true, &payloads)
	if err != nil {
		var exErr *domain.ExchangeError
		if errors.As(err, &exErr) && exErr.Code == codeUnknownOrder {
			return nil
		}
		return fmt.Errorf("cancel all %s: %w", symbol, err)
	}

	for range payloads {
		c.recorder.RecordOrderCancelled()
	}
	return nil
}

// QueryOrder fetches the current state of one order.
func (c *RestClient) QueryOrder(ctx context.Context, symbol, orderID string) (*domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	var payload orderPayload
	if err := c.do(ctx, http.MethodGet, "/api/v3/order", params, true, &payload); err != nil {
		return nil, fmt.Errorf("query order %s: %w", orderID, err)
	}
	return payload.toOrder(), nil
}

// OpenOrders lists all resting orders on symbol.
func (c *RestClient) OpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var payloads []orderPayload
	if err := c.do(ctx, http.MethodGet, "/api/v3/openOrders", params, true, &payloads); err != nil {
		return nil, fmt.Errorf("open orders %s: %w", symbol, err)
	}

	orders := make([]*domain.Order, 0, len(payloads))
	for i := range payloads {
		orders = append(orders, payloads[i].toOrder())
	}
	return orders, nil
}

// Close releases pooled connections.
func (c *RestClient) Close() {
	c.httpClient.CloseIdleConnections()
}

// SymbolInfo fetches per-symbol rounding and size limits from the
// exchangeInfo endpoint.
func (c *RestClient) SymbolInfo(ctx context.Context, symbol string) (domain.SymbolInfo, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp exchangeInfoResponse
	if err := c.do(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, false, &resp); err != nil {
		return domain.SymbolInfo{}, fmt.Errorf("exchange info %s: %w", symbol, err)
	}

	for _, sym := range resp.Symbols {
		if sym.Symbol == symbol {
			return symbolInfoFromFilters(sym), nil
		}
	}
	return domain.SymbolInfo{}, fmt.Errorf("exchange info: %w: %s", domain.ErrInvalidSymbol, symbol)
}

// AccountBalances fetches all asset balances of the account.
func (c *RestClient) AccountBalances(ctx context.Context) ([]domain.Balance, error) {
	var resp accountResponse
	if err := c.do(ctx, http.MethodGet, "/api/v3/account", url.Values{}, true, &resp); err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}

	balances := make([]domain.Balance, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		balances = append(balances, b.toBalance())
	}
	return balances, nil
}

// TickerPrice fetches the last traded price of symbol.
func (c *RestClient) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp tickerPriceResponse
	if err := c.do(ctx, http.MethodGet, "/api/v3/ticker/price", params, false, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("ticker price %s: %w", symbol, err)
	}

	price, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ticker price %s: bad price %q", symbol, resp.Price)
	}
	return price, nil
}

// Depth fetches one order book snapshot over REST.
func (c *RestClient) Depth(ctx context.Context, symbol string, limit int) (*domain.OrderBook, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))

	var frame depthFrame
	if err := c.do(ctx, http.MethodGet, "/api/v3/depth", params, false, &frame); err != nil {
		return nil, fmt.Errorf("depth %s: %w", symbol, err)
	}

	book := &domain.OrderBook{Symbol: symbol, ReceivedAt: time.Now()}
	var err error
	if book.Bids, err = appendLevels(book.Bids, frame.Bids); err != nil {
		return nil, fmt.Errorf("depth %s: %w", symbol, err)
	}
	if book.Asks, err = appendLevels(book.Asks, frame.Asks); err != nil {
		return nil, fmt.Errorf("depth %s: %w", symbol, err)
	}
	sortBook(book)
	return book, nil
}

// do executes one request. Signed requests get the timestamp/signature
// treatment and the api key header; all parameters travel in the query
// string, POST and DELETE included.
func (c *RestClient) do(ctx context.Context, method, path string, params url.Values, signed bool, out any) error {
	query := params.Encode()
	if signed {
		query = c.signer.SignQuery(params)
	}

	reqURL := c.baseURL + path
	if query != "" {
		reqURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return err
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.signer.APIKey())
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewNetworkError(method+" "+path, err)
	}
	defer resp.Body.Close()
	c.recorder.RecordRequest(time.Since(start))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewNetworkError("read "+path, err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr restError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return &domain.ExchangeError{Code: apiErr.Code, Msg: apiErr.Msg}
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
