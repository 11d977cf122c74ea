package binance

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"market_maker_go/internal/domain"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	readTimeout      = 60 * time.Second
	maxFrameBytes    = 1 << 20

	// The market stream is pinged every pingInterval; a connection that
	// stays silent past idleTimeout is declared dead and closed.
	pingInterval = 15 * time.Second
	idleTimeout  = 30 * time.Second

	// Hard ceiling for one request/response round trip.
	requestTimeout = 5 * time.Second

	// Trading session dial policy: many quick attempts with a delay that
	// grows with the attempt number, capped at maxDialDelay.
	maxTradingDials = 100
	tradingDialStep = 1 * time.Second
	maxDialDelay    = 10 * time.Second

	// codeUnknownOrder is the exchange reject for cancels that match no
	// resting order, including cancel-all on an empty book.
	codeUnknownOrder = -2011
)

// TradeRecorder receives request outcomes and connection transitions.
// *infra.Metrics satisfies it; tests plug in lighter fakes.
type TradeRecorder interface {
	RecordRequest(rtt time.Duration)
	RecordOrderPlaced()
	RecordOrderFailed()
	RecordOrderCancelled()
	RecordReconnect()
	RecordBook()
	MarkConnected()
	MarkDisconnected()
}

// nopRecorder is used when no recorder is wired.
type nopRecorder struct{}

func (nopRecorder) RecordRequest(time.Duration) {}
func (nopRecorder) RecordOrderPlaced()          {}
func (nopRecorder) RecordOrderFailed()          {}
func (nopRecorder) RecordOrderCancelled()       {}
func (nopRecorder) RecordReconnect()            {}
func (nopRecorder) RecordBook()                 {}
func (nopRecorder) MarkConnected()              {}
func (nopRecorder) MarkDisconnected()           {}

// wsAPIRequest is one outbound frame on the trading websocket.
type wsAPIRequest struct {
	ID     string         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// wsAPIResponse mirrors the result/error union of the ws-api.
type wsAPIResponse struct {
	ID     string          `json:"id"`
	Status int             `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  *wsAPIError     `json:"error"`
}

type wsAPIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// flexString accepts JSON strings and bare numbers alike; order ids show
// up both ways.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// orderPayload is the order object shape shared by REST responses and
// ws-api results.
type orderPayload struct {
	OrderID       flexString `json:"orderId"`
	ClientOrderID string     `json:"clientOrderId"`
	Symbol        string     `json:"symbol"`
	Side          string     `json:"side"`
	Price         string     `json:"price"`
	OrigQty       string     `json:"origQty"`
	ExecutedQty   string     `json:"executedQty"`
	Status        string     `json:"status"`
	TransactTime  int64      `json:"transactTime"`
}

// toOrder converts a wire payload into a domain order.
// Unparseable numeric fields become zero rather than failing the order.
func (p *orderPayload) toOrder() *domain.Order {
	price, _ := decimal.NewFromString(p.Price)
	size, _ := decimal.NewFromString(p.OrigQty)
	filled, _ := decimal.NewFromString(p.ExecutedQty)

	created := time.Now()
	if p.TransactTime > 0 {
		created = time.UnixMilli(p.TransactTime)
	}

	status := p.Status
	if status == "" {
		status = domain.OrderStatusNew
	}

	return &domain.Order{
		ExchangeID: string(p.OrderID),
		ClientID:   p.ClientOrderID,
		Symbol:     p.Symbol,
		Side:       domain.SideFromWire(p.Side),
		Price:      price,
		Size:       size,
		FilledSize: filled,
		Status:     status,
		CreatedAt:  created,
		UpdatedAt:  time.Now(),
	}
}

// depthFrame is one partial-depth stream payload: [price, size] pairs.
type depthFrame struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// appendLevels decodes [price, size] string pairs into dst, reusing its
// capacity.
func appendLevels(dst []domain.PriceLevel, src [][]string) ([]domain.PriceLevel, error) {
	for _, pair := range src {
		if len(pair) < 2 {
			continue
		}
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return dst, fmt.Errorf("bad price %q: %w", pair[0], err)
		}
		size, err := decimal.NewFromString(pair[1])
		if err != nil {
			return dst, fmt.Errorf("bad size %q: %w", pair[1], err)
		}
		dst = append(dst, domain.PriceLevel{Price: price, Size: size})
	}
	return dst, nil
}

// sortBook orders bids descending and asks ascending in place.
func sortBook(book *domain.OrderBook) {
	sort.Slice(book.Bids, func(i, j int) bool {
		return book.Bids[i].Price.GreaterThan(book.Bids[j].Price)
	})
	sort.Slice(book.Asks, func(i, j int) bool {
		return book.Asks[i].Price.LessThan(book.Asks[j].Price)
	})
}

// Exchange metadata payloads.
type exchangeInfoResponse struct {
	Symbols []exchangeInfoSymbol `json:"symbols"`
}

type exchangeInfoSymbol struct {
	Symbol  string           `json:"symbol"`
	Filters []exchangeFilter `json:"filters"`
}

type exchangeFilter struct {
	FilterType string `json:"filterType"`
	TickSize   string `json:"tickSize"`
	StepSize   string `json:"stepSize"`
	MinQty     string `json:"minQty"`
	MaxQty     string `json:"maxQty"`
}

// symbolInfoFromFilters derives rounding and size limits from the
// PRICE_FILTER and LOT_SIZE entries of one exchangeInfo symbol.
func symbolInfoFromFilters(sym exchangeInfoSymbol) domain.SymbolInfo {
	info := DefaultSymbolInfo(sym.Symbol)

	for _, f := range sym.Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			if tick, err := decimal.NewFromString(f.TickSize); err == nil && tick.IsPositive() {
				info.TickSize = tick
				info.PricePrecision = precisionFromStep(f.TickSize)
			}
		case "LOT_SIZE":
			if step, err := decimal.NewFromString(f.StepSize); err == nil && step.IsPositive() {
				info.StepSize = step
				info.QuantityPrecision = precisionFromStep(f.StepSize)
			}
			if min, err := decimal.NewFromString(f.MinQty); err == nil && min.IsPositive() {
				info.MinQty = min
			}
			if max, err := decimal.NewFromString(f.MaxQty); err == nil && max.IsPositive() {
				info.MaxQty = max
			}
		}
	}
	return info
}

// precisionFromStep counts decimals of a filter step like "0.01000000" up
// to the last non-zero digit.
func precisionFromStep(step string) int {
	dot := strings.IndexByte(step, '.')
	if dot < 0 {
		return 0
	}
	frac := step[dot+1:]
	last := -1
	for i := 0; i < len(frac); i++ {
		if frac[i] != '0' {
			last = i
		}
	}
	return last + 1
}

// DefaultSymbolInfo returns the fallback metadata used when exchangeInfo
// is unavailable for a symbol.
func DefaultSymbolInfo(symbol string) domain.SymbolInfo {
	info := domain.SymbolInfo{
		Symbol:            symbol,
		PricePrecision:    4,
		QuantityPrecision: 6,
		TickSize:          decimal.RequireFromString("0.01"),
		StepSize:          decimal.RequireFromString("0.00001"),
		MinQty:            decimal.RequireFromString("0.00001"),
		MaxQty:            decimal.NewFromInt(10000000),
	}
	switch symbol {
	case "BTCUSDT", "ETHUSDT":
		info.PricePrecision = 2
		info.QuantityPrecision = 5
	}
	return info
}

// Account payloads.
type accountResponse struct {
	Balances []balancePayload `json:"balances"`
}

type balancePayload struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

func (p balancePayload) toBalance() domain.Balance {
	free, _ := decimal.NewFromString(p.Free)
	locked, _ := decimal.NewFromString(p.Locked)
	return domain.Balance{Asset: p.Asset, Free: free, Locked: locked}
}

type tickerPriceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// restError is the error envelope REST endpoints return.
type restError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}
