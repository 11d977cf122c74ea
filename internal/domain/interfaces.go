package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// ExchangeWorker defines the interface for exchange WebSocket connectors
type ExchangeWorker interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
}

// BookHandler consumes decoded depth snapshots. It runs on the connection's
// reader goroutine and must not block or perform I/O.
type BookHandler func(book *OrderBook)

// Trader is the order surface shared by the REST and websocket trading paths.
type Trader interface {
	PlaceLimit(ctx context.Context, symbol string, side Side, price, size decimal.Decimal, clientID string) (*Order, error)
	Cancel(ctx context.Context, symbol, orderID string) error
	CancelAll(ctx context.Context, symbol string) error
	QueryOrder(ctx context.Context, symbol, orderID string) (*Order, error)
	OpenOrders(ctx context.Context, symbol string) ([]*Order, error)
	Close()
}

// Exchange is the full venue surface the supervisor drives: one market data
// stream, one trading path, plus account and metadata reads.
type Exchange interface {
	Trader

	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool

	// SubscribeBook registers the depth callback. Call before Connect.
	SubscribeBook(h BookHandler)

	// OnStreamFatal registers the callback fired when the market stream has
	// exhausted its reconnect attempts.
	OnStreamFatal(h func(err error))

	SymbolInfo(symbol string) SymbolInfo
	FormatPrice(symbol string, v decimal.Decimal) string
	FormatQuantity(symbol string, v decimal.Decimal) string

	AccountBalances(ctx context.Context) ([]Balance, error)
	TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	Name() string
}
