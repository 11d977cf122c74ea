package infra

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"market_maker_go/internal/domain"
	"market_maker_go/internal/infra/binance"
)

func init() {
	RegisterExchange("binance", func(cfg *Config) (domain.Exchange, error) {
		return NewBinanceExchange(cfg)
	})
}

// BinanceExchange implements the Exchange surface over one market data
// stream and one trading transport. The trading transport is the ws-api
// client when use_websocket_trading is set, the REST client otherwise;
// metadata, balances and ticker reads always go through REST.
type BinanceExchange struct {
	cfg    *Config
	logger *slog.Logger

	rest      *binance.RestClient
	wsTrading *binance.TradingClient // nil for REST trading
	trader    domain.Trader
	market    *binance.MarketWorker

	handler domain.BookHandler

	infoMu sync.RWMutex
	info   map[string]domain.SymbolInfo

	bookMu   sync.RWMutex
	lastBook domain.OrderBook
}

// NewBinanceExchange builds the adapter from the loaded configuration.
// Nothing is dialed until Connect.
func NewBinanceExchange(cfg *Config) (*BinanceExchange, error) {
	if cfg.API.Key == "" || cfg.API.Secret == "" {
		return nil, &domain.ConfigError{Field: "api", Err: fmt.Errorf("credentials required")}
	}

	signer := binance.NewSigner(cfg.API.Key, cfg.API.Secret)

	ex := &BinanceExchange{
		cfg:    cfg,
		logger: slog.Default().With("module", "binance"),
		rest:   binance.NewRestClient(cfg.Exchange.RestURL, signer, GlobalMetrics),
		info:   make(map[string]domain.SymbolInfo),
	}

	ex.market = binance.NewMarketWorker(binance.MarketWorkerConfig{
		WSBase:         cfg.Exchange.WSURL,
		Symbol:         ex.WireSymbol(cfg.Trading.Symbol),
		Depth:          cfg.Trading.DepthLevels,
		ReconnectDelay: time.Duration(cfg.Performance.ReconnectDelayMS) * time.Millisecond,
		MaxAttempts:    cfg.Performance.MaxReconnectAttempts,
		AutoReconnect:  true,
	}, GlobalMetrics)

	if cfg.Exchange.UseWebsocketTrading {
		ex.wsTrading = binance.NewTradingClient(wsAPIURL(cfg.Exchange.WSTradingURL), signer, GlobalMetrics)
		ex.trader = ex.wsTrading
	} else {
		ex.trader = ex.rest
	}

	return ex, nil
}

// wsAPIURL appends the ws-api path to a trading base unless it already
// carries one.
func wsAPIURL(base string) string {
	if strings.HasSuffix(base, "/ws-api/v3") {
		return base
	}
	return strings.TrimSuffix(base, "/") + "/ws-api/v3"
}

// Name returns the venue name.
func (e *BinanceExchange) Name() string { return "binance" }

// WireSymbol converts any accepted symbol spelling to the wire form:
// separators stripped, upper case. BTC/USDT -> BTCUSDT.
func (e *BinanceExchange) WireSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "_", "")
	return s
}

// NeutralSymbol converts a wire symbol back to BASE/QUOTE using the
// configured quote currencies. Unknown quotes return the input unchanged.
func (e *BinanceExchange) NeutralSymbol(symbol string) string {
	s := e.WireSymbol(symbol)
	for _, quote := range e.cfg.Trading.QuoteCurrencies {
		q := strings.ToUpper(quote)
		if len(s) > len(q) && strings.HasSuffix(s, q) {
			return s[:len(s)-len(q)] + "/" + q
		}
	}
	return s
}

// SubscribeBook registers the depth callback. Call before Connect.
func (e *BinanceExchange) SubscribeBook(h domain.BookHandler) {
	e.handler = h
}

// OnStreamFatal registers the callback fired when the market stream has
// exhausted its reconnect attempts.
func (e *BinanceExchange) OnStreamFatal(h func(err error)) {
	e.market.SetFatalHandler(h)
}

// Connect bootstraps symbol metadata over REST, opens the trading channel
// when websocket trading is enabled, then opens the market stream.
func (e *BinanceExchange) Connect(ctx context.Context) error {
	e.bootstrapSymbolInfo(ctx)

	if e.wsTrading != nil {
		if err := e.wsTrading.Connect(ctx); err != nil {
			return fmt.Errorf("trading channel: %w", err)
		}
	}

	e.market.SetBookHandler(func(book *domain.OrderBook) {
		e.storeBook(book)
		if e.handler != nil {
			e.handler(book)
		}
	})

	if err := e.market.Connect(ctx); err != nil {
		if e.wsTrading != nil {
			e.wsTrading.Close()
		}
		return fmt.Errorf("market stream: %w", err)
	}

	return nil
}

// Disconnect tears down both channels.
func (e *BinanceExchange) Disconnect() {
	e.market.Disconnect()
	e.trader.Close()
}

// IsConnected reports whether every websocket channel in use is open.
func (e *BinanceExchange) IsConnected() bool {
	if !e.market.IsConnected() {
		return false
	}
	if e.wsTrading != nil {
		return e.wsTrading.IsConnected()
	}
	return true
}

// bootstrapSymbolInfo caches the traded symbol's filters. Failures fall
// back to defaults so startup works without the metadata endpoint.
func (e *BinanceExchange) bootstrapSymbolInfo(ctx context.Context) {
	symbol := e.WireSymbol(e.cfg.Trading.Symbol)

	info, err := e.rest.SymbolInfo(ctx, symbol)
	if err != nil {
		e.logger.Warn("Symbol metadata unavailable, using defaults",
			slog.String("symbol", symbol),
			slog.Any("error", err),
		)
		info = binance.DefaultSymbolInfo(symbol)
	}

	e.infoMu.Lock()
	e.info[symbol] = info
	e.infoMu.Unlock()

	e.logger.Info("Symbol metadata cached",
		slog.String("symbol", symbol),
		slog.String("tick_size", info.TickSize.String()),
		slog.String("step_size", info.StepSize.String()),
		slog.Int("price_precision", info.PricePrecision),
		slog.Int("quantity_precision", info.QuantityPrecision),
	)
}

// SymbolInfo returns the cached metadata for symbol, falling back to
// defaults for symbols never bootstrapped.
func (e *BinanceExchange) SymbolInfo(symbol string) domain.SymbolInfo {
	key := e.WireSymbol(symbol)

	e.infoMu.RLock()
	info, ok := e.info[key]
	e.infoMu.RUnlock()
	if ok {
		return info
	}
	return binance.DefaultSymbolInfo(key)
}

// FormatPrice renders a price at the symbol's price precision.
func (e *BinanceExchange) FormatPrice(symbol string, v decimal.Decimal) string {
	return v.StringFixed(int32(e.SymbolInfo(symbol).PricePrecision))
}

// FormatQuantity renders a quantity at the symbol's quantity precision.
func (e *BinanceExchange) FormatQuantity(symbol string, v decimal.Decimal) string {
	return v.StringFixed(int32(e.SymbolInfo(symbol).QuantityPrecision))
}

// storeBook keeps the newest depth snapshot, reusing level capacity.
func (e *BinanceExchange) storeBook(book *domain.OrderBook) {
	e.bookMu.Lock()
	e.lastBook.Symbol = book.Symbol
	e.lastBook.ReceivedAt = book.ReceivedAt
	e.lastBook.Bids = append(e.lastBook.Bids[:0], book.Bids...)
	e.lastBook.Asks = append(e.lastBook.Asks[:0], book.Asks...)
	e.bookMu.Unlock()
}

// TopOfBook returns the best bid and ask of the newest snapshot. ok is
// false before the first frame or when a side is empty.
func (e *BinanceExchange) TopOfBook() (bid, ask domain.PriceLevel, ok bool) {
	e.bookMu.RLock()
	defer e.bookMu.RUnlock()
	b, okBid := e.lastBook.BestBid()
	a, okAsk := e.lastBook.BestAsk()
	if !okBid || !okAsk {
		return domain.PriceLevel{}, domain.PriceLevel{}, false
	}
	return b, a, true
}

// MidPrice returns the mid of the newest snapshot without a round trip.
func (e *BinanceExchange) MidPrice() (decimal.Decimal, error) {
	e.bookMu.RLock()
	defer e.bookMu.RUnlock()
	return e.lastBook.Mid()
}

// PlaceLimit submits a limit order through the active trading transport.
func (e *BinanceExchange) PlaceLimit(ctx context.Context, symbol string, side domain.Side, price, size decimal.Decimal, clientID string) (*domain.Order, error) {
	return e.trader.PlaceLimit(ctx, e.WireSymbol(symbol), side, price, size, clientID)
}

// Cancel removes one resting order.
func (e *BinanceExchange) Cancel(ctx context.Context, symbol, orderID string) error {
	return e.trader.Cancel(ctx, e.WireSymbol(symbol), orderID)
}

// CancelAll removes every resting order on symbol.
func (e *BinanceExchange) CancelAll(ctx context.Context, symbol string) error {
	return e.trader.CancelAll(ctx, e.WireSymbol(symbol))
}

// QueryOrder fetches the current state of one order.
func (e *BinanceExchange) QueryOrder(ctx context.Context, symbol, orderID string) (*domain.Order, error) {
	return e.trader.QueryOrder(ctx, e.WireSymbol(symbol), orderID)
}

// OpenOrders lists the resting orders on symbol.
func (e *BinanceExchange) OpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error) {
	return e.trader.OpenOrders(ctx, e.WireSymbol(symbol))
}

// Close shuts the trading transport down.
func (e *BinanceExchange) Close() {
	e.trader.Close()
}

// AccountBalances fetches the full account balance list over REST.
func (e *BinanceExchange) AccountBalances(ctx context.Context) ([]domain.Balance, error) {
	return e.rest.AccountBalances(ctx)
}

// TickerPrice fetches the last traded price over REST.
func (e *BinanceExchange) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return e.rest.TickerPrice(ctx, e.WireSymbol(symbol))
}

// Depth fetches a depth snapshot over REST, for bootstrap and diagnostics.
func (e *BinanceExchange) Depth(ctx context.Context, symbol string, limit int) (*domain.OrderBook, error) {
	return e.rest.Depth(ctx, e.WireSymbol(symbol), limit)
}
