package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"market_maker_go/internal/domain"
	"market_maker_go/internal/engine"
	"market_maker_go/internal/infra"
	"market_maker_go/internal/infra/storage"
	"market_maker_go/internal/service"
	"market_maker_go/internal/strategy"
)

const (
	// decisionPoll bounds how long the decision loop sleeps between
	// wakeups; a missed signal is picked up on the next tick.
	decisionPoll = 10 * time.Millisecond

	statusEvery     = 30 * time.Second
	shutdownTimeout = time.Second
)

// Supervisor owns the trading lifecycle: it builds the venue adapter,
// wires the market stream into the decision loop, and tears everything
// down in order on stop.
type Supervisor struct {
	cfg     *infra.Config
	logger  *slog.Logger
	journal *storage.Storage

	exchange  domain.Exchange
	books     *service.BookTracker
	validator *engine.Validator
	engine    *engine.QuoteEngine

	placeLimiter  *infra.RateLimiter
	cancelLimiter *infra.RateLimiter

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	fatal    chan error
	wg       sync.WaitGroup
}

// NewSupervisor creates a supervisor over a loaded configuration.
// journal may be nil; rotations are then not persisted.
func NewSupervisor(cfg *infra.Config, journal *storage.Storage) *Supervisor {
	return &Supervisor{
		cfg:       cfg,
		logger:    slog.Default().With("module", "supervisor"),
		journal:   journal,
		books:     service.NewBookTracker(),
		validator: engine.NewValidator(engine.DefaultTradingLimits()),
		stop:      make(chan struct{}),
		fatal:     make(chan error, 1),
	}
}

// Initialize builds and connects the venue adapter, adopts the symbol's
// exchange filters, assembles the quote engine and sweeps any orders left
// over from a previous session.
func (s *Supervisor) Initialize(ctx context.Context) error {
	exchange, err := infra.NewExchange(s.cfg)
	if err != nil {
		return err
	}

	adaptive := s.cfg.Trading.AdaptiveLimits
	exchange.SubscribeBook(func(book *domain.OrderBook) {
		if err := s.books.Apply(book); err != nil {
			s.logger.Debug("Unusable book", slog.Any("error", err))
			return
		}
		if adaptive {
			s.validator.ObserveBook(book)
		}
	})
	exchange.OnStreamFatal(func(err error) {
		select {
		case s.fatal <- err:
		default:
		}
	})

	if err := exchange.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect %s: %w", exchange.Name(), err)
	}
	s.exchange = exchange

	symbol := s.cfg.Trading.Symbol
	info := exchange.SymbolInfo(symbol)
	s.validator.ApplySymbolInfo(info)

	s.placeLimiter = infra.NewRateLimiter(
		s.cfg.Performance.MaxOrdersPerSecond, s.cfg.Performance.MaxOrdersPerSecond*60)
	s.cancelLimiter = infra.NewRateLimiter(
		s.cfg.Performance.MaxRequestsPerSecond, s.cfg.Performance.MaxRequestsPerSecond*60)

	params := engine.Params{
		Symbol:        symbol,
		OrderSize:     s.cfg.Trading.OrderSize,
		TickSize:      info.TickSize,
		Cooldown:      time.Duration(s.cfg.Performance.OrderUpdateCooldownMS) * time.Millisecond,
		PlaceLimiter:  s.placeLimiter,
		CancelLimiter: s.cancelLimiter,
		Metrics:       infra.GlobalMetrics,
	}
	if s.journal != nil {
		params.Journal = s.journal
	}
	quoter := strategy.NewSymmetricSpread(s.cfg.Trading.SpreadPercentage)
	s.engine = engine.NewQuoteEngine(exchange, quoter, s.validator, params)

	s.logBalances(ctx)
	if price, err := exchange.TickerPrice(ctx, symbol); err == nil {
		s.logger.Info("Ticker price",
			slog.String("symbol", symbol),
			slog.String("price", price.String()),
		)
	} else {
		s.logger.Warn("Ticker price query failed", slog.Any("error", err))
	}
	s.sweepLeftovers(ctx, symbol)

	return nil
}

func (s *Supervisor) logBalances(ctx context.Context) {
	balances, err := s.exchange.AccountBalances(ctx)
	if err != nil {
		s.logger.Warn("Account balance query failed", slog.Any("error", err))
		return
	}
	for _, bal := range domain.FilterBalances(balances, s.cfg.Trading.DisplayAssets) {
		s.logger.Info("💰 Balance",
			slog.String("asset", bal.Asset),
			slog.String("free", bal.Free.String()),
			slog.String("locked", bal.Locked.String()),
		)
	}
}

// sweepLeftovers cancels orders still resting from a previous run.
func (s *Supervisor) sweepLeftovers(ctx context.Context, symbol string) {
	open, err := s.exchange.OpenOrders(ctx, symbol)
	if err != nil {
		s.logger.Warn("Open order query failed", slog.Any("error", err))
		return
	}
	if len(open) == 0 {
		return
	}
	s.logger.Info("🧹 Cancelling leftover orders", slog.Int("count", len(open)))
	for _, order := range open {
		s.logger.Debug("Leftover order",
			slog.String("order_id", order.ExchangeID),
			slog.String("side", string(order.Side)),
			slog.String("price", order.Price.String()),
			slog.String("remaining", order.RemainingSize().String()),
		)
	}
	if err := s.engine.CancelAllActive(ctx); err != nil {
		s.logger.Warn("Leftover cancel failed", slog.Any("error", err))
	}
}

// Run starts the decision goroutine. It returns immediately; use Fatal
// and the context to observe termination.
func (s *Supervisor) Run(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go s.decisionLoop(ctx)
	s.logger.Info("✅ Market maker running",
		slog.String("symbol", s.cfg.Trading.Symbol),
		slog.String("spread", s.cfg.Trading.SpreadPercentage.String()),
		slog.String("order_size", s.cfg.Trading.OrderSize.String()),
	)
}

// Fatal delivers the error that ended the market stream after all
// reconnect attempts were exhausted.
func (s *Supervisor) Fatal() <-chan error {
	return s.fatal
}

// decisionLoop turns book updates into engine calls. It is the only
// goroutine that calls Update, so rotations are naturally serialized.
func (s *Supervisor) decisionLoop(ctx context.Context) {
	defer s.wg.Done()

	poll := time.NewTicker(decisionPoll)
	defer poll.Stop()
	status := time.NewTicker(statusEvery)
	defer status.Stop()

	for s.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-status.C:
			s.logStatus()
		case <-s.books.Wakeup():
		case <-poll.C:
		}

		if !s.books.ConsumeChange() {
			continue
		}
		mid, receivedAt, ok := s.books.Mid()
		if !ok {
			continue
		}
		s.engine.Update(ctx, mid, receivedAt)
	}
}

func (s *Supervisor) logStatus() {
	snap := infra.GlobalMetrics.Snapshot()
	bid, ask := s.engine.ActiveQuotes()
	s.logger.Info("📊 Status",
		slog.Uint64("books", snap.BooksReceived),
		slog.Uint64("rotations", snap.Rotations),
		slog.Uint64("orders_placed", snap.SuccessfulOrders),
		slog.Uint64("orders_failed", snap.FailedOrders),
		slog.Uint64("reconnects", snap.ReconnectCount),
		slog.String("bid", quoteLabel(bid)),
		slog.String("ask", quoteLabel(ask)),
		slog.String("spread", spreadLabel(bid, ask)),
		slog.Int("place_rate", s.placeLimiter.Stats().LastSecond),
		slog.Int("cancel_rate", s.cancelLimiter.Stats().LastSecond),
		slog.Bool("connected", s.exchange.IsConnected()),
		slog.String("uptime", snap.Uptime.Round(time.Second).String()),
	)
}

func quoteLabel(o *domain.Order) string {
	if o == nil {
		return "-"
	}
	return o.Price.String()
}

// spreadLabel renders the distance between the resting quotes, or "-"
// when a side is empty.
func spreadLabel(bid, ask *domain.Order) string {
	if bid == nil || ask == nil {
		return "-"
	}
	return domain.QuotePair{Bid: bid.Price, Ask: ask.Price}.Spread().String()
}

// Stop shuts the supervisor down: the decision loop exits, resting
// orders are cancelled best-effort and the venue is disconnected.
// Returns within about a second.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(s.shutdown)
}

func (s *Supervisor) shutdown() {
	s.running.Store(false)
	close(s.stop)
	s.logger.Info("🛑 Stopping supervisor")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		s.logger.Warn("Decision loop did not stop in time")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if s.engine != nil {
		if err := s.engine.CancelAllActive(ctx); err != nil {
			s.logger.Warn("Final cancel all failed", slog.Any("error", err))
		}
	}
	if s.exchange != nil {
		s.exchange.Disconnect()
	}

	s.logFinalStats()
}

// logFinalStats emits the end-of-session statistics block.
func (s *Supervisor) logFinalStats() {
	snap := infra.GlobalMetrics.Snapshot()
	s.logger.Info("📈 Session statistics",
		slog.Uint64("requests", snap.TotalRequests),
		slog.Uint64("orders_placed", snap.SuccessfulOrders),
		slog.Uint64("orders_failed", snap.FailedOrders),
		slog.Uint64("orders_cancelled", snap.CancelledOrders),
		slog.Uint64("rotations", snap.Rotations),
		slog.Uint64("books", snap.BooksReceived),
		slog.Uint64("reconnects", snap.ReconnectCount),
		slog.String("avg_response", snap.ResponseTime.Avg.String()),
		slog.String("avg_execution", snap.Execution.Avg.String()),
		slog.String("avg_reaction", snap.Reaction.Avg.String()),
		slog.String("uptime", snap.Uptime.Round(time.Second).String()),
		slog.Float64("uptime_percent", snap.UptimePercent),
	)
}
