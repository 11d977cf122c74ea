package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"market_maker_go/internal/domain"
	"market_maker_go/internal/infra"
	"market_maker_go/internal/strategy"
)

const (
	defaultCooldown = 100 * time.Millisecond

	// Per-cancel soft deadline. A cancel that misses it is logged and the
	// rotation proceeds; the exchange may still complete it.
	cancelTimeout = 100 * time.Millisecond
)

// midMoveThreshold is the relative mid move below which a rotation is
// skipped while both quotes rest (0.01%).
var midMoveThreshold = decimal.RequireFromString("0.0001")

// Venue is the slice of the exchange surface the engine drives.
type Venue interface {
	domain.Trader
	IsConnected() bool
}

// Journal receives best-effort trade records. A nil journal disables
// journaling; write errors never fail a rotation.
type Journal interface {
	SaveOrder(rec *domain.OrderRecord) error
	SaveRotation(rec *domain.RotationRecord) error
}

// Params carries the engine's static configuration.
type Params struct {
	Symbol    string
	OrderSize decimal.Decimal
	TickSize  decimal.Decimal
	Cooldown  time.Duration

	PlaceLimiter  *infra.RateLimiter
	CancelLimiter *infra.RateLimiter
	Metrics       *infra.Metrics
	Journal       Journal
}

// QuoteEngine turns mid-price changes into quote rotations: cancel the
// resting pair, place a fresh one around the new mid. At most one
// rotation is in flight at any time; each phase runs its two sides
// concurrently.
type QuoteEngine struct {
	venue     Venue
	quoter    strategy.Quoter
	validator *Validator
	logger    *slog.Logger

	symbol    string
	orderSize decimal.Decimal
	tickSize  decimal.Decimal
	cooldown  time.Duration

	placeLimiter  *infra.RateLimiter
	cancelLimiter *infra.RateLimiter
	metrics       *infra.Metrics
	journal       Journal

	// rotateMu serializes rotations; it is held across a rotation's I/O.
	rotateMu sync.Mutex

	// slotMu guards the resting pair and the rotation bookkeeping. Held
	// only for field access, never across I/O.
	slotMu     sync.Mutex
	bid        *domain.Order
	ask        *domain.Order
	lastMid    decimal.Decimal
	lastUpdate time.Time
}

// NewQuoteEngine wires a venue, a quoting strategy and a validator into
// an engine. Zero Params fields fall back to defaults.
func NewQuoteEngine(venue Venue, quoter strategy.Quoter, validator *Validator, p Params) *QuoteEngine {
	if validator == nil {
		validator = NewValidator(DefaultTradingLimits())
	}
	if p.Cooldown <= 0 {
		p.Cooldown = defaultCooldown
	}
	if p.TickSize.Sign() <= 0 {
		p.TickSize = decimal.RequireFromString("0.01")
	}
	if p.PlaceLimiter == nil {
		p.PlaceLimiter = infra.NewRateLimiter(10, 600)
	}
	if p.CancelLimiter == nil {
		p.CancelLimiter = infra.NewRateLimiter(20, 1200)
	}
	if p.Metrics == nil {
		p.Metrics = infra.GlobalMetrics
	}

	return &QuoteEngine{
		venue:         venue,
		quoter:        quoter,
		validator:     validator,
		logger:        slog.Default().With("module", "quote_engine"),
		symbol:        p.Symbol,
		orderSize:     p.OrderSize,
		tickSize:      p.TickSize,
		cooldown:      p.Cooldown,
		placeLimiter:  p.PlaceLimiter,
		cancelLimiter: p.CancelLimiter,
		metrics:       p.Metrics,
		journal:       p.Journal,
	}
}

// Update reacts to one mid-price observation: rotate the resting pair or
// do nothing. bookReceivedAt is the arrival stamp of the book frame that
// produced mid. Returns true only when both sides of a rotation placed.
// Calls overlapping an in-flight rotation return false immediately.
func (e *QuoteEngine) Update(ctx context.Context, mid decimal.Decimal, bookReceivedAt time.Time) bool {
	if !e.rotateMu.TryLock() {
		return false
	}
	defer e.rotateMu.Unlock()

	decidedAt := time.Now()
	if !e.shouldRotate(mid, decidedAt) {
		return false
	}
	return e.rotate(ctx, mid, bookReceivedAt, decidedAt)
}

// shouldRotate applies the decision rules in order: an empty slot always
// rotates; sub-threshold mid jitter skips; the cooldown skips; anything
// else rotates. Caller holds rotateMu.
func (e *QuoteEngine) shouldRotate(mid decimal.Decimal, now time.Time) bool {
	e.slotMu.Lock()
	slotEmpty := e.bid == nil || e.ask == nil
	lastMid := e.lastMid
	lastUpdate := e.lastUpdate
	e.slotMu.Unlock()

	if slotEmpty {
		return true
	}

	if !lastMid.IsZero() {
		move := mid.Sub(lastMid).Abs().Div(lastMid)
		if move.LessThanOrEqual(midMoveThreshold) {
			return false
		}
	}

	if now.Sub(lastUpdate) < e.cooldown {
		return false
	}

	return true
}

// rotate runs one cancel-then-place cycle. Caller holds rotateMu.
func (e *QuoteEngine) rotate(ctx context.Context, mid decimal.Decimal, bookReceivedAt, decidedAt time.Time) bool {
	if !e.venue.IsConnected() {
		e.logger.Warn("Rotation aborted, venue disconnected")
		return false
	}

	quote := e.quoter.Quote(mid)
	pair := domain.QuotePair{
		Bid: domain.RoundToTick(quote.Bid, e.tickSize),
		Ask: domain.RoundToTick(quote.Ask, e.tickSize),
	}

	if err := e.validator.ValidateQuote(pair.Bid, pair.Ask, e.orderSize, mid); err != nil {
		e.metrics.RecordOrderFailed()
		e.logger.Warn("Quote pair rejected",
			slog.String("bid", pair.Bid.String()),
			slog.String("ask", pair.Ask.String()),
			slog.Any("error", err),
		)
		return false
	}

	// Snapshot the resting pair under the lock, then do all I/O without it.
	e.slotMu.Lock()
	oldBid, oldAsk := e.bid, e.ask
	e.slotMu.Unlock()

	if oldBid != nil || oldAsk != nil {
		e.cancelPhase(ctx, oldBid, oldAsk)
		e.slotMu.Lock()
		e.bid, e.ask = nil, nil
		e.slotMu.Unlock()
	}

	var wg sync.WaitGroup
	var placedBid, placedAsk *domain.Order
	wg.Add(2)
	go func() {
		defer wg.Done()
		placedBid = e.placeOne(ctx, domain.SideBid, pair.Bid)
	}()
	go func() {
		defer wg.Done()
		placedAsk = e.placeOne(ctx, domain.SideAsk, pair.Ask)
	}()
	wg.Wait()
	placedAt := time.Now()

	outcome := domain.RotationNone
	switch {
	case placedBid != nil && placedAsk != nil:
		outcome = domain.RotationBothPlaced
	case placedBid != nil:
		outcome = domain.RotationBidOnly
	case placedAsk != nil:
		outcome = domain.RotationAskOnly
	}

	e.slotMu.Lock()
	e.lastMid = mid
	e.lastUpdate = placedAt
	e.slotMu.Unlock()

	sample := domain.ReactionSample{EnqueuedAt: bookReceivedAt, DecidedAt: decidedAt, PlacedAt: placedAt}
	e.metrics.RecordRotation(sample.Execution(), sample.Reaction())

	e.logger.Info("Quotes rotated",
		slog.String("outcome", outcome.String()),
		slog.String("mid", mid.String()),
		slog.String("bid", pair.Bid.String()),
		slog.String("ask", pair.Ask.String()),
		slog.String("spread_ratio", pair.SpreadRatio(mid).String()),
		slog.Duration("execution", sample.Execution()),
		slog.Duration("reaction", sample.Reaction()),
	)
	e.journalRotation(mid, pair, outcome, sample)

	return outcome == domain.RotationBothPlaced
}

// cancelPhase cancels the surviving orders concurrently and waits for
// both workers. Cancel completes (or times out) before any placement.
func (e *QuoteEngine) cancelPhase(ctx context.Context, orders ...*domain.Order) {
	var wg sync.WaitGroup
	for _, order := range orders {
		if order == nil {
			continue
		}
		wg.Add(1)
		go func(o *domain.Order) {
			defer wg.Done()
			e.cancelOne(ctx, o)
		}(order)
	}
	wg.Wait()
}

func (e *QuoteEngine) cancelOne(ctx context.Context, order *domain.Order) {
	if err := e.cancelLimiter.AcquireBlocking(ctx); err != nil {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, cancelTimeout)
	defer cancel()

	err := e.venue.Cancel(cctx, e.symbol, order.ExchangeID)
	switch {
	case err == nil:
		e.journalOrder(order, domain.OrderStatusCanceled)
	case errors.Is(err, context.DeadlineExceeded):
		// Soft failure: the exchange may still complete the cancel.
		e.logger.Warn("Cancel timed out",
			slog.String("side", string(order.Side)),
			slog.String("order_id", order.ExchangeID),
		)
	default:
		e.logger.Warn("Cancel failed",
			slog.String("side", string(order.Side)),
			slog.String("order_id", order.ExchangeID),
			slog.Any("error", err),
		)
	}
}

// placeOne submits one side and installs the order into its slot on
// success. Returns nil on any failure.
func (e *QuoteEngine) placeOne(ctx context.Context, side domain.Side, price decimal.Decimal) *domain.Order {
	if err := e.placeLimiter.AcquireBlocking(ctx); err != nil {
		return nil
	}

	start := time.Now()
	order, err := e.venue.PlaceLimit(ctx, e.symbol, side, price, e.orderSize, domain.NewClientOrderID(side))
	if err != nil {
		e.logger.Warn("Order placement failed",
			slog.String("side", string(side)),
			slog.String("price", price.String()),
			slog.Bool("retriable", domain.IsRetriable(err)),
			slog.Any("error", err),
		)
		return nil
	}

	e.logger.Debug("Order placed",
		slog.String("side", string(side)),
		slog.String("price", price.String()),
		slog.String("order_id", order.ExchangeID),
		slog.Duration("took", time.Since(start)),
	)

	e.slotMu.Lock()
	if side == domain.SideBid {
		e.bid = order
	} else {
		e.ask = order
	}
	e.slotMu.Unlock()

	e.journalOrder(order, order.Status)
	return order
}

// CancelAllActive removes every resting order on the symbol and clears
// both slots. Used at startup (leftovers) and shutdown.
func (e *QuoteEngine) CancelAllActive(ctx context.Context) error {
	err := e.venue.CancelAll(ctx, e.symbol)
	if err != nil {
		return err
	}
	e.slotMu.Lock()
	e.bid, e.ask = nil, nil
	e.slotMu.Unlock()
	return nil
}

// ActiveQuotes returns copies of the resting pair; nil means empty slot.
func (e *QuoteEngine) ActiveQuotes() (bid, ask *domain.Order) {
	e.slotMu.Lock()
	defer e.slotMu.Unlock()
	if e.bid != nil {
		b := *e.bid
		bid = &b
	}
	if e.ask != nil {
		a := *e.ask
		ask = &a
	}
	return bid, ask
}

// LastMid returns the mid of the most recent rotation.
func (e *QuoteEngine) LastMid() decimal.Decimal {
	e.slotMu.Lock()
	defer e.slotMu.Unlock()
	return e.lastMid
}

func (e *QuoteEngine) journalOrder(order *domain.Order, status string) {
	if e.journal == nil {
		return
	}
	rec := &domain.OrderRecord{
		OrderID:   order.ExchangeID,
		ClientID:  order.ClientID,
		Symbol:    order.Symbol,
		Side:      string(order.Side),
		Price:     order.Price.String(),
		Size:      order.Size.String(),
		Status:    status,
		CreatedAt: time.Now(),
	}
	if err := e.journal.SaveOrder(rec); err != nil {
		e.logger.Debug("Journal write failed", slog.Any("error", err))
	}
}

func (e *QuoteEngine) journalRotation(mid decimal.Decimal, pair domain.QuotePair, outcome domain.RotationOutcome, sample domain.ReactionSample) {
	if e.journal == nil {
		return
	}
	rec := &domain.RotationRecord{
		Symbol:          e.symbol,
		Mid:             mid.String(),
		BidPrice:        pair.Bid.String(),
		AskPrice:        pair.Ask.String(),
		Outcome:         outcome.String(),
		ExecutionMicros: sample.Execution().Microseconds(),
		ReactionMicros:  sample.Reaction().Microseconds(),
		CreatedAt:       time.Now(),
	}
	if err := e.journal.SaveRotation(rec); err != nil {
		e.logger.Debug("Journal write failed", slog.Any("error", err))
	}
}
