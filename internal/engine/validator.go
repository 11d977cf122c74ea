package engine

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"market_maker_go/internal/domain"
)

// TradingLimits bounds what the validator lets through to the exchange.
type TradingLimits struct {
	MinPrice    decimal.Decimal
	MaxPrice    decimal.Decimal
	MinQty      decimal.Decimal
	MaxQty      decimal.Decimal
	MinNotional decimal.Decimal // price * quantity lower bound
	MaxNotional decimal.Decimal

	TickSize decimal.Decimal
	LotSize  decimal.Decimal

	// Spread window for the quote pair, as a ratio of mid.
	MinSpreadRatio decimal.Decimal
	MaxSpreadRatio decimal.Decimal
}

// DefaultTradingLimits returns the static limits used until market data
// tightens them.
func DefaultTradingLimits() TradingLimits {
	return TradingLimits{
		MinPrice:       decimal.RequireFromString("0.01"),
		MaxPrice:       decimal.NewFromInt(1000000),
		MinQty:         decimal.RequireFromString("0.00001"),
		MaxQty:         decimal.NewFromInt(10000),
		MinNotional:    decimal.NewFromInt(10),
		MaxNotional:    decimal.NewFromInt(100000),
		TickSize:       decimal.RequireFromString("0.01"),
		LotSize:        decimal.RequireFromString("0.00001"),
		MinSpreadRatio: decimal.RequireFromString("0.001"),
		MaxSpreadRatio: decimal.RequireFromString("0.1"),
	}
}

// Hard bounds for the dynamic tightening: the spread window never shrinks
// below 0.01% and never widens past 10%.
var (
	spreadFloor   = decimal.RequireFromString("0.0001")
	spreadCeiling = decimal.RequireFromString("0.1")

	maxDeviation = decimal.RequireFromString("0.1") // 10% from mid per side
	two          = decimal.NewFromInt(2)
	half         = decimal.RequireFromString("0.5")
	five         = decimal.NewFromInt(5)
)

// Validator applies static sanity checks to quote pairs before any
// network I/O. A rejected pair never reaches the exchange.
type Validator struct {
	mu     sync.RWMutex
	limits TradingLimits
}

// NewValidator creates a validator with the given limits.
func NewValidator(limits TradingLimits) *Validator {
	return &Validator{limits: limits}
}

// Limits returns a copy of the current limits.
func (v *Validator) Limits() TradingLimits {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.limits
}

// ValidateQuote checks a candidate bid/ask pair against the limits.
// Rules run in order: per-side price, size and notional bounds, tick and
// lot alignment, deviation from mid, then the pair-level cross and spread
// checks. The returned error is a *domain.ValidationError carrying the
// first failed rule and, where computable, suggested replacement prices.
func (v *Validator) ValidateQuote(bid, ask, size, mid decimal.Decimal) error {
	v.mu.RLock()
	limits := v.limits
	v.mu.RUnlock()

	if err := validateSide(domain.SideBid, bid, size, mid, limits); err != nil {
		return err
	}
	if err := validateSide(domain.SideAsk, ask, size, mid, limits); err != nil {
		return err
	}

	// Crossed pair aborts before the spread check: a negative spread
	// inside the window must still be rejected.
	if bid.GreaterThanOrEqual(ask) {
		return &domain.ValidationError{
			Reason: fmt.Sprintf("crossed quotes: bid %s >= ask %s", bid, ask),
		}
	}

	if mid.IsPositive() {
		spread := ask.Sub(bid).Div(mid)
		if spread.LessThan(limits.MinSpreadRatio) || spread.GreaterThan(limits.MaxSpreadRatio) {
			return &domain.ValidationError{
				Reason: fmt.Sprintf("spread %s%% outside [%s%%, %s%%]",
					ratioPercent(spread), ratioPercent(limits.MinSpreadRatio), ratioPercent(limits.MaxSpreadRatio)),
				SuggestedBid: domain.RoundToTick(mid.Mul(decimal.NewFromInt(1).Sub(limits.MinSpreadRatio.Div(two))), limits.TickSize),
				SuggestedAsk: domain.RoundToTick(mid.Mul(decimal.NewFromInt(1).Add(limits.MinSpreadRatio.Div(two))), limits.TickSize),
			}
		}
	}

	return nil
}

func validateSide(side domain.Side, price, size, mid decimal.Decimal, limits TradingLimits) error {
	if price.LessThan(limits.MinPrice) || price.GreaterThan(limits.MaxPrice) {
		return &domain.ValidationError{
			Reason:       fmt.Sprintf("%s price %s outside [%s, %s]", side, price, limits.MinPrice, limits.MaxPrice),
			SuggestedBid: limits.MinPrice,
			SuggestedAsk: limits.MaxPrice,
		}
	}
	if !size.IsPositive() || size.LessThan(limits.MinQty) || size.GreaterThan(limits.MaxQty) {
		return &domain.ValidationError{
			Reason: fmt.Sprintf("size %s outside [%s, %s]", size, limits.MinQty, limits.MaxQty),
		}
	}

	notional := price.Mul(size)
	if notional.LessThan(limits.MinNotional) || notional.GreaterThan(limits.MaxNotional) {
		return &domain.ValidationError{
			Reason: fmt.Sprintf("notional %s outside [%s, %s]", notional, limits.MinNotional, limits.MaxNotional),
		}
	}

	if limits.TickSize.IsPositive() && !price.Mod(limits.TickSize).IsZero() {
		aligned := domain.RoundToTick(price, limits.TickSize)
		verr := &domain.ValidationError{
			Reason: fmt.Sprintf("%s price %s not aligned to tick %s", side, price, limits.TickSize),
		}
		if side == domain.SideBid {
			verr.SuggestedBid = aligned
		} else {
			verr.SuggestedAsk = aligned
		}
		return verr
	}
	if limits.LotSize.IsPositive() && !size.Mod(limits.LotSize).IsZero() {
		return &domain.ValidationError{
			Reason: fmt.Sprintf("size %s not aligned to lot %s", size, limits.LotSize),
		}
	}

	if mid.IsPositive() {
		deviation := price.Sub(mid).Abs().Div(mid)
		if deviation.GreaterThan(maxDeviation) {
			verr := &domain.ValidationError{
				Reason: fmt.Sprintf("%s price %s deviates %s%% from mid %s (max 10%%)",
					side, price, ratioPercent(deviation), mid),
			}
			if side == domain.SideBid {
				verr.SuggestedBid = mid.Mul(decimal.NewFromInt(1).Sub(maxDeviation))
			} else {
				verr.SuggestedAsk = mid.Mul(decimal.NewFromInt(1).Add(maxDeviation))
			}
			return verr
		}
	}

	return nil
}

// ApplySymbolInfo adopts the exchange's published filters for the traded
// symbol. Zero fields in the info keep their current limit.
func (v *Validator) ApplySymbolInfo(info domain.SymbolInfo) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if info.TickSize.IsPositive() {
		v.limits.TickSize = info.TickSize
	}
	if info.StepSize.IsPositive() {
		v.limits.LotSize = info.StepSize
	}
	if info.MinQty.IsPositive() {
		v.limits.MinQty = info.MinQty
	}
	if info.MaxQty.IsPositive() {
		v.limits.MaxQty = info.MaxQty
	}
}

// ObserveBook tightens the limits around live market conditions: the
// spread window follows the observed top-of-book spread and the price
// bounds track mid. Crossed or one-sided books are ignored.
func (v *Validator) ObserveBook(book *domain.OrderBook) {
	mid, err := book.Mid()
	if err != nil {
		return
	}
	bestBid, _ := book.BestBid()
	bestAsk, _ := book.BestAsk()

	observed := bestAsk.Price.Sub(bestBid.Price).Div(mid)
	if !observed.IsPositive() {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.limits.MinSpreadRatio = decimal.Max(spreadFloor, observed.Mul(half))
	v.limits.MaxSpreadRatio = decimal.Min(spreadCeiling, observed.Mul(five))
	v.limits.MinPrice = mid.Mul(half)
	v.limits.MaxPrice = mid.Mul(two)
}

func ratioPercent(r decimal.Decimal) string {
	return r.Mul(decimal.NewFromInt(100)).String()
}
