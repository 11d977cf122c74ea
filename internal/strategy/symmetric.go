package strategy

import (
	"github.com/shopspring/decimal"

	"market_maker_go/internal/domain"
)

// SymmetricSpread quotes both sides at a fixed half-spread around mid:
// bid = mid*(1-s), ask = mid*(1+s). It is stateless and deterministic.
type SymmetricSpread struct {
	bidMultiplier decimal.Decimal
	askMultiplier decimal.Decimal
}

// NewSymmetricSpread creates a quoter with half-spread s, e.g. 0.02 quotes
// 2% below and above mid. Panics on s outside (0, 1); config validation
// rejects those values long before a quoter is built.
func NewSymmetricSpread(s decimal.Decimal) *SymmetricSpread {
	one := decimal.NewFromInt(1)
	if !s.IsPositive() || s.GreaterThanOrEqual(one) {
		panic("strategy: half-spread must be in (0, 1)")
	}
	return &SymmetricSpread{
		bidMultiplier: one.Sub(s),
		askMultiplier: one.Add(s),
	}
}

// Quote implements Quoter.
func (q *SymmetricSpread) Quote(mid decimal.Decimal) domain.QuotePair {
	return domain.QuotePair{
		Bid: mid.Mul(q.bidMultiplier),
		Ask: mid.Mul(q.askMultiplier),
	}
}

// Name implements Quoter.
func (q *SymmetricSpread) Name() string {
	return "symmetric_spread"
}
