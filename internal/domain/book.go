package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is one depth level: a price and the total resting size at it.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderBook is a snapshot of market depth for a single symbol.
// Bids are sorted by price descending, asks ascending.
// ReceivedAt is stamped when the frame arrives and carries the monotonic
// clock reading, so latency math survives wall-clock adjustments.
type OrderBook struct {
	Symbol     string       `json:"symbol"`
	Bids       []PriceLevel `json:"bids"`
	Asks       []PriceLevel `json:"asks"`
	ReceivedAt time.Time    `json:"-"`
}

// BestBid returns the highest bid level. ok is false when the side is empty.
func (b *OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask level. ok is false when the side is empty.
func (b *OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// Mid returns the arithmetic mid of the best bid and best ask.
// ErrEmptyBook is returned when either side has no levels,
// ErrCrossedBook when best bid >= best ask.
func (b *OrderBook) Mid() (decimal.Decimal, error) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, ErrEmptyBook
	}
	if bid.Price.GreaterThanOrEqual(ask.Price) {
		return decimal.Zero, ErrCrossedBook
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), nil
}

// RoundToTick snaps a price to the nearest multiple of the tick size.
// A zero or negative tick returns the price unchanged.
func RoundToTick(price, tick decimal.Decimal) decimal.Decimal {
	if tick.Sign() <= 0 {
		return price
	}
	return price.Div(tick).Round(0).Mul(tick)
}

// SymbolInfo carries the per-symbol rounding and size limits published by
// the exchange (tick size, lot step, quantity bounds).
type SymbolInfo struct {
	Symbol            string          `json:"symbol"`
	PricePrecision    int             `json:"price_precision"`
	QuantityPrecision int             `json:"quantity_precision"`
	TickSize          decimal.Decimal `json:"tick_size"`
	StepSize          decimal.Decimal `json:"step_size"`
	MinQty            decimal.Decimal `json:"min_qty"`
	MaxQty            decimal.Decimal `json:"max_qty"`
}

// RoundPrice rounds a price to the symbol's price precision.
func (s SymbolInfo) RoundPrice(v decimal.Decimal) decimal.Decimal {
	return v.Round(int32(s.PricePrecision))
}

// RoundQuantity rounds a quantity to the symbol's quantity precision.
func (s SymbolInfo) RoundQuantity(v decimal.Decimal) decimal.Decimal {
	return v.Round(int32(s.QuantityPrecision))
}
