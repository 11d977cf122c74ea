package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuotePair is a strategy output: the target prices for the two resting
// orders of one rotation.
type QuotePair struct {
	Bid decimal.Decimal `json:"bid"`
	Ask decimal.Decimal `json:"ask"`
}

// Spread returns ask minus bid.
func (q QuotePair) Spread() decimal.Decimal {
	return q.Ask.Sub(q.Bid)
}

// SpreadRatio returns (ask - bid) / mid. A zero mid yields zero.
func (q QuotePair) SpreadRatio(mid decimal.Decimal) decimal.Decimal {
	if mid.IsZero() {
		return decimal.Zero
	}
	return q.Ask.Sub(q.Bid).Div(mid)
}

// RotationOutcome classifies how one quote rotation ended.
type RotationOutcome int

const (
	RotationNone RotationOutcome = iota
	RotationBidOnly
	RotationAskOnly
	RotationBothPlaced
)

// String returns the log-friendly name of the outcome.
func (r RotationOutcome) String() string {
	switch r {
	case RotationBothPlaced:
		return "both_placed"
	case RotationBidOnly:
		return "bid_only"
	case RotationAskOnly:
		return "ask_only"
	default:
		return "none"
	}
}

// ReactionSample ties one book update to the order placement it triggered.
// All three stamps come from the monotonic clock.
type ReactionSample struct {
	EnqueuedAt time.Time // book frame arrival
	DecidedAt  time.Time // decision loop pickup
	PlacedAt   time.Time // last place response
}

// Execution returns the decision-to-placement latency.
func (s ReactionSample) Execution() time.Duration {
	return s.PlacedAt.Sub(s.DecidedAt)
}

// Reaction returns the book-arrival-to-placement latency.
func (s ReactionSample) Reaction() time.Duration {
	return s.PlacedAt.Sub(s.EnqueuedAt)
}
