package strategy

import (
	"github.com/shopspring/decimal"

	"market_maker_go/internal/domain"
)

// Quoter decides where the two resting orders go for a given mid price.
// It is called synchronously by the quote engine on the decision path, so
// implementations must be fast and must not block.
type Quoter interface {
	// Quote returns the candidate bid/ask pair for mid. Prices are raw;
	// the engine snaps them to the tick grid before validation.
	Quote(mid decimal.Decimal) domain.QuotePair

	// Name identifies the strategy in logs and status output.
	Name() string
}
