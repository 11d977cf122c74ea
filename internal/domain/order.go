package domain

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
)

// Side distinguishes the two quote slots of the maker.
type Side string

const (
	SideBid Side = "BID"
	SideAsk Side = "ASK"
)

// WireName maps a side onto the BUY/SELL vocabulary used on the wire.
func (s Side) WireName() string {
	if s == SideBid {
		return "BUY"
	}
	return "SELL"
}

// SideFromWire converts the exchange's BUY/SELL back into a Side.
func SideFromWire(v string) Side {
	if v == "BUY" {
		return SideBid
	}
	return SideAsk
}

// Order statuses as reported by the exchange.
const (
	OrderStatusNew             = "NEW"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCanceled        = "CANCELED"
	OrderStatusRejected        = "REJECTED"
	OrderStatusExpired         = "EXPIRED"
)

// Order represents one exchange order tracked by the quote engine.
type Order struct {
	ExchangeID string          `json:"order_id"`
	ClientID   string          `json:"client_id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Size       decimal.Decimal `json:"size"`
	FilledSize decimal.Decimal `json:"filled_size"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// IsOpen checks if the order is still resting on the book.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusNew || o.Status == OrderStatusPartiallyFilled
}

// RemainingSize returns the unfilled portion of the order.
func (o *Order) RemainingSize() decimal.Decimal {
	return o.Size.Sub(o.FilledSize)
}

// NewClientOrderID builds a maker-tagged client order id of the form
// MM_<side>_<timestamp>_<6 random digits>. The timestamp keeps ids
// roughly monotonic, the random suffix keeps same-instant ids distinct.
func NewClientOrderID(side Side) string {
	return fmt.Sprintf("MM_%s_%d_%06d", side, time.Now().UnixNano(), rand.IntN(1000000))
}
