package domain

import (
	"time"
)

// OrderRecord is the journal row written for each placed or canceled order.
// Prices and sizes are stored as strings to keep full decimal precision.
type OrderRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	OrderID   string    `gorm:"index" json:"order_id"`
	ClientID  string    `json:"client_id"`
	Symbol    string    `gorm:"index" json:"symbol"`
	Side      string    `json:"side"`
	Price     string    `json:"price"`
	Size      string    `json:"size"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// RotationRecord summarizes one quote rotation.
type RotationRecord struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Symbol          string    `gorm:"index" json:"symbol"`
	Mid             string    `json:"mid"`
	BidPrice        string    `json:"bid_price"`
	AskPrice        string    `json:"ask_price"`
	Outcome         string    `json:"outcome"`
	ExecutionMicros int64     `json:"execution_us"`
	ReactionMicros  int64     `json:"reaction_us"`
	CreatedAt       time.Time `json:"created_at"`
}
