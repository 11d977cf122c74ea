package service

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"market_maker_go/internal/domain"
)

// midTolerance is the equality tolerance for mid-price comparisons.
// It applies only here; monetary invariants are exact.
var midTolerance = decimal.RequireFromString("0.00001")

// BookTracker caches the latest order book and derives the mid price the
// decision loop trades on. Apply runs on the market stream's reader
// goroutine and must stay cheap: it takes the cache lock briefly and
// signals the wakeup channel without blocking or doing I/O.
type BookTracker struct {
	mu         sync.RWMutex
	book       domain.OrderBook
	mid        decimal.Decimal
	receivedAt time.Time

	priceChanged atomic.Bool
	wakeup       chan struct{}
}

// NewBookTracker creates an empty tracker.
func NewBookTracker() *BookTracker {
	return &BookTracker{
		wakeup: make(chan struct{}, 1),
	}
}

// Apply ingests one depth snapshot. When the derived mid moves beyond the
// tolerance the price-changed flag is set and the wakeup channel signaled.
// Books without a valid mid (one-sided or crossed) update the cache only;
// the stale mid keeps driving decisions until a usable book arrives.
func (t *BookTracker) Apply(book *domain.OrderBook) error {
	receivedAt := book.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	newMid, err := book.Mid()

	t.mu.Lock()
	t.book.Symbol = book.Symbol
	t.book.Bids = append(t.book.Bids[:0], book.Bids...)
	t.book.Asks = append(t.book.Asks[:0], book.Asks...)
	t.book.ReceivedAt = receivedAt

	if err != nil {
		t.mu.Unlock()
		return err
	}

	changed := t.mid.Sub(newMid).Abs().GreaterThan(midTolerance)
	if changed {
		t.mid = newMid
		t.receivedAt = receivedAt
	}
	t.mu.Unlock()

	if changed {
		t.priceChanged.Store(true)
		select {
		case t.wakeup <- struct{}{}:
		default:
		}
	}
	return nil
}

// Wakeup returns the channel signaled on each significant mid change.
func (t *BookTracker) Wakeup() <-chan struct{} {
	return t.wakeup
}

// ConsumeChange clears the price-changed flag, returning whether it was
// set. The decision loop calls this once per wakeup.
func (t *BookTracker) ConsumeChange() bool {
	return t.priceChanged.Swap(false)
}

// Mid returns the current mid and the arrival time of the book that set
// it. ok is false before the first usable book.
func (t *BookTracker) Mid() (mid decimal.Decimal, receivedAt time.Time, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.mid.IsZero() {
		return decimal.Zero, time.Time{}, false
	}
	return t.mid, t.receivedAt, true
}

// TopOfBook returns the best bid and ask of the cached book.
func (t *BookTracker) TopOfBook() (bid, ask domain.PriceLevel, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	bestBid, okBid := t.book.BestBid()
	bestAsk, okAsk := t.book.BestAsk()
	if !okBid || !okAsk {
		return domain.PriceLevel{}, domain.PriceLevel{}, false
	}
	return bestBid, bestAsk, true
}

// Snapshot returns a copy of the cached book.
func (t *BookTracker) Snapshot() domain.OrderBook {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return domain.OrderBook{
		Symbol:     t.book.Symbol,
		Bids:       append([]domain.PriceLevel(nil), t.book.Bids...),
		Asks:       append([]domain.PriceLevel(nil), t.book.Asks...),
		ReceivedAt: t.book.ReceivedAt,
	}
}
