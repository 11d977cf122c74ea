package event

import (
	"sync"
	"time"

	"market_maker_go/internal/domain"
)

// BookEvent is the pooled carrier for one decoded depth snapshot.
// Use the pool to reduce GC pressure in the hotpath: depth frames arrive
// every 100ms and the level slices are reused across frames.
//
// Usage:
//
//	ev := AcquireBookEvent()
//	// ... decode into ev.Book, hand to the handler ...
//	ReleaseBookEvent(ev)  // Return to pool after the handler returns
//
// Handlers must not retain the event or its level slices past their return.
var bookEventPool = sync.Pool{
	New: func() interface{} {
		return &BookEvent{}
	},
}

// BookEvent wraps an OrderBook whose backing slices survive pooling.
type BookEvent struct {
	Book domain.OrderBook
}

// AcquireBookEvent gets a BookEvent from the pool.
// The returned event has empty sides but may carry reusable capacity.
func AcquireBookEvent() *BookEvent {
	return bookEventPool.Get().(*BookEvent)
}

// ReleaseBookEvent returns a BookEvent to the pool.
// Sides are truncated in place so their capacity is kept for the next frame.
func ReleaseBookEvent(ev *BookEvent) {
	if ev == nil {
		return
	}
	ev.Book.Symbol = ""
	ev.Book.Bids = ev.Book.Bids[:0]
	ev.Book.Asks = ev.Book.Asks[:0]
	ev.Book.ReceivedAt = time.Time{}

	bookEventPool.Put(ev)
}

// Warmup pre-allocates book events to reduce GC pressure at startup.
// It acquires and releases a batch with level capacity for a typical stream depth.
func Warmup() {
	const batchSize = 256
	const depth = 32

	evs := make([]*BookEvent, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		ev := AcquireBookEvent()
		if cap(ev.Book.Bids) < depth {
			ev.Book.Bids = make([]domain.PriceLevel, 0, depth)
		}
		if cap(ev.Book.Asks) < depth {
			ev.Book.Asks = make([]domain.PriceLevel, 0, depth)
		}
		evs = append(evs, ev)
	}
	for _, ev := range evs {
		ReleaseBookEvent(ev)
	}
}
