package event

import (
	"sync"

	"github.com/shopspring/decimal"
)

// BidPlacedEvent pooling. Bids are the high-frequency notification during a
// contested auction; pooling keeps GC pressure off the engine loop.
//
// Usage:
//
//	ev := AcquireBidPlacedEvent()
//	ev.Bidder = "alice"
//	// ... use event ...
//	ReleaseBidPlacedEvent(ev)  // Return to pool after processing
//
// Subscribers must copy what they keep; the engine releases the event after
// persistence and dispatch.
var bidPlacedPool = sync.Pool{
	New: func() interface{} {
		return &BidPlacedEvent{}
	},
}

// AcquireBidPlacedEvent gets a BidPlacedEvent from the pool.
// The returned event has zero values and must be initialized.
func AcquireBidPlacedEvent() *BidPlacedEvent {
	return bidPlacedPool.Get().(*BidPlacedEvent)
}

// ReleaseBidPlacedEvent returns a BidPlacedEvent to the pool.
// The event is reset to zero values before being pooled.
func ReleaseBidPlacedEvent(ev *BidPlacedEvent) {
	if ev == nil {
		return
	}
	ev.Seq = 0
	ev.Ts = 0
	ev.AuctionID = 0
	ev.Bidder = ""
	ev.Asset = ""
	ev.Amount = decimal.Decimal{}

	bidPlacedPool.Put(ev)
}

// RefundQueuedEvent pool
var refundQueuedPool = sync.Pool{
	New: func() interface{} {
		return &RefundQueuedEvent{}
	},
}

// AcquireRefundQueuedEvent gets a RefundQueuedEvent from the pool.
func AcquireRefundQueuedEvent() *RefundQueuedEvent {
	return refundQueuedPool.Get().(*RefundQueuedEvent)
}

// ReleaseRefundQueuedEvent returns a RefundQueuedEvent to the pool.
func ReleaseRefundQueuedEvent(ev *RefundQueuedEvent) {
	if ev == nil {
		return
	}
	ev.Seq = 0
	ev.Ts = 0
	ev.AuctionID = 0
	ev.Payer = ""
	ev.Asset = ""
	ev.Amount = decimal.Decimal{}

	refundQueuedPool.Put(ev)
}

// Warmup pre-allocates event objects to reduce GC pressure at startup.
// It acquires and releases a batch of events.
func Warmup() {
	const batchSize = 1000

	bidEvs := make([]*BidPlacedEvent, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		bidEvs = append(bidEvs, AcquireBidPlacedEvent())
	}
	for _, ev := range bidEvs {
		ReleaseBidPlacedEvent(ev)
	}

	refundEvs := make([]*RefundQueuedEvent, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		refundEvs = append(refundEvs, AcquireRefundQueuedEvent())
	}
	for _, ev := range refundEvs {
		ReleaseRefundQueuedEvent(ev)
	}
}
