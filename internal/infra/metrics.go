package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	auctionsCreated atomic.Uint64
	auctionsSettled atomic.Uint64
	bidsAccepted    atomic.Uint64
	bidsRejected    atomic.Uint64
	refundsQueued   atomic.Uint64
	errorsTotal     atomic.Uint64

	// Latency tracking (engine command apply)
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeFeeds atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordCommand records one applied engine command with latency.
func (m *Metrics) RecordCommand(latencyNs int64) {
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// RecordAuctionCreated records a successful create.
func (m *Metrics) RecordAuctionCreated() {
	m.auctionsCreated.Add(1)
}

// RecordAuctionSettled records a settled (ended) auction.
func (m *Metrics) RecordAuctionSettled() {
	m.auctionsSettled.Add(1)
}

// RecordBidAccepted records an accepted bid.
func (m *Metrics) RecordBidAccepted() {
	m.bidsAccepted.Add(1)
}

// RecordBidRejected records a rejected bid.
func (m *Metrics) RecordBidRejected() {
	m.bidsRejected.Add(1)
}

// RecordRefundQueued records a refund deferred to the withdrawal path.
func (m *Metrics) RecordRefundQueued() {
	m.refundsQueued.Add(1)
}

// IncrementFeeds increments connected price feeds by 1.
func (m *Metrics) IncrementFeeds() {
	m.activeFeeds.Add(1)
}

// DecrementFeeds decrements connected price feeds by 1.
func (m *Metrics) DecrementFeeds() {
	m.activeFeeds.Add(-1)
}

// Snapshot is a point-in-time copy of all metrics for reporting.
type Snapshot struct {
	AuctionsCreated uint64
	AuctionsSettled uint64
	BidsAccepted    uint64
	BidsRejected    uint64
	RefundsQueued   uint64
	ErrorsTotal     uint64
	AvgLatency      time.Duration
	ActiveFeeds     int32
}

// GetSnapshot returns a consistent-enough copy for display purposes.
func (m *Metrics) GetSnapshot() Snapshot {
	s := Snapshot{
		AuctionsCreated: m.auctionsCreated.Load(),
		AuctionsSettled: m.auctionsSettled.Load(),
		BidsAccepted:    m.bidsAccepted.Load(),
		BidsRejected:    m.bidsRejected.Load(),
		RefundsQueued:   m.refundsQueued.Load(),
		ErrorsTotal:     m.errorsTotal.Load(),
		ActiveFeeds:     m.activeFeeds.Load(),
	}
	if count := m.latencyCount.Load(); count > 0 {
		s.AvgLatency = time.Duration(m.latencySumNs.Load() / int64(count))
	}
	return s
}

// Reset zeroes all metrics. Test helper.
func (m *Metrics) Reset() {
	m.auctionsCreated.Store(0)
	m.auctionsSettled.Store(0)
	m.bidsAccepted.Store(0)
	m.bidsRejected.Store(0)
	m.refundsQueued.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeFeeds.Store(0)
}
