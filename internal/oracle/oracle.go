// Package oracle adapts external price feeds into the common comparison
// unit used for cross-asset bid comparison. Settlement never goes through
// here; normalized values are for ordering only.
package oracle

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"auction_go/internal/domain"
)

// ErrFeedUnknown is returned when no observation exists for a feed.
var ErrFeedUnknown = errors.New("feed unknown")

// observation is one price point from an external feed.
type observation struct {
	price     decimal.Decimal
	updatedAt time.Time
}

// PriceTable is an in-memory PriceSource fed by gateway workers.
// External writers push observations; the adapter reads them.
type PriceTable struct {
	mu    sync.RWMutex
	feeds map[domain.FeedRef]observation
}

// NewPriceTable creates an empty price table.
func NewPriceTable() *PriceTable {
	return &PriceTable{
		feeds: make(map[domain.FeedRef]observation),
	}
}

// Set records the latest observation for a feed.
func (t *PriceTable) Set(feed domain.FeedRef, price decimal.Decimal, updatedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.feeds[feed] = observation{price: price, updatedAt: updatedAt}
}

// LatestPrice returns the most recent observation for a feed.
func (t *PriceTable) LatestPrice(feed domain.FeedRef) (decimal.Decimal, time.Time, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	obs, ok := t.feeds[feed]
	if !ok {
		return decimal.Zero, time.Time{}, fmt.Errorf("%w: %s", ErrFeedUnknown, feed)
	}
	return obs.price, obs.updatedAt, nil
}

// Adapter is the Value Oracle: it resolves a payment asset to its
// registered feed and converts amounts into the comparison unit.
// Deterministic for a given feed snapshot; rejects rather than
// approximates when a feed is missing, zero or stale.
type Adapter struct {
	mu        sync.RWMutex
	source    domain.PriceSource
	feeds     map[domain.AssetRef]domain.FeedRef
	staleness time.Duration
	now       func() time.Time
}

// NewAdapter creates an oracle adapter over the given source.
// Observations older than staleness count as unavailable.
func NewAdapter(source domain.PriceSource, staleness time.Duration) *Adapter {
	return &Adapter{
		source:    source,
		feeds:     make(map[domain.AssetRef]domain.FeedRef),
		staleness: staleness,
		now:       time.Now,
	}
}

// RegisterFeed binds a payment asset to a price feed. Supporting a new
// payment asset is a registration, not a code change.
func (a *Adapter) RegisterFeed(asset domain.AssetRef, feed domain.FeedRef) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.feeds[asset] = feed
}

// SetNowFunc overrides the clock; tests use this to pin staleness checks.
func (a *Adapter) SetNowFunc(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.now = now
}

// Normalize converts amount of asset into the comparison unit.
// Fails closed with ErrUnpricedAsset when the asset has no registered
// feed, the feed has no data, the price is zero or negative, or the
// observation is stale.
func (a *Adapter) Normalize(asset domain.AssetRef, amount decimal.Decimal) (decimal.Decimal, error) {
	a.mu.RLock()
	feed, ok := a.feeds[asset]
	now := a.now
	a.mu.RUnlock()
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no feed registered for %q", domain.ErrUnpricedAsset, asset)
	}

	price, updatedAt, err := a.source.LatestPrice(feed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", domain.ErrUnpricedAsset, feed, err)
	}
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: %s reported non-positive price", domain.ErrUnpricedAsset, feed)
	}
	if a.staleness > 0 && now().Sub(updatedAt) > a.staleness {
		slog.Warn("Stale price feed", slog.String("feed", string(feed)),
			slog.Time("updated_at", updatedAt))
		return decimal.Zero, fmt.Errorf("%w: %s is stale", domain.ErrUnpricedAsset, feed)
	}

	return amount.Mul(price), nil
}
