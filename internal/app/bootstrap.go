// Package app wires the engine, factory, oracle and feeds together from
// configuration and owns the startup order.
package app

import (
	"context"
	"log/slog"
	"time"

	"auction_go/internal/domain"
	"auction_go/internal/engine"
	"auction_go/internal/event"
	"auction_go/internal/factory"
	"auction_go/internal/infra"
	"auction_go/internal/infra/feeds"
	"auction_go/internal/infra/storage"
	"auction_go/internal/ledger"
	"auction_go/internal/oracle"
	"auction_go/internal/service"
	"auction_go/pkg/quant"
)

// Bootstrap orchestrates the application startup sequence.
type Bootstrap struct {
	Config    *infra.Config
	Storage   *storage.Storage
	Registry  *ledger.Registry
	Payments  *ledger.PaymentBook
	Prices    *oracle.PriceTable
	Oracle    *oracle.Adapter
	Sequencer *engine.Sequencer
	Factory   *factory.Factory
	Query     *service.QueryService

	feedWorker *feeds.Worker
	feedPoller *feeds.Poller
}

// NewBootstrap creates a new Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization.
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping auction engine...")

	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	if cfg.Storage.Enabled {
		store, err := storage.NewStorage(cfg.Storage.Path)
		if err != nil {
			return err
		}
		b.Storage = store
		slog.Info("✅ Notification feed store initialized")
	}

	b.Registry = ledger.NewRegistry()
	b.Payments = ledger.NewPaymentBook()

	b.Prices = oracle.NewPriceTable()
	b.Oracle = oracle.NewAdapter(b.Prices, time.Duration(cfg.Oracle.StalenessSec)*time.Second)
	for _, f := range cfg.Oracle.Feeds {
		b.Oracle.RegisterFeed(domain.AssetRef(f.Asset), domain.FeedRef(f.Feed))
	}

	b.Query = service.NewQueryService(b.Storage)

	inboxSize := cfg.Engine.InboxSize
	if inboxSize == 0 {
		inboxSize = 1024
	}
	var store engine.EventStore
	if b.Storage != nil {
		store = b.Storage
	}
	b.Sequencer = engine.NewSequencer(inboxSize, store, b.Query.Ingest)

	f, err := factory.New(
		domain.Identity(cfg.Factory.Owner),
		domain.Identity(cfg.Factory.FeeRecipient),
		quant.BasisPoints(cfg.Factory.FeeRateBps),
		factory.Deps{
			Registry: b.Registry,
			Payments: b.Payments,
			Oracle:   b.Oracle,
			Now:      time.Now,
			Notify:   b.Sequencer.Collect,
		},
	)
	if err != nil {
		return err
	}
	b.Factory = f
	b.Sequencer.AttachFactory(f)

	b.seedBalances()
	event.Warmup()

	return nil
}

// seedBalances credits configured demo balances for local runs.
func (b *Bootstrap) seedBalances() {
	for _, s := range b.Config.Seed.Identities {
		b.Payments.Mint(domain.AssetRef(s.Asset), domain.Identity(s.Identity), s.Amount)
	}
	if n := len(b.Config.Seed.Identities); n > 0 {
		slog.Info("Seeded demo balances", slog.Int("count", n))
	}
}

// StartFeeds launches the configured price feed sources.
func (b *Bootstrap) StartFeeds(ctx context.Context) {
	cfg := b.Config

	refs := make([]domain.FeedRef, 0, len(cfg.Oracle.Feeds))
	for _, f := range cfg.Oracle.Feeds {
		refs = append(refs, domain.FeedRef(f.Feed))
	}

	if cfg.Oracle.WSURL != "" && len(refs) > 0 {
		b.feedWorker = feeds.NewWorker(cfg.Oracle.WSURL, refs, b.Prices)
		if err := b.feedWorker.Connect(ctx); err != nil {
			slog.Error("Failed to start feed worker", slog.Any("error", err))
		} else {
			slog.Info("Feed worker started", slog.Int("feeds", len(refs)))
		}
	}

	if cfg.Oracle.PollURL != "" {
		b.feedPoller = feeds.NewPollerWithConfig(cfg.Oracle.PollURL, b.Prices, cfg.Oracle.PollIntervalSec)
		if err := b.feedPoller.Start(ctx); err != nil {
			slog.Error("Failed to start feed poller", slog.Any("error", err))
		} else {
			slog.Info("Feed poller started")
		}
	}
}

// StopFeeds shuts the feed sources down.
func (b *Bootstrap) StopFeeds() {
	if b.feedWorker != nil {
		b.feedWorker.Disconnect()
	}
	if b.feedPoller != nil {
		b.feedPoller.Stop()
	}
}
