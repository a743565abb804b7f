package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"auction_go/internal/domain"
	"auction_go/internal/event"
	"auction_go/internal/factory"
	"auction_go/internal/infra"
	"auction_go/pkg/quant"
)

// EventStore persists the committed notification feed.
type EventStore interface {
	SaveEvent(ctx context.Context, ev event.Event) error
}

// outcome is the reply to a submitted command.
type outcome struct {
	value any
	err   error
}

// Command is one state-changing operation awaiting its position in the
// total order. External callers go through the typed Submit wrappers.
type Command interface {
	outcomeChan() chan outcome
}

type baseCommand struct {
	reply chan outcome
}

func (c *baseCommand) outcomeChan() chan outcome { return c.reply }

func newBase() baseCommand {
	return baseCommand{reply: make(chan outcome, 1)}
}

type createAuctionCommand struct {
	baseCommand
	seller        domain.Identity
	assetContract domain.Identity
	assetID       domain.AssetID
	duration      time.Duration
	reservePrice  decimal.Decimal
	paymentAsset  domain.AssetRef
}

type placeBidCommand struct {
	baseCommand
	auctionID uint64
	bidder    domain.Identity
	asset     domain.AssetRef
	amount    decimal.Decimal
	value     decimal.Decimal
}

type endAuctionCommand struct {
	baseCommand
	auctionID uint64
	caller    domain.Identity
}

type withdrawCommand struct {
	baseCommand
	auctionID uint64
	claimant  domain.Identity
}

type setFeeCommand struct {
	baseCommand
	caller    domain.Identity
	rate      quant.BasisPoints
	recipient domain.Identity
}

// CreatedAuction is the result of a successful create.
type CreatedAuction struct {
	AuctionID uint64
	Handle    domain.Identity
}

// Sequencer is the core single-threaded command processor. Many external
// callers race to submit; commands are applied atomically in the order
// they are accepted from the inbox, which is the system's single total
// order. No two state-changing operations are ever applied concurrently.
type Sequencer struct {
	inbox   chan Command
	factory *factory.Factory
	store   EventStore
	nextSeq uint64

	// Boundary: committed notifications are handed to this sink after
	// persistence. Pooled events are released afterwards; sinks copy what
	// they keep.
	onEvent func(event.Event)

	// Events emitted by the command currently being applied.
	pending []event.Event

	mu sync.RWMutex // Used only for external reads (queries)
}

// NewSequencer creates a new sequencer instance. store and onEvent may be
// nil. Wire the factory with AttachFactory before Run; its Notify must be
// the sequencer's Collect.
func NewSequencer(inboxSize int, store EventStore, onEvent func(event.Event)) *Sequencer {
	return &Sequencer{
		inbox:   make(chan Command, inboxSize),
		store:   store,
		nextSeq: 1,
		onEvent: onEvent,
	}
}

// AttachFactory installs the factory all commands dispatch to.
func (s *Sequencer) AttachFactory(f *factory.Factory) {
	s.factory = f
}

// Collect receives a notification emitted during the command currently
// being applied. Only the processing goroutine calls this.
func (s *Sequencer) Collect(ev event.Event) {
	s.pending = append(s.pending, ev)
}

// Run starts the main command loop. This MUST be run in a single goroutine.
func (s *Sequencer) Run(ctx context.Context) {
	slog.Info("Sequencer started (single-writer hotpath)")

	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.DumpState("panic_dump.json")
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sequencer stopping...")
			return
		case cmd := <-s.inbox:
			s.processCommand(cmd)
		}
	}
}

func (s *Sequencer) processCommand(cmd Command) {
	start := time.Now()

	value, committed, err := s.apply(cmd)

	// WAL-first relative to the reply: the submitter never sees an ack
	// whose notifications are not durable.
	for _, ev := range committed {
		if s.store != nil {
			if serr := s.store.SaveEvent(context.Background(), ev); serr != nil {
				panic(fmt.Sprintf("PERSISTENCE_FAILURE: %v", serr))
			}
		}
		if s.onEvent != nil {
			s.onEvent(ev)
		}
		release(ev)
	}

	if err != nil {
		infra.GlobalMetrics.RecordError()
	}
	infra.GlobalMetrics.RecordCommand(time.Since(start).Nanoseconds())

	cmd.outcomeChan() <- outcome{value: value, err: err}
}

// apply runs one command inside the write lock. The unlock is deferred so
// a panic in a collaborator (halt policy, invariant check) unwinds with
// the lock released and the recover path in Run can still DumpState.
func (s *Sequencer) apply(cmd Command) (value any, committed []event.Event, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, err = s.dispatch(cmd)
	committed = s.pending
	s.pending = nil
	for _, ev := range committed {
		ev.SetSeq(s.nextSeq)
		s.nextSeq++
	}
	return value, committed, err
}

func (s *Sequencer) dispatch(cmd Command) (any, error) {
	switch c := cmd.(type) {
	case *createAuctionCommand:
		inst, err := s.factory.CreateAuction(c.seller, c.assetContract, c.assetID, c.duration, c.reservePrice, c.paymentAsset)
		if err != nil {
			return nil, err
		}
		return CreatedAuction{AuctionID: inst.ID(), Handle: inst.Handle()}, nil

	case *placeBidCommand:
		inst, err := s.factory.Get(c.auctionID)
		if err != nil {
			return nil, err
		}
		return nil, inst.PlaceBid(c.bidder, c.asset, c.amount, c.value)

	case *endAuctionCommand:
		inst, err := s.factory.Get(c.auctionID)
		if err != nil {
			return nil, err
		}
		return nil, inst.EndAuction(c.caller)

	case *withdrawCommand:
		inst, err := s.factory.Get(c.auctionID)
		if err != nil {
			return nil, err
		}
		paid, err := inst.Withdraw(c.claimant)
		return paid, err

	case *setFeeCommand:
		return nil, s.factory.SetFee(c.caller, c.rate, c.recipient)

	default:
		return nil, fmt.Errorf("unknown command type %T", cmd)
	}
}

// release returns pooled event types to their pools.
func release(ev event.Event) {
	switch e := ev.(type) {
	case *event.BidPlacedEvent:
		event.ReleaseBidPlacedEvent(e)
	case *event.RefundQueuedEvent:
		event.ReleaseRefundQueuedEvent(e)
	}
}

func (s *Sequencer) submit(ctx context.Context, cmd Command) (any, error) {
	select {
	case s.inbox <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case out := <-cmd.outcomeChan():
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CreateAuction submits a create command and waits for its slot in the
// total order.
func (s *Sequencer) CreateAuction(ctx context.Context, seller, assetContract domain.Identity, assetID domain.AssetID, duration time.Duration, reservePrice decimal.Decimal, paymentAsset domain.AssetRef) (CreatedAuction, error) {
	cmd := &createAuctionCommand{
		baseCommand:   newBase(),
		seller:        seller,
		assetContract: assetContract,
		assetID:       assetID,
		duration:      duration,
		reservePrice:  reservePrice,
		paymentAsset:  paymentAsset,
	}
	value, err := s.submit(ctx, cmd)
	if err != nil {
		return CreatedAuction{}, err
	}
	return value.(CreatedAuction), nil
}

// PlaceBid submits a bid command.
func (s *Sequencer) PlaceBid(ctx context.Context, auctionID uint64, bidder domain.Identity, asset domain.AssetRef, amount, value decimal.Decimal) error {
	cmd := &placeBidCommand{
		baseCommand: newBase(),
		auctionID:   auctionID,
		bidder:      bidder,
		asset:       asset,
		amount:      amount,
		value:       value,
	}
	_, err := s.submit(ctx, cmd)
	return err
}

// EndAuction submits an end command.
func (s *Sequencer) EndAuction(ctx context.Context, auctionID uint64, caller domain.Identity) error {
	cmd := &endAuctionCommand{baseCommand: newBase(), auctionID: auctionID, caller: caller}
	_, err := s.submit(ctx, cmd)
	return err
}

// Withdraw submits a pull-withdrawal command and returns what was paid out.
func (s *Sequencer) Withdraw(ctx context.Context, auctionID uint64, claimant domain.Identity) ([]domain.EscrowRecord, error) {
	cmd := &withdrawCommand{baseCommand: newBase(), auctionID: auctionID, claimant: claimant}
	value, err := s.submit(ctx, cmd)
	paid, _ := value.([]domain.EscrowRecord)
	return paid, err
}

// SetFee submits an owner-only fee policy update.
func (s *Sequencer) SetFee(ctx context.Context, caller domain.Identity, rate quant.BasisPoints, recipient domain.Identity) error {
	cmd := &setFeeCommand{baseCommand: newBase(), caller: caller, rate: rate, recipient: recipient}
	_, err := s.submit(ctx, cmd)
	return err
}

// GetAuctionInfo returns a snapshot of one auction (external read).
func (s *Sequencer) GetAuctionInfo(auctionID uint64) (domain.AuctionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, err := s.factory.Get(auctionID)
	if err != nil {
		return domain.AuctionInfo{}, err
	}
	return inst.Info(), nil
}

// GetAuctionAddress returns the instance handle for an id (external read).
func (s *Sequencer) GetAuctionAddress(auctionID uint64) (domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.factory.GetAuctionAddress(auctionID)
}

// DumpState writes all auction snapshots to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	slog.Info("Dumping internal state...", slog.String("file", filename))

	s.mu.RLock()
	infos := make(map[uint64]domain.AuctionInfo)
	if s.factory != nil {
		for _, inst := range s.factory.Auctions() {
			infos[inst.ID()] = inst.Info()
		}
	}
	nextSeq := s.nextSeq
	s.mu.RUnlock()

	data := struct {
		NextSeq  uint64                        `json:"next_seq"`
		Auctions map[uint64]domain.AuctionInfo `json:"auctions"`
	}{
		NextSeq:  nextSeq,
		Auctions: infos,
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}
