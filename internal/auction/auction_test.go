package auction

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"auction_go/internal/domain"
	"auction_go/internal/event"
	"auction_go/internal/ledger"
	"auction_go/internal/oracle"
)

const (
	nftContract = domain.Identity("nft:test")
	seller      = domain.Identity("seller")
	admin       = domain.Identity("admin")
	treasury    = domain.Identity("treasury")
	handle      = domain.Identity("auction:test")

	native = domain.AssetRef("")
	usdx   = domain.AssetRef("token:usdx")
)

// blockingPayments wraps a PaymentBook and fails any transfer whose payee
// is in the blocked set, simulating an unreachable recipient.
type blockingPayments struct {
	*ledger.PaymentBook
	blocked map[domain.Identity]bool
}

func (b *blockingPayments) Transfer(asset domain.AssetRef, from, to domain.Identity, amount decimal.Decimal) error {
	if b.blocked[to] {
		return fmt.Errorf("payee %s unreachable", to)
	}
	return b.PaymentBook.Transfer(asset, from, to, amount)
}

type fixture struct {
	reg     *ledger.Registry
	pay     *blockingPayments
	table   *oracle.PriceTable
	adapter *oracle.Adapter
	now     time.Time
	events  []event.Event
	auction *Auction
}

func newFixture(t *testing.T, cfg domain.AuctionConfig) *fixture {
	t.Helper()

	fx := &fixture{
		reg:   ledger.NewRegistry(),
		pay:   &blockingPayments{PaymentBook: ledger.NewPaymentBook(), blocked: map[domain.Identity]bool{}},
		table: oracle.NewPriceTable(),
		now:   time.Unix(1_700_000_000, 0),
	}
	fx.adapter = oracle.NewAdapter(fx.table, time.Hour)
	fx.adapter.SetNowFunc(func() time.Time { return fx.now })

	if cfg.Seller == domain.ZeroIdentity {
		cfg.Seller = seller
	}
	if cfg.AssetContract == domain.ZeroIdentity {
		cfg.AssetContract = nftContract
	}
	if cfg.StartTime.IsZero() {
		cfg.StartTime = fx.now
	}
	if cfg.Duration == 0 {
		cfg.Duration = time.Hour
	}
	if cfg.FeeRecipient == domain.ZeroIdentity {
		cfg.FeeRecipient = treasury
	}

	// The factory would have pulled custody; mint directly into the handle.
	fx.reg.Mint(cfg.AssetContract, cfg.AssetID, handle)

	fx.auction = New(1, handle, admin, cfg, Deps{
		Registry: fx.reg,
		Payments: fx.pay,
		Oracle:   fx.adapter,
		Now:      func() time.Time { return fx.now },
		Notify:   func(ev event.Event) { fx.events = append(fx.events, ev) },
	})
	return fx
}

func (fx *fixture) fund(who domain.Identity, asset domain.AssetRef, amount int64) {
	fx.pay.Mint(asset, who, decimal.NewFromInt(amount))
}

// bid places a same-convention bid: native bids attach the amount, token
// bids pre-approve the instance.
func (fx *fixture) bid(who domain.Identity, asset domain.AssetRef, amount int64) error {
	d := decimal.NewFromInt(amount)
	if asset.IsNative() {
		return fx.auction.PlaceBid(who, asset, d, d)
	}
	fx.pay.Approve(asset, who, handle, d)
	return fx.auction.PlaceBid(who, asset, d, decimal.Zero)
}

func (fx *fixture) price(asset domain.AssetRef, feed domain.FeedRef, price string) {
	fx.adapter.RegisterFeed(asset, feed)
	fx.table.Set(feed, decimal.RequireFromString(price), fx.now)
}

func TestPlaceBidStrictImprovement(t *testing.T) {
	fx := newFixture(t, domain.AuctionConfig{ReservePrice: decimal.NewFromInt(100)})
	fx.fund("alice", native, 1_000)
	fx.fund("bob", native, 1_000)

	t.Run("at reserve rejected", func(t *testing.T) {
		if err := fx.bid("alice", native, 100); !errors.Is(err, domain.ErrInsufficientBid) {
			t.Fatalf("err = %v, want ErrInsufficientBid", err)
		}
	})
	t.Run("above reserve accepted", func(t *testing.T) {
		if err := fx.bid("alice", native, 101); err != nil {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("equal to highest rejected", func(t *testing.T) {
		if err := fx.bid("bob", native, 101); !errors.Is(err, domain.ErrInsufficientBid) {
			t.Fatalf("err = %v, want ErrInsufficientBid", err)
		}
	})
	t.Run("self outbid allowed", func(t *testing.T) {
		if err := fx.bid("alice", native, 150); err != nil {
			t.Fatalf("err = %v", err)
		}
		info := fx.auction.Info()
		if info.HighestBidder != "alice" || !info.HighestBid.Equal(decimal.NewFromInt(150)) {
			t.Errorf("highest = %s/%s", info.HighestBidder, info.HighestBid)
		}
	})
	t.Run("fractional rejected", func(t *testing.T) {
		err := fx.auction.PlaceBid("bob", native, decimal.RequireFromString("200.5"), decimal.RequireFromString("200.5"))
		if !errors.Is(err, domain.ErrInsufficientBid) {
			t.Fatalf("err = %v, want ErrInsufficientBid", err)
		}
	})
}

func TestPlaceBidLifecycle(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		fx := newFixture(t, domain.AuctionConfig{})
		fx.auction.cfg.StartTime = fx.now.Add(time.Minute)
		fx.fund("alice", native, 100)
		e := fx.bid("alice", native, 10)
		if !errors.Is(e, domain.ErrAuctionNotStarted) {
			t.Fatalf("err = %v, want ErrAuctionNotStarted", e)
		}
		if !errors.Is(e, domain.ErrInvalidState) {
			t.Fatal("lifecycle errors must match ErrInvalidState")
		}
	})
	t.Run("after window", func(t *testing.T) {
		fx := newFixture(t, domain.AuctionConfig{Duration: time.Minute})
		fx.fund("alice", native, 100)
		fx.now = fx.now.Add(2 * time.Minute)
		if err := fx.bid("alice", native, 10); !errors.Is(err, domain.ErrAuctionExpired) {
			t.Fatalf("err = %v, want ErrAuctionExpired", err)
		}
	})
	t.Run("after end", func(t *testing.T) {
		fx := newFixture(t, domain.AuctionConfig{})
		fx.fund("alice", native, 100)
		if e := fx.auction.EndAuction(seller); e != nil {
			t.Fatalf("EndAuction: %v", e)
		}
		if e := fx.bid("alice", native, 10); !errors.Is(e, domain.ErrAlreadyEnded) {
			t.Fatalf("err = %v, want ErrAlreadyEnded", e)
		}
	})
}

func TestPlaceBidDepositRules(t *testing.T) {
	t.Run("native value mismatch", func(t *testing.T) {
		fx := newFixture(t, domain.AuctionConfig{})
		fx.fund("alice", native, 100)
		e := fx.auction.PlaceBid("alice", native, decimal.NewFromInt(50), decimal.NewFromInt(49))
		if !errors.Is(e, domain.ErrTransferFailed) {
			t.Fatalf("err = %v, want ErrTransferFailed", e)
		}
		if fx.auction.Info().HighestBidder != domain.ZeroIdentity {
			t.Error("failed deposit must not change state")
		}
	})
	t.Run("token with attached value", func(t *testing.T) {
		fx := newFixture(t, domain.AuctionConfig{PaymentAsset: usdx})
		fx.fund("alice", usdx, 100)
		fx.pay.Approve(usdx, "alice", handle, decimal.NewFromInt(50))
		e := fx.auction.PlaceBid("alice", usdx, decimal.NewFromInt(50), decimal.NewFromInt(1))
		if !errors.Is(e, domain.ErrTransferFailed) {
			t.Fatalf("err = %v, want ErrTransferFailed", e)
		}
	})
	t.Run("token allowance too low", func(t *testing.T) {
		fx := newFixture(t, domain.AuctionConfig{PaymentAsset: usdx})
		fx.fund("alice", usdx, 100)
		fx.pay.Approve(usdx, "alice", handle, decimal.NewFromInt(10))
		e := fx.auction.PlaceBid("alice", usdx, decimal.NewFromInt(50), decimal.Zero)
		if !errors.Is(e, domain.ErrTransferFailed) {
			t.Fatalf("err = %v, want ErrTransferFailed", e)
		}
	})
	t.Run("insufficient balance", func(t *testing.T) {
		fx := newFixture(t, domain.AuctionConfig{})
		fx.fund("alice", native, 10)
		if e := fx.bid("alice", native, 50); !errors.Is(e, domain.ErrTransferFailed) {
			t.Fatalf("err = %v, want ErrTransferFailed", e)
		}
	})
}

func TestOutbidRefundsPrevious(t *testing.T) {
	fx := newFixture(t, domain.AuctionConfig{})
	fx.fund("alice", native, 100)
	fx.fund("bob", native, 200)

	if e := fx.bid("alice", native, 100); e != nil {
		t.Fatal(e)
	}
	if e := fx.bid("bob", native, 150); e != nil {
		t.Fatal(e)
	}

	if got := fx.pay.BalanceOf(native, "alice"); !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("alice refunded balance = %s, want 100", got)
	}
	held, ok := fx.auction.EscrowHeld()
	if !ok || held.Payer != "bob" || !held.Amount.Equal(decimal.NewFromInt(150)) {
		t.Errorf("escrow = %+v, want bob/150", held)
	}
	if got := fx.pay.BalanceOf(native, handle); !got.Equal(decimal.NewFromInt(150)) {
		t.Errorf("instance balance = %s, want exactly the escrow", got)
	}
}

func TestCrossAssetBidding(t *testing.T) {
	fx := newFixture(t, domain.AuctionConfig{ReservePrice: decimal.NewFromInt(100)})
	fx.price(native, "feed:eth-usd", "2000")
	fx.price(usdx, "feed:usdx-usd", "1")
	fx.fund("alice", native, 1_000)
	fx.fund("bob", usdx, 1_000_000)

	if e := fx.bid("alice", native, 101); e != nil {
		t.Fatal(e)
	}

	// 101 native * 2000 = 202000 reference units; an equal-value token bid
	// is not an improvement.
	if e := fx.bid("bob", usdx, 202_000); !errors.Is(e, domain.ErrInsufficientBid) {
		t.Fatalf("equal-value cross bid err = %v, want ErrInsufficientBid", e)
	}
	if e := fx.bid("bob", usdx, 202_001); e != nil {
		t.Fatalf("improving cross bid: %v", e)
	}

	if got := fx.pay.BalanceOf(native, "alice"); !got.Equal(decimal.NewFromInt(1_000)) {
		t.Errorf("alice balance = %s, want full refund in her own asset", got)
	}
	info := fx.auction.Info()
	if info.HighestBidder != "bob" {
		t.Errorf("highest bidder = %s, want bob", info.HighestBidder)
	}
}

func TestCrossAssetFailClosed(t *testing.T) {
	t.Run("no feed", func(t *testing.T) {
		fx := newFixture(t, domain.AuctionConfig{ReservePrice: decimal.NewFromInt(100)})
		fx.fund("bob", usdx, 1_000_000)
		if e := fx.bid("bob", usdx, 500_000); !errors.Is(e, domain.ErrUnpricedAsset) {
			t.Fatalf("err = %v, want ErrUnpricedAsset", e)
		}
	})
	t.Run("stale feed", func(t *testing.T) {
		fx := newFixture(t, domain.AuctionConfig{ReservePrice: decimal.NewFromInt(100)})
		fx.price(native, "feed:eth-usd", "2000")
		fx.adapter.RegisterFeed(usdx, "feed:usdx-usd")
		fx.table.Set("feed:usdx-usd", decimal.NewFromInt(1), fx.now.Add(-2*time.Hour))
		fx.fund("bob", usdx, 1_000_000)
		if e := fx.bid("bob", usdx, 500_000); !errors.Is(e, domain.ErrUnpricedAsset) {
			t.Fatalf("err = %v, want ErrUnpricedAsset", e)
		}
	})
}

func TestRefundFailureNeverBlocksBid(t *testing.T) {
	fx := newFixture(t, domain.AuctionConfig{})
	fx.fund("alice", native, 100)
	fx.fund("bob", native, 200)

	if e := fx.bid("alice", native, 100); e != nil {
		t.Fatal(e)
	}
	fx.pay.blocked["alice"] = true

	// Bob's bid must land even though alice's refund cannot be delivered.
	if e := fx.bid("bob", native, 150); e != nil {
		t.Fatalf("outbid with blocked refund: %v", e)
	}
	if fx.auction.Info().HighestBidder != "bob" {
		t.Fatal("new leading bid did not land")
	}

	claims := fx.auction.Claimable("alice")
	if len(claims) != 1 || !claims[0].Amount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("claimable = %+v, want one claim of 100", claims)
	}

	t.Run("withdraw while still blocked", func(t *testing.T) {
		paid, e := fx.auction.Withdraw("alice")
		if e == nil || !domain.IsRecoverable(e) {
			t.Fatalf("err = %v, want recoverable", e)
		}
		if len(paid) != 0 {
			t.Fatalf("paid = %+v, want nothing", paid)
		}
		// The claim must survive the failed attempt.
		if got := fx.auction.Claimable("alice"); len(got) != 1 {
			t.Fatalf("claimable after failed withdraw = %+v", got)
		}
	})

	t.Run("withdraw after unblock", func(t *testing.T) {
		delete(fx.pay.blocked, "alice")
		paid, e := fx.auction.Withdraw("alice")
		if e != nil {
			t.Fatal(e)
		}
		if len(paid) != 1 || !paid[0].Amount.Equal(decimal.NewFromInt(100)) {
			t.Fatalf("paid = %+v", paid)
		}
		if got := fx.pay.BalanceOf(native, "alice"); !got.Equal(decimal.NewFromInt(100)) {
			t.Errorf("alice balance = %s, want 100", got)
		}
	})

	t.Run("second withdraw is a no-op", func(t *testing.T) {
		paid, e := fx.auction.Withdraw("alice")
		if e != nil || paid != nil {
			t.Fatalf("repeat withdraw = (%v, %v), want empty", paid, e)
		}
	})
}

func TestEndAuctionNoBids(t *testing.T) {
	fx := newFixture(t, domain.AuctionConfig{AssetID: 7})

	if e := fx.auction.EndAuction(seller); e != nil {
		t.Fatal(e)
	}
	owner, e := fx.reg.OwnerOf(nftContract, 7)
	if e != nil {
		t.Fatal(e)
	}
	if owner != seller {
		t.Errorf("owner = %s, want the asset back with the seller", owner)
	}
	if fx.auction.Info().Status != domain.StatusEnded {
		t.Error("status must be ENDED")
	}
}

func TestEndAuctionSettlementSplit(t *testing.T) {
	fx := newFixture(t, domain.AuctionConfig{
		AssetID:    3,
		FeeRateBps: 250,
	})
	fx.fund("winner", native, 10_001)
	if e := fx.bid("winner", native, 10_001); e != nil {
		t.Fatal(e)
	}

	fx.now = fx.now.Add(2 * time.Hour)
	if e := fx.auction.EndAuction("anyone"); e != nil {
		t.Fatal(e)
	}

	// floor(10001 * 250 / 10000) = 250, remainder 9751 including the dust.
	if got := fx.pay.BalanceOf(native, treasury); !got.Equal(decimal.NewFromInt(250)) {
		t.Errorf("fee = %s, want 250", got)
	}
	if got := fx.pay.BalanceOf(native, seller); !got.Equal(decimal.NewFromInt(9_751)) {
		t.Errorf("proceeds = %s, want 9751", got)
	}
	if got := fx.pay.BalanceOf(native, handle); got.Sign() != 0 {
		t.Errorf("instance retained %s, want zero", got)
	}
	owner, _ := fx.reg.OwnerOf(nftContract, 3)
	if owner != "winner" {
		t.Errorf("owner = %s, want winner", owner)
	}
}

func TestEndAuctionAllOrNothing(t *testing.T) {
	fx := newFixture(t, domain.AuctionConfig{AssetID: 9, FeeRateBps: 200})
	fx.fund("winner", native, 1_000)
	if e := fx.bid("winner", native, 1_000); e != nil {
		t.Fatal(e)
	}
	fx.now = fx.now.Add(2 * time.Hour)

	fx.pay.blocked[treasury] = true
	if e := fx.auction.EndAuction("anyone"); !errors.Is(e, domain.ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", e)
	}

	// Fee payout failed after the custody move; everything must be back.
	owner, _ := fx.reg.OwnerOf(nftContract, 9)
	if owner != handle {
		t.Errorf("owner = %s, custody must revert to the instance", owner)
	}
	if fx.auction.Info().Status == domain.StatusEnded {
		t.Error("failed settlement must leave the auction live")
	}

	delete(fx.pay.blocked, treasury)
	if e := fx.auction.EndAuction("anyone"); e != nil {
		t.Fatalf("retry after recovery: %v", e)
	}
}

func TestEndAuctionAuthorization(t *testing.T) {
	t.Run("stranger early", func(t *testing.T) {
		fx := newFixture(t, domain.AuctionConfig{})
		if e := fx.auction.EndAuction("stranger"); !errors.Is(e, domain.ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", e)
		}
	})
	t.Run("admin early", func(t *testing.T) {
		fx := newFixture(t, domain.AuctionConfig{})
		if e := fx.auction.EndAuction(admin); e != nil {
			t.Fatal(e)
		}
	})
	t.Run("stranger after expiry", func(t *testing.T) {
		fx := newFixture(t, domain.AuctionConfig{Duration: time.Minute})
		fx.now = fx.now.Add(2 * time.Minute)
		if e := fx.auction.EndAuction("stranger"); e != nil {
			t.Fatal(e)
		}
	})
	t.Run("double end", func(t *testing.T) {
		fx := newFixture(t, domain.AuctionConfig{})
		if e := fx.auction.EndAuction(seller); e != nil {
			t.Fatal(e)
		}
		e := fx.auction.EndAuction(seller)
		if !errors.Is(e, domain.ErrAlreadyEnded) || !errors.Is(e, domain.ErrInvalidState) {
			t.Fatalf("err = %v, want ErrAlreadyEnded under ErrInvalidState", e)
		}
	})
}

// TestAuctionFullLifecycle walks the canonical listing: a reserve of
// 1,000,000, a native opening bid one unit above it, a rejected equal
// rebid, a cross-asset outbid, and a stranger-triggered settlement.
func TestAuctionFullLifecycle(t *testing.T) {
	fx := newFixture(t, domain.AuctionConfig{
		AssetID:      42,
		ReservePrice: decimal.NewFromInt(1_000_000),
		Duration:     2 * time.Second,
		FeeRateBps:   200,
	})
	fx.price(native, "feed:eth-usd", "2")
	fx.price(usdx, "feed:usdx-usd", "1")
	fx.fund("alice", native, 2_000_000)
	fx.fund("bob", usdx, 10_000_000)

	if e := fx.bid("alice", native, 1_000_001); e != nil {
		t.Fatalf("opening bid: %v", e)
	}
	if e := fx.bid("alice", native, 1_000_001); !errors.Is(e, domain.ErrInsufficientBid) {
		t.Fatalf("equal rebid err = %v, want ErrInsufficientBid", e)
	}

	// 1,000,001 native at 2 = 2,000,002 reference units.
	if e := fx.bid("bob", usdx, 2_000_003); e != nil {
		t.Fatalf("cross-asset outbid: %v", e)
	}
	if got := fx.pay.BalanceOf(native, "alice"); !got.Equal(decimal.NewFromInt(2_000_000)) {
		t.Errorf("alice balance = %s, want her full native refund", got)
	}

	fx.now = fx.now.Add(3 * time.Second)
	if e := fx.auction.EndAuction("stranger"); e != nil {
		t.Fatalf("settlement: %v", e)
	}

	owner, _ := fx.reg.OwnerOf(nftContract, 42)
	if owner != "bob" {
		t.Errorf("owner = %s, want bob", owner)
	}
	// floor(2000003 * 200 / 10000) = 40000, proceeds 1960003.
	if got := fx.pay.BalanceOf(usdx, treasury); !got.Equal(decimal.NewFromInt(40_000)) {
		t.Errorf("fee = %s, want 40000", got)
	}
	if got := fx.pay.BalanceOf(usdx, seller); !got.Equal(decimal.NewFromInt(1_960_003)) {
		t.Errorf("proceeds = %s, want 1960003", got)
	}
	if got := fx.pay.BalanceOf(usdx, handle); got.Sign() != 0 {
		t.Errorf("instance retained %s", got)
	}
}
