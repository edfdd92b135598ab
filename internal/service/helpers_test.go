package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"fanbid/internal/config"
	"fanbid/internal/infrastructure/lock"
	"fanbid/internal/model"
	"fanbid/internal/repository"
	"fanbid/internal/repository/memory"
	"fanbid/pkg/idgen"

	"github.com/stretchr/testify/require"
)

const sellerID int64 = 1

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	ctx      context.Context
	cfg      *config.Config
	clock    *fakeClock
	store    repository.Store
	auctions *AuctionService
	wallets  *WalletService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, memory.NewStore())
}

func newTestEnvWithStore(t *testing.T, store repository.Store) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Auction.SnipeWindow = 2 * time.Minute
	cfg.Auction.MaxExtension = 0
	cfg.Auction.MaxBidRetries = 5

	clock := newFakeClock()
	locker := lock.NewLocalLocker()

	return &testEnv{
		ctx:      context.Background(),
		cfg:      cfg,
		clock:    clock,
		store:    store,
		auctions: NewAuctionService(store, locker, locker, cfg, WithClock(clock.Now)),
		wallets:  NewWalletService(store, locker, cfg.Auction.MaxBidRetries, WithClock(clock.Now)),
	}
}

// fund 以购买积分的方式给用户入账
func (e *testEnv) fund(t *testing.T, userID, amount int64) {
	t.Helper()
	_, applied, err := e.wallets.CreditPurchase(e.ctx, userID, amount, "seed-"+idgen.NextString())
	require.NoError(t, err)
	require.True(t, applied)
}

func (e *testEnv) createAuction(t *testing.T, mutate func(req *CreateAuctionRequest)) *model.Auction {
	t.Helper()
	req := &CreateAuctionRequest{
		SellerID:     sellerID,
		Title:        "限定签名球衣",
		Category:     "memorabilia",
		Rarity:       "legendary",
		StartingBid:  1000,
		MinIncrement: 100,
		Duration:     10 * time.Minute,
	}
	if mutate != nil {
		mutate(req)
	}
	auction, err := e.auctions.CreateAuction(e.ctx, req)
	require.NoError(t, err)
	return auction
}

func (e *testEnv) bid(userID, auctionID, amount int64, autoBidMax *int64) (*BidResult, error) {
	return e.auctions.PlaceBid(e.ctx, &PlaceBidRequest{
		AuctionID:  auctionID,
		UserID:     userID,
		Amount:     amount,
		AutoBidMax: autoBidMax,
	})
}

func (e *testEnv) wallet(t *testing.T, userID int64) *model.Wallet {
	t.Helper()
	w, err := e.wallets.GetWallet(e.ctx, userID)
	require.NoError(t, err)
	return w
}

func (e *testEnv) auction(t *testing.T, id int64) *model.Auction {
	t.Helper()
	a, err := e.auctions.GetAuction(e.ctx, id)
	require.NoError(t, err)
	return a
}

func (e *testEnv) bidsOf(t *testing.T, auctionID int64) []*model.Bid {
	t.Helper()
	var bids []*model.Bid
	err := e.store.Read(e.ctx, func(tx repository.Tx) error {
		var err error
		bids, err = tx.Bids().ListByAuction(e.ctx, auctionID)
		return err
	})
	require.NoError(t, err)
	return bids
}

func (e *testEnv) notificationsOf(t *testing.T, auctionID int64) []*model.Notification {
	t.Helper()
	var list []*model.Notification
	err := e.store.Read(e.ctx, func(tx repository.Tx) error {
		var err error
		list, err = tx.Notifications().ListByAuction(e.ctx, auctionID)
		return err
	})
	require.NoError(t, err)
	return list
}

// requireConsistent 钱包与流水一致，且没有积分凭空产生或消失
func (e *testEnv) requireConsistent(t *testing.T, userID, funded int64) {
	t.Helper()
	report, err := e.wallets.Reconcile(e.ctx, userID, false)
	require.NoError(t, err)
	require.True(t, report.Consistent, "mismatches: %v", report.Mismatches)
	w := report.Wallet
	require.GreaterOrEqual(t, w.BalancePoints, int64(0))
	require.Equal(t, funded, w.BalancePoints+w.HeldPoints+w.TotalSpent)
}

func countEvents(list []*model.Notification, userID int64, eventType string) int {
	n := 0
	for _, item := range list {
		if item.UserID == userID && item.EventType == eventType {
			n++
		}
	}
	return n
}

func ptr(v int64) *int64 {
	return &v
}
