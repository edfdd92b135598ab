package repository_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"fanbid/internal/config"
	"fanbid/internal/errs"
	"fanbid/internal/infrastructure/database"
	"fanbid/internal/model"
	"fanbid/internal/repository"
	"fanbid/internal/repository/memory"

	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSQLiteStore(t *testing.T) repository.Store {
	t.Helper()
	db, err := database.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          filepath.Join(t.TempDir(), "store.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	return repository.NewGormStore(db)
}

func TestStore(t *testing.T) {
	backends := map[string]func(t *testing.T) repository.Store{
		"memory": func(t *testing.T) repository.Store { return memory.NewStore() },
		"sqlite": newSQLiteStore,
	}
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			runStoreSuite(t, newStore)
		})
	}
}

func runStoreSuite(t *testing.T, newStore func(t *testing.T) repository.Store) {
	t.Run("auction optimistic lock", func(t *testing.T) { testAuctionOptimisticLock(t, newStore(t)) })
	t.Run("list due in end time order", func(t *testing.T) { testListDue(t, newStore(t)) })
	t.Run("rollback on error", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("active bid lookup", func(t *testing.T) { testActiveBid(t, newStore(t)) })
	t.Run("notification dedup", func(t *testing.T) { testNotificationDedup(t, newStore(t)) })
	t.Run("transaction reference", func(t *testing.T) { testTransactionReference(t, newStore(t)) })
	t.Run("wallet rejects negative balance", func(t *testing.T) { testWalletNonNegative(t, newStore(t)) })
}

func newAuction(id int64, status string, end time.Time) *model.Auction {
	return &model.Auction{
		ID:              id,
		Title:           "auction",
		SellerID:        1,
		StartingBid:     100,
		CurrentBid:      100,
		MinIncrement:    10,
		StartTime:       base,
		EndTime:         end,
		OriginalEndTime: end,
		Status:          status,
	}
}

func atomic(t *testing.T, store repository.Store, fn func(ctx context.Context, tx repository.Tx) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Atomic(ctx, func(tx repository.Tx) error { return fn(ctx, tx) }))
}

func testAuctionOptimisticLock(t *testing.T, store repository.Store) {
	ctx := context.Background()
	atomic(t, store, func(ctx context.Context, tx repository.Tx) error {
		return tx.Auctions().Create(ctx, newAuction(1, model.AuctionStatusActive, base.Add(time.Hour)))
	})

	var first, second *model.Auction
	atomic(t, store, func(ctx context.Context, tx repository.Tx) error {
		var err error
		if first, err = tx.Auctions().Get(ctx, 1); err != nil {
			return err
		}
		second, err = tx.Auctions().Get(ctx, 1)
		return err
	})

	first.CurrentBid = 200
	atomic(t, store, func(ctx context.Context, tx repository.Tx) error {
		return tx.Auctions().Update(ctx, first)
	})
	require.Equal(t, 1, first.Version)

	second.CurrentBid = 300
	err := store.Atomic(ctx, func(tx repository.Tx) error {
		return tx.Auctions().Update(ctx, second)
	})
	require.ErrorIs(t, err, repository.ErrOptimisticLock)

	atomic(t, store, func(ctx context.Context, tx repository.Tx) error {
		got, err := tx.Auctions().Get(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, int64(200), got.CurrentBid)
		return nil
	})

	err = store.Atomic(ctx, func(tx repository.Tx) error {
		_, err := tx.Auctions().Get(ctx, 99)
		return err
	})
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func testListDue(t *testing.T, store repository.Store) {
	atomic(t, store, func(ctx context.Context, tx repository.Tx) error {
		for _, a := range []*model.Auction{
			newAuction(1, model.AuctionStatusActive, base.Add(3*time.Minute)),
			newAuction(2, model.AuctionStatusActive, base.Add(1*time.Minute)),
			newAuction(3, model.AuctionStatusActive, base.Add(2*time.Minute)),
			newAuction(4, model.AuctionStatusClosedSold, base.Add(time.Second)),
		} {
			if err := tx.Auctions().Create(ctx, a); err != nil {
				return err
			}
		}
		return nil
	})

	atomic(t, store, func(ctx context.Context, tx repository.Tx) error {
		due, err := tx.Auctions().ListDue(ctx, base.Add(150*time.Second), 10)
		require.NoError(t, err)
		require.Equal(t, []int64{2, 3}, auctionIDs(due))

		due, err = tx.Auctions().ListDue(ctx, base.Add(time.Hour), 2)
		require.NoError(t, err)
		require.Equal(t, []int64{2, 3}, auctionIDs(due))
		return nil
	})

	// 顺延后的拍卖按新的截止时间出现
	atomic(t, store, func(ctx context.Context, tx repository.Tx) error {
		a, err := tx.Auctions().Get(ctx, 2)
		if err != nil {
			return err
		}
		a.EndTime = base.Add(10 * time.Minute)
		return tx.Auctions().Update(ctx, a)
	})
	atomic(t, store, func(ctx context.Context, tx repository.Tx) error {
		due, err := tx.Auctions().ListDue(ctx, base.Add(5*time.Minute), 10)
		require.NoError(t, err)
		require.Equal(t, []int64{3, 1}, auctionIDs(due))
		return nil
	})
}

func testRollback(t *testing.T, store repository.Store) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.Atomic(ctx, func(tx repository.Tx) error {
		w, err := tx.Wallets().GetOrCreate(ctx, 5)
		if err != nil {
			return err
		}
		w.BalancePoints = 100
		if err := tx.Wallets().Update(ctx, w); err != nil {
			return err
		}
		if err := tx.Auctions().Create(ctx, newAuction(7, model.AuctionStatusActive, base)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	atomic(t, store, func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.Wallets().Get(ctx, 5)
		require.ErrorIs(t, err, repository.ErrWalletNotFound)
		_, err = tx.Auctions().Get(ctx, 7)
		require.ErrorIs(t, err, repository.ErrAuctionNotFound)
		return nil
	})
}

func testActiveBid(t *testing.T, store repository.Store) {
	atomic(t, store, func(ctx context.Context, tx repository.Tx) error {
		leader, err := tx.Bids().GetActive(ctx, 1)
		require.NoError(t, err)
		require.Nil(t, leader)

		for _, b := range []*model.Bid{
			{ID: 10, AuctionID: 1, UserID: 2, Amount: 110, Status: model.BidStatusOutbid, CreatedAt: base},
			{ID: 11, AuctionID: 1, UserID: 3, Amount: 120, HeldAmount: 120, Status: model.BidStatusActive, CreatedAt: base.Add(time.Second)},
			{ID: 12, AuctionID: 2, UserID: 3, Amount: 500, HeldAmount: 500, Status: model.BidStatusActive, CreatedAt: base},
		} {
			if err := tx.Bids().Create(ctx, b); err != nil {
				return err
			}
		}
		return nil
	})

	atomic(t, store, func(ctx context.Context, tx repository.Tx) error {
		leader, err := tx.Bids().GetActive(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, leader)
		require.Equal(t, int64(11), leader.ID)

		bids, err := tx.Bids().ListByAuction(ctx, 1)
		require.NoError(t, err)
		require.Len(t, bids, 2)

		require.NoError(t, tx.Bids().DeleteByAuction(ctx, 1))
		bids, err = tx.Bids().ListByAuction(ctx, 1)
		require.NoError(t, err)
		require.Empty(t, bids)

		other, err := tx.Bids().GetActive(ctx, 2)
		require.NoError(t, err)
		require.Equal(t, int64(12), other.ID)
		return nil
	})
}

func testNotificationDedup(t *testing.T, store repository.Store) {
	atomic(t, store, func(ctx context.Context, tx repository.Tx) error {
		created, err := tx.Notifications().CreateIfAbsent(ctx, &model.Notification{
			ID: 1, EventID: "e-1", UserID: 2, AuctionID: 9, EventType: model.EventOutbid, Payload: "{}",
		})
		require.NoError(t, err)
		require.True(t, created)

		created, err = tx.Notifications().CreateIfAbsent(ctx, &model.Notification{
			ID: 2, EventID: "e-2", UserID: 2, AuctionID: 9, EventType: model.EventOutbid, Payload: "{}",
		})
		require.NoError(t, err)
		require.False(t, created)

		created, err = tx.Notifications().CreateIfAbsent(ctx, &model.Notification{
			ID: 3, EventID: "e-3", UserID: 2, AuctionID: 9, EventType: model.EventWon, Payload: "{}",
		})
		require.NoError(t, err)
		require.True(t, created)
		return nil
	})

	atomic(t, store, func(ctx context.Context, tx repository.Tx) error {
		pending, err := tx.Notifications().ListPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		require.Equal(t, model.NotificationStatusPending, pending[0].Status)

		require.NoError(t, tx.Notifications().MarkSent(ctx, 1))
		require.NoError(t, tx.Notifications().IncrementRetryCount(ctx, 3))
		require.NoError(t, tx.Notifications().MarkAsFailed(ctx, 3))
		return nil
	})

	atomic(t, store, func(ctx context.Context, tx repository.Tx) error {
		pending, err := tx.Notifications().ListPending(ctx, 10)
		require.NoError(t, err)
		require.Empty(t, pending)

		list, err := tx.Notifications().ListByAuction(ctx, 9)
		require.NoError(t, err)
		require.Len(t, list, 2)
		for _, n := range list {
			if n.ID == 3 {
				require.Equal(t, 1, n.RetryCount)
				require.Equal(t, model.NotificationStatusFailed, n.Status)
			}
		}
		return nil
	})
}

func testTransactionReference(t *testing.T, store repository.Store) {
	atomic(t, store, func(ctx context.Context, tx repository.Tx) error {
		for i, ref := range []string{"pay-1", "pay-2", "pay-3"} {
			err := tx.Transactions().Create(ctx, &model.Transaction{
				ID:           int64(100 + i),
				UserID:       4,
				Type:         model.TransactionTypePurchase,
				Amount:       50,
				ReferenceID:  ref,
				BalanceAfter: int64(50 * (i + 1)),
				CreatedAt:    base.Add(time.Duration(i) * time.Second),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	atomic(t, store, func(ctx context.Context, tx repository.Tx) error {
		exists, err := tx.Transactions().ExistsByReference(ctx, 4, model.TransactionTypePurchase, "pay-2")
		require.NoError(t, err)
		require.True(t, exists)

		exists, err = tx.Transactions().ExistsByReference(ctx, 4, model.TransactionTypeRefund, "pay-2")
		require.NoError(t, err)
		require.False(t, exists)

		page, total, err := tx.Transactions().ListByUserID(ctx, 4, 1, 2)
		require.NoError(t, err)
		require.Equal(t, int64(3), total)
		require.Len(t, page, 2)
		require.Equal(t, "pay-3", page[0].ReferenceID)

		all, err := tx.Transactions().ListAllByUserID(ctx, 4)
		require.NoError(t, err)
		require.Len(t, all, 3)
		require.Equal(t, "pay-1", all[0].ReferenceID)
		return nil
	})
}

func auctionIDs(list []*model.Auction) []int64 {
	ids := make([]int64, 0, len(list))
	for _, a := range list {
		ids = append(ids, a.ID)
	}
	return ids
}

func testWalletNonNegative(t *testing.T, store repository.Store) {
	ctx := context.Background()
	atomic(t, store, func(ctx context.Context, tx repository.Tx) error {
		w, err := tx.Wallets().GetOrCreate(ctx, 9)
		if err != nil {
			return err
		}
		w.BalancePoints = 100
		return tx.Wallets().Update(ctx, w)
	})

	for _, mutate := range []func(w *model.Wallet){
		func(w *model.Wallet) { w.BalancePoints = -1 },
		func(w *model.Wallet) { w.HeldPoints = -1 },
	} {
		err := store.Atomic(ctx, func(tx repository.Tx) error {
			w, err := tx.Wallets().Get(ctx, 9)
			if err != nil {
				return err
			}
			mutate(w)
			return tx.Wallets().Update(ctx, w)
		})
		require.ErrorIs(t, err, repository.ErrNegativeBalance)
		require.ErrorIs(t, err, errs.ErrInsufficientFunds)
	}

	atomic(t, store, func(ctx context.Context, tx repository.Tx) error {
		w, err := tx.Wallets().Get(ctx, 9)
		require.NoError(t, err)
		require.Equal(t, int64(100), w.BalancePoints)
		require.Equal(t, int64(0), w.HeldPoints)
		return nil
	})
}
