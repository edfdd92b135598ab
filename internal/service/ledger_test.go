package service

import (
	"context"
	"testing"

	"fanbid/internal/errs"
	"fanbid/internal/model"
	"fanbid/internal/repository"
	"fanbid/internal/repository/memory"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func atomically(store repository.Store, fn func(tx repository.Tx) error) error {
	return store.Atomic(context.Background(), fn)
}

func TestWalletLedgerOperations(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ledger := NewWalletLedger()

	err := atomically(store, func(tx repository.Tx) error {
		_, applied, err := ledger.Credit(ctx, tx, 7, 5000, "order-1")
		require.True(t, applied)
		return err
	})
	require.NoError(t, err)

	err = atomically(store, func(tx repository.Tx) error {
		w, err := ledger.Reserve(ctx, tx, 7, 1200, "bid-1", "出价冻结")
		require.NoError(t, err)
		require.Equal(t, int64(3800), w.BalancePoints)
		require.Equal(t, int64(1200), w.HeldPoints)

		w, err = ledger.Settle(ctx, tx, 7, 1200, "bid-1", "成交")
		require.NoError(t, err)
		require.Equal(t, int64(0), w.HeldPoints)
		require.Equal(t, int64(1200), w.TotalSpent)

		w, err = ledger.Refund(ctx, tx, 7, 1200, "bid-1", "退回")
		require.NoError(t, err)
		require.Equal(t, int64(5000), w.BalancePoints)
		require.Equal(t, int64(0), w.TotalSpent)

		w, err = ledger.Adjust(ctx, tx, 7, -500, "补偿回收")
		require.NoError(t, err)
		require.Equal(t, int64(4500), w.BalancePoints)
		return nil
	})
	require.NoError(t, err)

	var transactions []*model.Transaction
	require.NoError(t, store.Read(ctx, func(tx repository.Tx) error {
		var err error
		transactions, err = tx.Transactions().ListAllByUserID(ctx, 7)
		return err
	}))
	require.Len(t, transactions, 5)

	types := make([]string, 0, len(transactions))
	for _, trans := range transactions {
		types = append(types, trans.Type)
	}
	require.ElementsMatch(t, []string{
		model.TransactionTypePurchase,
		model.TransactionTypeBidHold,
		model.TransactionTypeWinSettlement,
		model.TransactionTypeRefund,
		model.TransactionTypeAdminAdjust,
	}, types)
}

func TestWalletLedgerRejections(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ledger := NewWalletLedger()

	require.NoError(t, atomically(store, func(tx repository.Tx) error {
		_, _, err := ledger.Credit(ctx, tx, 3, 100, "order-1")
		return err
	}))

	tests := []struct {
		name    string
		op      func(tx repository.Tx) error
		wantErr error
	}{
		{"reserve over balance", func(tx repository.Tx) error {
			_, err := ledger.Reserve(ctx, tx, 3, 101, "r", "")
			return err
		}, errs.ErrInsufficientFunds},
		{"adjust below zero", func(tx repository.Tx) error {
			_, err := ledger.Adjust(ctx, tx, 3, -101, "回收")
			return err
		}, errs.ErrInsufficientFunds},
		{"zero adjust", func(tx repository.Tx) error {
			_, err := ledger.Adjust(ctx, tx, 3, 0, "noop")
			return err
		}, errs.ErrValidation},
		{"negative reserve", func(tx repository.Tx) error {
			_, err := ledger.Reserve(ctx, tx, 3, -1, "r", "")
			return err
		}, errs.ErrValidation},
		{"credit without reference", func(tx repository.Tx) error {
			_, _, err := ledger.Credit(ctx, tx, 3, 10, "")
			return err
		}, errs.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, atomically(store, tt.op), tt.wantErr)
		})
	}

	// 失败的操作不留下任何痕迹
	require.NoError(t, store.Read(ctx, func(tx repository.Tx) error {
		w, err := tx.Wallets().Get(ctx, 3)
		require.NoError(t, err)
		require.Equal(t, int64(100), w.BalancePoints)
		list, err := tx.Transactions().ListAllByUserID(ctx, 3)
		require.NoError(t, err)
		require.Len(t, list, 1)
		return nil
	}))
}

func TestWalletLedgerCreditIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ledger := NewWalletLedger()

	for i := 0; i < 3; i++ {
		require.NoError(t, atomically(store, func(tx repository.Tx) error {
			w, applied, err := ledger.Credit(ctx, tx, 9, 700, "pay-20260301-0001")
			require.NoError(t, err)
			require.Equal(t, i == 0, applied)
			require.Equal(t, int64(700), w.BalancePoints)
			return nil
		}))
	}
}

// 任意操作序列之后，流水推导出的余额与钱包一致
func TestSummarizeLedgerMatchesWallet(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		store := memory.NewStore()
		ledger := NewWalletLedger()
		const userID = 42

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			op := rapid.IntRange(0, 5).Draw(t, "op")
			amount := rapid.Int64Range(1, 2000).Draw(t, "amount")
			_ = store.Atomic(ctx, func(tx repository.Tx) error {
				var err error
				switch op {
				case 0:
					_, _, err = ledger.Credit(ctx, tx, userID, amount, "ref-"+rapid.StringMatching(`[a-z]{6}`).Draw(t, "ref"))
				case 1:
					_, err = ledger.Reserve(ctx, tx, userID, amount, "bid", "")
				case 2:
					_, err = ledger.Release(ctx, tx, userID, amount, "bid", "")
				case 3:
					_, err = ledger.Settle(ctx, tx, userID, amount, "bid", "")
				case 4:
					_, err = ledger.Refund(ctx, tx, userID, amount, "bid", "")
				case 5:
					delta := amount
					if rapid.Bool().Draw(t, "negative") {
						delta = -amount
					}
					_, err = ledger.Adjust(ctx, tx, userID, delta, "adjust")
				}
				return err
			})
		}

		_ = store.Read(ctx, func(tx repository.Tx) error {
			w, err := tx.Wallets().GetOrCreate(ctx, userID)
			if err != nil {
				t.Fatal(err)
			}
			list, err := tx.Transactions().ListAllByUserID(ctx, userID)
			if err != nil {
				t.Fatal(err)
			}
			s := SummarizeLedger(list)
			if !s.Matches(w) {
				t.Fatalf("流水与钱包不一致: ledger=%+v wallet=%+v", s, w)
			}
			if s.Balance+s.Held+s.Spent != s.Credits {
				t.Fatalf("积分守恒被破坏: %+v", s)
			}
			if w.BalancePoints < 0 || w.HeldPoints < 0 {
				t.Fatalf("出现负数: %+v", w)
			}
			return nil
		})
	})
}
