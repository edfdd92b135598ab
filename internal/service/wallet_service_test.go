package service

import (
	"testing"

	"fanbid/internal/errs"
	"fanbid/internal/repository"

	"github.com/stretchr/testify/require"
)

func TestWalletServiceCreditPurchase(t *testing.T) {
	env := newTestEnv(t)

	w, applied, err := env.wallets.CreditPurchase(env.ctx, 5, 800, "pay-0001")
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, int64(800), w.BalancePoints)
	require.Equal(t, int64(800), w.TotalEarned)

	w, applied, err = env.wallets.CreditPurchase(env.ctx, 5, 800, "pay-0001")
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, int64(800), w.BalancePoints)

	_, _, err = env.wallets.CreditPurchase(env.ctx, 5, 0, "pay-0002")
	require.ErrorIs(t, err, errs.ErrValidation)
	_, _, err = env.wallets.CreditPurchase(env.ctx, 0, 100, "pay-0003")
	require.ErrorIs(t, err, errs.ErrValidation)

	list, total, err := env.wallets.ListTransactions(env.ctx, 5, 1, 20)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, list, 1)
	require.Equal(t, "pay-0001", list[0].ReferenceID)
}

func TestWalletServiceAdjustBalance(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, 5, 1000)

	w, err := env.wallets.AdjustBalance(env.ctx, 5, 250, "活动补偿")
	require.NoError(t, err)
	require.Equal(t, int64(1250), w.BalancePoints)

	w, err = env.wallets.AdjustBalance(env.ctx, 5, -1250, "违规回收")
	require.NoError(t, err)
	require.Equal(t, int64(0), w.BalancePoints)

	_, err = env.wallets.AdjustBalance(env.ctx, 5, -1, "违规回收")
	require.ErrorIs(t, err, errs.ErrInsufficientFunds)

	_, err = env.wallets.AdjustBalance(env.ctx, 5, 100, "  ")
	require.ErrorIs(t, err, errs.ErrValidation)

	report, err := env.wallets.Reconcile(env.ctx, 5, false)
	require.NoError(t, err)
	require.True(t, report.Consistent)
}

func TestWalletServiceGetWalletCreatesEmpty(t *testing.T) {
	env := newTestEnv(t)

	w, err := env.wallets.GetWallet(env.ctx, 77)
	require.NoError(t, err)
	require.Equal(t, int64(77), w.UserID)
	require.Zero(t, w.BalancePoints)

	_, err = env.wallets.GetWallet(env.ctx, -1)
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestWalletServiceReconcileRepairs(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, 2, 5000)
	auction := env.createAuction(t, nil)
	_, err := env.bid(2, auction.ID, 1500, nil)
	require.NoError(t, err)

	report, err := env.wallets.Reconcile(env.ctx, 2, false)
	require.NoError(t, err)
	require.True(t, report.Consistent)
	require.Empty(t, report.Mismatches)
	require.Equal(t, int64(1500), report.Ledger.Held)

	// 绕过账本直接篡改钱包
	require.NoError(t, env.store.Atomic(env.ctx, func(tx repository.Tx) error {
		w, err := tx.Wallets().Get(env.ctx, 2)
		if err != nil {
			return err
		}
		w.BalancePoints += 999
		w.HeldPoints = 0
		return tx.Wallets().Update(env.ctx, w)
	}))

	report, err = env.wallets.Reconcile(env.ctx, 2, false)
	require.NoError(t, err)
	require.False(t, report.Consistent)
	require.False(t, report.Repaired)
	require.Len(t, report.Mismatches, 2)

	report, err = env.wallets.Reconcile(env.ctx, 2, true)
	require.NoError(t, err)
	require.True(t, report.Repaired)
	require.Equal(t, int64(3500), report.Wallet.BalancePoints)
	require.Equal(t, int64(1500), report.Wallet.HeldPoints)

	env.requireConsistent(t, 2, 5000)
}
