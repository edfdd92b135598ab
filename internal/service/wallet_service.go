package service

import (
	"context"
	"fmt"
	"strings"

	"fanbid/internal/errs"
	"fanbid/internal/infrastructure/lock"
	"fanbid/internal/model"
	"fanbid/internal/repository"
	"fanbid/pkg/logger"

	log "github.com/sirupsen/logrus"
)

type WalletService struct {
	store       repository.Store
	walletLocks lock.Locker
	ledger      *WalletLedger
	maxRetries  int
	log         *log.Entry
}

func NewWalletService(store repository.Store, walletLocks lock.Locker, maxRetries int, opts ...Option) *WalletService {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &WalletService{
		store:       store,
		walletLocks: walletLocks,
		ledger:      NewWalletLedger(opts...),
		maxRetries:  maxRetries,
		log:         logger.Component("wallet_service"),
	}
}

// GetWallet 首次访问时创建空钱包
func (s *WalletService) GetWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	if userID <= 0 {
		return nil, errs.Validation("用户ID不合法: %d", userID)
	}
	var wallet *model.Wallet
	err := s.store.Atomic(ctx, func(tx repository.Tx) error {
		var err error
		wallet, err = tx.Wallets().GetOrCreate(ctx, userID)
		return err
	})
	return wallet, err
}

func (s *WalletService) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	var (
		list  []*model.Transaction
		total int64
	)
	err := s.store.Read(ctx, func(tx repository.Tx) error {
		var err error
		list, total, err = tx.Transactions().ListByUserID(ctx, userID, page, pageSize)
		return err
	})
	return list, total, err
}

// AdjustBalance 管理员加减积分
func (s *WalletService) AdjustBalance(ctx context.Context, userID, delta int64, reason string) (*model.Wallet, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, errs.Validation("调整原因不能为空")
	}

	var wallet *model.Wallet
	err := s.withWallet(ctx, userID, func(tx repository.Tx) error {
		var err error
		wallet, err = s.ledger.Adjust(ctx, tx, userID, delta, reason)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(log.Fields{
		"user_id": userID,
		"delta":   delta,
		"reason":  reason,
		"balance": wallet.BalancePoints,
	}).Warn("管理员调整积分")
	return wallet, nil
}

// CreditPurchase 购买积分入账，重复的 reference 不会重复入账
func (s *WalletService) CreditPurchase(ctx context.Context, userID, amount int64, reference string) (*model.Wallet, bool, error) {
	var (
		wallet  *model.Wallet
		applied bool
	)
	err := s.withWallet(ctx, userID, func(tx repository.Tx) error {
		var err error
		wallet, applied, err = s.ledger.Credit(ctx, tx, userID, amount, reference)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	s.log.WithFields(log.Fields{
		"user_id":   userID,
		"amount":    amount,
		"reference": reference,
		"applied":   applied,
	}).Info("购买积分入账")
	return wallet, applied, nil
}

type ReconcileReport struct {
	UserID     int64         `json:"user_id"`
	Wallet     *model.Wallet `json:"wallet"`
	Ledger     LedgerSummary `json:"ledger"`
	Consistent bool          `json:"consistent"`
	Mismatches []string      `json:"mismatches,omitempty"`
	Repaired   bool          `json:"repaired"`
}

// Reconcile 用流水重新推导钱包余额并与当前值比较，repair 为 true 时以流水为准修正钱包
func (s *WalletService) Reconcile(ctx context.Context, userID int64, repair bool) (*ReconcileReport, error) {
	report := &ReconcileReport{UserID: userID}

	err := s.withWallet(ctx, userID, func(tx repository.Tx) error {
		report.Mismatches = nil
		report.Repaired = false

		wallet, err := tx.Wallets().GetOrCreate(ctx, userID)
		if err != nil {
			return fmt.Errorf("获取钱包失败: %w", err)
		}
		transactions, err := tx.Transactions().ListAllByUserID(ctx, userID)
		if err != nil {
			return fmt.Errorf("查询流水失败: %w", err)
		}

		summary := SummarizeLedger(transactions)
		report.Ledger = summary
		report.Consistent = summary.Matches(wallet)
		if !report.Consistent {
			report.Mismatches = diffWallet(summary, wallet)
		}

		if !report.Consistent && repair {
			wallet.BalancePoints = summary.Balance
			wallet.HeldPoints = summary.Held
			wallet.TotalSpent = summary.Spent
			wallet.TotalEarned = summary.Earned
			if err := tx.Wallets().Update(ctx, wallet); err != nil {
				return err
			}
			report.Repaired = true
		}
		report.Wallet = wallet
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !report.Consistent {
		s.log.WithFields(log.Fields{
			"user_id":    userID,
			"mismatches": report.Mismatches,
			"repaired":   report.Repaired,
		}).Error("钱包与流水不一致")
	}
	return report, nil
}

func diffWallet(s LedgerSummary, w *model.Wallet) []string {
	var out []string
	check := func(field string, ledger, wallet int64) {
		if ledger != wallet {
			out = append(out, fmt.Sprintf("%s: 流水=%d, 钱包=%d", field, ledger, wallet))
		}
	}
	check("balance_points", s.Balance, w.BalancePoints)
	check("held_points", s.Held, w.HeldPoints)
	check("total_spent", s.Spent, w.TotalSpent)
	check("total_earned", s.Earned, w.TotalEarned)
	return out
}

func (s *WalletService) withWallet(ctx context.Context, userID int64, fn func(tx repository.Tx) error) error {
	if userID <= 0 {
		return errs.Validation("用户ID不合法: %d", userID)
	}

	unlock, err := s.walletLocks.Lock(ctx, lock.WalletKey(userID))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: 获取钱包锁失败: %v", errs.ErrConcurrencyConflict, err)
	}
	defer unlock()

	return retryOnConflict(ctx, s.maxRetries, func() error {
		return s.store.Atomic(ctx, fn)
	})
}
