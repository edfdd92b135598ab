package service

import (
	"context"
	"fmt"
	"time"

	"fanbid/internal/errs"
	"fanbid/internal/model"
	"fanbid/internal/repository"
	"fanbid/pkg/idgen"
)

// ============================================================================
// WalletLedger 积分账本
// ============================================================================
//
// 所有资金变动的唯一入口。每个操作都在调用方的事务内：
//   1. 读取钱包（不存在则创建）
//   2. 校验并修改余额
//   3. 按 version 乐观锁写回
//   4. 追加一条流水
// 调用方负责在事务外持有该用户的钱包锁。
// ============================================================================

type WalletLedger struct {
	now func() time.Time
}

func NewWalletLedger(opts ...Option) *WalletLedger {
	o := buildOptions(opts)
	return &WalletLedger{now: o.now}
}

// Reserve 出价冻结：可用 -> 冻结
func (l *WalletLedger) Reserve(ctx context.Context, tx repository.Tx, userID, amount int64, ref, desc string) (*model.Wallet, error) {
	if amount <= 0 {
		return nil, errs.Validation("冻结金额必须大于0")
	}
	return l.apply(ctx, tx, userID, model.TransactionTypeBidHold, -amount, ref, desc, func(w *model.Wallet) error {
		if w.BalancePoints < amount {
			return fmt.Errorf("%w: 可用=%d, 需要=%d", errs.ErrInsufficientFunds, w.BalancePoints, amount)
		}
		w.BalancePoints -= amount
		w.HeldPoints += amount
		return nil
	})
}

// Release 解冻：冻结 -> 可用
func (l *WalletLedger) Release(ctx context.Context, tx repository.Tx, userID, amount int64, ref, desc string) (*model.Wallet, error) {
	if amount <= 0 {
		return nil, errs.Validation("解冻金额必须大于0")
	}
	return l.apply(ctx, tx, userID, model.TransactionTypeBidRelease, amount, ref, desc, func(w *model.Wallet) error {
		if w.HeldPoints < amount {
			return fmt.Errorf("冻结积分不足: userID=%d, 冻结=%d, 解冻=%d", userID, w.HeldPoints, amount)
		}
		w.HeldPoints -= amount
		w.BalancePoints += amount
		return nil
	})
}

// Settle 成交：扣除冻结，累计消费
func (l *WalletLedger) Settle(ctx context.Context, tx repository.Tx, userID, amount int64, ref, desc string) (*model.Wallet, error) {
	if amount <= 0 {
		return nil, errs.Validation("结算金额必须大于0")
	}
	return l.apply(ctx, tx, userID, model.TransactionTypeWinSettlement, -amount, ref, desc, func(w *model.Wallet) error {
		if w.HeldPoints < amount {
			return fmt.Errorf("冻结积分不足: userID=%d, 冻结=%d, 结算=%d", userID, w.HeldPoints, amount)
		}
		w.HeldPoints -= amount
		w.TotalSpent += amount
		return nil
	})
}

// Refund 撤销成交：消费 -> 可用
func (l *WalletLedger) Refund(ctx context.Context, tx repository.Tx, userID, amount int64, ref, desc string) (*model.Wallet, error) {
	if amount <= 0 {
		return nil, errs.Validation("退回金额必须大于0")
	}
	return l.apply(ctx, tx, userID, model.TransactionTypeRefund, amount, ref, desc, func(w *model.Wallet) error {
		if w.TotalSpent < amount {
			return fmt.Errorf("累计消费不足以退回: userID=%d, 消费=%d, 退回=%d", userID, w.TotalSpent, amount)
		}
		w.TotalSpent -= amount
		w.BalancePoints += amount
		return nil
	})
}

// Adjust 管理员调整，不允许把余额调成负数
func (l *WalletLedger) Adjust(ctx context.Context, tx repository.Tx, userID, delta int64, reason string) (*model.Wallet, error) {
	if delta == 0 {
		return nil, errs.Validation("调整金额不能为0")
	}
	return l.apply(ctx, tx, userID, model.TransactionTypeAdminAdjust, delta, idgen.NextString(), reason, func(w *model.Wallet) error {
		if w.BalancePoints+delta < 0 {
			return fmt.Errorf("%w: 可用=%d, 调整=%d", errs.ErrInsufficientFunds, w.BalancePoints, delta)
		}
		w.BalancePoints += delta
		if delta > 0 {
			w.TotalEarned += delta
		}
		return nil
	})
}

// Credit 购买积分入账，同一 reference 只入账一次
func (l *WalletLedger) Credit(ctx context.Context, tx repository.Tx, userID, amount int64, ref string) (*model.Wallet, bool, error) {
	if amount <= 0 {
		return nil, false, errs.Validation("入账金额必须大于0")
	}
	if ref == "" {
		return nil, false, errs.Validation("reference 不能为空")
	}

	exists, err := tx.Transactions().ExistsByReference(ctx, userID, model.TransactionTypePurchase, ref)
	if err != nil {
		return nil, false, fmt.Errorf("查询流水失败: %w", err)
	}
	if exists {
		w, err := tx.Wallets().GetOrCreate(ctx, userID)
		return w, false, err
	}

	w, err := l.apply(ctx, tx, userID, model.TransactionTypePurchase, amount, ref, "购买积分", func(w *model.Wallet) error {
		w.BalancePoints += amount
		w.TotalEarned += amount
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return w, true, nil
}

func (l *WalletLedger) apply(
	ctx context.Context,
	tx repository.Tx,
	userID int64,
	txType string,
	amount int64,
	ref, desc string,
	mutate func(w *model.Wallet) error,
) (*model.Wallet, error) {
	if userID <= 0 {
		return nil, errs.Validation("用户ID不合法: %d", userID)
	}

	wallet, err := tx.Wallets().GetOrCreate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("获取钱包失败: %w", err)
	}

	if err := mutate(wallet); err != nil {
		return nil, err
	}

	if err := tx.Wallets().Update(ctx, wallet); err != nil {
		return nil, fmt.Errorf("更新钱包失败: %w", err)
	}

	trans := &model.Transaction{
		ID:           idgen.NextID(),
		UserID:       userID,
		Type:         txType,
		Amount:       amount,
		Description:  desc,
		ReferenceID:  ref,
		BalanceAfter: wallet.BalancePoints,
		HeldAfter:    wallet.HeldPoints,
		CreatedAt:    l.now(),
	}
	if err := tx.Transactions().Create(ctx, trans); err != nil {
		return nil, fmt.Errorf("记录流水失败: %w", err)
	}

	return wallet, nil
}

// ============================================================================
// 对账
// ============================================================================

// LedgerSummary 仅由流水推导出的钱包状态
type LedgerSummary struct {
	Balance int64 `json:"balance_points"`
	Held    int64 `json:"held_points"`
	Spent   int64 `json:"total_spent"`
	Earned  int64 `json:"total_earned"`
	Credits int64 `json:"credits"` // purchase + admin_adjust 之和
}

// SummarizeLedger 满足 Balance + Held + Spent == Credits
func SummarizeLedger(transactions []*model.Transaction) LedgerSummary {
	var s LedgerSummary
	for _, t := range transactions {
		switch t.Type {
		case model.TransactionTypePurchase:
			s.Balance += t.Amount
			s.Credits += t.Amount
			s.Earned += t.Amount
		case model.TransactionTypeAdminAdjust:
			s.Balance += t.Amount
			s.Credits += t.Amount
			if t.Amount > 0 {
				s.Earned += t.Amount
			}
		case model.TransactionTypeBidHold:
			s.Balance += t.Amount
			s.Held -= t.Amount
		case model.TransactionTypeBidRelease:
			s.Balance += t.Amount
			s.Held -= t.Amount
		case model.TransactionTypeWinSettlement:
			s.Held += t.Amount
			s.Spent -= t.Amount
		case model.TransactionTypeRefund:
			s.Balance += t.Amount
			s.Spent -= t.Amount
		}
	}
	return s
}

// Matches 与钱包当前值比较
func (s LedgerSummary) Matches(w *model.Wallet) bool {
	return s.Balance == w.BalancePoints &&
		s.Held == w.HeldPoints &&
		s.Spent == w.TotalSpent &&
		s.Earned == w.TotalEarned
}
