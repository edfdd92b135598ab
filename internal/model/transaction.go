package model

import (
	"time"
)

// ============================================================================
// 流水类型
// ============================================================================

const (
	TransactionTypePurchase      = "purchase"       // 购买积分入账
	TransactionTypeBidHold       = "bid_hold"       // 出价冻结
	TransactionTypeBidRelease    = "bid_release"    // 被超越/取消后解冻
	TransactionTypeWinSettlement = "win_settlement" // 成交扣除冻结
	TransactionTypeRefund        = "refund"         // 成交撤销退回
	TransactionTypeAdminAdjust   = "admin_adjust"   // 管理员调整
)

// Transaction 积分流水表，只追加不修改
//
// Amount 为对可用余额的影响：
//
//	purchase / admin_adjust / refund / bid_release 为正
//	bid_hold 为负
//	win_settlement 记为负数，扣的是冻结部分，不影响可用余额
type Transaction struct {
	ID           int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	UserID       int64     `gorm:"index:idx_txn_user_type_ref,priority:1;not null" json:"user_id"`
	Type         string    `gorm:"type:varchar(20);index:idx_txn_user_type_ref,priority:2;not null" json:"type"`
	Amount       int64     `gorm:"not null" json:"amount"`
	Description  string    `gorm:"type:varchar(256)" json:"description"`
	ReferenceID  string    `gorm:"type:varchar(64);index:idx_txn_user_type_ref,priority:3" json:"reference_id"`
	BalanceAfter int64     `gorm:"not null" json:"balance_after"`
	HeldAfter    int64     `gorm:"not null" json:"held_after"`
	CreatedAt    time.Time `gorm:"not null;index" json:"created_at"`
}

func (Transaction) TableName() string {
	return "wallet_transaction"
}
