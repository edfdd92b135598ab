package model

import (
	"time"
)

// Wallet 用户积分钱包
// 资金只能通过 WalletLedger 变动，余额永远不为负
type Wallet struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	BalancePoints int64     `gorm:"not null;default:0" json:"balance_points"` // 可用积分
	HeldPoints    int64     `gorm:"not null;default:0" json:"held_points"`    // 出价冻结积分
	TotalEarned   int64     `gorm:"not null;default:0" json:"total_earned"`
	TotalSpent    int64     `gorm:"not null;default:0" json:"total_spent"`
	Version       int       `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallet"
}
