package model

import (
	"time"
)

const (
	BidStatusActive   = "active"
	BidStatusOutbid   = "outbid"
	BidStatusWon      = "won"
	BidStatusLost     = "lost"
	BidStatusRefunded = "refunded"
)

// Bid 出价记录
// 每个拍卖同一时刻最多一条 active 出价，其金额即拍卖当前价
type Bid struct {
	ID         int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	AuctionID  int64     `gorm:"index:idx_bid_auction_created,priority:1;not null" json:"auction_id"`
	UserID     int64     `gorm:"index;not null" json:"user_id"`
	Amount     int64     `gorm:"not null" json:"amount"`
	AutoBidMax *int64    `json:"auto_bid_max,omitempty"`
	HeldAmount int64     `gorm:"not null;default:0" json:"held_amount"` // 当前为该出价冻结的积分
	Status     string    `gorm:"type:varchar(20);index;not null" json:"status"`
	CreatedAt  time.Time `gorm:"not null;index:idx_bid_auction_created,priority:2" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Bid) TableName() string {
	return "bid"
}

func (b *Bid) Clone() *Bid {
	c := *b
	c.AutoBidMax = cloneInt64(b.AutoBidMax)
	return &c
}
