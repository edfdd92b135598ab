package model

import (
	"math"
	"time"
)

const (
	AuctionStatusScheduled    = "scheduled"
	AuctionStatusActive       = "active"
	AuctionStatusClosedSold   = "closed_sold"
	AuctionStatusClosedUnsold = "closed_unsold"
	AuctionStatusCancelled    = "cancelled"
)

var ValidStatusTransitions = map[string][]string{
	AuctionStatusScheduled: {AuctionStatusActive, AuctionStatusClosedUnsold, AuctionStatusCancelled},
	AuctionStatusActive:    {AuctionStatusClosedSold, AuctionStatusClosedUnsold, AuctionStatusCancelled},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Auction 拍卖表
// (status, end_time) 联合索引供过期扫描使用
type Auction struct {
	ID              int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Title           string    `gorm:"type:varchar(128);not null" json:"title"`
	Description     string    `gorm:"type:text" json:"description"`
	Category        string    `gorm:"type:varchar(32)" json:"category"`
	Rarity          string    `gorm:"type:varchar(32)" json:"rarity"`
	SellerID        int64     `gorm:"index;not null" json:"seller_id"`
	StartingBid     int64     `gorm:"not null" json:"starting_bid"`
	CurrentBid      int64     `gorm:"not null" json:"current_bid"`
	ReservePrice    *int64    `json:"reserve_price,omitempty"`
	BuyNowPrice     *int64    `json:"buy_now_price,omitempty"`
	MinIncrement    int64     `gorm:"not null" json:"min_increment"`
	StartTime       time.Time `gorm:"not null" json:"start_time"`
	EndTime         time.Time `gorm:"not null;index:idx_auction_status_end,priority:2" json:"end_time"`
	OriginalEndTime time.Time `gorm:"not null" json:"original_end_time"`
	Status          string    `gorm:"type:varchar(20);not null;index:idx_auction_status_end,priority:1" json:"status"`
	WinnerID        *int64    `json:"winner_id,omitempty"`
	LeadingBidID    *int64    `json:"leading_bid_id,omitempty"`
	TotalBids       int       `gorm:"not null;default:0" json:"total_bids"`
	Watchers        int       `gorm:"not null;default:0" json:"watchers"`
	Version         int       `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Auction) TableName() string {
	return "auction"
}

func (a *Auction) IsTerminal() bool {
	switch a.Status {
	case AuctionStatusClosedSold, AuctionStatusClosedUnsold, AuctionStatusCancelled:
		return true
	}
	return false
}

// MinNextBid 下一口出价的最低金额
func (a *Auction) MinNextBid() int64 {
	return AddPoints(a.CurrentBid, a.MinIncrement)
}

// AddPoints 积分相加，溢出时封顶为 math.MaxInt64
func AddPoints(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

// ReserveMet 没有保留价时视为已满足
func (a *Auction) ReserveMet(amount int64) bool {
	return a.ReservePrice == nil || amount >= *a.ReservePrice
}

// BuyNowAvailable 当前价达到一口价后不再开放一口价
func (a *Auction) BuyNowAvailable(now time.Time) bool {
	if a.BuyNowPrice == nil || a.Status != AuctionStatusActive || !now.Before(a.EndTime) {
		return false
	}
	return a.CurrentBid < *a.BuyNowPrice
}

// Clone 深拷贝，指针字段不与原对象共享
func (a *Auction) Clone() *Auction {
	c := *a
	c.ReservePrice = cloneInt64(a.ReservePrice)
	c.BuyNowPrice = cloneInt64(a.BuyNowPrice)
	c.WinnerID = cloneInt64(a.WinnerID)
	c.LeadingBidID = cloneInt64(a.LeadingBidID)
	return &c
}

func cloneInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
