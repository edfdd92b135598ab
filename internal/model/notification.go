package model

import (
	"time"
)

const (
	NotificationStatusPending = "pending"
	NotificationStatusSent    = "sent"
	NotificationStatusFailed  = "failed"
)

const (
	EventOutbid        = "outbid"
	EventWon           = "won"
	EventAuctionClosed = "auction_closed"
)

// Notification 通知发件箱
// 与状态变更在同一事务写入，(user_id, auction_id, event_type) 唯一
type Notification struct {
	ID         int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	EventID    string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"event_id"`
	UserID     int64     `gorm:"uniqueIndex:uk_notification_dedup,priority:1;not null" json:"user_id"`
	AuctionID  int64     `gorm:"uniqueIndex:uk_notification_dedup,priority:2;not null" json:"auction_id"`
	EventType  string    `gorm:"type:varchar(32);uniqueIndex:uk_notification_dedup,priority:3;not null" json:"event_type"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:pending" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Notification) TableName() string {
	return "notification_outbox"
}
