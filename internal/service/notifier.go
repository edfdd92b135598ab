package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fanbid/internal/model"
	"fanbid/internal/repository"
	"fanbid/pkg/idgen"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// NotificationPayload 投递给下游的通知内容
type NotificationPayload struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	UserID        int64     `json:"user_id"`
	AuctionID     int64     `json:"auction_id"`
	AuctionTitle  string    `json:"auction_title"`
	AuctionStatus string    `json:"auction_status"`
	Amount        int64     `json:"amount"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// NotificationDispatcher 把通知写入发件箱，与触发它的状态变更处于同一事务
// 同一 (用户, 拍卖, 事件类型) 只保留一条
type NotificationDispatcher struct {
	now func() time.Time
}

func NewNotificationDispatcher(opts ...Option) *NotificationDispatcher {
	o := buildOptions(opts)
	return &NotificationDispatcher{now: o.now}
}

func (d *NotificationDispatcher) Outbid(ctx context.Context, tx repository.Tx, auction *model.Auction, userID, amount int64) error {
	return d.dispatch(ctx, tx, model.EventOutbid, auction, userID, amount)
}

func (d *NotificationDispatcher) Won(ctx context.Context, tx repository.Tx, auction *model.Auction, userID, amount int64) error {
	return d.dispatch(ctx, tx, model.EventWon, auction, userID, amount)
}

// Closed 通知卖家和所有出过价的用户
func (d *NotificationDispatcher) Closed(ctx context.Context, tx repository.Tx, auction *model.Auction, bids []*model.Bid) error {
	userIDs := lo.Uniq(append([]int64{auction.SellerID}, lo.Map(bids, func(b *model.Bid, _ int) int64 {
		return b.UserID
	})...))

	for _, userID := range userIDs {
		if err := d.dispatch(ctx, tx, model.EventAuctionClosed, auction, userID, auction.CurrentBid); err != nil {
			return err
		}
	}
	return nil
}

func (d *NotificationDispatcher) dispatch(ctx context.Context, tx repository.Tx, eventType string, auction *model.Auction, userID, amount int64) error {
	payload := NotificationPayload{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		UserID:        userID,
		AuctionID:     auction.ID,
		AuctionTitle:  auction.Title,
		AuctionStatus: auction.Status,
		Amount:        amount,
		OccurredAt:    d.now(),
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化通知失败: %w", err)
	}

	_, err = tx.Notifications().CreateIfAbsent(ctx, &model.Notification{
		ID:        idgen.NextID(),
		EventID:   payload.EventID,
		UserID:    userID,
		AuctionID: auction.ID,
		EventType: eventType,
		Payload:   string(payloadBytes),
		Status:    model.NotificationStatusPending,
	})
	if err != nil {
		return fmt.Errorf("写入通知失败: %w", err)
	}
	return nil
}
