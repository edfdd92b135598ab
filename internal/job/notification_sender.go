package job

import (
	"context"
	"strconv"
	"time"

	"fanbid/internal/config"
	"fanbid/internal/infrastructure/mq"
	"fanbid/internal/model"
	"fanbid/internal/repository"
	"fanbid/pkg/logger"

	log "github.com/sirupsen/logrus"
)

// NotificationSender 轮询通知发件箱并投递到消息队列，至少投递一次
type NotificationSender struct {
	store         repository.Store
	publisher     mq.Publisher
	topic         string
	interval      time.Duration
	batchSize     int
	maxRetryCount int
	life          *lifecycle
	log           *log.Entry
}

func NewNotificationSender(store repository.Store, publisher mq.Publisher, cfg *config.Config) *NotificationSender {
	interval := cfg.Outbox.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	batchSize := cfg.Outbox.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	maxRetryCount := cfg.Outbox.MaxRetryCount
	if maxRetryCount <= 0 {
		maxRetryCount = 5
	}
	return &NotificationSender{
		store:         store,
		publisher:     publisher,
		topic:         cfg.Notify.Topic,
		interval:      interval,
		batchSize:     batchSize,
		maxRetryCount: maxRetryCount,
		life:          newLifecycle(),
		log:           logger.Component("notification_sender"),
	}
}

func (s *NotificationSender) Start(ctx context.Context) {
	s.life.run(ctx, s.interval, s.log, func(ctx context.Context) {
		s.RunOnce(ctx)
	})
}

func (s *NotificationSender) Stop() {
	s.life.stop()
}

// RunOnce 投递一批待发送通知，返回成功条数
func (s *NotificationSender) RunOnce(ctx context.Context) int {
	var pending []*model.Notification
	err := s.store.Read(ctx, func(tx repository.Tx) error {
		var err error
		pending, err = tx.Notifications().ListPending(ctx, s.batchSize)
		return err
	})
	if err != nil {
		s.log.WithError(err).Error("查询待发送通知失败")
		return 0
	}

	sent := 0
	for _, n := range pending {
		if ctx.Err() != nil {
			break
		}
		if s.send(ctx, n) {
			sent++
		}
	}
	return sent
}

func (s *NotificationSender) send(ctx context.Context, n *model.Notification) bool {
	fields := log.Fields{
		"id":         n.ID,
		"event_id":   n.EventID,
		"event_type": n.EventType,
		"user_id":    n.UserID,
		"auction_id": n.AuctionID,
	}

	err := s.publisher.Publish(ctx, &mq.Message{
		Topic: s.topic,
		Key:   strconv.FormatInt(n.UserID, 10),
		ID:    n.EventID,
		Value: []byte(n.Payload),
	})
	if err == nil {
		if updateErr := s.update(ctx, func(r repository.Notifications) error { return r.MarkSent(ctx, n.ID) }); updateErr != nil {
			s.log.WithFields(fields).WithError(updateErr).Error("更新通知状态失败")
			return false
		}
		s.log.WithFields(fields).Debug("通知发送成功")
		return true
	}

	s.log.WithFields(fields).WithError(err).Warn("通知发送失败")

	if err := s.update(ctx, func(r repository.Notifications) error { return r.IncrementRetryCount(ctx, n.ID) }); err != nil {
		s.log.WithFields(fields).WithError(err).Error("增加重试次数失败")
	}

	if n.RetryCount+1 >= s.maxRetryCount {
		if err := s.update(ctx, func(r repository.Notifications) error { return r.MarkAsFailed(ctx, n.ID) }); err != nil {
			s.log.WithFields(fields).WithError(err).Error("标记通知失败状态失败")
		} else {
			s.log.WithFields(fields).Error("通知超过最大重试次数，标记为失败")
		}
	}
	return false
}

func (s *NotificationSender) update(ctx context.Context, fn func(r repository.Notifications) error) error {
	return s.store.Atomic(ctx, func(tx repository.Tx) error {
		return fn(tx.Notifications())
	})
}
