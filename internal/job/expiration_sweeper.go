package job

import (
	"context"
	"time"

	"fanbid/internal/config"
	"fanbid/internal/model"
	"fanbid/internal/service"
	"fanbid/pkg/logger"

	log "github.com/sirupsen/logrus"
)

// AuctionSettler 过期扫描依赖的拍卖操作，由 service.AuctionService 实现
type AuctionSettler interface {
	Now() time.Time
	ListStartable(ctx context.Context, now time.Time, limit int) ([]*model.Auction, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Auction, error)
	Activate(ctx context.Context, auctionID int64) (bool, error)
	SettleExpired(ctx context.Context, auctionID int64) (*service.SettlementResult, error)
}

// SweepReport 一轮扫描的结果
type SweepReport struct {
	Activated     int `json:"activated"`
	SettledSold   int `json:"settled_sold"`
	SettledUnsold int `json:"settled_unsold"`
	Skipped       int `json:"skipped"`
	Failed        int `json:"failed"`
}

// ExpirationSweeper 定时开始到点的拍卖并结算到期的拍卖
// 单个拍卖出错只记录日志，下一轮重试
type ExpirationSweeper struct {
	settler   AuctionSettler
	interval  time.Duration
	batchSize int
	life      *lifecycle
	log       *log.Entry
}

func NewExpirationSweeper(settler AuctionSettler, cfg *config.SweeperConfig) *ExpirationSweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ExpirationSweeper{
		settler:   settler,
		interval:  interval,
		batchSize: batchSize,
		life:      newLifecycle(),
		log:       logger.Component("expiration_sweeper"),
	}
}

// Start 阻塞运行，直到 ctx 结束或调用 Stop
func (j *ExpirationSweeper) Start(ctx context.Context) {
	j.life.run(ctx, j.interval, j.log, func(ctx context.Context) {
		j.RunOnce(ctx)
	})
}

func (j *ExpirationSweeper) Stop() {
	j.life.stop()
}

// RunOnce 执行一轮扫描，可以与定时循环并发调用
func (j *ExpirationSweeper) RunOnce(ctx context.Context) *SweepReport {
	report := &SweepReport{}
	now := j.settler.Now()

	j.activateScheduled(ctx, now, report)
	j.settleDue(ctx, now, report)

	if report.Activated+report.SettledSold+report.SettledUnsold+report.Failed > 0 {
		j.log.WithFields(log.Fields{
			"activated":      report.Activated,
			"settled_sold":   report.SettledSold,
			"settled_unsold": report.SettledUnsold,
			"skipped":        report.Skipped,
			"failed":         report.Failed,
		}).Info("本轮扫描完成")
	}
	return report
}

func (j *ExpirationSweeper) activateScheduled(ctx context.Context, now time.Time, report *SweepReport) {
	auctions, err := j.settler.ListStartable(ctx, now, j.batchSize)
	if err != nil {
		j.log.WithError(err).Error("查询待开始拍卖失败")
		return
	}

	for _, auction := range auctions {
		activated, err := j.settler.Activate(ctx, auction.ID)
		if err != nil {
			report.Failed++
			j.log.WithField("auction_id", auction.ID).WithError(err).Error("开始拍卖失败")
			continue
		}
		if activated {
			report.Activated++
		}
	}
}

func (j *ExpirationSweeper) settleDue(ctx context.Context, now time.Time, report *SweepReport) {
	auctions, err := j.settler.ListDue(ctx, now, j.batchSize)
	if err != nil {
		j.log.WithError(err).Error("查询到期拍卖失败")
		return
	}

	if len(auctions) > 0 {
		j.log.WithField("count", len(auctions)).Info("发现到期拍卖")
	}

	for _, auction := range auctions {
		if ctx.Err() != nil {
			return
		}
		result, err := j.settler.SettleExpired(ctx, auction.ID)
		if err != nil {
			report.Failed++
			j.log.WithField("auction_id", auction.ID).WithError(err).Error("结算拍卖失败")
			continue
		}

		switch {
		case result.Skipped:
			report.Skipped++
		case result.Status == model.AuctionStatusClosedSold:
			report.SettledSold++
		default:
			report.SettledUnsold++
		}
	}
}
