package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"fanbid/internal/config"
	"fanbid/internal/errs"
	"fanbid/internal/infrastructure/lock"
	"fanbid/internal/model"
	"fanbid/internal/repository"
	"fanbid/pkg/idgen"
	"fanbid/pkg/logger"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// AuctionService 拍卖引擎入口，出价、一口价、结算、管理操作都在这里串联
//
// 加锁顺序固定为：拍卖锁 -> 用户钱包锁（排序后依次加锁） -> 存储事务
type AuctionService struct {
	store        repository.Store
	auctionLocks lock.Locker
	walletLocks  lock.Locker
	cfg          *config.Config

	ledger    *WalletLedger
	validator *BidValidator
	agent     *AutoBidAgent
	extender  *AntiSnipeExtender
	notifier  *NotificationDispatcher

	now func() time.Time
	log *log.Entry
}

func NewAuctionService(store repository.Store, auctionLocks, walletLocks lock.Locker, cfg *config.Config, opts ...Option) *AuctionService {
	o := buildOptions(opts)
	return &AuctionService{
		store:        store,
		auctionLocks: auctionLocks,
		walletLocks:  walletLocks,
		cfg:          cfg,
		ledger:       NewWalletLedger(opts...),
		validator:    NewBidValidator(),
		agent:        NewAutoBidAgent(),
		extender:     NewAntiSnipeExtender(cfg.Auction.SnipeWindow, cfg.Auction.MaxExtension),
		notifier:     NewNotificationDispatcher(opts...),
		now:          o.now,
		log:          logger.Component("auction_service"),
	}
}

// Now 引擎使用的当前时间
func (s *AuctionService) Now() time.Time {
	return s.now()
}

type CreateAuctionRequest struct {
	SellerID     int64         `json:"seller_id"`
	Title        string        `json:"title" binding:"required"`
	Description  string        `json:"description"`
	Category     string        `json:"category"`
	Rarity       string        `json:"rarity"`
	StartingBid  int64         `json:"starting_bid" binding:"required,gt=0"`
	ReservePrice *int64        `json:"reserve_price"`
	BuyNowPrice  *int64        `json:"buy_now_price"`
	MinIncrement int64         `json:"min_increment" binding:"required,gt=0"`
	Duration     time.Duration `json:"duration"`
	StartTime    *time.Time    `json:"start_time"` // 为空时立即开始
}

func (r *CreateAuctionRequest) validate() error {
	if r.SellerID <= 0 {
		return errs.Validation("seller_id 不合法: %d", r.SellerID)
	}
	if strings.TrimSpace(r.Title) == "" {
		return errs.Validation("标题不能为空")
	}
	if r.StartingBid <= 0 {
		return errs.Validation("起拍价必须大于0")
	}
	if r.MinIncrement <= 0 {
		return errs.Validation("最小加价必须大于0")
	}
	if r.MinIncrement > math.MaxInt64-r.StartingBid {
		return errs.Validation("起拍价 %d 加最小加价 %d 超出积分范围", r.StartingBid, r.MinIncrement)
	}
	if r.Duration <= 0 {
		return errs.Validation("拍卖时长必须大于0")
	}
	if r.ReservePrice != nil && *r.ReservePrice <= 0 {
		return errs.Validation("保留价必须大于0")
	}
	if r.BuyNowPrice != nil {
		if *r.BuyNowPrice < r.StartingBid {
			return errs.Validation("一口价 %d 不能低于起拍价 %d", *r.BuyNowPrice, r.StartingBid)
		}
		if r.ReservePrice != nil && *r.ReservePrice > *r.BuyNowPrice {
			return errs.Validation("保留价 %d 不能高于一口价 %d", *r.ReservePrice, *r.BuyNowPrice)
		}
	}
	return nil
}

func (s *AuctionService) CreateAuction(ctx context.Context, req *CreateAuctionRequest) (*model.Auction, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	now := s.now()
	start := now
	if req.StartTime != nil && req.StartTime.After(now) {
		start = req.StartTime.UTC()
	}
	end := start.Add(req.Duration)

	status := model.AuctionStatusActive
	if start.After(now) {
		status = model.AuctionStatusScheduled
	}

	auction := &model.Auction{
		ID:              idgen.NextID(),
		Title:           strings.TrimSpace(req.Title),
		Description:     req.Description,
		Category:        req.Category,
		Rarity:          req.Rarity,
		SellerID:        req.SellerID,
		StartingBid:     req.StartingBid,
		CurrentBid:      req.StartingBid,
		ReservePrice:    req.ReservePrice,
		BuyNowPrice:     req.BuyNowPrice,
		MinIncrement:    req.MinIncrement,
		StartTime:       start,
		EndTime:         end,
		OriginalEndTime: end,
		Status:          status,
		CreatedAt:       now,
	}

	err := s.store.Atomic(ctx, func(tx repository.Tx) error {
		return tx.Auctions().Create(ctx, auction)
	})
	if err != nil {
		return nil, fmt.Errorf("创建拍卖失败: %w", err)
	}

	s.log.WithFields(log.Fields{
		"auction_id": auction.ID,
		"seller_id":  auction.SellerID,
		"status":     auction.Status,
		"end_time":   auction.EndTime,
	}).Info("拍卖已创建")
	return auction, nil
}

func (s *AuctionService) GetAuction(ctx context.Context, id int64) (*model.Auction, error) {
	var auction *model.Auction
	err := s.store.Read(ctx, func(tx repository.Tx) error {
		var err error
		auction, err = tx.Auctions().Get(ctx, id)
		return err
	})
	return auction, err
}

func (s *AuctionService) ListAuctions(ctx context.Context, status string, page, pageSize int) ([]*model.Auction, int64, error) {
	var (
		list  []*model.Auction
		total int64
	)
	err := s.store.Read(ctx, func(tx repository.Tx) error {
		var err error
		list, total, err = tx.Auctions().List(ctx, status, page, pageSize)
		return err
	})
	return list, total, err
}

func (s *AuctionService) ListBids(ctx context.Context, auctionID int64) ([]*model.Bid, error) {
	var bids []*model.Bid
	err := s.store.Read(ctx, func(tx repository.Tx) error {
		if _, err := tx.Auctions().Get(ctx, auctionID); err != nil {
			return err
		}
		var err error
		bids, err = tx.Bids().ListByAuction(ctx, auctionID)
		return err
	})
	return bids, err
}

// Activate 到达开始时间的 scheduled 拍卖转为 active，返回是否发生了转换
func (s *AuctionService) Activate(ctx context.Context, auctionID int64) (bool, error) {
	unlock, err := s.lockAuction(ctx, auctionID)
	if err != nil {
		return false, err
	}
	defer unlock()

	activated := false
	err = retryOnConflict(ctx, s.maxRetries(), func() error {
		activated = false
		return s.store.Atomic(ctx, func(tx repository.Tx) error {
			auction, err := tx.Auctions().Get(ctx, auctionID)
			if err != nil {
				return err
			}
			if auction.Status != model.AuctionStatusScheduled || auction.StartTime.After(s.now()) {
				return nil
			}
			if !model.CanTransitionTo(auction.Status, model.AuctionStatusActive) {
				return nil
			}
			auction.Status = model.AuctionStatusActive
			if err := tx.Auctions().Update(ctx, auction); err != nil {
				return err
			}
			activated = true
			return nil
		})
	})
	if err != nil {
		return false, err
	}
	if activated {
		s.log.WithField("auction_id", auctionID).Info("拍卖已开始")
	}
	return activated, nil
}

// ListStartable 已到开始时间的 scheduled 拍卖
func (s *AuctionService) ListStartable(ctx context.Context, now time.Time, limit int) ([]*model.Auction, error) {
	var list []*model.Auction
	err := s.store.Read(ctx, func(tx repository.Tx) error {
		var err error
		list, err = tx.Auctions().ListStartable(ctx, now, limit)
		return err
	})
	return list, err
}

// ListDue 已到截止时间仍为 active 的拍卖
func (s *AuctionService) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Auction, error) {
	var list []*model.Auction
	err := s.store.Read(ctx, func(tx repository.Tx) error {
		var err error
		list, err = tx.Auctions().ListDue(ctx, now, limit)
		return err
	})
	return list, err
}

func (s *AuctionService) maxRetries() int {
	if s.cfg.Auction.MaxBidRetries <= 0 {
		return 1
	}
	return s.cfg.Auction.MaxBidRetries
}

// activeLeader 事务外预读当前领先出价，用于提前锁住领先者的钱包
func (s *AuctionService) activeLeader(ctx context.Context, auctionID int64) (*model.Bid, error) {
	var leader *model.Bid
	err := s.store.Read(ctx, func(tx repository.Tx) error {
		var err error
		leader, err = tx.Bids().GetActive(ctx, auctionID)
		return err
	})
	return leader, err
}

// lockWallets 一次性锁住所有涉及的用户钱包
func (s *AuctionService) lockWallets(ctx context.Context, userIDs ...int64) (func(), error) {
	keys := lo.Map(userIDs, func(id int64, _ int) string { return lock.WalletKey(id) })
	unlock, err := lock.LockAll(ctx, s.walletLocks, keys...)
	if err != nil {
		return nil, fmt.Errorf("%w: 获取钱包锁失败: %v", errs.ErrConcurrencyConflict, err)
	}
	return unlock, nil
}

func (s *AuctionService) lockAuction(ctx context.Context, auctionID int64) (func(), error) {
	unlock, err := s.auctionLocks.Lock(ctx, lock.AuctionKey(auctionID))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: 获取拍卖锁失败: %v", errs.ErrConcurrencyConflict, err)
	}
	return unlock, nil
}

// sameLeader 事务内确认领先出价没有在预读之后被替换
func sameLeader(expected, actual *model.Bid) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	return expected.ID == actual.ID && expected.UserID == actual.UserID
}

func isNotFound(err error) bool {
	return errors.Is(err, errs.ErrNotFound)
}
