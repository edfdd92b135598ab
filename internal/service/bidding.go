package service

import (
	"context"
	"fmt"
	"time"

	"fanbid/internal/errs"
	"fanbid/internal/model"
	"fanbid/internal/repository"
	"fanbid/pkg/idgen"

	log "github.com/sirupsen/logrus"
)

type PlaceBidRequest struct {
	AuctionID  int64  `json:"-"`
	UserID     int64  `json:"-"`
	Amount     int64  `json:"amount" binding:"required"`
	AutoBidMax *int64 `json:"auto_bid_max"`
}

type BidResult struct {
	Bid        *model.Bid `json:"bid"`
	IsLeading  bool       `json:"is_leading"` // false 表示被领先者的自动出价压过
	CurrentBid int64      `json:"current_bid"`
	MinNextBid int64      `json:"min_next_bid"`
	EndTime    time.Time  `json:"end_time"`
	Extended   bool       `json:"extended"`
}

// PlaceBid 出价
//
// 校验 -> 代理出价计算 -> 防狙击顺延 -> 冻结/解冻 -> 写入 -> 通知，全部在一个事务里完成
func (s *AuctionService) PlaceBid(ctx context.Context, req *PlaceBidRequest) (*BidResult, error) {
	attempt := BidAttempt{UserID: req.UserID, Amount: req.Amount, AutoBidMax: req.AutoBidMax}
	if err := s.validator.CheckInput(req.AuctionID, attempt); err != nil {
		return nil, err
	}

	unlock, err := s.lockAuction(ctx, req.AuctionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var result *BidResult
	err = retryOnConflict(ctx, s.maxRetries(), func() error {
		leader, err := s.activeLeader(ctx, req.AuctionID)
		if err != nil {
			return fmt.Errorf("查询领先出价失败: %w", err)
		}

		userIDs := []int64{req.UserID}
		if leader != nil {
			userIDs = append(userIDs, leader.UserID)
		}
		unlockWallets, err := s.lockWallets(ctx, userIDs...)
		if err != nil {
			return err
		}
		defer unlockWallets()

		return s.store.Atomic(ctx, func(tx repository.Tx) error {
			var err error
			result, err = s.placeBidTx(ctx, tx, req, attempt, leader)
			return err
		})
	})

	fields := log.Fields{
		"auction_id": req.AuctionID,
		"user_id":    req.UserID,
		"amount":     req.Amount,
	}
	if err != nil {
		s.log.WithFields(fields).WithError(err).Info("出价未被接受")
		return nil, err
	}

	fields["current_bid"] = result.CurrentBid
	fields["is_leading"] = result.IsLeading
	fields["extended"] = result.Extended
	s.log.WithFields(fields).Info("出价成功")
	return result, nil
}

func (s *AuctionService) placeBidTx(ctx context.Context, tx repository.Tx, req *PlaceBidRequest, attempt BidAttempt, expected *model.Bid) (*BidResult, error) {
	auction, err := tx.Auctions().Get(ctx, req.AuctionID)
	if err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("查询拍卖失败: %w", err)
		}
		auction = nil
	}

	wallet, err := tx.Wallets().GetOrCreate(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("获取钱包失败: %w", err)
	}

	now := s.now()
	if err := s.validator.Validate(auction, wallet, attempt, now); err != nil {
		return nil, err
	}

	leader, err := tx.Bids().GetActive(ctx, auction.ID)
	if err != nil {
		return nil, fmt.Errorf("查询领先出价失败: %w", err)
	}
	if !sameLeader(expected, leader) {
		return nil, repository.ErrOptimisticLock
	}

	in := ProxyInput{
		HasLeader:      leader != nil,
		IncomingAmount: req.Amount,
		MinIncrement:   auction.MinIncrement,
	}
	if auction.BuyNowPrice != nil {
		in.PriceCap = *auction.BuyNowPrice
	}
	if leader != nil {
		in.SameBidder = leader.UserID == req.UserID
		in.LeaderAmount = leader.Amount
		if leader.AutoBidMax != nil {
			in.LeaderCeiling = *leader.AutoBidMax
		}
		if !in.SameBidder {
			leaderWallet, err := tx.Wallets().GetOrCreate(ctx, leader.UserID)
			if err != nil {
				return nil, fmt.Errorf("获取领先者钱包失败: %w", err)
			}
			in.LeaderFunds = leader.HeldAmount + leaderWallet.BalancePoints
		}
	}
	outcome := s.agent.Resolve(in)

	bid := &model.Bid{
		ID:         idgen.NextID(),
		AuctionID:  auction.ID,
		UserID:     req.UserID,
		Amount:     outcome.IncomingAmount,
		AutoBidMax: req.AutoBidMax,
		CreatedAt:  now,
	}
	ref := bidRef(bid)

	var outbidUser int64
	if outcome.IncomingLeads {
		if leader != nil {
			if err := s.releaseBid(ctx, tx, leader, model.BidStatusOutbid, "出价被超越，解冻"); err != nil {
				return nil, err
			}
			if !in.SameBidder {
				outbidUser = leader.UserID
			}
		}
		if _, err := s.ledger.Reserve(ctx, tx, req.UserID, outcome.LeadingAmount, ref, "出价冻结"); err != nil {
			return nil, err
		}
		bid.Status = model.BidStatusActive
		bid.HeldAmount = outcome.LeadingAmount
		if err := tx.Bids().Create(ctx, bid); err != nil {
			return nil, fmt.Errorf("记录出价失败: %w", err)
		}
		auction.LeadingBidID = &bid.ID
	} else {
		// 被自动出价压过的出价照常冻结再解冻，流水中保留这次出价
		if _, err := s.ledger.Reserve(ctx, tx, req.UserID, req.Amount, ref, "出价冻结"); err != nil {
			return nil, err
		}
		if _, err := s.ledger.Release(ctx, tx, req.UserID, req.Amount, ref, "被自动出价超越，解冻"); err != nil {
			return nil, err
		}
		bid.Status = model.BidStatusOutbid
		if err := tx.Bids().Create(ctx, bid); err != nil {
			return nil, fmt.Errorf("记录出价失败: %w", err)
		}

		if delta := outcome.LeadingAmount - leader.HeldAmount; delta > 0 {
			if _, err := s.ledger.Reserve(ctx, tx, leader.UserID, delta, bidRef(leader), "自动出价加价冻结"); err != nil {
				return nil, err
			}
			leader.HeldAmount += delta
		}
		leader.Amount = outcome.LeadingAmount
		leader.UpdatedAt = now
		if err := tx.Bids().Update(ctx, leader); err != nil {
			return nil, fmt.Errorf("更新领先出价失败: %w", err)
		}
		outbidUser = req.UserID
	}

	auction.CurrentBid = outcome.LeadingAmount
	auction.TotalBids++
	extended := s.extender.Apply(auction, now)
	if err := tx.Auctions().Update(ctx, auction); err != nil {
		return nil, err
	}

	if outbidUser != 0 {
		if err := s.notifier.Outbid(ctx, tx, auction, outbidUser, auction.CurrentBid); err != nil {
			return nil, err
		}
	}

	return &BidResult{
		Bid:        bid,
		IsLeading:  outcome.IncomingLeads,
		CurrentBid: auction.CurrentBid,
		MinNextBid: auction.MinNextBid(),
		EndTime:    auction.EndTime,
		Extended:   extended,
	}, nil
}

// BuyNow 以一口价直接成交，不经过过期扫描
func (s *AuctionService) BuyNow(ctx context.Context, auctionID, userID int64) (*SettlementResult, error) {
	if auctionID <= 0 || userID <= 0 {
		return nil, errs.Validation("auction_id/user_id 不合法")
	}

	unlock, err := s.lockAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var result *SettlementResult
	err = retryOnConflict(ctx, s.maxRetries(), func() error {
		leader, err := s.activeLeader(ctx, auctionID)
		if err != nil {
			return fmt.Errorf("查询领先出价失败: %w", err)
		}

		userIDs := []int64{userID}
		if leader != nil {
			userIDs = append(userIDs, leader.UserID)
		}
		unlockWallets, err := s.lockWallets(ctx, userIDs...)
		if err != nil {
			return err
		}
		defer unlockWallets()

		return s.store.Atomic(ctx, func(tx repository.Tx) error {
			var err error
			result, err = s.buyNowTx(ctx, tx, auctionID, userID, leader)
			return err
		})
	})
	if err != nil {
		s.log.WithFields(log.Fields{"auction_id": auctionID, "user_id": userID}).WithError(err).Info("一口价未成交")
		return nil, err
	}

	s.log.WithFields(log.Fields{
		"auction_id":  auctionID,
		"user_id":     userID,
		"final_price": result.FinalPrice,
	}).Info("一口价成交")
	return result, nil
}

func (s *AuctionService) buyNowTx(ctx context.Context, tx repository.Tx, auctionID, userID int64, expected *model.Bid) (*SettlementResult, error) {
	auction, err := tx.Auctions().Get(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !auction.BuyNowAvailable(now) {
		return nil, fmt.Errorf("%w: auctionID=%d, status=%s, current=%d", errs.ErrBuyNowUnavailable, auction.ID, auction.Status, auction.CurrentBid)
	}
	if auction.SellerID == userID {
		return nil, errs.Validation("卖家不能购买自己的拍品")
	}

	leader, err := tx.Bids().GetActive(ctx, auction.ID)
	if err != nil {
		return nil, fmt.Errorf("查询领先出价失败: %w", err)
	}
	if !sameLeader(expected, leader) {
		return nil, repository.ErrOptimisticLock
	}

	if leader != nil {
		if err := s.releaseBid(ctx, tx, leader, model.BidStatusLost, "一口价成交，解冻"); err != nil {
			return nil, err
		}
		if leader.UserID != userID {
			if err := s.notifier.Outbid(ctx, tx, auction, leader.UserID, *auction.BuyNowPrice); err != nil {
				return nil, err
			}
		}
	}

	price := *auction.BuyNowPrice
	bid := &model.Bid{
		ID:        idgen.NextID(),
		AuctionID: auction.ID,
		UserID:    userID,
		Amount:    price,
		Status:    model.BidStatusWon,
		CreatedAt: now,
	}
	ref := bidRef(bid)
	if _, err := s.ledger.Reserve(ctx, tx, userID, price, ref, "一口价冻结"); err != nil {
		return nil, err
	}
	if _, err := s.ledger.Settle(ctx, tx, userID, price, ref, "一口价成交"); err != nil {
		return nil, err
	}
	if err := tx.Bids().Create(ctx, bid); err != nil {
		return nil, fmt.Errorf("记录出价失败: %w", err)
	}

	auction.Status = model.AuctionStatusClosedSold
	auction.CurrentBid = price
	auction.LeadingBidID = &bid.ID
	auction.WinnerID = &userID
	auction.TotalBids++
	auction.EndTime = now
	if err := tx.Auctions().Update(ctx, auction); err != nil {
		return nil, err
	}

	if err := s.notifyClosed(ctx, tx, auction, bid); err != nil {
		return nil, err
	}

	return newSettlementResult(auction), nil
}

// releaseBid 解冻出价占用的积分并把出价置为 status
func (s *AuctionService) releaseBid(ctx context.Context, tx repository.Tx, bid *model.Bid, status, desc string) error {
	if bid.HeldAmount > 0 {
		if _, err := s.ledger.Release(ctx, tx, bid.UserID, bid.HeldAmount, bidRef(bid), desc); err != nil {
			return err
		}
	}
	bid.HeldAmount = 0
	bid.Status = status
	if err := tx.Bids().Update(ctx, bid); err != nil {
		return fmt.Errorf("更新出价失败: %w", err)
	}
	return nil
}

func bidRef(bid *model.Bid) string {
	return fmt.Sprintf("auction:%d:bid:%d", bid.AuctionID, bid.ID)
}
