package service

import (
	"context"
	"fmt"

	"fanbid/internal/errs"
	"fanbid/internal/model"
	"fanbid/internal/repository"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

type SettlementResult struct {
	AuctionID  int64  `json:"auction_id"`
	Status     string `json:"status"`
	WinnerID   *int64 `json:"winner_id,omitempty"`
	FinalPrice int64  `json:"final_price"`
	Skipped    bool   `json:"skipped,omitempty"` // 已是终态或尚未到期，未做任何变更
}

func newSettlementResult(auction *model.Auction) *SettlementResult {
	return &SettlementResult{
		AuctionID:  auction.ID,
		Status:     auction.Status,
		WinnerID:   auction.WinnerID,
		FinalPrice: auction.CurrentBid,
	}
}

// SettleExpired 结算一个已到期的拍卖，重复调用或已结算时返回 Skipped
func (s *AuctionService) SettleExpired(ctx context.Context, auctionID int64) (*SettlementResult, error) {
	return s.settle(ctx, auctionID, false)
}

// AdminForceClose 不等截止时间立即结算
func (s *AuctionService) AdminForceClose(ctx context.Context, auctionID int64) (*SettlementResult, error) {
	result, err := s.settle(ctx, auctionID, true)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(log.Fields{
		"auction_id": auctionID,
		"status":     result.Status,
		"skipped":    result.Skipped,
	}).Warn("管理员强制结束拍卖")
	return result, nil
}

func (s *AuctionService) settle(ctx context.Context, auctionID int64, force bool) (*SettlementResult, error) {
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

		var userIDs []int64
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
			result, err = s.settleTx(ctx, tx, auctionID, force, leader)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	if !result.Skipped {
		s.log.WithFields(log.Fields{
			"auction_id":  auctionID,
			"status":      result.Status,
			"final_price": result.FinalPrice,
		}).Info("拍卖已结算")
	}
	return result, nil
}

func (s *AuctionService) settleTx(ctx context.Context, tx repository.Tx, auctionID int64, force bool, expected *model.Bid) (*SettlementResult, error) {
	auction, err := tx.Auctions().Get(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if auction.IsTerminal() {
		return &SettlementResult{AuctionID: auction.ID, Status: auction.Status, WinnerID: auction.WinnerID, FinalPrice: auction.CurrentBid, Skipped: true}, nil
	}
	if !force && (auction.Status != model.AuctionStatusActive || now.Before(auction.EndTime)) {
		return &SettlementResult{AuctionID: auction.ID, Status: auction.Status, FinalPrice: auction.CurrentBid, Skipped: true}, nil
	}

	leader, err := tx.Bids().GetActive(ctx, auction.ID)
	if err != nil {
		return nil, fmt.Errorf("查询领先出价失败: %w", err)
	}
	if !sameLeader(expected, leader) {
		return nil, repository.ErrOptimisticLock
	}

	if force && now.Before(auction.EndTime) {
		auction.EndTime = now
	}

	var winner *model.Bid
	if leader != nil && auction.Status == model.AuctionStatusActive && auction.ReserveMet(leader.Amount) {
		if leader.HeldAmount > 0 {
			if _, err := s.ledger.Settle(ctx, tx, leader.UserID, leader.HeldAmount, bidRef(leader), "拍卖成交"); err != nil {
				return nil, err
			}
		}
		leader.HeldAmount = 0
		leader.Status = model.BidStatusWon
		if err := tx.Bids().Update(ctx, leader); err != nil {
			return nil, fmt.Errorf("更新出价失败: %w", err)
		}
		winner = leader
		auction.Status = model.AuctionStatusClosedSold
		auction.WinnerID = &leader.UserID
	} else {
		if leader != nil {
			if err := s.releaseBid(ctx, tx, leader, model.BidStatusLost, "未达保留价，解冻"); err != nil {
				return nil, err
			}
		}
		auction.Status = model.AuctionStatusClosedUnsold
	}

	if err := tx.Auctions().Update(ctx, auction); err != nil {
		return nil, err
	}

	if err := s.notifyClosed(ctx, tx, auction, winner); err != nil {
		return nil, err
	}
	return newSettlementResult(auction), nil
}

// AdminCancelAuction 取消未结束的拍卖，领先出价全额解冻
func (s *AuctionService) AdminCancelAuction(ctx context.Context, auctionID int64) (*SettlementResult, error) {
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
		var userIDs []int64
		if leader != nil {
			userIDs = append(userIDs, leader.UserID)
		}
		unlockWallets, err := s.lockWallets(ctx, userIDs...)
		if err != nil {
			return err
		}
		defer unlockWallets()

		return s.store.Atomic(ctx, func(tx repository.Tx) error {
			auction, err := tx.Auctions().Get(ctx, auctionID)
			if err != nil {
				return err
			}
			if !model.CanTransitionTo(auction.Status, model.AuctionStatusCancelled) {
				return fmt.Errorf("%w: auctionID=%d, status=%s", errs.ErrAuctionClosed, auction.ID, auction.Status)
			}

			active, err := tx.Bids().GetActive(ctx, auction.ID)
			if err != nil {
				return fmt.Errorf("查询领先出价失败: %w", err)
			}
			if !sameLeader(leader, active) {
				return repository.ErrOptimisticLock
			}
			if active != nil {
				if err := s.releaseBid(ctx, tx, active, model.BidStatusRefunded, "拍卖取消，解冻"); err != nil {
					return err
				}
			}

			auction.Status = model.AuctionStatusCancelled
			if err := tx.Auctions().Update(ctx, auction); err != nil {
				return err
			}
			if err := s.notifyClosed(ctx, tx, auction, nil); err != nil {
				return err
			}
			result = newSettlementResult(auction)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.WithField("auction_id", auctionID).Warn("管理员取消拍卖")
	return result, nil
}

// AdminDeleteAuction 删除拍卖及其出价
// 未结束的拍卖先解冻领先出价，已成交的拍卖把成交积分退回买家
func (s *AuctionService) AdminDeleteAuction(ctx context.Context, auctionID int64) error {
	unlock, err := s.lockAuction(ctx, auctionID)
	if err != nil {
		return err
	}
	defer unlock()

	return retryOnConflict(ctx, s.maxRetries(), func() error {
		var (
			before *model.Auction
			leader *model.Bid
		)
		err := s.store.Read(ctx, func(tx repository.Tx) error {
			var err error
			if before, err = tx.Auctions().Get(ctx, auctionID); err != nil {
				return err
			}
			leader, err = tx.Bids().GetActive(ctx, auctionID)
			return err
		})
		if err != nil {
			return err
		}

		var userIDs []int64
		if leader != nil {
			userIDs = append(userIDs, leader.UserID)
		}
		if before.WinnerID != nil {
			userIDs = append(userIDs, *before.WinnerID)
		}
		unlockWallets, err := s.lockWallets(ctx, userIDs...)
		if err != nil {
			return err
		}
		defer unlockWallets()

		return s.store.Atomic(ctx, func(tx repository.Tx) error {
			return s.deleteTx(ctx, tx, before, leader)
		})
	})
}

func (s *AuctionService) deleteTx(ctx context.Context, tx repository.Tx, before *model.Auction, expected *model.Bid) error {
	auction, err := tx.Auctions().Get(ctx, before.ID)
	if err != nil {
		return err
	}
	if auction.Version != before.Version {
		return repository.ErrOptimisticLock
	}

	active, err := tx.Bids().GetActive(ctx, auction.ID)
	if err != nil {
		return fmt.Errorf("查询领先出价失败: %w", err)
	}
	if !sameLeader(expected, active) {
		return repository.ErrOptimisticLock
	}

	if !auction.IsTerminal() && active != nil {
		if err := s.releaseBid(ctx, tx, active, model.BidStatusRefunded, "拍卖删除，解冻"); err != nil {
			return err
		}
	}

	refunded := int64(0)
	if auction.Status == model.AuctionStatusClosedSold && auction.WinnerID != nil {
		bids, err := tx.Bids().ListByAuction(ctx, auction.ID)
		if err != nil {
			return fmt.Errorf("查询出价失败: %w", err)
		}
		won, ok := lo.Find(bids, func(b *model.Bid) bool {
			return b.Status == model.BidStatusWon && b.UserID == *auction.WinnerID
		})
		if ok {
			if _, err := s.ledger.Refund(ctx, tx, won.UserID, won.Amount, bidRef(won), "拍卖删除，退回成交积分"); err != nil {
				return err
			}
			refunded = won.Amount
		}
	}

	if !auction.IsTerminal() {
		auction.Status = model.AuctionStatusCancelled
	}
	if err := s.notifyClosed(ctx, tx, auction, nil); err != nil {
		return err
	}

	if err := tx.Bids().DeleteByAuction(ctx, auction.ID); err != nil {
		return fmt.Errorf("删除出价失败: %w", err)
	}
	if err := tx.Auctions().Delete(ctx, auction.ID); err != nil {
		return fmt.Errorf("删除拍卖失败: %w", err)
	}

	s.log.WithFields(log.Fields{
		"auction_id": auction.ID,
		"refunded":   refunded,
	}).Warn("管理员删除拍卖")
	return nil
}

// notifyClosed 成交时通知买家，再通知卖家和所有出价者拍卖已结束
func (s *AuctionService) notifyClosed(ctx context.Context, tx repository.Tx, auction *model.Auction, winner *model.Bid) error {
	if winner != nil {
		if err := s.notifier.Won(ctx, tx, auction, winner.UserID, winner.Amount); err != nil {
			return err
		}
	}
	bids, err := tx.Bids().ListByAuction(ctx, auction.ID)
	if err != nil {
		return fmt.Errorf("查询出价失败: %w", err)
	}
	return s.notifier.Closed(ctx, tx, auction, bids)
}
