package service

import (
	"fmt"
	"time"

	"fanbid/internal/errs"
	"fanbid/internal/model"
)

// BidAttempt 一次出价尝试
type BidAttempt struct {
	UserID     int64
	Amount     int64
	AutoBidMax *int64
}

// BidValidator 无状态规则校验，失败时没有任何副作用
type BidValidator struct{}

func NewBidValidator() *BidValidator {
	return &BidValidator{}
}

// CheckInput 不依赖任何状态的参数检查
func (v *BidValidator) CheckInput(auctionID int64, attempt BidAttempt) error {
	if auctionID <= 0 {
		return errs.Validation("auction_id 不合法: %d", auctionID)
	}
	if attempt.UserID <= 0 {
		return errs.Validation("user_id 不合法: %d", attempt.UserID)
	}
	if attempt.Amount <= 0 {
		return errs.Validation("出价必须大于0: %d", attempt.Amount)
	}
	return nil
}

// Validate 按顺序检查：
//  1. 拍卖存在、进行中且未到截止时间
//  2. 出价 >= 当前价 + 最小加价
//  3. 可用积分 >= 出价
//  4. 自动出价上限 >= 出价
//  5. 不超过一口价，卖家不能参与自己的拍卖
func (v *BidValidator) Validate(auction *model.Auction, wallet *model.Wallet, attempt BidAttempt, now time.Time) error {
	if auction == nil {
		return fmt.Errorf("%w: 拍卖不存在", errs.ErrAuctionClosed)
	}
	if auction.Status != model.AuctionStatusActive || !now.Before(auction.EndTime) {
		return fmt.Errorf("%w: auctionID=%d, status=%s", errs.ErrAuctionClosed, auction.ID, auction.Status)
	}

	if minimum := auction.MinNextBid(); attempt.Amount < minimum {
		return &errs.BidTooLowError{Amount: attempt.Amount, Minimum: minimum}
	}

	if wallet.BalancePoints < attempt.Amount {
		return fmt.Errorf("%w: 可用=%d, 出价=%d", errs.ErrInsufficientFunds, wallet.BalancePoints, attempt.Amount)
	}

	if attempt.AutoBidMax != nil && *attempt.AutoBidMax < attempt.Amount {
		return fmt.Errorf("%w: 上限=%d, 出价=%d", errs.ErrInvalidAutoBid, *attempt.AutoBidMax, attempt.Amount)
	}

	if auction.BuyNowPrice != nil && attempt.Amount > *auction.BuyNowPrice {
		return errs.Validation("出价 %d 超过一口价 %d，请直接使用一口价", attempt.Amount, *auction.BuyNowPrice)
	}

	if attempt.UserID == auction.SellerID {
		return errs.Validation("卖家不能对自己的拍卖出价")
	}

	return nil
}
