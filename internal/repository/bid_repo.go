package repository

import (
	"context"
	"errors"

	"fanbid/internal/model"

	"gorm.io/gorm"
)

type BidRepository struct {
	db *gorm.DB
}

func NewBidRepository(db *gorm.DB) *BidRepository {
	return &BidRepository{db: db}
}

func (r *BidRepository) Create(ctx context.Context, bid *model.Bid) error {
	return r.db.WithContext(ctx).Create(bid).Error
}

func (r *BidRepository) Get(ctx context.Context, id int64) (*model.Bid, error) {
	var bid model.Bid
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&bid).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBidNotFound
		}
		return nil, err
	}
	return &bid, nil
}

// Update 出价记录受拍卖版本号保护，这里直接覆盖
func (r *BidRepository) Update(ctx context.Context, bid *model.Bid) error {
	result := r.db.WithContext(ctx).
		Model(&model.Bid{}).
		Where("id = ?", bid.ID).
		Updates(map[string]interface{}{
			"amount":       bid.Amount,
			"auto_bid_max": bid.AutoBidMax,
			"held_amount":  bid.HeldAmount,
			"status":       bid.Status,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBidNotFound
	}
	return nil
}

func (r *BidRepository) GetActive(ctx context.Context, auctionID int64) (*model.Bid, error) {
	var bid model.Bid
	err := r.db.WithContext(ctx).
		Where("auction_id = ? AND status = ?", auctionID, model.BidStatusActive).
		First(&bid).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &bid, nil
}

func (r *BidRepository) ListByAuction(ctx context.Context, auctionID int64) ([]*model.Bid, error) {
	var bids []*model.Bid
	err := r.db.WithContext(ctx).
		Where("auction_id = ?", auctionID).
		Order("created_at ASC, id ASC").
		Find(&bids).Error
	return bids, err
}

func (r *BidRepository) DeleteByAuction(ctx context.Context, auctionID int64) error {
	return r.db.WithContext(ctx).Where("auction_id = ?", auctionID).Delete(&model.Bid{}).Error
}
