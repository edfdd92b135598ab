package repository

import (
	"context"
	"errors"
	"time"

	"fanbid/internal/model"

	"gorm.io/gorm"
)

type AuctionRepository struct {
	db *gorm.DB
}

func NewAuctionRepository(db *gorm.DB) *AuctionRepository {
	return &AuctionRepository{db: db}
}

func (r *AuctionRepository) Create(ctx context.Context, auction *model.Auction) error {
	return r.db.WithContext(ctx).Create(auction).Error
}

func (r *AuctionRepository) Get(ctx context.Context, id int64) (*model.Auction, error) {
	var auction model.Auction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&auction).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAuctionNotFound
		}
		return nil, err
	}
	return &auction, nil
}

func (r *AuctionRepository) Update(ctx context.Context, auction *model.Auction) error {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&model.Auction{}).
		Where("id = ? AND version = ?", auction.ID, auction.Version).
		Updates(map[string]interface{}{
			"current_bid":    auction.CurrentBid,
			"end_time":       auction.EndTime,
			"status":         auction.Status,
			"winner_id":      auction.WinnerID,
			"leading_bid_id": auction.LeadingBidID,
			"total_bids":     auction.TotalBids,
			"watchers":       auction.Watchers,
			"version":        gorm.Expr("version + 1"),
			"updated_at":     now,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.Get(ctx, auction.ID); err != nil {
			return err
		}
		return ErrOptimisticLock
	}

	auction.Version++
	auction.UpdatedAt = now
	return nil
}

func (r *AuctionRepository) Delete(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Auction{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAuctionNotFound
	}
	return nil
}

// ListDue 查询已到期仍处于 active 的拍卖，走 (status, end_time) 索引
func (r *AuctionRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Auction, error) {
	var auctions []*model.Auction
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_time <= ?", model.AuctionStatusActive, now).
		Order("end_time ASC").
		Limit(limit).
		Find(&auctions).Error
	return auctions, err
}

func (r *AuctionRepository) ListStartable(ctx context.Context, now time.Time, limit int) ([]*model.Auction, error) {
	var auctions []*model.Auction
	err := r.db.WithContext(ctx).
		Where("status = ? AND start_time <= ?", model.AuctionStatusScheduled, now).
		Order("start_time ASC").
		Limit(limit).
		Find(&auctions).Error
	return auctions, err
}

func (r *AuctionRepository) List(ctx context.Context, status string, page, pageSize int) ([]*model.Auction, int64, error) {
	var auctions []*model.Auction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Auction{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	offset, limit := pageWindow(page, pageSize)
	err = query.
		Order("end_time ASC").
		Offset(offset).
		Limit(limit).
		Find(&auctions).Error

	return auctions, total, err
}
