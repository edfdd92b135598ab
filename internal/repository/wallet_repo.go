package repository

import (
	"context"
	"errors"
	"time"

	"fanbid/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) Get(ctx context.Context, userID int64) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// Update 乐观锁更新；余额非负由 WalletLedger 保证，这里再兜底一次
func (r *WalletRepository) Update(ctx context.Context, wallet *model.Wallet) error {
	if wallet.BalancePoints < 0 || wallet.HeldPoints < 0 {
		return ErrNegativeBalance
	}
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ? AND version = ?", wallet.UserID, wallet.Version).
		Updates(map[string]interface{}{
			"balance_points": wallet.BalancePoints,
			"held_points":    wallet.HeldPoints,
			"total_earned":   wallet.TotalEarned,
			"total_spent":    wallet.TotalSpent,
			"version":        gorm.Expr("version + 1"),
			"updated_at":     now,
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.Get(ctx, wallet.UserID); err != nil {
			return err
		}
		return ErrOptimisticLock
	}

	wallet.Version++
	wallet.UpdatedAt = now
	return nil
}

func (r *WalletRepository) GetOrCreate(ctx context.Context, userID int64) (*model.Wallet, error) {
	wallet, err := r.Get(ctx, userID)
	if err == nil {
		return wallet, nil
	}

	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}

	newWallet := &model.Wallet{
		UserID: userID,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newWallet).Error

	if err != nil {
		return nil, err
	}

	return r.Get(ctx, userID)
}
