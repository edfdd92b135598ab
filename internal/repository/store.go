package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fanbid/internal/errs"
	"fanbid/internal/model"

	"gorm.io/gorm"
)

var (
	ErrAuctionNotFound = fmt.Errorf("拍卖%w", errs.ErrNotFound)
	ErrBidNotFound     = fmt.Errorf("出价%w", errs.ErrNotFound)
	ErrWalletNotFound  = fmt.Errorf("钱包%w", errs.ErrNotFound)
	ErrOptimisticLock  = errors.New("乐观锁冲突，请重试")
	ErrNegativeBalance = fmt.Errorf("钱包余额不能为负: %w", errs.ErrInsufficientFunds)
)

// Store 拍卖引擎的持久化入口
// Atomic 内的所有写操作要么全部生效要么全部回滚
type Store interface {
	Atomic(ctx context.Context, fn func(tx Tx) error) error
	Read(ctx context.Context, fn func(tx Tx) error) error
}

type Tx interface {
	Auctions() Auctions
	Bids() Bids
	Wallets() Wallets
	Transactions() Transactions
	Notifications() Notifications
}

type Auctions interface {
	Create(ctx context.Context, auction *model.Auction) error
	Get(ctx context.Context, id int64) (*model.Auction, error)
	// Update 按 version 做乐观锁更新，成功后 auction.Version 自增
	Update(ctx context.Context, auction *model.Auction) error
	Delete(ctx context.Context, id int64) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Auction, error)
	ListStartable(ctx context.Context, now time.Time, limit int) ([]*model.Auction, error)
	List(ctx context.Context, status string, page, pageSize int) ([]*model.Auction, int64, error)
}

type Bids interface {
	Create(ctx context.Context, bid *model.Bid) error
	Get(ctx context.Context, id int64) (*model.Bid, error)
	Update(ctx context.Context, bid *model.Bid) error
	// GetActive 没有领先出价时返回 nil, nil
	GetActive(ctx context.Context, auctionID int64) (*model.Bid, error)
	ListByAuction(ctx context.Context, auctionID int64) ([]*model.Bid, error)
	DeleteByAuction(ctx context.Context, auctionID int64) error
}

type Wallets interface {
	Get(ctx context.Context, userID int64) (*model.Wallet, error)
	GetOrCreate(ctx context.Context, userID int64) (*model.Wallet, error)
	// Update 按 version 做乐观锁更新，成功后 wallet.Version 自增
	Update(ctx context.Context, wallet *model.Wallet) error
}

type Transactions interface {
	Create(ctx context.Context, trans *model.Transaction) error
	ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Transaction, int64, error)
	ListAllByUserID(ctx context.Context, userID int64) ([]*model.Transaction, error)
	ExistsByReference(ctx context.Context, userID int64, txType, referenceID string) (bool, error)
}

type Notifications interface {
	// CreateIfAbsent 按 (user_id, auction_id, event_type) 去重，重复时返回 false
	CreateIfAbsent(ctx context.Context, n *model.Notification) (bool, error)
	ListPending(ctx context.Context, limit int) ([]*model.Notification, error)
	ListByAuction(ctx context.Context, auctionID int64) ([]*model.Notification, error)
	MarkSent(ctx context.Context, id int64) error
	IncrementRetryCount(ctx context.Context, id int64) error
	MarkAsFailed(ctx context.Context, id int64) error
}

// ============================================================================
// gorm 实现
// ============================================================================

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(newGormTx(tx))
	})
}

func (s *GormStore) Read(ctx context.Context, fn func(tx Tx) error) error {
	return fn(newGormTx(s.db.WithContext(ctx)))
}

type gormTx struct {
	auctions      *AuctionRepository
	bids          *BidRepository
	wallets       *WalletRepository
	transactions  *TransactionRepository
	notifications *NotificationRepository
}

func newGormTx(db *gorm.DB) *gormTx {
	return &gormTx{
		auctions:      NewAuctionRepository(db),
		bids:          NewBidRepository(db),
		wallets:       NewWalletRepository(db),
		transactions:  NewTransactionRepository(db),
		notifications: NewNotificationRepository(db),
	}
}

func (t *gormTx) Auctions() Auctions           { return t.auctions }
func (t *gormTx) Bids() Bids                   { return t.bids }
func (t *gormTx) Wallets() Wallets             { return t.wallets }
func (t *gormTx) Transactions() Transactions   { return t.transactions }
func (t *gormTx) Notifications() Notifications { return t.notifications }

// pageWindow 页码从 1 开始，page_size 默认 20，最大 100
func pageWindow(page, pageSize int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return (page - 1) * pageSize, pageSize
}
