package memory

import (
	"context"
	"sync"

	"fanbid/internal/model"
	"fanbid/internal/repository"
)

// Store 内存版存储，用于单机部署和测试
//
// 记录以 id 为键保存在各自的 map 中，读写都返回拷贝。
// 拍卖另外维护 end_time / start_time 两个堆索引供扫描使用。
// Atomic 持有全局互斥锁执行，出错时按 undo 日志逆序回滚。
type Store struct {
	mu sync.Mutex

	auctions      map[int64]*model.Auction
	bids          map[int64]*model.Bid
	bidsByAuction map[int64][]int64
	wallets       map[int64]*model.Wallet
	transactions  []*model.Transaction
	txByUser      map[int64][]int
	notifications map[int64]*model.Notification
	notifyOrder   []int64
	notifyDedup   map[notifyKey]int64

	endIndex   timeIndex
	startIndex timeIndex

	nextWalletID int64
}

type notifyKey struct {
	userID    int64
	auctionID int64
	eventType string
}

var _ repository.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		auctions:      make(map[int64]*model.Auction),
		bids:          make(map[int64]*model.Bid),
		bidsByAuction: make(map[int64][]int64),
		wallets:       make(map[int64]*model.Wallet),
		txByUser:      make(map[int64][]int),
		notifications: make(map[int64]*model.Notification),
		notifyDedup:   make(map[notifyKey]int64),
	}
}

func (s *Store) Atomic(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &memTx{s: s}
	if err := fn(t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

// Read 与 Atomic 共用同一把锁，读到的是一致快照
func (s *Store) Read(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.Atomic(ctx, fn)
}

type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) onRollback(f func()) {
	t.undo = append(t.undo, f)
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) Auctions() repository.Auctions           { return auctionRepo{t} }
func (t *memTx) Bids() repository.Bids                   { return bidRepo{t} }
func (t *memTx) Wallets() repository.Wallets             { return walletRepo{t} }
func (t *memTx) Transactions() repository.Transactions   { return transactionRepo{t} }
func (t *memTx) Notifications() repository.Notifications { return notificationRepo{t} }

// putAuction 写入拍卖并刷新索引，旧索引条目在查询时被过滤
func (s *Store) putAuction(a *model.Auction) {
	s.auctions[a.ID] = a
	switch a.Status {
	case model.AuctionStatusActive:
		s.endIndex.push(a.ID, a.EndTime)
	case model.AuctionStatusScheduled:
		s.startIndex.push(a.ID, a.StartTime)
	}
}
