package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"fanbid/internal/model"
	"fanbid/internal/repository"
)

// ============================================================================
// 拍卖
// ============================================================================

type auctionRepo struct{ t *memTx }

func (r auctionRepo) Create(_ context.Context, auction *model.Auction) error {
	s := r.t.s
	if _, exists := s.auctions[auction.ID]; exists {
		return fmt.Errorf("拍卖已存在: id=%d", auction.ID)
	}
	now := time.Now()
	if auction.CreatedAt.IsZero() {
		auction.CreatedAt = now
	}
	auction.UpdatedAt = now
	s.putAuction(auction.Clone())
	r.t.onRollback(func() { delete(s.auctions, auction.ID) })
	return nil
}

func (r auctionRepo) Get(_ context.Context, id int64) (*model.Auction, error) {
	a, ok := r.t.s.auctions[id]
	if !ok {
		return nil, repository.ErrAuctionNotFound
	}
	return a.Clone(), nil
}

func (r auctionRepo) Update(_ context.Context, auction *model.Auction) error {
	s := r.t.s
	old, ok := s.auctions[auction.ID]
	if !ok {
		return repository.ErrAuctionNotFound
	}
	if old.Version != auction.Version {
		return repository.ErrOptimisticLock
	}

	auction.Version++
	auction.UpdatedAt = time.Now()
	s.putAuction(auction.Clone())
	r.t.onRollback(func() { s.putAuction(old) })
	return nil
}

func (r auctionRepo) Delete(_ context.Context, id int64) error {
	s := r.t.s
	old, ok := s.auctions[id]
	if !ok {
		return repository.ErrAuctionNotFound
	}
	delete(s.auctions, id)
	r.t.onRollback(func() { s.putAuction(old) })
	return nil
}

func (r auctionRepo) ListDue(_ context.Context, now time.Time, limit int) ([]*model.Auction, error) {
	s := r.t.s
	ids := s.endIndex.due(now, limit, func(id int64, at time.Time) bool {
		a, ok := s.auctions[id]
		return ok && a.Status == model.AuctionStatusActive && a.EndTime.Equal(at)
	})
	return r.collect(ids), nil
}

func (r auctionRepo) ListStartable(_ context.Context, now time.Time, limit int) ([]*model.Auction, error) {
	s := r.t.s
	ids := s.startIndex.due(now, limit, func(id int64, at time.Time) bool {
		a, ok := s.auctions[id]
		return ok && a.Status == model.AuctionStatusScheduled && a.StartTime.Equal(at)
	})
	return r.collect(ids), nil
}

func (r auctionRepo) List(_ context.Context, status string, page, pageSize int) ([]*model.Auction, int64, error) {
	var all []*model.Auction
	for _, a := range r.t.s.auctions {
		if status == "" || a.Status == status {
			all = append(all, a)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].EndTime.Equal(all[j].EndTime) {
			return all[i].ID < all[j].ID
		}
		return all[i].EndTime.Before(all[j].EndTime)
	})

	total := int64(len(all))
	start, end := pageBounds(len(all), page, pageSize)
	result := make([]*model.Auction, 0, end-start)
	for _, a := range all[start:end] {
		result = append(result, a.Clone())
	}
	return result, total, nil
}

func (r auctionRepo) collect(ids []int64) []*model.Auction {
	result := make([]*model.Auction, 0, len(ids))
	for _, id := range ids {
		result = append(result, r.t.s.auctions[id].Clone())
	}
	return result
}

// ============================================================================
// 出价
// ============================================================================

type bidRepo struct{ t *memTx }

func (r bidRepo) Create(_ context.Context, bid *model.Bid) error {
	s := r.t.s
	if _, exists := s.bids[bid.ID]; exists {
		return fmt.Errorf("出价已存在: id=%d", bid.ID)
	}
	if bid.CreatedAt.IsZero() {
		bid.CreatedAt = time.Now()
	}
	bid.UpdatedAt = bid.CreatedAt
	s.bids[bid.ID] = bid.Clone()
	prev := s.bidsByAuction[bid.AuctionID]
	s.bidsByAuction[bid.AuctionID] = append(prev[:len(prev):len(prev)], bid.ID)
	r.t.onRollback(func() {
		delete(s.bids, bid.ID)
		s.bidsByAuction[bid.AuctionID] = prev
	})
	return nil
}

func (r bidRepo) Get(_ context.Context, id int64) (*model.Bid, error) {
	b, ok := r.t.s.bids[id]
	if !ok {
		return nil, repository.ErrBidNotFound
	}
	return b.Clone(), nil
}

func (r bidRepo) Update(_ context.Context, bid *model.Bid) error {
	s := r.t.s
	old, ok := s.bids[bid.ID]
	if !ok {
		return repository.ErrBidNotFound
	}
	bid.UpdatedAt = time.Now()
	s.bids[bid.ID] = bid.Clone()
	r.t.onRollback(func() { s.bids[bid.ID] = old })
	return nil
}

func (r bidRepo) GetActive(_ context.Context, auctionID int64) (*model.Bid, error) {
	s := r.t.s
	for _, id := range s.bidsByAuction[auctionID] {
		if b := s.bids[id]; b.Status == model.BidStatusActive {
			return b.Clone(), nil
		}
	}
	return nil, nil
}

func (r bidRepo) ListByAuction(_ context.Context, auctionID int64) ([]*model.Bid, error) {
	s := r.t.s
	ids := s.bidsByAuction[auctionID]
	result := make([]*model.Bid, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.bids[id].Clone())
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r bidRepo) DeleteByAuction(_ context.Context, auctionID int64) error {
	s := r.t.s
	ids := s.bidsByAuction[auctionID]
	removed := make([]*model.Bid, 0, len(ids))
	for _, id := range ids {
		removed = append(removed, s.bids[id])
		delete(s.bids, id)
	}
	delete(s.bidsByAuction, auctionID)
	r.t.onRollback(func() {
		for _, b := range removed {
			s.bids[b.ID] = b
		}
		s.bidsByAuction[auctionID] = ids
	})
	return nil
}

// ============================================================================
// 钱包
// ============================================================================

type walletRepo struct{ t *memTx }

func (r walletRepo) Get(_ context.Context, userID int64) (*model.Wallet, error) {
	w, ok := r.t.s.wallets[userID]
	if !ok {
		return nil, repository.ErrWalletNotFound
	}
	c := *w
	return &c, nil
}

func (r walletRepo) GetOrCreate(ctx context.Context, userID int64) (*model.Wallet, error) {
	s := r.t.s
	if _, ok := s.wallets[userID]; !ok {
		s.nextWalletID++
		now := time.Now()
		s.wallets[userID] = &model.Wallet{
			ID:        s.nextWalletID,
			UserID:    userID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		r.t.onRollback(func() { delete(s.wallets, userID) })
	}
	return r.Get(ctx, userID)
}

func (r walletRepo) Update(_ context.Context, wallet *model.Wallet) error {
	s := r.t.s
	old, ok := s.wallets[wallet.UserID]
	if !ok {
		return repository.ErrWalletNotFound
	}
	if wallet.BalancePoints < 0 || wallet.HeldPoints < 0 {
		return repository.ErrNegativeBalance
	}
	if old.Version != wallet.Version {
		return repository.ErrOptimisticLock
	}
	wallet.Version++
	wallet.UpdatedAt = time.Now()
	c := *wallet
	s.wallets[wallet.UserID] = &c
	r.t.onRollback(func() { s.wallets[wallet.UserID] = old })
	return nil
}

// ============================================================================
// 流水
// ============================================================================

type transactionRepo struct{ t *memTx }

func (r transactionRepo) Create(_ context.Context, trans *model.Transaction) error {
	s := r.t.s
	if trans.CreatedAt.IsZero() {
		trans.CreatedAt = time.Now()
	}
	c := *trans
	s.transactions = append(s.transactions, &c)
	s.txByUser[trans.UserID] = append(s.txByUser[trans.UserID], len(s.transactions)-1)
	r.t.onRollback(func() {
		s.transactions = s.transactions[:len(s.transactions)-1]
		idx := s.txByUser[trans.UserID]
		s.txByUser[trans.UserID] = idx[:len(idx)-1]
	})
	return nil
}

func (r transactionRepo) ListByUserID(_ context.Context, userID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	all := r.userTransactions(userID)
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	start, end := pageBounds(len(all), page, pageSize)
	return all[start:end], int64(len(all)), nil
}

func (r transactionRepo) ListAllByUserID(_ context.Context, userID int64) ([]*model.Transaction, error) {
	return r.userTransactions(userID), nil
}

func (r transactionRepo) ExistsByReference(_ context.Context, userID int64, txType, referenceID string) (bool, error) {
	s := r.t.s
	for _, i := range s.txByUser[userID] {
		t := s.transactions[i]
		if t.Type == txType && t.ReferenceID == referenceID {
			return true, nil
		}
	}
	return false, nil
}

func (r transactionRepo) userTransactions(userID int64) []*model.Transaction {
	s := r.t.s
	idx := s.txByUser[userID]
	result := make([]*model.Transaction, 0, len(idx))
	for _, i := range idx {
		c := *s.transactions[i]
		result = append(result, &c)
	}
	return result
}

// ============================================================================
// 通知发件箱
// ============================================================================

type notificationRepo struct{ t *memTx }

func (r notificationRepo) CreateIfAbsent(_ context.Context, n *model.Notification) (bool, error) {
	s := r.t.s
	key := notifyKey{userID: n.UserID, auctionID: n.AuctionID, eventType: n.EventType}
	if _, exists := s.notifyDedup[key]; exists {
		return false, nil
	}
	now := time.Now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	if n.Status == "" {
		n.Status = model.NotificationStatusPending
	}
	c := *n
	s.notifications[n.ID] = &c
	s.notifyDedup[key] = n.ID
	s.notifyOrder = append(s.notifyOrder, n.ID)
	r.t.onRollback(func() {
		delete(s.notifications, n.ID)
		delete(s.notifyDedup, key)
		s.notifyOrder = s.notifyOrder[:len(s.notifyOrder)-1]
	})
	return true, nil
}

func (r notificationRepo) ListPending(_ context.Context, limit int) ([]*model.Notification, error) {
	s := r.t.s
	var result []*model.Notification
	for _, id := range s.notifyOrder {
		if len(result) >= limit {
			break
		}
		n, ok := s.notifications[id]
		if !ok || n.Status != model.NotificationStatusPending {
			continue
		}
		c := *n
		result = append(result, &c)
	}
	return result, nil
}

func (r notificationRepo) ListByAuction(_ context.Context, auctionID int64) ([]*model.Notification, error) {
	s := r.t.s
	var result []*model.Notification
	for _, id := range s.notifyOrder {
		n, ok := s.notifications[id]
		if !ok || n.AuctionID != auctionID {
			continue
		}
		c := *n
		result = append(result, &c)
	}
	return result, nil
}

func (r notificationRepo) MarkSent(_ context.Context, id int64) error {
	return r.mutate(id, func(n *model.Notification) { n.Status = model.NotificationStatusSent })
}

func (r notificationRepo) IncrementRetryCount(_ context.Context, id int64) error {
	return r.mutate(id, func(n *model.Notification) { n.RetryCount++ })
}

func (r notificationRepo) MarkAsFailed(_ context.Context, id int64) error {
	return r.mutate(id, func(n *model.Notification) { n.Status = model.NotificationStatusFailed })
}

func (r notificationRepo) mutate(id int64, f func(n *model.Notification)) error {
	s := r.t.s
	old, ok := s.notifications[id]
	if !ok {
		return fmt.Errorf("通知不存在: id=%d", id)
	}
	c := *old
	f(&c)
	c.UpdatedAt = time.Now()
	s.notifications[id] = &c
	r.t.onRollback(func() { s.notifications[id] = old })
	return nil
}

func pageBounds(n, page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	start := (page - 1) * pageSize
	if start > n {
		start = n
	}
	end := start + pageSize
	if end > n {
		end = n
	}
	return start, end
}
