package lock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
	"github.com/google/uuid"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// Locker 按 key 互斥，返回的 unlock 可重复调用
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LockAll 按字典序依次加锁，保证多把锁之间不会死锁
func LockAll(ctx context.Context, locker Locker, keys ...string) (func(), error) {
	keys = lo.Uniq(keys)
	sort.Strings(keys)

	unlocks := make([]func(), 0, len(keys))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}

	for _, key := range keys {
		unlock, err := locker.Lock(ctx, key)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

// ============================================================================
// 进程内锁
// ============================================================================

// LocalLocker 进程内按 key 互斥，单实例部署使用
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(key, s)
		})
	}, nil
}

func (l *LocalLocker) release(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// ============================================================================
// Redis 锁
// ============================================================================

// RedisLocker 基于 DistributedLock，用于钱包维度
type RedisLocker struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
	maxRetries    int
	newOwner      func() string
}

func NewRedisLocker(client *redis.Client, ttl, retryInterval time.Duration, maxRetries int) *RedisLocker {
	return &RedisLocker{
		client:        client,
		ttl:           ttl,
		retryInterval: retryInterval,
		maxRetries:    maxRetries,
		newOwner:      uuid.NewString,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	dl := NewDistributedLock(l.client, key, l.newOwner(), l.ttl)
	if err := dl.Lock(ctx, l.retryInterval, l.maxRetries); err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := dl.Unlock(context.Background()); err != nil {
				log.WithField("key", key).WithError(err).Warn("释放分布式锁失败")
			}
		})
	}, nil
}

// RedsyncLocker 基于 redsync，用于拍卖维度；持锁期间按 ttl/3 自动续期
type RedsyncLocker struct {
	rs            *redsync.Redsync
	ttl           time.Duration
	renewInterval time.Duration
	retryInterval time.Duration
	maxRetries    int
}

func NewRedsyncLocker(client *redis.Client, ttl, retryInterval time.Duration, maxRetries int) *RedsyncLocker {
	return &RedsyncLocker{
		rs:            redsync.New(goredis.NewPool(client)),
		ttl:           ttl,
		renewInterval: max(ttl/3, time.Millisecond),
		retryInterval: retryInterval,
		maxRetries:    maxRetries,
	}
}

func (l *RedsyncLocker) Lock(ctx context.Context, key string) (func(), error) {
	mutex := l.rs.NewMutex(
		key,
		redsync.WithExpiry(l.ttl),
		redsync.WithTries(l.maxRetries),
		redsync.WithRetryDelay(l.retryInterval),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	done := keepAlive(key, l.renewInterval, mutex.ExtendContext, stop)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			if _, err := mutex.UnlockContext(context.Background()); err != nil {
				log.WithField("key", key).WithError(err).Warn("释放拍卖锁失败")
			}
		})
	}, nil
}

// keepAlive 每隔 interval 续期一次，直到 stop 关闭或续期失败；返回的 channel 在协程退出后关闭
func keepAlive(key string, interval time.Duration, extend func(ctx context.Context) (bool, error), stop <-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ok, err := extend(context.Background())
				if err != nil || !ok {
					log.WithField("key", key).WithError(err).Warn("拍卖锁续期失败，锁可能已过期")
					return
				}
			}
		}
	}()
	return done
}
