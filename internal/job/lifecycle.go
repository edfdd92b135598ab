package job

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// lifecycle 定时任务的启停控制
// Start 只生效一次；Stop 可重复调用，已启动时等待循环退出
type lifecycle struct {
	started  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newLifecycle() *lifecycle {
	return &lifecycle{
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (l *lifecycle) run(ctx context.Context, interval time.Duration, logger *log.Entry, tick func(ctx context.Context)) {
	if !l.started.CompareAndSwap(false, true) {
		logger.Warn("任务已在运行，忽略重复启动")
		return
	}
	defer close(l.done)

	logger.WithField("interval", interval).Info("任务启动")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("收到停止信号，任务退出")
			return
		case <-l.stopCh:
			logger.Info("任务停止")
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

func (l *lifecycle) stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	if l.started.Load() {
		<-l.done
	}
}
