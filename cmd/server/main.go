package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"fanbid/internal/config"
	"fanbid/internal/handler"
	"fanbid/internal/infrastructure/cache"
	"fanbid/internal/infrastructure/database"
	"fanbid/internal/infrastructure/lock"
	"fanbid/internal/infrastructure/mq"
	"fanbid/internal/job"
	"fanbid/internal/service"
	"fanbid/pkg/idgen"
	"fanbid/pkg/logger"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

func main() {
	// 加载配置
	cfg, err := config.LoadFromFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	config.GlobalConfig = cfg

	logger.Init(cfg.Log.Level, cfg.Log.Format)

	// 初始化 ID 生成器
	if err := idgen.Init(1); err != nil {
		log.Fatalf("初始化 ID 生成器失败: %v", err)
	}

	// 初始化存储（数据库驱动含表结构迁移）
	store, err := database.OpenStore(&cfg.Database)
	if err != nil {
		log.Fatalf("初始化存储失败: %v", err)
	}

	// 锁
	auctionLocks, walletLocks, redisClient := initLockers(cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 通知通道
	publisher, err := initPublisher(ctx, cfg)
	if err != nil {
		log.Fatalf("初始化通知通道失败: %v", err)
	}
	defer publisher.Close()

	auctionService := service.NewAuctionService(store, auctionLocks, walletLocks, cfg)
	walletService := service.NewWalletService(store, walletLocks, cfg.Auction.MaxBidRetries)

	// 启动后台任务
	sweeper := job.NewExpirationSweeper(auctionService, &cfg.Sweeper)
	sender := job.NewNotificationSender(store, publisher, cfg)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sweeper.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		sender.Start(ctx)
	}()

	// 设置路由
	router := handler.SetupRouter(handler.NewHandler(auctionService, walletService, sweeper), cfg)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("服务启动")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务...")

	// 先停止接收请求，再停止后台任务
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("服务关闭异常")
	}

	sweeper.Stop()
	sender.Stop()
	cancel()
	wg.Wait()

	log.Info("服务已关闭")
}

// initLockers local 模式下拍卖锁和钱包锁共用一个进程内锁
// redis 模式下拍卖锁走 redsync，钱包锁走 SET NX + Lua 释放
func initLockers(cfg *config.Config) (lock.Locker, lock.Locker, *redis.Client) {
	if cfg.Lock.Backend != "redis" {
		local := lock.NewLocalLocker()
		return local, local, nil
	}

	client, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("初始化 Redis 失败: %v", err)
	}
	auctionLocks := lock.NewRedsyncLocker(client, cfg.Lock.TTL, cfg.Lock.RetryInterval, cfg.Lock.MaxRetries)
	walletLocks := lock.NewRedisLocker(client, cfg.Lock.TTL, cfg.Lock.RetryInterval, cfg.Lock.MaxRetries)
	return auctionLocks, walletLocks, client
}

func initPublisher(ctx context.Context, cfg *config.Config) (mq.Publisher, error) {
	switch cfg.Notify.Transport {
	case "kafka":
		return mq.NewKafkaPublisher(&cfg.Kafka)
	case "nats":
		return mq.NewNATSPublisher(ctx, &cfg.NATS, cfg.Notify.Topic)
	default:
		return mq.NewLogPublisher(), nil
	}
}
