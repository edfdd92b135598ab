package config

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Lock     LockConfig     `mapstructure:"lock"`
	Auction  AuctionConfig  `mapstructure:"auction"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig driver 取值 mysql / postgres / sqlite / memory（进程内存储，不落盘）
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	DSN          string `mapstructure:"dsn"` // 非空时直接使用
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

type NATSConfig struct {
	URL    string `mapstructure:"url"`
	Stream string `mapstructure:"stream"`
}

// NotifyConfig transport 取值 kafka / nats / log
type NotifyConfig struct {
	Transport string `mapstructure:"transport"`
	Topic     string `mapstructure:"topic"`
}

// LockConfig backend 取值 local / redis
type LockConfig struct {
	Backend       string        `mapstructure:"backend"`
	TTL           time.Duration `mapstructure:"ttl"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	MaxRetries    int           `mapstructure:"max_retries"`
}

type AuctionConfig struct {
	SnipeWindow   time.Duration `mapstructure:"snipe_window"`
	MaxExtension  time.Duration `mapstructure:"max_extension"` // 0 表示不限制
	MaxBidRetries int           `mapstructure:"max_bid_retries"`
}

type SweeperConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

type OutboxConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	MaxRetryCount int           `mapstructure:"max_retry_count"`
}

type AdminConfig struct {
	Token string `mapstructure:"token"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var GlobalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.dsn", "")
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("nats.stream", "AUCTION_EVENTS")
	v.SetDefault("notify.transport", "kafka")
	v.SetDefault("notify.topic", "auction.notifications")
	v.SetDefault("lock.backend", "local")
	v.SetDefault("lock.ttl", 10*time.Second)
	v.SetDefault("lock.retry_interval", 50*time.Millisecond)
	v.SetDefault("lock.max_retries", 100)
	v.SetDefault("auction.snipe_window", 2*time.Minute)
	v.SetDefault("auction.max_extension", time.Duration(0))
	v.SetDefault("auction.max_bid_retries", 3)
	v.SetDefault("sweeper.interval", 30*time.Second)
	v.SetDefault("sweeper.batch_size", 100)
	v.SetDefault("outbox.interval", 500*time.Millisecond)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.max_retry_count", 5)
	v.SetDefault("admin.token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load 读取配置文件，环境变量 FANBID_* 优先于文件
// configPath 为空时只使用默认值和环境变量
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FANBID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadConfig 加载配置文件，失败直接退出
func LoadConfig(configPath string) *Config {
	config, err := Load(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	GlobalConfig = config
	return config
}

// LoadFromFlags 解析命令行 --config 参数后加载
func LoadFromFlags(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("fanbid", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "config/config.yaml", "配置文件路径")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return Load(*configPath)
}

func (c *Config) Validate() error {
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("不支持的 server.mode: %s", c.Server.Mode)
	}
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("不支持的数据库驱动: %s", c.Database.Driver)
	}
	switch c.Lock.Backend {
	case "local", "redis":
	default:
		return fmt.Errorf("不支持的锁实现: %s", c.Lock.Backend)
	}
	switch c.Notify.Transport {
	case "kafka", "nats", "log":
	default:
		return fmt.Errorf("不支持的通知通道: %s", c.Notify.Transport)
	}
	if c.Auction.SnipeWindow < 0 || c.Auction.MaxExtension < 0 {
		return fmt.Errorf("防狙击窗口配置不合法")
	}
	if c.Auction.MaxBidRetries < 1 {
		return fmt.Errorf("auction.max_bid_retries 必须大于 0")
	}
	if c.Sweeper.Interval <= 0 || c.Sweeper.BatchSize <= 0 {
		return fmt.Errorf("sweeper 配置不合法")
	}
	if c.Outbox.Interval <= 0 || c.Outbox.BatchSize <= 0 || c.Outbox.MaxRetryCount <= 0 {
		return fmt.Errorf("outbox 配置不合法")
	}
	return nil
}

// Default 返回只包含默认值的配置，测试和嵌入场景使用
func Default() *Config {
	config, err := Load("")
	if err != nil {
		panic(err)
	}
	return config
}
