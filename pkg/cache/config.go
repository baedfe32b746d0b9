package cache

import (
	"time"

	"github.com/tokmz/databind/pkg/logger"
)

// Config 缓存配置
type Config struct {
	MaxSize         int           // 最大条目数（默认 100）
	DefaultTTL      time.Duration // 默认过期时间（默认 5 分钟）
	EnableLRU       bool          // 是否按最近使用淘汰，false 时按插入顺序淘汰
	CleanupInterval time.Duration // 后台清理间隔（0 表示仅在读取时惰性清理）
	Logger          logger.Logger
	Clock           func() time.Time // 时间源（测试用）
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxSize:    100,
		DefaultTTL: 5 * time.Minute,
		EnableLRU:  true,
	}
}

func (c *Config) normalize() {
	if c.MaxSize <= 0 {
		c.MaxSize = 100
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 5 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Option 配置选项
type Option func(*Config)

// WithMaxSize 设置最大条目数
func WithMaxSize(n int) Option {
	return func(c *Config) { c.MaxSize = n }
}

// WithDefaultTTL 设置默认 TTL
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Config) { c.DefaultTTL = ttl }
}

// WithLRU 设置是否启用 LRU 淘汰
func WithLRU(enable bool) Option {
	return func(c *Config) { c.EnableLRU = enable }
}

// WithCleanupInterval 启用后台过期清理
func WithCleanupInterval(d time.Duration) Option {
	return func(c *Config) { c.CleanupInterval = d }
}

// WithLogger 设置日志器
func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithClock 设置时间源
func WithClock(now func() time.Time) Option {
	return func(c *Config) { c.Clock = now }
}
