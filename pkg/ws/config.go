package ws

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tokmz/databind/pkg/logger"
)

// TokenProvider 返回当前访问令牌，每次拨号前调用
type TokenProvider func() (string, error)

// Config 连接配置
type Config struct {
	// 拨号配置
	HandshakeTimeout time.Duration // 握手超时
	ReadBufferSize   int           // 读缓冲区大小
	WriteBufferSize  int           // 写缓冲区大小
	Header           http.Header   // 握手附加请求头
	TokenProvider    TokenProvider // 令牌以 ?token= 附加到 URL
	TokenParam       string        // 令牌参数名（默认 token）

	// 读写配置
	WriteWait      time.Duration // 单次写超时
	MaxMessageSize int64         // 最大入站消息大小

	// 重连配置
	ReconnectBaseDelay   time.Duration // 初始重连延迟，每次翻倍
	MaxReconnectDelay    time.Duration // 重连延迟上限
	MaxReconnectAttempts int           // 最大重连次数，超过后保持 disconnected

	// 消息配置
	QueueSize int // 断线期间出站队列容量，满时丢弃最旧消息

	// 心跳配置（0 表示不发送客户端心跳）
	HeartbeatInterval time.Duration

	Logger  logger.Logger
	Metrics Metrics
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		HandshakeTimeout:     10 * time.Second,
		ReadBufferSize:       1024,
		WriteBufferSize:      1024,
		TokenParam:           "token",
		WriteWait:            10 * time.Second,
		MaxMessageSize:       512 * 1024, // 512KB
		ReconnectBaseDelay:   time.Second,
		MaxReconnectDelay:    30 * time.Second,
		MaxReconnectAttempts: 10,
		QueueSize:            100,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("ReconnectBaseDelay must be positive, got %v", c.ReconnectBaseDelay)
	}
	if c.MaxReconnectDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("MaxReconnectDelay (%v) must not be less than ReconnectBaseDelay (%v)",
			c.MaxReconnectDelay, c.ReconnectBaseDelay)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("MaxReconnectAttempts must not be negative, got %d", c.MaxReconnectAttempts)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("QueueSize must be positive, got %d", c.QueueSize)
	}
	if c.HeartbeatInterval < 0 {
		return fmt.Errorf("HeartbeatInterval must not be negative, got %v", c.HeartbeatInterval)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.TokenParam == "" {
		c.TokenParam = "token"
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	if c.Metrics == nil {
		c.Metrics = &NoopMetrics{}
	}
}

func (c *Config) dialer() *websocket.Dialer {
	return &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.HandshakeTimeout,
		ReadBufferSize:   c.ReadBufferSize,
		WriteBufferSize:  c.WriteBufferSize,
	}
}

// Option 配置选项
type Option func(*Config)

// WithHandshakeTimeout 设置握手超时
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.HandshakeTimeout = d
	}
}

// WithHeader 设置握手请求头
func WithHeader(h http.Header) Option {
	return func(c *Config) {
		c.Header = h
	}
}

// WithTokenProvider 设置令牌来源
func WithTokenProvider(p TokenProvider) Option {
	return func(c *Config) {
		c.TokenProvider = p
	}
}

// WithReconnect 设置重连退避参数
func WithReconnect(base, max time.Duration, attempts int) Option {
	return func(c *Config) {
		c.ReconnectBaseDelay = base
		c.MaxReconnectDelay = max
		c.MaxReconnectAttempts = attempts
	}
}

// WithQueueSize 设置出站队列容量
func WithQueueSize(size int) Option {
	return func(c *Config) {
		c.QueueSize = size
	}
}

// WithHeartbeatInterval 设置心跳间隔
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = interval
	}
}

// WithMessageSizeLimit 设置消息大小限制
func WithMessageSizeLimit(size int64) Option {
	return func(c *Config) {
		c.MaxMessageSize = size
	}
}

// WithLogger 设置日志器
func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithMetrics 设置监控
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}
