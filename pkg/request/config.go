package request

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/tokmz/databind/pkg/logger"
)

// Config 数据源 HTTP 传输配置
type Config struct {
	Timeout             time.Duration     // 单次请求超时（默认 30s）
	Headers             map[string]string // 默认请求头，请求级同名头优先
	MaxIdleConnsPerHost int               // 每 Host 最大空闲连接（默认 10）
	IdleConnTimeout     time.Duration     // 空闲连接超时（默认 90s）
	Retry               *RetryConfig      // nil 不重试
	Interceptors        []Interceptor
	Logger              logger.Logger
	EnableTracing       bool
	InsecureSkipVerify  bool
	Transport           http.RoundTripper // 非 nil 时忽略连接池与 TLS 设置
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Timeout:             30 * time.Second,
		Headers:             make(map[string]string),
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

func (c *Config) setDefaults() {
	if c.Headers == nil {
		c.Headers = make(map[string]string)
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
}

// roundTripper 构建底层 RoundTripper，启用追踪时外层包装 span 与传播头
func (c *Config) roundTripper() http.RoundTripper {
	rt := c.Transport
	if rt == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.MaxIdleConnsPerHost = c.MaxIdleConnsPerHost
		t.IdleConnTimeout = c.IdleConnTimeout
		if c.InsecureSkipVerify {
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		}
		rt = t
	}
	if c.EnableTracing {
		rt = newTracingTransport(rt)
	}
	return rt
}

// Option 配置选项函数
type Option func(*Config)

// WithTimeout 设置单次请求超时
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithHeader 设置默认请求头
func WithHeader(key, value string) Option {
	return func(c *Config) { c.Headers[key] = value }
}

// WithHeaders 批量设置默认请求头
func WithHeaders(headers map[string]string) Option {
	return func(c *Config) {
		for k, v := range headers {
			c.Headers[k] = v
		}
	}
}

// WithIdleConns 设置连接池参数
func WithIdleConns(perHost int, timeout time.Duration) Option {
	return func(c *Config) {
		c.MaxIdleConnsPerHost = perHost
		c.IdleConnTimeout = timeout
	}
}

// WithRetry 设置重试配置
func WithRetry(cfg *RetryConfig) Option {
	return func(c *Config) { c.Retry = cfg }
}

// WithInterceptor 追加拦截器
func WithInterceptor(i Interceptor) Option {
	return func(c *Config) { c.Interceptors = append(c.Interceptors, i) }
}

// WithLogger 设置日志器
func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithTracing 启用 OpenTelemetry 客户端 span
func WithTracing(enable bool) Option {
	return func(c *Config) { c.EnableTracing = enable }
}

// WithInsecureSkipVerify 跳过 TLS 验证
func WithInsecureSkipVerify(skip bool) Option {
	return func(c *Config) { c.InsecureSkipVerify = skip }
}

// WithTransport 设置自定义 RoundTripper
func WithTransport(t http.RoundTripper) Option {
	return func(c *Config) { c.Transport = t }
}
