package databind

import (
	"time"

	"github.com/robfig/cron/v3"

	dberrors "github.com/tokmz/databind/pkg/errors"
)

// Type 数据源类型标签，Registry 以它分派处理器
type Type string

const (
	TypeStatic    Type = "static"
	TypeHTTP      Type = "http"
	TypeWebSocket Type = "websocket"
	TypeRedis     Type = "redis"
)

// FetchPolicy 获取策略
type FetchPolicy string

const (
	// CacheFirst 缓存命中且未过时直接返回，否则请求网络并写缓存
	CacheFirst FetchPolicy = "cache-first"
	// NetworkOnly 总是请求网络并覆盖缓存
	NetworkOnly FetchPolicy = "network-only"
	// CacheAndNetwork 有缓存立即返回并在后台刷新，无缓存则等待网络
	CacheAndNetwork FetchPolicy = "cache-and-network"
	// NoCache 请求网络但不写缓存
	NoCache FetchPolicy = "no-cache"
)

// Valid 是否为已知策略
func (p FetchPolicy) Valid() bool {
	switch p {
	case CacheFirst, NetworkOnly, CacheAndNetwork, NoCache:
		return true
	}
	return false
}

var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Config 数据源配置，调用方持有，本层只读
type Config struct {
	ID          string        `mapstructure:"id" json:"id"`
	Type        Type          `mapstructure:"type" json:"type"`
	FetchPolicy FetchPolicy   `mapstructure:"fetch_policy" json:"fetchPolicy,omitempty"`
	CacheTime   time.Duration `mapstructure:"cache_time" json:"cacheTime,omitempty"` // 0 使用缓存默认 TTL
	Enabled     *bool         `mapstructure:"enabled" json:"enabled,omitempty"`      // nil 视为启用

	// 自动刷新：RefetchInterval 固定间隔，RefetchSchedule 为 cron 表达式（支持秒字段）
	RefetchInterval time.Duration `mapstructure:"refetch_interval" json:"refetchInterval,omitempty"`
	RefetchSchedule string        `mapstructure:"refetch_schedule" json:"refetchSchedule,omitempty"`

	// 按 Type 只读取对应的一项
	Static    *StaticConfig    `mapstructure:"static" json:"static,omitempty"`
	HTTP      *HTTPConfig      `mapstructure:"http" json:"http,omitempty"`
	WebSocket *WebSocketConfig `mapstructure:"websocket" json:"websocket,omitempty"`
	Redis     *RedisConfig     `mapstructure:"redis" json:"redis,omitempty"`
}

// StaticConfig 静态数据源
type StaticConfig struct {
	Data any `mapstructure:"data" json:"data"`
}

// TransformFunc 响应转换函数
type TransformFunc func(data any) (any, error)

// HTTPConfig HTTP 数据源
type HTTPConfig struct {
	URL         string            `mapstructure:"url" json:"url"`
	Method      string            `mapstructure:"method" json:"method,omitempty"` // 默认 GET
	Headers     map[string]string `mapstructure:"headers" json:"headers,omitempty"`
	QueryParams map[string]any    `mapstructure:"query_params" json:"queryParams,omitempty"`
	Body        any               `mapstructure:"body" json:"body,omitempty"` // GET/DELETE 忽略
	// Transform 点路径，如 "data.items.0.name"
	Transform     string        `mapstructure:"transform" json:"transform,omitempty"`
	TransformFunc TransformFunc `mapstructure:"-" json:"-"`
}

// WebSocketConfig WebSocket 数据源
type WebSocketConfig struct {
	URL     string        `mapstructure:"url" json:"url"`
	Topics  []string      `mapstructure:"topics" json:"topics,omitempty"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout,omitempty"` // 等待连接超时，默认 10s
}

// RedisKind Redis 值类型
type RedisKind string

const (
	RedisString RedisKind = "string"
	RedisHash   RedisKind = "hash"
	RedisList   RedisKind = "list"
)

// RedisConfig Redis 数据源
type RedisConfig struct {
	Key  string    `mapstructure:"key" json:"key"`
	Kind RedisKind `mapstructure:"kind" json:"kind,omitempty"` // 默认 string
}

// IsEnabled Enabled 为 nil 或 true 时返回 true
func (c *Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Validate 校验通用字段，类型相关字段由处理器校验
func (c *Config) Validate() error {
	if c.ID == "" {
		return dberrors.ErrConfig.WithMessage("datasource id is required")
	}
	if c.Type == "" {
		return dberrors.ErrConfig.WithDatasource(c.ID).WithMessage("datasource type is required")
	}
	if c.FetchPolicy != "" && !c.FetchPolicy.Valid() {
		return unknownPolicy(c.ID, c.FetchPolicy)
	}
	if c.CacheTime < 0 || c.RefetchInterval < 0 {
		return dberrors.ErrConfig.WithDatasource(c.ID).WithMessage("durations must not be negative")
	}
	if c.RefetchSchedule != "" {
		if _, err := scheduleParser.Parse(c.RefetchSchedule); err != nil {
			return dberrors.ErrConfig.WithDatasource(c.ID).
				WithMessagef("invalid refetch schedule %q", c.RefetchSchedule).WithError(err)
		}
	}
	return nil
}

func unknownPolicy(id string, p FetchPolicy) *dberrors.Error {
	return dberrors.ErrConfig.WithDatasource(id).WithMessagef("unknown fetch policy %q", p)
}

// Bool 返回 b 的指针，便于设置 Enabled
func Bool(b bool) *bool {
	return &b
}
