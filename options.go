package databind

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/tokmz/databind/pkg/cache"
	"github.com/tokmz/databind/pkg/logger"
)

// ManagerConfig 管理器配置
type ManagerConfig struct {
	Registry      *Registry         // 默认新建空 Registry
	Cache         *cache.Cache[any] // 默认 cache.New[any]()
	DefaultPolicy FetchPolicy       // 默认 cache-first
	SingleFlight  bool              // 合并相同 id+params 的并发网络请求，默认关闭
	Logger        logger.Logger
	Metrics       Metrics
	Tracer        trace.Tracer // 默认 otel 全局 TracerProvider
}

// ManagerOption 管理器选项
type ManagerOption func(*ManagerConfig)

// WithRegistry 指定处理器分派表
func WithRegistry(r *Registry) ManagerOption {
	return func(c *ManagerConfig) { c.Registry = r }
}

// WithCache 指定缓存
func WithCache(ch *cache.Cache[any]) ManagerOption {
	return func(c *ManagerConfig) { c.Cache = ch }
}

// WithDefaultPolicy 设置管理器默认策略
func WithDefaultPolicy(p FetchPolicy) ManagerOption {
	return func(c *ManagerConfig) { c.DefaultPolicy = p }
}

// WithSingleFlight 开启同 id+params 并发网络请求合并
func WithSingleFlight(enable bool) ManagerOption {
	return func(c *ManagerConfig) { c.SingleFlight = enable }
}

// WithLogger 设置日志器
func WithLogger(l logger.Logger) ManagerOption {
	return func(c *ManagerConfig) { c.Logger = l }
}

// WithMetrics 设置指标收集器
func WithMetrics(m Metrics) ManagerOption {
	return func(c *ManagerConfig) { c.Metrics = m }
}

// WithTracer 设置追踪器
func WithTracer(t trace.Tracer) ManagerOption {
	return func(c *ManagerConfig) { c.Tracer = t }
}

// FetchOption 单次获取选项
type FetchOption func(*fetchOptions)

type fetchOptions struct {
	policy FetchPolicy
	params cache.Params
}

// WithPolicy 覆盖本次获取策略
func WithPolicy(p FetchPolicy) FetchOption {
	return func(o *fetchOptions) { o.policy = p }
}

// WithParams 本次获取参数，参与缓存键并经 context 传给处理器
func WithParams(p cache.Params) FetchOption {
	return func(o *fetchOptions) { o.params = p }
}

type paramsKey struct{}

func withParams(ctx context.Context, p cache.Params) context.Context {
	if len(p) == 0 {
		return ctx
	}
	return context.WithValue(ctx, paramsKey{}, p)
}

// ParamsFromContext 处理器读取本次获取参数
func ParamsFromContext(ctx context.Context) cache.Params {
	p, _ := ctx.Value(paramsKey{}).(cache.Params)
	return p
}

// ObserveFetch 的调用结果
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics 管理器指标钩子
type Metrics interface {
	// ObserveFetch 记录一次处理器调用
	ObserveFetch(id string, policy FetchPolicy, outcome string, d time.Duration)
	// IncrementCacheServed 记录一次由缓存直接返回的结果
	IncrementCacheServed(id string, policy FetchPolicy, stale bool)
}

// NoopMetrics 空实现
type NoopMetrics struct{}

func (NoopMetrics) ObserveFetch(string, FetchPolicy, string, time.Duration) {}
func (NoopMetrics) IncrementCacheServed(string, FetchPolicy, bool)          {}
