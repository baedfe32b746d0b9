package tracing

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/tokmz/databind/pkg/logger"
)

const middlewareTracerName = "databind.admin"

// MiddlewareOption 中间件选项
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	tracerName string
	filter     func(*gin.Context) bool
}

// WithTracerName 设置 Tracer 名称（默认 "databind.admin"）
func WithTracerName(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) { cfg.tracerName = name }
}

// WithFilter 返回 false 的请求不追踪（如健康检查）
func WithFilter(fn func(*gin.Context) bool) MiddlewareOption {
	return func(cfg *middlewareConfig) { cfg.filter = fn }
}

// Middleware gin 追踪中间件：提取上游 TraceContext，创建 Server Span，
// 并把 trace id 写入请求 context 供 logger 使用
func Middleware(opts ...MiddlewareOption) gin.HandlerFunc {
	cfg := &middlewareConfig{
		tracerName: middlewareTracerName,
		filter:     func(*gin.Context) bool { return true },
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(c *gin.Context) {
		if !cfg.filter(c) {
			c.Next()
			return
		}

		// 每次请求读取全局 Provider，兼容 Setup 晚于路由注册
		tracer := otel.Tracer(cfg.tracerName)
		propagator := otel.GetTextMapPropagator()

		req := c.Request
		ctx := propagator.Extract(req.Context(), propagation.HeaderCarrier(req.Header))
		ctx, span := tracer.Start(ctx, fmt.Sprintf("%s %s", req.Method, c.FullPath()),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(req.Method),
				semconv.HTTPRouteKey.String(c.FullPath()),
				semconv.URLPath(req.URL.Path),
				attribute.String("http.client_ip", c.ClientIP()),
			),
		)
		defer span.End()

		if sc := span.SpanContext(); sc.HasTraceID() {
			ctx = logger.WithTraceID(ctx, sc.TraceID().String())
		}
		c.Request = req.WithContext(ctx)
		propagator.Inject(ctx, propagation.HeaderCarrier(c.Writer.Header()))

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(semconv.HTTPResponseStatusCodeKey.Int(status))
		if status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		}
	}
}
