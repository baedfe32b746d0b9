// Package admin 提供数据源管理器的 gin 诊断接口：状态查询、缓存统计、手动获取与失效、/metrics
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/databind"
	"github.com/tokmz/databind/pkg/logger"
	"github.com/tokmz/databind/pkg/metrics"
	"github.com/tokmz/databind/pkg/tracing"
)

// Lookup 按 id 查找数据源配置，供 POST /datasources/:id/fetch 使用
type Lookup func(id string) (*databind.Config, bool)

// Option 服务选项
type Option func(*Server)

// WithLogger 设置日志器
func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics 挂载 GET /metrics
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) { s.metrics = c }
}

// WithLookup 设置数据源配置来源
func WithLookup(fn Lookup) Option {
	return func(s *Server) { s.lookup = fn }
}

// WithCORS 启用跨域
func WithCORS(cfg *CORSConfig) Option {
	return func(s *Server) { s.cors = cfg }
}

// WithTracing 是否为请求创建 Server Span（默认开启）
func WithTracing(enable bool) Option {
	return func(s *Server) { s.tracing = enable }
}

// WithShutdownTimeout 优雅关闭超时（默认 10s）
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) { s.shutdownTimeout = d }
}

// Server 诊断服务
type Server struct {
	manager *databind.Manager
	metrics *metrics.Collector
	lookup  Lookup
	logger  logger.Logger
	cors    *CORSConfig
	tracing bool

	shutdownTimeout time.Duration
	engine          *gin.Engine
}

// New 创建诊断服务并注册路由
func New(manager *databind.Manager, opts ...Option) *Server {
	s := &Server{
		manager:         manager,
		tracing:         true,
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Nop()
	}
	s.logger = s.logger.Named("admin")

	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	if s.tracing {
		s.engine.Use(tracing.Middleware(tracing.WithFilter(func(c *gin.Context) bool {
			return c.Request.URL.Path != "/healthz" && c.Request.URL.Path != "/metrics"
		})))
	}
	s.engine.Use(requestLogger(s.logger, "/healthz", "/metrics"))
	if s.cors != nil {
		s.engine.Use(cors(s.cors))
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.engine
	r.GET("/healthz", s.health)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	r.GET("/cache/stats", s.cacheStats)
	r.DELETE("/cache", s.clearCache)
	r.POST("/invalidate", s.invalidateAll)

	g := r.Group("/datasources")
	g.GET("", s.listDatasources)
	g.GET("/:id", s.getDatasource)
	g.POST("/:id/fetch", s.fetch)
	g.POST("/:id/refetch", s.refetch)
	g.POST("/:id/invalidate", s.invalidate)
}

// Handler 返回 http.Handler，便于挂载到已有服务或测试
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run 监听 addr 直到 ctx 结束，然后优雅关闭
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("admin server started", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("admin server forced to close", zap.Error(err))
		return err
	}
	s.logger.Info("admin server stopped")
	return nil
}
