package admin

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/databind/pkg/logger"
)

// requestLogger 记录方法、路径、状态码与耗时，按状态码选择级别
func requestLogger(log logger.Logger, excludePaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(excludePaths))
	for _, p := range excludePaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if id := c.Param("id"); id != "" {
			fields = append(fields, zap.String("datasource_id", id))
		}

		ctx := c.Request.Context()
		switch status := c.Writer.Status(); {
		case status >= 500:
			log.ErrorContext(ctx, "request completed", fields...)
		case status >= 400:
			log.WarnContext(ctx, "request completed", fields...)
		default:
			log.InfoContext(ctx, "request completed", fields...)
		}
	}
}

// CORSConfig 跨域配置
type CORSConfig struct {
	// AllowOrigins 允许的源，支持 "https://*.example.com"，["*"] 表示全部
	AllowOrigins []string
	AllowHeaders []string
	MaxAge       time.Duration
}

// DefaultCORSConfig 允许所有源
func DefaultCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "Traceparent"},
		MaxAge:       12 * time.Hour,
	}
}

// cors 供浏览器端调试面板跨域访问
func cors(cfg *CORSConfig) gin.HandlerFunc {
	allowAll := len(cfg.AllowOrigins) == 1 && cfg.AllowOrigins[0] == "*"
	methods := strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}, ", ")
	headers := strings.Join(cfg.AllowHeaders, ", ")
	maxAge := strconv.Itoa(int(cfg.MaxAge.Seconds()))

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" || !(allowAll || matchOrigin(origin, cfg.AllowOrigins)) {
			c.Next()
			return
		}

		if allowAll {
			c.Header("Access-Control-Allow-Origin", "*")
		} else {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", headers)
			c.Header("Access-Control-Max-Age", maxAge)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func matchOrigin(origin string, patterns []string) bool {
	for _, pattern := range patterns {
		prefix, suffix, wildcard := strings.Cut(pattern, "*")
		if !wildcard {
			if origin == pattern {
				return true
			}
			continue
		}
		// 通配部分不能为空
		if len(origin) > len(prefix)+len(suffix) &&
			strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
			return true
		}
	}
	return false
}
