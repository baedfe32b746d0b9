// 示例：从配置文件装配数据源管理器、处理器、追踪、指标与诊断服务
//
//	go run ./example -config example/databind.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"

	"github.com/tokmz/databind"
	"github.com/tokmz/databind/handler"
	"github.com/tokmz/databind/pkg/admin"
	"github.com/tokmz/databind/pkg/cache"
	"github.com/tokmz/databind/pkg/config"
	"github.com/tokmz/databind/pkg/logger"
	"github.com/tokmz/databind/pkg/metrics"
	"github.com/tokmz/databind/pkg/request"
	"github.com/tokmz/databind/pkg/tracing"
	"github.com/tokmz/databind/pkg/ws"
)

func main() {
	path := flag.String("config", "example/databind.yaml", "配置文件路径")
	dump := flag.Bool("print-config", false, "输出生效配置后退出")
	flag.Parse()

	if err := run(*path, *dump); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(path string, dump bool) error {
	conf := config.New(config.WithConfigFile(path))
	if err := conf.Load(); err != nil {
		return err
	}
	defer conf.Close()

	settings, err := conf.Settings()
	if err != nil {
		return err
	}
	if dump {
		return settings.Dump(os.Stdout)
	}

	logCfg, err := settings.Log.LoggerConfig()
	if err != nil {
		return err
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := tracing.Setup(ctx, &settings.Tracing)
	if err != nil {
		return err
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()

	collector, err := metrics.New(settings.Admin.MetricsNamespace)
	if err != nil {
		return err
	}

	store := cache.New[any](settings.Cache.Options(log)...)
	defer store.Close()
	if err := collector.RegisterCache("datasource", store.Stats); err != nil {
		return err
	}

	opts := append(settings.Manager.Options(),
		databind.WithCache(store),
		databind.WithLogger(log),
		databind.WithMetrics(collector),
		databind.WithTracer(provider.Tracer("databind")),
	)
	manager := databind.NewManager(opts...)
	defer manager.Cleanup()

	sockets, err := registerHandlers(manager, settings, log, collector)
	if err != nil {
		return err
	}
	defer sockets.Close()

	var current atomic.Pointer[config.Settings]
	current.Store(settings)
	conf.Watch(func(s *config.Settings) {
		current.Store(s)
		if level, err := logger.ParseLevel(s.Log.Level); err == nil {
			log.SetLevel(level)
		}
		log.Info("config reloaded", zap.Int("datasources", len(s.Datasources)))
	})

	prefetch(ctx, manager, settings, log)

	if !settings.Admin.Enabled {
		<-ctx.Done()
		return nil
	}
	srv := admin.New(manager,
		admin.WithLogger(log),
		admin.WithMetrics(collector),
		admin.WithCORS(admin.DefaultCORSConfig()),
		admin.WithLookup(func(id string) (*databind.Config, bool) {
			return current.Load().Datasource(id)
		}),
	)
	return srv.Run(ctx, settings.Admin.Addr)
}

func registerHandlers(m *databind.Manager, s *config.Settings, log logger.Logger, collector *metrics.Collector) (*handler.WebSocket, error) {
	reg := m.Registry()

	if err := reg.Register(databind.TypeStatic, handler.NewStatic()); err != nil {
		return nil, err
	}

	transport := handler.NewTransport(s.HTTP.TokenFunc(),
		append(s.HTTP.Options(), request.WithLogger(log.Named("http")))...)
	if err := reg.Register(databind.TypeHTTP, handler.NewHTTP(transport, log)); err != nil {
		return nil, err
	}

	pool := ws.NewPool(append(s.WebSocket.Options(), ws.WithLogger(log), ws.WithMetrics(collector))...)
	sockets := handler.NewWebSocket(pool, s.WebSocket.TokenProvider(), s.WebSocket.ConnectTimeout, log)
	if err := reg.Register(databind.TypeWebSocket, sockets); err != nil {
		return nil, err
	}

	if s.Redis != nil {
		client, err := handler.NewRedisClient(s.Redis)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(databind.TypeRedis, handler.NewRedis(client)); err != nil {
			return nil, err
		}
	}
	return sockets, nil
}

// prefetch 预热所有启用的数据源，失败只记录日志
func prefetch(ctx context.Context, m *databind.Manager, s *config.Settings, log logger.Logger) {
	for i := range s.Datasources {
		cfg := &s.Datasources[i]
		if !cfg.IsEnabled() {
			continue
		}
		if _, err := m.Fetch(ctx, cfg); err != nil {
			log.Warn("prefetch failed", zap.String("datasource_id", cfg.ID), zap.Error(err))
		}
	}
}
