package config

import (
	"io"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/tokmz/databind"
	"github.com/tokmz/databind/handler"
	"github.com/tokmz/databind/pkg/cache"
	"github.com/tokmz/databind/pkg/logger"
	"github.com/tokmz/databind/pkg/request"
	"github.com/tokmz/databind/pkg/tracing"
	"github.com/tokmz/databind/pkg/ws"
)

// Settings databind 全部配置
type Settings struct {
	Log         LogSettings           `mapstructure:"log" yaml:"log"`
	Cache       CacheSettings         `mapstructure:"cache" yaml:"cache"`
	Manager     ManagerSettings       `mapstructure:"manager" yaml:"manager"`
	WebSocket   WebSocketSettings     `mapstructure:"websocket" yaml:"websocket"`
	HTTP        HTTPSettings          `mapstructure:"http" yaml:"http"`
	Redis       *handler.RedisOptions `mapstructure:"redis" yaml:"redis,omitempty"` // nil 不注册 redis 处理器
	Tracing     tracing.Config        `mapstructure:"tracing" yaml:"tracing"`
	Admin       AdminSettings         `mapstructure:"admin" yaml:"admin"`
	Datasources []databind.Config     `mapstructure:"datasources" yaml:"datasources"`
}

// LogSettings 日志配置
type LogSettings struct {
	Level      string            `mapstructure:"level" yaml:"level"`   // debug/info/warn/error
	Format     string            `mapstructure:"format" yaml:"format"` // json/console
	Console    bool              `mapstructure:"console" yaml:"console"`
	File       string            `mapstructure:"file" yaml:"file,omitempty"`
	Rotate     *RotateSettings   `mapstructure:"rotate" yaml:"rotate,omitempty"`
	Sampling   *SamplingSettings `mapstructure:"sampling" yaml:"sampling,omitempty"`
	Caller     bool              `mapstructure:"caller" yaml:"caller"`
	Stacktrace bool              `mapstructure:"stacktrace" yaml:"stacktrace"`
}

// SamplingSettings 每秒同一消息前 Initial 条全部输出，之后每 Thereafter 条输出一条
type SamplingSettings struct {
	Initial    int `mapstructure:"initial" yaml:"initial"`
	Thereafter int `mapstructure:"thereafter" yaml:"thereafter"`
}

// RotateSettings 日志轮转
type RotateSettings struct {
	Filename   string `mapstructure:"filename" yaml:"filename"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // MB
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`   // 天
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// CacheSettings 数据缓存配置
type CacheSettings struct {
	MaxSize         int           `mapstructure:"max_size" yaml:"max_size"`
	DefaultTTL      time.Duration `mapstructure:"default_ttl" yaml:"default_ttl"`
	EnableLRU       bool          `mapstructure:"enable_lru" yaml:"enable_lru"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// ManagerSettings 管理器配置
type ManagerSettings struct {
	DefaultPolicy databind.FetchPolicy `mapstructure:"default_policy" yaml:"default_policy"`
	SingleFlight  bool                 `mapstructure:"single_flight" yaml:"single_flight"`
}

// WebSocketSettings 实时连接配置
type WebSocketSettings struct {
	ConnectTimeout       time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay" yaml:"reconnect_base_delay"`
	MaxReconnectDelay    time.Duration `mapstructure:"max_reconnect_delay" yaml:"max_reconnect_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	QueueSize            int           `mapstructure:"queue_size" yaml:"queue_size"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	MaxMessageSize       int64         `mapstructure:"max_message_size" yaml:"max_message_size"`
	Token                string        `mapstructure:"token" yaml:"-"` // 静态令牌，未设置时由调用方提供 TokenProvider
}

// HTTPSettings 默认 HTTP 传输配置
type HTTPSettings struct {
	Timeout            time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	Headers            map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
	RetryAttempts      int               `mapstructure:"retry_attempts" yaml:"retry_attempts"` // 0 不重试
	InsecureSkipVerify bool              `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	Token              string            `mapstructure:"token" yaml:"-"` // Bearer 令牌
}

// AdminSettings 诊断服务配置
type AdminSettings struct {
	Enabled          bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr             string `mapstructure:"addr" yaml:"addr"`
	MetricsNamespace string `mapstructure:"metrics_namespace" yaml:"metrics_namespace"`
}

// DefaultSettings 默认配置
func DefaultSettings() *Settings {
	return &Settings{
		Log: LogSettings{Level: "info", Format: string(logger.JSONFormat), Console: true},
		Cache: CacheSettings{
			MaxSize:    100,
			DefaultTTL: 5 * time.Minute,
			EnableLRU:  true,
		},
		Manager: ManagerSettings{DefaultPolicy: databind.CacheFirst},
		WebSocket: WebSocketSettings{
			ConnectTimeout:       handler.DefaultConnectTimeout,
			HandshakeTimeout:     10 * time.Second,
			ReconnectBaseDelay:   time.Second,
			MaxReconnectDelay:    30 * time.Second,
			MaxReconnectAttempts: 10,
			QueueSize:            100,
			MaxMessageSize:       512 * 1024,
		},
		HTTP:    HTTPSettings{Timeout: 30 * time.Second},
		Tracing: *tracing.DefaultConfig(),
		Admin:   AdminSettings{Enabled: true, Addr: ":8080", MetricsNamespace: "databind"},
	}
}

// defaultValues 注册到 viper 的标量默认值，使环境变量可覆盖未写入文件的键
func defaultValues() map[string]any {
	d := DefaultSettings()
	return map[string]any{
		"log.level":                        d.Log.Level,
		"log.format":                       d.Log.Format,
		"log.console":                      d.Log.Console,
		"log.file":                         "",
		"cache.max_size":                   d.Cache.MaxSize,
		"cache.default_ttl":                d.Cache.DefaultTTL.String(),
		"cache.enable_lru":                 d.Cache.EnableLRU,
		"cache.cleanup_interval":           "0s",
		"manager.default_policy":           string(d.Manager.DefaultPolicy),
		"manager.single_flight":            d.Manager.SingleFlight,
		"websocket.connect_timeout":        d.WebSocket.ConnectTimeout.String(),
		"websocket.max_reconnect_attempts": d.WebSocket.MaxReconnectAttempts,
		"websocket.token":                  "",
		"http.timeout":                     d.HTTP.Timeout.String(),
		"http.retry_attempts":              0,
		"http.token":                       "",
		"tracing.enabled":                  d.Tracing.Enabled,
		"tracing.exporter":                 d.Tracing.Exporter,
		"tracing.endpoint":                 "",
		"tracing.sampling_rate":            d.Tracing.SamplingRate,
		"admin.enabled":                    d.Admin.Enabled,
		"admin.addr":                       d.Admin.Addr,
	}
}

// Validate 校验配置与全部数据源
func (s *Settings) Validate() error {
	if _, err := logger.ParseLevel(s.Log.Level); err != nil {
		return ErrConfigInvalid.WithMessagef("log.level: unknown level %q", s.Log.Level).WithError(err)
	}
	if s.Manager.DefaultPolicy != "" && !s.Manager.DefaultPolicy.Valid() {
		return ErrConfigInvalid.WithMessagef("manager.default_policy: unknown policy %q", s.Manager.DefaultPolicy)
	}
	if s.Cache.MaxSize < 0 || s.Cache.DefaultTTL < 0 {
		return ErrConfigInvalid.WithMessage("cache: max_size and default_ttl must not be negative")
	}
	if err := s.wsConfig().Validate(); err != nil {
		return ErrConfigInvalid.WithMessage("websocket: " + err.Error())
	}
	if s.Tracing.Enabled {
		if err := s.Tracing.Validate(); err != nil {
			return err
		}
	}

	seen := make(map[string]bool, len(s.Datasources))
	for i := range s.Datasources {
		ds := &s.Datasources[i]
		if err := ds.Validate(); err != nil {
			return err
		}
		if seen[ds.ID] {
			return ErrConfigInvalid.WithDatasource(ds.ID).WithMessage("duplicate datasource id")
		}
		seen[ds.ID] = true
	}
	return nil
}

// Datasource 按 id 查找数据源配置
func (s *Settings) Datasource(id string) (*databind.Config, bool) {
	for i := range s.Datasources {
		if s.Datasources[i].ID == id {
			return &s.Datasources[i], true
		}
	}
	return nil, false
}

// Dump 以 YAML 输出当前生效配置，令牌与密码不输出
func (s *Settings) Dump(w io.Writer) error {
	return yaml.NewEncoder(w, yaml.Indent(2)).Encode(s)
}

// LoggerConfig 转换为 logger.Config
func (l LogSettings) LoggerConfig() (*logger.Config, error) {
	level, err := logger.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	opts := []logger.Option{
		logger.WithLevel(level),
		logger.WithFile(l.File),
		logger.WithDiagnostics(l.Caller, l.Stacktrace),
	}
	if l.Console {
		opts = append(opts, logger.WithConsole(""))
	}
	if l.Rotate != nil {
		opts = append(opts, logger.WithRotation(logger.RotateConfig{
			Filename:   l.Rotate.Filename,
			MaxSize:    l.Rotate.MaxSize,
			MaxAge:     l.Rotate.MaxAge,
			MaxBackups: l.Rotate.MaxBackups,
			Compress:   l.Rotate.Compress,
		}))
	}
	if l.Sampling != nil {
		opts = append(opts, logger.WithSampling(l.Sampling.Initial, l.Sampling.Thereafter))
	}
	return logger.Apply(&logger.Config{Format: logger.Format(l.Format)}, opts...), nil
}

// Options 转换为缓存选项
func (c CacheSettings) Options(log logger.Logger) []cache.Option {
	opts := []cache.Option{
		cache.WithMaxSize(c.MaxSize),
		cache.WithDefaultTTL(c.DefaultTTL),
		cache.WithLRU(c.EnableLRU),
	}
	if c.CleanupInterval > 0 {
		opts = append(opts, cache.WithCleanupInterval(c.CleanupInterval))
	}
	if log != nil {
		opts = append(opts, cache.WithLogger(log))
	}
	return opts
}

// Options 转换为管理器选项
func (m ManagerSettings) Options() []databind.ManagerOption {
	opts := []databind.ManagerOption{databind.WithSingleFlight(m.SingleFlight)}
	if m.DefaultPolicy != "" {
		opts = append(opts, databind.WithDefaultPolicy(m.DefaultPolicy))
	}
	return opts
}

func (s *Settings) wsConfig() *ws.Config {
	cfg := ws.DefaultConfig()
	for _, opt := range s.WebSocket.Options() {
		opt(cfg)
	}
	return cfg
}

// Options 转换为连接池选项
func (w WebSocketSettings) Options() []ws.Option {
	opts := []ws.Option{
		ws.WithReconnect(w.ReconnectBaseDelay, w.MaxReconnectDelay, w.MaxReconnectAttempts),
		ws.WithHeartbeatInterval(w.HeartbeatInterval),
	}
	if w.HandshakeTimeout > 0 {
		opts = append(opts, ws.WithHandshakeTimeout(w.HandshakeTimeout))
	}
	if w.QueueSize > 0 {
		opts = append(opts, ws.WithQueueSize(w.QueueSize))
	}
	if w.MaxMessageSize > 0 {
		opts = append(opts, ws.WithMessageSizeLimit(w.MaxMessageSize))
	}
	return opts
}

// TokenProvider 配置了静态令牌时返回对应的提供者，否则返回 nil
func (w WebSocketSettings) TokenProvider() ws.TokenProvider {
	if w.Token == "" {
		return nil
	}
	token := w.Token
	return func() (string, error) { return token, nil }
}

// Options 转换为 HTTP 客户端选项
func (h HTTPSettings) Options() []request.Option {
	opts := []request.Option{
		request.WithTimeout(h.Timeout),
		request.WithInsecureSkipVerify(h.InsecureSkipVerify),
	}
	if len(h.Headers) > 0 {
		opts = append(opts, request.WithHeaders(h.Headers))
	}
	if h.RetryAttempts > 0 {
		rc := request.DefaultRetryConfig()
		rc.MaxAttempts = h.RetryAttempts
		opts = append(opts, request.WithRetry(rc))
	}
	return opts
}

// TokenFunc Bearer 令牌来源，未配置时返回 nil
func (h HTTPSettings) TokenFunc() func() string {
	if h.Token == "" {
		return nil
	}
	token := h.Token
	return func() string { return token }
}
