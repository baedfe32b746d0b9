package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/databind"
	"github.com/tokmz/databind/pkg/cache"
	dberrors "github.com/tokmz/databind/pkg/errors"
	"github.com/tokmz/databind/pkg/logger"
	"github.com/tokmz/databind/pkg/request"
)

const testYAML = `
log:
  level: debug
  format: console
cache:
  max_size: 50
  default_ttl: 1m
manager:
  default_policy: network-only
  single_flight: true
websocket:
  connect_timeout: 3s
  token: ws-secret
http:
  timeout: 5s
  retry_attempts: 2
redis:
  addr: localhost:6380
  password: hunter2
tracing:
  enabled: false
admin:
  addr: ":9090"
datasources:
  - id: greeting
    type: static
    static:
      data: [1, 2, 3]
  - id: weather
    type: http
    fetch_policy: cache-and-network
    cache_time: 30s
    refetch_interval: 1m
    http:
      url: https://api.example.com/weather
      method: GET
      query_params:
        city: Oslo
      transform: data.current
  - id: orders
    type: websocket
    enabled: false
    websocket:
      url: wss://rt.example.com/ws
      topics: [orders, fills]
      timeout: 2s
  - id: flags
    type: redis
    refetch_schedule: "*/30 * * * * *"
    redis:
      key: feature:flags
      kind: hash
`

func writeTestConfig(t *testing.T, dir, filename, content string) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func loadSettings(t *testing.T, content string, opts ...Option) (*Config, *Settings) {
	t.Helper()
	path := writeTestConfig(t, t.TempDir(), "databind.yaml", content)
	c := New(append([]Option{WithConfigFile(path)}, opts...)...)
	require.NoError(t, c.Load())
	s, err := c.Settings()
	require.NoError(t, err)
	return c, s
}

func TestNew(t *testing.T) {
	c := New()
	assert.NotNil(t, c.viper)
	assert.Equal(t, DefaultEnvPrefix, c.envPrefix)
	assert.False(t, c.autoWatch)

	c = New(WithAutoWatch(true), WithEnvPrefix("TEST"), WithDefaults(map[string]any{"admin.addr": ":1"}))
	assert.True(t, c.autoWatch)
	assert.Equal(t, "TEST", c.envPrefix)
	assert.Equal(t, ":1", c.defaults["admin.addr"])
	assert.Equal(t, "info", c.defaults["log.level"])
}

func TestLoadSettings(t *testing.T) {
	_, s := loadSettings(t, testYAML)

	assert.Equal(t, "debug", s.Log.Level)
	assert.Equal(t, 50, s.Cache.MaxSize)
	assert.Equal(t, time.Minute, s.Cache.DefaultTTL)
	assert.True(t, s.Cache.EnableLRU)
	assert.Equal(t, databind.NetworkOnly, s.Manager.DefaultPolicy)
	assert.True(t, s.Manager.SingleFlight)
	assert.Equal(t, 3*time.Second, s.WebSocket.ConnectTimeout)
	assert.Equal(t, 10, s.WebSocket.MaxReconnectAttempts)
	assert.Equal(t, 5*time.Second, s.HTTP.Timeout)
	assert.Equal(t, ":9090", s.Admin.Addr)
	assert.False(t, s.Tracing.Enabled)
	require.NotNil(t, s.Redis)
	assert.Equal(t, "localhost:6380", s.Redis.Addr)

	require.Len(t, s.Datasources, 4)

	greeting, ok := s.Datasource("greeting")
	require.True(t, ok)
	assert.Equal(t, databind.TypeStatic, greeting.Type)
	assert.Equal(t, []any{1, 2, 3}, greeting.Static.Data)
	assert.True(t, greeting.IsEnabled())

	weather, _ := s.Datasource("weather")
	assert.Equal(t, databind.CacheAndNetwork, weather.FetchPolicy)
	assert.Equal(t, 30*time.Second, weather.CacheTime)
	assert.Equal(t, time.Minute, weather.RefetchInterval)
	assert.Equal(t, "Oslo", weather.HTTP.QueryParams["city"])
	assert.Equal(t, "data.current", weather.HTTP.Transform)

	orders, _ := s.Datasource("orders")
	assert.False(t, orders.IsEnabled())
	assert.Equal(t, []string{"orders", "fills"}, orders.WebSocket.Topics)
	assert.Equal(t, 2*time.Second, orders.WebSocket.Timeout)

	flags, _ := s.Datasource("flags")
	assert.Equal(t, databind.RedisHash, flags.Redis.Kind)
	assert.Equal(t, "*/30 * * * * *", flags.RefetchSchedule)

	_, ok = s.Datasource("missing")
	assert.False(t, ok)
}

func TestLoadDefaults(t *testing.T) {
	_, s := loadSettings(t, "admin:\n  enabled: false\n")

	d := DefaultSettings()
	assert.Equal(t, d.Cache, s.Cache)
	assert.Equal(t, d.WebSocket, s.WebSocket)
	assert.Equal(t, databind.CacheFirst, s.Manager.DefaultPolicy)
	assert.False(t, s.Admin.Enabled)
	assert.Nil(t, s.Redis)
	assert.Empty(t, s.Datasources)
}

func TestLoadWithNameAndPaths(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir, "databind.yaml", testYAML)

	c := New(WithConfigName("databind"), WithConfigType("yaml"), WithConfigPaths(dir))
	require.NoError(t, c.Load())
	assert.Equal(t, filepath.Join(dir, "databind.yaml"), c.ConfigFileUsed())
	assert.Equal(t, "debug", c.GetString("log.level"))
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("DATABIND_ADMIN_ADDR", ":7070")
	t.Setenv("DATABIND_CACHE_DEFAULT_TTL", "90s")
	t.Setenv("DATABIND_HTTP_TOKEN", "env-token")

	_, s := loadSettings(t, testYAML)
	assert.Equal(t, ":7070", s.Admin.Addr)
	assert.Equal(t, 90*time.Second, s.Cache.DefaultTTL)
	assert.Equal(t, "env-token", s.HTTP.Token)
}

func TestWithEnvPrefix(t *testing.T) {
	t.Setenv("APP_ADMIN_ADDR", ":6060")
	t.Setenv("DATABIND_ADMIN_ADDR", ":7070")

	_, s := loadSettings(t, "log:\n  level: info\n", WithEnvPrefix("APP"))
	assert.Equal(t, ":6060", s.Admin.Addr)
}

func TestSet(t *testing.T) {
	c, _ := loadSettings(t, testYAML)
	c.Set("admin.addr", ":1234")
	assert.True(t, c.IsSet("admin.addr"))

	s, err := c.Settings()
	require.NoError(t, err)
	assert.Equal(t, ":1234", s.Admin.Addr)
}

func TestUnmarshalKey(t *testing.T) {
	c, _ := loadSettings(t, testYAML)

	var cs CacheSettings
	require.NoError(t, c.UnmarshalKey("cache", &cs))
	assert.Equal(t, time.Minute, cs.DefaultTTL)
}

func TestSettingsValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown log level", "log:\n  level: loud\n"},
		{"unknown default policy", "manager:\n  default_policy: sometimes\n"},
		{"bad reconnect delays", "websocket:\n  reconnect_base_delay: 10s\n  max_reconnect_delay: 1s\n"},
		{"bad tracing exporter", "tracing:\n  enabled: true\n  exporter: zipkin\n"},
		{"missing datasource type", "datasources:\n  - id: a\n"},
		{"duplicate id", "datasources:\n  - id: a\n    type: static\n  - id: a\n    type: static\n"},
		{"bad cron", "datasources:\n  - id: a\n    type: static\n    refetch_schedule: every minute\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTestConfig(t, t.TempDir(), "databind.yaml", tt.content)
			c := New(WithConfigFile(path))
			require.NoError(t, c.Load())

			_, err := c.Settings()
			require.Error(t, err)
			assert.Equal(t, dberrors.KindConfig, dberrors.KindOf(err))
		})
	}
}

func TestConfigFileNotFound(t *testing.T) {
	err := New(WithConfigFile("/nonexistent/path/databind.yaml")).Load()
	require.Error(t, err)
	assert.Equal(t, dberrors.KindConfig, dberrors.KindOf(err))

	err = New(WithConfigName("nonexistent"), WithConfigType("yaml"), WithConfigPaths(t.TempDir())).Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigNotFound))
}

func TestWatchReloadsSettings(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "databind.yaml", "admin:\n  addr: \":1111\"\n")

	errs := make(chan error, 1)
	c := New(WithConfigFile(path), WithOnError(func(err error) {
		select {
		case errs <- err:
		default:
		}
	}))
	require.NoError(t, c.Load())
	defer c.Close()

	reloaded := make(chan *Settings, 8)
	c.Watch(func(s *Settings) {
		select {
		case reloaded <- s:
		default:
		}
	})
	assert.True(t, c.IsWatching())

	require.NoError(t, os.WriteFile(path, []byte("admin:\n  addr: \":2222\"\n"), 0644))
	// 写入过程中可能先收到截断后的空文件事件
	deadline := time.After(2 * time.Second)
	for addr := ""; addr != ":2222"; {
		select {
		case s := <-reloaded:
			addr = s.Admin.Addr
		case <-deadline:
			t.Fatal("watch callback was not triggered within timeout")
		}
	}

	// 校验失败时不回调，错误交给 onError
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0644))
	select {
	case err := <-errs:
		assert.Equal(t, dberrors.KindConfig, dberrors.KindOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("onError was not triggered within timeout")
	}
}

func TestStopWatch(t *testing.T) {
	c, _ := loadSettings(t, testYAML, WithAutoWatch(true))
	assert.True(t, c.IsWatching())

	c.StopWatch()
	assert.False(t, c.IsWatching())

	c.Watch(nil)
	assert.True(t, c.IsWatching())
	c.Close()
}

func TestDumpOmitsSecrets(t *testing.T) {
	_, s := loadSettings(t, testYAML)

	var buf bytes.Buffer
	require.NoError(t, s.Dump(&buf))

	out := buf.String()
	assert.Contains(t, out, "datasources:")
	assert.Contains(t, out, "id: weather")
	assert.Contains(t, out, "localhost:6380")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "ws-secret")
}

func TestConversions(t *testing.T) {
	_, s := loadSettings(t, testYAML)

	lc, err := s.Log.LoggerConfig()
	require.NoError(t, err)
	assert.Equal(t, logger.DebugLevel, lc.Level)
	assert.Equal(t, logger.ConsoleFormat, lc.Format)

	cc := cache.DefaultConfig()
	for _, opt := range s.Cache.Options(nil) {
		opt(cc)
	}
	assert.Equal(t, 50, cc.MaxSize)
	assert.Equal(t, time.Minute, cc.DefaultTTL)

	rc := request.DefaultConfig()
	for _, opt := range s.HTTP.Options() {
		opt(rc)
	}
	assert.Equal(t, 5*time.Second, rc.Timeout)
	require.NotNil(t, rc.Retry)
	assert.Equal(t, 2, rc.Retry.MaxAttempts)
	assert.Nil(t, s.HTTP.TokenFunc())

	tokens := s.WebSocket.TokenProvider()
	require.NotNil(t, tokens)
	tok, err := tokens()
	require.NoError(t, err)
	assert.Equal(t, "ws-secret", tok)

	assert.Len(t, s.Manager.Options(), 2)
}
