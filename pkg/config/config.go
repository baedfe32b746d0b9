// Package config 基于 viper 加载 databind 配置，支持环境变量覆盖与 fsnotify 热加载
package config

import (
	"errors"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// DefaultEnvPrefix 默认环境变量前缀，如 DATABIND_ADMIN_ADDR
const DefaultEnvPrefix = "DATABIND"

// Config 配置管理器
type Config struct {
	viper *viper.Viper
	mu    sync.RWMutex

	// 配置文件相关
	configFile  string
	configName  string
	configType  string
	configPaths []string

	// 监控相关
	autoWatch bool
	watching  bool
	started   bool
	listeners []func(*Settings)
	onError   func(error)

	defaults       map[string]any
	envPrefix      string
	envKeyReplacer *strings.Replacer
}

// New 创建配置管理器
func New(opts ...Option) *Config {
	c := &Config{
		viper:          viper.New(),
		defaults:       defaultValues(),
		envPrefix:      DefaultEnvPrefix,
		envKeyReplacer: strings.NewReplacer(".", "_", "-", "_"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load 读取配置文件。未指定文件且搜索路径中找不到时返回 ErrConfigNotFound
func (c *Config) Load() error {
	c.mu.Lock()

	for k, v := range c.defaults {
		c.viper.SetDefault(k, v)
	}

	if c.envPrefix != "" {
		c.viper.SetEnvPrefix(c.envPrefix)
		c.viper.AutomaticEnv()
	}
	if c.envKeyReplacer != nil {
		c.viper.SetEnvKeyReplacer(c.envKeyReplacer)
	}

	if c.configFile != "" {
		c.viper.SetConfigFile(c.configFile)
	} else {
		if c.configName != "" {
			c.viper.SetConfigName(c.configName)
		}
		if c.configType != "" {
			c.viper.SetConfigType(c.configType)
		}
		for _, path := range c.configPaths {
			c.viper.AddConfigPath(path)
		}
	}

	if err := c.viper.ReadInConfig(); err != nil {
		c.mu.Unlock()
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return ErrConfigNotFound.WithError(err)
		}
		return ErrConfigReadFailed.WithError(err)
	}

	if c.autoWatch {
		c.startWatch()
	}
	c.mu.Unlock()
	return nil
}

// Settings 将当前配置解码为 Settings 并校验
func (c *Config) Settings() (*Settings, error) {
	s := DefaultSettings()
	if err := c.Unmarshal(s); err != nil {
		return nil, ErrConfigDecode.WithError(err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Unmarshal 将配置反序列化到结构体，字符串时长（如 "5m"）解码为 time.Duration
func (c *Config) Unmarshal(rawVal any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.Unmarshal(rawVal, decodeHook())
}

// UnmarshalKey 将指定 key 的配置反序列化到结构体
func (c *Config) UnmarshalKey(key string, rawVal any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.UnmarshalKey(key, rawVal, decodeHook())
}

// GetString 获取字符串配置值
func (c *Config) GetString(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetString(key)
}

// Set 设置配置值，优先级高于文件与环境变量
func (c *Config) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viper.Set(key, value)
}

// IsSet 检查配置键是否存在
func (c *Config) IsSet(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.IsSet(key)
}

// ConfigFileUsed 实际读取的配置文件路径
func (c *Config) ConfigFileUsed() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.ConfigFileUsed()
}

// Close 停止监控
func (c *Config) Close() {
	c.StopWatch()
}

// Viper 获取底层 viper 实例
// 注意：直接操作 viper 实例不受 Config 的并发锁保护
func (c *Config) Viper() *viper.Viper {
	return c.viper
}

func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
}
