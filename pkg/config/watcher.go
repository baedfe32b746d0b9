package config

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Watch 注册热加载回调并开启文件监控
// 文件变更后重新解码 Settings，校验失败时不回调，错误交给 WithOnError
func (c *Config) Watch(fn func(*Settings)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if fn != nil {
		c.listeners = append(c.listeners, fn)
	}
	if !c.watching {
		c.startWatch()
	}
}

// startWatch 调用方持有 mu。底层 watcher 只启动一次
func (c *Config) startWatch() {
	c.watching = true
	if c.started {
		return
	}
	c.started = true
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		c.mu.RLock()
		watching := c.watching
		listeners := append(([]func(*Settings))(nil), c.listeners...)
		c.mu.RUnlock()

		if !watching {
			return
		}

		s, err := c.Settings()
		if err != nil {
			c.reportError(fmt.Errorf("reload %s: %w", e.Name, err))
			return
		}
		for _, fn := range listeners {
			fn(s)
		}
	})
	c.viper.WatchConfig()
}

// StopWatch 停止回调
// 注意：viper 未提供停止底层 fsnotify watcher 的方法，此处仅标记状态
func (c *Config) StopWatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watching = false
}

// IsWatching 是否正在监控
func (c *Config) IsWatching() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.watching
}

// reportError 优先交给 onError 回调，否则输出到 stderr
func (c *Config) reportError(err error) {
	c.mu.RLock()
	onError := c.onError
	c.mu.RUnlock()

	if onError != nil {
		onError(err)
	} else {
		fmt.Fprintf(os.Stderr, "[config] %v\n", err)
	}
}
