package logger

// Option 修改 Config
type Option func(*Config)

// Apply 依次应用 opts 并返回 c，c 为 nil 时新建
func Apply(c *Config, opts ...Option) *Config {
	if c == nil {
		c = &Config{}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithLevel(level Level) Option {
	return func(c *Config) { c.Level = level }
}

// WithConsole 输出到标准输出；format 为空时沿用已有格式
func WithConsole(format Format) Option {
	return func(c *Config) {
		c.Console = true
		if format != "" {
			c.Format = format
		}
	}
}

// WithFile 追加写入 path，空路径忽略
func WithFile(path string) Option {
	return func(c *Config) {
		if path != "" {
			c.File = path
		}
	}
}

// WithRotation 写入按大小轮转的文件，Filename 为空时忽略
func WithRotation(rc RotateConfig) Option {
	return func(c *Config) {
		if rc.Filename != "" {
			c.Rotate = &rc
		}
	}
}

// WithSampling 同一消息每秒前 initial 条全部输出，之后每 thereafter 条输出一条。
// 两者都不大于 0 时关闭采样
func WithSampling(initial, thereafter int) Option {
	return func(c *Config) {
		if initial <= 0 && thereafter <= 0 {
			c.Sampling = nil
			return
		}
		c.Sampling = &SamplingConfig{Initial: initial, Thereafter: thereafter}
	}
}

// WithDiagnostics 是否记录调用位置与 Error 级以上的堆栈
func WithDiagnostics(caller, stacktrace bool) Option {
	return func(c *Config) {
		c.EnableCaller = caller
		c.EnableStacktrace = stacktrace
	}
}

// WithHooks 追加钩子，nil 忽略
func WithHooks(hooks ...Hook) Option {
	return func(c *Config) {
		for _, h := range hooks {
			if h != nil {
				c.Hooks = append(c.Hooks, h)
			}
		}
	}
}
