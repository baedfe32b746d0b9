package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Level 日志级别
type Level int8

const (
	// DebugLevel 调试信息
	DebugLevel Level = iota - 1
	// InfoLevel 常规信息（默认级别）
	InfoLevel
	// WarnLevel 警告信息
	WarnLevel
	// ErrorLevel 错误信息
	ErrorLevel
)

// String 返回级别名称
func (l Level) String() string {
	return l.toZapLevel().String()
}

// ParseLevel 解析配置文件中的级别字符串，空串返回 InfoLevel
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("logger: unknown level %q", s)
	}
}

func (l Level) toZapLevel() zapcore.Level {
	return zapcore.Level(l)
}

func fromZapLevel(level zapcore.Level) Level {
	return Level(level)
}

// Format 日志格式
type Format string

const (
	// JSONFormat JSON 格式（生产环境推荐）
	JSONFormat Format = "json"
	// ConsoleFormat 控制台格式（开发环境推荐）
	ConsoleFormat Format = "console"
)

// Config 日志配置
type Config struct {
	Level  Level  // 日志级别（默认 InfoLevel）
	Format Format // 日志格式（默认 json）

	Console bool          // 是否输出到控制台
	File    string        // 文件路径（空则不输出到文件）
	Rotate  *RotateConfig // 轮转配置（nil 则不轮转）

	Sampling *SamplingConfig // 采样配置（nil 则不采样）

	EnableCaller     bool
	EnableStacktrace bool

	Hooks []Hook // 写入前依次调用，任一返回错误则丢弃该条
}

// RotateConfig 文件轮转配置
type RotateConfig struct {
	Filename   string // 日志文件路径
	MaxSize    int    // 单文件最大大小（MB，默认 100）
	MaxAge     int    // 文件保留天数（默认 30）
	MaxBackups int    // 最多保留文件数（默认 10）
	Compress   bool   // 是否压缩
}

// SamplingConfig 采样配置
type SamplingConfig struct {
	Initial    int // 每秒前 N 条日志必定记录
	Thereafter int // 之后每 M 条记录 1 条
}

// Hook 日志钩子，在写入前调用
type Hook interface {
	OnWrite(entry zapcore.Entry, fields []zapcore.Field) error
}

func (c *Config) setDefaults() {
	if c.Format == "" {
		c.Format = JSONFormat
	}
	if !c.Console && c.File == "" && c.Rotate == nil {
		c.Console = true
	}
	if c.Rotate != nil {
		if c.Rotate.MaxSize == 0 {
			c.Rotate.MaxSize = 100
		}
		if c.Rotate.MaxAge == 0 {
			c.Rotate.MaxAge = 30
		}
		if c.Rotate.MaxBackups == 0 {
			c.Rotate.MaxBackups = 10
		}
	}
	if c.Sampling != nil {
		if c.Sampling.Initial == 0 {
			c.Sampling.Initial = 100
		}
		if c.Sampling.Thereafter == 0 {
			c.Sampling.Thereafter = 100
		}
	}
}
