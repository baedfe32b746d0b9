package tracing

import (
	"io"
	"time"

	dberrors "github.com/tokmz/databind/pkg/errors"
)

// 导出器类型
const (
	ExporterStdout   = "stdout"
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
	ExporterNoop     = "noop"
)

// Config 链路追踪配置
type Config struct {
	ServiceName    string `mapstructure:"service_name" yaml:"service_name"`
	ServiceVersion string `mapstructure:"service_version" yaml:"service_version"`
	Environment    string `mapstructure:"environment" yaml:"environment"`

	// 导出器（stdout/otlp-http/otlp-grpc/noop）
	Exporter string            `mapstructure:"exporter" yaml:"exporter"`
	Endpoint string            `mapstructure:"endpoint" yaml:"endpoint"` // 空时读取 OTEL_EXPORTER_OTLP_ENDPOINT
	Headers  map[string]string `mapstructure:"headers" yaml:"-"`
	Insecure bool              `mapstructure:"insecure" yaml:"insecure"`

	// 采样率（0.0-1.0），父 Span 已采样时跟随父 Span
	SamplingRate float64 `mapstructure:"sampling_rate" yaml:"sampling_rate"`

	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	BatchTimeout time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout"`

	// stdout 导出器输出目标（默认 os.Stdout，测试用）
	Writer io.Writer `mapstructure:"-" yaml:"-"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "databind",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Exporter:       ExporterStdout,
		SamplingRate:   1.0,
		Enabled:        true,
		BatchTimeout:   5 * time.Second,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return dberrors.ErrConfig.WithMessage("tracing: service name is required")
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return dberrors.ErrConfig.WithMessage("tracing: sampling rate must be between 0.0 and 1.0")
	}
	switch c.Exporter {
	case ExporterStdout, ExporterOTLPHTTP, ExporterOTLPGRPC, ExporterNoop:
		return nil
	default:
		return dberrors.ErrConfig.WithMessagef("tracing: invalid exporter %q", c.Exporter)
	}
}
