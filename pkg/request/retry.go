package request

import (
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	dberrors "github.com/tokmz/databind/pkg/errors"
)

// RetryConfig 重试配置，MaxAttempts 为首次请求之外的最大重试次数
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	RetryIf      func(resp *Response, err error) bool
}

// DefaultRetryConfig 3 次重试，100ms 起步翻倍，上限 5s
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		RetryIf:      defaultRetryIf,
	}
}

// defaultRetryIf 网络错误、429 与 5xx 重试；配置错误不重试
func defaultRetryIf(resp *Response, err error) bool {
	if err != nil {
		return !dberrors.Is(err, ErrInvalidURL)
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
}

// backoff 第 attempt 次重试前的等待时间，带 ±25% 抖动
func (rc *RetryConfig) backoff(attempt int) time.Duration {
	delay := math.Min(float64(rc.InitialDelay)*math.Pow(rc.Multiplier, float64(attempt)), float64(rc.MaxDelay))
	d := time.Duration(delay + delay*0.25*(rand.Float64()*2-1))
	return max(d, 0)
}

func (rc *RetryConfig) normalize() {
	if rc.MaxAttempts <= 0 {
		rc.MaxAttempts = 3
	}
	if rc.InitialDelay <= 0 {
		rc.InitialDelay = 100 * time.Millisecond
	}
	if rc.MaxDelay <= 0 {
		rc.MaxDelay = 5 * time.Second
	}
	if rc.Multiplier <= 0 {
		rc.Multiplier = 2.0
	}
	if rc.RetryIf == nil {
		rc.RetryIf = defaultRetryIf
	}
}
