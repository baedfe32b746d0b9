package request

import "github.com/tokmz/databind/pkg/errors"

// 4000 段错误码: HTTP 传输相关
var (
	// ErrRequestFailed 请求失败
	ErrRequestFailed = errors.New(errors.KindNetwork, 4001, "http request failed")
	// ErrTimeout 请求超时
	ErrTimeout = errors.New(errors.KindTimeout, 4002, "http request timed out")
	// ErrUnmarshal 响应体解析失败
	ErrUnmarshal = errors.New(errors.KindTransform, 4004, "unmarshal response body failed")
	// ErrMaxRetry 重试次数已用尽
	ErrMaxRetry = errors.New(errors.KindNetwork, 4005, "http retries exhausted")
	// ErrInvalidURL 无效的 URL 或方法
	ErrInvalidURL = errors.New(errors.KindConfig, 4006, "invalid request")
)
