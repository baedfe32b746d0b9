package request

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"
	"time"
)

// Response HTTP 响应，Body 已完整读取
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Request    *http.Request
}

// IsSuccess 是否为 2xx
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsError 是否为 4xx/5xx
func (r *Response) IsError() bool {
	return r.StatusCode >= 400
}

// IsJSON 按 Content-Type 判断响应体是否为 JSON（含 +json 后缀类型）
func (r *Response) IsJSON() bool {
	mt, _, err := mime.ParseMediaType(r.Headers.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// Decode 将 JSON 响应体解析到 v
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return ErrUnmarshal.WithError(err)
	}
	return nil
}

func (r *Response) String() string {
	return string(r.Body)
}
