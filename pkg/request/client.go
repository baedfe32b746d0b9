package request

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client 数据源使用的 HTTP 传输
type Client struct {
	cfg  *Config
	http *http.Client
}

// New 创建 HTTP 传输
func New(opts ...Option) *Client {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig 使用配置创建 HTTP 传输
func NewWithConfig(cfg *Config) *Client {
	cfg.setDefaults()
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.roundTripper(),
		},
	}
}

// outgoing 一次待发送的请求，body 可在重试时重放
type outgoing struct {
	method  string
	url     string
	headers map[string]string
	body    []byte
}

func (o *outgoing) reader() io.Reader {
	if o.body == nil {
		return nil
	}
	return bytes.NewReader(o.body)
}

// Send 发送请求，body 为已编码的请求体（nil 表示无 body）。
// 非 2xx 响应不视为错误，由调用方按状态码判断
func (c *Client) Send(ctx context.Context, method, url string, headers map[string]string, body []byte) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	o := &outgoing{method: method, url: url, headers: c.mergeHeaders(headers), body: body}

	if c.cfg.Retry == nil {
		return c.attempt(ctx, o)
	}

	rc := *c.cfg.Retry
	rc.normalize()

	for n := 0; ; n++ {
		resp, err := c.attempt(ctx, o)
		if n == rc.MaxAttempts || !rc.RetryIf(resp, err) {
			if err != nil && n > 0 {
				return nil, ErrMaxRetry.WithError(err)
			}
			return resp, err
		}

		c.cfg.Logger.DebugContext(ctx, "retrying http request",
			zap.String("url", url),
			zap.Int("attempt", n+1),
			zap.Error(err),
		)

		timer := time.NewTimer(rc.backoff(n))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, classify(ctx.Err())
		case <-timer.C:
		}
	}
}

// mergeHeaders 合并默认头与请求头（请求级优先），返回新 map
func (c *Client) mergeHeaders(reqHeaders map[string]string) map[string]string {
	merged := make(map[string]string, len(c.cfg.Headers)+len(reqHeaders))
	for k, v := range c.cfg.Headers {
		merged[k] = v
	}
	for k, v := range reqHeaders {
		merged[k] = v
	}
	return merged
}

func (c *Client) attempt(ctx context.Context, o *outgoing) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, o.method, o.url, o.reader())
	if err != nil {
		return nil, ErrInvalidURL.WithMessagef("%s %s", o.method, o.url).WithError(err)
	}
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}

	for _, i := range c.cfg.Interceptors {
		if err := i.BeforeRequest(ctx, req); err != nil {
			return nil, ErrRequestFailed.WithMessage("request rejected by interceptor").WithError(err)
		}
	}

	start := time.Now()
	httpResp, err := c.http.Do(req)
	if err != nil {
		c.cfg.Logger.WarnContext(ctx, "http request failed",
			zap.String("method", o.method),
			zap.String("url", o.url),
			zap.Error(err),
		)
		return nil, classify(err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, ErrRequestFailed.WithMessage("read response body").WithError(err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
		Duration:   time.Since(start),
		Request:    req,
	}
	c.cfg.Logger.DebugContext(ctx, "http response",
		zap.String("method", o.method),
		zap.String("url", o.url),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", resp.Duration),
	)

	for _, i := range c.cfg.Interceptors {
		if err := i.AfterResponse(ctx, resp); err != nil {
			return resp, ErrRequestFailed.WithMessage("response rejected by interceptor").WithError(err)
		}
	}
	return resp, nil
}

// classify 将传输层错误归为超时或普通失败
func classify(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return ErrTimeout.WithError(err)
	}
	return ErrRequestFailed.WithError(err)
}
