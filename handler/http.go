package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/tokmz/databind"
	dberrors "github.com/tokmz/databind/pkg/errors"
	"github.com/tokmz/databind/pkg/logger"
	"github.com/tokmz/databind/pkg/request"
)

// Transport 执行实际网络请求并负责附加认证信息，request.Client 满足该接口
type Transport interface {
	Send(ctx context.Context, method, url string, headers map[string]string, body []byte) (*request.Response, error)
}

// NewTransport 创建默认传输：bearer 认证拦截器 + OpenTelemetry 追踪
func NewTransport(token func() string, opts ...request.Option) *request.Client {
	base := []request.Option{request.WithTracing(true)}
	if token != nil {
		base = append(base, request.WithInterceptor(request.NewAuthInterceptor(token)))
	}
	return request.New(append(base, opts...)...)
}

// HTTP 通过注入的 Transport 获取数据
type HTTP struct {
	transport Transport
	logger    logger.Logger
}

// NewHTTP 创建 HTTP 处理器，transport 为 nil 时使用不带认证的默认传输
func NewHTTP(transport Transport, log logger.Logger) *HTTP {
	if transport == nil {
		transport = NewTransport(nil)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &HTTP{transport: transport, logger: log.Named("http")}
}

// Fetch 实现 databind.Handler
func (h *HTTP) Fetch(ctx context.Context, cfg *databind.Config) (any, error) {
	hc := cfg.HTTP
	if hc == nil || hc.URL == "" {
		return nil, dberrors.ErrConfig.WithDatasource(cfg.ID).WithMessage("http url is required")
	}

	method := strings.ToUpper(hc.Method)
	if method == "" {
		method = http.MethodGet
	}

	target, err := buildURL(hc.URL, hc.QueryParams, databind.ParamsFromContext(ctx))
	if err != nil {
		return nil, dberrors.ErrConfig.WithDatasource(cfg.ID).WithMessagef("invalid url %q", hc.URL).WithError(err)
	}

	headers := make(map[string]string, len(hc.Headers)+1)
	for k, v := range hc.Headers {
		headers[http.CanonicalHeaderKey(k)] = v
	}

	var body []byte
	if hc.Body != nil && method != http.MethodGet && method != http.MethodDelete {
		body, err = json.Marshal(hc.Body)
		if err != nil {
			return nil, dberrors.ErrConfig.WithDatasource(cfg.ID).WithMessage("encode request body").WithError(err)
		}
		if _, ok := headers["Content-Type"]; !ok {
			headers["Content-Type"] = "application/json"
		}
	}

	resp, err := h.transport.Send(ctx, method, target, headers, body)
	if err != nil {
		h.logger.WarnContext(ctx, "http datasource request failed",
			zap.String("datasource_id", cfg.ID),
			zap.String("url", target),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			return nil, dberrors.ErrNetwork.WithDatasource(cfg.ID).WithMessage("request aborted").WithError(ctx.Err())
		}
		return nil, dberrors.ErrNetwork.WithDatasource(cfg.ID).WithError(err)
	}
	if !resp.IsSuccess() {
		return nil, dberrors.ErrNetwork.WithDatasource(cfg.ID).
			WithMessagef("unexpected status %d", resp.StatusCode).
			WithError(fmt.Errorf("%s %s: %s", method, target, http.StatusText(resp.StatusCode)))
	}

	data, err := decodeBody(resp)
	if err != nil {
		return nil, dberrors.ErrNetwork.WithDatasource(cfg.ID).WithMessage("decode response").WithError(err)
	}
	return applyTransform(cfg.ID, hc, data)
}

// buildURL 合并 URL 原有查询、配置查询与本次参数（后者优先），键按字母序编码
func buildURL(raw string, query map[string]any, params map[string]any) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if len(query) == 0 && len(params) == 0 {
		return u.String(), nil
	}

	q := u.Query()
	for _, src := range []map[string]any{query, params} {
		for k, v := range src {
			if v == nil {
				continue
			}
			q.Set(k, queryValue(v))
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func queryValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}

// decodeBody 按 Content-Type 解析 JSON 或文本
func decodeBody(resp *request.Response) (any, error) {
	if !resp.IsJSON() {
		return resp.String(), nil
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil, nil
	}
	var data any
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		return nil, err
	}
	return data, nil
}
