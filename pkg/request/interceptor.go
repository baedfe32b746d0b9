package request

import (
	"context"
	"net/http"
)

// Interceptor 请求前后的钩子，返回错误会中止本次请求
type Interceptor interface {
	BeforeRequest(ctx context.Context, req *http.Request) error
	AfterResponse(ctx context.Context, resp *Response) error
}

// authInterceptor 每次请求前读取最新令牌
type authInterceptor struct {
	token func() string
}

// NewAuthInterceptor 创建 Bearer 认证拦截器，令牌为空时不设置 Authorization，
// 请求已显式携带 Authorization 时保持不变
func NewAuthInterceptor(token func() string) Interceptor {
	return &authInterceptor{token: token}
}

func (a *authInterceptor) BeforeRequest(_ context.Context, req *http.Request) error {
	if req.Header.Get("Authorization") != "" {
		return nil
	}
	if token := a.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

func (a *authInterceptor) AfterResponse(context.Context, *Response) error {
	return nil
}
