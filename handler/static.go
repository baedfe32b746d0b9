package handler

import (
	"context"

	"github.com/tokmz/databind"
)

// Static 返回配置中的常量数据，用于常量、模拟数据与测试
type Static struct{}

// NewStatic 创建静态处理器
func NewStatic() *Static {
	return &Static{}
}

// Fetch 实现 databind.Handler
func (Static) Fetch(_ context.Context, cfg *databind.Config) (any, error) {
	if cfg.Static == nil {
		return nil, nil
	}
	return cfg.Static.Data, nil
}
