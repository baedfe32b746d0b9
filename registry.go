package databind

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	dberrors "github.com/tokmz/databind/pkg/errors"
	"github.com/tokmz/databind/pkg/logger"
)

// Handler 数据源处理器，按 Type 注册
type Handler interface {
	Fetch(ctx context.Context, cfg *Config) (any, error)
}

// Cleaner 可选接口，释放处理器为某个数据源持有的资源
type Cleaner interface {
	Cleanup(cfg *Config) error
}

// HandlerFunc 函数适配器
type HandlerFunc func(ctx context.Context, cfg *Config) (any, error)

// Fetch 实现 Handler
func (f HandlerFunc) Fetch(ctx context.Context, cfg *Config) (any, error) {
	return f(ctx, cfg)
}

// Registry 类型到处理器的分派表
type Registry struct {
	mu       sync.RWMutex
	handlers map[Type]Handler
	logger   logger.Logger
}

// NewRegistry 创建分派表，log 为 nil 时不输出日志
func NewRegistry(log logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{
		handlers: make(map[Type]Handler),
		logger:   log.Named("registry"),
	}
}

// Register 注册处理器，已存在时覆盖并输出警告
func (r *Registry) Register(t Type, h Handler) error {
	if t == "" {
		return dberrors.ErrConfig.WithMessage("handler type is required")
	}
	if h == nil {
		return dberrors.ErrConfig.WithMessagef("handler for type %q is nil", t)
	}

	r.mu.Lock()
	_, exists := r.handlers[t]
	r.handlers[t] = h
	r.mu.Unlock()

	if exists {
		r.logger.Warn("handler overwritten", zap.String("type", string(t)))
	}
	return nil
}

// Get 获取处理器
func (r *Registry) Get(t Type) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}

// Has 是否已注册
func (r *Registry) Has(t Type) bool {
	_, ok := r.Get(t)
	return ok
}

// Unregister 移除处理器，返回是否存在
func (r *Registry) Unregister(t Type) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handlers[t]
	delete(r.handlers, t)
	return ok
}

// Types 已注册类型（排序）
func (r *Registry) Types() []Type {
	r.mu.RLock()
	types := make([]Type, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	r.mu.RUnlock()

	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Clear 清空
func (r *Registry) Clear() {
	r.mu.Lock()
	r.handlers = make(map[Type]Handler)
	r.mu.Unlock()
}
