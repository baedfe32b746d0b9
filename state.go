package databind

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tokmz/databind/pkg/cache"
)

// State 数据源状态快照
type State struct {
	ID          string    `json:"id"`
	Data        any       `json:"data"`
	Loading     bool      `json:"loading"`
	Error       error     `json:"-"`
	IsStale     bool      `json:"isStale"`
	LastFetched time.Time `json:"lastFetched"`

	refetch    func(ctx context.Context) (*Result, error)
	invalidate func() error
}

// Refetch 绕过缓存重新获取
func (s *State) Refetch(ctx context.Context) (*Result, error) {
	return s.refetch(ctx)
}

// Invalidate 淘汰缓存并标记过时
func (s *State) Invalidate() error {
	return s.invalidate()
}

// ErrorMessage 错误文本，无错误时为空
func (s *State) ErrorMessage() string {
	if s.Error == nil {
		return ""
	}
	return s.Error.Error()
}

// Result 获取结果
type Result struct {
	Data      any       `json:"data"`
	FromCache bool      `json:"fromCache"`
	IsStale   bool      `json:"isStale"`
	Timestamp time.Time `json:"timestamp"`
}

// StateListener 状态变更回调，在管理器锁外调用
type StateListener func(State)

// entry 管理器内部的单个数据源状态
type entry struct {
	cfg    Config
	params cache.Params // 最近一次获取参数，Refetch 复用

	data        any
	loading     bool
	err         error
	isStale     bool
	lastFetched time.Time

	stop    chan struct{} // 关闭以停止间隔刷新
	cronID  cron.EntryID
	hasCron bool
}

func (e *entry) snapshot(m *Manager) State {
	id := e.cfg.ID
	return State{
		ID:          id,
		Data:        e.data,
		Loading:     e.loading,
		Error:       e.err,
		IsStale:     e.isStale,
		LastFetched: e.lastFetched,
		refetch: func(ctx context.Context) (*Result, error) {
			return m.Refetch(ctx, id)
		},
		invalidate: func() error {
			return m.Invalidate(id)
		},
	}
}
