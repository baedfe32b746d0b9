package databind

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tokmz/databind/pkg/cache"
	dberrors "github.com/tokmz/databind/pkg/errors"
	"github.com/tokmz/databind/pkg/logger"
)

const tracerName = "databind"

// Manager 按数据源 id 编排获取策略、状态、缓存与自动刷新
type Manager struct {
	registry      *Registry
	cache         *cache.Cache[any]
	defaultPolicy FetchPolicy
	singleFlight  bool
	group         singleflight.Group
	logger        logger.Logger
	metrics       Metrics
	tracer        trace.Tracer

	mu        sync.Mutex
	states    map[string]*entry
	listeners map[string]map[uint64]StateListener
	nextID    uint64
	cron      *cron.Cron

	// 根 context，Cleanup 时取消并重建
	ctx    context.Context
	cancel context.CancelFunc
	wg     *sync.WaitGroup
	gen    uint64 // 每次 Cleanup 加一，旧代的刷新与获取不再创建状态或调用处理器
}

// NewManager 创建管理器
func NewManager(opts ...ManagerOption) *Manager {
	cfg := &ManagerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry(cfg.Logger)
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.New[any](cache.WithLogger(cfg.Logger))
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NoopMetrics{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		registry:      cfg.Registry,
		cache:         cfg.Cache,
		defaultPolicy: cfg.DefaultPolicy,
		singleFlight:  cfg.SingleFlight,
		logger:        cfg.Logger.Named("manager"),
		metrics:       cfg.Metrics,
		tracer:        cfg.Tracer,
		states:        make(map[string]*entry),
		listeners:     make(map[string]map[uint64]StateListener),
		ctx:           ctx,
		cancel:        cancel,
		wg:            &sync.WaitGroup{},
	}
}

// Registry 返回处理器分派表
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Fetch 按策略获取数据源
func (m *Manager) Fetch(ctx context.Context, cfg *Config, opts ...FetchOption) (*Result, error) {
	return m.fetch(ctx, m.generation(), cfg, opts...)
}

func (m *Manager) generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

func (m *Manager) fetch(ctx context.Context, gen uint64, cfg *Config, opts ...FetchOption) (*Result, error) {
	if cfg == nil {
		return nil, dberrors.ErrConfig.WithMessage("datasource config is nil")
	}
	if !cfg.IsEnabled() {
		return nil, dberrors.ErrConfig.WithDatasource(cfg.ID).WithMessage("datasource is disabled")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var fo fetchOptions
	for _, opt := range opts {
		opt(&fo)
	}

	policy := m.resolvePolicy(fo.policy, cfg.FetchPolicy)
	if !policy.Valid() {
		return nil, unknownPolicy(cfg.ID, policy)
	}

	if err := ctx.Err(); err != nil {
		return nil, dberrors.Wrap(err, cfg.ID)
	}
	if !m.registry.Has(cfg.Type) {
		return nil, handlerNotFound(cfg)
	}
	if !m.ensureState(gen, cfg, fo.params) {
		return nil, errCleanedUp(cfg.ID)
	}

	switch policy {
	case CacheFirst:
		if e, ok := m.cache.Get(cfg.ID, fo.params); ok && !e.IsStale {
			return m.served(cfg.ID, policy, e), nil
		}
		return m.network(ctx, gen, cfg, fo.params, policy, true)

	case CacheAndNetwork:
		if e, ok := m.cache.Get(cfg.ID, fo.params); ok {
			m.background(gen, cfg, fo.params, policy)
			return m.served(cfg.ID, policy, e), nil
		}
		return m.network(ctx, gen, cfg, fo.params, policy, true)

	case NetworkOnly:
		return m.network(ctx, gen, cfg, fo.params, policy, true)

	default: // NoCache
		return m.network(ctx, gen, cfg, fo.params, policy, false)
	}
}

func (m *Manager) resolvePolicy(option, config FetchPolicy) FetchPolicy {
	switch {
	case option != "":
		return option
	case config != "":
		return config
	case m.defaultPolicy != "":
		return m.defaultPolicy
	default:
		return CacheFirst
	}
}

// served 由缓存直接返回，同步到状态
func (m *Manager) served(id string, policy FetchPolicy, e cache.Entry[any]) *Result {
	m.metrics.IncrementCacheServed(id, policy, e.IsStale)
	m.update(id, func(st *entry) {
		st.data = e.Data
		st.isStale = e.IsStale
	})
	return &Result{Data: e.Data, FromCache: true, IsStale: e.IsStale, Timestamp: e.Timestamp}
}

func handlerNotFound(cfg *Config) error {
	return dberrors.ErrHandlerNotFound.WithDatasource(cfg.ID).
		WithMessagef("no handler registered for type %q", cfg.Type)
}

func errCleanedUp(id string) error {
	return dberrors.ErrNetwork.WithDatasource(id).WithMessage("manager cleaned up").WithError(context.Canceled)
}

// network 调用处理器，store 为 false 时不写缓存。
// 整个过程登记在 gen 代的 WaitGroup 上，Cleanup 清空缓存前会等待写入完成
func (m *Manager) network(ctx context.Context, gen uint64, cfg *Config, params cache.Params, policy FetchPolicy, store bool) (*Result, error) {
	h, ok := m.registry.Get(cfg.Type)
	if !ok {
		return nil, handlerNotFound(cfg)
	}

	root, wg, ok := m.track(gen)
	if !ok {
		return nil, errCleanedUp(cfg.ID)
	}
	defer wg.Done()

	m.update(cfg.ID, func(st *entry) {
		st.loading = true
		st.err = nil
	})

	start := time.Now()
	data, err := m.invoke(ctx, root, h, cfg, params, policy)
	m.metrics.ObserveFetch(cfg.ID, policy, outcome(err), time.Since(start))

	if err != nil {
		e := dberrors.Wrap(err, cfg.ID)
		m.update(cfg.ID, func(st *entry) {
			st.loading = false
			st.err = e
		})
		return nil, e
	}

	now := time.Now()
	if store {
		m.cache.Set(cfg.ID, data, cfg.CacheTime, params, "")
	}
	m.update(cfg.ID, func(st *entry) {
		st.data = data
		st.loading = false
		st.err = nil
		st.lastFetched = now
		st.isStale = false
	})
	return &Result{Data: data, Timestamp: now}, nil
}

// invoke 在追踪 span 内调用处理器，root 取消（Cleanup）时中止调用
func (m *Manager) invoke(ctx, root context.Context, h Handler, cfg *Config, params cache.Params, policy FetchPolicy) (any, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(root, cancel)
	defer stop()

	ctx, span := m.tracer.Start(ctx, "databind.fetch", trace.WithAttributes(
		attribute.String("datasource.id", cfg.ID),
		attribute.String("datasource.type", string(cfg.Type)),
		attribute.String("datasource.policy", string(policy)),
	))
	defer span.End()

	call := func() (any, error) {
		return h.Fetch(withParams(ctx, params), cfg)
	}

	var (
		data any
		err  error
	)
	if m.singleFlight {
		var shared bool
		data, err, shared = m.group.Do(cache.BuildKey(cfg.ID, params), call)
		span.SetAttributes(attribute.Bool("datasource.shared", shared))
	} else {
		data, err = call()
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return data, err
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}

// background cache-and-network 的后台刷新，错误仅记录
func (m *Manager) background(gen uint64, cfg *Config, params cache.Params, policy FetchPolicy) {
	c := *cfg
	m.goTracked(gen, func(ctx context.Context) {
		if _, err := m.network(ctx, gen, &c, params, policy, true); err != nil {
			m.logger.Warn("background refresh failed",
				zap.String("datasource_id", c.ID),
				zap.String("policy", string(policy)),
				zap.Error(err),
			)
		}
	})
}

// track 在 gen 仍是当前代时登记一个 Cleanup 需要等待的任务
func (m *Manager) track(gen uint64) (context.Context, *sync.WaitGroup, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return nil, nil, false
	}
	m.wg.Add(1)
	return m.ctx, m.wg, true
}

// goTracked 启动受 Cleanup 管理的协程，gen 已过期时不启动
func (m *Manager) goTracked(gen uint64, fn func(ctx context.Context)) {
	ctx, wg, ok := m.track(gen)
	if !ok {
		return
	}

	go func() {
		defer wg.Done()
		fn(ctx)
	}()
}

// ensureState 首次获取时创建状态并启动自动刷新；gen 已过期时返回 false
func (m *Manager) ensureState(gen uint64, cfg *Config, params cache.Params) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return false
	}
	if st, ok := m.states[cfg.ID]; ok {
		st.params = params
		return true
	}

	st := &entry{cfg: *cfg, params: params}
	m.states[cfg.ID] = st

	if cfg.RefetchInterval > 0 {
		st.stop = make(chan struct{})
		m.wg.Add(1)
		go m.refetchLoop(m.ctx, m.wg, gen, cfg.ID, cfg.RefetchInterval, st.stop)
	}
	if cfg.RefetchSchedule != "" {
		m.scheduleLocked(gen, st)
	}
	return true
}

func (m *Manager) refetchLoop(ctx context.Context, wg *sync.WaitGroup, gen uint64, id string, interval time.Duration, stop <-chan struct{}) {
	defer wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			m.autoRefetch(ctx, gen, id)
		}
	}
}

func (m *Manager) scheduleLocked(gen uint64, st *entry) {
	if m.cron == nil {
		m.cron = cron.New(cron.WithParser(scheduleParser))
		m.cron.Start()
	}

	id := st.cfg.ID
	entryID, err := m.cron.AddFunc(st.cfg.RefetchSchedule, func() {
		m.goTracked(gen, func(ctx context.Context) {
			m.autoRefetch(ctx, gen, id)
		})
	})
	if err != nil {
		m.logger.Error("schedule refetch failed", zap.String("datasource_id", id), zap.Error(err))
		return
	}
	st.cronID = entryID
	st.hasCron = true
}

func (m *Manager) autoRefetch(ctx context.Context, gen uint64, id string) {
	if ctx.Err() != nil {
		return
	}
	if _, err := m.refetch(ctx, gen, id); err != nil {
		m.logger.Warn("auto refetch failed", zap.String("datasource_id", id), zap.Error(err))
	}
}

// update 修改状态并通知监听者，状态不存在时忽略
func (m *Manager) update(id string, fn func(st *entry)) {
	m.mu.Lock()
	st, ok := m.states[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	fn(st)
	snap := st.snapshot(m)
	listeners := m.listenersLocked(id)
	m.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

func (m *Manager) listenersLocked(id string) []StateListener {
	ls := m.listeners[id]
	if len(ls) == 0 {
		return nil
	}
	out := make([]StateListener, 0, len(ls))
	for _, l := range ls {
		out = append(out, l)
	}
	return out
}

// State 获取数据源状态快照
func (m *Manager) State(id string) (*State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[id]
	if !ok {
		return nil, false
	}
	snap := st.snapshot(m)
	return &snap, true
}

// IDs 已创建状态的数据源 id（排序）
func (m *Manager) IDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// Subscribe 监听数据源状态变更，返回取消函数
func (m *Manager) Subscribe(id string, fn StateListener) func() {
	m.mu.Lock()
	m.nextID++
	key := m.nextID
	if m.listeners[id] == nil {
		m.listeners[id] = make(map[uint64]StateListener)
	}
	m.listeners[id][key] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners[id], key)
		if len(m.listeners[id]) == 0 {
			delete(m.listeners, id)
		}
		m.mu.Unlock()
	}
}

// Invalidate 淘汰该 id 的全部缓存并标记状态过时，状态不存在时返回 CONFIG_ERROR
func (m *Manager) Invalidate(id string) error {
	m.cache.InvalidatePrefix(id)

	m.mu.Lock()
	_, ok := m.states[id]
	m.mu.Unlock()
	if !ok {
		return dberrors.ErrConfig.WithDatasource(id).WithMessage("no state for datasource")
	}

	m.update(id, func(st *entry) { st.isStale = true })
	return nil
}

// InvalidateAll 清空缓存并标记全部状态过时
func (m *Manager) InvalidateAll() {
	m.cache.Clear()
	for _, id := range m.IDs() {
		m.update(id, func(st *entry) { st.isStale = true })
	}
}

// Refetch 淘汰缓存后绕过缓存重新获取，状态不存在时返回 CONFIG_ERROR
func (m *Manager) Refetch(ctx context.Context, id string) (*Result, error) {
	return m.refetch(ctx, m.generation(), id)
}

func (m *Manager) refetch(ctx context.Context, gen uint64, id string) (*Result, error) {
	m.mu.Lock()
	st, ok := m.states[id]
	if !ok || gen != m.gen {
		m.mu.Unlock()
		return nil, dberrors.ErrConfig.WithDatasource(id).WithMessage("no state for datasource")
	}
	cfg, params := st.cfg, st.params
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, dberrors.Wrap(err, id)
	}
	if err := m.Invalidate(id); err != nil {
		return nil, err
	}
	return m.fetch(ctx, gen, &cfg, WithPolicy(NetworkOnly), WithParams(params))
}

// CacheStats 缓存统计
func (m *Manager) CacheStats() cache.Stats {
	return m.cache.Stats()
}

// ClearCache 清空缓存
func (m *Manager) ClearCache() {
	m.cache.Clear()
}

// Cleanup 停止全部定时器，取消并等待进行中的获取，清空状态与缓存。
// 之后管理器仍可继续使用
func (m *Manager) Cleanup() {
	m.mu.Lock()
	m.cancel()
	for _, st := range m.states {
		if st.stop != nil {
			close(st.stop)
		}
	}
	var cronDone context.Context
	if m.cron != nil {
		cronDone = m.cron.Stop()
		m.cron = nil
	}
	states := m.states
	wg := m.wg

	m.gen++
	m.states = make(map[string]*entry)
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.wg = &sync.WaitGroup{}
	m.mu.Unlock()

	if cronDone != nil {
		<-cronDone.Done()
	}
	wg.Wait()

	for _, st := range states {
		m.release(&st.cfg)
	}
	m.cache.Clear()
}

// release 调用处理器的 Cleanup
func (m *Manager) release(cfg *Config) {
	h, ok := m.registry.Get(cfg.Type)
	if !ok {
		return
	}
	c, ok := h.(Cleaner)
	if !ok {
		return
	}
	if err := c.Cleanup(cfg); err != nil {
		m.logger.Warn("handler cleanup failed",
			zap.String("datasource_id", cfg.ID),
			zap.String("type", string(cfg.Type)),
			zap.Error(err),
		)
	}
}
