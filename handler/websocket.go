package handler

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/databind"
	dberrors "github.com/tokmz/databind/pkg/errors"
	"github.com/tokmz/databind/pkg/logger"
	"github.com/tokmz/databind/pkg/ws"
)

// DefaultConnectTimeout 等待连接建立的默认超时
const DefaultConnectTimeout = 10 * time.Second

// Binding WebSocket 数据源的获取结果：共享连接与各主题最新推送
type Binding struct {
	ID   string
	URL  string
	Conn *ws.Connection

	mu     sync.RWMutex
	latest map[string]json.RawMessage
	subs   []*ws.Subscription
}

// State 连接当前状态
func (b *Binding) State() ws.State {
	return b.Conn.State()
}

// Latest 主题最近一次推送
func (b *Binding) Latest(topic string) (json.RawMessage, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.latest[topic]
	return data, ok
}

// Topics 已订阅主题
func (b *Binding) Topics() []string {
	b.mu.RLock()
	topics := make([]string, 0, len(b.subs))
	for _, s := range b.subs {
		topics = append(topics, s.Topic())
	}
	b.mu.RUnlock()
	sort.Strings(topics)
	return topics
}

// MarshalJSON 诊断输出
func (b *Binding) MarshalJSON() ([]byte, error) {
	b.mu.RLock()
	latest := make(map[string]json.RawMessage, len(b.latest))
	for k, v := range b.latest {
		latest[k] = v
	}
	b.mu.RUnlock()

	return json.Marshal(struct {
		URL    string                     `json:"url"`
		State  string                     `json:"state"`
		Latest map[string]json.RawMessage `json:"latest"`
	}{b.URL, b.State().String(), latest})
}

func (b *Binding) subscribe(topics []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	have := make(map[string]bool, len(b.subs))
	for _, s := range b.subs {
		have[s.Topic()] = true
	}
	for _, topic := range topics {
		if have[topic] {
			continue
		}
		have[topic] = true
		topic := topic
		b.subs = append(b.subs, b.Conn.Subscribe(topic, func(data json.RawMessage) {
			b.mu.Lock()
			b.latest[topic] = data
			b.mu.Unlock()
		}))
	}
}

func (b *Binding) release() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}

// WebSocket 从连接池取得共享连接，等待其进入 connected
type WebSocket struct {
	pool    *ws.Pool
	tokens  ws.TokenProvider
	timeout time.Duration
	logger  logger.Logger

	mu       sync.Mutex
	bindings map[string]*Binding // 按数据源 id
}

// NewWebSocket 创建处理器；pool 为 nil 时新建，timeout <= 0 使用 DefaultConnectTimeout
func NewWebSocket(pool *ws.Pool, tokens ws.TokenProvider, timeout time.Duration, log logger.Logger) *WebSocket {
	if pool == nil {
		pool = ws.NewPool()
	}
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return &WebSocket{
		pool:     pool,
		tokens:   tokens,
		timeout:  timeout,
		logger:   log.Named("websocket"),
		bindings: make(map[string]*Binding),
	}
}

// Pool 底层连接池
func (h *WebSocket) Pool() *ws.Pool {
	return h.pool
}

// Fetch 实现 databind.Handler。ctx 取消只中止等待，不关闭共享连接
func (h *WebSocket) Fetch(ctx context.Context, cfg *databind.Config) (any, error) {
	wc := cfg.WebSocket
	if wc == nil || wc.URL == "" {
		return nil, dberrors.ErrConfig.WithDatasource(cfg.ID).WithMessage("websocket url is required")
	}

	if err := h.checkToken(); err != nil {
		return nil, dberrors.ErrNetwork.WithDatasource(cfg.ID).WithMessage("no access token available").WithError(err)
	}

	conn, err := h.pool.Get(wc.URL, ws.WithTokenProvider(h.tokens))
	if err != nil {
		return nil, dberrors.ErrConfig.WithDatasource(cfg.ID).WithMessagef("invalid websocket url %q", wc.URL).WithError(err)
	}
	if err := conn.Connect(); err != nil {
		return nil, dberrors.ErrNetwork.WithDatasource(cfg.ID).WithError(err)
	}

	binding := h.bind(cfg.ID, wc.URL, conn)
	binding.subscribe(wc.Topics)

	timeout := wc.Timeout
	if timeout <= 0 {
		timeout = h.timeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := conn.WaitConnected(waitCtx); err != nil {
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			return nil, dberrors.ErrNetwork.WithDatasource(cfg.ID).WithMessage("request aborted").WithError(ctx.Err())
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, dberrors.ErrTimeout.WithDatasource(cfg.ID).
				WithMessage("websocket not connected before deadline").WithError(ctx.Err())
		case waitCtx.Err() != nil:
			h.logger.Warn("websocket connect timeout",
				zap.String("datasource_id", cfg.ID),
				zap.String("url", wc.URL),
				zap.Duration("delay", timeout),
			)
			return nil, dberrors.ErrTimeout.WithDatasource(cfg.ID).
				WithMessagef("websocket not connected within %s", timeout).WithError(err)
		default:
			return nil, dberrors.ErrNetwork.WithDatasource(cfg.ID).WithError(err)
		}
	}
	return binding, nil
}

func (h *WebSocket) checkToken() error {
	if h.tokens == nil {
		return ws.ErrEmptyToken
	}
	token, err := h.tokens()
	if err != nil {
		return err
	}
	if token == "" {
		return ws.ErrEmptyToken
	}
	return nil
}

func (h *WebSocket) bind(id, url string, conn *ws.Connection) *Binding {
	h.mu.Lock()
	defer h.mu.Unlock()

	if b, ok := h.bindings[id]; ok && b.Conn == conn {
		return b
	} else if ok {
		b.release()
	}

	b := &Binding{ID: id, URL: url, Conn: conn, latest: make(map[string]json.RawMessage)}
	h.bindings[id] = b
	return b
}

// Cleanup 实现 databind.Cleaner：取消该数据源的订阅，URL 无其他绑定时关闭连接
func (h *WebSocket) Cleanup(cfg *databind.Config) error {
	h.mu.Lock()
	b, ok := h.bindings[cfg.ID]
	if !ok {
		h.mu.Unlock()
		return nil
	}
	delete(h.bindings, cfg.ID)
	shared := false
	for _, other := range h.bindings {
		if other.URL == b.URL {
			shared = true
			break
		}
	}
	h.mu.Unlock()

	b.release()
	if shared {
		return nil
	}
	return h.pool.Close(b.URL)
}

// Close 关闭全部连接
func (h *WebSocket) Close() {
	h.mu.Lock()
	bindings := h.bindings
	h.bindings = make(map[string]*Binding)
	h.mu.Unlock()

	for _, b := range bindings {
		b.release()
	}
	h.pool.CloseAll()
}

// ApproxSize 实现 cache.Sizer
func (b *Binding) ApproxSize() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	size := int64(len(b.URL)) * 2
	for topic, data := range b.latest {
		size += int64(len(topic)+len(data)) * 2
	}
	return size
}
