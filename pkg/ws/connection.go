package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/databind/pkg/logger"
)

// State 连接状态
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MessageHandler 主题消息回调，在读协程中同步执行
type MessageHandler func(data json.RawMessage)

// Subscription 订阅句柄
type Subscription struct {
	topic string
	fn    MessageHandler
	conn  *Connection
}

// Topic 返回订阅的主题
func (s *Subscription) Topic() string {
	return s.topic
}

// Unsubscribe 取消该订阅
func (s *Subscription) Unsubscribe() {
	s.conn.Unsubscribe(s.topic, s)
}

// Connection WebSocket 客户端连接：断线自动重连、断线期间消息排队、按主题订阅分发。
// 同一 URL 的 Connection 由 Pool 共享。
type Connection struct {
	endpoint string
	cfg      Config
	log      logger.Logger
	dialer   *websocket.Dialer

	// 生命周期
	ctx      context.Context
	cancel   context.CancelFunc
	closedCh chan struct{}
	wg       sync.WaitGroup

	mu          sync.Mutex
	state       State
	conn        *websocket.Conn
	gen         uint64        // 物理连接代数，过期的回调据此忽略
	connDone    chan struct{} // 当前物理连接结束时关闭
	connectedCh chan struct{} // 进入 connected 时关闭
	handlers    map[string][]*Subscription
	queue       *frameQueue
	attempt     int
	delay       time.Duration
	timer       *time.Timer
	closed      bool

	onConnect    []func()
	onDisconnect []func(code int)
	onReconnect  []func(attempt int, delay time.Duration)
}

// NewConnection 创建连接（不会立即拨号，需调用 Connect）
func NewConnection(endpoint string, opts ...Option) (*Connection, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.setDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		endpoint:    endpoint,
		cfg:         *cfg,
		log:         cfg.Logger.Named("ws").With(zap.String("url", endpoint)),
		dialer:      cfg.dialer(),
		ctx:         ctx,
		cancel:      cancel,
		closedCh:    make(chan struct{}),
		connectedCh: make(chan struct{}),
		handlers:    make(map[string][]*Subscription),
		queue:       newFrameQueue(cfg.QueueSize),
		delay:       cfg.ReconnectBaseDelay,
	}
	c.cfg.Metrics.SetConnectionState(endpoint, StateDisconnected)
	return c, nil
}

// URL 返回连接地址（不含令牌）
func (c *Connection) URL() string {
	return c.endpoint
}

// State 返回当前状态
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ReconnectAttempts 返回当前连续重连次数，连接成功后归零
func (c *Connection) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// ReconnectDelay 返回最近一次重连使用的延迟
func (c *Connection) ReconnectDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delay
}

// QueueLen 返回排队中的消息数
func (c *Connection) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.len()
}

// Topics 返回已订阅的主题（字典序）
func (c *Connection) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topicsLocked()
}

func (c *Connection) topicsLocked() []string {
	topics := make([]string, 0, len(c.handlers))
	for topic := range c.handlers {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// OnConnect 注册连接成功回调（每次重连成功都会触发）
func (c *Connection) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

// OnDisconnect 注册断开回调
func (c *Connection) OnDisconnect(fn func(code int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = append(c.onDisconnect, fn)
}

// OnReconnect 注册重连调度回调，attempt 从 1 开始
func (c *Connection) OnReconnect(fn func(attempt int, delay time.Duration)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnect = append(c.onReconnect, fn)
}

// Connect 异步拨号；已在连接流程中时直接返回
func (c *Connection) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	if c.state != StateDisconnected {
		return nil
	}
	c.attempt = 0
	c.startDialLocked()
	return nil
}

// WaitConnected 阻塞直到连接进入 connected，ctx 结束时返回 ctx.Err()。
// 取消等待不会影响底层连接。
func (c *Connection) WaitConnected(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrConnectionClosed
		}
		if c.state == StateConnected {
			c.mu.Unlock()
			return nil
		}
		ch := c.connectedCh
		c.mu.Unlock()

		select {
		case <-ch:
		case <-c.closedCh:
			return ErrConnectionClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) startDialLocked() {
	c.setStateLocked(StateConnecting)
	gen := c.gen
	c.wg.Add(1)
	go c.dial(gen)
}

func (c *Connection) dial(gen uint64) {
	defer c.wg.Done()

	target, err := c.dialURL()
	if err != nil {
		c.log.Warn("websocket dial skipped", zap.Error(err))
		c.handleClose(gen, websocket.CloseAbnormalClosure)
		return
	}

	conn, _, err := c.dialer.DialContext(c.ctx, target, c.cfg.Header)
	if err != nil {
		c.log.Warn("websocket dial failed", zap.Error(err))
		c.handleClose(gen, websocket.CloseAbnormalClosure)
		return
	}
	c.onOpen(conn, gen)
}

// dialURL 每次拨号重新获取令牌并附加到 URL
func (c *Connection) dialURL() (string, error) {
	if c.cfg.TokenProvider == nil {
		return c.endpoint, nil
	}
	token, err := c.cfg.TokenProvider()
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrEmptyToken
	}
	return AppendQuery(c.endpoint, c.cfg.TokenParam, token)
}

// AppendQuery 向 URL 追加查询参数
func AppendQuery(raw, key, value string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// onOpen 连接建立：先冲刷积压消息，再补发订阅，最后切换到 connected。
// 整个过程持有 mu，因此新提交的消息一定排在积压消息之后。
func (c *Connection) onOpen(conn *websocket.Conn, gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}

	if c.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(c.cfg.MaxMessageSize)
	}
	c.conn = conn
	c.connDone = make(chan struct{})
	c.attempt = 0
	c.delay = c.cfg.ReconnectBaseDelay

	pending := c.queue.drain()
	flushed := 0
	for _, frame := range pending {
		if err := c.writeLocked(frame); err != nil {
			c.log.Warn("websocket flush failed", zap.Error(err))
			break
		}
		flushed++
	}
	if flushed < len(pending) {
		c.queue.unshift(pending[flushed:])
	} else {
		for _, topic := range c.topicsLocked() {
			c.sendControlLocked(MessageTypeSubscribe, topic)
		}
	}

	c.setStateLocked(StateConnected)
	close(c.connectedCh)

	c.wg.Add(1)
	go c.readLoop(conn, gen)
	if c.cfg.HeartbeatInterval > 0 {
		c.wg.Add(1)
		go c.heartbeat(c.connDone)
	}

	listeners := append([]func(){}, c.onConnect...)
	c.mu.Unlock()

	c.log.Info("websocket connected", zap.Int("flushed", flushed))
	for _, fn := range listeners {
		fn()
	}
}

func (c *Connection) readLoop(conn *websocket.Conn, gen uint64) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code = ce.Code
			}
			c.handleClose(gen, code)
			return
		}
		c.dispatch(data)
	}
}

// handleClose 处理物理连接结束（含拨号失败）：1000/1001 或主动关闭不重连，其余按退避重连
func (c *Connection) handleClose(gen uint64, code int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.gen++

	wasConnected := c.state == StateConnected
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.connDone != nil {
		close(c.connDone)
		c.connDone = nil
	}
	if wasConnected {
		c.connectedCh = make(chan struct{})
	}

	var disconnected []func(int)
	if wasConnected {
		disconnected = append(disconnected, c.onDisconnect...)
	}

	if c.closed || code == websocket.CloseNormalClosure || code == websocket.CloseGoingAway {
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()

		c.log.Info("websocket closed", zap.Int("code", code))
		for _, fn := range disconnected {
			fn(code)
		}
		return
	}

	scheduled, attempt, delay := c.scheduleReconnectLocked()
	reconnecting := append([]func(int, time.Duration){}, c.onReconnect...)
	c.mu.Unlock()

	for _, fn := range disconnected {
		fn(code)
	}
	if !scheduled {
		c.log.Error("websocket reconnect attempts exhausted",
			zap.Int("code", code),
			zap.Int("max_attempts", c.cfg.MaxReconnectAttempts))
		return
	}

	c.log.Warn("websocket connection lost, reconnecting",
		zap.Int("code", code),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay))
	for _, fn := range reconnecting {
		fn(attempt, delay)
	}
}

// scheduleReconnectLocked 按 min(base*2^attempt, max) 调度下一次重连
func (c *Connection) scheduleReconnectLocked() (bool, int, time.Duration) {
	if c.attempt >= c.cfg.MaxReconnectAttempts {
		c.setStateLocked(StateDisconnected)
		return false, c.attempt, 0
	}

	delay := backoffDelay(c.cfg.ReconnectBaseDelay, c.cfg.MaxReconnectDelay, c.attempt)
	c.attempt++
	c.delay = delay
	c.setStateLocked(StateReconnecting)
	c.cfg.Metrics.IncrementReconnects(c.endpoint)

	gen := c.gen
	c.wg.Add(1)
	c.timer = time.AfterFunc(delay, func() {
		defer c.wg.Done()
		c.reconnect(gen)
	})
	return true, c.attempt, delay
}

func (c *Connection) reconnect(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.gen || c.state != StateReconnecting {
		return
	}
	c.timer = nil
	c.startDialLocked()
}

// backoffDelay 指数退避，封顶 max
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func (c *Connection) heartbeat(done <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.Ping(); err != nil && !errors.Is(err, ErrNotConnected) {
				c.log.Debug("websocket ping failed", zap.Error(err))
			}
		}
	}
}

// dispatch 按 type 分发入站消息
func (c *Connection) dispatch(data []byte) {
	c.cfg.Metrics.IncrementMessages(c.endpoint, DirectionInbound)

	env, err := decodeEnvelope(data)
	if err != nil {
		c.cfg.Metrics.IncrementInvalidMessages(c.endpoint)
		c.log.Warn("invalid websocket message", zap.Error(err))
		return
	}

	switch env.Type {
	case MessageTypeMessage:
		c.deliver(env.Topic, env.Data)
	case MessageTypePresence:
		c.deliver(env.Topic+presenceSuffix, env.Data)
	case MessageTypeSubscribed, MessageTypeUnsubscribed, MessageTypePong:
		c.log.Debug("websocket ack", zap.String("type", string(env.Type)), zap.String("topic", env.Topic))
	case MessageTypeError:
		c.log.Warn("websocket server error", zap.String("topic", env.Topic), zap.ByteString("data", env.Data))
	default:
		c.log.Debug("unknown websocket message type", zap.String("type", string(env.Type)))
	}
}

func (c *Connection) deliver(topic string, data json.RawMessage) {
	c.mu.Lock()
	subs := append([]*Subscription(nil), c.handlers[topic]...)
	c.mu.Unlock()

	for _, sub := range subs {
		c.invoke(sub, data)
	}
}

func (c *Connection) invoke(sub *Subscription, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("websocket handler panic", zap.String("topic", sub.topic), zap.Any("panic", r))
		}
	}()
	sub.fn(data)
}

// Subscribe 订阅主题；首次订阅该主题且已连接时立即发送 subscribe，
// 未连接时由下次连接成功后的补发订阅完成
func (c *Connection) Subscribe(topic string, fn MessageHandler) *Subscription {
	sub := &Subscription{topic: topic, fn: fn, conn: c}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return sub
	}
	_, exists := c.handlers[topic]
	c.handlers[topic] = append(c.handlers[topic], sub)
	if !exists && c.state == StateConnected {
		c.sendControlLocked(MessageTypeSubscribe, topic)
	}
	return sub
}

// Unsubscribe 取消订阅；不传 subs 时移除该主题全部回调。
// 最后一个回调移除后发送 unsubscribe
func (c *Connection) Unsubscribe(topic string, subs ...*Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.handlers[topic]
	if !ok {
		return
	}

	var remaining []*Subscription
	if len(subs) > 0 {
		for _, s := range current {
			if !containsSub(subs, s) {
				remaining = append(remaining, s)
			}
		}
	}
	if len(remaining) > 0 {
		c.handlers[topic] = remaining
		return
	}

	delete(c.handlers, topic)
	if c.state == StateConnected {
		c.sendControlLocked(MessageTypeUnsubscribe, topic)
	}
}

func containsSub(subs []*Subscription, s *Subscription) bool {
	for _, x := range subs {
		if x == s {
			return true
		}
	}
	return false
}

// Send 发送消息；未连接时进入有界队列，连接成功后按顺序发送
func (c *Connection) Send(env *Envelope) error {
	frame, err := env.encode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	if c.state == StateConnected && c.conn != nil {
		err := c.writeLocked(frame)
		if err == nil {
			return nil
		}
		c.log.Warn("websocket write failed, message queued", zap.Error(err))
	}
	c.enqueueLocked(frame)
	return nil
}

// Publish 向主题发布消息，规则同 Send
func (c *Connection) Publish(topic string, data any) error {
	env, err := NewEnvelope(MessageTypePublish, topic, data)
	if err != nil {
		return err
	}
	return c.Send(env)
}

// Ping 发送 ping 帧，未连接时不排队
func (c *Connection) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	if c.state != StateConnected || c.conn == nil {
		return ErrNotConnected
	}
	frame, err := (&Envelope{Type: MessageTypePing}).encode()
	if err != nil {
		return err
	}
	return c.writeLocked(frame)
}

func (c *Connection) enqueueLocked(frame []byte) {
	if dropped := c.queue.push(frame); dropped {
		c.cfg.Metrics.IncrementDroppedMessages(c.endpoint)
		c.log.Warn("websocket queue full, oldest message dropped", zap.Int("capacity", c.cfg.QueueSize))
	}
}

func (c *Connection) sendControlLocked(typ MessageType, topic string) {
	frame, err := (&Envelope{Type: typ, Topic: topic}).encode()
	if err != nil {
		return
	}
	if err := c.writeLocked(frame); err != nil {
		c.log.Warn("websocket control frame failed",
			zap.String("type", string(typ)),
			zap.String("topic", topic),
			zap.Error(err))
	}
}

// writeLocked 写入一帧，调用方需持有 mu
func (c *Connection) writeLocked(frame []byte) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return err
	}
	c.cfg.Metrics.IncrementMessages(c.endpoint, DirectionOutbound)
	return nil
}

func (c *Connection) setStateLocked(s State) {
	c.state = s
	c.cfg.Metrics.SetConnectionState(c.endpoint, s)
}

// Close 主动关闭：取消重连定时器，以 1000 关闭 socket，清空订阅与队列。
// 不要在订阅回调中调用。
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.gen++
	close(c.closedCh)

	if c.timer != nil && c.timer.Stop() {
		c.wg.Done()
	}
	c.timer = nil
	c.cancel()

	conn := c.conn
	c.conn = nil
	if c.connDone != nil {
		close(c.connDone)
		c.connDone = nil
	}
	wasConnected := c.state == StateConnected
	c.setStateLocked(StateDisconnected)
	c.handlers = make(map[string][]*Subscription)
	c.queue.drain()
	disconnected := append([]func(int){}, c.onDisconnect...)
	c.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteWait))
		_ = conn.Close()
	}
	c.wg.Wait()

	c.log.Info("websocket connection closed")
	if wasConnected {
		for _, fn := range disconnected {
			fn(websocket.CloseNormalClosure)
		}
	}
	return nil
}
