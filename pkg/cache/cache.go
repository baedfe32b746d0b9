// Package cache 提供数据源结果的内存缓存：TTL 过期 + LRU（或插入顺序）淘汰，
// 键由数据源 ID 与规范化参数组成。
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Entry 缓存条目
type Entry[T any] struct {
	Data      T
	Timestamp time.Time
	ExpiresAt time.Time
	ETag      string
	IsStale   bool
}

// item 链表节点
type item[T any] struct {
	key   string
	entry Entry[T]
}

// Cache 内存缓存，并发安全
type Cache[T any] struct {
	mu     sync.Mutex
	cfg    Config
	items  map[string]*list.Element
	order  *list.List // 队首为最近使用（LRU）或最近插入
	hits   int64
	misses int64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New 创建缓存
func New[T any](opts ...Option) *Cache[T] {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return NewWithConfig[T](cfg)
}

// NewWithConfig 使用配置创建缓存
func NewWithConfig[T any](cfg *Config) *Cache[T] {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := &Cache[T]{
		cfg:    *cfg,
		items:  make(map[string]*list.Element),
		order:  list.New(),
		stopCh: make(chan struct{}),
	}
	c.cfg.normalize()

	if c.cfg.CleanupInterval > 0 {
		c.wg.Add(1)
		go c.janitor(c.cfg.CleanupInterval)
	}
	return c
}

// Get 读取缓存；不存在或已过期返回 false 并计一次未命中，过期条目顺带删除
func (c *Cache[T]) Get(id string, params Params) (Entry[T], bool) {
	key := BuildKey(id, params)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return Entry[T]{}, false
	}

	it := elem.Value.(*item[T])
	if !c.cfg.Clock().Before(it.entry.ExpiresAt) {
		c.removeElement(elem)
		c.misses++
		return Entry[T]{}, false
	}

	if c.cfg.EnableLRU {
		c.order.MoveToFront(elem)
	}
	c.hits++
	return it.entry, true
}

// Set 写入缓存；ttl <= 0 使用默认 TTL。新键且已满时先淘汰一个条目
func (c *Cache[T]) Set(id string, data T, ttl time.Duration, params Params, etag string) {
	key := BuildKey(id, params)
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	now := c.cfg.Clock()
	entry := Entry[T]{
		Data:      data,
		Timestamp: now,
		ExpiresAt: now.Add(ttl),
		ETag:      etag,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*item[T]).entry = entry
		if c.cfg.EnableLRU {
			c.order.MoveToFront(elem)
		}
		return
	}

	if c.order.Len() >= c.cfg.MaxSize {
		c.evictOne()
	}

	c.items[key] = c.order.PushFront(&item[T]{key: key, entry: entry})
}

// evictOne 淘汰队尾条目：LRU 模式下为最久未使用，否则为最早插入
func (c *Cache[T]) evictOne() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	key := oldest.Value.(*item[T]).key
	c.removeElement(oldest)
	c.cfg.Logger.Debug("cache entry evicted", zap.String("key", key), zap.Bool("lru", c.cfg.EnableLRU))
}

func (c *Cache[T]) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*item[T]).key)
}

// MarkStale 标记条目为陈旧，不存在时忽略
func (c *Cache[T]) MarkStale(id string, params Params) {
	key := BuildKey(id, params)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*item[T]).entry.IsStale = true
	}
}

// Invalidate 删除条目，返回是否存在
func (c *Cache[T]) Invalidate(id string, params Params) bool {
	key := BuildKey(id, params)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(elem)
	return true
}

// InvalidatePrefix 删除某数据源的全部条目（含所有参数变体），返回删除数量
func (c *Cache[T]) InvalidatePrefix(id string) int {
	prefix := id + keySeparator

	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key, elem := range c.items {
		if key == id || strings.HasPrefix(key, prefix) {
			c.removeElement(elem)
			count++
		}
	}
	return count
}

// Clear 清空缓存并重置命中统计
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order = list.New()
	c.hits = 0
	c.misses = 0
}

// Has 检查条目是否存在且未过期（不影响统计和 LRU 顺序）
func (c *Cache[T]) Has(id string, params Params) bool {
	key := BuildKey(id, params)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	return c.cfg.Clock().Before(elem.Value.(*item[T]).entry.ExpiresAt)
}

// Keys 返回全部键，按最近使用（或插入）顺序
func (c *Cache[T]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*item[T]).key)
	}
	return keys
}

// Size 返回条目数
func (c *Cache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// CleanExpired 清理所有过期条目，返回清理数量
func (c *Cache[T]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.cfg.Clock()
	count := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if !now.Before(elem.Value.(*item[T]).entry.ExpiresAt) {
			c.removeElement(elem)
			count++
		}
		elem = prev
	}
	return count
}

func (c *Cache[T]) janitor(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if n := c.CleanExpired(); n > 0 {
				c.cfg.Logger.Debug("expired cache entries removed", zap.Int("count", n))
			}
		}
	}
}

// Close 停止后台清理
func (c *Cache[T]) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}
