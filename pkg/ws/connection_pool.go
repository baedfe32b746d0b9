package ws

import (
	"sort"
	"sync"
)

// Pool 连接池：每个 URL 一条共享连接
type Pool struct {
	mu    sync.Mutex
	conns map[string]*Connection
	opts  []Option
}

// NewPool 创建连接池，opts 作用于池内新建的每条连接
func NewPool(opts ...Option) *Pool {
	return &Pool{
		conns: make(map[string]*Connection),
		opts:  opts,
	}
}

// Get 返回 URL 对应的连接，不存在时创建（不拨号）。extra 仅在新建时生效
func (p *Pool) Get(endpoint string, extra ...Option) (*Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[endpoint]; ok {
		return conn, nil
	}

	opts := make([]Option, 0, len(p.opts)+len(extra))
	opts = append(opts, p.opts...)
	opts = append(opts, extra...)

	conn, err := NewConnection(endpoint, opts...)
	if err != nil {
		return nil, err
	}
	p.conns[endpoint] = conn
	return conn, nil
}

// Lookup 查找已存在的连接
func (p *Pool) Lookup(endpoint string) (*Connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	conn, ok := p.conns[endpoint]
	return conn, ok
}

// Close 关闭并移除 URL 对应的连接
func (p *Pool) Close(endpoint string) error {
	p.mu.Lock()
	conn, ok := p.conns[endpoint]
	delete(p.conns, endpoint)
	p.mu.Unlock()

	if !ok {
		return nil
	}
	return conn.Close()
}

// CloseAll 关闭全部连接
func (p *Pool) CloseAll() {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*Connection)
	p.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

// Len 返回连接数
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// URLs 返回池内全部 URL（字典序）
func (p *Pool) URLs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	urls := make([]string, 0, len(p.conns))
	for u := range p.conns {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// States 返回每条连接的当前状态
func (p *Pool) States() map[string]State {
	p.mu.Lock()
	conns := make(map[string]*Connection, len(p.conns))
	for u, c := range p.conns {
		conns[u] = c
	}
	p.mu.Unlock()

	states := make(map[string]State, len(conns))
	for u, c := range conns {
		states[u] = c.State()
	}
	return states
}
