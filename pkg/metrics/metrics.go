// Package metrics 将数据源管理器、缓存与 WebSocket 连接的运行指标导出为 Prometheus 指标。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tokmz/databind"
	"github.com/tokmz/databind/pkg/cache"
	"github.com/tokmz/databind/pkg/ws"
)

const defaultNamespace = "databind"

// Collector 同时实现 databind.Metrics 与 ws.Metrics
type Collector struct {
	namespace string
	registry  *prometheus.Registry

	fetchTotal    *prometheus.CounterVec   // datasource, policy, outcome
	fetchDuration *prometheus.HistogramVec // datasource, policy
	cacheServed   *prometheus.CounterVec   // datasource, policy, stale

	wsState     *prometheus.GaugeVec   // url
	wsReconnect *prometheus.CounterVec // url
	wsMessages  *prometheus.CounterVec // url, direction
	wsDropped   *prometheus.CounterVec // url
	wsInvalid   *prometheus.CounterVec // url
}

var (
	_ databind.Metrics = (*Collector)(nil)
	_ ws.Metrics       = (*Collector)(nil)
)

// New 创建收集器并注册到独立的 Registry；namespace 为空时使用 "databind"
func New(namespace string) (*Collector, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}

	c := &Collector{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),

		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "total",
			Help:      "Handler invocations by datasource, policy and outcome",
		}, []string{"datasource", "policy", "outcome"}),

		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Handler invocation duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"datasource", "policy"}),

		cacheServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "cache_served_total",
			Help:      "Fetch results served from cache",
		}, []string{"datasource", "policy", "stale"}),

		wsState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connection_state",
			Help:      "Connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting)",
		}, []string{"url"}),

		wsReconnect: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "reconnects_total",
			Help:      "Scheduled reconnect attempts",
		}, []string{"url"}),

		wsMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_total",
			Help:      "Frames sent (out) and received (in)",
		}, []string{"url", "direction"}),

		wsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "dropped_messages_total",
			Help:      "Queued frames dropped on overflow",
		}, []string{"url"}),

		wsInvalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "invalid_messages_total",
			Help:      "Inbound frames that could not be decoded",
		}, []string{"url"}),
	}

	for _, col := range []prometheus.Collector{
		c.fetchTotal, c.fetchDuration, c.cacheServed,
		c.wsState, c.wsReconnect, c.wsMessages, c.wsDropped, c.wsInvalid,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := c.registry.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Registry 底层 Registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler /metrics 处理器
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RegisterCache 以 GaugeFunc 导出缓存统计，每次抓取时读取 stats
func (c *Collector) RegisterCache(name string, stats func() cache.Stats) error {
	labels := prometheus.Labels{"cache": name}
	gauges := []struct {
		name string
		help string
		fn   func(cache.Stats) float64
	}{
		{"cache_size", "Cached entries", func(s cache.Stats) float64 { return float64(s.Size) }},
		{"cache_hits", "Cache hits since last clear", func(s cache.Stats) float64 { return float64(s.Hits) }},
		{"cache_misses", "Cache misses since last clear", func(s cache.Stats) float64 { return float64(s.Misses) }},
		{"cache_hit_rate", "hits / (hits + misses)", func(s cache.Stats) float64 { return s.HitRate }},
		{"cache_memory_bytes", "Approximate memory usage", func(s cache.Stats) float64 { return float64(s.MemoryUsage) }},
	}

	for _, g := range gauges {
		fn := g.fn
		err := c.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   c.namespace,
			Name:        g.name,
			Help:        g.help,
			ConstLabels: labels,
		}, func() float64 { return fn(stats()) }))
		if err != nil {
			return err
		}
	}
	return nil
}

// ObserveFetch 实现 databind.Metrics
func (c *Collector) ObserveFetch(id string, policy databind.FetchPolicy, outcome string, d time.Duration) {
	c.fetchTotal.WithLabelValues(id, string(policy), outcome).Inc()
	c.fetchDuration.WithLabelValues(id, string(policy)).Observe(d.Seconds())
}

// IncrementCacheServed 实现 databind.Metrics
func (c *Collector) IncrementCacheServed(id string, policy databind.FetchPolicy, stale bool) {
	c.cacheServed.WithLabelValues(id, string(policy), strconv.FormatBool(stale)).Inc()
}

// SetConnectionState 实现 ws.Metrics
func (c *Collector) SetConnectionState(url string, state ws.State) {
	c.wsState.WithLabelValues(url).Set(float64(state))
}

// IncrementReconnects 实现 ws.Metrics
func (c *Collector) IncrementReconnects(url string) {
	c.wsReconnect.WithLabelValues(url).Inc()
}

// IncrementMessages 实现 ws.Metrics
func (c *Collector) IncrementMessages(url string, direction string) {
	c.wsMessages.WithLabelValues(url, direction).Inc()
}

// IncrementDroppedMessages 实现 ws.Metrics
func (c *Collector) IncrementDroppedMessages(url string) {
	c.wsDropped.WithLabelValues(url).Inc()
}

// IncrementInvalidMessages 实现 ws.Metrics
func (c *Collector) IncrementInvalidMessages(url string) {
	c.wsInvalid.WithLabelValues(url).Inc()
}
