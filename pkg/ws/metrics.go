package ws

// Metrics 监控接口
type Metrics interface {
	// 连接指标
	SetConnectionState(url string, state State)
	IncrementReconnects(url string)

	// 消息指标
	IncrementMessages(url string, direction string)
	IncrementDroppedMessages(url string)
	IncrementInvalidMessages(url string)
}

// 消息方向
const (
	DirectionInbound  = "in"
	DirectionOutbound = "out"
)

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (m *NoopMetrics) SetConnectionState(url string, state State)     {}
func (m *NoopMetrics) IncrementReconnects(url string)                 {}
func (m *NoopMetrics) IncrementMessages(url string, direction string) {}
func (m *NoopMetrics) IncrementDroppedMessages(url string)            {}
func (m *NoopMetrics) IncrementInvalidMessages(url string)            {}
