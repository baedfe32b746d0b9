package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType 消息类型
type MessageType string

// 客户端 -> 服务端
const (
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypePublish     MessageType = "publish"
	MessageTypePing        MessageType = "ping"
)

// 服务端 -> 客户端
const (
	MessageTypeMessage      MessageType = "message"
	MessageTypeSubscribed   MessageType = "subscribed"
	MessageTypeUnsubscribed MessageType = "unsubscribed"
	MessageTypeError        MessageType = "error"
	MessageTypePong         MessageType = "pong"
	MessageTypePresence     MessageType = "presence"
)

// presenceSuffix presence 消息派发到 "<topic>:presence"
const presenceSuffix = ":presence"

// Envelope 线上消息信封
type Envelope struct {
	Type      MessageType     `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"` // 毫秒
	MessageID string          `json:"messageId,omitempty"`
}

// NewEnvelope 创建信封，data 为 nil 时不携带负载
func NewEnvelope(typ MessageType, topic string, data any) (*Envelope, error) {
	env := &Envelope{Type: typ, Topic: topic}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return env, nil
}

// Unmarshal 解析消息数据
func (e *Envelope) Unmarshal(v any) error {
	return json.Unmarshal(e.Data, v)
}

// encode 补齐 messageId 与 timestamp 后编码
func (e *Envelope) encode() ([]byte, error) {
	out := *e
	if out.MessageID == "" {
		out.MessageID = uuid.NewString()
	}
	if out.Timestamp == 0 {
		out.Timestamp = time.Now().UnixMilli()
	}
	return json.Marshal(&out)
}

// decodeEnvelope 解析入站消息
func decodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.Type == "" {
		return nil, ErrInvalidMessage
	}
	return &env, nil
}
