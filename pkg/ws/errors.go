package ws

import "errors"

// 错误定义
var (
	ErrConnectionClosed = errors.New("ws: connection closed")
	ErrNotConnected     = errors.New("ws: not connected")
	ErrEmptyToken       = errors.New("ws: no access token available")
	ErrInvalidMessage   = errors.New("ws: invalid message format")
	ErrInvalidConfig    = errors.New("ws: invalid config")
)
