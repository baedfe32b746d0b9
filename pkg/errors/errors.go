package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind 错误类别
type Kind string

const (
	KindConfig          Kind = "CONFIG_ERROR"
	KindHandlerNotFound Kind = "HANDLER_NOT_FOUND"
	KindNetwork         Kind = "NETWORK_ERROR"
	KindTransform       Kind = "TRANSFORM_ERROR"
	KindTimeout         Kind = "TIMEOUT_ERROR"
	KindUnknown         Kind = "UNKNOWN_ERROR"
)

// Error 数据源错误
type Error struct {
	Kind         Kind   `json:"kind"`          // 错误类别
	Code         int    `json:"code"`          // 错误码
	Message      string `json:"message"`       // 错误信息
	DatasourceID string `json:"datasource_id"` // 来源数据源
	Err          error  `json:"-"`             // 原始错误
}

// Error 实现 error 接口
func (e *Error) Error() string {
	msg := e.Message
	if e.DatasourceID != "" {
		msg = fmt.Sprintf("[%s] %s", e.DatasourceID, msg)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap 实现 errors.Unwrap 接口
func (e *Error) Unwrap() error {
	return e.Err
}

// New 创建新的错误
func New(kind Kind, code int, message string) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
	}
}

// Clone 克隆错误（避免修改共享的预定义错误）
func (e *Error) Clone() *Error {
	c := *e
	return &c
}

// WithError 添加原始错误（返回新实例，不修改原错误）
func (e *Error) WithError(err error) *Error {
	c := e.Clone()
	c.Err = err
	return c
}

// WithMessage 替换错误信息（返回新实例）
func (e *Error) WithMessage(message string) *Error {
	c := e.Clone()
	c.Message = message
	return c
}

// WithMessagef 格式化错误信息（返回新实例）
func (e *Error) WithMessagef(format string, args ...any) *Error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// WithDatasource 绑定数据源 ID（返回新实例）
func (e *Error) WithDatasource(id string) *Error {
	c := e.Clone()
	c.DatasourceID = id
	return c
}

// Is 当 target 也是 *Error 时比较错误码；target 为类别哨兵（ErrNetwork 等）时按 Kind 比较
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Code == t.Code {
		return true
	}
	return isKindSentinel(t) && e.Kind == t.Kind
}

// KindOf 返回错误类别，非 *Error 返回 KindUnknown
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Wrap 将任意错误归类为 *Error 并绑定数据源
//   - *Error 保留原类别，仅补充缺失的数据源 ID
//   - context.DeadlineExceeded 归为 TIMEOUT_ERROR
//   - context.Canceled 归为 NETWORK_ERROR（请求被中止）
//   - 其余归为 UNKNOWN_ERROR
func Wrap(err error, datasourceID string) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		if e.DatasourceID == "" {
			return e.WithDatasource(datasourceID)
		}
		return e
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout.WithDatasource(datasourceID).WithError(err)
	case errors.Is(err, context.Canceled):
		return ErrNetwork.WithMessage("request aborted").WithDatasource(datasourceID).WithError(err)
	default:
		return ErrUnknown.WithDatasource(datasourceID).WithError(err)
	}
}

// As 转换为指定类型的错误
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is 检查错误是否为指定类型
func Is(err error, target error) bool {
	return errors.Is(err, target)
}
