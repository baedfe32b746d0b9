package errors

/*
	内置数据源错误码
*/

var (
	// ErrUnknown 未分类错误
	ErrUnknown = New(KindUnknown, 1000, "unknown datasource error")
	// ErrConfig 配置错误（禁用的数据源、未知策略、状态不存在）
	ErrConfig = New(KindConfig, 1001, "invalid datasource config")
	// ErrHandlerNotFound 未注册处理器
	ErrHandlerNotFound = New(KindHandlerNotFound, 1002, "no handler registered for datasource type")
	// ErrNetwork 网络错误（传输失败、非 2xx、中止）
	ErrNetwork = New(KindNetwork, 1003, "network request failed")
	// ErrTransform 响应转换失败
	ErrTransform = New(KindTransform, 1004, "response transform failed")
	// ErrTimeout 超时
	ErrTimeout = New(KindTimeout, 1005, "operation timed out")
)

// kindCodes 各类别哨兵的错误码
var kindCodes = map[Kind]int{
	KindUnknown:         1000,
	KindConfig:          1001,
	KindHandlerNotFound: 1002,
	KindNetwork:         1003,
	KindTransform:       1004,
	KindTimeout:         1005,
}

func isKindSentinel(e *Error) bool {
	code, ok := kindCodes[e.Kind]
	return ok && code == e.Code
}
