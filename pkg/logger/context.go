package logger

import "context"

type contextKey string

const (
	traceIDKey      contextKey = "trace_id"
	datasourceIDKey contextKey = "datasource_id"
	loggerKey       contextKey = "logger"
)

// WithTraceID 在 context 中记录 TraceID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFrom 读取 context 中的 TraceID
func TraceIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// WithDatasourceID 在 context 中记录当前数据源 ID，*Context 日志方法会自动带出
func WithDatasourceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, datasourceIDKey, id)
}

// DatasourceIDFrom 读取 context 中的数据源 ID
func DatasourceIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(datasourceIDKey).(string)
	return id
}

// NewContext 将 Logger 放入 context
func NewContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext 取出 context 中的 Logger，不存在时返回 Nop
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey).(Logger); ok && l != nil {
		return l
	}
	return Nop()
}
