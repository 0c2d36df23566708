package types

import "context"

// 每个值使用独立的空结构体键，避免与其他包的字符串键冲突。
type (
	traceIDKey struct{}
	attemptKey struct{}
)

// WithTraceID 将一次结构化补全的 trace ID 写入 context，
// 同一次调用内的全部往返共享该值。
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceID 读取 trace ID。空字符串视为未设置。
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(traceIDKey{}).(string)
	return v, ok && v != ""
}

// WithAttempt records the zero-based round trip index within one call.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey{}, attempt)
}

// Attempt returns the round trip index, if one was recorded.
func Attempt(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(attemptKey{}).(int)
	return v, ok
}
