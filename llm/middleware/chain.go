package middleware

import (
	"context"
	"fmt"
	"time"

	llmpkg "github.com/BaSui01/instructflow/llm"
	"github.com/BaSui01/instructflow/types"
	"go.uber.org/zap"
)

// Handler 处理一个请求并返回一个响应.
type Handler func(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatResponse, error)

// Middleware 将处理器包裹并添加额外功能.
type Middleware func(next Handler) Handler

// Chain 表示中间件链. 构造后只读，可并发使用.
type Chain struct {
	middlewares []Middleware
}

// NewChain 创建新的中间件链.
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{
		middlewares: middlewares,
	}
}

// Use 返回追加了中间件的新链，原链不变.
func (c *Chain) Use(m Middleware) *Chain {
	next := make([]Middleware, 0, len(c.middlewares)+1)
	next = append(next, c.middlewares...)
	return &Chain{middlewares: append(next, m)}
}

// Then 用链中的所有中间件包裹一个处理器. 第一个中间件位于最外层.
func (c *Chain) Then(h Handler) Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		h = c.middlewares[i](h)
	}
	return h
}

// Len 返回链中的中间件数量.
func (c *Chain) Len() int {
	return len(c.middlewares)
}

// 内置中间件

// LoggingMiddleware 记录每次往返的模型、轮次、耗时与 Token 用量.
// trace_id 优先取请求字段，缺省时回落到 context.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatResponse, error) {
			fields := roundTripFields(ctx, req)
			logger.Debug("llm request", append(fields[:len(fields):len(fields)],
				zap.Int("messages", len(req.Messages)),
				zap.Int("tools", len(req.Tools)))...)

			start := time.Now()
			resp, err := next(ctx, req)
			fields = append(fields, zap.Duration("duration", time.Since(start)))

			if err != nil {
				logger.Debug("llm request failed", append(fields, zap.Error(err))...)
				return resp, err
			}
			logger.Debug("llm response", append(fields,
				zap.String("finish_reason", finishReason(resp)),
				zap.Int("total_tokens", resp.Usage.TotalTokens))...)
			return resp, nil
		}
	}
}

func roundTripFields(ctx context.Context, req *llmpkg.ChatRequest) []zap.Field {
	traceID := req.TraceID
	if traceID == "" {
		traceID, _ = types.TraceID(ctx)
	}
	fields := make([]zap.Field, 0, 6)
	fields = append(fields, zap.String("trace_id", traceID), zap.String("model", req.Model))
	if attempt, ok := types.Attempt(ctx); ok {
		fields = append(fields, zap.Int("attempt", attempt))
	}
	return fields
}

func finishReason(resp *llmpkg.ChatResponse) string {
	if resp == nil || len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].FinishReason
}

// TimeoutMiddleware 对请求添加超时. 请求自带 Timeout 时优先生效.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatResponse, error) {
			d := timeout
			if req.Timeout > 0 {
				d = req.Timeout
			}
			if d <= 0 {
				return next(ctx, req)
			}
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// MetricsCollector 定义指标收集接口.
type MetricsCollector interface {
	RecordLLMRequest(provider, model string, duration time.Duration, usage llmpkg.ChatUsage, err error)
}

// MetricsMiddleware 收集请求的指标.
func MetricsMiddleware(provider string, collector MetricsCollector) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *llmpkg.ChatRequest) (*llmpkg.ChatResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			var usage llmpkg.ChatUsage
			if resp != nil {
				usage = resp.Usage
			}
			collector.RecordLLMRequest(provider, req.Model, time.Since(start), usage, err)

			return resp, err
		}
	}
}

// PanicError 表示已恢复的 panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.Value)
}

// RecoveryMiddleware 从 panic 中恢复.
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, req *llmpkg.ChatRequest) (resp *llmpkg.ChatResponse, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("provider panicked", zap.Any("panic", r), zap.String("trace_id", req.TraceID))
					resp = nil
					err = &PanicError{Value: r}
				}
			}()
			return next(ctx, req)
		}
	}
}
