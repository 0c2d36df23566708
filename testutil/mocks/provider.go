// MockProvider 的 LLM 提供商测试模拟实现。
//
// 支持按脚本依次返回响应、流式输出与错误注入场景。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/instructflow/llm"
)

// --- MockProvider 结构 ---

// Step 是脚本中的一次 Completion 结果
type Step struct {
	Response *llm.ChatResponse
	Err      error
}

// MockProvider 是 llm.Provider 的模拟实现
type MockProvider struct {
	mu sync.Mutex

	name    string
	baseURL string

	// 响应脚本：按顺序消费，耗尽后重复最后一步
	script []Step
	err    error

	// 流式配置
	streamDeltas []llm.Message
	streamUsage  *llm.ChatUsage
	streamErrAt  int
	streamErr    *llm.Error

	// Token 使用统计
	promptTokens     int
	completionTokens int

	// 调用记录
	calls          []MockProviderCall
	completionFunc func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
	streamFunc     func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error)

	delay     time.Duration
	callCount int
	served    int
}

// MockProviderCall 记录单次调用
type MockProviderCall struct {
	Request  *llm.ChatRequest
	Response *llm.ChatResponse
	Error    error
}

// --- 构造函数和 Builder 方法 ---

// NewMockProvider 创建新的 MockProvider
func NewMockProvider() *MockProvider {
	return &MockProvider{
		name:             "mock",
		baseURL:          "http://mock-provider/v1",
		streamErrAt:      -1,
		promptTokens:     10,
		completionTokens: 20,
	}
}

// WithBaseURL 设置上游地址，用于提供商识别
func (m *MockProvider) WithBaseURL(baseURL string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseURL = baseURL
	return m
}

// WithContent 依次追加文本响应
func (m *MockProvider) WithContent(contents ...string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range contents {
		m.script = append(m.script, Step{Response: m.response(llm.Message{Role: llm.RoleAssistant, Content: c}, "stop")})
	}
	return m
}

// WithFunctionArguments 依次追加 function_call 响应
func (m *MockProvider) WithFunctionArguments(name string, args ...string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range args {
		msg := llm.Message{Role: llm.RoleAssistant, FunctionCall: &llm.FunctionCall{Name: name, Arguments: a}}
		m.script = append(m.script, Step{Response: m.response(msg, "function_call")})
	}
	return m
}

// WithToolArguments 依次追加 tool_calls 响应
func (m *MockProvider) WithToolArguments(name string, args ...string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range args {
		msg := llm.Message{
			Role:      llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{ID: "call_" + string(rune('a'+i%26)), Name: name, Arguments: a}},
		}
		m.script = append(m.script, Step{Response: m.response(msg, "tool_calls")})
	}
	return m
}

// WithSteps 追加任意脚本步骤
func (m *MockProvider) WithSteps(steps ...Step) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, steps...)
	return m
}

// WithError 设置所有调用返回的错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithStreamChunks 设置流式内容块
func (m *MockProvider) WithStreamChunks(chunks ...string) *MockProvider {
	deltas := make([]llm.Message, len(chunks))
	for i, c := range chunks {
		deltas[i] = llm.Message{Role: llm.RoleAssistant, Content: c}
	}
	return m.WithStreamDeltas(deltas...)
}

// WithStreamDeltas 设置任意流式增量（如 tool call 参数片段）
func (m *MockProvider) WithStreamDeltas(deltas ...llm.Message) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamDeltas = deltas
	return m
}

// WithStreamUsage 在流末尾追加仅含 usage 的块
func (m *MockProvider) WithStreamUsage(usage llm.ChatUsage) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamUsage = &usage
	return m
}

// WithStreamError 在发送 at 个增量后发送错误块并结束流
func (m *MockProvider) WithStreamError(at int, err *llm.Error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamErrAt = at
	m.streamErr = err
	return m
}

// WithTokenUsage 设置 Token 使用量
func (m *MockProvider) WithTokenUsage(prompt, completion int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptTokens = prompt
	m.completionTokens = completion
	return m
}

// WithDelay 设置每次调用的响应延迟
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithCompletionFunc 设置自定义 Completion 函数
func (m *MockProvider) WithCompletionFunc(fn func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completionFunc = fn
	return m
}

// WithStreamFunc 设置自定义 Stream 函数
func (m *MockProvider) WithStreamFunc(fn func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamFunc = fn
	return m
}

func (m *MockProvider) response(msg llm.Message, finish string) *llm.ChatResponse {
	return &llm.ChatResponse{
		ID:       "mock-response-id",
		Provider: m.name,
		Model:    "mock-model",
		Choices:  []llm.ChatChoice{{Index: 0, FinishReason: finish, Message: msg}},
		Usage: llm.ChatUsage{
			PromptTokens:     m.promptTokens,
			CompletionTokens: m.completionTokens,
			TotalTokens:      m.promptTokens + m.completionTokens,
		},
	}
}

// --- Provider 接口实现 ---

// Name 返回 Provider 名称
func (m *MockProvider) Name() string {
	return m.name
}

// BaseURL 返回上游地址
func (m *MockProvider) BaseURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.baseURL
}

// Completion 按脚本返回下一步响应
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	m.callCount++
	delay := m.delay
	fn := m.completionFunc
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			m.record(req, nil, ctx.Err())
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err := ctx.Err(); err != nil {
		m.record(req, nil, err)
		return nil, err
	}

	if fn != nil {
		resp, err := fn(ctx, req)
		m.record(req, resp, err)
		return resp, err
	}

	m.mu.Lock()
	var step Step
	switch {
	case m.err != nil:
		step = Step{Err: m.err}
	case len(m.script) == 0:
		step = Step{Response: m.response(llm.Message{Role: llm.RoleAssistant, Content: "Mock response"}, "stop")}
	default:
		step = m.script[min(m.served, len(m.script)-1)]
		m.served++
	}
	m.mu.Unlock()

	if step.Response != nil {
		resp := *step.Response
		resp.Model = req.Model
		step.Response = &resp
	}
	m.record(req, step.Response, step.Err)
	return step.Response, step.Err
}

// Stream 流式返回配置的增量
func (m *MockProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	m.mu.Lock()
	m.callCount++
	if m.err != nil {
		err := m.err
		m.mu.Unlock()
		m.record(req, nil, err)
		return nil, err
	}
	fn := m.streamFunc
	deltas := append([]llm.Message(nil), m.streamDeltas...)
	usage := m.streamUsage
	errAt, streamErr := m.streamErrAt, m.streamErr
	m.mu.Unlock()

	m.record(req, nil, nil)
	if fn != nil {
		return fn(ctx, req)
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		send := func(chunk llm.StreamChunk) bool {
			select {
			case <-ctx.Done():
				return false
			case ch <- chunk:
				return true
			}
		}

		for i, delta := range deltas {
			if i == errAt && streamErr != nil {
				send(llm.StreamChunk{Provider: m.name, Err: streamErr})
				return
			}
			chunk := llm.StreamChunk{
				ID:       "mock-chunk-id",
				Provider: m.name,
				Model:    req.Model,
				Index:    i,
				Delta:    delta,
			}
			if i == len(deltas)-1 {
				chunk.FinishReason = "stop"
			}
			if !send(chunk) {
				return
			}
		}
		if errAt >= len(deltas) && streamErr != nil {
			send(llm.StreamChunk{Provider: m.name, Err: streamErr})
			return
		}
		if usage != nil {
			u := *usage
			send(llm.StreamChunk{ID: "mock-chunk-id", Provider: m.name, Model: req.Model, Usage: &u})
		}
	}()

	return ch, nil
}

func (m *MockProvider) record(req *llm.ChatRequest, resp *llm.ChatResponse, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockProviderCall{Request: req.Clone(), Response: resp, Error: err})
}

// --- 查询方法 ---

// GetCalls 获取所有调用记录
func (m *MockProvider) GetCalls() []MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockProviderCall{}, m.calls...)
}

// GetCallCount 获取调用次数
func (m *MockProvider) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// GetLastCall 获取最后一次调用
func (m *MockProvider) GetLastCall() *MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// Reset 重置调用记录与错误
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.callCount = 0
	m.served = 0
	m.err = nil
}

// --- 预设 Provider 工厂 ---

// NewContentProvider 创建依次返回文本内容的 Provider
func NewContentProvider(contents ...string) *MockProvider {
	return NewMockProvider().WithContent(contents...)
}

// NewErrorProvider 创建总是失败的 Provider
func NewErrorProvider(err error) *MockProvider {
	return NewMockProvider().WithError(err)
}

// NewStreamProvider 创建流式响应的 Provider
func NewStreamProvider(chunks ...string) *MockProvider {
	return NewMockProvider().WithStreamChunks(chunks...)
}
