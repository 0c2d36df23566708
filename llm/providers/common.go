package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/instructflow/llm"
)

// MapHTTPError 将 HTTP 状态码映射为带有合适重试标记的 llm.Error
// 这是所有提供者使用的通用错误映射函数
func MapHTTPError(status int, msg string, provider string) *llm.Error {
	switch status {
	case http.StatusUnauthorized:
		return &llm.Error{Code: llm.ErrUnauthorized, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusForbidden:
		return &llm.Error{Code: llm.ErrForbidden, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusTooManyRequests:
		return &llm.Error{Code: llm.ErrRateLimited, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	case http.StatusBadRequest:
		// 检查配额/信用关键字
		msgLower := strings.ToLower(msg)
		if strings.Contains(msgLower, "quota") ||
			strings.Contains(msgLower, "credit") ||
			strings.Contains(msgLower, "limit") {
			return &llm.Error{Code: llm.ErrQuotaExceeded, Message: msg, HTTPStatus: status, Provider: provider}
		}
		return &llm.Error{Code: llm.ErrInvalidRequest, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return &llm.Error{Code: llm.ErrUpstreamTimeout, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return &llm.Error{Code: llm.ErrUpstreamError, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	case 529: // Model overloaded (used by some providers)
		return &llm.Error{Code: llm.ErrModelOverloaded, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	default:
		return &llm.Error{Code: llm.ErrUpstreamError, Message: msg, HTTPStatus: status, Retryable: status >= 500, Provider: provider}
	}
}

// NetworkError 包装连接或解码失败，统一视为可重试的上游错误
func NetworkError(err error, provider string) *llm.Error {
	return &llm.Error{
		Code:       llm.ErrUpstreamError,
		Message:    err.Error(),
		HTTPStatus: http.StatusBadGateway,
		Retryable:  true,
		Provider:   provider,
	}
}

// ReadErrorMessage 读取响应体中的错误消息
// 尝试解析 JSON 错误响应，失败则回退到原始文本
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return "failed to read error response"
	}

	var errResp OpenAICompatErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}

	// 回退到原始文本
	return string(data)
}

// OpenAI 兼容 API 通用类型.
// OpenAI、Groq、Together、Anyscale、DeepSeek、Gemini 与 Anthropic 的兼容端点都使用这套格式.

// OpenAICompatMessage 表示 OpenAI 兼容的消息格式.
type OpenAICompatMessage struct {
	Role         string                 `json:"role,omitempty"`
	Content      string                 `json:"content,omitempty"`
	Name         string                 `json:"name,omitempty"`
	FunctionCall *OpenAICompatCall      `json:"function_call,omitempty"`
	ToolCalls    []OpenAICompatToolCall `json:"tool_calls,omitempty"`
	ToolCallID   string                 `json:"tool_call_id,omitempty"`
}

// OpenAICompatCall 是模型返回的函数调用，Arguments 为 JSON 文本.
type OpenAICompatCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

// OpenAICompatToolCall 表示 OpenAI 兼容的工具调用.
// 流式增量中 Index 标识所属调用，ID 与 Name 只在首个增量出现.
type OpenAICompatToolCall struct {
	Index    int              `json:"index"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function OpenAICompatCall `json:"function"`
}

// OpenAICompatFunctionDef 是函数定义.
type OpenAICompatFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// OpenAICompatTool 表示 OpenAI 兼容的工具定义.
type OpenAICompatTool struct {
	Type     string                  `json:"type"`
	Function OpenAICompatFunctionDef `json:"function"`
}

// OpenAICompatResponseFormat 对应 response_format 字段.
type OpenAICompatResponseFormat struct {
	Type       string                  `json:"type"`
	JSONSchema *OpenAICompatJSONSchema `json:"json_schema,omitempty"`
	Schema     json.RawMessage         `json:"schema,omitempty"`
}

// OpenAICompatJSONSchema 是 json_schema 模式下的 schema 包装.
type OpenAICompatJSONSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
	Strict bool            `json:"strict,omitempty"`
}

// OpenAICompatRequest 表示 OpenAI 兼容的聊天完成请求.
type OpenAICompatRequest struct {
	Model          string                      `json:"model"`
	Messages       []OpenAICompatMessage       `json:"messages"`
	Functions      []OpenAICompatFunctionDef   `json:"functions,omitempty"`
	FunctionCall   any                         `json:"function_call,omitempty"`
	Tools          []OpenAICompatTool          `json:"tools,omitempty"`
	ToolChoice     any                         `json:"tool_choice,omitempty"`
	ResponseFormat *OpenAICompatResponseFormat `json:"response_format,omitempty"`
	MaxTokens      int                         `json:"max_tokens,omitempty"`
	Temperature    float32                     `json:"temperature,omitempty"`
	TopP           float32                     `json:"top_p,omitempty"`
	Stop           []string                    `json:"stop,omitempty"`
	Stream         bool                        `json:"stream,omitempty"`
	StreamOptions  *llm.StreamOptions          `json:"stream_options,omitempty"`
}

// OpenAICompatChoice 表示 OpenAI 兼容响应中的单个选项.
type OpenAICompatChoice struct {
	Index        int                  `json:"index"`
	FinishReason string               `json:"finish_reason"`
	Message      OpenAICompatMessage  `json:"message"`
	Delta        *OpenAICompatMessage `json:"delta,omitempty"`
}

// OpenAICompatUsage 表示 OpenAI 兼容响应中的 token 用量.
type OpenAICompatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAICompatResponse 表示 OpenAI 兼容的聊天完成响应.
type OpenAICompatResponse struct {
	ID      string               `json:"id"`
	Model   string               `json:"model"`
	Choices []OpenAICompatChoice `json:"choices"`
	Usage   *OpenAICompatUsage   `json:"usage,omitempty"`
	Created int64                `json:"created,omitempty"`
}

// OpenAICompatErrorResp 表示 OpenAI 兼容的错误响应.
type OpenAICompatErrorResp struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
		Param   string `json:"param"`
	} `json:"error"`
}

// ConvertMessagesToOpenAI 将 llm.Message 切片转换为 OpenAI 兼容格式.
func ConvertMessagesToOpenAI(msgs []llm.Message) []OpenAICompatMessage {
	out := make([]OpenAICompatMessage, 0, len(msgs))
	for _, m := range msgs {
		oa := OpenAICompatMessage{
			Role:       string(m.Role),
			Name:       m.Name,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		if m.FunctionCall != nil {
			oa.FunctionCall = &OpenAICompatCall{Name: m.FunctionCall.Name, Arguments: m.FunctionCall.Arguments}
		}
		if len(m.ToolCalls) > 0 {
			oa.ToolCalls = make([]OpenAICompatToolCall, 0, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				oa.ToolCalls = append(oa.ToolCalls, OpenAICompatToolCall{
					Index:    i,
					ID:       tc.ID,
					Type:     "function",
					Function: OpenAICompatCall{Name: tc.Name, Arguments: tc.Arguments},
				})
			}
		}
		out = append(out, oa)
	}
	return out
}

// ConvertFunctionsToOpenAI 将 llm.ToolSchema 切片转换为函数定义.
func ConvertFunctionsToOpenAI(defs []llm.ToolSchema) []OpenAICompatFunctionDef {
	if len(defs) == 0 {
		return nil
	}
	out := make([]OpenAICompatFunctionDef, 0, len(defs))
	for _, d := range defs {
		out = append(out, OpenAICompatFunctionDef{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}
	return out
}

// ConvertToolsToOpenAI 将 llm.ToolSchema 切片转换为 OpenAI 兼容格式.
func ConvertToolsToOpenAI(tools []llm.ToolSchema) []OpenAICompatTool {
	defs := ConvertFunctionsToOpenAI(tools)
	if defs == nil {
		return nil
	}
	out := make([]OpenAICompatTool, 0, len(defs))
	for _, d := range defs {
		out = append(out, OpenAICompatTool{Type: "function", Function: d})
	}
	return out
}

// ConvertToolChoice 将 tool_choice 转换为线上格式：auto/none/required 原样发送，
// 其他值视为工具名并强制调用该工具.
func ConvertToolChoice(choice string) any {
	switch choice {
	case "":
		return nil
	case "auto", "none", "required":
		return choice
	default:
		return map[string]any{"type": "function", "function": map[string]string{"name": choice}}
	}
}

// ConvertFunctionCall 将 legacy function_call 转换为线上格式.
func ConvertFunctionCall(call string) any {
	switch call {
	case "":
		return nil
	case "auto", "none":
		return call
	default:
		return map[string]string{"name": call}
	}
}

// ConvertResponseFormat 将 llm.ResponseFormat 转换为线上格式.
// json_schema 的 schema 放入 json_schema 包装；json_object 附带的 schema 以内联方式发送.
func ConvertResponseFormat(rf *llm.ResponseFormat) *OpenAICompatResponseFormat {
	if rf == nil {
		return nil
	}
	out := &OpenAICompatResponseFormat{Type: string(rf.Type)}
	switch rf.Type {
	case llm.ResponseFormatJSONSchema:
		out.JSONSchema = &OpenAICompatJSONSchema{Name: rf.Name, Schema: rf.Schema, Strict: rf.Strict}
	case llm.ResponseFormatJSONObject:
		out.Schema = rf.Schema
	}
	return out
}

// BuildRequest 把 llm.ChatRequest 转换为 OpenAI 兼容的请求体.
func BuildRequest(req *llm.ChatRequest, model string, stream bool) OpenAICompatRequest {
	body := OpenAICompatRequest{
		Model:          model,
		Messages:       ConvertMessagesToOpenAI(req.Messages),
		Functions:      ConvertFunctionsToOpenAI(req.Functions),
		FunctionCall:   ConvertFunctionCall(req.FunctionCall),
		Tools:          ConvertToolsToOpenAI(req.Tools),
		ToolChoice:     ConvertToolChoice(req.ToolChoice),
		ResponseFormat: ConvertResponseFormat(req.ResponseFormat),
		MaxTokens:      req.MaxTokens,
		Temperature:    req.Temperature,
		TopP:           req.TopP,
		Stop:           req.Stop,
		Stream:         stream,
	}
	if stream && req.StreamOptions != nil {
		so := *req.StreamOptions
		body.StreamOptions = &so
	}
	return body
}

// MarshalRequest 序列化请求体并合并 extra 参数。extra 不会覆盖已有字段.
func MarshalRequest(body OpenAICompatRequest, extra map[string]any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil || len(extra) == 0 {
		return payload, err
	}
	var merged map[string]any
	if err := json.Unmarshal(payload, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// ToLLMChatResponse 将 OpenAI 兼容的响应转换为 llm.ChatResponse.
func ToLLMChatResponse(oa OpenAICompatResponse, provider string) *llm.ChatResponse {
	choices := make([]llm.ChatChoice, 0, len(oa.Choices))
	for _, c := range oa.Choices {
		choices = append(choices, llm.ChatChoice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Message:      toLLMMessage(c.Message),
		})
	}
	resp := &llm.ChatResponse{
		ID:       oa.ID,
		Provider: provider,
		Model:    oa.Model,
		Choices:  choices,
	}
	if oa.Usage != nil {
		resp.Usage = ToLLMUsage(*oa.Usage)
	}
	if oa.Created != 0 {
		resp.CreatedAt = time.Unix(oa.Created, 0)
	}
	return resp
}

// ToLLMUsage 转换 token 用量.
func ToLLMUsage(u OpenAICompatUsage) llm.ChatUsage {
	return llm.ChatUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func toLLMMessage(m OpenAICompatMessage) llm.Message {
	msg := llm.Message{
		Role:    llm.RoleAssistant,
		Content: m.Content,
		Name:    m.Name,
	}
	if m.FunctionCall != nil {
		msg.FunctionCall = &llm.FunctionCall{Name: m.FunctionCall.Name, Arguments: m.FunctionCall.Arguments}
	}
	if len(m.ToolCalls) > 0 {
		msg.ToolCalls = make([]llm.ToolCall, 0, len(m.ToolCalls))
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}
	return msg
}

// ToLLMDelta 转换流式增量。增量中的 role 可能为空，统一视为 assistant.
func ToLLMDelta(m OpenAICompatMessage) llm.Message {
	return toLLMMessage(m)
}

// ChooseModel 根据请求和默认值选择模型
func ChooseModel(req *llm.ChatRequest, defaultModel, fallbackModel string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	if defaultModel != "" {
		return defaultModel
	}
	return fallbackModel
}

// BearerTokenHeaders 是标准的 Bearer token 认证 header 构建函数。
func BearerTokenHeaders(r *http.Request, apiKey string) {
	if apiKey != "" {
		r.Header.Set("Authorization", "Bearer "+apiKey)
	}
	r.Header.Set("Content-Type", "application/json")
}

// SafeCloseBody 安全关闭 HTTP 响应体并忽略错误
func SafeCloseBody(body io.ReadCloser) {
	if body != nil {
		_ = body.Close()
	}
}
