package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/BaSui01/instructflow/llm"
	"github.com/BaSui01/instructflow/llm/providers"
)

// ---------------------------------------------------------------------------
// New() constructor
// ---------------------------------------------------------------------------

func TestNew_Defaults(t *testing.T) {
	tests := []struct {
		name         string
		cfg          Config
		logger       *zap.Logger
		wantEndpoint string
		wantTimeout  time.Duration
		wantLimiter  bool
	}{
		{
			name:         "all defaults applied",
			cfg:          Config{ProviderName: "test"},
			wantEndpoint: "/v1/chat/completions",
			wantTimeout:  60 * time.Second,
		},
		{
			name:         "custom endpoint and timeout preserved",
			cfg:          Config{ProviderName: "custom", EndpointPath: "/chat/completions", Timeout: 10 * time.Second},
			logger:       zap.NewNop(),
			wantEndpoint: "/chat/completions",
			wantTimeout:  10 * time.Second,
		},
		{
			name:         "rate limited",
			cfg:          Config{ProviderName: "limited", RequestsPerSecond: 5},
			wantEndpoint: "/v1/chat/completions",
			wantTimeout:  60 * time.Second,
			wantLimiter:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg, tt.logger)
			require.NotNil(t, p)
			assert.Equal(t, tt.wantEndpoint, p.Cfg.EndpointPath)
			assert.Equal(t, tt.cfg.ProviderName, p.Name())
			assert.Equal(t, tt.wantTimeout, p.Client.Timeout)
			assert.Equal(t, tt.wantLimiter, p.limiter != nil)
			assert.NotNil(t, p.Logger)
			assert.NotNil(t, p.RewriterChain)
		})
	}
}

func TestSetBuildHeaders(t *testing.T) {
	p := New(Config{ProviderName: "test", APIKey: "key"}, nil)

	called := false
	p.SetBuildHeaders(func(r *http.Request, apiKey string) {
		called = true
		r.Header.Set("x-api-key", apiKey)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	p.buildHeaders(req, "key")
	assert.True(t, called)
	assert.Equal(t, "key", req.Header.Get("x-api-key"))
}

// ---------------------------------------------------------------------------
// Completion
// ---------------------------------------------------------------------------

func jsonServer(t *testing.T, handler func(body []byte) any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(handler(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func okResponse(msg providers.OpenAICompatMessage) providers.OpenAICompatResponse {
	return providers.OpenAICompatResponse{
		ID:      "resp-1",
		Model:   "gpt-test",
		Choices: []providers.OpenAICompatChoice{{Index: 0, FinishReason: "stop", Message: msg}},
		Usage:   &providers.OpenAICompatUsage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7},
		Created: 1700000000,
	}
}

func TestProvider_Completion_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(okResponse(providers.OpenAICompatMessage{Role: "assistant", Content: "Hello!"}))
	}))
	t.Cleanup(server.Close)

	p := New(Config{ProviderName: "test", APIKey: "test-key", BaseURL: server.URL}, zap.NewNop())
	assert.Equal(t, server.URL, p.BaseURL())

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "resp-1", resp.ID)
	assert.Equal(t, "test", resp.Provider)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Hello!", resp.Choices[0].Message.Content)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
	assert.False(t, resp.CreatedAt.IsZero())
}

func TestProvider_Completion_EncodesStructuredFields(t *testing.T) {
	var sent []byte
	server := jsonServer(t, func(body []byte) any {
		sent = body
		return okResponse(providers.OpenAICompatMessage{
			Role: "assistant",
			ToolCalls: []providers.OpenAICompatToolCall{{
				ID: "call_1", Type: "function",
				Function: providers.OpenAICompatCall{Name: "Person", Arguments: `{"name":"Jason"}`},
			}},
		})
	})

	p := New(Config{ProviderName: "test", BaseURL: server.URL, DefaultModel: "default-model"}, nil)
	schema := json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}}}`)
	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages:       []llm.Message{{Role: llm.RoleUser, Content: "Jason"}},
		Tools:          []llm.ToolSchema{{Name: "Person", Description: "a person", Parameters: schema}},
		ToolChoice:     "Person",
		ResponseFormat: &llm.ResponseFormat{Type: llm.ResponseFormatJSONSchema, Name: "Person", Schema: schema},
		Extra:          map[string]any{"seed": 7, "model": "ignored"},
	})
	require.NoError(t, err)

	body := gjson.ParseBytes(sent)
	assert.Equal(t, "default-model", body.Get("model").String())
	assert.Equal(t, "function", body.Get("tools.0.type").String())
	assert.Equal(t, "Person", body.Get("tools.0.function.name").String())
	assert.Equal(t, "string", body.Get("tools.0.function.parameters.properties.name.type").String())
	assert.Equal(t, "Person", body.Get("tool_choice.function.name").String())
	assert.Equal(t, "json_schema", body.Get("response_format.type").String())
	assert.Equal(t, "Person", body.Get("response_format.json_schema.name").String())
	assert.Equal(t, int64(7), body.Get("seed").Int())
	assert.False(t, body.Get("stream").Exists())

	msg, ok := resp.FirstMessage()
	require.True(t, ok)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, `{"name":"Jason"}`, msg.ToolCalls[0].Arguments)
}

func TestProvider_Completion_LegacyFunctions(t *testing.T) {
	var sent []byte
	server := jsonServer(t, func(body []byte) any {
		sent = body
		return okResponse(providers.OpenAICompatMessage{
			Role:         "assistant",
			FunctionCall: &providers.OpenAICompatCall{Name: "Person", Arguments: `{"age":3}`},
		})
	})

	p := New(Config{ProviderName: "test", BaseURL: server.URL}, nil)
	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Model:        "m",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "x"}},
		Functions:    []llm.ToolSchema{{Name: "Person", Parameters: json.RawMessage(`{"type":"object"}`)}},
		FunctionCall: "Person",
	})
	require.NoError(t, err)

	body := gjson.ParseBytes(sent)
	assert.Equal(t, "Person", body.Get("functions.0.name").String())
	assert.Equal(t, "Person", body.Get("function_call.name").String())
	assert.False(t, body.Get("tools").Exists())

	msg, _ := resp.FirstMessage()
	require.NotNil(t, msg.FunctionCall)
	assert.Equal(t, `{"age":3}`, msg.FunctionCall.Arguments)
}

func TestProvider_Completion_ToolChoiceGuard(t *testing.T) {
	var sent []byte
	server := jsonServer(t, func(body []byte) any {
		sent = body
		return okResponse(providers.OpenAICompatMessage{Role: "assistant", Content: "ok"})
	})

	p := New(Config{ProviderName: "test", BaseURL: server.URL}, nil)
	_, err := p.Completion(context.Background(), &llm.ChatRequest{
		Model:      "m",
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: "x"}},
		Tools:      []llm.ToolSchema{},
		ToolChoice: "auto",
	})
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(sent, "tool_choice").Exists())

	sent = nil
	_, err = p.Completion(context.Background(), &llm.ChatRequest{
		Model:      "m",
		Messages:   []llm.Message{{Role: llm.RoleUser, Content: "x"}},
		Tools:      []llm.ToolSchema{{Name: "extract_person"}},
		ToolChoice: "extract_order",
	})
	require.Error(t, err)
	assert.Nil(t, sent, "rejected before reaching the upstream")
}

func TestProvider_Completion_HTTPError(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantCode   llm.ErrorCode
		wantRetry  bool
		wantMsg    string
	}{
		{"401 unauthorized", http.StatusUnauthorized, `{"error":{"message":"invalid key","type":"auth"}}`, llm.ErrUnauthorized, false, "invalid key (type: auth)"},
		{"429 rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, llm.ErrRateLimited, true, "slow down"},
		{"500 server error", http.StatusInternalServerError, `oops`, llm.ErrUpstreamError, true, "oops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				fmt.Fprint(w, tt.body)
			}))
			t.Cleanup(server.Close)

			p := New(Config{ProviderName: "test", APIKey: "key", BaseURL: server.URL}, zap.NewNop())
			_, err := p.Completion(context.Background(), &llm.ChatRequest{
				Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
			})
			var llmErr *llm.Error
			require.ErrorAs(t, err, &llmErr)
			assert.Equal(t, tt.wantCode, llmErr.Code)
			assert.Equal(t, tt.wantRetry, llmErr.Retryable)
			assert.Equal(t, tt.wantMsg, llmErr.Message)
			assert.Equal(t, "test", llmErr.Provider)
		})
	}
}

func TestProvider_Completion_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "not json")
	}))
	t.Cleanup(server.Close)

	p := New(Config{ProviderName: "test", APIKey: "key", BaseURL: server.URL}, zap.NewNop())
	_, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	})
	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.ErrUpstreamError, llmErr.Code)
}

func TestProvider_Completion_RequestHook(t *testing.T) {
	var receivedModel string
	server := jsonServer(t, func(body []byte) any {
		receivedModel = gjson.GetBytes(body, "model").String()
		return okResponse(providers.OpenAICompatMessage{Role: "assistant", Content: "ok"})
	})

	p := New(Config{
		ProviderName: "test",
		BaseURL:      server.URL,
		DefaultModel: "default-model",
		RequestHook: func(req *llm.ChatRequest, body *providers.OpenAICompatRequest) {
			body.Model = "hooked-model"
		},
	}, zap.NewNop())

	_, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hooked-model", receivedModel)
}

func TestProvider_Completion_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(server.Close)

	p := New(Config{ProviderName: "test", BaseURL: server.URL}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Completion(ctx, &llm.ChatRequest{Model: "m"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProvider_RateLimiterHonoursContext(t *testing.T) {
	server := jsonServer(t, func([]byte) any {
		return okResponse(providers.OpenAICompatMessage{Role: "assistant", Content: "ok"})
	})
	p := New(Config{ProviderName: "test", BaseURL: server.URL, RequestsPerSecond: 0.001, Burst: 1}, nil)

	_, err := p.Completion(context.Background(), &llm.ChatRequest{Model: "m"})
	require.NoError(t, err, "the first request uses the burst")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Completion(ctx, &llm.ChatRequest{Model: "m"})
	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.ErrRateLimited, llmErr.Code)
}

// ---------------------------------------------------------------------------
// Stream
// ---------------------------------------------------------------------------

func sseServer(t *testing.T, events []string, captured *[]byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			*captured, _ = io.ReadAll(r.Body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func collect(ch <-chan llm.StreamChunk) []llm.StreamChunk {
	var out []llm.StreamChunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestProvider_Stream_ContentAndUsage(t *testing.T) {
	var sent []byte
	server := sseServer(t, []string{
		`{"id":"s1","model":"gpt-test","choices":[{"index":0,"delta":{"role":"assistant","content":"{\"items\":"}}]}`,
		`{"id":"s1","model":"gpt-test","choices":[{"index":0,"delta":{"content":"[]}"},"finish_reason":"stop"}]}`,
		`{"id":"s1","model":"gpt-test","choices":[],"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}`,
		`[DONE]`,
	}, &sent)

	p := New(Config{ProviderName: "test", BaseURL: server.URL}, nil)
	ch, err := p.Stream(context.Background(), &llm.ChatRequest{
		Model:         "gpt-test",
		Stream:        true,
		StreamOptions: &llm.StreamOptions{IncludeUsage: true},
	})
	require.NoError(t, err)
	chunks := collect(ch)
	require.Len(t, chunks, 3)

	var text strings.Builder
	for _, c := range chunks {
		assert.Nil(t, c.Err)
		text.WriteString(c.Delta.Content)
	}
	assert.Equal(t, `{"items":[]}`, text.String())
	assert.Equal(t, "stop", chunks[1].FinishReason)
	require.NotNil(t, chunks[2].Usage)
	assert.Equal(t, 7, chunks[2].Usage.TotalTokens)

	body := gjson.ParseBytes(sent)
	assert.True(t, body.Get("stream").Bool())
	assert.True(t, body.Get("stream_options.include_usage").Bool())
}

func TestProvider_Stream_ToolCallDeltas(t *testing.T) {
	server := sseServer(t, []string{
		`{"id":"s1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"Person","arguments":""}}]}}]}`,
		`{"id":"s1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"name\":"}}]}}]}`,
		`{"id":"s1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Jason\"}"}}]},"finish_reason":"tool_calls"}]}`,
		`[DONE]`,
	}, nil)

	p := New(Config{ProviderName: "test", BaseURL: server.URL}, nil)
	ch, err := p.Stream(context.Background(), &llm.ChatRequest{Model: "m", Stream: true})
	require.NoError(t, err)

	var args strings.Builder
	for _, c := range collect(ch) {
		require.Nil(t, c.Err)
		require.Len(t, c.Delta.ToolCalls, 1)
		args.WriteString(c.Delta.ToolCalls[0].Arguments)
	}
	assert.Equal(t, `{"name":"Jason"}`, args.String())
}

func TestProvider_Stream_MalformedEvent(t *testing.T) {
	server := sseServer(t, []string{`{"choices":[{"delta":{"content":"a"}}]}`, `{broken`}, nil)

	p := New(Config{ProviderName: "test", BaseURL: server.URL}, nil)
	ch, err := p.Stream(context.Background(), &llm.ChatRequest{Model: "m", Stream: true})
	require.NoError(t, err)

	chunks := collect(ch)
	require.Len(t, chunks, 2)
	assert.Equal(t, "a", chunks[0].Delta.Content)
	require.NotNil(t, chunks[1].Err)
	assert.Equal(t, llm.ErrUpstreamError, chunks[1].Err.Code)
}

func TestProvider_Stream_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"message":"overloaded"}}`)
	}))
	t.Cleanup(server.Close)

	p := New(Config{ProviderName: "test", BaseURL: server.URL}, nil)
	ch, err := p.Stream(context.Background(), &llm.ChatRequest{Model: "m", Stream: true})
	assert.Nil(t, ch)
	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.True(t, llmErr.Retryable)
}

func TestStreamSSE_StopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	ch := StreamSSE(ctx, pr, "test")

	go func() {
		_, _ = fmt.Fprint(pw, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
	}()
	first := <-ch
	assert.Equal(t, "a", first.Delta.Content)

	cancel()
	_ = pw.CloseWithError(io.ErrClosedPipe)
	for range ch {
	}
}
