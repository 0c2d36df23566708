package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatRequest_CloneIsDeep(t *testing.T) {
	orig := &ChatRequest{
		Model: "gpt-4o",
		Messages: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, FunctionCall: &FunctionCall{Name: "f", Arguments: "{}"}, ToolCalls: []ToolCall{{ID: "1"}}},
		},
		Stop:           []string{"\n"},
		Tools:          []ToolSchema{{Name: "t", Parameters: json.RawMessage(`{"type":"object"}`)}},
		Functions:      []ToolSchema{{Name: "f", Parameters: json.RawMessage(`{}`)}},
		ResponseFormat: &ResponseFormat{Type: ResponseFormatJSONSchema, Schema: json.RawMessage(`{}`)},
		StreamOptions:  &StreamOptions{IncludeUsage: true},
		Metadata:       map[string]string{"k": "v"},
		Extra:          map[string]any{"seed": 1},
	}

	c := orig.Clone()
	require.Equal(t, orig, c)

	c.Messages[0].Content = "changed"
	c.Messages[1].FunctionCall.Arguments = "changed"
	c.Messages[1].ToolCalls[0].ID = "changed"
	c.Messages = append(c.Messages, Message{Role: RoleUser})
	c.Stop[0] = "changed"
	c.Tools[0].Parameters[0] = '['
	c.Functions[0].Name = "changed"
	c.ResponseFormat.Type = ResponseFormatJSONObject
	c.ResponseFormat.Schema[0] = '['
	c.StreamOptions.IncludeUsage = false
	c.Metadata["k"] = "changed"
	c.Extra["seed"] = 2

	assert.Len(t, orig.Messages, 2)
	assert.Equal(t, "hi", orig.Messages[0].Content)
	assert.Equal(t, "{}", orig.Messages[1].FunctionCall.Arguments)
	assert.Equal(t, "1", orig.Messages[1].ToolCalls[0].ID)
	assert.Equal(t, "\n", orig.Stop[0])
	assert.Equal(t, `{"type":"object"}`, string(orig.Tools[0].Parameters))
	assert.Equal(t, "f", orig.Functions[0].Name)
	assert.Equal(t, ResponseFormatJSONSchema, orig.ResponseFormat.Type)
	assert.Equal(t, `{}`, string(orig.ResponseFormat.Schema))
	assert.True(t, orig.StreamOptions.IncludeUsage)
	assert.Equal(t, "v", orig.Metadata["k"])
	assert.Equal(t, 1, orig.Extra["seed"])
}

func TestChatRequest_CloneNil(t *testing.T) {
	var r *ChatRequest
	assert.Nil(t, r.Clone())

	c := (&ChatRequest{Model: "m"}).Clone()
	assert.Nil(t, c.Tools)
	assert.Nil(t, c.ResponseFormat)
	assert.Empty(t, c.Messages)
}

func TestChatResponse_FirstMessage(t *testing.T) {
	var nilResp *ChatResponse
	_, ok := nilResp.FirstMessage()
	assert.False(t, ok)

	_, ok = (&ChatResponse{}).FirstMessage()
	assert.False(t, ok)

	resp := &ChatResponse{Choices: []ChatChoice{
		{Message: Message{Role: RoleAssistant, Content: "first"}},
		{Message: Message{Role: RoleAssistant, Content: "second"}},
	}}
	msg, ok := resp.FirstMessage()
	require.True(t, ok)
	assert.Equal(t, "first", msg.Content)
}

func TestError_Message(t *testing.T) {
	var err error = &Error{Code: ErrRateLimited, Message: "slow down", Retryable: true}
	assert.EqualError(t, err, "slow down")
}
