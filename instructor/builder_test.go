package instructor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/instructflow/llm"
	"github.com/BaSui01/instructflow/types"
)

func TestBuildRequest(t *testing.T) {
	d := personDescriptor(t)
	base := func() *llm.ChatRequest {
		return &llm.ChatRequest{
			Model:    "gpt-4o",
			Stream:   true,
			Messages: []llm.Message{{Role: llm.RoleUser, Content: "Jason is 30"}},
		}
	}

	tests := []struct {
		name     string
		mode     Mode
		provider ProviderIdentity
		check    func(t *testing.T, req *llm.ChatRequest)
	}{
		{
			name:     "openai tools streaming asks for usage",
			mode:     ModeTools,
			provider: ProviderOpenAI,
			check: func(t *testing.T, req *llm.ChatRequest) {
				require.Len(t, req.Tools, 1)
				assert.Equal(t, "Person", req.ToolChoice)
				require.NotNil(t, req.StreamOptions)
				assert.True(t, req.StreamOptions.IncludeUsage)
			},
		},
		{
			name:     "together json_schema is inlined",
			mode:     ModeJSONSchema,
			provider: ProviderTogether,
			check: func(t *testing.T, req *llm.ChatRequest) {
				require.NotNil(t, req.ResponseFormat)
				assert.Equal(t, llm.ResponseFormatJSONObject, req.ResponseFormat.Type)
				assert.NotEmpty(t, req.ResponseFormat.Schema)
			},
		},
		{
			name:     "groq json streaming drops response_format",
			mode:     ModeJSON,
			provider: ProviderGroq,
			check: func(t *testing.T, req *llm.ChatRequest) {
				assert.Nil(t, req.ResponseFormat)
				assert.Len(t, req.Messages, 2)
			},
		},
		{
			name:     "unknown provider leaves request as injected",
			mode:     ModeMDJSON,
			provider: "",
			check: func(t *testing.T, req *llm.ChatRequest) {
				assert.Nil(t, req.StreamOptions)
				assert.Nil(t, req.Tools)
				assert.Nil(t, req.ResponseFormat)
				assert.Equal(t, llm.RoleSystem, req.Messages[len(req.Messages)-1].Role)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base()
			req, err := BuildRequest(context.Background(), BuildInput{
				Base:       in,
				Descriptor: d,
				Mode:       tt.mode,
				Provider:   tt.provider,
			})
			require.NoError(t, err)
			tt.check(t, req)
			assert.Len(t, in.Messages, 1)
			assert.Nil(t, in.StreamOptions)
		})
	}
}

func TestBuildRequest_Errors(t *testing.T) {
	base := &llm.ChatRequest{Model: "m"}

	_, err := BuildRequest(context.Background(), BuildInput{Base: base, Mode: ModeTools})
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	_, err = BuildRequest(context.Background(), BuildInput{Base: base, Descriptor: personDescriptor(t), Mode: "XML"})
	assert.Equal(t, types.ErrUnsupportedMode, types.GetErrorCode(err))
}
