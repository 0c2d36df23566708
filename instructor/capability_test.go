package instructor

import (
	"context"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BaSui01/instructflow/llm"
	"github.com/BaSui01/instructflow/types"
)

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		baseURL string
		want    ProviderIdentity
	}{
		{"https://api.openai.com/v1", ProviderOpenAI},
		{"https://API.OPENAI.COM/v1", ProviderOpenAI},
		{"https://api.endpoints.anyscale.com/v1", ProviderAnyscale},
		{"https://api.together.xyz/v1", ProviderTogether},
		{"https://api.anthropic.com/v1/", ProviderAnthropic},
		{"https://api.groq.com/openai/v1", ProviderGroq},
		{"https://generativelanguage.googleapis.com/v1beta/openai", ProviderGoogle},
		{"https://api.deepseek.com", ProviderDeepSeek},
		{"http://localhost:11434/v1", ProviderOther},
		{"", ProviderOther},
	}
	for _, tt := range tests {
		t.Run(tt.baseURL, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectProvider(tt.baseURL))
		})
	}
}

func TestProperty_DetectProviderByHost(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("a known host anywhere in the URL selects its provider", prop.ForAll(
		func(idx int, path string, upper bool) bool {
			h := providerHosts[idx]
			url := "https://" + h.host + "/" + path
			if upper {
				url = strings.ToUpper(url)
			}
			return DetectProvider(url) == h.provider
		},
		gen.IntRange(0, len(providerHosts)-1),
		gen.Identifier().SuchThat(func(s string) bool { return !strings.Contains(strings.ToLower(s), "anthropic") }),
		gen.Bool(),
	))

	properties.Property("unknown hosts fall back to OTHER", prop.ForAll(
		func(name string) bool {
			return DetectProvider("http://"+name+".internal:8080") == ProviderOther
		},
		gen.Identifier().SuchThat(func(s string) bool { return !strings.Contains(strings.ToLower(s), "anthropic") }),
	))

	properties.TestingRun(t)
}

func TestProperty_ModelPatterns(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("wildcard and prefix patterns", prop.ForAll(
		func(prefix, rest string) bool {
			model := prefix + rest
			return matchModel("*", model) &&
				matchModel(prefix+"*", model) &&
				matchModel(model, model) &&
				!matchModel(model+"x", model)
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestCapabilityTable_Supports(t *testing.T) {
	caps := DefaultCapabilities(nil)

	assert.True(t, caps.Supports(ProviderOpenAI, ModeTools, "gpt-4o"))
	assert.True(t, caps.Supports(ProviderOpenAI, ModeJSON, "gpt-4o-mini"))
	assert.True(t, caps.Supports(ProviderOpenAI, ModeJSON, "gpt-3.5-turbo-1106"))
	assert.False(t, caps.Supports(ProviderOpenAI, ModeJSON, "gpt-3.5-turbo"))
	assert.False(t, caps.Supports(ProviderAnyscale, ModeFunctions, ""))
	assert.True(t, caps.Supports(ProviderTogether, ModeTools, "mistralai/Mixtral-8x7B-Instruct-v0.1"))
	assert.False(t, caps.Supports(ProviderTogether, ModeTools, "meta-llama/Llama-3-8b"))
	assert.True(t, caps.Supports(ProviderOther, ModeThinkingMDJSON, "anything"))
	assert.True(t, caps.SupportsMode(ProviderAnthropic, ModeTools))
	assert.False(t, caps.SupportsMode(ProviderAnthropic, ModeFunctions))

	err := caps.Check(ProviderAnyscale, ModeFunctions, "m")
	require.Error(t, err)
	assert.Equal(t, types.ErrCapabilityMismatch, types.GetErrorCode(err))
	assert.NoError(t, caps.Check(ProviderOpenAI, ModeTools, ""))
}

func TestKnownProviders(t *testing.T) {
	known := KnownProviders()
	require.Len(t, known, 8)
	assert.Equal(t, ProviderOther, known[len(known)-1])
	assert.Contains(t, known, ProviderDeepSeek)
	assert.Contains(t, known, ProviderGoogle)
}

func TestCapabilityTable_With(t *testing.T) {
	caps := DefaultCapabilities(nil)
	extended := caps.With(ProviderAnyscale, ModeFunctions, "my-model*")

	assert.True(t, extended.Supports(ProviderAnyscale, ModeFunctions, "my-model-7b"))
	assert.False(t, caps.Supports(ProviderAnyscale, ModeFunctions, "my-model-7b"))
}

func TestCapabilityTable_PostProcessors(t *testing.T) {
	caps := DefaultCapabilities(nil)
	names := func(p ProviderIdentity, m Mode) []string {
		var out []string
		for _, r := range caps.PostProcessors(p, m) {
			out = append(out, r.Name())
		}
		return out
	}

	assert.Equal(t, []string{"include_usage", "tool_choice_guard"}, names(ProviderOpenAI, ModeTools))
	assert.Equal(t, []string{"inline_schema", "tool_choice_guard"}, names(ProviderTogether, ModeJSONSchema))
	assert.Equal(t, []string{"tool_choice_guard"}, names(ProviderTogether, ModeJSON))
	assert.Equal(t, []string{"downgrade_schema", "tool_choice_guard"}, names(ProviderDeepSeek, ModeJSONSchema))
	assert.Equal(t, []string{"drop_streaming_format", "tool_choice_guard"}, names(ProviderGroq, ModeJSON))
	assert.Equal(t, []string{"strip_stream_options", "tool_choice_guard"}, names(ProviderAnthropic, ModeMDJSON))
	assert.Equal(t, []string{"tool_choice_guard"}, names(ProviderOther, ModeTools))
}

func runRewriters(t *testing.T, caps *CapabilityTable, p ProviderIdentity, m Mode, req *llm.ChatRequest) *llm.ChatRequest {
	t.Helper()
	var err error
	for _, r := range caps.PostProcessors(p, m) {
		req, err = r.Rewrite(context.Background(), req)
		require.NoError(t, err)
	}
	return req
}

func TestPostProcessors_Rewrite(t *testing.T) {
	caps := DefaultCapabilities(nil)
	schema := []byte(`{"type":"object"}`)

	req := runRewriters(t, caps, ProviderOpenAI, ModeTools, &llm.ChatRequest{Stream: true})
	require.NotNil(t, req.StreamOptions)
	assert.True(t, req.StreamOptions.IncludeUsage)

	req = runRewriters(t, caps, ProviderOpenAI, ModeTools, &llm.ChatRequest{})
	assert.Nil(t, req.StreamOptions)

	req = runRewriters(t, caps, ProviderTogether, ModeJSONSchema, &llm.ChatRequest{
		ResponseFormat: &llm.ResponseFormat{Type: llm.ResponseFormatJSONSchema, Name: "x", Schema: schema},
	})
	assert.Equal(t, llm.ResponseFormatJSONObject, req.ResponseFormat.Type)
	assert.JSONEq(t, string(schema), string(req.ResponseFormat.Schema))
	assert.Empty(t, req.ResponseFormat.Name)

	req = runRewriters(t, caps, ProviderDeepSeek, ModeJSONSchema, &llm.ChatRequest{
		ResponseFormat: &llm.ResponseFormat{Type: llm.ResponseFormatJSONSchema, Schema: schema},
	})
	assert.Equal(t, llm.ResponseFormatJSONObject, req.ResponseFormat.Type)
	assert.Nil(t, req.ResponseFormat.Schema)

	req = runRewriters(t, caps, ProviderAnthropic, ModeTools, &llm.ChatRequest{StreamOptions: &llm.StreamOptions{IncludeUsage: true}})
	assert.Nil(t, req.StreamOptions)
}

func TestPostProcessors_GroqStreamingWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	caps := DefaultCapabilities(zap.New(core))

	req := runRewriters(t, caps, ProviderGroq, ModeJSON, &llm.ChatRequest{
		Stream:         true,
		ResponseFormat: &llm.ResponseFormat{Type: llm.ResponseFormatJSONObject},
	})
	assert.Nil(t, req.ResponseFormat)
	assert.Equal(t, 1, logs.Len())

	req = runRewriters(t, caps, ProviderGroq, ModeJSON, &llm.ChatRequest{
		ResponseFormat: &llm.ResponseFormat{Type: llm.ResponseFormatJSONObject},
	})
	assert.NotNil(t, req.ResponseFormat)
	assert.Equal(t, 1, logs.Len())
}
