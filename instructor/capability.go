package instructor

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/instructflow/llm"
	"github.com/BaSui01/instructflow/llm/middleware"
	"github.com/BaSui01/instructflow/types"
)

// ProviderIdentity names a known upstream, derived from its base URL.
type ProviderIdentity string

const (
	ProviderOpenAI    ProviderIdentity = "OPENAI"
	ProviderAnyscale  ProviderIdentity = "ANYSCALE"
	ProviderTogether  ProviderIdentity = "TOGETHER"
	ProviderAnthropic ProviderIdentity = "ANTHROPIC"
	ProviderGroq      ProviderIdentity = "GROQ"
	ProviderGoogle    ProviderIdentity = "GOOGLE"
	ProviderDeepSeek  ProviderIdentity = "DEEPSEEK"
	ProviderOther     ProviderIdentity = "OTHER"
)

// Checked in order; the first substring found in the base URL wins.
var providerHosts = []struct {
	host     string
	provider ProviderIdentity
}{
	{"api.endpoints.anyscale", ProviderAnyscale},
	{"api.together.xyz", ProviderTogether},
	{"api.openai.com", ProviderOpenAI},
	{"anthropic", ProviderAnthropic},
	{"api.groq.com", ProviderGroq},
	{"generativelanguage.googleapis.com", ProviderGoogle},
	{"api.deepseek.com", ProviderDeepSeek},
}

// DetectProvider maps a base URL to a provider identity. Unknown or empty
// URLs map to ProviderOther.
func DetectProvider(baseURL string) ProviderIdentity {
	u := strings.ToLower(baseURL)
	if u == "" {
		return ProviderOther
	}
	for _, h := range providerHosts {
		if strings.Contains(u, h.host) {
			return h.provider
		}
	}
	return ProviderOther
}

// KnownProviders lists every identity DetectProvider can return, ending with
// ProviderOther.
func KnownProviders() []ProviderIdentity {
	out := make([]ProviderIdentity, 0, len(providerHosts)+1)
	for _, h := range providerHosts {
		out = append(out, h.provider)
	}
	return append(out, ProviderOther)
}

var (
	togetherModels = []string{
		"mistralai/Mixtral-8x7B-Instruct-v0.1",
		"mistralai/Mistral-7B-Instruct-v0.1",
		"togethercomputer/CodeLlama-34b-Instruct",
	}
	anyscaleModels = []string{
		"mistralai/Mistral-7B-Instruct-v0.1",
		"mistralai/Mixtral-8x7B-Instruct-v0.1",
	}
	anyModel = []string{"*"}
)

// CapabilityTable records which (provider, mode, model) combinations are
// expected to work. Model patterns are exact names, "*" or a "prefix*".
// A table is read-only after construction.
type CapabilityTable struct {
	modes  map[ProviderIdentity]map[Mode][]string
	logger *zap.Logger
}

// DefaultCapabilities returns the built-in table.
func DefaultCapabilities(logger *zap.Logger) *CapabilityTable {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CapabilityTable{
		logger: logger.With(zap.String("component", "capabilities")),
		modes: map[ProviderIdentity]map[Mode][]string{
			ProviderOther: {
				ModeFunctions:      anyModel,
				ModeTools:          anyModel,
				ModeJSON:           anyModel,
				ModeMDJSON:         anyModel,
				ModeJSONSchema:     anyModel,
				ModeThinkingMDJSON: anyModel,
			},
			ProviderOpenAI: {
				ModeFunctions: anyModel,
				ModeTools:     anyModel,
				ModeJSON: {
					"gpt-3.5-turbo-1106",
					"gpt-4-1106-preview",
					"gpt-4-0125-preview",
					"gpt-4-turbo*",
					"gpt-4o*",
					"gpt-4.1*",
					"o1*",
					"o3*",
				},
				ModeMDJSON:         anyModel,
				ModeJSONSchema:     {"gpt-4o*", "gpt-4.1*", "o1*", "o3*"},
				ModeThinkingMDJSON: anyModel,
			},
			ProviderTogether: {
				ModeTools:          togetherModels,
				ModeJSON:           anyModel,
				ModeMDJSON:         anyModel,
				ModeJSONSchema:     togetherModels,
				ModeThinkingMDJSON: anyModel,
			},
			ProviderAnyscale: {
				ModeTools:      anyscaleModels,
				ModeJSON:       anyModel,
				ModeMDJSON:     anyModel,
				ModeJSONSchema: anyscaleModels,
			},
			ProviderAnthropic: {
				ModeTools:          anyModel,
				ModeMDJSON:         anyModel,
				ModeThinkingMDJSON: anyModel,
			},
			ProviderGroq: {
				ModeTools:          anyModel,
				ModeJSON:           anyModel,
				ModeMDJSON:         anyModel,
				ModeThinkingMDJSON: anyModel,
			},
			ProviderGoogle: {
				ModeTools:          anyModel,
				ModeJSON:           anyModel,
				ModeMDJSON:         anyModel,
				ModeJSONSchema:     anyModel,
				ModeThinkingMDJSON: anyModel,
			},
			ProviderDeepSeek: {
				ModeTools:          {"deepseek-chat*"},
				ModeJSON:           anyModel,
				ModeMDJSON:         anyModel,
				ModeJSONSchema:     anyModel,
				ModeThinkingMDJSON: {"deepseek-reasoner*", "deepseek-r1*"},
			},
		},
	}
}

// With returns a copy of the table where provider supports mode for the
// given model patterns in addition to the existing ones.
func (t *CapabilityTable) With(provider ProviderIdentity, mode Mode, patterns ...string) *CapabilityTable {
	out := &CapabilityTable{logger: t.logger, modes: make(map[ProviderIdentity]map[Mode][]string, len(t.modes)+1)}
	for p, modes := range t.modes {
		inner := make(map[Mode][]string, len(modes))
		for m, pats := range modes {
			inner[m] = slices.Clone(pats)
		}
		out.modes[p] = inner
	}
	if out.modes[provider] == nil {
		out.modes[provider] = make(map[Mode][]string)
	}
	out.modes[provider][mode] = append(out.modes[provider][mode], patterns...)
	return out
}

// SupportsMode reports whether provider supports mode for at least one model.
func (t *CapabilityTable) SupportsMode(provider ProviderIdentity, mode Mode) bool {
	return len(t.modes[provider][mode]) > 0
}

// Supports reports whether provider supports mode for model. An empty model
// only checks the mode.
func (t *CapabilityTable) Supports(provider ProviderIdentity, mode Mode, model string) bool {
	patterns := t.modes[provider][mode]
	if model == "" {
		return len(patterns) > 0
	}
	for _, p := range patterns {
		if matchModel(p, model) {
			return true
		}
	}
	return false
}

// Check returns a CAPABILITY_MISMATCH error when the combination is unsupported.
func (t *CapabilityTable) Check(provider ProviderIdentity, mode Mode, model string) error {
	if t.Supports(provider, mode, model) {
		return nil
	}
	if model == "" {
		return types.Errorf(types.ErrCapabilityMismatch, "mode %s may not be supported by provider %s", mode, provider).
			WithProvider(string(provider))
	}
	return types.Errorf(types.ErrCapabilityMismatch, "mode %s may not be supported by provider %s for model %s", mode, provider, model).
		WithProvider(string(provider))
}

func matchModel(pattern, model string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(model, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == model
	}
}

// PostProcessors returns the provider specific request rewriters for mode,
// in execution order. The empty tools cleaner always runs last.
func (t *CapabilityTable) PostProcessors(provider ProviderIdentity, mode Mode) []middleware.RequestRewriter {
	var out []middleware.RequestRewriter
	switch provider {
	case ProviderOpenAI:
		out = append(out, includeUsage())
	case ProviderTogether, ProviderAnyscale:
		if mode == ModeJSONSchema {
			out = append(out, inlineSchema())
		}
	case ProviderDeepSeek:
		if mode == ModeJSONSchema {
			out = append(out, downgradeSchema())
		}
	case ProviderGroq:
		if mode == ModeJSON || mode == ModeJSONSchema {
			out = append(out, dropStreamingFormat(t.logger))
		}
	case ProviderAnthropic:
		out = append(out, stripStreamOptions())
	}
	return append(out, middleware.NewToolChoiceGuard())
}

func includeUsage() middleware.RequestRewriter {
	return middleware.NewRewriterFunc("include_usage", func(_ context.Context, req *llm.ChatRequest) (*llm.ChatRequest, error) {
		if req.Stream {
			req.StreamOptions = &llm.StreamOptions{IncludeUsage: true}
		}
		return req, nil
	})
}

// inlineSchema sends json_schema as json_object with an inline schema.
func inlineSchema() middleware.RequestRewriter {
	return middleware.NewRewriterFunc("inline_schema", func(_ context.Context, req *llm.ChatRequest) (*llm.ChatRequest, error) {
		if rf := req.ResponseFormat; rf != nil && rf.Type == llm.ResponseFormatJSONSchema {
			req.ResponseFormat = &llm.ResponseFormat{Type: llm.ResponseFormatJSONObject, Schema: rf.Schema}
		}
		return req, nil
	})
}

func downgradeSchema() middleware.RequestRewriter {
	return middleware.NewRewriterFunc("downgrade_schema", func(_ context.Context, req *llm.ChatRequest) (*llm.ChatRequest, error) {
		if rf := req.ResponseFormat; rf != nil && rf.Type == llm.ResponseFormatJSONSchema {
			req.ResponseFormat = &llm.ResponseFormat{Type: llm.ResponseFormatJSONObject}
		}
		return req, nil
	})
}

func dropStreamingFormat(logger *zap.Logger) middleware.RequestRewriter {
	return middleware.NewRewriterFunc("drop_streaming_format", func(_ context.Context, req *llm.ChatRequest) (*llm.ChatRequest, error) {
		if req.Stream && req.ResponseFormat != nil {
			logger.Warn("response_format is not supported with streaming, dropping it",
				zap.String("provider", string(ProviderGroq)),
				zap.String("model", req.Model))
			req.ResponseFormat = nil
		}
		return req, nil
	})
}

func stripStreamOptions() middleware.RequestRewriter {
	return middleware.NewRewriterFunc("strip_stream_options", func(_ context.Context, req *llm.ChatRequest) (*llm.ChatRequest, error) {
		req.StreamOptions = nil
		return req, nil
	})
}
