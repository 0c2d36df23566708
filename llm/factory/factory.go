// Package factory builds llm.Provider instances from configuration. Every
// known upstream is a preset over the shared OpenAI-compatible transport;
// any other name needs an explicit base_url.
package factory

import (
	"fmt"
	"net/http"
	"slices"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/instructflow/llm"
	"github.com/BaSui01/instructflow/llm/providers"
	"github.com/BaSui01/instructflow/llm/providers/openaicompat"
	"github.com/BaSui01/instructflow/llm/retry"
)

// ProviderConfig is the generic configuration accepted by the factory function.
type ProviderConfig struct {
	providers.BaseProviderConfig `yaml:",inline"`

	// EndpointPath overrides the preset chat completions path.
	EndpointPath string `json:"endpoint_path,omitempty" yaml:"endpoint_path,omitempty"`

	// MaxRetries enables transport retries below the engine. 0 disables them.
	MaxRetries int           `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	RetryDelay time.Duration `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"`

	// Headers are added to every request.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// preset describes a built-in upstream.
type preset struct {
	baseURL      string
	endpointPath string
	defaultModel string
}

var presets = map[string]preset{
	"openai":    {baseURL: "https://api.openai.com", defaultModel: "gpt-4o-mini"},
	"anthropic": {baseURL: "https://api.anthropic.com/v1", endpointPath: "/chat/completions", defaultModel: "claude-3-5-sonnet-latest"},
	"groq":      {baseURL: "https://api.groq.com/openai", defaultModel: "llama-3.1-8b-instant"},
	"together":  {baseURL: "https://api.together.xyz", defaultModel: "mistralai/Mixtral-8x7B-Instruct-v0.1"},
	"anyscale":  {baseURL: "https://api.endpoints.anyscale.com", defaultModel: "mistralai/Mixtral-8x7B-Instruct-v0.1"},
	"gemini":    {baseURL: "https://generativelanguage.googleapis.com/v1beta/openai", endpointPath: "/chat/completions", defaultModel: "gemini-2.0-flash"},
	"deepseek":  {baseURL: "https://api.deepseek.com", endpointPath: "/chat/completions", defaultModel: "deepseek-chat"},
}

var aliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
}

// NewProviderFromConfig creates a Provider for name. Known names fill in
// base URL, endpoint path and default model; explicit config values win.
// Unknown names are treated as generic OpenAI-compatible upstreams and
// require cfg.BaseURL.
func NewProviderFromConfig(name string, cfg ProviderConfig, logger *zap.Logger) (llm.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if name == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("provider %q: %w", name, err)
	}

	oc := openaicompat.Config{
		ProviderName:      name,
		APIKey:            cfg.APIKey,
		BaseURL:           cfg.BaseURL,
		DefaultModel:      cfg.Model,
		Timeout:           cfg.Timeout,
		EndpointPath:      cfg.EndpointPath,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}

	key := name
	if a, ok := aliases[name]; ok {
		key = a
	}
	if p, ok := presets[key]; ok {
		if oc.BaseURL == "" {
			oc.BaseURL = p.baseURL
		}
		if oc.EndpointPath == "" {
			oc.EndpointPath = p.endpointPath
		}
		oc.FallbackModel = p.defaultModel
	} else {
		// 通用 OpenAI 兼容提供商：任意名称 + base_url 即可接入
		// 支持 Fireworks、OpenRouter、Ollama、vLLM 等
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("unknown provider %q: built-in provider not found, and base_url is required for generic OpenAI-compatible provider", name)
		}
		logger.Info("creating generic OpenAI-compatible provider",
			zap.String("provider", name),
			zap.String("base_url", cfg.BaseURL))
	}

	if len(cfg.Headers) > 0 {
		headers := cfg.Headers
		oc.BuildHeaders = func(r *http.Request, apiKey string) {
			providers.BearerTokenHeaders(r, apiKey)
			for k, v := range headers {
				r.Header.Set(k, v)
			}
		}
	}

	var p llm.Provider = openaicompat.New(oc, logger)
	if cfg.MaxRetries > 0 {
		policy := retry.DefaultRetryPolicy()
		policy.MaxRetries = cfg.MaxRetries
		if cfg.RetryDelay > 0 {
			policy.InitialDelay = cfg.RetryDelay
		}
		p = providers.NewRetryableProvider(p, policy, logger)
	}
	return p, nil
}

// SupportedProviders returns the built-in provider names, aliases included.
// Any other name is treated as a generic OpenAI-compatible provider and
// requires base_url.
func SupportedProviders() []string {
	names := make([]string, 0, len(presets)+len(aliases))
	for name := range presets {
		names = append(names, name)
	}
	for alias := range aliases {
		names = append(names, alias)
	}
	sort.Strings(names)
	return names
}

// IsBuiltin reports whether name has a preset.
func IsBuiltin(name string) bool {
	if _, ok := aliases[name]; ok {
		return true
	}
	_, ok := presets[name]
	return ok
}

// RegistryConfig describes multiple providers and which one is the default.
type RegistryConfig struct {
	// Default is the name of the default provider (must match a key in Providers).
	Default string `json:"default" yaml:"default"`
	// Providers maps provider names to their configurations.
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers"`
}

// NewRegistryFromConfig creates a Registry populated with all providers
// defined in cfg. Any provider that fails to initialize is logged as a
// warning and skipped.
func NewRegistryFromConfig(cfg RegistryConfig, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := NewRegistry()
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		p, err := NewProviderFromConfig(name, cfg.Providers[name], logger)
		if err != nil {
			logger.Warn("skipping provider: initialization failed",
				zap.String("provider", name),
				zap.Error(err))
			continue
		}
		reg.Register(name, p)
		logger.Info("provider registered", zap.String("provider", name), zap.String("base_url", p.BaseURL()))
	}

	if cfg.Default != "" {
		if err := reg.SetDefault(cfg.Default); err != nil {
			return reg, fmt.Errorf("failed to set default provider %q: %w", cfg.Default, err)
		}
	}

	return reg, nil
}
