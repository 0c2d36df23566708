package factory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/instructflow/llm"
	"github.com/BaSui01/instructflow/llm/providers"
	"github.com/BaSui01/instructflow/llm/providers/openaicompat"
	"github.com/BaSui01/instructflow/testutil/mocks"
)

// =============================================================================
// Factory Tests
// =============================================================================

func base(apiKey string) ProviderConfig {
	return ProviderConfig{BaseProviderConfig: providers.BaseProviderConfig{APIKey: apiKey}}
}

func TestNewProviderFromConfig_Presets(t *testing.T) {
	tests := []struct {
		providerName string
		wantBaseURL  string
		wantEndpoint string
	}{
		{"openai", "https://api.openai.com", "/v1/chat/completions"},
		{"anthropic", "https://api.anthropic.com/v1", "/chat/completions"},
		{"claude", "https://api.anthropic.com/v1", "/chat/completions"},
		{"groq", "https://api.groq.com/openai", "/v1/chat/completions"},
		{"together", "https://api.together.xyz", "/v1/chat/completions"},
		{"anyscale", "https://api.endpoints.anyscale.com", "/v1/chat/completions"},
		{"gemini", "https://generativelanguage.googleapis.com/v1beta/openai", "/chat/completions"},
		{"google", "https://generativelanguage.googleapis.com/v1beta/openai", "/chat/completions"},
		{"deepseek", "https://api.deepseek.com", "/chat/completions"},
	}

	for _, tt := range tests {
		t.Run(tt.providerName, func(t *testing.T) {
			p, err := NewProviderFromConfig(tt.providerName, base("sk-test"), zap.NewNop())
			require.NoError(t, err)
			assert.Equal(t, tt.providerName, p.Name())
			assert.Equal(t, tt.wantBaseURL, p.BaseURL())

			oc, ok := p.(*openaicompat.Provider)
			require.True(t, ok)
			assert.Equal(t, tt.wantEndpoint, oc.Cfg.EndpointPath)
			assert.NotEmpty(t, oc.Cfg.FallbackModel)
		})
	}
}

func TestNewProviderFromConfig_ExplicitValuesWin(t *testing.T) {
	cfg := base("sk-test")
	cfg.BaseURL = "https://proxy.internal/openai"
	cfg.Model = "gpt-4o"
	cfg.EndpointPath = "/chat"

	p, err := NewProviderFromConfig("openai", cfg, nil)
	require.NoError(t, err)
	oc := p.(*openaicompat.Provider)
	assert.Equal(t, "https://proxy.internal/openai", oc.BaseURL())
	assert.Equal(t, "/chat", oc.Cfg.EndpointPath)
	assert.Equal(t, "gpt-4o", oc.Cfg.DefaultModel)
}

func TestNewProviderFromConfig_Generic(t *testing.T) {
	cfg := base("")
	cfg.BaseURL = "http://localhost:11434"

	p, err := NewProviderFromConfig("ollama", cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())
	assert.Equal(t, "http://localhost:11434", p.BaseURL())
}

func TestNewProviderFromConfig_Errors(t *testing.T) {
	_, err := NewProviderFromConfig("unknown-provider", base("sk-test"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url is required")

	_, err = NewProviderFromConfig("", base("sk-test"), nil)
	require.Error(t, err)

	cfg := base("sk-test")
	cfg.RequestsPerSecond = -1
	_, err = NewProviderFromConfig("openai", cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requests_per_second must not be negative")

	cfg = base("sk-test")
	cfg.Timeout = -time.Second
	_, err = NewProviderFromConfig("openai", cfg, nil)
	assert.ErrorContains(t, err, "timeout must not be negative")
}

func TestNewProviderFromConfig_RetryWrapping(t *testing.T) {
	cfg := base("sk-test")
	cfg.MaxRetries = 2

	p, err := NewProviderFromConfig("groq", cfg, nil)
	require.NoError(t, err)
	_, ok := p.(*providers.RetryableProvider)
	assert.True(t, ok)
	assert.Equal(t, "https://api.groq.com/openai", p.BaseURL())
}

func TestNewProviderFromConfig_RetriesAndHeaders(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tenant-a", r.Header.Get("X-Tenant"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(providers.OpenAICompatResponse{
			ID: "ok",
			Choices: []providers.OpenAICompatChoice{{
				Message: providers.OpenAICompatMessage{Role: "assistant", Content: "{}"},
			}},
		})
	}))
	t.Cleanup(server.Close)

	cfg := base("sk-test")
	cfg.BaseURL = server.URL
	cfg.MaxRetries = 2
	cfg.RetryDelay = time.Millisecond
	cfg.Headers = map[string]string{"X-Tenant": "tenant-a"}

	p, err := NewProviderFromConfig("local", cfg, nil)
	require.NoError(t, err)

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSupportedProviders(t *testing.T) {
	names := SupportedProviders()
	for _, want := range []string{"openai", "anthropic", "claude", "groq", "together", "anyscale", "gemini", "google", "deepseek"} {
		assert.Contains(t, names, want)
		assert.True(t, IsBuiltin(want))
	}
	assert.IsNonDecreasing(t, names)
	assert.False(t, IsBuiltin("ollama"))
}

// =============================================================================
// Registry Tests
// =============================================================================

func TestNewRegistryFromConfig(t *testing.T) {
	cfg := RegistryConfig{
		Default: "openai",
		Providers: map[string]ProviderConfig{
			"openai": base("sk-a"),
			"groq":   base("sk-b"),
			"broken": base("sk-c"), // unknown name without base_url is skipped
		},
	}

	reg, err := NewRegistryFromConfig(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"groq", "openai"}, reg.List())

	p, err := reg.Default()
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	p, err = reg.Resolve("groq")
	require.NoError(t, err)
	assert.Equal(t, "groq", p.Name())

	_, err = reg.Resolve("broken")
	assert.Error(t, err)
}

func TestNewRegistryFromConfig_UnknownDefault(t *testing.T) {
	reg, err := NewRegistryFromConfig(RegistryConfig{
		Default:   "missing",
		Providers: map[string]ProviderConfig{"openai": base("sk")},
	}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_Default(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Default()
	assert.Error(t, err)

	reg.Register("only", mocks.NewMockProvider())
	p, err := reg.Default()
	require.NoError(t, err, "a single provider is the implicit default")
	assert.Equal(t, "mock", p.Name())

	reg.Register("other", mocks.NewMockProvider())
	_, err = reg.Resolve("")
	assert.Error(t, err)

	require.NoError(t, reg.SetDefault("other"))
	_, err = reg.Resolve("")
	assert.NoError(t, err)
	assert.Error(t, reg.SetDefault("nope"))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			reg.Register("p", mocks.NewMockProvider())
		}()
		go func() {
			defer wg.Done()
			_, _ = reg.Get("p")
			_ = reg.List()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, reg.Len())
}
