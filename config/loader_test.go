// 配置加载器测试。
package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "instructflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
instructor:
  mode: JSON_SCHEMA
  max_retries: 3
  retry_all_errors: true
  timeout: 45s
  correction_delay: 200ms
llm:
  default_provider: groq
  api_key: gsk-test
  model: llama-3.1-70b-versatile
  providers:
    local:
      base_url: http://localhost:11434
      model: llama3
      max_retries: 1
      headers:
        X-Tenant: demo
log:
  level: debug
  format: console
metrics:
  enabled: true
  addr: ":9200"
telemetry:
  enabled: true
  sample_rate: 0.5
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "JSON_SCHEMA", cfg.Instructor.Mode)
	assert.Equal(t, 3, cfg.Instructor.MaxRetries)
	assert.True(t, cfg.Instructor.RetryAllErrors)
	assert.Equal(t, 45*time.Second, cfg.Instructor.Timeout)
	assert.Equal(t, 200*time.Millisecond, cfg.Instructor.CorrectionDelay)
	assert.Equal(t, 10*time.Second, cfg.Instructor.CorrectionMaxDelay, "unset fields keep defaults")

	assert.Equal(t, "groq", cfg.LLM.DefaultProvider)
	assert.Equal(t, "gsk-test", cfg.LLM.APIKey)
	require.Contains(t, cfg.LLM.Providers, "local")
	local := cfg.LLM.Providers["local"]
	assert.Equal(t, "http://localhost:11434", local.BaseURL)
	assert.Equal(t, "llama3", local.Model)
	assert.Equal(t, 1, local.MaxRetries)
	assert.Equal(t, "demo", local.Headers["X-Tenant"])

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9200", cfg.Metrics.Addr)
	assert.Equal(t, "instructflow", cfg.Metrics.Namespace)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.InDelta(t, 0.5, cfg.Telemetry.SampleRate, 1e-9)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("INSTRUCTFLOW_INSTRUCTOR_MODE", "MD_JSON")
	t.Setenv("INSTRUCTFLOW_INSTRUCTOR_MAX_RETRIES", "4")
	t.Setenv("INSTRUCTFLOW_INSTRUCTOR_DEBUG", "true")
	t.Setenv("INSTRUCTFLOW_LLM_API_KEY", "sk-env")
	t.Setenv("INSTRUCTFLOW_LLM_TIMEOUT", "10s")
	t.Setenv("INSTRUCTFLOW_LLM_REQUESTS_PER_SECOND", "2.5")
	t.Setenv("INSTRUCTFLOW_LOG_OUTPUT_PATHS", "stdout, /tmp/instructflow.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "MD_JSON", cfg.Instructor.Mode)
	assert.Equal(t, 4, cfg.Instructor.MaxRetries)
	assert.True(t, cfg.Instructor.Debug)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Equal(t, 10*time.Second, cfg.LLM.Timeout)
	assert.InDelta(t, 2.5, cfg.LLM.RequestsPerSecond, 1e-9)
	assert.Equal(t, []string{"stdout", "/tmp/instructflow.log"}, cfg.Log.OutputPaths)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "instructor:\n  mode: JSON\n  max_retries: 1\n")
	t.Setenv("INSTRUCTFLOW_INSTRUCTOR_MAX_RETRIES", "5")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "JSON", cfg.Instructor.Mode)
	assert.Equal(t, 5, cfg.Instructor.MaxRetries)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_LLM_MODEL", "gpt-4o")
	t.Setenv("INSTRUCTFLOW_LLM_MODEL", "ignored")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("INSTRUCTFLOW_INSTRUCTOR_TIMEOUT", "soon")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INSTRUCTFLOW_INSTRUCTOR_TIMEOUT")
}

func TestLoader_WithValidator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error { return c.Validate() }).
		WithValidator(func(*Config) error { return errors.New("custom rejection") }).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custom rejection")
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "instructor: [unclosed")
	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"mode is normalised", func(c *Config) { c.Instructor.Mode = "md-json" }, ""},
		{"unknown mode", func(c *Config) { c.Instructor.Mode = "XML" }, `unsupported mode "XML"`},
		{"negative retries", func(c *Config) { c.Instructor.MaxRetries = -1 }, "instructor.max_retries"},
		{"negative timeout", func(c *Config) { c.Instructor.Timeout = -time.Second }, "instructor.timeout"},
		{"negative transport retries", func(c *Config) { c.LLM.MaxRetries = -2 }, "llm.max_retries"},
		{"no provider", func(c *Config) { c.LLM.DefaultProvider = "" }, "llm.default_provider"},
		{"generic provider needs base url", func(c *Config) { c.LLM.DefaultProvider = "ollama" }, "llm.base_url"},
		{"generic provider with base url", func(c *Config) {
			c.LLM.DefaultProvider = "ollama"
			c.LLM.BaseURL = "http://localhost:11434"
		}, ""},
		{"negative rate limit", func(c *Config) { c.LLM.RequestsPerSecond = -1 }, "requests_per_second must not be negative"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "invalid log level"},
		{"bad sample rate", func(c *Config) { c.Telemetry.SampleRate = 1.5 }, "sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLLMConfig_RegistryConfig(t *testing.T) {
	cfg := DefaultLLMConfig()
	cfg.APIKey = "sk-top"
	cfg.Model = "gpt-4o"

	reg := cfg.RegistryConfig()
	assert.Equal(t, "openai", reg.Default)
	require.Contains(t, reg.Providers, "openai")
	assert.Equal(t, "sk-top", reg.Providers["openai"].APIKey)
	assert.Equal(t, "gpt-4o", reg.Providers["openai"].Model)
	assert.Equal(t, 2, reg.Providers["openai"].MaxRetries)
	assert.Equal(t, 2*time.Minute, reg.Providers["openai"].Timeout)
}

func TestLLMConfig_RegistryConfig_NamedProviderWins(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: openai
  api_key: sk-top
  providers:
    openai:
      api_key: sk-named
    groq:
      api_key: gsk
`)
	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	reg := cfg.LLM.RegistryConfig()
	assert.Len(t, reg.Providers, 2)
	assert.Equal(t, "sk-named", reg.Providers["openai"].APIKey)
	assert.Equal(t, "gsk", reg.Providers["groq"].APIKey)
}

func TestMustLoad(t *testing.T) {
	path := writeConfig(t, "log:\n  level: warn\n")
	assert.Equal(t, "warn", MustLoad(path).Log.Level)

	bad := writeConfig(t, "log: [")
	assert.Panics(t, func() { MustLoad(bad) })
}
