// Package instructflow provides a top-level convenience entry point for
// structured completions.
//
// Usage:
//
//	import "github.com/BaSui01/instructflow"
//
//	client, err := instructflow.New(myProvider, instructflow.WithMode(instructflow.ModeJSON))
//	client, err := instructflow.FromEnv("openai", "gpt-4o-mini")
//
//	type Person struct {
//		Name string `json:"name"`
//		Age  int    `json:"age"`
//	}
//	person, err := instructflow.Extract[Person](ctx, client, "Jason is 25 years old")
//
// This is a thin wrapper around [instructor.New] and [factory.NewProviderFromConfig].
// Use the instructor package directly for streaming and custom descriptors.
package instructflow

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/instructflow/instructor"
	"github.com/BaSui01/instructflow/llm"
	"github.com/BaSui01/instructflow/llm/factory"
	"github.com/BaSui01/instructflow/llm/providers"
)

// Client runs structured completions against one provider.
type Client = instructor.Client

// Option configures the client created by [New] or [FromEnv].
type Option = instructor.Option

// Request is one structured completion call.
type Request = instructor.Request

// Mode selects how the response model is injected and extracted.
type Mode = instructor.Mode

const (
	ModeFunctions      = instructor.ModeFunctions
	ModeTools          = instructor.ModeTools
	ModeJSON           = instructor.ModeJSON
	ModeMDJSON         = instructor.ModeMDJSON
	ModeJSONSchema     = instructor.ModeJSONSchema
	ModeThinkingMDJSON = instructor.ModeThinkingMDJSON
)

// New creates a client for an already constructed provider.
func New(provider llm.Provider, opts ...Option) (*Client, error) {
	return instructor.New(provider, opts...)
}

// FromEnv creates a client for a built-in provider preset ("openai",
// "anthropic", "groq", ...). The API key is read from <NAME>_API_KEY.
func FromEnv(providerName, model string, opts ...Option) (*Client, error) {
	envKey := strings.ToUpper(providerName) + "_API_KEY"
	apiKey := os.Getenv(envKey)
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required for %s: set %s", providerName, envKey)
	}
	p, err := factory.NewProviderFromConfig(providerName, factory.ProviderConfig{
		BaseProviderConfig: providers.BaseProviderConfig{APIKey: apiKey, Model: model},
	}, zap.NewNop())
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", providerName, err)
	}
	return instructor.New(p, opts...)
}

// Extract asks for a T described by reflection and returns the decoded value.
// maxRetries bounds corrective round trips.
func Extract[T any](ctx context.Context, c *Client, prompt string, maxRetries ...int) (T, error) {
	req := Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	}
	if len(maxRetries) > 0 {
		req.MaxRetries = maxRetries[0]
	}
	v, _, err := instructor.CreateAs[T](ctx, c, req)
	return v, err
}

// Re-export client options so callers rarely need to import instructor/.

// WithMode sets the default mode.
var WithMode = instructor.WithMode

// WithLogger sets a custom zap logger.
var WithLogger = instructor.WithLogger

// WithDebug logs raw completions at debug level.
var WithDebug = instructor.WithDebug

// WithRetryAllErrors lets transport errors consume the correction budget.
var WithRetryAllErrors = instructor.WithRetryAllErrors

// WithTimeout bounds every round trip.
var WithTimeout = instructor.WithTimeout
