package providers

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/BaSui01/instructflow/llm"
	"github.com/BaSui01/instructflow/llm/retry"
)

// RetryableProvider wraps an llm.Provider with exponential-backoff retry on
// transient transport errors. It sits below the structured engine, so its
// retries never consume the corrective retry budget.
type RetryableProvider struct {
	inner  llm.Provider
	policy *retry.RetryPolicy
	logger *zap.Logger
}

// NewRetryableProvider creates a retrying wrapper around the given provider.
// A nil policy uses retry.DefaultRetryPolicy restricted to retryable errors.
func NewRetryableProvider(inner llm.Provider, policy *retry.RetryPolicy, logger *zap.Logger) *RetryableProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = retry.DefaultRetryPolicy()
	}
	if policy.ShouldRetry == nil {
		p := *policy
		p.ShouldRetry = IsRetryableError
		policy = &p
	}
	return &RetryableProvider{
		inner:  inner,
		policy: policy,
		logger: logger.With(zap.String("component", "retry_provider"), zap.String("provider", inner.Name())),
	}
}

// Compile-time interface check.
var _ llm.Provider = (*RetryableProvider)(nil)

func (p *RetryableProvider) Name() string    { return p.inner.Name() }
func (p *RetryableProvider) BaseURL() string { return p.inner.BaseURL() }

// Completion performs a chat completion with retry on transient errors.
func (p *RetryableProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return retry.DoWithResult(ctx, retry.NewBackoffRetryer(p.policy, p.logger), func() (*llm.ChatResponse, error) {
		return p.inner.Completion(ctx, req)
	})
}

// Stream performs a streaming chat request with retry on connection errors.
// Only the connection-establishment phase is retried; mid-stream errors are not.
func (p *RetryableProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	return retry.DoWithResult(ctx, retry.NewBackoffRetryer(p.policy, p.logger), func() (<-chan llm.StreamChunk, error) {
		return p.inner.Stream(ctx, req)
	})
}

// IsRetryableError reports whether err is an *llm.Error marked retryable.
// Errors of any other type are not retried.
func IsRetryableError(err error) bool {
	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}
