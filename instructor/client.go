package instructor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/instructflow/llm"
	"github.com/BaSui01/instructflow/llm/middleware"
	"github.com/BaSui01/instructflow/llm/retry"
	"github.com/BaSui01/instructflow/llm/tokenizer"
	"github.com/BaSui01/instructflow/structured"
	"github.com/BaSui01/instructflow/types"
)

const instrumentationName = "github.com/BaSui01/instructflow/instructor"

// DefaultMode is used when no mode option is given.
const DefaultMode = ModeTools

// Request is one structured completion call.
type Request struct {
	Model    string
	Messages []llm.Message
	// Response describes the structured value to extract.
	Response *structured.Descriptor
	// Mode overrides the client mode for this call.
	Mode Mode
	// MaxRetries bounds corrective round trips. Must not be negative.
	MaxRetries int

	Temperature float32
	TopP        float32
	MaxTokens   int
	Stop        []string
	Timeout     time.Duration
	Metadata    map[string]string
	// Extra is passed to the provider unchanged.
	Extra map[string]any
}

func (r Request) chatRequest(traceID string, stream bool) *llm.ChatRequest {
	req := &llm.ChatRequest{
		TraceID:     traceID,
		Model:       r.Model,
		Messages:    r.Messages,
		Temperature: r.Temperature,
		TopP:        r.TopP,
		MaxTokens:   r.MaxTokens,
		Stop:        r.Stop,
		Timeout:     r.Timeout,
		Metadata:    r.Metadata,
		Extra:       r.Extra,
		Stream:      stream,
	}
	return req.Clone()
}

// Option configures a Client.
type Option func(*Client)

// WithMode sets the default mode. Invalid modes make New fail.
func WithMode(mode Mode) Option {
	return func(c *Client) { c.mode = mode }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDebug logs raw completions and corrective prompts at debug level.
func WithDebug(debug bool) Option {
	return func(c *Client) { c.debug = debug }
}

// WithRetryAllErrors spends the retry budget on transport errors as well.
func WithRetryAllErrors(enabled bool) Option {
	return func(c *Client) { c.retryAllErrors = enabled }
}

func WithCapabilities(table *CapabilityTable) Option {
	return func(c *Client) { c.caps = table }
}

func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.recorder = r
		}
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithCorrectionBackoff waits between corrective round trips according to policy.
func WithCorrectionBackoff(policy *retry.RetryPolicy) Option {
	return func(c *Client) { c.backoff = policy }
}

// WithTimeout bounds every provider round trip that carries no own timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithTokenizer sets the tokenizer used to estimate streaming usage.
// By default one is chosen per model.
func WithTokenizer(tok tokenizer.Tokenizer) Option {
	return func(c *Client) { c.tokenizer = tok }
}

// Client runs structured completions against one provider.
// A Client is safe for concurrent use; every call owns its own state.
type Client struct {
	provider       llm.Provider
	identity       ProviderIdentity
	mode           Mode
	debug          bool
	retryAllErrors bool
	timeout        time.Duration
	backoff        *retry.RetryPolicy
	caps           *CapabilityTable
	tokenizer      tokenizer.Tokenizer
	recorder       Recorder
	tracer         trace.Tracer
	logger         *zap.Logger

	completion middleware.Handler
}

// New creates a Client. The provider identity is derived once from the
// provider base URL; an unsupported mode only produces a warning.
func New(provider llm.Provider, opts ...Option) (*Client, error) {
	if provider == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "provider is required")
	}
	c := &Client{
		provider: provider,
		mode:     DefaultMode,
		recorder: nopRecorder{},
		tracer:   otel.Tracer(instrumentationName),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if _, err := StrategyFor(c.mode); err != nil {
		return nil, err
	}

	c.identity = DetectProvider(provider.BaseURL())
	c.logger = c.logger.With(
		zap.String("component", "instructor"),
		zap.String("provider", string(c.identity)),
	)
	if c.caps == nil {
		c.caps = DefaultCapabilities(c.logger)
	}

	c.completion = middleware.NewChain(
		middleware.RecoveryMiddleware(c.logger),
		middleware.LoggingMiddleware(c.logger),
		middleware.MetricsMiddleware(provider.Name(), c.recorder),
		middleware.TimeoutMiddleware(c.timeout),
	).Then(provider.Completion)

	if c.identity == ProviderOther {
		c.logger.Debug("unknown provider, cannot validate options", zap.String("base_url", provider.BaseURL()))
	}
	c.checkCapability(c.mode, "")
	return c, nil
}

// Mode returns the client default mode.
func (c *Client) Mode() Mode { return c.mode }

// Provider returns the detected provider identity.
func (c *Client) Provider() ProviderIdentity { return c.identity }

// Completion forwards req to the provider unchanged.
func (c *Client) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return c.provider.Completion(ctx, req)
}

// Stream forwards req to the provider unchanged.
func (c *Client) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	return c.provider.Stream(ctx, req)
}

func (c *Client) checkCapability(mode Mode, model string) {
	if err := c.caps.Check(c.identity, mode, model); err != nil {
		c.logger.Warn("capability mismatch", zap.String("mode", string(mode)), zap.String("model", model), zap.Error(err))
	}
}

// resolveMode checks req and returns its effective mode.
func (c *Client) resolveMode(req Request) (Mode, error) {
	if req.Response == nil {
		return "", types.NewError(types.ErrInvalidRequest, "response model is required")
	}
	if req.MaxRetries < 0 {
		return "", types.Errorf(types.ErrInvalidRequest, "max retries must not be negative, got %d", req.MaxRetries)
	}
	if req.Mode == "" {
		return c.mode, nil
	}
	if _, err := StrategyFor(req.Mode); err != nil {
		return "", err
	}
	return req.Mode, nil
}
