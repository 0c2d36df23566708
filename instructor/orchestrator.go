package instructor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/instructflow/llm"
	"github.com/BaSui01/instructflow/structured"
	"github.com/BaSui01/instructflow/types"
)

// MetaKey is the reserved key carrying CompletionMeta in Result.Data.
const MetaKey = "_meta"

const correctionPrefix = "Please correct the function call; errors encountered:\n"

// CompletionMeta is call metadata that is not part of the response model.
type CompletionMeta struct {
	Usage          *types.TokenUsage `json:"usage,omitempty"`
	UsageEstimated bool              `json:"usage_estimated,omitempty"`
	// TotalUsage sums usage over every round trip of the call, including
	// rejected attempts.
	TotalUsage   *types.TokenUsage `json:"total_usage,omitempty"`
	Attempts     int               `json:"attempts"`
	Provider     string            `json:"provider"`
	Model        string            `json:"model,omitempty"`
	ResponseID   string            `json:"response_id,omitempty"`
	FinishReason string            `json:"finish_reason,omitempty"`
	Reasoning    string            `json:"reasoning,omitempty"`
	TraceID      string            `json:"trace_id"`
}

// Result is a validated structured completion.
type Result struct {
	// Data is the validated value plus CompletionMeta under MetaKey.
	Data map[string]any
	// Raw is the validated payload text.
	Raw      string
	Meta     CompletionMeta
	Attempts int
}

// Decode unmarshals the validated payload into T.
func Decode[T any](r *Result) (T, error) {
	var out T
	if r == nil {
		return out, types.NewError(types.ErrInvalidRequest, "nil result")
	}
	if err := json.Unmarshal([]byte(r.Raw), &out); err != nil {
		return out, fmt.Errorf("decode %T: %w", out, err)
	}
	return out, nil
}

// CreateAs runs Create and decodes the result into T. When req.Response is
// nil the response model is derived from T.
func CreateAs[T any](ctx context.Context, c *Client, req Request) (T, *Result, error) {
	var zero T
	if req.Response == nil {
		desc, err := structured.DescriptorFor[T](reflect.TypeOf((*T)(nil)).Elem().Name())
		if err != nil {
			return zero, nil, err
		}
		req.Response = desc
	}
	res, err := c.Create(ctx, req)
	if err != nil {
		return zero, nil, err
	}
	out, err := Decode[T](res)
	if err != nil {
		return zero, res, err
	}
	return out, res, nil
}

// RetryError is returned when every attempt failed. It unwraps to a
// RETRY_EXHAUSTED *types.Error whose cause is the last failure.
type RetryError struct {
	Attempts int
	// Raw is the last raw model output.
	Raw    string
	Issues []structured.ParseError
	err    *types.Error
}

func (e *RetryError) Error() string { return e.err.Error() }
func (e *RetryError) Unwrap() error { return e.err }

// Last returns the failure of the final attempt.
func (e *RetryError) Last() error { return e.err.Cause }

// attemptState is the conversation and failure record before one round trip.
// States are never modified; each failure derives a new one.
type attemptState struct {
	index    int
	messages []llm.Message
	lastRaw  string
	issues   []structured.ParseError
	lastErr  error
	spent    types.TokenUsage
}

// corrected appends the rejected output and the correction request.
func (s attemptState) corrected(raw string, issues []structured.ParseError, err error, used types.TokenUsage) attemptState {
	msgs := make([]llm.Message, 0, len(s.messages)+2)
	msgs = append(msgs, s.messages...)
	if strings.TrimSpace(raw) != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: raw})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: correctionPrompt(issues)})
	return attemptState{index: s.index + 1, messages: msgs, lastRaw: raw, issues: issues, lastErr: err, spent: s.plus(used)}
}

// resent keeps the conversation as is, for transport failures.
func (s attemptState) resent(err error) attemptState {
	return attemptState{index: s.index + 1, messages: s.messages, lastRaw: s.lastRaw, issues: s.issues, lastErr: err, spent: s.spent}
}

func (s attemptState) plus(used types.TokenUsage) types.TokenUsage {
	return s.spent.Plus(used)
}

func correctionPrompt(issues []structured.ParseError) string {
	data, err := json.Marshal(issues)
	if err != nil {
		return correctionPrefix + (&structured.ValidationErrors{Errors: issues}).Error()
	}
	return correctionPrefix + string(data)
}

// attemptOutcome is what one round trip produced.
type attemptOutcome struct {
	resp       *llm.ChatResponse
	extraction Extraction
	outcome    structured.Outcome
	raw        string
	kind       string
	err        error
}

func (o attemptOutcome) ok() bool { return o.err == nil }

func (o attemptOutcome) usage() types.TokenUsage {
	if o.resp == nil {
		return types.TokenUsage{}
	}
	if u := usageOf(o.resp.Usage); u != nil {
		return *u
	}
	return types.TokenUsage{}
}

// Create runs a structured completion: build the request, then validate and
// re-prompt until the payload passes or MaxRetries corrective round trips
// have been spent. Transport errors are returned unchanged unless the client
// retries all errors; a cancelled context is never retried.
func (c *Client) Create(ctx context.Context, req Request) (*Result, error) {
	mode, err := c.resolveMode(req)
	if err != nil {
		return nil, err
	}
	strategy, _ := StrategyFor(mode)
	c.checkCapability(mode, req.Model)

	traceID := uuid.NewString()
	ctx = types.WithTraceID(ctx, traceID)
	ctx, span := c.tracer.Start(ctx, "instructor.create", trace.WithAttributes(
		attribute.String("instructor.trace_id", traceID),
		attribute.String("instructor.mode", string(mode)),
		attribute.String("instructor.provider", string(c.identity)),
		attribute.String("instructor.response_model", req.Response.Name()),
		attribute.String("llm.model", req.Model),
		attribute.Int("instructor.max_retries", req.MaxRetries),
	))
	defer span.End()

	built, err := BuildRequest(ctx, BuildInput{
		Base:         req.chatRequest(traceID, false),
		Descriptor:   req.Response,
		Mode:         mode,
		Provider:     c.identity,
		Capabilities: c.caps,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	logger := c.logger.With(
		zap.String("trace_id", traceID),
		zap.String("mode", string(mode)),
		zap.String("response_model", req.Response.Name()),
	)
	labelProvider, labelMode := string(c.identity), string(mode)

	state := attemptState{messages: built.Messages}
	for {
		out := c.attempt(ctx, strategy, built, req.Response, state, logger)
		if out.ok() {
			span.SetAttributes(attribute.Int("instructor.attempts", state.index+1))
			span.SetStatus(codes.Ok, "")
			c.recorder.ObserveCompletion(labelProvider, labelMode, StatusSuccess, state.index+1)
			return c.result(out, state, traceID), nil
		}

		c.recorder.ObserveValidationFailure(labelProvider, labelMode, out.kind)
		if out.kind == FailureTransport && (!c.retryAllErrors || ctx.Err() != nil) {
			span.RecordError(out.err)
			span.SetStatus(codes.Error, out.err.Error())
			c.recorder.ObserveCompletion(labelProvider, labelMode, StatusTransportError, state.index+1)
			logger.Error("completion request failed",
				zap.String("base_url", c.provider.BaseURL()),
				zap.Int("attempt", state.index),
				zap.Error(out.err))
			return nil, out.err
		}

		if state.index >= req.MaxRetries {
			rerr := c.exhausted(req.Response.Name(), state.index+1, out)
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
			c.recorder.ObserveCompletion(labelProvider, labelMode, StatusRetryExhausted, state.index+1)
			logger.Error("max attempts reached",
				zap.Int("attempts", state.index+1),
				zap.Any("issues", out.outcome.Issues),
				zap.Error(out.err))
			return nil, rerr
		}

		logger.Warn("retrying completion",
			zap.String("kind", out.kind),
			zap.Int("attempt", state.index),
			zap.Int("max_retries", req.MaxRetries),
			zap.Any("issues", out.outcome.Issues),
			zap.Error(out.err))

		if out.kind == FailureTransport {
			state = state.resent(out.err)
		} else {
			state = state.corrected(out.raw, out.outcome.Issues, out.err, out.usage())
		}
		if c.backoff != nil {
			if err := c.backoff.Wait(ctx, state.index); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				c.recorder.ObserveCompletion(labelProvider, labelMode, StatusError, state.index)
				return nil, err
			}
		}
	}
}

// attempt runs one round trip and classifies its failure, if any.
func (c *Client) attempt(
	ctx context.Context,
	strategy Strategy,
	built *llm.ChatRequest,
	desc *structured.Descriptor,
	state attemptState,
	logger *zap.Logger,
) attemptOutcome {
	ctx, span := c.tracer.Start(ctx, "instructor.attempt", trace.WithAttributes(
		attribute.Int("instructor.attempt", state.index),
		attribute.Int("instructor.messages", len(state.messages)),
	))
	defer span.End()

	req := built.Clone()
	req.Messages = state.messages

	resp, err := c.completion(types.WithAttempt(ctx, state.index), req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return attemptOutcome{kind: FailureTransport, err: err}
	}
	if c.debug {
		logger.Debug("raw completion", zap.Int("attempt", state.index), zap.Any("response", resp))
	}

	ex := strategy.Extract(resp)
	raw := ex.Payload
	if !ex.OK {
		if msg, ok := resp.FirstMessage(); ok {
			raw = msg.Content
		}
		err := types.Errorf(types.ErrExtraction, "invalid response format: no %s payload in response", strategy.Mode())
		span.SetStatus(codes.Error, "extraction")
		return attemptOutcome{
			resp:       resp,
			extraction: ex,
			raw:        raw,
			kind:       FailureExtraction,
			outcome:    structured.Outcome{Issues: []structured.ParseError{{Message: err.Message}}},
			err:        err,
		}
	}

	payload := strings.TrimSpace(ex.Payload)
	var probe any
	if jerr := json.Unmarshal([]byte(payload), &probe); jerr != nil {
		err := types.NewError(types.ErrExtraction, "invalid response format").WithCause(jerr)
		span.SetStatus(codes.Error, "extraction")
		return attemptOutcome{
			resp:       resp,
			extraction: ex,
			raw:        raw,
			kind:       FailureExtraction,
			outcome:    structured.Outcome{Issues: []structured.ParseError{{Message: "invalid response format: " + jerr.Error()}}},
			err:        err,
		}
	}

	outcome := desc.Validate(ctx, []byte(payload))
	if !outcome.OK() {
		err := types.NewError(types.ErrValidation, "response does not match the response model").WithCause(outcome.Err())
		span.SetStatus(codes.Error, "validation")
		return attemptOutcome{resp: resp, extraction: ex, outcome: outcome, raw: payload, kind: FailureValidation, err: err}
	}
	return attemptOutcome{resp: resp, extraction: ex, outcome: outcome, raw: payload}
}

func (c *Client) result(out attemptOutcome, state attemptState, traceID string) *Result {
	attempts := state.index + 1
	meta := CompletionMeta{
		Attempts:  attempts,
		Provider:  string(c.identity),
		Reasoning: out.extraction.Reasoning,
		TraceID:   traceID,
	}
	if out.resp != nil {
		meta.Model = out.resp.Model
		meta.ResponseID = out.resp.ID
		if len(out.resp.Choices) > 0 {
			meta.FinishReason = out.resp.Choices[0].FinishReason
		}
		meta.Usage = usageOf(out.resp.Usage)
	}
	meta.TotalUsage = state.plus(out.usage()).OrNil()

	value, _ := out.outcome.Value.(map[string]any)
	data := make(map[string]any, len(value)+1)
	for k, v := range value {
		data[k] = v
	}
	data[MetaKey] = meta
	return &Result{Data: data, Raw: out.raw, Meta: meta, Attempts: attempts}
}

func (c *Client) exhausted(name string, attempts int, out attemptOutcome) *RetryError {
	last := out.err
	if last == nil {
		last = errors.New("unknown failure")
	}
	return &RetryError{
		Attempts: attempts,
		Raw:      out.raw,
		Issues:   out.outcome.Issues,
		err: types.Errorf(types.ErrRetryExhausted, "response model %s failed after %d attempts", name, attempts).
			WithProvider(string(c.identity)).
			WithCause(last),
	}
}

func usageOf(u llm.ChatUsage) *types.TokenUsage {
	usage := types.NewTokenUsage(u.PromptTokens, u.CompletionTokens, u.TotalTokens)
	usage.Cost = u.Cost
	return usage.OrNil()
}
