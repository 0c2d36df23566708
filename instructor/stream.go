package instructor

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/instructflow/llm"
	"github.com/BaSui01/instructflow/llm/streaming"
	"github.com/BaSui01/instructflow/llm/tokenizer"
	"github.com/BaSui01/instructflow/structured"
	"github.com/BaSui01/instructflow/structured/partial"
	"github.com/BaSui01/instructflow/types"
)

// PartialResult is one emission of a streaming call. Data always marshals
// to valid JSON; IsValid reports whether it satisfies the response model.
type PartialResult struct {
	Data           map[string]any
	ActivePath     string
	CompletedPaths []string
	IsValid        bool
	Issues         []structured.ParseError
	Meta           CompletionMeta
	// Final marks the last emission of the stream.
	Final bool
	// Err is set when the transport failed mid-stream; it is the last emission.
	Err error
}

// CreateStream starts a streaming structured completion. Every fragment that
// changes the reconstructed value produces an emission; the channel closes
// after the final emission. Corrective retries are not performed.
func (c *Client) CreateStream(ctx context.Context, req Request) (<-chan PartialResult, error) {
	mode, err := c.resolveMode(req)
	if err != nil {
		return nil, err
	}
	strategy, _ := StrategyFor(mode)
	c.checkCapability(mode, req.Model)

	traceID := uuid.NewString()
	logger := c.logger.With(
		zap.String("trace_id", traceID),
		zap.String("mode", string(mode)),
		zap.String("response_model", req.Response.Name()),
	)
	if req.MaxRetries > 0 {
		logger.Warn("max retries is not supported for streaming completions", zap.Int("max_retries", req.MaxRetries))
	}

	ctx = types.WithTraceID(ctx, traceID)
	ctx, span := c.tracer.Start(ctx, "instructor.create_stream", trace.WithAttributes(
		attribute.String("instructor.trace_id", traceID),
		attribute.String("instructor.mode", string(mode)),
		attribute.String("instructor.provider", string(c.identity)),
		attribute.String("instructor.response_model", req.Response.Name()),
		attribute.String("llm.model", req.Model),
	))

	built, err := BuildRequest(ctx, BuildInput{
		Base:         req.chatRequest(traceID, true),
		Descriptor:   req.Response,
		Mode:         mode,
		Provider:     c.identity,
		Capabilities: c.caps,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	chunks, err := c.provider.Stream(streamCtx, built)
	if err != nil {
		cancel()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		c.recorder.ObserveCompletion(string(c.identity), string(mode), StatusTransportError, 1)
		return nil, err
	}

	s := &streamCall{
		client:   c,
		strategy: strategy,
		desc:     req.Response,
		request:  built,
		traceID:  traceID,
		logger:   logger,
		out:      make(chan PartialResult),
	}
	go func() {
		defer span.End()
		defer cancel()
		defer close(s.out)
		if err := s.run(streamCtx, chunks); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}
		span.SetStatus(codes.Ok, "")
	}()
	return s.out, nil
}

// streamCall is the state of one streaming call.
type streamCall struct {
	client   *Client
	strategy Strategy
	desc     *structured.Descriptor
	request  *llm.ChatRequest
	traceID  string
	logger   *zap.Logger
	out      chan PartialResult

	usage        atomic.Pointer[llm.ChatUsage]
	model        string
	responseID   string
	finishReason string
}

func (s *streamCall) run(ctx context.Context, chunks <-chan llm.StreamChunk) error {
	provider, mode := string(s.client.identity), string(s.strategy.Mode())
	_, cursors := streaming.NewTee(ctx, chunks, 2)
	content, usage := cursors[0], cursors[1]

	decoder := s.strategy.NewStreamDecoder()
	builder := partial.NewBuilder(s.desc)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			chunk, ok, err := usage.Next(gctx)
			if err != nil || !ok {
				return nil
			}
			if chunk.Usage != nil {
				u := *chunk.Usage
				s.usage.Store(&u)
			}
		}
	})
	g.Go(func() error {
		for {
			chunk, ok, err := content.Next(gctx)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if chunk.Err != nil {
				return chunk.Err
			}
			s.observe(chunk)
			s.client.recorder.ObserveStreamFragment(provider, mode)

			text := decoder.Decode(chunk)
			if text == "" {
				continue
			}
			if st, changed := builder.Feed(gctx, text); changed {
				if err := s.emit(gctx, s.partial(st, decoder, false)); err != nil {
					return err
				}
			}
		}
		if tail := decoder.Flush(); tail != "" {
			if st, changed := builder.Feed(gctx, tail); changed {
				return s.emit(gctx, s.partial(st, decoder, false))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		s.client.recorder.ObserveValidationFailure(provider, mode, FailureTransport)
		s.client.recorder.ObserveCompletion(provider, mode, StatusTransportError, 1)
		s.logger.Error("stream failed", zap.Error(err))
		_ = s.emit(ctx, PartialResult{Err: err, Final: true, Meta: s.meta(decoder, builder)})
		return err
	}

	if perr := builder.Malformed(); perr != nil {
		s.logger.Debug("discarded malformed stream content", zap.Error(perr))
	}
	final := s.partial(builder.Final(ctx), decoder, true)
	final.Meta = s.meta(decoder, builder)
	final.Data[MetaKey] = final.Meta

	status := StatusSuccess
	if !final.IsValid {
		s.client.recorder.ObserveValidationFailure(provider, mode, FailureValidation)
		status = StatusError
	}
	s.client.recorder.ObserveCompletion(provider, mode, status, 1)
	return s.emit(ctx, final)
}

func (s *streamCall) observe(chunk llm.StreamChunk) {
	if chunk.Model != "" {
		s.model = chunk.Model
	}
	if chunk.ID != "" {
		s.responseID = chunk.ID
	}
	if chunk.FinishReason != "" {
		s.finishReason = chunk.FinishReason
	}
}

func (s *streamCall) partial(st partial.State, decoder StreamDecoder, final bool) PartialResult {
	meta := CompletionMeta{
		Attempts:     1,
		Provider:     string(s.client.identity),
		Model:        s.model,
		ResponseID:   s.responseID,
		FinishReason: s.finishReason,
		Reasoning:    decoder.Reasoning(),
		TraceID:      s.traceID,
		Usage:        s.reportedUsage(),
	}
	data := st.Snapshot
	data[MetaKey] = meta
	return PartialResult{
		Data:           data,
		ActivePath:     st.ActivePath,
		CompletedPaths: st.CompletedPaths,
		IsValid:        st.IsValid,
		Issues:         st.Issues,
		Meta:           meta,
		Final:          final,
	}
}

func (s *streamCall) reportedUsage() *types.TokenUsage {
	u := s.usage.Load()
	if u == nil {
		return nil
	}
	return usageOf(*u)
}

// meta builds the terminal metadata, estimating usage when the stream
// carried none.
func (s *streamCall) meta(decoder StreamDecoder, builder *partial.Builder) CompletionMeta {
	meta := CompletionMeta{
		Attempts:     1,
		Provider:     string(s.client.identity),
		Model:        s.model,
		ResponseID:   s.responseID,
		FinishReason: s.finishReason,
		Reasoning:    decoder.Reasoning(),
		TraceID:      s.traceID,
		Usage:        s.reportedUsage(),
	}
	if meta.Usage != nil {
		return meta
	}

	tok := s.client.tokenizer
	if tok == nil {
		tok = tokenizer.ForModel(s.request.Model)
	}
	prompt := make([]tokenizer.Message, len(s.request.Messages))
	for i, m := range s.request.Messages {
		prompt[i] = tokenizer.Message{Role: string(m.Role), Content: m.Content}
	}
	usage := tokenizer.EstimateUsage(tok, prompt, builder.Raw())
	meta.Usage = &usage
	meta.UsageEstimated = true
	return meta
}

func (s *streamCall) emit(ctx context.Context, r PartialResult) error {
	select {
	case s.out <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
