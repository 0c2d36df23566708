package instructor

import (
	"context"
	"fmt"

	"github.com/BaSui01/instructflow/llm"
	"github.com/BaSui01/instructflow/llm/middleware"
	"github.com/BaSui01/instructflow/structured"
	"github.com/BaSui01/instructflow/types"
)

// BuildInput is everything BuildRequest composes.
type BuildInput struct {
	Base         *llm.ChatRequest
	Descriptor   *structured.Descriptor
	Mode         Mode
	Provider     ProviderIdentity
	Capabilities *CapabilityTable
}

// BuildRequest produces the final provider request: a copy of Base with the
// response model injected by the mode strategy, then rewritten by the
// provider post-processors. Base is never modified.
func BuildRequest(ctx context.Context, in BuildInput) (*llm.ChatRequest, error) {
	if in.Descriptor == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "response model is required")
	}
	strategy, err := StrategyFor(in.Mode)
	if err != nil {
		return nil, err
	}
	caps := in.Capabilities
	if caps == nil {
		caps = DefaultCapabilities(nil)
	}
	provider := in.Provider
	if provider == "" {
		provider = ProviderOther
	}

	req := strategy.Inject(in.Descriptor, in.Base)
	chain := middleware.NewRewriterChain(caps.PostProcessors(provider, in.Mode)...)
	out, err := chain.Execute(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("post-process %s request: %w", in.Mode, err)
	}
	return out, nil
}
