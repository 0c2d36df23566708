package instructor

import (
	"github.com/BaSui01/instructflow/llm"
	"github.com/BaSui01/instructflow/structured"
)

// functionsStrategy uses the legacy functions / function_call protocol.
type functionsStrategy struct{}

func (functionsStrategy) Mode() Mode { return ModeFunctions }

func (functionsStrategy) Inject(d *structured.Descriptor, base *llm.ChatRequest) *llm.ChatRequest {
	req := cloneBase(base)
	def := d.Definition()
	req.Functions = append(req.Functions, def)
	req.FunctionCall = def.Name
	return req
}

func (functionsStrategy) Extract(resp *llm.ChatResponse) Extraction {
	msg, ok := resp.FirstMessage()
	if !ok || msg.FunctionCall == nil || msg.FunctionCall.Arguments == "" {
		return Extraction{}
	}
	return Extraction{Payload: msg.FunctionCall.Arguments, OK: true}
}

func (functionsStrategy) NewStreamDecoder() StreamDecoder { return &callDecoder{functions: true} }

// toolsStrategy forces a single tool call.
type toolsStrategy struct{}

func (toolsStrategy) Mode() Mode { return ModeTools }

func (toolsStrategy) Inject(d *structured.Descriptor, base *llm.ChatRequest) *llm.ChatRequest {
	req := cloneBase(base)
	def := d.Definition()
	req.Tools = append(req.Tools, def)
	req.ToolChoice = def.Name
	return req
}

func (toolsStrategy) Extract(resp *llm.ChatResponse) Extraction {
	msg, ok := resp.FirstMessage()
	if !ok || len(msg.ToolCalls) == 0 || msg.ToolCalls[0].Arguments == "" {
		return Extraction{}
	}
	return Extraction{Payload: msg.ToolCalls[0].Arguments, OK: true}
}

func (toolsStrategy) NewStreamDecoder() StreamDecoder { return &callDecoder{} }

// callDecoder reads argument deltas of the first function or tool call.
type callDecoder struct {
	functions bool
}

func (d *callDecoder) Decode(chunk llm.StreamChunk) string {
	if d.functions {
		if chunk.Delta.FunctionCall == nil {
			return ""
		}
		return chunk.Delta.FunctionCall.Arguments
	}
	if len(chunk.Delta.ToolCalls) == 0 {
		return ""
	}
	return chunk.Delta.ToolCalls[0].Arguments
}

func (d *callDecoder) Flush() string     { return "" }
func (d *callDecoder) Reasoning() string { return "" }
