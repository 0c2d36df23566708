package instructor

import (
	"fmt"

	"github.com/BaSui01/instructflow/llm"
	"github.com/BaSui01/instructflow/structured"
)

const jsonInstruction = "Given a user prompt, you will return fully valid JSON based on the following description and schema. " +
	"You will return no other prose. You will take into account any descriptions or required parameters within the schema " +
	"and return a valid and fully escaped JSON object that matches the schema and those instructions.\n\n" +
	"description: %s\njson schema: %s"

func jsonPrompt(d *structured.Descriptor) string {
	return fmt.Sprintf(jsonInstruction, d.Description(), definitionJSON(d)) + "\n\n" + d.Describe()
}

// jsonStrategy asks for a bare JSON object via json_object response format.
type jsonStrategy struct{}

func (jsonStrategy) Mode() Mode { return ModeJSON }

func (jsonStrategy) Inject(d *structured.Descriptor, base *llm.ChatRequest) *llm.ChatRequest {
	req := cloneBase(base)
	appendSystem(req, jsonPrompt(d))
	req.ResponseFormat = &llm.ResponseFormat{Type: llm.ResponseFormatJSONObject}
	return req
}

func (jsonStrategy) Extract(resp *llm.ChatResponse) Extraction {
	content, ok := firstContent(resp)
	if !ok {
		return Extraction{}
	}
	return Extraction{Payload: content, OK: true}
}

func (jsonStrategy) NewStreamDecoder() StreamDecoder { return contentDecoder{} }

// jsonSchemaStrategy additionally sends the schema document in response_format.
type jsonSchemaStrategy struct{}

func (jsonSchemaStrategy) Mode() Mode { return ModeJSONSchema }

func (jsonSchemaStrategy) Inject(d *structured.Descriptor, base *llm.ChatRequest) *llm.ChatRequest {
	req := cloneBase(base)
	appendSystem(req, jsonPrompt(d))
	req.ResponseFormat = &llm.ResponseFormat{
		Type:   llm.ResponseFormatJSONSchema,
		Name:   d.Name(),
		Schema: d.Schema().JSON(),
	}
	return req
}

func (jsonSchemaStrategy) Extract(resp *llm.ChatResponse) Extraction {
	return jsonStrategy{}.Extract(resp)
}

func (jsonSchemaStrategy) NewStreamDecoder() StreamDecoder { return contentDecoder{} }

// contentDecoder passes content deltas through unchanged.
type contentDecoder struct{}

func (contentDecoder) Decode(chunk llm.StreamChunk) string { return chunk.Delta.Content }
func (contentDecoder) Flush() string                       { return "" }
func (contentDecoder) Reasoning() string                   { return "" }
