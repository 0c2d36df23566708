package instructor

import (
	"encoding/json"
	"strings"

	"github.com/BaSui01/instructflow/llm"
	"github.com/BaSui01/instructflow/structured"
	"github.com/BaSui01/instructflow/types"
)

// Mode selects how a response model is injected into a request and how the
// payload is read back.
type Mode string

const (
	ModeFunctions      Mode = "FUNCTIONS"
	ModeTools          Mode = "TOOLS"
	ModeJSON           Mode = "JSON"
	ModeMDJSON         Mode = "MD_JSON"
	ModeJSONSchema     Mode = "JSON_SCHEMA"
	ModeThinkingMDJSON Mode = "THINKING_MD_JSON"
)

// Modes returns every registered mode in declaration order.
func Modes() []Mode {
	return []Mode{ModeFunctions, ModeTools, ModeJSON, ModeMDJSON, ModeJSONSchema, ModeThinkingMDJSON}
}

// ParseMode normalizes s ("md-json", " tools ") and checks it against the registry.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	if !m.Valid() {
		return "", types.Errorf(types.ErrUnsupportedMode, "unknown mode %q", s)
	}
	return m, nil
}

// Valid reports whether m is a registered mode.
func (m Mode) Valid() bool {
	_, err := StrategyFor(m)
	return err == nil
}

func (m Mode) String() string { return string(m) }

// Extraction is the raw payload read out of a completion.
// OK is false when the response carried no payload for the active mode.
type Extraction struct {
	Payload   string
	Reasoning string
	OK        bool
}

// StreamDecoder turns stream chunks into payload text for one streaming call.
type StreamDecoder interface {
	// Decode returns the payload text carried by chunk, possibly empty.
	Decode(chunk llm.StreamChunk) string
	// Flush returns text still held back once the stream has ended.
	Flush() string
	// Reasoning returns reasoning text seen so far, if the mode records any.
	Reasoning() string
}

// Strategy is the injection/extraction pair of one mode.
type Strategy interface {
	Mode() Mode
	// Inject returns a copy of base carrying the response model; base is not modified.
	Inject(d *structured.Descriptor, base *llm.ChatRequest) *llm.ChatRequest
	// Extract reads the payload from a non-streaming response. It never panics.
	Extract(resp *llm.ChatResponse) Extraction
	// NewStreamDecoder returns a fresh decoder for one streaming call.
	NewStreamDecoder() StreamDecoder
}

// StrategyFor returns the strategy registered for mode.
func StrategyFor(mode Mode) (Strategy, error) {
	switch mode {
	case ModeFunctions:
		return functionsStrategy{}, nil
	case ModeTools:
		return toolsStrategy{}, nil
	case ModeJSON:
		return jsonStrategy{}, nil
	case ModeMDJSON:
		return markdownStrategy{}, nil
	case ModeJSONSchema:
		return jsonSchemaStrategy{}, nil
	case ModeThinkingMDJSON:
		return markdownStrategy{thinking: true}, nil
	default:
		return nil, types.Errorf(types.ErrUnsupportedMode, "unknown mode %q", string(mode))
	}
}

func cloneBase(base *llm.ChatRequest) *llm.ChatRequest {
	if base == nil {
		return &llm.ChatRequest{}
	}
	return base.Clone()
}

func appendSystem(req *llm.ChatRequest, content string) {
	req.Messages = append(req.Messages, llm.Message{Role: llm.RoleSystem, Content: content})
}

// firstContent returns the first choice's content.
func firstContent(resp *llm.ChatResponse) (string, bool) {
	msg, ok := resp.FirstMessage()
	if !ok || strings.TrimSpace(msg.Content) == "" {
		return "", false
	}
	return msg.Content, true
}

func definitionJSON(d *structured.Descriptor) string {
	data, err := json.Marshal(d.Definition())
	if err != nil {
		return string(d.Schema().JSON())
	}
	return string(data)
}
