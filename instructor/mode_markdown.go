package instructor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/BaSui01/instructflow/llm"
	"github.com/BaSui01/instructflow/structured"
)

const (
	fenceOpen  = "```json"
	fenceClose = "```"
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

const markdownInstruction = "Return the answer as a single JSON object inside a markdown code block that starts with ```json and ends with ```. " +
	"Do not write anything after the code block.\n\ndescription: %s\njson schema: %s"

const thinkingInstruction = "First reason about the task step by step inside <think></think> tags. " +
	"Then return the answer as a single JSON object inside a markdown code block that starts with ```json and ends with ```. " +
	"Do not write anything after the code block.\n\ndescription: %s\njson schema: %s"

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// markdownStrategy covers MD_JSON and, with thinking set, THINKING_MD_JSON.
type markdownStrategy struct {
	thinking bool
}

func (s markdownStrategy) Mode() Mode {
	if s.thinking {
		return ModeThinkingMDJSON
	}
	return ModeMDJSON
}

func (s markdownStrategy) Inject(d *structured.Descriptor, base *llm.ChatRequest) *llm.ChatRequest {
	req := cloneBase(base)
	tmpl := markdownInstruction
	if s.thinking {
		tmpl = thinkingInstruction
	}
	appendSystem(req, fmt.Sprintf(tmpl, d.Description(), definitionJSON(d))+"\n\n"+d.Describe())
	return req
}

func (s markdownStrategy) Extract(resp *llm.ChatResponse) Extraction {
	content, ok := firstContent(resp)
	if !ok {
		return Extraction{}
	}

	var reasoning string
	if s.thinking {
		reasoning, content = splitThink(content)
	}

	payload := content
	if loc := fencedJSON.FindStringSubmatchIndex(content); loc != nil {
		payload = content[loc[2]:loc[3]]
		if s.thinking && reasoning == "" {
			reasoning = strings.TrimSpace(content[:loc[0]])
		}
	}
	if strings.TrimSpace(payload) == "" {
		return Extraction{Reasoning: reasoning}
	}
	return Extraction{Payload: payload, Reasoning: reasoning, OK: true}
}

func (s markdownStrategy) NewStreamDecoder() StreamDecoder {
	return &fenceDecoder{thinking: s.thinking}
}

// splitThink removes a leading <think>…</think> block and returns its body.
func splitThink(content string) (reasoning, rest string) {
	start := strings.Index(content, thinkOpen)
	if start < 0 {
		return "", content
	}
	end := strings.Index(content[start:], thinkClose)
	if end < 0 {
		return strings.TrimSpace(content[start+len(thinkOpen):]), ""
	}
	end += start
	reasoning = strings.TrimSpace(content[start+len(thinkOpen) : end])
	return reasoning, content[:start] + content[end+len(thinkClose):]
}

type fenceState int

const (
	fenceSeeking fenceState = iota
	fenceInside
	fencePassthrough
	fenceClosed
)

// fenceDecoder holds text back until the opening ```json fence and stops at
// the closing one. Output that starts directly with '{' or '[' is passed
// through unfenced.
type fenceDecoder struct {
	thinking  bool
	state     fenceState
	buf       strings.Builder
	pending   string
	reasoning string
}

func (d *fenceDecoder) Decode(chunk llm.StreamChunk) string {
	text := chunk.Delta.Content
	if text == "" {
		return ""
	}
	switch d.state {
	case fenceSeeking:
		d.buf.WriteString(text)
		return d.seek()
	case fenceInside:
		return d.inside(text)
	case fencePassthrough:
		return text
	default:
		return ""
	}
}

func (d *fenceDecoder) seek() string {
	held := d.buf.String()
	rest := held
	if d.thinking {
		if i := strings.Index(rest, thinkOpen); i >= 0 {
			j := strings.Index(rest, thinkClose)
			if j < 0 {
				return ""
			}
			d.reasoning = strings.TrimSpace(rest[i+len(thinkOpen) : j])
			rest = rest[:i] + rest[j+len(thinkClose):]
		}
	}

	if i := strings.Index(rest, fenceOpen); i >= 0 {
		nl := strings.IndexByte(rest[i:], '\n')
		if nl < 0 {
			return ""
		}
		if d.thinking && d.reasoning == "" {
			d.reasoning = strings.TrimSpace(rest[:i])
		}
		d.state = fenceInside
		d.buf.Reset()
		return d.inside(rest[i+nl+1:])
	}

	trimmed := strings.TrimLeft(rest, " \t\r\n")
	if trimmed != "" && (trimmed[0] == '{' || trimmed[0] == '[') {
		d.state = fencePassthrough
		d.buf.Reset()
		return trimmed
	}
	return ""
}

func (d *fenceDecoder) inside(text string) string {
	text = d.pending + text
	d.pending = ""
	if i := strings.Index(text, fenceClose); i >= 0 {
		d.state = fenceClosed
		return text[:i]
	}
	// a trailing run of backticks may be the start of the closing fence
	keep := 0
	for keep < 2 && keep < len(text) && text[len(text)-1-keep] == '`' {
		keep++
	}
	d.pending = text[len(text)-keep:]
	return text[:len(text)-keep]
}

func (d *fenceDecoder) Flush() string {
	switch d.state {
	case fenceSeeking:
		// no fence ever arrived: fall back to the whole text
		d.state = fenceClosed
		rest := d.buf.String()
		if d.thinking {
			var reasoning string
			reasoning, rest = splitThink(rest)
			if d.reasoning == "" {
				d.reasoning = reasoning
			}
		}
		return rest
	case fenceInside:
		out := d.pending
		d.pending = ""
		d.state = fenceClosed
		return out
	default:
		return ""
	}
}

func (d *fenceDecoder) Reasoning() string { return d.reasoning }
