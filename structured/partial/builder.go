package partial

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/BaSui01/instructflow/structured"
)

// State is one emission of a streaming call.
type State struct {
	Snapshot       map[string]any          `json:"snapshot"`
	ActivePath     string                  `json:"active_path,omitempty"`
	CompletedPaths []string                `json:"completed_paths"`
	IsValid        bool                    `json:"is_valid"`
	Issues         []structured.ParseError `json:"issues,omitempty"`
}

// Builder turns a fragment stream into schema-shaped snapshots and validates
// each one against the schema. Field rules run only on the final state. It
// belongs to a single streaming call and is not safe for concurrent use.
type Builder struct {
	desc   *structured.Descriptor
	parser *Parser
	raw    strings.Builder
}

func NewBuilder(desc *structured.Descriptor) *Builder {
	return &Builder{desc: desc, parser: NewParser()}
}

// Feed consumes a fragment. ok is false when the fragment did not change the
// reconstructed value, so nothing needs to be emitted.
func (b *Builder) Feed(ctx context.Context, fragment string) (State, bool) {
	b.raw.WriteString(fragment)
	if !b.parser.Write(fragment) {
		return State{}, false
	}
	return b.state(ctx, b.parser.ActivePath(), false), true
}

// Final returns the terminal state, validated with rules. ActivePath is
// always empty.
func (b *Builder) Final(ctx context.Context) State {
	b.parser.Finish()
	return b.state(ctx, "", true)
}

// Raw returns every fragment fed so far.
func (b *Builder) Raw() string { return b.raw.String() }

// Malformed returns the parse error that stopped reconstruction, if any.
func (b *Builder) Malformed() error { return b.parser.Err() }

func (b *Builder) state(ctx context.Context, active string, final bool) State {
	snapshot, _ := Merge(b.desc.Schema(), b.parser.Value()).(map[string]any)
	if snapshot == nil {
		snapshot = b.desc.Skeleton()
	}
	st := State{
		Snapshot:       snapshot,
		ActivePath:     active,
		CompletedPaths: b.parser.CompletedPaths(),
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		st.Issues = []structured.ParseError{{Message: err.Error()}}
		return st
	}
	var outcome structured.Outcome
	if final {
		outcome = b.desc.Validate(ctx, data)
	} else {
		outcome = b.desc.ValidateShape(data)
	}
	st.IsValid = outcome.OK()
	st.Issues = outcome.Issues
	return st
}

// Merge overlays a parsed partial value onto the schema skeleton. Fields the
// stream has not reached keep their placeholders; array items are merged
// with the item skeleton.
func Merge(schema *structured.JSONSchema, parsed any) any {
	if parsed == nil {
		return structured.Skeleton(schema)
	}
	switch v := parsed.(type) {
	case map[string]any:
		out, ok := structured.Skeleton(schema).(map[string]any)
		if !ok {
			out = make(map[string]any, len(v))
		}
		for k, val := range v {
			var prop *structured.JSONSchema
			if schema != nil {
				prop = schema.Properties[k]
			}
			out[k] = Merge(prop, val)
		}
		return out
	case []any:
		var items *structured.JSONSchema
		if schema != nil {
			items = schema.Items
		}
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Merge(items, item)
		}
		return out
	default:
		return parsed
	}
}
