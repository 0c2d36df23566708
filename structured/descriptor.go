package structured

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/BaSui01/instructflow/llm"
	"github.com/BaSui01/instructflow/types"
)

// DefaultName is used when a descriptor is created with an empty name.
const DefaultName = "response"

var nameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// SanitizeName replaces every character outside [A-Za-z0-9_] with "_".
func SanitizeName(name string) string {
	if name == "" {
		return DefaultName
	}
	return nameSanitizer.ReplaceAllString(name, "_")
}

// RuleFunc checks a decoded JSON value. A non-nil error is reported as an issue.
type RuleFunc func(ctx context.Context, value any) error

// Rule is a field-level check beyond what the schema can express.
// Path uses gjson syntax ("user.age", "items.0.sku"); an empty path selects
// the whole payload. Rules whose path is absent are skipped.
type Rule struct {
	Path    string
	Message string
	Check   RuleFunc
}

// Outcome is the result of validating one payload.
type Outcome struct {
	Value  any          `json:"value,omitempty"`
	Issues []ParseError `json:"issues,omitempty"`
}

// OK reports whether the payload passed validation.
func (o Outcome) OK() bool { return len(o.Issues) == 0 }

// Err returns the issues as *ValidationErrors, or nil on success.
func (o Outcome) Err() error {
	if o.OK() {
		return nil
	}
	return &ValidationErrors{Errors: o.Issues}
}

// Descriptor describes a response model: its name, description, shape and
// field rules. A Descriptor is immutable after construction; Schema returns
// the stored shape and callers must not modify it.
type Descriptor struct {
	name        string
	description string
	schema      *JSONSchema
	rules       []Rule
	validator   SchemaValidator
}

// DescriptorOption configures a Descriptor.
type DescriptorOption func(*Descriptor)

func WithDescription(desc string) DescriptorOption {
	return func(d *Descriptor) { d.description = desc }
}

// WithRule adds a field rule.
func WithRule(path, message string, check RuleFunc) DescriptorOption {
	return func(d *Descriptor) {
		d.rules = append(d.rules, Rule{Path: path, Message: message, Check: check})
	}
}

// WithValidator replaces the default schema validator.
func WithValidator(v SchemaValidator) DescriptorOption {
	return func(d *Descriptor) { d.validator = v }
}

// NewDescriptor builds a descriptor from a schema. The schema is cloned and
// must describe a JSON object.
func NewDescriptor(name string, schema *JSONSchema, opts ...DescriptorOption) (*Descriptor, error) {
	if schema == nil {
		return nil, types.NewError(types.ErrSchemaInvalid, "schema is required")
	}
	if !schema.IsObject() {
		return nil, types.Errorf(types.ErrSchemaInvalid, "response model %q must be an object schema, got %q", name, schema.Type)
	}
	if err := schema.check(""); err != nil {
		return nil, types.NewError(types.ErrSchemaInvalid, "invalid response model schema").WithCause(err)
	}

	d := &Descriptor{
		name:   SanitizeName(name),
		schema: schema.Clone(),
	}
	for _, opt := range opts {
		opt(d)
	}
	for i, r := range d.rules {
		if r.Check == nil {
			return nil, types.Errorf(types.ErrSchemaInvalid, "rule %d at %q has no check", i, r.Path)
		}
	}
	if d.validator == nil {
		d.validator = NewValidator()
	}
	if d.description == "" {
		d.description = schema.Description
	}
	return d, nil
}

// DescriptorFor derives the shape from T by reflection.
func DescriptorFor[T any](name string, opts ...DescriptorOption) (*Descriptor, error) {
	schema, err := NewSchemaGenerator().Generate(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return nil, types.NewError(types.ErrSchemaInvalid, "generate schema").WithCause(err)
	}
	return NewDescriptor(name, schema, opts...)
}

func (d *Descriptor) Name() string        { return d.name }
func (d *Descriptor) Schema() *JSONSchema { return d.schema }
func (d *Descriptor) Rules() []Rule       { return append([]Rule(nil), d.rules...) }

// Description returns the caller supplied description or a generated one.
func (d *Descriptor) Description() string {
	if d.description != "" {
		return d.description
	}
	return fmt.Sprintf("Correctly extracted `%s` with all the required parameters with correct types", d.name)
}

// Definition renders the provider-agnostic function definition.
func (d *Descriptor) Definition() llm.ToolSchema {
	return llm.ToolSchema{
		Name:        d.name,
		Description: d.Description(),
		Parameters:  d.schema.JSON(),
	}
}

// Skeleton returns a fresh placeholder value shaped like the schema.
func (d *Descriptor) Skeleton() map[string]any {
	return Skeleton(d.schema).(map[string]any)
}

// Describe renders the model as prompt text: a header line followed by one
// line per field in sorted order.
func (d *Descriptor) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", d.name, d.Description())
	describeFields(&b, d.schema, 0)
	for _, r := range d.rules {
		if r.Message == "" {
			continue
		}
		target := r.Path
		if target == "" {
			target = "(whole object)"
		}
		fmt.Fprintf(&b, "rule %s: %s\n", target, r.Message)
	}
	return strings.TrimRight(b.String(), "\n")
}

func describeFields(b *strings.Builder, s *JSONSchema, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, name := range s.PropertyNames() {
		prop := s.Properties[name]
		req := "optional"
		if s.IsRequired(name) {
			req = "required"
		}
		fmt.Fprintf(b, "%s- %s (%s, %s)", indent, name, typeLabel(prop), req)
		if prop.Description != "" {
			fmt.Fprintf(b, ": %s", prop.Description)
		}
		if c := constraints(prop); c != "" {
			fmt.Fprintf(b, " [%s]", c)
		}
		b.WriteByte('\n')
		switch {
		case prop.IsObject():
			describeFields(b, prop, depth+1)
		case prop.Type == TypeArray && prop.Items.IsObject():
			describeFields(b, prop.Items, depth+1)
		}
	}
}

func typeLabel(s *JSONSchema) string {
	switch {
	case s.Type == TypeArray && s.Items != nil:
		return "array of " + typeLabel(s.Items)
	case s.Type != "":
		return string(s.Type)
	case s.IsObject():
		return "object"
	default:
		return "any"
	}
}

func constraints(s *JSONSchema) string {
	var parts []string
	if len(s.Enum) > 0 {
		vals := make([]string, len(s.Enum))
		for i, v := range s.Enum {
			vals[i] = fmt.Sprint(v)
		}
		parts = append(parts, "one of "+strings.Join(vals, ", "))
	}
	if s.Format != "" {
		parts = append(parts, "format "+string(s.Format))
	}
	if s.Pattern != "" {
		parts = append(parts, "pattern "+s.Pattern)
	}
	if s.MinLength != nil {
		parts = append(parts, fmt.Sprintf("min length %d", *s.MinLength))
	}
	if s.MaxLength != nil {
		parts = append(parts, fmt.Sprintf("max length %d", *s.MaxLength))
	}
	if s.Minimum != nil {
		parts = append(parts, fmt.Sprintf(">= %v", *s.Minimum))
	}
	if s.Maximum != nil {
		parts = append(parts, fmt.Sprintf("<= %v", *s.Maximum))
	}
	if s.MinItems != nil {
		parts = append(parts, fmt.Sprintf("min items %d", *s.MinItems))
	}
	if s.MaxItems != nil {
		parts = append(parts, fmt.Sprintf("max items %d", *s.MaxItems))
	}
	return strings.Join(parts, "; ")
}

// Validate decodes payload and checks it against the shape, then the rules.
// Rules run only once the shape is satisfied.
func (d *Descriptor) Validate(ctx context.Context, payload []byte) Outcome {
	payload = bytes.TrimSpace(payload)
	out := d.ValidateShape(payload)
	if !out.OK() || len(d.rules) == 0 {
		return out
	}
	out.Issues = d.checkRules(ctx, payload, out.Value)
	return out
}

// ValidateShape decodes payload and checks it against the schema only.
// Streaming snapshots use it; rules are left for the final value.
func (d *Descriptor) ValidateShape(payload []byte) Outcome {
	payload = bytes.TrimSpace(payload)
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return Outcome{Issues: []ParseError{{Message: fmt.Sprintf("invalid JSON: %v", err)}}}
	}
	if err := d.validator.Validate(payload, d.schema); err != nil {
		return Outcome{Value: value, Issues: issuesOf(err)}
	}
	return Outcome{Value: value}
}

func (d *Descriptor) checkRules(ctx context.Context, payload []byte, value any) []ParseError {
	var issues []ParseError
	for _, r := range d.rules {
		target := value
		if r.Path != "" {
			res := gjson.GetBytes(payload, r.Path)
			if !res.Exists() {
				continue
			}
			target = res.Value()
		}
		if err := r.Check(ctx, target); err != nil {
			msg := err.Error()
			if r.Message != "" {
				msg = r.Message + ": " + msg
			}
			issues = append(issues, ParseError{Path: issuePath(r.Path), Message: msg})
		}
	}
	return issues
}

func issuesOf(err error) []ParseError {
	if ve, ok := err.(*ValidationErrors); ok && len(ve.Errors) > 0 {
		return ve.Errors
	}
	return []ParseError{{Message: err.Error()}}
}

// issuePath converts a gjson path into the "a.b[0]" notation used in issues.
func issuePath(path string) string {
	if path == "" {
		return ""
	}
	var out string
	for _, seg := range strings.Split(path, ".") {
		if i, err := strconv.Atoi(seg); err == nil && out != "" {
			out = indexPath(out, i)
			continue
		}
		out = joinPath(out, seg)
	}
	return out
}
