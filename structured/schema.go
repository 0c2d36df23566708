package structured

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
)

// SchemaType represents JSON Schema types.
type SchemaType string

const (
	TypeString  SchemaType = "string"
	TypeNumber  SchemaType = "number"
	TypeInteger SchemaType = "integer"
	TypeBoolean SchemaType = "boolean"
	TypeNull    SchemaType = "null"
	TypeObject  SchemaType = "object"
	TypeArray   SchemaType = "array"
)

// StringFormat represents common string format constraints.
type StringFormat string

const (
	FormatDateTime StringFormat = "date-time"
	FormatDate     StringFormat = "date"
	FormatTime     StringFormat = "time"
	FormatEmail    StringFormat = "email"
	FormatURI      StringFormat = "uri"
	FormatUUID     StringFormat = "uuid"
	FormatHostname StringFormat = "hostname"
	FormatIPv4     StringFormat = "ipv4"
	FormatIPv6     StringFormat = "ipv6"
)

// JSONSchema is the subset of JSON Schema used to describe a response model.
type JSONSchema struct {
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Type        SchemaType `json:"type,omitempty"`

	// Object
	Properties           map[string]*JSONSchema `json:"properties,omitempty"`
	Required             []string               `json:"required,omitempty"`
	AdditionalProperties *AdditionalProperties  `json:"additionalProperties,omitempty"`
	MinProperties        *int                   `json:"minProperties,omitempty"`
	MaxProperties        *int                   `json:"maxProperties,omitempty"`

	// Array
	Items       *JSONSchema `json:"items,omitempty"`
	MinItems    *int        `json:"minItems,omitempty"`
	MaxItems    *int        `json:"maxItems,omitempty"`
	UniqueItems bool        `json:"uniqueItems,omitempty"`

	Enum  []any `json:"enum,omitempty"`
	Const any   `json:"const,omitempty"`

	// String
	MinLength *int         `json:"minLength,omitempty"`
	MaxLength *int         `json:"maxLength,omitempty"`
	Pattern   string       `json:"pattern,omitempty"`
	Format    StringFormat `json:"format,omitempty"`

	// Number
	Minimum          *float64 `json:"minimum,omitempty"`
	Maximum          *float64 `json:"maximum,omitempty"`
	ExclusiveMinimum *float64 `json:"exclusiveMinimum,omitempty"`
	ExclusiveMaximum *float64 `json:"exclusiveMaximum,omitempty"`
	MultipleOf       *float64 `json:"multipleOf,omitempty"`

	Default  any   `json:"default,omitempty"`
	Examples []any `json:"examples,omitempty"`

	AllOf []*JSONSchema `json:"allOf,omitempty"`
	AnyOf []*JSONSchema `json:"anyOf,omitempty"`
	OneOf []*JSONSchema `json:"oneOf,omitempty"`
	Not   *JSONSchema   `json:"not,omitempty"`
}

// AdditionalProperties is either a boolean or a schema.
type AdditionalProperties struct {
	Allowed bool
	Schema  *JSONSchema
}

// MarshalJSON implements json.Marshaler.
func (ap *AdditionalProperties) MarshalJSON() ([]byte, error) {
	if ap == nil {
		return []byte("null"), nil
	}
	if ap.Schema != nil {
		return json.Marshal(ap.Schema)
	}
	return json.Marshal(ap.Allowed)
}

// UnmarshalJSON implements json.Unmarshaler.
func (ap *AdditionalProperties) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		ap.Allowed, ap.Schema = b, nil
		return nil
	}
	var schema JSONSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return fmt.Errorf("additionalProperties must be boolean or schema: %w", err)
	}
	ap.Allowed, ap.Schema = true, &schema
	return nil
}

// ParseSchema decodes a JSON Schema document.
func ParseSchema(data []byte) (*JSONSchema, error) {
	var s JSONSchema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	return &s, nil
}

func NewObjectSchema() *JSONSchema {
	return &JSONSchema{Type: TypeObject, Properties: make(map[string]*JSONSchema)}
}

func NewArraySchema(items *JSONSchema) *JSONSchema {
	return &JSONSchema{Type: TypeArray, Items: items}
}

func NewStringSchema() *JSONSchema  { return &JSONSchema{Type: TypeString} }
func NewNumberSchema() *JSONSchema  { return &JSONSchema{Type: TypeNumber} }
func NewIntegerSchema() *JSONSchema { return &JSONSchema{Type: TypeInteger} }
func NewBooleanSchema() *JSONSchema { return &JSONSchema{Type: TypeBoolean} }

// NewEnumSchema creates a string enum schema.
func NewEnumSchema(values ...string) *JSONSchema {
	s := &JSONSchema{Type: TypeString, Enum: make([]any, len(values))}
	for i, v := range values {
		s.Enum[i] = v
	}
	return s
}

func (s *JSONSchema) WithDescription(desc string) *JSONSchema {
	s.Description = desc
	return s
}

func (s *JSONSchema) WithDefault(def any) *JSONSchema {
	s.Default = def
	return s
}

// AddProperty adds a property; required marks it in the required list.
func (s *JSONSchema) AddProperty(name string, prop *JSONSchema, required bool) *JSONSchema {
	if s.Properties == nil {
		s.Properties = make(map[string]*JSONSchema)
	}
	s.Properties[name] = prop
	if required && !s.IsRequired(name) {
		s.Required = append(s.Required, name)
	}
	return s
}

func (s *JSONSchema) WithMinLength(n int) *JSONSchema   { s.MinLength = &n; return s }
func (s *JSONSchema) WithMaxLength(n int) *JSONSchema   { s.MaxLength = &n; return s }
func (s *JSONSchema) WithMinimum(v float64) *JSONSchema { s.Minimum = &v; return s }
func (s *JSONSchema) WithMaximum(v float64) *JSONSchema { s.Maximum = &v; return s }
func (s *JSONSchema) WithMinItems(n int) *JSONSchema    { s.MinItems = &n; return s }
func (s *JSONSchema) WithMaxItems(n int) *JSONSchema    { s.MaxItems = &n; return s }

func (s *JSONSchema) WithPattern(pattern string) *JSONSchema {
	s.Pattern = pattern
	return s
}

func (s *JSONSchema) WithFormat(format StringFormat) *JSONSchema {
	s.Format = format
	return s
}

// WithAdditionalProperties toggles whether unknown keys are accepted.
func (s *JSONSchema) WithAdditionalProperties(allowed bool) *JSONSchema {
	s.AdditionalProperties = &AdditionalProperties{Allowed: allowed}
	return s
}

// IsRequired reports whether name is listed in Required.
func (s *JSONSchema) IsRequired(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// IsObject reports whether the schema describes a JSON object.
func (s *JSONSchema) IsObject() bool {
	return s != nil && (s.Type == TypeObject || (s.Type == "" && s.Properties != nil))
}

// PropertyNames returns property names in sorted order.
func (s *JSONSchema) PropertyNames() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy. Enum, Const, Default and Examples hold JSON
// scalars or caller-owned values and are copied shallowly.
func (s *JSONSchema) Clone() *JSONSchema {
	if s == nil {
		return nil
	}
	out := *s
	if s.Properties != nil {
		out.Properties = make(map[string]*JSONSchema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = v.Clone()
		}
	}
	out.Required = append([]string(nil), s.Required...)
	if s.AdditionalProperties != nil {
		out.AdditionalProperties = &AdditionalProperties{
			Allowed: s.AdditionalProperties.Allowed,
			Schema:  s.AdditionalProperties.Schema.Clone(),
		}
	}
	out.Items = s.Items.Clone()
	out.Enum = append([]any(nil), s.Enum...)
	out.Examples = append([]any(nil), s.Examples...)
	out.MinProperties = cloneInt(s.MinProperties)
	out.MaxProperties = cloneInt(s.MaxProperties)
	out.MinItems = cloneInt(s.MinItems)
	out.MaxItems = cloneInt(s.MaxItems)
	out.MinLength = cloneInt(s.MinLength)
	out.MaxLength = cloneInt(s.MaxLength)
	out.Minimum = cloneFloat(s.Minimum)
	out.Maximum = cloneFloat(s.Maximum)
	out.ExclusiveMinimum = cloneFloat(s.ExclusiveMinimum)
	out.ExclusiveMaximum = cloneFloat(s.ExclusiveMaximum)
	out.MultipleOf = cloneFloat(s.MultipleOf)
	out.AllOf = cloneList(s.AllOf)
	out.AnyOf = cloneList(s.AnyOf)
	out.OneOf = cloneList(s.OneOf)
	out.Not = s.Not.Clone()
	return &out
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneList(in []*JSONSchema) []*JSONSchema {
	if in == nil {
		return nil
	}
	out := make([]*JSONSchema, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}

// JSON returns the compact JSON encoding of the schema.
func (s *JSONSchema) JSON() json.RawMessage {
	data, err := json.Marshal(s)
	if err != nil {
		// JSONSchema only holds JSON-representable values
		return json.RawMessage("{}")
	}
	return data
}

// Skeleton returns the placeholder value for s: nested objects for object
// schemas, empty arrays for arrays and nil for everything else.
func Skeleton(s *JSONSchema) any {
	switch {
	case s == nil:
		return nil
	case s.IsObject():
		out := make(map[string]any, len(s.Properties))
		for name, prop := range s.Properties {
			out[name] = Skeleton(prop)
		}
		return out
	case s.Type == TypeArray:
		return []any{}
	default:
		return nil
	}
}

// check walks the schema and reports structural problems such as
// unparseable patterns or required names without a property.
func (s *JSONSchema) check(path string) error {
	if s == nil {
		return nil
	}
	if s.Pattern != "" {
		if _, err := regexp.Compile(s.Pattern); err != nil {
			return fmt.Errorf("%s: invalid pattern %q: %w", displayPath(path), s.Pattern, err)
		}
	}
	if s.Properties != nil {
		for _, r := range s.Required {
			if _, ok := s.Properties[r]; !ok {
				return fmt.Errorf("%s: required property %q is not defined", displayPath(path), r)
			}
		}
	}
	for _, name := range s.PropertyNames() {
		if err := s.Properties[name].check(joinPath(path, name)); err != nil {
			return err
		}
	}
	if err := s.Items.check(path + "[]"); err != nil {
		return err
	}
	for _, group := range [][]*JSONSchema{s.AllOf, s.AnyOf, s.OneOf} {
		for _, sub := range group {
			if err := sub.check(path); err != nil {
				return err
			}
		}
	}
	return nil
}

func displayPath(path string) string {
	if path == "" {
		return "(root)"
	}
	return path
}

func joinPath(base, segment string) string {
	if base == "" {
		return segment
	}
	return base + "." + segment
}

func indexPath(base string, i int) string {
	return fmt.Sprintf("%s[%d]", base, i)
}
