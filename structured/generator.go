package structured

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var timeType = reflect.TypeOf(time.Time{})

// SchemaGenerator derives a JSONSchema from a Go type by reflection.
//
// Field names follow the json tag. A field is required unless it is a
// pointer, carries omitempty, or its jsonschema tag says optional; the
// "required" option forces it. Supported jsonschema tag options:
//
//	required | optional
//	description=text
//	enum=a|b|c
//	minimum=0, maximum=100
//	minLength=1, maxLength=100, pattern=^[a-z]+$, format=email
//	minItems=1, maxItems=10, uniqueItems
//	default=value
//
// Options are comma separated; a comma inside a value is kept when the
// following segment does not look like another option.
type SchemaGenerator struct {
	visiting map[reflect.Type]bool
}

func NewSchemaGenerator() *SchemaGenerator {
	return &SchemaGenerator{visiting: make(map[reflect.Type]bool)}
}

// Generate builds the schema for t.
func (g *SchemaGenerator) Generate(t reflect.Type) (*JSONSchema, error) {
	if t == nil {
		return nil, fmt.Errorf("cannot generate schema for nil type")
	}
	g.visiting = make(map[reflect.Type]bool)
	return g.generate(t)
}

func (g *SchemaGenerator) generate(t reflect.Type) (*JSONSchema, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == timeType {
		return NewStringSchema().WithFormat(FormatDateTime), nil
	}

	switch t.Kind() {
	case reflect.String:
		return NewStringSchema(), nil
	case reflect.Bool:
		return NewBooleanSchema(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return NewIntegerSchema(), nil
	case reflect.Float32, reflect.Float64:
		return NewNumberSchema(), nil
	case reflect.Slice, reflect.Array:
		items, err := g.generate(t.Elem())
		if err != nil {
			return nil, fmt.Errorf("array element: %w", err)
		}
		return NewArraySchema(items), nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, fmt.Errorf("map key must be string, got %s", t.Key())
		}
		values, err := g.generate(t.Elem())
		if err != nil {
			return nil, fmt.Errorf("map value: %w", err)
		}
		s := &JSONSchema{Type: TypeObject}
		s.AdditionalProperties = &AdditionalProperties{Allowed: true, Schema: values}
		return s, nil
	case reflect.Struct:
		return g.structSchema(t)
	case reflect.Interface:
		return &JSONSchema{}, nil
	default:
		return nil, fmt.Errorf("unsupported type: %s", t.Kind())
	}
}

func (g *SchemaGenerator) structSchema(t reflect.Type) (*JSONSchema, error) {
	if g.visiting[t] {
		// recursive reference; the cycle is cut with an open object
		return &JSONSchema{Type: TypeObject}, nil
	}
	g.visiting[t] = true
	defer delete(g.visiting, t)

	s := NewObjectSchema()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, omitempty := jsonName(field)
		if name == "-" {
			continue
		}

		prop, err := g.generate(field.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}
		opts := parseTagOptions(field.Tag.Get("jsonschema"))
		if err := applyOptions(prop, opts, field.Type); err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}

		_, forced := opts["required"]
		_, optional := opts["optional"]
		required := forced || (!optional && !omitempty && field.Type.Kind() != reflect.Pointer)
		s.AddProperty(name, prop, required)
	}
	return s, nil
}

func jsonName(field reflect.StructField) (name string, omitempty bool) {
	tag := field.Tag.Get("json")
	if tag == "" {
		return field.Name, false
	}
	parts := strings.Split(tag, ",")
	name = parts[0]
	if name == "" {
		name = field.Name
	}
	for _, p := range parts[1:] {
		if p == "omitempty" || p == "omitzero" {
			omitempty = true
		}
	}
	return name, omitempty
}

func applyOptions(s *JSONSchema, opts map[string]string, t reflect.Type) error {
	for key, val := range opts {
		var err error
		switch key {
		case "required", "optional":
		case "description":
			s.Description = val
		case "default":
			s.Default = parseDefault(val, t)
		case "enum":
			values := strings.Split(val, "|")
			s.Enum = make([]any, len(values))
			for i, v := range values {
				s.Enum[i] = strings.TrimSpace(v)
			}
		case "pattern":
			s.Pattern = val
		case "format":
			s.Format = StringFormat(val)
		case "uniqueItems":
			s.UniqueItems = true
		case "minLength":
			s.MinLength, err = atoiPtr(val)
		case "maxLength":
			s.MaxLength, err = atoiPtr(val)
		case "minItems":
			s.MinItems, err = atoiPtr(val)
		case "maxItems":
			s.MaxItems, err = atoiPtr(val)
		case "minimum":
			s.Minimum, err = atofPtr(val)
		case "maximum":
			s.Maximum, err = atofPtr(val)
		default:
			return fmt.Errorf("unknown jsonschema option %q", key)
		}
		if err != nil {
			return fmt.Errorf("option %s: %w", key, err)
		}
	}
	return nil
}

func atoiPtr(s string) (*int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func atofPtr(s string) (*float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseDefault(value string, t reflect.Type) any {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Bool:
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if v, err := strconv.ParseInt(value, 10, 64); err == nil {
			return v
		}
	case reflect.Float32, reflect.Float64:
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return value
}

// parseTagOptions turns `required,description=a, b,maxItems=3` into a map.
func parseTagOptions(tag string) map[string]string {
	opts := make(map[string]string)
	var segments []string
	for _, seg := range strings.Split(tag, ",") {
		if len(segments) > 0 && !looksLikeOption(seg) {
			segments[len(segments)-1] += "," + seg
			continue
		}
		segments = append(segments, seg)
	}
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		if k, v, ok := strings.Cut(seg, "="); ok {
			opts[strings.TrimSpace(k)] = v
		} else {
			opts[seg] = ""
		}
	}
	return opts
}

func looksLikeOption(seg string) bool {
	seg = strings.TrimSpace(seg)
	switch seg {
	case "required", "optional", "uniqueItems":
		return true
	}
	key, _, ok := strings.Cut(seg, "=")
	if !ok || key == "" {
		return false
	}
	for _, c := range key {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}
