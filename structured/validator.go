package structured

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// SchemaValidator validates JSON data against a JSONSchema.
// A failing validation returns *ValidationErrors.
type SchemaValidator interface {
	Validate(data []byte, schema *JSONSchema) error
}

// ParseError is one validation issue located at a field path
// such as "user.tags[2]". The root path is empty.
type ParseError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors collects every issue found in one validation pass.
type ValidationErrors struct {
	Errors []ParseError `json:"errors"`
}

func (e *ValidationErrors) Error() string {
	switch len(e.Errors) {
	case 0:
		return "validation failed"
	case 1:
		return e.Errors[0].Error()
	}
	msgs := make([]string, len(e.Errors))
	for i := range e.Errors {
		msgs[i] = e.Errors[i].Error()
	}
	return fmt.Sprintf("validation failed with %d errors: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// DefaultValidator is the built-in SchemaValidator.
type DefaultValidator struct {
	mu       sync.RWMutex
	formats  map[StringFormat]func(string) bool
	patterns sync.Map // pattern string -> *regexp.Regexp
}

var (
	emailRe    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	uuidRe     = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	hostnameRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
)

// NewValidator creates a DefaultValidator with the built-in formats.
func NewValidator() *DefaultValidator {
	return &DefaultValidator{
		formats: map[StringFormat]func(string) bool{
			FormatEmail: emailRe.MatchString,
			FormatUUID:  uuidRe.MatchString,
			FormatURI: func(s string) bool {
				u, err := url.Parse(s)
				return err == nil && u.Scheme != ""
			},
			FormatDateTime: func(s string) bool {
				_, err := time.Parse(time.RFC3339, s)
				return err == nil
			},
			FormatDate: func(s string) bool {
				_, err := time.Parse(time.DateOnly, s)
				return err == nil
			},
			FormatTime: func(s string) bool {
				_, err := time.Parse(time.TimeOnly, s)
				return err == nil
			},
			FormatIPv4: func(s string) bool {
				ip := net.ParseIP(s)
				return ip != nil && ip.To4() != nil && strings.Contains(s, ".")
			},
			FormatIPv6: func(s string) bool {
				ip := net.ParseIP(s)
				return ip != nil && strings.Contains(s, ":")
			},
			FormatHostname: func(s string) bool {
				return len(s) <= 253 && hostnameRe.MatchString(s)
			},
		},
	}
}

// RegisterFormat registers or replaces a format checker.
func (v *DefaultValidator) RegisterFormat(format StringFormat, check func(string) bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.formats[format] = check
}

// Validate parses data and checks it against schema.
func (v *DefaultValidator) Validate(data []byte, schema *JSONSchema) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return &ValidationErrors{Errors: []ParseError{{Message: fmt.Sprintf("invalid JSON: %v", err)}}}
	}
	if dec.More() {
		return &ValidationErrors{Errors: []ParseError{{Message: "invalid JSON: trailing data after value"}}}
	}
	if issues := v.ValidateValue(value, schema); len(issues) > 0 {
		return &ValidationErrors{Errors: issues}
	}
	return nil
}

// ValidateValue checks an already decoded JSON value.
func (v *DefaultValidator) ValidateValue(value any, schema *JSONSchema) []ParseError {
	w := &walk{v: v}
	w.value(value, schema, "")
	return w.issues
}

// walk accumulates issues for one validation pass.
type walk struct {
	v      *DefaultValidator
	issues []ParseError
}

func (w *walk) fail(path, format string, args ...any) {
	w.issues = append(w.issues, ParseError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (w *walk) value(value any, s *JSONSchema, path string) {
	if s == nil {
		return
	}
	if s.Const != nil && !equalJSON(value, s.Const) {
		w.fail(path, "value must be %v", s.Const)
		return
	}
	if len(s.Enum) > 0 && !w.inEnum(value, s.Enum) {
		w.fail(path, "value must be one of %v", s.Enum)
		return
	}
	switch s.Type {
	case TypeString:
		w.str(value, s, path)
	case TypeNumber, TypeInteger:
		w.number(value, s, path)
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			w.fail(path, "expected boolean, got %s", kindOf(value))
		}
	case TypeNull:
		if value != nil {
			w.fail(path, "expected null, got %s", kindOf(value))
		}
	case TypeObject:
		w.object(value, s, path)
	case TypeArray:
		w.array(value, s, path)
	case "":
		if s.Properties != nil {
			if _, ok := value.(map[string]any); ok {
				w.object(value, s, path)
			}
		}
	}
	w.composition(value, s, path)
}

func (w *walk) inEnum(value any, enum []any) bool {
	for _, e := range enum {
		if equalJSON(value, e) {
			return true
		}
	}
	return false
}

func (w *walk) str(value any, s *JSONSchema, path string) {
	str, ok := value.(string)
	if !ok {
		w.fail(path, "expected string, got %s", kindOf(value))
		return
	}
	n := utf8.RuneCountInString(str)
	if s.MinLength != nil && n < *s.MinLength {
		w.fail(path, "string length %d is less than minimum %d", n, *s.MinLength)
	}
	if s.MaxLength != nil && n > *s.MaxLength {
		w.fail(path, "string length %d exceeds maximum %d", n, *s.MaxLength)
	}
	if s.Pattern != "" {
		re, err := w.v.pattern(s.Pattern)
		switch {
		case err != nil:
			w.fail(path, "invalid pattern %q: %v", s.Pattern, err)
		case !re.MatchString(str):
			w.fail(path, "string does not match pattern %q", s.Pattern)
		}
	}
	if s.Format != "" {
		w.v.mu.RLock()
		check, ok := w.v.formats[s.Format]
		w.v.mu.RUnlock()
		if ok && !check(str) {
			w.fail(path, "string does not match format %q", s.Format)
		}
	}
}

func (w *walk) number(value any, s *JSONSchema, path string) {
	num, ok := toFloat(value)
	if !ok {
		w.fail(path, "expected %s, got %s", s.Type, kindOf(value))
		return
	}
	if s.Type == TypeInteger && num != math.Trunc(num) {
		w.fail(path, "expected integer, got %v", num)
		return
	}
	if s.Minimum != nil && num < *s.Minimum {
		w.fail(path, "value %v is less than minimum %v", num, *s.Minimum)
	}
	if s.Maximum != nil && num > *s.Maximum {
		w.fail(path, "value %v exceeds maximum %v", num, *s.Maximum)
	}
	if s.ExclusiveMinimum != nil && num <= *s.ExclusiveMinimum {
		w.fail(path, "value %v must be greater than %v", num, *s.ExclusiveMinimum)
	}
	if s.ExclusiveMaximum != nil && num >= *s.ExclusiveMaximum {
		w.fail(path, "value %v must be less than %v", num, *s.ExclusiveMaximum)
	}
	if s.MultipleOf != nil && *s.MultipleOf != 0 {
		q := num / *s.MultipleOf
		if math.Abs(q-math.Round(q)) > 1e-9 {
			w.fail(path, "value %v is not a multiple of %v", num, *s.MultipleOf)
		}
	}
}

func (w *walk) object(value any, s *JSONSchema, path string) {
	obj, ok := value.(map[string]any)
	if !ok {
		w.fail(path, "expected object, got %s", kindOf(value))
		return
	}
	for _, name := range s.Required {
		val, exists := obj[name]
		switch {
		case !exists:
			w.fail(joinPath(path, name), "required field is missing")
		case val == nil && !allowsNull(s.Properties[name]):
			w.fail(joinPath(path, name), "required field must not be null")
		}
	}
	if s.MinProperties != nil && len(obj) < *s.MinProperties {
		w.fail(path, "object has %d properties, minimum is %d", len(obj), *s.MinProperties)
	}
	if s.MaxProperties != nil && len(obj) > *s.MaxProperties {
		w.fail(path, "object has %d properties, maximum is %d", len(obj), *s.MaxProperties)
	}
	for _, name := range sortedKeys(obj) {
		propPath := joinPath(path, name)
		if prop, ok := s.Properties[name]; ok {
			// optional nulls are accepted, required nulls were reported above
			if obj[name] == nil && !allowsNull(prop) {
				continue
			}
			w.value(obj[name], prop, propPath)
			continue
		}
		if ap := s.AdditionalProperties; ap != nil {
			if ap.Schema != nil {
				w.value(obj[name], ap.Schema, propPath)
			} else if !ap.Allowed {
				w.fail(propPath, "additional property not allowed")
			}
		}
	}
}

func (w *walk) array(value any, s *JSONSchema, path string) {
	arr, ok := value.([]any)
	if !ok {
		w.fail(path, "expected array, got %s", kindOf(value))
		return
	}
	if s.MinItems != nil && len(arr) < *s.MinItems {
		w.fail(path, "array has %d items, minimum is %d", len(arr), *s.MinItems)
	}
	if s.MaxItems != nil && len(arr) > *s.MaxItems {
		w.fail(path, "array has %d items, maximum is %d", len(arr), *s.MaxItems)
	}
	if s.UniqueItems {
		seen := make(map[string]struct{}, len(arr))
		for i, item := range arr {
			key := canonical(item)
			if _, dup := seen[key]; dup {
				w.fail(indexPath(path, i), "duplicate item in array with uniqueItems constraint")
			}
			seen[key] = struct{}{}
		}
	}
	if s.Items != nil {
		for i, item := range arr {
			w.value(item, s.Items, indexPath(path, i))
		}
	}
}

func (w *walk) composition(value any, s *JSONSchema, path string) {
	for _, sub := range s.AllOf {
		w.value(value, sub, path)
	}
	if len(s.AnyOf) > 0 {
		matched := false
		for _, sub := range s.AnyOf {
			if len(w.v.ValidateValue(value, sub)) == 0 {
				matched = true
				break
			}
		}
		if !matched {
			w.fail(path, "value does not match any allowed schema")
		}
	}
	if len(s.OneOf) > 0 {
		count := 0
		for _, sub := range s.OneOf {
			if len(w.v.ValidateValue(value, sub)) == 0 {
				count++
			}
		}
		if count != 1 {
			w.fail(path, "value must match exactly one schema, matched %d", count)
		}
	}
	if s.Not != nil && len(w.v.ValidateValue(value, s.Not)) == 0 {
		w.fail(path, "value must not match the excluded schema")
	}
}

func (v *DefaultValidator) pattern(p string) (*regexp.Regexp, error) {
	if re, ok := v.patterns.Load(p); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	v.patterns.Store(p, re)
	return re, nil
}

func allowsNull(s *JSONSchema) bool {
	if s == nil {
		return true
	}
	if s.Type == TypeNull {
		return true
	}
	for _, sub := range s.AnyOf {
		if sub != nil && sub.Type == TypeNull {
			return true
		}
	}
	return false
}

func toFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func kindOf(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int64, json.Number:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func equalJSON(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	return canonical(a) == canonical(b)
}

// canonical renders a value as JSON with sorted keys, so equal values compare equal.
func canonical(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(data)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
