package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Kind is the semantic type of a schema field.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindEnum    Kind = "enum"
	KindArray   Kind = "array"
	KindObject  Kind = "object"
	// KindMap is an open bag of extra attributes: an object with free-form
	// keys whose values must all be scalars.
	KindMap Kind = "map"
)

// Field describes one named argument of a tool.
// A field that is not Required is optional; when absent it takes Default,
// or stays absent if Default is nil.
type Field struct {
	Name        string
	Kind        Kind
	Description string
	Required    bool
	Default     interface{}
	Enum        []string // KindEnum only
	Items       *Field   // KindArray only
	Fields      []Field  // KindObject only
}

// String declares a string field.
func String(name, description string) Field {
	return Field{Name: name, Kind: KindString, Description: description}
}

// Number declares a floating point field.
func Number(name, description string) Field {
	return Field{Name: name, Kind: KindNumber, Description: description}
}

// Integer declares an integral number field.
func Integer(name, description string) Field {
	return Field{Name: name, Kind: KindInteger, Description: description}
}

// Boolean declares a boolean field.
func Boolean(name, description string) Field {
	return Field{Name: name, Kind: KindBoolean, Description: description}
}

// Enum declares a string field restricted to the given literals.
func Enum(name, description string, values ...string) Field {
	return Field{Name: name, Kind: KindEnum, Description: description, Enum: values}
}

// Array declares a list whose elements all conform to items.
// The name of items is ignored.
func Array(name, description string, items Field) Field {
	items.Name = ""
	return Field{Name: name, Kind: KindArray, Description: description, Items: &items}
}

// Object declares a nested object with its own fields.
func Object(name, description string, fields ...Field) Field {
	return Field{Name: name, Kind: KindObject, Description: description, Fields: fields}
}

// Extension declares a flat, scalar-valued map with no fixed keys.
func Extension(name, description string) Field {
	return Field{Name: name, Kind: KindMap, Description: description}
}

// Require marks the field as required.
func (f Field) Require() Field {
	f.Required = true
	return f
}

// WithDefault sets the value used when an optional field is absent.
func (f Field) WithDefault(value interface{}) Field {
	f.Default = value
	return f
}

// Schema is the immutable parameter description of one tool.
type Schema struct {
	Fields []Field
}

// NewSchema builds a schema from its top-level fields.
func NewSchema(fields ...Field) Schema {
	return Schema{Fields: fields}
}

// Check verifies the schema's own invariants: unique names per level,
// no defaults on required fields, well-formed enum/array/object fields,
// and defaults that satisfy their own field.
func (s Schema) Check() error {
	var problems []string
	checkFields(s.Fields, "", &problems)
	if len(problems) > 0 {
		return fmt.Errorf("invalid schema: %s", strings.Join(problems, "; "))
	}
	return nil
}

func checkFields(fields []Field, prefix string, problems *[]string) {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		path := joinPath(prefix, f.Name)
		if f.Name == "" {
			*problems = append(*problems, fmt.Sprintf("%s: field without a name", orRoot(prefix)))
			continue
		}
		if seen[f.Name] {
			*problems = append(*problems, fmt.Sprintf("%s: duplicate field name", path))
		}
		seen[f.Name] = true
		checkField(f, path, problems)
	}
}

func checkField(f Field, path string, problems *[]string) {
	switch f.Kind {
	case KindString, KindNumber, KindInteger, KindBoolean, KindMap:
	case KindEnum:
		if len(f.Enum) == 0 {
			*problems = append(*problems, fmt.Sprintf("%s: enum without values", path))
		}
	case KindArray:
		if f.Items == nil {
			*problems = append(*problems, fmt.Sprintf("%s: array without item type", path))
		} else {
			checkField(*f.Items, path+"[]", problems)
		}
	case KindObject:
		checkFields(f.Fields, path, problems)
	default:
		*problems = append(*problems, fmt.Sprintf("%s: unknown kind %q", path, f.Kind))
	}

	if f.Default == nil {
		return
	}
	if f.Required {
		*problems = append(*problems, fmt.Sprintf("%s: required field cannot have a default", path))
		return
	}
	var violations []Violation
	validateValue(f, f.Default, path, &violations)
	for _, v := range violations {
		*problems = append(*problems, fmt.Sprintf("%s: default %s", v.Path, v.Reason))
	}
}

// Validate checks raw arguments against the schema. It collects every
// violation rather than stopping at the first one. Keys the schema does
// not declare are ignored and dropped from the result. Absent optional
// fields take their default; integers are normalised to int.
func (s Schema) Validate(raw map[string]interface{}) (Arguments, error) {
	if raw == nil {
		raw = map[string]interface{}{}
	}
	out := make(Arguments, len(s.Fields))
	var violations []Violation
	validateFields(s.Fields, raw, "", out, &violations)
	if len(violations) > 0 {
		return nil, &InvalidArgumentsError{Violations: violations}
	}
	return out, nil
}

func validateFields(fields []Field, raw map[string]interface{}, prefix string, out map[string]interface{}, violations *[]Violation) {
	for _, f := range fields {
		path := joinPath(prefix, f.Name)
		value, present := raw[f.Name]
		if !present || value == nil {
			if f.Required {
				*violations = append(*violations, Violation{Path: path, Reason: "is required"})
				continue
			}
			if f.Default != nil {
				out[f.Name] = cloneValue(f.Default)
			}
			continue
		}
		if normalized, ok := validateValue(f, value, path, violations); ok {
			out[f.Name] = normalized
		}
	}
}

func validateValue(f Field, value interface{}, path string, violations *[]Violation) (interface{}, bool) {
	fail := func(format string, args ...interface{}) (interface{}, bool) {
		*violations = append(*violations, Violation{Path: orRoot(path), Reason: fmt.Sprintf(format, args...)})
		return nil, false
	}

	switch f.Kind {
	case KindString:
		s, ok := value.(string)
		if !ok {
			return fail("must be a string, got %s", jsonTypeOf(value))
		}
		return s, true

	case KindNumber:
		n, ok := toFloat64(value)
		if !ok {
			return fail("must be a number, got %s", jsonTypeOf(value))
		}
		return n, true

	case KindInteger:
		if i, ok := value.(int); ok {
			return i, true
		}
		n, ok := toFloat64(value)
		if !ok {
			return fail("must be an integer, got %s", jsonTypeOf(value))
		}
		if math.Trunc(n) != n || math.IsInf(n, 0) {
			return fail("must be an integer, got %v", n)
		}
		if n >= float64(math.MaxInt) || n < float64(math.MinInt) {
			return fail("integer %v is out of range", n)
		}
		return int(n), true

	case KindBoolean:
		b, ok := value.(bool)
		if !ok {
			return fail("must be a boolean, got %s", jsonTypeOf(value))
		}
		return b, true

	case KindEnum:
		s, ok := value.(string)
		if !ok {
			return fail("must be one of [%s], got %s", strings.Join(f.Enum, ", "), jsonTypeOf(value))
		}
		for _, allowed := range f.Enum {
			if s == allowed {
				return s, true
			}
		}
		return fail("must be one of [%s], got %q", strings.Join(f.Enum, ", "), s)

	case KindArray:
		items, ok := toSlice(value)
		if !ok {
			return fail("must be an array, got %s", jsonTypeOf(value))
		}
		before := len(*violations)
		result := make([]interface{}, 0, len(items))
		for i, item := range items {
			itemPath := fmt.Sprintf("%s[%d]", path, i)
			if item == nil {
				*violations = append(*violations, Violation{Path: itemPath, Reason: "must not be null"})
				continue
			}
			if normalized, ok := validateValue(*f.Items, item, itemPath, violations); ok {
				result = append(result, normalized)
			}
		}
		return result, len(*violations) == before

	case KindObject:
		obj, ok := value.(map[string]interface{})
		if !ok {
			return fail("must be an object, got %s", jsonTypeOf(value))
		}
		before := len(*violations)
		nested := make(map[string]interface{}, len(f.Fields))
		validateFields(f.Fields, obj, path, nested, violations)
		return nested, len(*violations) == before

	case KindMap:
		obj, ok := value.(map[string]interface{})
		if !ok {
			return fail("must be an object, got %s", jsonTypeOf(value))
		}
		before := len(*violations)
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		bag := make(map[string]interface{}, len(obj))
		for _, k := range keys {
			v := obj[k]
			if !isScalar(v) {
				*violations = append(*violations, Violation{
					Path:   joinPath(path, k),
					Reason: fmt.Sprintf("must be a string, number, boolean or null, got %s", jsonTypeOf(v)),
				})
				continue
			}
			bag[k] = v
		}
		return bag, len(*violations) == before
	}

	return fail("has unsupported kind %q", f.Kind)
}

// JSONSchema renders the advertised JSON-Schema descriptor.
func (s Schema) JSONSchema() *JSONSchema {
	return objectSchema("", s.Fields)
}

func objectSchema(description string, fields []Field) *JSONSchema {
	js := &JSONSchema{
		Type:        "object",
		Description: description,
		Properties:  make(map[string]*JSONSchema, len(fields)),
	}
	for _, f := range fields {
		js.Properties[f.Name] = fieldSchema(f)
		if f.Required {
			js.Required = append(js.Required, f.Name)
		}
	}
	return js
}

func fieldSchema(f Field) *JSONSchema {
	var js *JSONSchema
	switch f.Kind {
	case KindEnum:
		js = &JSONSchema{Type: "string", Enum: append([]string(nil), f.Enum...)}
	case KindArray:
		js = &JSONSchema{Type: "array", Items: fieldSchema(*f.Items)}
	case KindObject:
		js = objectSchema("", f.Fields)
	case KindMap:
		js = &JSONSchema{
			Type: "object",
			AdditionalProperties: map[string]interface{}{
				"type": []string{"string", "number", "boolean", "null"},
			},
		}
	default:
		js = &JSONSchema{Type: string(f.Kind)}
	}
	js.Description = f.Description
	js.Default = f.Default
	return js
}

// Arguments is the validated, normalised argument set handed to a handler.
type Arguments map[string]interface{}

// Has reports whether the argument is present after defaults were applied.
func (a Arguments) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// String returns a string argument or "".
func (a Arguments) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Int returns an integer argument or 0.
func (a Arguments) Int(name string) int {
	switch v := a[name].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// Float returns a numeric argument or 0.
func (a Arguments) Float(name string) float64 {
	f, _ := toFloat64(a[name])
	return f
}

// Bool returns a boolean argument or false.
func (a Arguments) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

// Strings returns the string elements of an array argument.
func (a Arguments) Strings(name string) []string {
	items, ok := toSlice(a[name])
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Map returns an object or extension argument, or nil.
func (a Arguments) Map(name string) map[string]interface{} {
	m, _ := a[name].(map[string]interface{})
	return m
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func orRoot(path string) string {
	if path == "" {
		return "(root)"
	}
	return path
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

func toSlice(value interface{}) ([]interface{}, bool) {
	switch v := value.(type) {
	case []interface{}:
		return v, true
	case []string:
		out := make([]interface{}, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func isScalar(value interface{}) bool {
	if value == nil {
		return true
	}
	switch value.(type) {
	case string, bool:
		return true
	}
	_, ok := toFloat64(value)
	return ok
}

func jsonTypeOf(value interface{}) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]interface{}:
		return "object"
	case []interface{}, []string:
		return "array"
	}
	if _, ok := toFloat64(value); ok {
		return "number"
	}
	return fmt.Sprintf("%T", value)
}

func cloneValue(value interface{}) interface{} {
	switch v := value.(type) {
	case []interface{}:
		out := make([]interface{}, len(v))
		for i := range v {
			out[i] = cloneValue(v[i])
		}
		return out
	case []string:
		return append([]string(nil), v...)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = cloneValue(item)
		}
		return out
	}
	return value
}
