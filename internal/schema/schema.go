// Package schema declares document shapes and validates values against them.
package schema

import (
	"context"
	"reflect"
	"sort"
	"time"

	"firestorm/internal/types"
)

// FieldType is the declared primitive type of a field.
type FieldType string

const (
	String  FieldType = "string"
	Number  FieldType = "number"
	Boolean FieldType = "boolean"
	Array   FieldType = "array"
	Date    FieldType = "date"
	Object  FieldType = "object"
)

// Validator is a custom per-field check. A non-nil error fails validation.
type Validator func(key string, value any) error

type Field struct {
	Type     FieldType
	Required bool
	Validate Validator
}

// Of declares an optional field of type t.
func Of(t FieldType) Field {
	return Field{Type: t}
}

// Required declares a required field of type t.
func Required(t FieldType) Field {
	return Field{Type: t, Required: true}
}

// StaticFunc is a schema-level behaviour, called with the store handle.
type StaticFunc func(ctx context.Context, w Writer, args ...any) (any, error)

// MethodFunc is a record-level behaviour.
type MethodFunc func(ctx context.Context, r *Record, args ...any) (any, error)

type Schema struct {
	Name       string
	Collection string
	Fields     map[string]Field

	statics map[string]StaticFunc
	methods map[string]MethodFunc
}

func New(name, collection string, fields map[string]Field) *Schema {
	if fields == nil {
		fields = map[string]Field{}
	}
	return &Schema{
		Name:       name,
		Collection: collection,
		Fields:     fields,
		statics:    make(map[string]StaticFunc),
		methods:    make(map[string]MethodFunc),
	}
}

var reservedKeys = map[string]struct{}{
	types.KeyID:      {},
	types.KeyCreated: {},
	types.KeyUpdated: {},
	types.KeyOwnerID: {},
}

// IsKey reports whether key may appear on a record: a declared field or a reserved key.
func (s *Schema) IsKey(key string) bool {
	if _, ok := s.Fields[key]; ok {
		return true
	}
	_, ok := reservedKeys[key]
	return ok
}

// Keys returns the declared field names in sorted order.
func (s *Schema) Keys() []string {
	keys := make([]string, 0, len(s.Fields))
	for k := range s.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Schema) Static(name string, fn StaticFunc) *Schema {
	s.statics[name] = fn
	return s
}

func (s *Schema) Method(name string, fn MethodFunc) *Schema {
	s.methods[name] = fn
	return s
}

// CallStatic runs the named static behaviour.
func (s *Schema) CallStatic(ctx context.Context, w Writer, name string, args ...any) (any, error) {
	fn, ok := s.statics[name]
	if !ok {
		return nil, types.Err(types.ErrConfiguration, nil, "%s has no static %q", s.Name, name)
	}
	return fn(ctx, w, args...)
}

func (s *Schema) fail(format string, args ...any) error {
	return types.Err(types.ErrValidation, nil, "ValidationFailed(%s): "+format, append([]any{s.Name}, args...)...)
}

// Validate checks one value against the declared field for key. Reserved keys always
// pass. An absent value fails only when the field is required.
func (s *Schema) Validate(key string, value any) error {
	field, ok := s.Fields[key]
	if !ok {
		if _, reserved := reservedKeys[key]; reserved {
			return nil
		}
		return s.fail("%s is not part of the schema.", key)
	}

	if isNil(value) {
		if field.Required {
			return s.fail("%s is required", key)
		}
		return nil
	}
	if field.Validate != nil {
		if err := field.Validate(key, value); err != nil {
			return types.Err(types.ErrValidation, err, "ValidationFailed(%s): %s", s.Name, key)
		}
	}

	switch field.Type {
	case String:
		if _, ok := value.(string); !ok {
			return s.fail("%s is not a string, value: %v", key, value)
		}
	case Number:
		if !isNumber(value) {
			return s.fail("%s is not a number, value: %v", key, value)
		}
	case Boolean:
		if _, ok := value.(bool); !ok {
			return s.fail("%s is not a boolean, value: %v", key, value)
		}
	case Array:
		if !isArray(value) {
			return s.fail("%s is not an array, value: %v", key, value)
		}
	case Date:
		if !isDate(value) {
			return s.fail("%s is not a date, value: %v", key, value)
		}
	case Object:
		switch {
		case isDate(value):
			return s.fail("%s is a date, not an object: %v", key, value)
		case isArray(value):
			return s.fail("%s is an array, not an object: %v", key, value)
		case !isObject(value):
			return s.fail("%s is not an object, value: %v", key, value)
		}
	default:
		return s.fail("unknown value type %s", field.Type)
	}
	return nil
}

// ValidateDocument checks every declared field and rejects undeclared keys.
func (s *Schema) ValidateDocument(doc types.Document) error {
	for key := range doc {
		if !s.IsKey(key) {
			return s.fail("%s is not part of the schema.", key)
		}
	}
	for _, key := range s.Keys() {
		if err := s.Validate(key, doc[key]); err != nil {
			return err
		}
	}
	return nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func isNumber(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func isArray(v any) bool {
	k := reflect.ValueOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func isDate(v any) bool {
	switch v.(type) {
	case time.Time, *time.Time:
		return true
	}
	return false
}

func isObject(v any) bool {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	return rv.Kind() == reflect.Map || rv.Kind() == reflect.Struct
}
