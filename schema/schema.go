// Package schema provides runtime-checked value schemas for workflow
// inputs, outputs, and suspend/resume payloads. It is deliberately
// independent of any particular validation library: a Schema is anything
// that can classify its kind and validate a value, and validation
// failures are reported as structured Issues usable as an error cause.
//
// The engine treats values as JSON-like data (nil, bool, string, numbers,
// []any, map[string]any). Typed Go slices and maps are accepted via
// reflection where they fit.
package schema

import (
	"fmt"
	"reflect"
	"strings"
)

// Kind classifies a schema.
type Kind uint8

// Schema kinds.
const (
	KindAny Kind = iota
	KindString
	KindNumber
	KindBool
	KindObject
	KindArray
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindAny:
		return "any"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Issue is a single validation problem at a path within the value.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Issues is the structured validation failure returned by Validate.
// It implements error so it can be carried as a cause.
type Issues struct {
	List []Issue
}

func (e *Issues) Error() string {
	if len(e.List) == 0 {
		return "schema: validation failed"
	}
	parts := make([]string, len(e.List))
	for i, iss := range e.List {
		if iss.Path == "" {
			parts[i] = iss.Message
		} else {
			parts[i] = iss.Path + ": " + iss.Message
		}
	}
	return "schema: " + strings.Join(parts, "; ")
}

func (e *Issues) add(path, format string, args ...any) {
	e.List = append(e.List, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
}

// Schema validates values and reports its kind. Validate returns nil on
// success or an *Issues describing every mismatch found.
type Schema interface {
	Kind() Kind
	Validate(value any) error
}

// ──────────────────────────────────────────────────
// Constructors
// ──────────────────────────────────────────────────

type anySchema struct{}

func (anySchema) Kind() Kind         { return KindAny }
func (anySchema) Validate(any) error { return nil }

// Any matches every value, including nil.
func Any() Schema { return anySchema{} }

type primitiveSchema struct {
	kind Kind
}

func (s primitiveSchema) Kind() Kind { return s.kind }

func (s primitiveSchema) Validate(value any) error {
	iss := &Issues{}
	s.validateAt("", value, iss)
	if len(iss.List) > 0 {
		return iss
	}
	return nil
}

func (s primitiveSchema) validateAt(path string, value any, iss *Issues) {
	switch s.kind {
	case KindString:
		if _, ok := value.(string); !ok {
			iss.add(path, "expected string, got %s", typeName(value))
		}
	case KindBool:
		if _, ok := value.(bool); !ok {
			iss.add(path, "expected bool, got %s", typeName(value))
		}
	case KindNumber:
		if !isNumber(value) {
			iss.add(path, "expected number, got %s", typeName(value))
		}
	}
}

// String matches string values.
func String() Schema { return primitiveSchema{kind: KindString} }

// Number matches any integer or floating point value.
func Number() Schema { return primitiveSchema{kind: KindNumber} }

// Bool matches boolean values.
func Bool() Schema { return primitiveSchema{kind: KindBool} }

// ObjectSchema matches map[string]any values with declared fields.
// Fields not listed as required may be absent; unknown keys are allowed.
type ObjectSchema struct {
	fields   map[string]Schema
	required map[string]bool
}

// Object builds an object schema from field schemas and required field names.
func Object(fields map[string]Schema, required ...string) *ObjectSchema {
	req := make(map[string]bool, len(required))
	for _, name := range required {
		req[name] = true
	}
	return &ObjectSchema{fields: fields, required: req}
}

// Kind implements Schema.
func (s *ObjectSchema) Kind() Kind { return KindObject }

// Fields returns the declared field schemas.
func (s *ObjectSchema) Fields() map[string]Schema { return s.fields }

// Required reports whether the named field is required.
func (s *ObjectSchema) Required(name string) bool { return s.required[name] }

// RequiredFields returns the names of all required fields.
func (s *ObjectSchema) RequiredFields() []string {
	names := make([]string, 0, len(s.required))
	for name := range s.required {
		names = append(names, name)
	}
	return names
}

// Validate implements Schema.
func (s *ObjectSchema) Validate(value any) error {
	iss := &Issues{}
	s.validateAt("", value, iss)
	if len(iss.List) > 0 {
		return iss
	}
	return nil
}

func (s *ObjectSchema) validateAt(path string, value any, iss *Issues) {
	obj, ok := asObject(value)
	if !ok {
		iss.add(path, "expected object, got %s", typeName(value))
		return
	}
	for name, fs := range s.fields {
		fieldPath := joinPath(path, name)
		v, present := obj[name]
		if !present {
			if s.required[name] {
				iss.add(fieldPath, "required field missing")
			}
			continue
		}
		validateAt(fs, fieldPath, v, iss)
	}
}

type arraySchema struct {
	elem Schema
}

func (s arraySchema) Kind() Kind { return KindArray }

func (s arraySchema) Validate(value any) error {
	iss := &Issues{}
	s.validateAt("", value, iss)
	if len(iss.List) > 0 {
		return iss
	}
	return nil
}

func (s arraySchema) validateAt(path string, value any, iss *Issues) {
	items, ok := asArray(value)
	if !ok {
		iss.add(path, "expected array, got %s", typeName(value))
		return
	}
	if s.elem == nil {
		return
	}
	for i, item := range items {
		validateAt(s.elem, fmt.Sprintf("%s[%d]", path, i), item, iss)
	}
}

// Array matches slice values whose elements satisfy elem.
// A nil elem matches any element.
func Array(elem Schema) Schema { return arraySchema{elem: elem} }

type mapSchema struct {
	value Schema
}

func (s mapSchema) Kind() Kind { return KindMap }

func (s mapSchema) Validate(value any) error {
	iss := &Issues{}
	obj, ok := asObject(value)
	if !ok {
		iss.add("", "expected map, got %s", typeName(value))
		return iss
	}
	if s.value != nil {
		for key, v := range obj {
			validateAt(s.value, joinPath("", key), v, iss)
		}
	}
	if len(iss.List) > 0 {
		return iss
	}
	return nil
}

// Map matches string-keyed maps with arbitrary keys whose values satisfy
// the given schema. A nil value schema matches any value.
func Map(value Schema) Schema { return mapSchema{value: value} }

// ──────────────────────────────────────────────────
// Static compatibility
// ──────────────────────────────────────────────────

// Accepts reports whether every value produced under the producer schema
// is acceptable to the consumer schema: subset-compatible, not
// necessarily identical. A nil or Any schema on either side accepts
// everything; for objects, every field the consumer requires must be
// declared by the producer with a compatible kind.
func Accepts(producer, consumer Schema) bool {
	if consumer == nil || consumer.Kind() == KindAny {
		return true
	}
	if producer == nil || producer.Kind() == KindAny {
		// Producer declares nothing; defer to runtime validation.
		return true
	}
	if producer.Kind() != consumer.Kind() {
		return false
	}
	pObj, pOK := producer.(*ObjectSchema)
	cObj, cOK := consumer.(*ObjectSchema)
	if !pOK || !cOK {
		return true
	}
	for name, cf := range cObj.fields {
		if !cObj.required[name] {
			continue
		}
		pf, declared := pObj.fields[name]
		if !declared {
			return false
		}
		if !Accepts(pf, cf) {
			return false
		}
	}
	return true
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// validateAt dispatches to kind-aware validation, reusing child paths for
// schemas implemented in this package and falling back to the public
// Validate for external implementations.
func validateAt(s Schema, path string, value any, iss *Issues) {
	switch typed := s.(type) {
	case anySchema:
	case primitiveSchema:
		typed.validateAt(path, value, iss)
	case *ObjectSchema:
		typed.validateAt(path, value, iss)
	case arraySchema:
		typed.validateAt(path, value, iss)
	default:
		if err := s.Validate(value); err != nil {
			if nested, ok := err.(*Issues); ok {
				for _, issue := range nested.List {
					iss.add(joinPath(path, issue.Path), "%s", issue.Message)
				}
				return
			}
			iss.add(path, "%v", err)
		}
	}
}

func joinPath(base, field string) string {
	if base == "" {
		return field
	}
	if field == "" {
		return base
	}
	return base + "." + field
}

func isNumber(value any) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}

func asObject(value any) (map[string]any, bool) {
	if m, ok := value.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		out := make(map[string]any, rv.Len())
		for _, key := range rv.MapKeys() {
			out[key.String()] = rv.MapIndex(key).Interface()
		}
		return out, true
	}
	return nil, false
}

func asArray(value any) ([]any, bool) {
	if s, ok := value.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	}
	return nil, false
}

func typeName(value any) string {
	if value == nil {
		return "nil"
	}
	return reflect.TypeOf(value).String()
}
