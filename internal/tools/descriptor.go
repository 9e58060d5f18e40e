// ABOUTME: Declarative tool metadata: parameters, return schema, handler reference.
// ABOUTME: Arguments gives handlers typed access to validated call arguments.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// ParamType is the JSON type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// Valid reports whether t is one of the supported parameter types.
func (t ParamType) Valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeArray, TypeObject:
		return true
	}
	return false
}

// Param describes one formal parameter of a tool.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	// Default is applied when an optional argument is absent.
	Default any
	// Enum restricts the accepted values.
	Enum []any
	// Items is the element type when Type is TypeArray.
	Items ParamType
}

// Handler is the domain logic bound to a tool.
type Handler func(ctx context.Context, args Arguments) (any, error)

// Annotations are behavioral hints advertised in the catalog.
type Annotations struct {
	ReadOnly    bool `json:"readOnlyHint,omitempty"`
	Idempotent  bool `json:"idempotentHint,omitempty"`
	Destructive bool `json:"destructiveHint,omitempty"`
	OpenWorld   bool `json:"openWorldHint,omitempty"`
}

// Descriptor is the declarative definition of a tool.
type Descriptor struct {
	Name        string
	Title       string
	Description string
	Params      []Param
	// Returns validates handler results. Nil accepts any value.
	Returns *jsonschema.Schema
	Handler Handler
	// Timeout overrides the dispatcher's default execution budget.
	Timeout     time.Duration
	Annotations Annotations
	// Source names the origin of the tool, e.g. "builtin" or an upstream service.
	Source string
}

// Validate checks the descriptor is internally consistent.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return errors.New("tool name is required")
	}
	if d.Handler == nil {
		return fmt.Errorf("tool %q: handler is required", d.Name)
	}
	seen := make(map[string]bool, len(d.Params))
	for _, p := range d.Params {
		if p.Name == "" {
			return fmt.Errorf("tool %q: parameter name is required", d.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("tool %q: duplicate parameter %q", d.Name, p.Name)
		}
		seen[p.Name] = true
		if !p.Type.Valid() {
			return fmt.Errorf("tool %q: parameter %q has unsupported type %q", d.Name, p.Name, p.Type)
		}
		if p.Items != "" && !p.Items.Valid() {
			return fmt.Errorf("tool %q: parameter %q has unsupported item type %q", d.Name, p.Name, p.Items)
		}
		if p.Required && p.Default != nil {
			return fmt.Errorf("tool %q: required parameter %q cannot have a default", d.Name, p.Name)
		}
	}
	return nil
}

// Arguments holds validated call arguments keyed by parameter name.
// Values are in their decoded JSON form.
type Arguments map[string]any

// Has reports whether the argument is present.
func (a Arguments) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// String returns a string argument.
func (a Arguments) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Int returns an integer argument.
func (a Arguments) Int(name string) int64 {
	switch v := a[name].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

// Float returns a numeric argument.
func (a Arguments) Float(name string) float64 {
	f, _ := asFloat(a[name])
	return f
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

// Bool returns a boolean argument.
func (a Arguments) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

// Floats returns an array argument as numbers, skipping non-numeric items.
func (a Arguments) Floats(name string) []float64 {
	items, _ := a[name].([]any)
	out := make([]float64, 0, len(items))
	for _, item := range items {
		if f, ok := asFloat(item); ok {
			out = append(out, f)
		}
	}
	return out
}

// Slice returns an array argument.
func (a Arguments) Slice(name string) []any {
	items, _ := a[name].([]any)
	return items
}

// Object returns an object argument.
func (a Arguments) Object(name string) map[string]any {
	m, _ := a[name].(map[string]any)
	return m
}
