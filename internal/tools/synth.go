// ABOUTME: Synthesizes callable tool functions from descriptors.
// ABOUTME: A Function exposes its signature and JSON schemas and validates every call against them.

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// ParamSpec is one entry of a synthesized signature.
type ParamSpec struct {
	Name     string    `json:"name"`
	Type     ParamType `json:"type"`
	Required bool      `json:"required"`
	Default  any       `json:"default,omitempty"`
}

// Signature is the ordered formal parameter list of a Function.
type Signature []ParamSpec

// Names returns the parameter names in order.
func (s Signature) Names() []string {
	names := make([]string, len(s))
	for i, p := range s {
		names[i] = p.Name
	}
	return names
}

// Function is a synthesized tool entry point. Every tool shares the same
// generic Call path; the signature and schemas are derived from its descriptor.
type Function struct {
	desc      Descriptor
	signature Signature
	input     *jsonschema.Schema
	output    *jsonschema.Schema
	wrap      bool
	fields    map[string]*jsonschema.Resolved
	returns   *jsonschema.Resolved
}

// Synthesize builds a Function from d.
func Synthesize(d Descriptor) (*Function, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	f := &Function{
		desc:      d,
		signature: make(Signature, len(d.Params)),
		fields:    make(map[string]*jsonschema.Resolved, len(d.Params)),
	}

	input := &jsonschema.Schema{
		Type:          "object",
		Properties:    make(map[string]*jsonschema.Schema, len(d.Params)),
		PropertyOrder: make([]string, 0, len(d.Params)),
	}

	for i, p := range d.Params {
		f.signature[i] = ParamSpec{Name: p.Name, Type: p.Type, Required: p.Required, Default: p.Default}

		prop, err := paramSchema(p)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", d.Name, err)
		}
		input.Properties[p.Name] = prop
		input.PropertyOrder = append(input.PropertyOrder, p.Name)
		if p.Required {
			input.Required = append(input.Required, p.Name)
		}

		// Separate instance so the advertised schema is never shared with a resolved one.
		check, err := paramSchema(p)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", d.Name, err)
		}
		resolved, err := check.Resolve(&jsonschema.ResolveOptions{ValidateDefaults: true})
		if err != nil {
			return nil, fmt.Errorf("tool %q: parameter %q: %w", d.Name, p.Name, err)
		}
		f.fields[p.Name] = resolved
	}
	f.input = input

	if d.Returns != nil {
		resolved, err := d.Returns.CloneSchemas().Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("tool %q: return schema: %w", d.Name, err)
		}
		f.returns = resolved
		if d.Returns.Type == "object" {
			f.output = d.Returns
		} else {
			f.wrap = true
			f.output = &jsonschema.Schema{
				Type:       "object",
				Properties: map[string]*jsonschema.Schema{"result": d.Returns},
				Required:   []string{"result"},
			}
		}
	}

	return f, nil
}

func paramSchema(p Param) (*jsonschema.Schema, error) {
	s := &jsonschema.Schema{
		Type:        string(p.Type),
		Description: p.Description,
	}
	if len(p.Enum) > 0 {
		s.Enum = append([]any(nil), p.Enum...)
	}
	if p.Type == TypeArray && p.Items != "" {
		s.Items = &jsonschema.Schema{Type: string(p.Items)}
	}
	if p.Default != nil {
		raw, err := json.Marshal(p.Default)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: encoding default: %w", p.Name, err)
		}
		s.Default = raw
	}
	return s, nil
}

// Name returns the tool name.
func (f *Function) Name() string { return f.desc.Name }

// Descriptor returns the descriptor the function was synthesized from.
func (f *Function) Descriptor() Descriptor { return f.desc }

// Signature returns the ordered formal parameter list.
func (f *Function) Signature() Signature {
	out := make(Signature, len(f.signature))
	copy(out, f.signature)
	return out
}

// InputSchema returns the object schema advertised for the arguments.
func (f *Function) InputSchema() *jsonschema.Schema { return f.input }

// OutputSchema returns the object schema advertised for results, or nil when
// the tool declares no return schema. Non-object returns are wrapped under
// a "result" property.
func (f *Function) OutputSchema() *jsonschema.Schema { return f.output }

// Structured shapes a call result the way OutputSchema describes it.
func (f *Function) Structured(v any) any {
	if f.wrap {
		return map[string]any{"result": v}
	}
	if _, ok := v.(map[string]any); ok {
		return v
	}
	return nil
}

// String renders the signature, e.g. "add(a: integer, b: integer) -> integer".
func (f *Function) String() string {
	var b strings.Builder
	b.WriteString(f.desc.Name)
	b.WriteByte('(')
	for i, p := range f.signature {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Name)
		b.WriteString(": ")
		b.WriteString(string(p.Type))
		if !p.Required {
			if p.Default != nil {
				fmt.Fprintf(&b, " = %v", p.Default)
			} else {
				b.WriteString("?")
			}
		}
	}
	b.WriteByte(')')
	if f.desc.Returns != nil && f.desc.Returns.Type != "" {
		b.WriteString(" -> ")
		b.WriteString(f.desc.Returns.Type)
	}
	return b.String()
}

// Bind decodes raw JSON arguments, applies defaults, and validates every
// field. All violations are reported together. Keys the tool does not declare
// are dropped. Integers that fit in 64 bits are kept exact as int64.
func (f *Function) Bind(raw json.RawMessage) (Arguments, error) {
	in := map[string]any{}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed != "" && trimmed != "null" {
		decoded, err := decodeArguments(raw)
		if err != nil {
			return nil, &InvalidArgumentsError{Tool: f.desc.Name, Fields: []FieldError{{Field: "arguments", Reason: "malformed JSON"}}}
		}
		obj, ok := decoded.(map[string]any)
		if !ok {
			return nil, &InvalidArgumentsError{Tool: f.desc.Name, Fields: []FieldError{{Field: "arguments", Reason: "must be a JSON object"}}}
		}
		in = obj
	}

	args := make(Arguments, len(f.desc.Params))
	var violations []FieldError
	for _, p := range f.desc.Params {
		v, present := in[p.Name]
		if !present || v == nil {
			if p.Required {
				violations = append(violations, FieldError{Field: p.Name, Reason: "required"})
				continue
			}
			if p.Default != nil {
				args[p.Name] = decodedDefault(p.Default)
			}
			continue
		}

		if got := jsonType(v); !typeAccepts(p.Type, got) {
			violations = append(violations, FieldError{Field: p.Name, Reason: fmt.Sprintf("expected %s, got %s", p.Type, got)})
			continue
		}
		if x, ok := v.(float64); ok && p.Type == TypeInteger {
			// Integral literals such as 1e3 arrive as float64.
			if x < -(1<<63) || x >= 1<<63 {
				violations = append(violations, FieldError{Field: p.Name, Reason: "out of range for a 64-bit integer"})
				continue
			}
			v = int64(x)
		}
		if len(p.Enum) > 0 && !enumContains(p.Enum, v) {
			violations = append(violations, FieldError{Field: p.Name, Reason: "must be one of: " + joinAny(p.Enum)})
			continue
		}
		if err := f.fields[p.Name].Validate(v); err != nil {
			violations = append(violations, FieldError{Field: p.Name, Reason: err.Error()})
			continue
		}
		args[p.Name] = v
	}

	if len(violations) > 0 {
		return nil, &InvalidArgumentsError{Tool: f.desc.Name, Fields: violations}
	}
	return args, nil
}

// decodeArguments decodes one JSON value, keeping integral numbers exact.
func decodeArguments(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after arguments")
	}
	return convertNumbers(v)
}

// convertNumbers replaces json.Number with int64 when the literal is an
// integer that fits, and float64 otherwise.
func convertNumbers(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("number %s: %w", x, err)
		}
		return f, nil
	case []any:
		for i, item := range x {
			c, err := convertNumbers(item)
			if err != nil {
				return nil, err
			}
			x[i] = c
		}
	case map[string]any:
		for k, item := range x {
			c, err := convertNumbers(item)
			if err != nil {
				return nil, err
			}
			x[k] = c
		}
	}
	return v, nil
}

// Call validates raw arguments, runs the handler, and validates its result.
// The returned value is in decoded JSON form.
func (f *Function) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := f.Bind(raw)
	if err != nil {
		return nil, err
	}

	result, err := f.desc.Handler(ctx, args)
	if err != nil {
		var invalid *InvalidArgumentsError
		switch {
		case errors.As(err, &invalid):
			return nil, err
		case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
			return nil, ctx.Err()
		default:
			return nil, &HandlerExecutionError{Tool: f.desc.Name, Err: err}
		}
	}

	normalized, err := normalize(result)
	if err != nil {
		return nil, &HandlerExecutionError{Tool: f.desc.Name, Err: fmt.Errorf("encoding result: %w", err)}
	}
	if f.returns != nil {
		if err := f.returns.Validate(normalized); err != nil {
			return nil, &HandlerExecutionError{Tool: f.desc.Name, Err: fmt.Errorf("%w: %v", ErrInvalidResult, err)}
		}
	}
	return normalized, nil
}

// normalize converts v into the values encoding/json produces when decoding
// into an interface, so schema validation sees JSON types.
func normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, bool, float64, int64:
		return v, nil
	case int:
		return int64(x), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodedDefault(v any) any {
	out, err := normalize(v)
	if err != nil {
		return v
	}
	return out
}

func jsonType(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case int64:
		return "integer"
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			return "integer"
		}
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

func typeAccepts(want ParamType, got string) bool {
	if string(want) == got {
		return true
	}
	return want == TypeNumber && got == "integer"
}

func enumContains(enum []any, v any) bool {
	for _, e := range enum {
		ev, err := normalize(e)
		if err != nil {
			continue
		}
		switch ev.(type) {
		case map[string]any, []any:
			continue
		}
		if ev == v || sameNumber(ev, v) {
			return true
		}
	}
	return false
}

func sameNumber(a, b any) bool {
	ra, ok := ratOf(a)
	if !ok {
		return false
	}
	rb, ok := ratOf(b)
	return ok && ra.Cmp(rb) == 0
}

func ratOf(v any) (*big.Rat, bool) {
	switch x := v.(type) {
	case int64:
		return new(big.Rat).SetInt64(x), true
	case float64:
		if math.IsInf(x, 0) || math.IsNaN(x) {
			return nil, false
		}
		return new(big.Rat).SetFloat64(x), true
	}
	return nil, false
}

func joinAny(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}
