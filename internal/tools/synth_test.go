// ABOUTME: Tests for descriptor synthesis: signatures, schemas, argument binding and result checks.
// ABOUTME: Covers required/optional params, defaults, type mismatches, enums and return validation.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addDescriptor() Descriptor {
	return Descriptor{
		Name:        "add",
		Description: "Add two integers",
		Params: []Param{
			{Name: "a", Type: TypeInteger, Required: true},
			{Name: "b", Type: TypeInteger, Required: true},
		},
		Returns: &jsonschema.Schema{Type: "integer"},
		Handler: func(_ context.Context, args Arguments) (any, error) {
			return args.Int("a") + args.Int("b"), nil
		},
	}
}

func formatDescriptor() Descriptor {
	return Descriptor{
		Name: "format",
		Params: []Param{
			{Name: "text", Type: TypeString, Required: true},
			{Name: "style", Type: TypeString, Default: "title", Enum: []any{"title", "upper"}},
			{Name: "repeat", Type: TypeInteger},
		},
		Returns: &jsonschema.Schema{Type: "string"},
		Handler: func(_ context.Context, args Arguments) (any, error) {
			return args.String("style") + ":" + args.String("text"), nil
		},
	}
}

func TestSynthesizeSignatureMatchesDescriptor(t *testing.T) {
	descs := []Descriptor{addDescriptor(), formatDescriptor()}
	for _, d := range descs {
		t.Run(d.Name, func(t *testing.T) {
			fn, err := Synthesize(d)
			require.NoError(t, err)

			sig := fn.Signature()
			require.Len(t, sig, len(d.Params))
			for i, p := range d.Params {
				assert.Equal(t, p.Name, sig[i].Name)
				assert.Equal(t, p.Type, sig[i].Type)
				assert.Equal(t, p.Required, sig[i].Required)
				assert.Equal(t, p.Default, sig[i].Default)
			}

			schema := fn.InputSchema()
			assert.Equal(t, "object", schema.Type)
			assert.Equal(t, sig.Names(), schema.PropertyOrder)
			for _, p := range d.Params {
				prop, ok := schema.Properties[p.Name]
				require.True(t, ok, "missing property %s", p.Name)
				assert.Equal(t, string(p.Type), prop.Type)
			}
		})
	}
}

func TestInputSchemaRendersInSignatureOrder(t *testing.T) {
	fn, err := Synthesize(formatDescriptor())
	require.NoError(t, err)

	raw, err := json.Marshal(fn.InputSchema())
	require.NoError(t, err)

	s := string(raw)
	assert.Contains(t, s, `"required":["text"]`)
	assert.Contains(t, s, `"default":"title"`)

	props := s[strings.Index(s, `"properties"`):]
	text := strings.Index(props, `"text"`)
	style := strings.Index(props, `"style"`)
	repeat := strings.Index(props, `"repeat"`)
	assert.True(t, text < style && style < repeat, "properties out of order: %s", s)
}

func TestSynthesizeRejectsInvalidDescriptors(t *testing.T) {
	handler := func(context.Context, Arguments) (any, error) { return nil, nil }
	tests := []struct {
		name string
		desc Descriptor
	}{
		{"missing name", Descriptor{Handler: handler}},
		{"missing handler", Descriptor{Name: "x"}},
		{"duplicate param", Descriptor{Name: "x", Handler: handler, Params: []Param{{Name: "a", Type: TypeString}, {Name: "a", Type: TypeString}}}},
		{"bad type", Descriptor{Name: "x", Handler: handler, Params: []Param{{Name: "a", Type: "date"}}}},
		{"required with default", Descriptor{Name: "x", Handler: handler, Params: []Param{{Name: "a", Type: TypeString, Required: true, Default: "d"}}}},
		{"default of wrong type", Descriptor{Name: "x", Handler: handler, Params: []Param{{Name: "a", Type: TypeInteger, Default: "nope"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Synthesize(tt.desc)
			assert.Error(t, err)
		})
	}
}

func TestCallAdd(t *testing.T) {
	fn, err := Synthesize(addDescriptor())
	require.NoError(t, err)

	t.Run("valid arguments", func(t *testing.T) {
		v, err := fn.Call(context.Background(), json.RawMessage(`{"a":2,"b":3}`))
		require.NoError(t, err)
		assert.Equal(t, int64(5), v)
		assert.Equal(t, map[string]any{"result": int64(5)}, fn.Structured(v))
	})

	t.Run("type mismatch names the field", func(t *testing.T) {
		_, err := fn.Call(context.Background(), json.RawMessage(`{"a":"x","b":3}`))
		var invalid *InvalidArgumentsError
		require.True(t, errors.As(err, &invalid), "got %v", err)
		require.Len(t, invalid.Fields, 1)
		assert.Equal(t, "a", invalid.Fields[0].Field)
		assert.Equal(t, "expected integer, got string", invalid.Fields[0].Reason)
	})

	t.Run("missing required fields are all reported", func(t *testing.T) {
		_, err := fn.Call(context.Background(), json.RawMessage(`{}`))
		var invalid *InvalidArgumentsError
		require.True(t, errors.As(err, &invalid))
		assert.True(t, invalid.HasField("a"))
		assert.True(t, invalid.HasField("b"))
	})

	t.Run("fractional number is not an integer", func(t *testing.T) {
		_, err := fn.Call(context.Background(), json.RawMessage(`{"a":1.5,"b":3}`))
		var invalid *InvalidArgumentsError
		require.True(t, errors.As(err, &invalid))
		assert.True(t, invalid.HasField("a"))
	})

	t.Run("integers keep 64-bit precision", func(t *testing.T) {
		v, err := fn.Call(context.Background(), json.RawMessage(`{"a":9007199254740993,"b":0}`))
		require.NoError(t, err)
		assert.Equal(t, int64(9007199254740993), v)
	})

	t.Run("integers outside int64 are rejected", func(t *testing.T) {
		for _, raw := range []string{`{"a":1e19,"b":1}`, `{"a":-1e19,"b":1}`, `{"a":9223372036854775808,"b":1}`} {
			_, err := fn.Call(context.Background(), json.RawMessage(raw))
			var invalid *InvalidArgumentsError
			require.True(t, errors.As(err, &invalid), "%s: got %v", raw, err)
			require.Len(t, invalid.Fields, 1)
			assert.Equal(t, "a", invalid.Fields[0].Field)
			assert.Equal(t, "out of range for a 64-bit integer", invalid.Fields[0].Reason)
		}
	})

	t.Run("trailing data is malformed", func(t *testing.T) {
		_, err := fn.Call(context.Background(), json.RawMessage(`{"a":1,"b":2} {}`))
		var invalid *InvalidArgumentsError
		require.True(t, errors.As(err, &invalid))
		assert.True(t, invalid.HasField("arguments"))
	})

	t.Run("non-object arguments", func(t *testing.T) {
		_, err := fn.Call(context.Background(), json.RawMessage(`[1,2]`))
		var invalid *InvalidArgumentsError
		require.True(t, errors.As(err, &invalid))
		assert.True(t, invalid.HasField("arguments"))
	})
}

func TestBindAppliesDefaultsAndEnums(t *testing.T) {
	fn, err := Synthesize(formatDescriptor())
	require.NoError(t, err)

	args, err := fn.Bind(json.RawMessage(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "title", args.String("style"))
	assert.False(t, args.Has("repeat"))

	args, err = fn.Bind(json.RawMessage(`{"text":"hi","style":null}`))
	require.NoError(t, err)
	assert.Equal(t, "title", args.String("style"))

	_, err = fn.Bind(json.RawMessage(`{"text":"hi","style":"shout"}`))
	var invalid *InvalidArgumentsError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "style", invalid.Fields[0].Field)
	assert.Contains(t, invalid.Fields[0].Reason, "title, upper")
}

func TestBindDropsUndeclaredArguments(t *testing.T) {
	fn, err := Synthesize(formatDescriptor())
	require.NoError(t, err)

	args, err := fn.Bind(json.RawMessage(`{"text":"hi","verbose":true,"extra":{"k":1}}`))
	require.NoError(t, err)
	assert.Equal(t, Arguments{"text": "hi", "style": "title"}, args)
}

func TestBindNumericEnum(t *testing.T) {
	fn, err := Synthesize(Descriptor{
		Name:    "pick",
		Params:  []Param{{Name: "n", Type: TypeInteger, Required: true, Enum: []any{1, 2, 3}}},
		Handler: func(_ context.Context, args Arguments) (any, error) { return args.Int("n"), nil },
	})
	require.NoError(t, err)

	args, err := fn.Bind(json.RawMessage(`{"n":2}`))
	require.NoError(t, err)
	assert.Equal(t, int64(2), args["n"])

	_, err = fn.Bind(json.RawMessage(`{"n":4}`))
	var invalid *InvalidArgumentsError
	require.True(t, errors.As(err, &invalid))
	assert.True(t, invalid.HasField("n"))
}

func TestArgumentsFloatsAcceptIntegers(t *testing.T) {
	args := Arguments{"xs": []any{int64(1), 2.5, "skip", json.Number("4")}}
	assert.Equal(t, []float64{1, 2.5, 4}, args.Floats("xs"))
}

func TestNumberAcceptsIntegers(t *testing.T) {
	fn, err := Synthesize(Descriptor{
		Name:    "half",
		Params:  []Param{{Name: "x", Type: TypeNumber, Required: true}},
		Returns: &jsonschema.Schema{Type: "number"},
		Handler: func(_ context.Context, args Arguments) (any, error) {
			return args.Float("x") / 2, nil
		},
	})
	require.NoError(t, err)

	v, err := fn.Call(context.Background(), json.RawMessage(`{"x":3}`))
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)
}

func TestCallValidatesResult(t *testing.T) {
	d := addDescriptor()
	d.Handler = func(context.Context, Arguments) (any, error) { return "five", nil }
	fn, err := Synthesize(d)
	require.NoError(t, err)

	_, err = fn.Call(context.Background(), json.RawMessage(`{"a":2,"b":3}`))
	var handlerErr *HandlerExecutionError
	require.True(t, errors.As(err, &handlerErr))
	assert.ErrorIs(t, err, ErrInvalidResult)
}

func TestCallWrapsHandlerErrors(t *testing.T) {
	d := addDescriptor()
	boom := errors.New("boom")
	d.Handler = func(context.Context, Arguments) (any, error) { return nil, boom }
	fn, err := Synthesize(d)
	require.NoError(t, err)

	_, err = fn.Call(context.Background(), json.RawMessage(`{"a":2,"b":3}`))
	var handlerErr *HandlerExecutionError
	require.True(t, errors.As(err, &handlerErr))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "add", handlerErr.Tool)
}

func TestObjectReturnIsNotWrapped(t *testing.T) {
	fn, err := Synthesize(Descriptor{
		Name: "pair",
		Returns: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{"x": {Type: "integer"}},
		},
		Handler: func(context.Context, Arguments) (any, error) {
			return struct {
				X int `json:"x"`
			}{X: 1}, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "object", fn.OutputSchema().Type)
	assert.Nil(t, fn.OutputSchema().Properties["result"])

	v, err := fn.Call(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": float64(1)}, fn.Structured(v))
}

func TestFunctionString(t *testing.T) {
	fn, err := Synthesize(formatDescriptor())
	require.NoError(t, err)
	assert.Equal(t, "format(text: string, style: string = title, repeat: integer?) -> string", fn.String())
}
