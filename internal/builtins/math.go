// ABOUTME: Arithmetic built-ins: add, multiply and calculate_stats.
// ABOUTME: calculate_stats uses population variance.

package builtins

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/2389/toolgate/internal/tools"
)

func addTool() tools.Descriptor {
	return tools.Descriptor{
		Name:        "add",
		Description: "Add two numbers together.",
		Params: []tools.Param{
			{Name: "a", Type: tools.TypeInteger, Required: true},
			{Name: "b", Type: tools.TypeInteger, Required: true},
		},
		Returns:     &jsonschema.Schema{Type: "integer"},
		Annotations: tools.Annotations{ReadOnly: true, Idempotent: true},
		Handler: func(_ context.Context, args tools.Arguments) (any, error) {
			a, b := args.Int("a"), args.Int("b")
			if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
				return nil, fmt.Errorf("integer overflow adding %d and %d", a, b)
			}
			return a + b, nil
		},
	}
}

func multiplyTool() tools.Descriptor {
	return tools.Descriptor{
		Name:        "multiply",
		Description: "Multiply two numbers together.",
		Params: []tools.Param{
			{Name: "a", Type: tools.TypeNumber, Required: true},
			{Name: "b", Type: tools.TypeNumber, Required: true},
		},
		Returns:     &jsonschema.Schema{Type: "number"},
		Annotations: tools.Annotations{ReadOnly: true, Idempotent: true},
		Handler: func(_ context.Context, args tools.Arguments) (any, error) {
			return args.Float("a") * args.Float("b"), nil
		},
	}
}

// Stats is the result of calculate_stats.
type Stats struct {
	Count             int     `json:"count"`
	Sum               float64 `json:"sum"`
	Mean              float64 `json:"mean"`
	Median            float64 `json:"median"`
	Min               float64 `json:"min"`
	Max               float64 `json:"max"`
	Variance          float64 `json:"variance"`
	StandardDeviation float64 `json:"standard_deviation"`
}

func statsSchema() *jsonschema.Schema {
	number := func() *jsonschema.Schema { return &jsonschema.Schema{Type: "number"} }
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"count":              {Type: "integer"},
			"sum":                number(),
			"mean":               number(),
			"median":             number(),
			"min":                number(),
			"max":                number(),
			"variance":           number(),
			"standard_deviation": number(),
		},
		PropertyOrder: []string{"count", "sum", "mean", "median", "min", "max", "variance", "standard_deviation"},
		Required:      []string{"count", "sum", "mean", "median", "min", "max", "variance", "standard_deviation"},
	}
}

func calculateStatsTool() tools.Descriptor {
	return tools.Descriptor{
		Name:        "calculate_stats",
		Description: "Calculate basic statistics for a list of numbers.",
		Params: []tools.Param{
			{Name: "numbers", Type: tools.TypeArray, Items: tools.TypeNumber, Required: true},
		},
		Returns:     statsSchema(),
		Annotations: tools.Annotations{ReadOnly: true, Idempotent: true},
		Handler: func(_ context.Context, args tools.Arguments) (any, error) {
			numbers := args.Floats("numbers")
			if len(numbers) == 0 {
				return nil, &tools.InvalidArgumentsError{
					Tool:   "calculate_stats",
					Fields: []tools.FieldError{{Field: "numbers", Reason: "must not be empty"}},
				}
			}
			return ComputeStats(numbers), nil
		},
	}
}

// ComputeStats summarizes a non-empty list of numbers.
func ComputeStats(numbers []float64) Stats {
	n := len(numbers)
	sorted := append([]float64(nil), numbers...)
	sort.Float64s(sorted)

	var sum float64
	for _, x := range numbers {
		sum += x
	}
	mean := sum / float64(n)

	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	var sq float64
	for _, x := range numbers {
		sq += (x - mean) * (x - mean)
	}
	variance := sq / float64(n)

	return Stats{
		Count:             n,
		Sum:               sum,
		Mean:              mean,
		Median:            median,
		Min:               sorted[0],
		Max:               sorted[n-1],
		Variance:          variance,
		StandardDeviation: math.Sqrt(variance),
	}
}
