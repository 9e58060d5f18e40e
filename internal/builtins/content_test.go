// ABOUTME: Tests for the built-in resources and prompts.
// ABOUTME: Reads go through a catalog populated by RegisterContent.

package builtins

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolgate/internal/catalog"
	"github.com/2389/toolgate/internal/tools"
)

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	reg := tools.NewRegistry(slog.Default())
	info := Info{Name: "toolgate", Version: "1.2.3", Transports: []string{"http", "stdio"}}
	require.NoError(t, RegisterAll(reg, info))
	cat := catalog.New(nil)
	require.NoError(t, RegisterContent(cat, reg, info))
	return cat
}

func TestGreetingResource(t *testing.T) {
	cat := newTestCatalog(t)

	got, err := cat.Read(context.Background(), "greeting://%20Ada%20")
	require.NoError(t, err)
	assert.Equal(t, "Hello, Ada! Welcome to toolgate. 🎉", got.Text)

	_, err = cat.Read(context.Background(), "greeting://%20%20")
	var argErr *catalog.ArgumentError
	require.True(t, errors.As(err, &argErr), "got %v", err)
	assert.Equal(t, "name", argErr.Name)
}

func TestFormulaResources(t *testing.T) {
	cat := newTestCatalog(t)

	for _, category := range FormulaCategories {
		got, err := cat.Read(context.Background(), "math://formulas/"+category)
		require.NoError(t, err, category)
		assert.Equal(t, "text/markdown", got.MIMEType)
		assert.NotEmpty(t, got.Text)
	}

	got, err := cat.Read(context.Background(), "math://formulas/algebra")
	require.NoError(t, err)
	assert.Contains(t, got.Text, "x = (-b ± √(b² - 4ac)) / 2a")

	_, err = cat.Read(context.Background(), "math://formulas/calculus")
	var argErr *catalog.ArgumentError
	require.True(t, errors.As(err, &argErr), "got %v", err)
	assert.Equal(t, "category", argErr.Name)
}

func TestServerInfoResource(t *testing.T) {
	cat := newTestCatalog(t)

	got, err := cat.Read(context.Background(), "server://info")
	require.NoError(t, err)
	for _, want := range []string{
		"# toolgate",
		"**Version:** 1.2.3",
		"**Transports:** http, stdio",
		"- calculate_stats(numbers: array)",
		"- server://info - This information page",
		"- math://formulas/{category}",
		"- analyze_data - Generate a data analysis prompt",
	} {
		assert.Contains(t, got.Text, want)
	}
}

func TestGreetingPrompt(t *testing.T) {
	tests := []struct {
		style string
		want  string
	}{
		{"", "Please write a warm, friendly greeting for someone named Ada. Make it personal and engaging."},
		{"casual", "Please write a casual, relaxed greeting for someone named Ada. Make it personal and engaging."},
		{"professional", "Please write a courteous, business-appropriate greeting for someone named Ada. Make it personal and engaging."},
	}
	for _, tt := range tests {
		t.Run(tt.style, func(t *testing.T) {
			got, err := GreetingPrompt("Ada", tt.style)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := GreetingPrompt("Ada", "shouty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "friendly, formal, casual, enthusiastic, professional")
}

func TestAnalysisPrompt(t *testing.T) {
	got, err := AnalysisPrompt("", "")
	require.NoError(t, err)
	assert.Contains(t, got, "identify key trends, patterns, and outliers")

	got, err = AnalysisPrompt("mixed", "overview")
	require.NoError(t, err)
	assert.Contains(t, got, "mixed data types")

	_, err = AnalysisPrompt("mixed", "trends")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "numerical/trends, numerical/statistics, text/sentiment, text/themes, mixed/overview")
}

func TestPromptsThroughCatalog(t *testing.T) {
	cat := newTestCatalog(t)

	p, text, err := cat.GetPrompt(context.Background(), "greet_user", map[string]string{"name": "Lin", "style": "enthusiastic"})
	require.NoError(t, err)
	assert.Equal(t, "greet_user", p.Name)
	assert.Equal(t, "Please write an enthusiastic, energetic greeting for someone named Lin. Make it personal and engaging.", text)

	_, _, err = cat.GetPrompt(context.Background(), "greet_user", nil)
	var argErr *catalog.ArgumentError
	require.True(t, errors.As(err, &argErr), "got %v", err)
	assert.Equal(t, "name", argErr.Name)
}
