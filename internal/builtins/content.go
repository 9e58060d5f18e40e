// ABOUTME: Built-in MCP resources and prompts: greetings, math formula sheets, server info,
// ABOUTME: and the greet_user and analyze_data prompt templates.

package builtins

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/toolgate/internal/catalog"
	"github.com/2389/toolgate/internal/tools"
)

var formulaSheets = map[string]string{
	"geometry": `# Geometry Formulas

## Area Formulas:
- Circle: A = πr²
- Rectangle: A = l × w
- Triangle: A = ½ × b × h
- Square: A = s²

## Volume Formulas:
- Sphere: V = (4/3)πr³
- Cylinder: V = πr²h
- Cube: V = s³
- Rectangular prism: V = l × w × h`,
	"algebra": `# Algebra Formulas

## Quadratic Formula:
x = (-b ± √(b² - 4ac)) / 2a

## Distance Formula:
d = √((x₂-x₁)² + (y₂-y₁)²)

## Slope Formula:
m = (y₂-y₁) / (x₂-x₁)

## Point-Slope Form:
y - y₁ = m(x - x₁)`,
	"statistics": `# Statistics Formulas

## Mean:
μ = (Σx) / n

## Variance:
σ² = Σ(x - μ)² / n

## Standard Deviation:
σ = √(σ²)

## Z-Score:
z = (x - μ) / σ`,
}

// FormulaCategories lists the math://formulas categories in display order.
var FormulaCategories = []string{"geometry", "algebra", "statistics"}

var greetingStyles = map[string]string{
	"friendly":     "Please write a warm, friendly greeting",
	"formal":       "Please write a formal, professional greeting",
	"casual":       "Please write a casual, relaxed greeting",
	"enthusiastic": "Please write an enthusiastic, energetic greeting",
	"professional": "Please write a courteous, business-appropriate greeting",
}

var greetingStyleOrder = []string{"friendly", "formal", "casual", "enthusiastic", "professional"}

type analysisKey struct{ dataType, focus string }

var analysisPrompts = map[analysisKey]string{
	{"numerical", "trends"}:     "Analyze the numerical data and identify key trends, patterns, and outliers. Provide insights about what the data reveals.",
	{"numerical", "statistics"}: "Perform a comprehensive statistical analysis of the numerical data. Include measures of central tendency, variability, and distribution characteristics.",
	{"text", "sentiment"}:       "Analyze the text data for sentiment, tone, and emotional indicators. Identify positive, negative, and neutral elements.",
	{"text", "themes"}:          "Identify key themes, topics, and recurring patterns in the text data. Categorize and summarize the main concepts.",
	{"mixed", "overview"}:       "Provide a comprehensive analysis of the mixed data types. Identify relationships, patterns, and key insights across all data elements.",
}

var analysisOrder = []analysisKey{
	{"numerical", "trends"},
	{"numerical", "statistics"},
	{"text", "sentiment"},
	{"text", "themes"},
	{"mixed", "overview"},
}

// Greeting returns the greeting://{name} document.
func Greeting(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &catalog.ArgumentError{Name: "name", Reason: "cannot be empty"}
	}
	return fmt.Sprintf("Hello, %s! Welcome to toolgate. 🎉", name), nil
}

// Formulas returns the formula sheet for category.
func Formulas(category string) (string, error) {
	sheet, ok := formulaSheets[category]
	if !ok {
		return "", &catalog.ArgumentError{
			Name:   "category",
			Reason: fmt.Sprintf("unknown category %q (available: %s)", category, strings.Join(FormulaCategories, ", ")),
		}
	}
	return sheet, nil
}

// GreetingPrompt renders greet_user.
func GreetingPrompt(name, style string) (string, error) {
	if style == "" {
		style = "friendly"
	}
	lead, ok := greetingStyles[style]
	if !ok {
		return "", &catalog.ArgumentError{
			Name:   "style",
			Reason: fmt.Sprintf("unknown style %q (available: %s)", style, strings.Join(greetingStyleOrder, ", ")),
		}
	}
	return fmt.Sprintf("%s for someone named %s. Make it personal and engaging.", lead, name), nil
}

// AnalysisPrompt renders analyze_data.
func AnalysisPrompt(dataType, focus string) (string, error) {
	if dataType == "" {
		dataType = "numerical"
	}
	if focus == "" {
		focus = "trends"
	}
	text, ok := analysisPrompts[analysisKey{dataType, focus}]
	if !ok {
		combos := make([]string, len(analysisOrder))
		for i, k := range analysisOrder {
			combos[i] = k.dataType + "/" + k.focus
		}
		return "", &catalog.ArgumentError{
			Name:   "data_type",
			Reason: fmt.Sprintf("unknown combination %q (available: %s)", dataType+"/"+focus, strings.Join(combos, ", ")),
		}
	}
	return text, nil
}

// ServerInfoDocument renders server://info from the live registry and catalog.
func ServerInfoDocument(reg *tools.Registry, cat *catalog.Catalog, info Info) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", info.Name)
	fmt.Fprintf(&b, "**Version:** %s\n", info.Version)
	if len(info.Transports) > 0 {
		fmt.Fprintf(&b, "**Transports:** %s\n", strings.Join(info.Transports, ", "))
	}

	b.WriteString("\n## Available Tools:\n")
	for _, fn := range reg.List() {
		fmt.Fprintf(&b, "- %s - %s\n", fn.String(), fn.Descriptor().Description)
	}

	b.WriteString("\n## Available Resources:\n")
	for _, r := range cat.Resources() {
		fmt.Fprintf(&b, "- %s - %s\n", r.URI, r.Description)
	}
	for _, t := range cat.Templates() {
		fmt.Fprintf(&b, "- %s - %s\n", t.URITemplate, t.Description)
	}

	b.WriteString("\n## Available Prompts:\n")
	for _, p := range cat.Prompts() {
		fmt.Fprintf(&b, "- %s - %s\n", p.Name, p.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// RegisterContent adds the built-in resources, templates and prompts to cat.
func RegisterContent(cat *catalog.Catalog, reg *tools.Registry, info Info) error {
	err := cat.AddTemplate(catalog.Template{
		URITemplate: "greeting://{name}",
		Name:        "greeting",
		Description: "Get personalized greetings",
		MIMEType:    "text/plain",
		Read: func(_ context.Context, vars map[string]string) (string, error) {
			return Greeting(vars["name"])
		},
	})
	if err != nil {
		return err
	}

	err = cat.AddTemplate(catalog.Template{
		URITemplate: "math://formulas/{category}",
		Name:        "math-formulas",
		Description: "Get mathematical formulas (" + strings.Join(FormulaCategories, ", ") + ")",
		MIMEType:    "text/markdown",
		Read: func(_ context.Context, vars map[string]string) (string, error) {
			return Formulas(vars["category"])
		},
	})
	if err != nil {
		return err
	}

	err = cat.AddResource(catalog.Resource{
		URI:         "server://info",
		Name:        "server-info",
		Description: "This information page",
		MIMEType:    "text/markdown",
		Read: func(context.Context) (string, error) {
			return ServerInfoDocument(reg, cat, info), nil
		},
	})
	if err != nil {
		return err
	}

	err = cat.AddPrompt(catalog.Prompt{
		Name:        "greet_user",
		Description: "Generate a greeting prompt for a user",
		Arguments: []catalog.PromptArgument{
			{Name: "name", Description: "Who to greet", Required: true},
			{Name: "style", Description: "One of: " + strings.Join(greetingStyleOrder, ", ")},
		},
		Render: func(_ context.Context, args map[string]string) (string, error) {
			return GreetingPrompt(args["name"], args["style"])
		},
	})
	if err != nil {
		return err
	}

	return cat.AddPrompt(catalog.Prompt{
		Name:        "analyze_data",
		Description: "Generate a data analysis prompt",
		Arguments: []catalog.PromptArgument{
			{Name: "data_type", Description: "numerical, text or mixed"},
			{Name: "focus", Description: "trends, statistics, sentiment, themes or overview"},
		},
		Render: func(_ context.Context, args map[string]string) (string, error) {
			return AnalysisPrompt(args["data_type"], args["focus"])
		},
	})
}

