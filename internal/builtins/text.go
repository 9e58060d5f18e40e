// ABOUTME: Text built-ins: format_text styles and render_markdown via goldmark.
// ABOUTME: Style names are advertised as an enum so bad styles fail argument validation.

package builtins

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/2389/toolgate/internal/tools"
)

// styleOrder is the advertised order of format_text styles.
var styleOrder = []string{"title", "upper", "lower", "reverse", "capitalize", "snake_case", "kebab_case"}

var styles = map[string]func(string) string{
	"title":      titleCase,
	"upper":      strings.ToUpper,
	"lower":      strings.ToLower,
	"reverse":    reverse,
	"capitalize": capitalize,
	"snake_case": func(s string) string { return strings.ReplaceAll(strings.ToLower(s), " ", "_") },
	"kebab_case": func(s string) string { return strings.ReplaceAll(strings.ToLower(s), " ", "-") },
}

// FormatText applies a named style to text.
func FormatText(text, style string) (string, error) {
	fn, ok := styles[style]
	if !ok {
		return "", fmt.Errorf("invalid style %q, available styles: %s", style, strings.Join(styleOrder, ", "))
	}
	return fn(text), nil
}

func formatTextTool() tools.Descriptor {
	enum := make([]any, len(styleOrder))
	for i, s := range styleOrder {
		enum[i] = s
	}
	return tools.Descriptor{
		Name:        "format_text",
		Description: "Format text in different styles.",
		Params: []tools.Param{
			{Name: "text", Type: tools.TypeString, Required: true},
			{Name: "style", Type: tools.TypeString, Default: "title", Enum: enum},
		},
		Returns:     &jsonschema.Schema{Type: "string"},
		Annotations: tools.Annotations{ReadOnly: true, Idempotent: true},
		Handler: func(_ context.Context, args tools.Arguments) (any, error) {
			return FormatText(args.String("text"), args.String("style"))
		},
	}
}

// titleCase upper-cases the first letter of every run of letters and
// lower-cases the rest.
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inWord := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if inWord {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			inWord = true
			continue
		}
		inWord = false
		b.WriteRune(r)
	}
	return b.String()
}

func capitalize(s string) string {
	runes := []rune(strings.ToLower(s))
	if len(runes) > 0 {
		runes[0] = unicode.ToUpper(runes[0])
	}
	return string(runes)
}

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

func renderMarkdownTool() tools.Descriptor {
	return tools.Descriptor{
		Name:        "render_markdown",
		Description: "Render Markdown to HTML.",
		Params: []tools.Param{
			{Name: "text", Type: tools.TypeString, Required: true, Description: "Markdown source"},
			{Name: "gfm", Type: tools.TypeBoolean, Default: true, Description: "Enable GitHub Flavored Markdown"},
		},
		Returns:     &jsonschema.Schema{Type: "string"},
		Annotations: tools.Annotations{ReadOnly: true, Idempotent: true},
		Handler: func(_ context.Context, args tools.Arguments) (any, error) {
			return RenderMarkdown(args.String("text"), args.Bool("gfm"))
		},
	}
}

// RenderMarkdown converts Markdown source to HTML.
func RenderMarkdown(text string, gfm bool) (string, error) {
	opts := []goldmark.Option{
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	}
	if gfm {
		opts = append(opts, goldmark.WithExtensions(extension.GFM))
	}
	var buf bytes.Buffer
	if err := goldmark.New(opts...).Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.String(), nil
}
