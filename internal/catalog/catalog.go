// ABOUTME: Read-only MCP resources, resource templates and prompts served alongside the tool registry.
// ABOUTME: Template URIs follow RFC 6570 and are matched in registration order after exact resources.

package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/yosida95/uritemplate/v3"
)

var (
	// ErrResourceNotFound is returned when no resource or template matches a URI.
	ErrResourceNotFound = errors.New("resource not found")
	// ErrPromptNotFound is returned for unknown prompt names.
	ErrPromptNotFound = errors.New("prompt not found")
)

// ArgumentError reports a bad template variable or prompt argument.
type ArgumentError struct {
	Name   string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("argument %q: %s", e.Name, e.Reason)
}

// Resource is a fixed-URI document.
type Resource struct {
	URI         string
	Name        string
	Title       string
	Description string
	MIMEType    string
	Read        func(ctx context.Context) (string, error)
}

// Template is a family of documents addressed by a URI template such as
// "greeting://{name}". Read receives the decoded template variables.
type Template struct {
	URITemplate string
	Name        string
	Title       string
	Description string
	MIMEType    string
	Read        func(ctx context.Context, vars map[string]string) (string, error)

	tmpl *uritemplate.Template
}

// PromptArgument describes one prompt input.
type PromptArgument struct {
	Name        string
	Description string
	Required    bool
}

// Prompt renders a single user message from string arguments.
type Prompt struct {
	Name        string
	Title       string
	Description string
	Arguments   []PromptArgument
	Render      func(ctx context.Context, args map[string]string) (string, error)
}

// Contents is the result of reading a resource.
type Contents struct {
	URI      string
	MIMEType string
	Text     string
}

// Catalog holds resources, templates and prompts. It is safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	resources []*Resource
	byURI     map[string]*Resource
	templates []*Template
	prompts   []*Prompt
	byName    map[string]*Prompt
	logger    *slog.Logger
}

// New creates an empty catalog.
func New(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		byURI:  make(map[string]*Resource),
		byName: make(map[string]*Prompt),
		logger: logger,
	}
}

// AddResource registers r. Its URI must be absolute and unused.
func (c *Catalog) AddResource(r Resource) error {
	if r.Read == nil {
		return fmt.Errorf("resource %q: read function is required", r.URI)
	}
	u, err := url.Parse(r.URI)
	if err != nil {
		return fmt.Errorf("resource %q: %w", r.URI, err)
	}
	if u.Scheme == "" {
		return fmt.Errorf("resource %q: URI must be absolute", r.URI)
	}
	if r.Name == "" {
		r.Name = r.URI
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.byURI[r.URI]; dup {
		return fmt.Errorf("resource %q already registered", r.URI)
	}
	c.resources = append(c.resources, &r)
	c.byURI[r.URI] = &r
	return nil
}

// AddTemplate registers t.
func (c *Catalog) AddTemplate(t Template) error {
	if t.Read == nil {
		return fmt.Errorf("resource template %q: read function is required", t.URITemplate)
	}
	tmpl, err := uritemplate.New(t.URITemplate)
	if err != nil {
		return fmt.Errorf("resource template %q: %w", t.URITemplate, err)
	}
	if len(tmpl.Varnames()) == 0 {
		return fmt.Errorf("resource template %q has no variables", t.URITemplate)
	}
	t.tmpl = tmpl
	if t.Name == "" {
		t.Name = t.URITemplate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.templates {
		if existing.URITemplate == t.URITemplate {
			return fmt.Errorf("resource template %q already registered", t.URITemplate)
		}
	}
	c.templates = append(c.templates, &t)
	return nil
}

// AddPrompt registers p.
func (c *Catalog) AddPrompt(p Prompt) error {
	if p.Name == "" {
		return errors.New("prompt name is required")
	}
	if p.Render == nil {
		return fmt.Errorf("prompt %q: render function is required", p.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.byName[p.Name]; dup {
		return fmt.Errorf("prompt %q already registered", p.Name)
	}
	c.prompts = append(c.prompts, &p)
	c.byName[p.Name] = &p
	return nil
}

// Resources returns the fixed resources in registration order.
func (c *Catalog) Resources() []Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Resource, len(c.resources))
	for i, r := range c.resources {
		out[i] = *r
	}
	return out
}

// Templates returns the resource templates in registration order.
func (c *Catalog) Templates() []Template {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Template, len(c.templates))
	for i, t := range c.templates {
		out[i] = *t
	}
	return out
}

// Prompts returns the prompts in registration order.
func (c *Catalog) Prompts() []Prompt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Prompt, len(c.prompts))
	for i, p := range c.prompts {
		out[i] = *p
	}
	return out
}

// Read resolves uri against the fixed resources, then the templates.
func (c *Catalog) Read(ctx context.Context, uri string) (Contents, error) {
	c.mu.RLock()
	res := c.byURI[uri]
	var (
		tmpl *Template
		vars map[string]string
	)
	if res == nil {
		tmpl, vars = c.matchLocked(uri)
	}
	c.mu.RUnlock()

	var (
		text string
		mime string
		err  error
	)
	switch {
	case res != nil:
		text, err = res.Read(ctx)
		mime = res.MIMEType
	case tmpl != nil:
		text, err = tmpl.Read(ctx, vars)
		mime = tmpl.MIMEType
	default:
		return Contents{}, fmt.Errorf("%w: %s", ErrResourceNotFound, uri)
	}
	if err != nil {
		return Contents{}, err
	}
	c.logger.Debug("resource read", "uri", uri)
	return Contents{URI: uri, MIMEType: mime, Text: text}, nil
}

func (c *Catalog) matchLocked(uri string) (*Template, map[string]string) {
	for _, t := range c.templates {
		values := t.tmpl.Match(uri)
		if values == nil {
			continue
		}
		vars := make(map[string]string, len(values))
		for _, name := range t.tmpl.Varnames() {
			vars[name] = values.Get(name).String()
		}
		return t, vars
	}
	return nil, nil
}

// GetPrompt renders the named prompt. Missing required arguments are
// reported before the prompt runs.
func (c *Catalog) GetPrompt(ctx context.Context, name string, args map[string]string) (Prompt, string, error) {
	c.mu.RLock()
	p := c.byName[name]
	c.mu.RUnlock()
	if p == nil {
		return Prompt{}, "", fmt.Errorf("%w: %s", ErrPromptNotFound, name)
	}

	for _, a := range p.Arguments {
		if a.Required && args[a.Name] == "" {
			return Prompt{}, "", &ArgumentError{Name: a.Name, Reason: "required"}
		}
	}
	if args == nil {
		args = map[string]string{}
	}
	text, err := p.Render(ctx, args)
	if err != nil {
		return Prompt{}, "", err
	}
	c.logger.Debug("prompt rendered", "prompt", name)
	return *p, text, nil
}
