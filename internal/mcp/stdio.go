// ABOUTME: Serves the tool registry over stdin/stdout using the official MCP go-sdk.
// ABOUTME: Mirrors registry changes onto the SDK server and routes calls through the Dispatcher.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/2389/toolgate/internal/catalog"
	"github.com/2389/toolgate/internal/tools"
)

// BridgeConfig holds configuration for the stdio bridge.
type BridgeConfig struct {
	Dispatcher   *tools.Dispatcher
	Logger       *slog.Logger
	Name         string
	Version      string
	Instructions string

	// Catalog is mirrored once at construction; nil adds no resources or prompts.
	Catalog *catalog.Catalog
}

// StdioBridge exposes a Dispatcher's registry through an SDK server.
type StdioBridge struct {
	server     *sdk.Server
	dispatcher *tools.Dispatcher
	logger     *slog.Logger

	mu       sync.Mutex
	mirrored map[string]bool
}

// NewStdioBridge creates a bridge and mirrors every registered tool.
func NewStdioBridge(cfg BridgeConfig) (*StdioBridge, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.Name
	if name == "" {
		name = "toolgate"
	}

	server := sdk.NewServer(&sdk.Implementation{Name: name, Version: cfg.Version}, &sdk.ServerOptions{
		Instructions: cfg.Instructions,
		Logger:       logger,
	})

	b := &StdioBridge{
		server:     server,
		dispatcher: cfg.Dispatcher,
		logger:     logger,
		mirrored:   make(map[string]bool),
	}
	b.sync()
	cfg.Dispatcher.Registry().OnChange(b.sync)
	if cfg.Catalog != nil {
		b.mirrorCatalog(cfg.Catalog)
	}
	return b, nil
}

// Server returns the underlying SDK server.
func (b *StdioBridge) Server() *sdk.Server { return b.server }

// Run serves over stdin/stdout until ctx is done or the client disconnects.
func (b *StdioBridge) Run(ctx context.Context) error {
	b.logger.Info("serving MCP over stdio", "tools", len(b.dispatcher.Registry().List()))
	return b.server.Run(ctx, &sdk.StdioTransport{})
}

// Connect serves one session over an arbitrary SDK transport.
func (b *StdioBridge) Connect(ctx context.Context, t sdk.Transport) (*sdk.ServerSession, error) {
	return b.server.Connect(ctx, t, nil)
}

// sync makes the SDK server's tool set match the registry.
func (b *StdioBridge) sync() {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := make(map[string]bool)
	for _, fn := range b.dispatcher.Registry().List() {
		current[fn.Name()] = true
		if b.mirrored[fn.Name()] {
			continue
		}
		b.server.AddTool(sdkTool(fn), b.handler(fn.Name()))
		b.mirrored[fn.Name()] = true
	}

	var removed []string
	for name := range b.mirrored {
		if !current[name] {
			removed = append(removed, name)
			delete(b.mirrored, name)
		}
	}
	if len(removed) > 0 {
		b.server.RemoveTools(removed...)
	}
}

// handler routes an SDK tool call through the Dispatcher.
func (b *StdioBridge) handler(name string) sdk.ToolHandler {
	return func(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
		var args json.RawMessage
		if req != nil && req.Params != nil {
			args = req.Params.Arguments
		}

		res, err := b.dispatcher.Dispatch(ctx, tools.Invocation{
			Tool:      name,
			Arguments: args,
			Source:    tools.SourceStdio,
		})
		if err != nil {
			return nil, wireError(err)
		}

		text, err := textContent(res.Value)
		if err != nil {
			return nil, wireError(&tools.HandlerExecutionError{Tool: name, Err: err})
		}
		return &sdk.CallToolResult{
			Content:           []sdk.Content{&sdk.TextContent{Text: text}},
			StructuredContent: res.Structured,
		}, nil
	}
}

// wireError converts a dispatch error to the SDK's JSON-RPC error.
func wireError(err error) error {
	info := tools.Describe(err)
	data, merr := json.Marshal(info)
	if merr != nil {
		data = nil
	}
	return &jsonrpc.Error{
		Code:    int64(errorCode(info.Kind)),
		Message: info.Message,
		Data:    data,
	}
}

// sdkTool converts a synthesized function to the SDK's tool definition.
func sdkTool(fn *tools.Function) *sdk.Tool {
	desc := fn.Descriptor()
	t := &sdk.Tool{
		Name:        desc.Name,
		Title:       desc.Title,
		Description: desc.Description,
		InputSchema: fn.InputSchema(),
	}
	if out := fn.OutputSchema(); out != nil {
		t.OutputSchema = out
	}

	a := desc.Annotations
	if a != (tools.Annotations{}) {
		t.Annotations = &sdk.ToolAnnotations{
			ReadOnlyHint:    a.ReadOnly,
			IdempotentHint:  a.Idempotent,
			DestructiveHint: &a.Destructive,
			OpenWorldHint:   &a.OpenWorld,
		}
	}
	return t
}

// mirrorCatalog adds every catalog resource, template and prompt to the SDK server.
func (b *StdioBridge) mirrorCatalog(cat *catalog.Catalog) {
	read := func(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
		uri := req.Params.URI
		contents, err := cat.Read(ctx, uri)
		if err != nil {
			return nil, catalogWireError(err, uri)
		}
		return &sdk.ReadResourceResult{Contents: []*sdk.ResourceContents{{
			URI:      contents.URI,
			MIMEType: contents.MIMEType,
			Text:     contents.Text,
		}}}, nil
	}

	for _, r := range cat.Resources() {
		b.server.AddResource(&sdk.Resource{
			URI:         r.URI,
			Name:        r.Name,
			Title:       r.Title,
			Description: r.Description,
			MIMEType:    r.MIMEType,
		}, read)
	}
	for _, t := range cat.Templates() {
		b.server.AddResourceTemplate(&sdk.ResourceTemplate{
			URITemplate: t.URITemplate,
			Name:        t.Name,
			Title:       t.Title,
			Description: t.Description,
			MIMEType:    t.MIMEType,
		}, read)
	}
	for _, p := range cat.Prompts() {
		prompt := &sdk.Prompt{Name: p.Name, Title: p.Title, Description: p.Description}
		for _, a := range p.Arguments {
			prompt.Arguments = append(prompt.Arguments, &sdk.PromptArgument{Name: a.Name, Description: a.Description, Required: a.Required})
		}
		b.server.AddPrompt(prompt, func(ctx context.Context, req *sdk.GetPromptRequest) (*sdk.GetPromptResult, error) {
			got, text, err := cat.GetPrompt(ctx, req.Params.Name, req.Params.Arguments)
			if err != nil {
				return nil, catalogWireError(err, req.Params.Name)
			}
			return &sdk.GetPromptResult{
				Description: got.Description,
				Messages:    []*sdk.PromptMessage{{Role: "user", Content: &sdk.TextContent{Text: text}}},
			}, nil
		})
	}
}

// catalogWireError converts a catalog failure to the SDK's JSON-RPC error.
func catalogWireError(err error, target string) error {
	var argErr *catalog.ArgumentError
	switch {
	case errors.Is(err, catalog.ErrResourceNotFound):
		return sdk.ResourceNotFoundError(target)
	case errors.Is(err, catalog.ErrPromptNotFound), errors.As(err, &argErr):
		return &jsonrpc.Error{Code: JSONRPCInvalidParams, Message: err.Error()}
	default:
		return &jsonrpc.Error{Code: JSONRPCInternalError, Message: fmt.Sprintf("reading %s: %v", target, err)}
	}
}
