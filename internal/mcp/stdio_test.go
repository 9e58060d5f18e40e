// ABOUTME: Tests for the go-sdk stdio bridge using in-memory transports.
// ABOUTME: Verifies tool, resource and prompt mirroring, dispatch through the bridge, and error propagation.

package mcp

import (
	"context"
	"log/slog"
	"testing"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/toolgate/internal/builtins"
	"github.com/2389/toolgate/internal/catalog"
	"github.com/2389/toolgate/internal/tools"
)

func setupBridge(t *testing.T) (*StdioBridge, *tools.Registry, *sdk.ClientSession) {
	t.Helper()

	reg := tools.NewRegistry(slog.Default())
	require.NoError(t, builtins.RegisterAll(reg, builtins.Info{Name: "toolgate", Version: "test"}))
	d, err := tools.NewDispatcher(tools.DispatcherConfig{Registry: reg})
	require.NoError(t, err)
	t.Cleanup(d.Close)

	cat := catalog.New(nil)
	require.NoError(t, builtins.RegisterContent(cat, reg, builtins.Info{Name: "toolgate", Version: "test"}))

	bridge, err := NewStdioBridge(BridgeConfig{Dispatcher: d, Name: "toolgate", Version: "test", Catalog: cat})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	serverTransport, clientTransport := sdk.NewInMemoryTransports()
	ss, err := bridge.Connect(ctx, serverTransport)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := sdk.NewClient(&sdk.Implementation{Name: "test-client", Version: "1.0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })

	return bridge, reg, cs
}

func listToolNames(t *testing.T, cs *sdk.ClientSession) []string {
	t.Helper()
	res, err := cs.ListTools(context.Background(), &sdk.ListToolsParams{})
	require.NoError(t, err)
	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	return names
}

func TestBridgeListsRegistry(t *testing.T) {
	_, _, cs := setupBridge(t)

	names := listToolNames(t, cs)
	assert.ElementsMatch(t, []string{
		"add", "multiply", "calculate_stats", "format_text", "render_markdown", "server_info",
	}, names)
}

func TestBridgeCallAdd(t *testing.T) {
	_, _, cs := setupBridge(t)

	res, err := cs.CallTool(context.Background(), &sdk.CallToolParams{
		Name:      "add",
		Arguments: map[string]any{"a": 2, "b": 3},
	})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)

	text, ok := res.Content[0].(*sdk.TextContent)
	require.True(t, ok)
	assert.Equal(t, "5", text.Text)
	assert.False(t, res.IsError)
}

func TestBridgeInvalidArguments(t *testing.T) {
	_, _, cs := setupBridge(t)

	_, err := cs.CallTool(context.Background(), &sdk.CallToolParams{
		Name:      "add",
		Arguments: map[string]any{"a": "x", "b": 3},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid arguments")
}

func TestBridgeMirrorsRegistryChanges(t *testing.T) {
	_, reg, cs := setupBridge(t)

	require.NoError(t, reg.Register(tools.Descriptor{
		Name:        "echo",
		Description: "Echoes its input",
		Params:      []tools.Param{{Name: "text", Type: tools.TypeString, Required: true}},
		Handler: func(_ context.Context, args tools.Arguments) (any, error) {
			return args.String("text"), nil
		},
	}))

	require.Eventually(t, func() bool {
		for _, name := range listToolNames(t, cs) {
			if name == "echo" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	res, err := cs.CallTool(context.Background(), &sdk.CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{"text": "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Content[0].(*sdk.TextContent).Text)

	require.True(t, reg.Unregister("echo"))
	require.Eventually(t, func() bool {
		for _, name := range listToolNames(t, cs) {
			if name == "echo" {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)
}

func TestSDKToolAnnotations(t *testing.T) {
	reg := tools.NewRegistry(slog.Default())
	require.NoError(t, builtins.RegisterAll(reg, builtins.Info{}))

	fn, ok := reg.Lookup("add")
	require.True(t, ok)
	tool := sdkTool(fn)

	assert.Equal(t, "add", tool.Name)
	require.NotNil(t, tool.Annotations)
	assert.True(t, tool.Annotations.ReadOnlyHint)
	assert.True(t, tool.Annotations.IdempotentHint)
	require.NotNil(t, tool.Annotations.DestructiveHint)
	assert.False(t, *tool.Annotations.DestructiveHint)
	assert.NotNil(t, tool.OutputSchema)
}

func TestBridgeResources(t *testing.T) {
	_, _, cs := setupBridge(t)
	ctx := context.Background()

	list, err := cs.ListResources(ctx, &sdk.ListResourcesParams{})
	require.NoError(t, err)
	require.Len(t, list.Resources, 1)
	assert.Equal(t, "server://info", list.Resources[0].URI)

	tmpls, err := cs.ListResourceTemplates(ctx, &sdk.ListResourceTemplatesParams{})
	require.NoError(t, err)
	assert.Len(t, tmpls.ResourceTemplates, 2)

	res, err := cs.ReadResource(ctx, &sdk.ReadResourceParams{URI: "math://formulas/geometry"})
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "text/markdown", res.Contents[0].MIMEType)
	assert.Contains(t, res.Contents[0].Text, "Circle: A = πr²")

	res, err = cs.ReadResource(ctx, &sdk.ReadResourceParams{URI: "greeting://Grace"})
	require.NoError(t, err)
	assert.Equal(t, "Hello, Grace! Welcome to toolgate. 🎉", res.Contents[0].Text)

	_, err = cs.ReadResource(ctx, &sdk.ReadResourceParams{URI: "math://formulas/topology"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown category")
}

func TestBridgePrompts(t *testing.T) {
	_, _, cs := setupBridge(t)
	ctx := context.Background()

	list, err := cs.ListPrompts(ctx, &sdk.ListPromptsParams{})
	require.NoError(t, err)
	names := make([]string, 0, len(list.Prompts))
	for _, p := range list.Prompts {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{"greet_user", "analyze_data"}, names)

	got, err := cs.GetPrompt(ctx, &sdk.GetPromptParams{
		Name:      "analyze_data",
		Arguments: map[string]string{"data_type": "text", "focus": "sentiment"},
	})
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	text, ok := got.Messages[0].Content.(*sdk.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "sentiment, tone, and emotional indicators")

	_, err = cs.GetPrompt(ctx, &sdk.GetPromptParams{Name: "greet_user", Arguments: map[string]string{"name": "Ada", "style": "sarcastic"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown style")
}
