// ABOUTME: server_info built-in reporting name, version, transports and catalog size.

package builtins

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/2389/toolgate/internal/tools"
)

func serverInfoTool(reg *tools.Registry, info Info) tools.Descriptor {
	return tools.Descriptor{
		Name:        "server_info",
		Description: "Get information about this MCP server.",
		Returns: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"name":       {Type: "string"},
				"version":    {Type: "string"},
				"transports": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
				"tool_count": {Type: "integer"},
				"tools":      {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			},
			PropertyOrder: []string{"name", "version", "transports", "tool_count", "tools"},
		},
		Annotations: tools.Annotations{ReadOnly: true},
		Handler: func(context.Context, tools.Arguments) (any, error) {
			fns := reg.List()
			names := make([]string, len(fns))
			for i, fn := range fns {
				names[i] = fn.Name()
			}
			transports := info.Transports
			if transports == nil {
				transports = []string{}
			}
			return map[string]any{
				"name":       info.Name,
				"version":    info.Version,
				"transports": transports,
				"tool_count": len(names),
				"tools":      names,
			}, nil
		},
	}
}
