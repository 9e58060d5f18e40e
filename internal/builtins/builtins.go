// ABOUTME: Registration entry point for the built-in tool pack.
// ABOUTME: Collects math, text and server descriptors and adds them to a registry.

package builtins

import (
	"fmt"

	"github.com/2389/toolgate/internal/tools"
)

// Source is the registry source for built-in tools.
const Source = "builtin"

// Info describes the running server for the server_info tool.
type Info struct {
	Name       string
	Version    string
	Transports []string
}

// Descriptors returns every built-in tool descriptor in catalog order.
// server_info reports the size of reg at call time.
func Descriptors(reg *tools.Registry, info Info) []tools.Descriptor {
	descs := []tools.Descriptor{
		addTool(),
		multiplyTool(),
		calculateStatsTool(),
		formatTextTool(),
		renderMarkdownTool(),
		serverInfoTool(reg, info),
	}
	for i := range descs {
		descs[i].Source = Source
	}
	return descs
}

// RegisterAll adds all built-in tools to reg.
func RegisterAll(reg *tools.Registry, info Info) error {
	for _, d := range Descriptors(reg, info) {
		if err := reg.Register(d); err != nil {
			return fmt.Errorf("registering builtin %s: %w", d.Name, err)
		}
	}
	return nil
}
