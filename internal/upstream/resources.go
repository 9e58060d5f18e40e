// ABOUTME: platform:// resources describing the loaded upstream services.
// ABOUTME: Rendered as markdown from the manager's live state on every read.

package upstream

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/toolgate/internal/catalog"
)

// ServicesDocument renders platform://services.
func (m *Manager) ServicesDocument() string {
	services := m.Services()
	if len(services) == 0 {
		return "No services available."
	}
	var b strings.Builder
	for i, s := range services {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "## %s\n", s.Name)
		fmt.Fprintf(&b, "**Category**: %s\n", s.Category)
		fmt.Fprintf(&b, "**Description**: %s\n", s.Description)
		fmt.Fprintf(&b, "**Endpoints**: %d\n", len(s.Tools))
	}
	return b.String()
}

// ServiceDocument renders platform://service/{service_name}.
func (m *Manager) ServiceDocument(name string) (string, error) {
	c, ok := m.Client(name)
	if !ok {
		return "", fmt.Errorf("%w: service %q is not loaded", catalog.ErrResourceNotFound, name)
	}
	svc := c.Service()

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", svc.Name)
	fmt.Fprintf(&b, "**Category**: %s\n", svc.Category)
	fmt.Fprintf(&b, "**Description**: %s\n", svc.Description)
	fmt.Fprintf(&b, "**Circuit breaker**: %s\n", c.BreakerState())
	b.WriteString("\n## Endpoints:\n")
	for _, ep := range svc.Endpoints {
		params := make([]string, len(ep.Params))
		for i, p := range ep.Params {
			params[i] = p.Name
		}
		fmt.Fprintf(&b, "### %s\n", ep.Name)
		fmt.Fprintf(&b, "- **Tool**: %s\n", ToolName(svc.Name, ep.Name))
		fmt.Fprintf(&b, "- **Path**: %s\n", ep.Path)
		fmt.Fprintf(&b, "- **Method**: %s\n", ep.Method)
		fmt.Fprintf(&b, "- **Description**: %s\n", ep.Description)
		fmt.Fprintf(&b, "- **Parameters**: [%s]\n\n", strings.Join(params, ", "))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// RegisterResources adds the platform:// resources backed by m to cat.
func RegisterResources(cat *catalog.Catalog, m *Manager) error {
	err := cat.AddResource(catalog.Resource{
		URI:         "platform://services",
		Name:        "platform-services",
		Description: "List all loaded upstream services",
		MIMEType:    "text/markdown",
		Read: func(context.Context) (string, error) {
			return m.ServicesDocument(), nil
		},
	})
	if err != nil {
		return err
	}
	return cat.AddTemplate(catalog.Template{
		URITemplate: "platform://service/{service_name}",
		Name:        "platform-service",
		Description: "Endpoints and parameters of one upstream service",
		MIMEType:    "text/markdown",
		Read: func(_ context.Context, vars map[string]string) (string, error) {
			return m.ServiceDocument(vars["service_name"])
		},
	})
}
