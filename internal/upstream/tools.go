// ABOUTME: Synthesizes tool descriptors from service endpoints.
// ABOUTME: One tool per endpoint, named <service>_<endpoint>, whose handler calls the service client.

package upstream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/2389/toolgate/internal/tools"
)

// ToolName returns the registry name of a service endpoint.
func ToolName(service, endpoint string) string {
	return service + "_" + endpoint
}

// Descriptors builds one tool descriptor per endpoint of the client's service.
func Descriptors(c *Client) []tools.Descriptor {
	svc := c.Service()
	// Worst case: every attempt times out, plus the doubling backoff between them.
	budget := time.Duration(svc.MaxRetries)*svc.Timeout + 5*time.Second

	descs := make([]tools.Descriptor, 0, len(svc.Endpoints))
	for _, ep := range svc.Endpoints {
		params := make([]tools.Param, 0, len(ep.Params))
		for _, p := range ep.Params {
			params = append(params, tools.Param{
				Name:        p.Name,
				Type:        p.Type,
				Description: p.Description,
				Required:    p.Required,
				Default:     p.Default,
			})
		}

		description := ep.Description
		if description == "" {
			description = fmt.Sprintf("%s %s on %s", ep.Method, ep.Path, svc.Name)
		}

		endpoint := ep.Name
		descs = append(descs, tools.Descriptor{
			Name:        ToolName(svc.Name, ep.Name),
			Title:       fmt.Sprintf("%s: %s", svc.Name, ep.Name),
			Description: description,
			Params:      params,
			// Upstream payloads are free-form; advertise them under "result".
			Returns: &jsonschema.Schema{},
			Timeout: budget,
			Annotations: tools.Annotations{
				ReadOnly:    ep.Method == http.MethodGet,
				Idempotent:  ep.Method == http.MethodGet || ep.Method == http.MethodPut || ep.Method == http.MethodDelete,
				Destructive: ep.Method == http.MethodDelete,
				OpenWorld:   true,
			},
			Handler: func(ctx context.Context, args tools.Arguments) (any, error) {
				return c.Call(ctx, endpoint, args)
			},
		})
	}
	return descs
}
