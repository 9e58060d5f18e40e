// ABOUTME: resources/* and prompts/* methods of the HTTP transport, served from a catalog.
// ABOUTME: Catalog lookup failures map to invalid params; handler failures to internal errors.

package mcp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/2389/toolgate/internal/catalog"
)

// MCPResource is an entry of resources/list.
type MCPResource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// MCPResourceTemplate is an entry of resources/templates/list.
type MCPResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// MCPResourceContents is one item of a resources/read result.
type MCPResourceContents struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType,omitempty"`
	Text     string `json:"text"`
}

// MCPReadResourceResult is the result for resources/read.
type MCPReadResourceResult struct {
	Contents []MCPResourceContents `json:"contents"`
}

// MCPPromptArgument describes one prompt argument.
type MCPPromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// MCPPrompt is an entry of prompts/list.
type MCPPrompt struct {
	Name        string              `json:"name"`
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Arguments   []MCPPromptArgument `json:"arguments,omitempty"`
}

// MCPPromptMessage is one message of a prompts/get result.
type MCPPromptMessage struct {
	Role    string     `json:"role"`
	Content MCPContent `json:"content"`
}

// MCPGetPromptResult is the result for prompts/get.
type MCPGetPromptResult struct {
	Description string             `json:"description,omitempty"`
	Messages    []MCPPromptMessage `json:"messages"`
}

type readResourceParams struct {
	URI string `json:"uri"`
}

type getPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

func (s *Server) handleResourcesList(req JSONRPCRequest) *JSONRPCResponse {
	res := s.catalog.Resources()
	out := make([]MCPResource, len(res))
	for i, r := range res {
		out[i] = MCPResource{URI: r.URI, Name: r.Name, Title: r.Title, Description: r.Description, MIMEType: r.MIMEType}
	}
	return newResult(req.ID, map[string]any{"resources": out})
}

func (s *Server) handleResourceTemplatesList(req JSONRPCRequest) *JSONRPCResponse {
	tmpls := s.catalog.Templates()
	out := make([]MCPResourceTemplate, len(tmpls))
	for i, t := range tmpls {
		out[i] = MCPResourceTemplate{URITemplate: t.URITemplate, Name: t.Name, Title: t.Title, Description: t.Description, MIMEType: t.MIMEType}
	}
	return newResult(req.ID, map[string]any{"resourceTemplates": out})
}

func (s *Server) handleResourcesRead(ctx context.Context, sess *session, req JSONRPCRequest) *JSONRPCResponse {
	var params readResourceParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return newError(req.ID, JSONRPCInvalidParams, "invalid params", nil)
		}
	}
	if params.URI == "" {
		return newError(req.ID, JSONRPCInvalidParams, "uri is required", nil)
	}

	contents, err := s.catalog.Read(ctx, params.URI)
	if err != nil {
		return s.catalogError(req.ID, err, map[string]any{"uri": params.URI})
	}
	s.logger.Debug("resources/read", "session_id", sess.id, "uri", params.URI)
	return newResult(req.ID, MCPReadResourceResult{Contents: []MCPResourceContents{{
		URI:      contents.URI,
		MIMEType: contents.MIMEType,
		Text:     contents.Text,
	}}})
}

func (s *Server) handlePromptsList(req JSONRPCRequest) *JSONRPCResponse {
	prompts := s.catalog.Prompts()
	out := make([]MCPPrompt, len(prompts))
	for i, p := range prompts {
		out[i] = MCPPrompt{Name: p.Name, Title: p.Title, Description: p.Description}
		for _, a := range p.Arguments {
			out[i].Arguments = append(out[i].Arguments, MCPPromptArgument{Name: a.Name, Description: a.Description, Required: a.Required})
		}
	}
	return newResult(req.ID, map[string]any{"prompts": out})
}

func (s *Server) handlePromptsGet(ctx context.Context, sess *session, req JSONRPCRequest) *JSONRPCResponse {
	var params getPromptParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return newError(req.ID, JSONRPCInvalidParams, "invalid params", nil)
		}
	}
	if params.Name == "" {
		return newError(req.ID, JSONRPCInvalidParams, "prompt name is required", nil)
	}

	p, text, err := s.catalog.GetPrompt(ctx, params.Name, params.Arguments)
	if err != nil {
		return s.catalogError(req.ID, err, map[string]any{"name": params.Name})
	}
	s.logger.Debug("prompts/get", "session_id", sess.id, "prompt", params.Name)
	return newResult(req.ID, MCPGetPromptResult{
		Description: p.Description,
		Messages:    []MCPPromptMessage{{Role: "user", Content: MCPContent{Type: "text", Text: text}}},
	})
}

// catalogError maps a catalog failure to a JSON-RPC error.
func (s *Server) catalogError(id json.RawMessage, err error, data map[string]any) *JSONRPCResponse {
	var argErr *catalog.ArgumentError
	switch {
	case errors.Is(err, catalog.ErrResourceNotFound), errors.Is(err, catalog.ErrPromptNotFound):
		return newError(id, JSONRPCInvalidParams, err.Error(), data)
	case errors.As(err, &argErr):
		data["argument"] = argErr.Name
		return newError(id, JSONRPCInvalidParams, err.Error(), data)
	default:
		s.logger.Error("catalog request failed", "error", err)
		return newError(id, JSONRPCInternalError, err.Error(), data)
	}
}
