// ABOUTME: Upstream service definition files: parsing (JSON, YAML, TOML), defaults and validation.
// ABOUTME: A file holds one service_config plus one service_definition with named endpoints.

package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/toolgate/internal/config"
	"github.com/2389/toolgate/internal/tools"
)

// Content types for request bodies.
const (
	ContentJSON = "json"
	ContentForm = "form-data"
)

// Response formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// ErrUnsupportedFormat is returned for files without a known extension.
var ErrUnsupportedFormat = errors.New("unsupported service file format")

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Service is a validated upstream service definition.
type Service struct {
	Name        string
	Category    string
	Description string
	Enabled     bool

	BaseURL    string
	APIKey     string
	Version    string
	Timeout    time.Duration
	MaxRetries int
	CacheTTL   time.Duration

	// Endpoints are sorted by name.
	Endpoints []Endpoint
	// File is the path the service was loaded from.
	File string
}

// Endpoint returns the endpoint with the given name.
func (s *Service) Endpoint(name string) (Endpoint, bool) {
	for _, ep := range s.Endpoints {
		if ep.Name == name {
			return ep, true
		}
	}
	return Endpoint{}, false
}

// Endpoint is one callable operation of a service.
type Endpoint struct {
	Name           string
	Path           string
	Method         string
	Description    string
	Params         []ParamDef
	ResponseFormat string
	RequiresAuth   bool
	// RateLimit is the number of calls allowed per minute; 0 is unlimited.
	RateLimit   int
	ContentType string
}

// ParamDef describes one endpoint parameter.
type ParamDef struct {
	Name        string
	Type        tools.ParamType
	Description string
	Required    bool
	Default     any
}

// serviceFile is the on-disk shape shared by all formats.
type serviceFile struct {
	Config     rawConfig     `json:"service_config" yaml:"service_config" toml:"service_config"`
	Definition rawDefinition `json:"service_definition" yaml:"service_definition" toml:"service_definition"`
}

type rawConfig struct {
	Name       string `json:"name" yaml:"name" toml:"name"`
	BaseURL    string `json:"base_url" yaml:"base_url" toml:"base_url"`
	APIKey     string `json:"api_key" yaml:"api_key" toml:"api_key"`
	Version    string `json:"version" yaml:"version" toml:"version"`
	Timeout    int    `json:"timeout" yaml:"timeout" toml:"timeout"`
	MaxRetries int    `json:"max_retries" yaml:"max_retries" toml:"max_retries"`
	CacheTTL   *int   `json:"cache_ttl" yaml:"cache_ttl" toml:"cache_ttl"`
}

type rawDefinition struct {
	Name        string                 `json:"name" yaml:"name" toml:"name"`
	Category    string                 `json:"category" yaml:"category" toml:"category"`
	Description string                 `json:"description" yaml:"description" toml:"description"`
	Enabled     *bool                  `json:"enabled" yaml:"enabled" toml:"enabled"`
	Endpoints   map[string]rawEndpoint `json:"endpoints" yaml:"endpoints" toml:"endpoints"`
}

type rawEndpoint struct {
	Path           string              `json:"path" yaml:"path" toml:"path"`
	Method         string              `json:"method" yaml:"method" toml:"method"`
	Description    string              `json:"description" yaml:"description" toml:"description"`
	Parameters     map[string]rawParam `json:"parameters" yaml:"parameters" toml:"parameters"`
	ResponseFormat string              `json:"response_format" yaml:"response_format" toml:"response_format"`
	RequiresAuth   *bool               `json:"requires_auth" yaml:"requires_auth" toml:"requires_auth"`
	RateLimit      int                 `json:"rate_limit" yaml:"rate_limit" toml:"rate_limit"`
	ContentType    string              `json:"content_type" yaml:"content_type" toml:"content_type"`
}

type rawParam struct {
	Type        string `json:"type" yaml:"type" toml:"type"`
	Description string `json:"description" yaml:"description" toml:"description"`
	Required    bool   `json:"required" yaml:"required" toml:"required"`
	Default     any    `json:"defaultValue" yaml:"defaultValue" toml:"defaultValue"`
}

// IsServiceFile reports whether path has a service definition extension.
func IsServiceFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml", ".toml":
		return true
	}
	return false
}

// LoadFile reads and validates a service definition file. Environment
// variables in the form ${VAR} are expanded before parsing.
func LoadFile(path string) (*Service, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading service file: %w", err)
	}
	svc, err := Parse(filepath.Ext(path), data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	svc.File = path
	return svc, nil
}

// Parse decodes service definition content. ext selects the format
// (".json", ".yaml", ".yml" or ".toml").
func Parse(ext string, data []byte) (*Service, error) {
	expanded := []byte(config.ExpandEnv(string(data)))

	var file serviceFile
	var err error
	switch strings.ToLower(ext) {
	case ".json":
		err = json.Unmarshal(expanded, &file)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(expanded, &file)
	case ".toml":
		err = toml.Unmarshal(expanded, &file)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing service file: %w", err)
	}

	return file.build()
}

func (f serviceFile) build() (*Service, error) {
	c, d := f.Config, f.Definition

	svc := &Service{
		Name:        d.Name,
		Category:    d.Category,
		Description: d.Description,
		Enabled:     d.Enabled == nil || *d.Enabled,
		BaseURL:     c.BaseURL,
		APIKey:      c.APIKey,
		Version:     c.Version,
		Timeout:     time.Duration(c.Timeout) * time.Second,
		MaxRetries:  c.MaxRetries,
		CacheTTL:    300 * time.Second,
	}
	if svc.Name == "" {
		svc.Name = c.Name
	}
	if svc.Version == "" {
		svc.Version = "v1"
	}
	if svc.Timeout <= 0 {
		svc.Timeout = 30 * time.Second
	}
	if svc.MaxRetries <= 0 {
		svc.MaxRetries = 3
	}
	if c.CacheTTL != nil {
		svc.CacheTTL = time.Duration(*c.CacheTTL) * time.Second
	}

	if !namePattern.MatchString(svc.Name) {
		return nil, fmt.Errorf("invalid service name %q", svc.Name)
	}
	u, err := url.Parse(svc.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("service %s: base_url must be an absolute http(s) URL, got %q", svc.Name, svc.BaseURL)
	}

	names := make([]string, 0, len(d.Endpoints))
	for name := range d.Endpoints {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ep, err := buildEndpoint(name, d.Endpoints[name])
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", svc.Name, err)
		}
		svc.Endpoints = append(svc.Endpoints, ep)
	}
	return svc, nil
}

func buildEndpoint(name string, raw rawEndpoint) (Endpoint, error) {
	ep := Endpoint{
		Name:           name,
		Path:           raw.Path,
		Method:         strings.ToUpper(raw.Method),
		Description:    raw.Description,
		ResponseFormat: strings.ToLower(raw.ResponseFormat),
		RequiresAuth:   raw.RequiresAuth == nil || *raw.RequiresAuth,
		RateLimit:      raw.RateLimit,
		ContentType:    strings.ToLower(raw.ContentType),
	}
	if ep.Method == "" {
		ep.Method = "GET"
	}
	if ep.ResponseFormat == "" {
		ep.ResponseFormat = FormatJSON
	}
	if ep.ContentType == "" {
		ep.ContentType = ContentJSON
	}

	if !namePattern.MatchString(name) {
		return ep, fmt.Errorf("invalid endpoint name %q", name)
	}
	if ep.Path == "" {
		return ep, fmt.Errorf("endpoint %s: path is required", name)
	}
	switch ep.Method {
	case "GET", "POST", "PUT", "PATCH", "DELETE":
	default:
		return ep, fmt.Errorf("endpoint %s: unsupported method %q", name, ep.Method)
	}
	if ep.ContentType != ContentJSON && ep.ContentType != ContentForm {
		return ep, fmt.Errorf("endpoint %s: content_type must be %s or %s", name, ContentJSON, ContentForm)
	}
	if ep.ResponseFormat != FormatJSON && ep.ResponseFormat != FormatText {
		return ep, fmt.Errorf("endpoint %s: response_format must be %s or %s", name, FormatJSON, FormatText)
	}
	if ep.RateLimit < 0 {
		return ep, fmt.Errorf("endpoint %s: rate_limit must not be negative", name)
	}

	params := make([]string, 0, len(raw.Parameters))
	for p := range raw.Parameters {
		params = append(params, p)
	}
	sort.Strings(params)
	for _, p := range params {
		rp := raw.Parameters[p]
		typ := tools.ParamType(strings.ToLower(rp.Type))
		if !typ.Valid() {
			// Untyped and unknown parameters are passed as strings.
			typ = tools.TypeString
		}
		if rp.Required && rp.Default != nil {
			return ep, fmt.Errorf("endpoint %s: required parameter %q has a default", name, p)
		}
		ep.Params = append(ep.Params, ParamDef{
			Name:        p,
			Type:        typ,
			Description: rp.Description,
			Required:    rp.Required,
			Default:     rp.Default,
		})
	}
	return ep, nil
}
