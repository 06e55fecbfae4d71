// Package project holds the record that agents fill in while turning a user
// request into a running backend.
package project

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Scope is the architect's reading of what the request needs.
type Scope struct {
	IsCRUDRequired               bool `json:"is_crud_required"`
	IsUserLoginAndLogoutRequired bool `json:"is_user_login_and_logout_required"`
	IsExternalURLsRequired       bool `json:"is_external_urls_required"`
}

// Project is created once per user request and handed to one agent at a
// time. Optional fields are nil until the owning agent fills them in.
type Project struct {
	Description       string          `json:"description"`
	Scope             *Scope          `json:"scope"`
	ExternalURLs      []string        `json:"external_urls"`
	BackendCode       *string         `json:"backend_code"`
	APIEndpointSchema []EndpointRoute `json:"api_endpoint_schema"`
}

// New returns a project with only the description set.
func New(description string) *Project {
	return &Project{Description: description}
}

// Code returns the generated backend code, or "" when none exists yet.
func (p *Project) Code() string {
	if p.BackendCode == nil {
		return ""
	}
	return *p.BackendCode
}

// SetCode stores generated backend code on the project.
func (p *Project) SetCode(code string) {
	p.BackendCode = &code
}

// HTTPMethod is one of the methods the schema extractor may report.
type HTTPMethod string

const (
	MethodGet    HTTPMethod = "GET"
	MethodPatch  HTTPMethod = "PATCH"
	MethodPost   HTTPMethod = "POST"
	MethodPut    HTTPMethod = "PUT"
	MethodDelete HTTPMethod = "DELETE"
)

// ParseHTTPMethod normalizes s and rejects anything outside the supported set.
func ParseHTTPMethod(s string) (HTTPMethod, error) {
	m := HTTPMethod(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case MethodGet, MethodPatch, MethodPost, MethodPut, MethodDelete:
		return m, nil
	default:
		return "", fmt.Errorf("unsupported HTTP method %q", s)
	}
}

// UnmarshalJSON accepts the method in any case.
func (m *HTTPMethod) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("method must be a string: %w", err)
	}
	parsed, err := ParseHTTPMethod(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// EndpointRoute describes one route of the generated server. Request and
// response shapes are kept as raw JSON.
type EndpointRoute struct {
	IsRouteDynamic bool            `json:"is_route_dynamic"`
	Method         HTTPMethod      `json:"method"`
	RequestBody    json.RawMessage `json:"request_body"`
	Response       json.RawMessage `json:"response"`
	Route          string          `json:"route"`
}

// Probeable reports whether the route can be hit without side effects or
// guessing path parameters.
func (r EndpointRoute) Probeable() bool {
	return r.Method == MethodGet && !r.IsRouteDynamic
}

// ProbeableRoutes returns, in order, the routes of schema that are static GETs.
// The input slice is not modified.
func ProbeableRoutes(schema []EndpointRoute) []EndpointRoute {
	out := make([]EndpointRoute, 0, len(schema))
	for _, r := range schema {
		if r.Probeable() {
			out = append(out, r)
		}
	}
	return out
}

// DecodeSchema parses the extractor's JSON array of routes.
func DecodeSchema(data []byte) ([]EndpointRoute, error) {
	var routes []EndpointRoute
	if err := json.Unmarshal(data, &routes); err != nil {
		return nil, fmt.Errorf("failed to decode endpoint schema: %w", err)
	}
	for i, r := range routes {
		if r.Method == "" {
			return nil, fmt.Errorf("endpoint %d (%q) has no method", i, r.Route)
		}
	}
	return routes, nil
}
