package project

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHTTPMethod(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    HTTPMethod
		wantErr bool
	}{
		{"GET", MethodGet, false},
		{"get", MethodGet, false},
		{" Patch ", MethodPatch, false},
		{"POST", MethodPost, false},
		{"put", MethodPut, false},
		{"DELETE", MethodDelete, false},
		{"OPTIONS", "", true},
		{"", "", true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.input, func(t *testing.T) {
			t.Parallel()
			got, err := ParseHTTPMethod(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeSchema(t *testing.T) {
	raw := `[
		{"is_route_dynamic": false, "method": "get", "request_body": null, "response": [{"id": 1}], "route": "/task"},
		{"is_route_dynamic": true, "method": "DELETE", "request_body": null, "response": null, "route": "/task/{id}"}
	]`

	routes, err := DecodeSchema([]byte(raw))
	require.NoError(t, err)
	require.Len(t, routes, 2)

	assert.Equal(t, MethodGet, routes[0].Method)
	assert.Equal(t, "/task", routes[0].Route)
	assert.JSONEq(t, `[{"id": 1}]`, string(routes[0].Response))
	assert.True(t, routes[1].IsRouteDynamic)
}

func TestDecodeSchemaErrors(t *testing.T) {
	tests := map[string]string{
		"not json":       `this is not json`,
		"object":         `{"route": "/task"}`,
		"bad method":     `[{"method": "TRACE", "route": "/task"}]`,
		"missing method": `[{"route": "/task"}]`,
	}

	for name, raw := range tests {
		raw := raw
		t.Run(name, func(t *testing.T) {
			_, err := DecodeSchema([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestProbeableRoutes(t *testing.T) {
	schema := []EndpointRoute{
		{Method: MethodGet, Route: "/task"},
		{Method: MethodPost, Route: "/task"},
		{Method: MethodGet, Route: "/task/{id}", IsRouteDynamic: true},
		{Method: MethodPut, Route: "/task"},
		{Method: MethodGet, Route: "/health"},
		{Method: MethodDelete, Route: "/task/{id}", IsRouteDynamic: true},
	}

	got := ProbeableRoutes(schema)

	require.Len(t, got, 2)
	assert.Equal(t, "/task", got[0].Route)
	assert.Equal(t, "/health", got[1].Route)
	for _, r := range got {
		assert.Contains(t, schema, r)
		assert.Equal(t, MethodGet, r.Method)
		assert.False(t, r.IsRouteDynamic)
	}
	assert.Len(t, schema, 6, "input must not be modified")
}

func TestProbeableRoutesGetAndPost(t *testing.T) {
	schema := []EndpointRoute{
		{Method: MethodGet, Route: "/task", IsRouteDynamic: false},
		{Method: MethodPost, Route: "/task", IsRouteDynamic: false},
	}

	got := ProbeableRoutes(schema)

	require.Len(t, got, 1)
	assert.Equal(t, "/task", got[0].Route)
	assert.Equal(t, MethodGet, got[0].Method)
}

func TestProbeableRoutesEmpty(t *testing.T) {
	assert.Empty(t, ProbeableRoutes(nil))
}

func TestProjectCode(t *testing.T) {
	p := New("a todo app")
	assert.Equal(t, "", p.Code())

	p.SetCode("package main")
	assert.Equal(t, "package main", p.Code())

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"backend_code":"package main"`)
	assert.Contains(t, string(data), `"scope":null`)
}
