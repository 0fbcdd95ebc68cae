// Package openapi builds and serves an OpenAPI 3.1 description of the HTTP API.
package openapi

import (
	"encoding/json"
	"maps"
	"net/http"
	"strings"
)

// Spec represents an OpenAPI 3.1 document.
type Spec struct {
	OpenAPI    string              `json:"openapi"`
	Info       *Info               `json:"info"`
	Servers    []*Server           `json:"servers,omitempty"`
	Paths      map[string]PathItem `json:"paths"`
	Components *Components         `json:"components,omitempty"`
}

// NewSpec creates a Spec from cfg with the shared error schema and responses.
func NewSpec(cfg *Config, version string) *Spec {
	return &Spec{
		OpenAPI: "3.1.0",
		Info: &Info{
			Title:       cfg.Title,
			Version:     version,
			Description: cfg.Description,
		},
		Paths: make(map[string]PathItem),
		Components: &Components{
			Schemas: map[string]*Schema{
				"Error": {
					Type:       "object",
					Properties: map[string]*Schema{"error": {Type: "string"}},
					Required:   []string{"error"},
				},
			},
			Responses: map[string]*Response{
				"BadRequest":         errorResponse("Invalid request"),
				"NotFound":           errorResponse("Resource not found"),
				"Conflict":           errorResponse("Request conflicts with the resource state"),
				"ServiceUnavailable": errorResponse("Service cannot accept the request now"),
			},
		},
	}
}

// AddServer appends a server URL to the document.
func (s *Spec) AddServer(url string) {
	s.Servers = append(s.Servers, &Server{URL: url})
}

// AddOperation documents op at method and path. Paths use the {name}
// wildcard form shared by ServeMux patterns; a trailing {name...} is
// written as {name}.
func (s *Spec) AddOperation(method, path string, op *Operation) {
	path = strings.ReplaceAll(path, "...}", "}")
	if path == "" {
		path = "/"
	}

	item, ok := s.Paths[path]
	if !ok {
		item = make(PathItem)
		s.Paths[path] = item
	}
	item[strings.ToLower(method)] = op
}

// AddSchemas merges the given schemas into the component schemas.
func (s *Spec) AddSchemas(schemas map[string]*Schema) {
	maps.Copy(s.Components.Schemas, schemas)
}

// Handler serializes the document once and returns a handler serving it.
func (s *Spec) Handler() (http.HandlerFunc, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}, nil
}

func errorResponse(description string) *Response {
	return &Response{
		Description: description,
		Content: map[string]*MediaType{
			"application/json": {Schema: SchemaRef("Error")},
		},
	}
}
