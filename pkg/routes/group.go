// Package routes declares HTTP routes as nested prefix groups registered on a ServeMux.
package routes

import (
	"net/http"

	"github.com/JaimeStill/meridian/pkg/openapi"
)

// Group organizes routes under a common prefix.
type Group struct {
	Prefix   string
	Routes   []Route
	Children []Group
}

// Register adds all routes from the given groups to the mux.
func Register(mux *http.ServeMux, groups ...Group) {
	for _, group := range groups {
		group.walk("", func(path string, route Route) {
			mux.HandleFunc(route.Method+" "+path, route.Handler)
		})
	}
}

// Describe adds every documented route in the groups to spec.
func Describe(spec *openapi.Spec, groups ...Group) {
	for _, group := range groups {
		group.walk("", func(path string, route Route) {
			if route.Doc != nil {
				spec.AddOperation(route.Method, path, route.Doc)
			}
		})
	}
}

// Patterns returns the "METHOD /path" patterns the group registers, in order.
func (g Group) Patterns() []string {
	var out []string
	g.walk("", func(path string, route Route) {
		out = append(out, route.Method+" "+path)
	})
	return out
}

func (g Group) walk(parent string, fn func(path string, route Route)) {
	prefix := parent + g.Prefix
	for _, route := range g.Routes {
		fn(prefix+route.Pattern, route)
	}
	for _, child := range g.Children {
		child.walk(prefix, fn)
	}
}
