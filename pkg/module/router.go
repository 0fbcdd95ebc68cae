package module

import (
	"cmp"
	"net/http"
	"slices"
	"strings"
)

// Router dispatches requests to mounted modules by path prefix,
// falling back to a native ServeMux for unmatched paths.
// The longest matching prefix wins.
type Router struct {
	modules []*Module
	native  *http.ServeMux
}

// NewRouter creates a Router with no modules and an empty native fallback mux.
func NewRouter() *Router {
	return &Router{
		native: http.NewServeMux(),
	}
}

// HandleNative registers a handler on the native fallback mux.
func (r *Router) HandleNative(pattern string, handler http.HandlerFunc) {
	r.native.HandleFunc(pattern, handler)
}

// Mount registers a module to handle requests matching its prefix.
// A module mounted at an existing prefix replaces the earlier one.
func (r *Router) Mount(m *Module) {
	r.modules = slices.DeleteFunc(r.modules, func(existing *Module) bool {
		return existing.prefix == m.prefix
	})
	r.modules = append(r.modules, m)
	slices.SortFunc(r.modules, func(a, b *Module) int {
		return cmp.Compare(len(b.prefix), len(a.prefix))
	})
}

// ServeHTTP dispatches to the matching module or falls back to the native mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	path := normalizePath(req)

	for _, m := range r.modules {
		if m.Matches(path) {
			m.Serve(w, req)
			return
		}
	}

	r.native.ServeHTTP(w, req)
}

func normalizePath(req *http.Request) string {
	path := req.URL.Path
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
		req.URL.Path = path
	}
	return path
}
