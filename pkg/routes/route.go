package routes

import (
	"net/http"

	"github.com/JaimeStill/meridian/pkg/openapi"
)

// Route binds an HTTP method and pattern to a handler. Doc, when set,
// describes the route in the published API document.
type Route struct {
	Method  string
	Pattern string
	Handler http.HandlerFunc
	Doc     *openapi.Operation
}
