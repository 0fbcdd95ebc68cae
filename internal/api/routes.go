package api

import (
	"fmt"
	"net/http"

	"github.com/JaimeStill/meridian/internal/config"
	"github.com/JaimeStill/meridian/internal/runs"
	"github.com/JaimeStill/meridian/pkg/openapi"
	"github.com/JaimeStill/meridian/pkg/routes"
)

func registerRoutes(
	mux *http.ServeMux,
	domain *Domain,
	cfg *config.Config,
) error {
	groups := []routes.Group{
		domain.Runs.Handler(cfg.API.MaxManifestSizeBytes()).Routes(),
	}
	routes.Register(mux, groups...)

	spec := openapi.NewSpec(&cfg.API.OpenAPI, cfg.Version)
	spec.AddServer(cfg.API.BasePath)
	spec.AddSchemas(runs.Schemas())
	routes.Describe(spec, groups...)

	serve, err := spec.Handler()
	if err != nil {
		return fmt.Errorf("openapi document: %w", err)
	}
	mux.HandleFunc("GET /openapi.json", serve)
	return nil
}
