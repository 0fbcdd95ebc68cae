package config

import (
	"fmt"
	"strings"

	"github.com/JaimeStill/meridian/pkg/formatting"
	"github.com/JaimeStill/meridian/pkg/openapi"
	"github.com/JaimeStill/meridian/pkg/pagination"
)

const (
	EnvAPIBasePath        = "MERIDIAN_API_BASE_PATH"
	EnvAPIMaxManifestSize = "MERIDIAN_API_MAX_MANIFEST_SIZE"
)

var paginationEnv = &pagination.Env{
	DefaultPageSize: "MERIDIAN_PAGINATION_DEFAULT_PAGE_SIZE",
	MaxPageSize:     "MERIDIAN_PAGINATION_MAX_PAGE_SIZE",
}

var openapiEnv = &openapi.Env{
	Title:       "MERIDIAN_OPENAPI_TITLE",
	Description: "MERIDIAN_OPENAPI_DESCRIPTION",
}

// APIConfig holds API routing, manifest upload, pagination, and API document settings.
type APIConfig struct {
	BasePath        string            `toml:"base_path"`
	MaxManifestSize string            `toml:"max_manifest_size"`
	Pagination      pagination.Config `toml:"pagination"`
	OpenAPI         openapi.Config    `toml:"openapi"`
}

// MaxManifestSizeBytes returns MaxManifestSize in bytes. Valid after Finalize.
func (c *APIConfig) MaxManifestSizeBytes() int64 {
	n, _ := formatting.ParseBytes(c.MaxManifestSize)
	return n
}

// Finalize applies defaults, environment overrides, and validation
// for the API config and its nested pagination and document configs.
func (c *APIConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.Pagination.Finalize(paginationEnv); err != nil {
		return fmt.Errorf("pagination: %w", err)
	}
	if err := c.OpenAPI.Finalize(openapiEnv); err != nil {
		return fmt.Errorf("openapi: %w", err)
	}
	return nil
}

// Merge overwrites non-zero fields from overlay.
func (c *APIConfig) Merge(overlay *APIConfig) {
	mergeString(&c.BasePath, overlay.BasePath)
	mergeString(&c.MaxManifestSize, overlay.MaxManifestSize)
	c.Pagination.Merge(&overlay.Pagination)
	c.OpenAPI.Merge(&overlay.OpenAPI)
}

func (c *APIConfig) loadDefaults() {
	if c.BasePath == "" {
		c.BasePath = "/api"
	}
	if c.MaxManifestSize == "" {
		c.MaxManifestSize = "10MB"
	}
}

func (c *APIConfig) loadEnv() {
	envString(&c.BasePath, EnvAPIBasePath)
	envString(&c.MaxManifestSize, EnvAPIMaxManifestSize)
}

func (c *APIConfig) validate() error {
	if !strings.HasPrefix(c.BasePath, "/") || strings.HasSuffix(c.BasePath, "/") {
		return fmt.Errorf("base_path must start with and not end with /: %q", c.BasePath)
	}
	n, err := formatting.ParseBytes(c.MaxManifestSize)
	if err != nil {
		return fmt.Errorf("invalid max_manifest_size: %w", err)
	}
	if n < 1 {
		return fmt.Errorf("max_manifest_size must be positive")
	}
	return nil
}
