package openapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/JaimeStill/meridian/pkg/openapi"
)

func TestConfigFinalize(t *testing.T) {
	t.Setenv("TEST_OPENAPI_TITLE", "Batch API")

	cfg := openapi.Config{}
	if err := cfg.Finalize(&openapi.Env{Title: "TEST_OPENAPI_TITLE"}); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if cfg.Title != "Batch API" {
		t.Errorf("title: got %s, want Batch API", cfg.Title)
	}
	if cfg.Description == "" {
		t.Error("description default not applied")
	}
}

func TestAddOperation(t *testing.T) {
	spec := openapi.NewSpec(&openapi.Config{Title: "Test"}, "1.0.0")

	spec.AddOperation("GET", "/runs/{id}", &openapi.Operation{Summary: "find"})
	spec.AddOperation("POST", "/runs/{id}", &openapi.Operation{Summary: "update"})
	spec.AddOperation("GET", "/files/{key...}", &openapi.Operation{Summary: "file"})

	item := spec.Paths["/runs/{id}"]
	if item["get"].Summary != "find" || item["post"].Summary != "update" {
		t.Errorf("path item: got %+v", item)
	}
	if _, ok := spec.Paths["/files/{key}"]; !ok {
		t.Error("wildcard suffix not normalized")
	}
}

func TestHandler(t *testing.T) {
	spec := openapi.NewSpec(&openapi.Config{Title: "Test"}, "2.0.0")
	spec.AddServer("/api")
	spec.AddSchemas(map[string]*openapi.Schema{"Run": {Type: "object"}})
	spec.AddOperation("GET", "/runs", &openapi.Operation{
		Parameters: openapi.PageParams(),
		Responses: map[int]*openapi.Response{
			http.StatusOK:         openapi.ResponseJSON("Runs", "Run"),
			http.StatusBadRequest: openapi.ResponseRef("BadRequest"),
		},
	})

	handler, err := spec.Handler()
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("content type: got %s", ct)
	}

	var doc struct {
		OpenAPI string `json:"openapi"`
		Info    struct {
			Version string `json:"version"`
		} `json:"info"`
		Paths map[string]map[string]struct {
			Responses map[string]struct {
				Ref string `json:"$ref"`
			} `json:"responses"`
		} `json:"paths"`
		Components struct {
			Schemas map[string]any `json:"schemas"`
		} `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if doc.OpenAPI != "3.1.0" || doc.Info.Version != "2.0.0" {
		t.Errorf("header: got %s %s", doc.OpenAPI, doc.Info.Version)
	}
	if got := doc.Paths["/runs"]["get"].Responses["400"].Ref; got != "#/components/responses/BadRequest" {
		t.Errorf("400 ref: got %s", got)
	}
	for _, name := range []string{"Error", "Run"} {
		if _, ok := doc.Components.Schemas[name]; !ok {
			t.Errorf("schema %s missing", name)
		}
	}
}
