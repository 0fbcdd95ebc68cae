package runs

import (
	"net/http"

	"github.com/JaimeStill/meridian/pkg/openapi"
)

// Schemas returns the component schemas referenced by the run routes.
func Schemas() map[string]*openapi.Schema {
	optional := func(desc string) *openapi.Schema {
		return &openapi.Schema{Type: "string", Description: desc}
	}
	timestamp := &openapi.Schema{Type: "string", Format: "date-time"}
	merchants := &openapi.Schema{
		Type:                 "object",
		Description:          "Marketplace identifier to merchant identifiers",
		AdditionalProperties: &openapi.Schema{Type: "array", Items: &openapi.Schema{Type: "string"}},
	}

	return map[string]*openapi.Schema{
		"Run": {
			Type: "object",
			Properties: map[string]*openapi.Schema{
				"id":     {Type: "string", Format: "uuid"},
				"status": {Type: "string", Enum: []string{"PENDING", "RUNNING", "SUCCEEDED", "FAILED", "CANCELLED"}},
				"state": {
					Type:        "string",
					Description: "Latest orchestrator state",
					Example:     "Decide",
				},
				"input_file":              {Type: "string"},
				"failure_file":            optional("Object key of the failure report"),
				"workflow_type":           optional("UPDATE or ONBOARD"),
				"driver_status":           optional("Status from the latest driver response"),
				"driver_invocations":      {Type: "integer"},
				"subworkflow_invocations": {Type: "integer"},
				"recoveries":              {Type: "integer"},
				"error":                   optional("Cause of a failed or cancelled run"),
				"item":                    {Type: "object", Description: "Latest work item"},
				"submitted_at":            timestamp,
				"started_at":              timestamp,
				"completed_at":            timestamp,
				"updated_at":              timestamp,
			},
		},
		"RunPage": {
			Type: "object",
			Properties: map[string]*openapi.Schema{
				"data":        {Type: "array", Items: openapi.SchemaRef("Run")},
				"total":       {Type: "integer"},
				"page":        {Type: "integer"},
				"page_size":   {Type: "integer"},
				"total_pages": {Type: "integer"},
			},
		},
		"Step": {
			Type: "object",
			Properties: map[string]*openapi.Schema{
				"run_id":         {Type: "string", Format: "uuid"},
				"seq":            {Type: "integer"},
				"from_state":     {Type: "string"},
				"to_state":       {Type: "string"},
				"driver_status":  optional(""),
				"workflow_type":  optional(""),
				"merchant_count": {Type: "integer"},
				"error":          optional(""),
				"occurred_at":    timestamp,
			},
		},
		"StepList": {Type: "array", Items: openapi.SchemaRef("Step")},
		"SubmitCommand": {
			Type:     "object",
			Required: []string{"input_file"},
			Properties: map[string]*openapi.Schema{
				"input_file":                  {Type: "string", Description: "Object key of a stored manifest"},
				"failure_file":                {Type: "string"},
				"marketplaceIdMerchantIdsMap": merchants,
			},
		},
	}
}

var runID = openapi.PathParam("id", "Run identifier")

func accepted() map[int]*openapi.Response {
	return map[int]*openapi.Response{
		http.StatusAccepted:            openapi.ResponseJSON("Run recorded and queued", "Run"),
		http.StatusBadRequest:          openapi.ResponseRef("BadRequest"),
		http.StatusUnprocessableEntity: openapi.ResponseRef("BadRequest"),
		http.StatusServiceUnavailable:  openapi.ResponseRef("ServiceUnavailable"),
	}
}

var docs = struct {
	list, submit, upload, find, steps, cancel, failures *openapi.Operation
}{
	list: &openapi.Operation{
		Summary: "List runs",
		Tags:    []string{"runs"},
		Parameters: append(openapi.PageParams(),
			openapi.QueryParam("status", "string", "Filter by run status"),
			openapi.QueryParam("state", "string", "Filter by orchestrator state"),
			openapi.QueryParam("workflow_type", "string", "Filter by workflow type"),
			openapi.QueryParam("input_file", "string", "Substring match on the input file"),
		),
		Responses: map[int]*openapi.Response{
			http.StatusOK: openapi.ResponseJSON("Page of runs", "RunPage"),
		},
	},
	submit: &openapi.Operation{
		Summary:     "Submit a stored manifest",
		Tags:        []string{"runs"},
		RequestBody: openapi.RequestBodyJSON("SubmitCommand"),
		Responses:   accepted(),
	},
	upload: &openapi.Operation{
		Summary: "Upload and submit a manifest",
		Tags:    []string{"runs"},
		RequestBody: openapi.RequestBodyMultipart(map[string]*openapi.Schema{
			"file":         {Type: "string", Format: "binary"},
			"failure_file": {Type: "string"},
		}, "file"),
		Responses: accepted(),
	},
	find: &openapi.Operation{
		Summary:    "Get a run",
		Tags:       []string{"runs"},
		Parameters: []*openapi.Parameter{runID},
		Responses: map[int]*openapi.Response{
			http.StatusOK:       openapi.ResponseJSON("Run", "Run"),
			http.StatusNotFound: openapi.ResponseRef("NotFound"),
		},
	},
	steps: &openapi.Operation{
		Summary:    "List the recorded transitions of a run",
		Tags:       []string{"runs"},
		Parameters: []*openapi.Parameter{runID},
		Responses: map[int]*openapi.Response{
			http.StatusOK:       openapi.ResponseJSON("Steps in order", "StepList"),
			http.StatusNotFound: openapi.ResponseRef("NotFound"),
		},
	},
	cancel: &openapi.Operation{
		Summary:    "Cancel a pending or running run",
		Tags:       []string{"runs"},
		Parameters: []*openapi.Parameter{runID},
		Responses: map[int]*openapi.Response{
			http.StatusOK:       openapi.ResponseJSON("Run after the cancel request", "Run"),
			http.StatusNotFound: openapi.ResponseRef("NotFound"),
			http.StatusConflict: openapi.ResponseRef("Conflict"),
		},
	},
	failures: &openapi.Operation{
		Summary:    "Download the run's failure file",
		Tags:       []string{"runs"},
		Parameters: []*openapi.Parameter{runID},
		Responses: map[int]*openapi.Response{
			http.StatusOK:       {Description: "Failure file contents"},
			http.StatusNotFound: openapi.ResponseRef("NotFound"),
		},
	},
}
