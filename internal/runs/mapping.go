package runs

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/JaimeStill/meridian/internal/workflow"
	"github.com/JaimeStill/meridian/pkg/query"
	"github.com/JaimeStill/meridian/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "runs", "r").
	Project("id", "ID").
	Project("status", "Status").
	Project("state", "State").
	Project("input_file", "InputFile").
	Project("failure_file", "FailureFile").
	Project("workflow_type", "WorkflowType").
	Project("driver_status", "DriverStatus").
	Project("driver_invocations", "DriverInvocations").
	Project("subworkflow_invocations", "SubWorkflowInvocations").
	Project("recoveries", "Recoveries").
	Project("error", "Error").
	Project("input", "Input").
	Project("item", "Item").
	Project("submitted_at", "SubmittedAt").
	Project("started_at", "StartedAt").
	Project("completed_at", "CompletedAt").
	Project("updated_at", "UpdatedAt")

// returning is the column list for INSERT/UPDATE ... RETURNING, matching scanRun.
var returning = strings.ReplaceAll(projection.Columns(), "r.", "")

var defaultSort = query.SortField{
	Field:      "SubmittedAt",
	Descending: true,
}

// Filters contains optional filtering criteria for run queries.
// Nil fields are ignored. Status, State, and WorkflowType match exactly;
// InputFile matches case-insensitive substrings.
type Filters struct {
	Status       *string `json:"status,omitempty"`
	State        *string `json:"state,omitempty"`
	WorkflowType *string `json:"workflow_type,omitempty"`
	InputFile    *string `json:"input_file,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("Status", f.Status).
		WhereEquals("State", f.State).
		WhereEquals("WorkflowType", f.WorkflowType).
		WhereContains("InputFile", f.InputFile)
}

// FiltersFromQuery extracts filter values from URL query parameters.
// Status and workflow type are normalized to upper case.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if s := values.Get("status"); s != "" {
		s = strings.ToUpper(s)
		f.Status = &s
	}
	if st := values.Get("state"); st != "" {
		f.State = &st
	}
	if wt := values.Get("workflow_type"); wt != "" {
		wt = strings.ToUpper(wt)
		f.WorkflowType = &wt
	}
	if in := values.Get("input_file"); in != "" {
		f.InputFile = &in
	}

	return f
}

func scanRun(s repository.Scanner) (Run, error) {
	var (
		r           Run
		input, item []byte
	)

	err := s.Scan(
		&r.ID,
		&r.Status,
		&r.State,
		&r.InputFile,
		&r.FailureFile,
		&r.WorkflowType,
		&r.DriverStatus,
		&r.DriverInvocations,
		&r.SubWorkflowInvocations,
		&r.Recoveries,
		&r.Error,
		&input,
		&item,
		&r.SubmittedAt,
		&r.StartedAt,
		&r.CompletedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return r, err
	}

	if err := json.Unmarshal(input, &r.Input); err != nil {
		return r, fmt.Errorf("decode run input: %w", err)
	}
	if err := json.Unmarshal(item, &r.Item); err != nil {
		return r, fmt.Errorf("decode run item: %w", err)
	}
	return r, nil
}

func scanStep(s repository.Scanner) (Step, error) {
	var st Step
	err := s.Scan(
		&st.RunID,
		&st.Seq,
		&st.FromState,
		&st.ToState,
		&st.DriverStatus,
		&st.WorkflowType,
		&st.MerchantCount,
		&st.Error,
		&st.OccurredAt,
	)
	return st, err
}

// encodeItem renders a work item for a JSONB column.
func encodeItem(item workflow.WorkItem) (string, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("encode work item: %w", err)
	}
	return string(data), nil
}

// nullable returns nil for the empty string so it is stored as NULL.
func nullable[T ~string](v T) *string {
	if v == "" {
		return nil
	}
	s := string(v)
	return &s
}

func errorText(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}
