// Package runs implements the batch run domain: submission, persistence of
// orchestrator progress, dispatch to a bounded worker pool, and cancellation.
package runs

import (
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/meridian/internal/workflow"
)

// Status is the lifecycle status of a run.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the run has finished.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// StatusFor maps a terminal orchestrator state to a run status.
func StatusFor(state workflow.State) Status {
	switch state {
	case workflow.StateSucceed:
		return StatusSucceeded
	case workflow.StateCancelled:
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// Run is one submitted batch and the latest progress of its execution.
type Run struct {
	ID                     uuid.UUID         `json:"id"`
	Status                 Status            `json:"status"`
	State                  workflow.State    `json:"state"`
	InputFile              string            `json:"input_file"`
	FailureFile            *string           `json:"failure_file"`
	WorkflowType           *string           `json:"workflow_type"`
	DriverStatus           *string           `json:"driver_status"`
	DriverInvocations      int               `json:"driver_invocations"`
	SubWorkflowInvocations int               `json:"subworkflow_invocations"`
	Recoveries             int               `json:"recoveries"`
	Error                  *string           `json:"error"`
	Input                  workflow.WorkItem `json:"-"`
	Item                   workflow.WorkItem `json:"item"`
	SubmittedAt            time.Time         `json:"submitted_at"`
	StartedAt              *time.Time        `json:"started_at"`
	CompletedAt            *time.Time        `json:"completed_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
}

// Step is one recorded orchestrator transition.
type Step struct {
	RunID         uuid.UUID      `json:"run_id"`
	Seq           int            `json:"seq"`
	FromState     workflow.State `json:"from_state"`
	ToState       workflow.State `json:"to_state"`
	DriverStatus  *string        `json:"driver_status"`
	WorkflowType  *string        `json:"workflow_type"`
	MerchantCount int            `json:"merchant_count"`
	Error         *string        `json:"error"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// SubmitCommand requests a run over a manifest that already exists in storage.
// MarketplaceIDMerchantIDsMap optionally seeds the first driver invocation.
type SubmitCommand struct {
	InputFile                   string               `json:"input_file"`
	FailureFile                 string               `json:"failure_file,omitempty"`
	MarketplaceIDMerchantIDsMap workflow.MerchantMap `json:"marketplaceIdMerchantIdsMap,omitempty"`
}

// WorkItem returns the initial work item for the command.
func (c SubmitCommand) WorkItem() workflow.WorkItem {
	return workflow.WorkItem{
		InputFile:                   c.InputFile,
		FailureFile:                 c.FailureFile,
		MarketplaceIDMerchantIDsMap: c.MarketplaceIDMerchantIDsMap.Clone(),
	}
}

// UploadCommand carries a manifest to store and submit.
type UploadCommand struct {
	Data        []byte
	Filename    string
	ContentType string
	FailureFile string
}
