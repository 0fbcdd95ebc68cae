package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/meridian/pkg/invoke"
)

// Caller issues a JSON request and decodes the response.
// *invoke.Client satisfies it.
type Caller interface {
	Do(ctx context.Context, method, path string, in, out any) error
}

// HTTPDriver invokes a remote driver endpoint with a JSON DriverRequest.
type HTTPDriver struct {
	client Caller
	path   string
}

// NewHTTPDriver creates a driver that POSTs to path on client.
func NewHTTPDriver(client Caller, path string) *HTTPDriver {
	return &HTTPDriver{client: client, path: path}
}

func (d *HTTPDriver) Invoke(ctx context.Context, req DriverRequest) (DriverResponse, error) {
	var resp DriverResponse
	if err := d.client.Do(ctx, http.MethodPost, d.path, req, &resp); err != nil {
		return DriverResponse{}, classify(err)
	}
	return resp, nil
}

// ExecutionStatus is the lifecycle state reported by a remote child execution.
type ExecutionStatus string

// Remote execution states.
const (
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionSucceeded ExecutionStatus = "SUCCEEDED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionTimedOut  ExecutionStatus = "TIMED_OUT"
	ExecutionAborted   ExecutionStatus = "ABORTED"
)

// Terminal reports whether the execution has stopped.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionSucceeded, ExecutionFailed, ExecutionTimedOut, ExecutionAborted:
		return true
	}
	return false
}

// Execution is the remote representation of a child workflow run.
type Execution struct {
	ExecutionID string             `json:"executionId"`
	Status      ExecutionStatus    `json:"status"`
	Output      *SubWorkflowOutput `json:"output,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// HTTPSubWorkflow starts a remote child workflow and polls it to completion.
type HTTPSubWorkflow struct {
	client Caller
	name   string
	retry  RetryPolicy
	poll   time.Duration
	logger *slog.Logger
}

// NewHTTPSubWorkflow creates a child workflow bound to the remote workflow name.
// Start and poll calls are retried under retry. Every start attempt of one Run
// carries the same execution name, so a retried start that the remote already
// accepted resolves to the existing execution.
func NewHTTPSubWorkflow(client Caller, name string, retry RetryPolicy, poll time.Duration, logger *slog.Logger) *HTTPSubWorkflow {
	return &HTTPSubWorkflow{
		client: client,
		name:   name,
		retry:  retry,
		poll:   poll,
		logger: logger.With("component", "child", "workflow", name),
	}
}

func (s *HTTPSubWorkflow) Run(ctx context.Context, req SubWorkflowRequest) (SubWorkflowOutput, error) {
	startPath := fmt.Sprintf("/workflows/%s/executions", url.PathEscape(s.name))
	if req.ExecutionName == "" {
		req.ExecutionName = uuid.NewString()
	}

	exec, err := Retry(ctx, s.retry, func(ctx context.Context) (Execution, error) {
		var e Execution
		err := s.client.Do(ctx, http.MethodPost, startPath, req, &e)
		return e, classify(err)
	})
	if err != nil {
		return SubWorkflowOutput{}, fmt.Errorf("start %s: %w", s.name, err)
	}
	if exec.ExecutionID == "" {
		return SubWorkflowOutput{}, fmt.Errorf("%w: start %s: no execution id", ErrPermanentInvocation, s.name)
	}

	s.logger.Info("execution started", "execution_id", exec.ExecutionID, "execution_name", req.ExecutionName)
	pollPath := "/executions/" + url.PathEscape(exec.ExecutionID)

	for !exec.Status.Terminal() {
		if err := sleep(ctx, s.poll); err != nil {
			return SubWorkflowOutput{}, err
		}

		exec, err = Retry(ctx, s.retry, func(ctx context.Context) (Execution, error) {
			var e Execution
			err := s.client.Do(ctx, http.MethodGet, pollPath, nil, &e)
			return e, classify(err)
		})
		if err != nil {
			return SubWorkflowOutput{}, fmt.Errorf("poll %s: %w", s.name, err)
		}
	}

	if exec.Status != ExecutionSucceeded {
		return SubWorkflowOutput{}, fmt.Errorf(
			"execution %s ended %s: %s",
			exec.ExecutionID, exec.Status, exec.Error,
		)
	}

	if exec.Output == nil {
		return SubWorkflowOutput{}, nil
	}
	return *exec.Output, nil
}

// classify maps remote failure classes onto the workflow retry taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if invoke.IsTransient(err) {
		return fmt.Errorf("%w: %w", ErrTransientInvocation, err)
	}
	return fmt.Errorf("%w: %w", ErrPermanentInvocation, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
