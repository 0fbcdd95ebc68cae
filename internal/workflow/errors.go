// Package workflow implements the merchant batch orchestration loop.
// A driver advances the batch, a routing table chooses the next edge, and
// child workflows process in-progress work until the batch converges to
// Succeed or Fail.
package workflow

import "errors"

// Sentinel errors for workflow operations.
var (
	// ErrTransientInvocation marks an invocation failure that may succeed on retry.
	ErrTransientInvocation = errors.New("transient invocation failure")
	// ErrPermanentInvocation marks an invocation failure that retrying cannot fix.
	ErrPermanentInvocation = errors.New("permanent invocation failure")

	ErrDriverInvocation  = errors.New("driver invocation failed")
	ErrMissingStatus     = errors.New("driver returned no status")
	ErrUnroutableState   = errors.New("unroutable work item state")
	ErrSubWorkflowFailed = errors.New("sub-workflow failed")
	ErrUnknownWorkflow   = errors.New("unknown sub-workflow")
	ErrCancelled         = errors.New("workflow cancelled")
)
