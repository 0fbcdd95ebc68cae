package workflow

import (
	"context"
	"fmt"
	"log/slog"
)

// DefaultRequester identifies the orchestrator to child workflows.
const DefaultRequester = "REFRESH_DATA_WORKFLOW"

// Child workflow names bound to the router's invoke edges.
const (
	ChildUpdate  = "update"
	ChildOnboard = "onboard"
)

// SubWorkflowRequest is the input a child workflow is started with.
// ExecutionName identifies one invocation; a remote service that has already
// started an execution under that name returns it instead of starting another.
type SubWorkflowRequest struct {
	ExecutionName               string      `json:"executionName,omitempty"`
	MarketplaceIDMerchantIDsMap MerchantMap `json:"marketplaceIdMerchantIdsMap"`
	Requester                   string      `json:"requester"`
}

// SubWorkflowOutput is the terminal output of a child workflow.
type SubWorkflowOutput struct {
	FailedMarketplaceIDMerchantIDsMap MerchantMap `json:"failedMarketplaceIdMerchantIdsMap"`
}

// SubWorkflow is a child orchestration run to completion. Run blocks until
// the child reaches a terminal state; any error means the child failed.
type SubWorkflow interface {
	Run(ctx context.Context, req SubWorkflowRequest) (SubWorkflowOutput, error)
}

// SubWorkflowFunc adapts a function to the SubWorkflow interface.
type SubWorkflowFunc func(ctx context.Context, req SubWorkflowRequest) (SubWorkflowOutput, error)

func (f SubWorkflowFunc) Run(ctx context.Context, req SubWorkflowRequest) (SubWorkflowOutput, error) {
	return f(ctx, req)
}

// SubWorkflowInvoker starts named child workflows and merges their output
// into the WorkItem.
type SubWorkflowInvoker struct {
	children  map[string]SubWorkflow
	requester string
	logger    *slog.Logger
}

// NewSubWorkflowInvoker creates a SubWorkflowInvoker. An empty requester
// falls back to DefaultRequester.
func NewSubWorkflowInvoker(children map[string]SubWorkflow, requester string, logger *slog.Logger) *SubWorkflowInvoker {
	if requester == "" {
		requester = DefaultRequester
	}
	return &SubWorkflowInvoker{
		children:  children,
		requester: requester,
		logger:    logger.With("component", "subworkflow"),
	}
}

// Invoke runs the named child against the item's current batch. On success
// the returned item carries the child's failed merchants in its job result.
// Every failure is wrapped with ErrSubWorkflowFailed.
func (s *SubWorkflowInvoker) Invoke(ctx context.Context, name string, item WorkItem) (WorkItem, error) {
	child, ok := s.children[name]
	if !ok {
		return item, fmt.Errorf("%w: %w: %s", ErrSubWorkflowFailed, ErrUnknownWorkflow, name)
	}

	req := SubWorkflowRequest{
		MarketplaceIDMerchantIDsMap: item.MarketplaceIDMerchantIDsMap.Clone(),
		Requester:                   s.requester,
	}

	s.logger.Info(
		"starting sub-workflow",
		"workflow", name,
		"marketplaces", len(req.MarketplaceIDMerchantIDsMap),
		"merchants", req.MarketplaceIDMerchantIDsMap.Count(),
	)

	out, err := child.Run(ctx, req)
	if err != nil {
		return item, fmt.Errorf("%w: %s: %w", ErrSubWorkflowFailed, name, err)
	}

	failed := out.FailedMarketplaceIDMerchantIDsMap.Clone()
	if failed == nil {
		failed = MerchantMap{}
	}

	next := item.Clone()
	next.JobResult = &JobResult{FailedMarketplaceIDMerchantIDsMap: failed}

	s.logger.Info(
		"sub-workflow complete",
		"workflow", name,
		"failed", failed.Count(),
	)
	return next, nil
}
