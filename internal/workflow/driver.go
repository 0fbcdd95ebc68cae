package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DriverRequest is the input to one driver invocation. The failed map
// carries the previous child workflow's result.
type DriverRequest struct {
	InputFile                         string       `json:"inputFile,omitempty"`
	FailureFile                       string       `json:"failureFile,omitempty"`
	MarketplaceIDMerchantIDsMap       MerchantMap  `json:"marketplaceIdMerchantIdsMap,omitempty"`
	FailedMarketplaceIDMerchantIDsMap MerchantMap  `json:"failedMarketplaceIdMerchantIdsMap,omitempty"`
	Status                            Status       `json:"status,omitempty"`
	WorkflowType                      WorkflowType `json:"workflowType,omitempty"`
}

// DriverResponse is the driver's assessment of the batch after one invocation.
type DriverResponse struct {
	InputFile                   string       `json:"inputFile,omitempty"`
	FailureFile                 string       `json:"failureFile,omitempty"`
	MarketplaceIDMerchantIDsMap MerchantMap  `json:"marketplaceIdMerchantIdsMap,omitempty"`
	Status                      Status       `json:"status,omitempty"`
	WorkflowType                WorkflowType `json:"workflowType,omitempty"`
}

// Driver is the external unit of work that advances a batch.
// Implementations classify failures with ErrTransientInvocation or
// ErrPermanentInvocation and must tolerate repeated identical requests.
type Driver interface {
	Invoke(ctx context.Context, req DriverRequest) (DriverResponse, error)
}

// DriverFunc adapts a function to the Driver interface.
type DriverFunc func(ctx context.Context, req DriverRequest) (DriverResponse, error)

func (f DriverFunc) Invoke(ctx context.Context, req DriverRequest) (DriverResponse, error) {
	return f(ctx, req)
}

// DriverInvoker calls the driver under a retry policy and folds the
// response into the next WorkItem.
type DriverInvoker struct {
	driver Driver
	retry  RetryPolicy
	logger *slog.Logger
}

// NewDriverInvoker creates a DriverInvoker.
func NewDriverInvoker(driver Driver, retry RetryPolicy, logger *slog.Logger) *DriverInvoker {
	return &DriverInvoker{
		driver: driver,
		retry:  retry,
		logger: logger.With("component", "driver"),
	}
}

// Invoke runs one driver iteration for item. Failures that survive the
// retry policy are wrapped with ErrDriverInvocation.
func (d *DriverInvoker) Invoke(ctx context.Context, item WorkItem) (WorkItem, error) {
	req := NewDriverRequest(item)
	attempt := 0

	resp, err := Retry(ctx, d.retry, func(ctx context.Context) (DriverResponse, error) {
		attempt++
		resp, err := d.driver.Invoke(ctx, req)
		if err != nil && errors.Is(err, ErrTransientInvocation) && attempt < d.retry.Attempts() {
			d.logger.Warn(
				"driver invocation failed, retrying",
				"attempt", attempt,
				"delay", d.retry.Delay(attempt),
				"error", err,
			)
		}
		return resp, err
	})
	if err != nil {
		return item, fmt.Errorf("%w: after %d attempt(s): %w", ErrDriverInvocation, attempt, err)
	}

	next := d.fold(item, resp)
	d.logger.Debug(
		"driver invocation complete",
		"status", next.Status,
		"workflow_type", next.WorkflowType,
		"merchants", next.MarketplaceIDMerchantIDsMap.Count(),
	)
	return next, nil
}

// NewDriverRequest builds the driver input from item, folding in the
// failed merchants of the last child workflow.
func NewDriverRequest(item WorkItem) DriverRequest {
	return DriverRequest{
		InputFile:                         item.InputFile,
		FailureFile:                       item.FailureFile,
		MarketplaceIDMerchantIDsMap:       item.MarketplaceIDMerchantIDsMap.Clone(),
		FailedMarketplaceIDMerchantIDsMap: item.Failed().Clone(),
		Status:                            item.Status,
		WorkflowType:                      item.WorkflowType,
	}
}

// fold produces the next WorkItem. The file references keep their first
// non-empty value; the batch, status and type come from the response, and
// the consumed job result is cleared.
func (d *DriverInvoker) fold(prev WorkItem, resp DriverResponse) WorkItem {
	return WorkItem{
		InputFile:                   d.pin("inputFile", prev.InputFile, resp.InputFile),
		FailureFile:                 d.pin("failureFile", prev.FailureFile, resp.FailureFile),
		MarketplaceIDMerchantIDsMap: resp.MarketplaceIDMerchantIDsMap.Clone(),
		Status:                      resp.Status,
		WorkflowType:                resp.WorkflowType,
	}
}

func (d *DriverInvoker) pin(field, current, proposed string) string {
	if current == "" {
		return proposed
	}
	if proposed != "" && proposed != current {
		d.logger.Warn(
			"driver attempted to change immutable reference",
			"field", field,
			"current", current,
			"proposed", proposed,
		)
	}
	return current
}
