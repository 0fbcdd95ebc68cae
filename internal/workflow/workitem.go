package workflow

import (
	"maps"
	"slices"
)

// Status is the driver's assessment of remaining work for a batch.
// The zero value means the driver reported no status.
type Status string

// Driver status values.
const (
	StatusSuccess                      Status = "SUCCESS"
	StatusInProgress                   Status = "IN_PROGRESS"
	StatusInProgressWithPartialFailure Status = "IN_PROGRESS_WITH_PARTIAL_FAILURE"
	StatusFailure                      Status = "FAILURE"
)

// InProgress reports whether the status indicates outstanding work.
func (s Status) InProgress() bool {
	return s == StatusInProgress || s == StatusInProgressWithPartialFailure
}

// WorkflowType selects the child workflow that processes in-progress work.
type WorkflowType string

// Workflow types recognized by the refresh routing table.
const (
	WorkflowUpdate  WorkflowType = "UPDATE"
	WorkflowOnboard WorkflowType = "ONBOARD"
)

// MerchantMap maps a marketplace identifier to an ordered list of merchant identifiers.
type MerchantMap map[string][]string

// Empty reports whether the map holds no merchants.
func (m MerchantMap) Empty() bool {
	return m.Count() == 0
}

// Count returns the total number of merchant identifiers across marketplaces.
func (m MerchantMap) Count() int {
	n := 0
	for _, ids := range m {
		n += len(ids)
	}
	return n
}

// Clone returns a deep copy. A nil map clones to nil.
func (m MerchantMap) Clone() MerchantMap {
	if m == nil {
		return nil
	}
	out := make(MerchantMap, len(m))
	for k, ids := range m {
		out[k] = slices.Clone(ids)
	}
	return out
}

// Marketplaces returns the marketplace identifiers in sorted order.
func (m MerchantMap) Marketplaces() []string {
	return slices.Sorted(maps.Keys(m))
}

// JobResult carries the output of the most recent child workflow.
type JobResult struct {
	FailedMarketplaceIDMerchantIDsMap MerchantMap `json:"failedMarketplaceIdMerchantIdsMap"`
}

// WorkItem is the record threaded through every iteration of a batch.
// Stages exchange copies; no stage mutates the item it received.
type WorkItem struct {
	InputFile                   string       `json:"inputFile,omitempty"`
	FailureFile                 string       `json:"failureFile,omitempty"`
	MarketplaceIDMerchantIDsMap MerchantMap  `json:"marketplaceIdMerchantIdsMap,omitempty"`
	Status                      Status       `json:"status,omitempty"`
	WorkflowType                WorkflowType `json:"workflowType,omitempty"`
	JobResult                   *JobResult   `json:"jobResult,omitempty"`
}

// HasStatus reports whether the driver set a status.
func (w WorkItem) HasStatus() bool {
	return w.Status != ""
}

// Failed returns the failed merchants recorded by the last child workflow, if any.
func (w WorkItem) Failed() MerchantMap {
	if w.JobResult == nil {
		return nil
	}
	return w.JobResult.FailedMarketplaceIDMerchantIDsMap
}

// Clone returns a deep copy of the item.
func (w WorkItem) Clone() WorkItem {
	out := w
	out.MarketplaceIDMerchantIDsMap = w.MarketplaceIDMerchantIDsMap.Clone()
	if w.JobResult != nil {
		out.JobResult = &JobResult{
			FailedMarketplaceIDMerchantIDsMap: w.JobResult.FailedMarketplaceIDMerchantIDsMap.Clone(),
		}
	}
	return out
}
