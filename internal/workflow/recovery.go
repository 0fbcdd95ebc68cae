package workflow

import "fmt"

// RecoveryMode selects how a failed child workflow is turned back into driver work.
type RecoveryMode string

const (
	// RecoveryRetry re-drives the entire pre-invocation batch.
	RecoveryRetry RecoveryMode = "retry"
	// RecoveryRecord hands the entire pre-invocation batch to the driver as failed.
	RecoveryRecord RecoveryMode = "record"
)

// ParseRecoveryMode validates a configured recovery mode. Empty selects RecoveryRetry.
func ParseRecoveryMode(s string) (RecoveryMode, error) {
	switch RecoveryMode(s) {
	case "", RecoveryRetry:
		return RecoveryRetry, nil
	case RecoveryRecord:
		return RecoveryRecord, nil
	}
	return "", fmt.Errorf("unknown recovery mode %q", s)
}

// Recover builds the driver input that follows a failed child workflow.
// pending is the item as it was before the child was invoked. Only the file
// references and the batch carry over; status and workflow type are dropped
// so the driver treats the batch as a fresh initiation.
func Recover(pending WorkItem, mode RecoveryMode) WorkItem {
	batch := pending.MarketplaceIDMerchantIDsMap.Clone()

	next := WorkItem{
		InputFile:                   pending.InputFile,
		FailureFile:                 pending.FailureFile,
		MarketplaceIDMerchantIDsMap: batch,
	}

	if mode == RecoveryRecord {
		next.JobResult = &JobResult{FailedMarketplaceIDMerchantIDsMap: batch.Clone()}
	}
	return next
}

// Merge prepares a successful child workflow's item for the next driver
// invocation.
func Merge(item WorkItem) WorkItem {
	next := item.Clone()
	if next.JobResult == nil {
		next.JobResult = &JobResult{FailedMarketplaceIDMerchantIDsMap: MerchantMap{}}
	}
	return next
}
