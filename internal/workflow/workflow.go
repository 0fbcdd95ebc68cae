package workflow

import "context"

// Execute builds an Orchestrator from rt and runs item to a terminal state.
// Reaching Fail is a normal outcome reported through Result.Cause; the
// returned error is non-nil only when rt is incomplete or ctx ends the
// execution between steps.
func Execute(ctx context.Context, rt *Runtime, item WorkItem) (*Result, error) {
	o, err := New(rt)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, item)
}
