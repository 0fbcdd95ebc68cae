package workflow

import (
	"context"
	"log/slog"
)

// Runtime bundles the dependencies an orchestrator requires.
// It is constructed by higher-level composition code from configuration
// and the driver and child workflow adapters.
type Runtime struct {
	Driver    Driver
	Children  map[string]SubWorkflow
	Retry     RetryPolicy
	Requester string
	Recovery  RecoveryMode
	Router    *Router
	Observer  Observer
	Logger    *slog.Logger
}

// WithObserver returns a copy of the runtime reporting transitions to obs.
func (rt Runtime) WithObserver(obs Observer) *Runtime {
	rt.Observer = obs
	return &rt
}

// Transition describes one state change within an execution.
type Transition struct {
	Seq  int
	From State
	To   State
	Item WorkItem
	Err  error
}

// Observer receives every transition of an execution in order.
type Observer interface {
	Observe(ctx context.Context, t Transition)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, t Transition)

func (f ObserverFunc) Observe(ctx context.Context, t Transition) {
	f(ctx, t)
}
