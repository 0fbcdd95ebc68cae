package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// State is a node of the orchestration state machine.
type State string

// Orchestrator states.
const (
	StateStart              State = "Start"
	StateDriverInvoke       State = "DriverInvoke"
	StateDecide             State = "Decide"
	StateUpdateSubWorkflow  State = "UpdateSubWorkflow"
	StateOnboardSubWorkflow State = "OnboardSubWorkflow"
	StateMerge              State = "Merge"
	StateRecover            State = "Recover"
	StateSucceed            State = "Succeed"
	StateFail               State = "Fail"
	StateCancelled          State = "Cancelled"
)

// Terminal reports whether no transitions leave the state.
func (s State) Terminal() bool {
	return s == StateSucceed || s == StateFail || s == StateCancelled
}

// childBindings ties the router's invoke edges to their states and child workflows.
var childBindings = []struct {
	edge  Edge
	state State
	child string
}{
	{EdgeInvokeUpdate, StateUpdateSubWorkflow, ChildUpdate},
	{EdgeInvokeOnboard, StateOnboardSubWorkflow, ChildOnboard},
}

// Result is the outcome of one orchestrator execution.
type Result struct {
	State                  State     `json:"state"`
	Item                   WorkItem  `json:"item"`
	Cause                  error     `json:"-"`
	Path                   []State   `json:"path"`
	DriverInvocations      int       `json:"driver_invocations"`
	SubWorkflowInvocations int       `json:"subworkflow_invocations"`
	Recoveries             int       `json:"recoveries"`
	StartedAt              time.Time `json:"started_at"`
	CompletedAt            time.Time `json:"completed_at"`
}

// Succeeded reports whether the execution reached Succeed.
func (r *Result) Succeeded() bool {
	return r.State == StateSucceed
}

// Orchestrator runs the driver loop for one batch at a time.
// A single Orchestrator may serve concurrent executions.
type Orchestrator struct {
	driver      *DriverInvoker
	subworkflow *SubWorkflowInvoker
	router      Router
	recovery    RecoveryMode
	observer    Observer
	logger      *slog.Logger
	edges       map[Edge]State
	children    map[State]string
}

// New creates an Orchestrator from rt. A nil router selects RefreshRouter
// and a nil logger discards output.
func New(rt *Runtime) (*Orchestrator, error) {
	if rt == nil || rt.Driver == nil {
		return nil, errors.New("workflow runtime requires a driver")
	}

	logger := rt.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("system", "workflow")

	router := RefreshRouter()
	if rt.Router != nil {
		router = *rt.Router
	}

	recovery := rt.Recovery
	if recovery == "" {
		recovery = RecoveryRetry
	}

	o := &Orchestrator{
		driver:      NewDriverInvoker(rt.Driver, rt.Retry, logger),
		subworkflow: NewSubWorkflowInvoker(rt.Children, rt.Requester, logger),
		router:      router,
		recovery:    recovery,
		observer:    rt.Observer,
		logger:      logger,
		edges:       make(map[Edge]State, len(childBindings)),
		children:    make(map[State]string, len(childBindings)),
	}

	for _, b := range childBindings {
		o.edges[b.edge] = b.state
		o.children[b.state] = b.child
	}

	return o, nil
}

type execution struct {
	result  *Result
	item    WorkItem
	pending WorkItem
	seq     int
}

// Execute runs one batch to a terminal state.
func (o *Orchestrator) Execute(ctx context.Context, item WorkItem) (*Result, error) {
	run := &execution{
		result: &Result{
			StartedAt: time.Now(),
			Path:      []State{StateStart},
		},
		item: item.Clone(),
	}

	o.logger.Info(
		"execution started",
		"input_file", item.InputFile,
		"merchants", item.MarketplaceIDMerchantIDsMap.Count(),
	)

	state := StateStart
	next := StateDriverInvoke

	for {
		o.enter(ctx, run, state, next)
		state = next

		if state.Terminal() {
			return o.finish(run, state)
		}

		if err := ctx.Err(); err != nil {
			run.result.Cause = fmt.Errorf("%w: %w", ErrCancelled, err)
			next = StateCancelled
			continue
		}

		next = o.step(ctx, run, state)
	}
}

func (o *Orchestrator) step(ctx context.Context, run *execution, state State) State {
	switch state {
	case StateDriverInvoke:
		run.result.DriverInvocations++
		next, err := o.driver.Invoke(ctx, run.item)
		if err != nil {
			return o.fail(ctx, run, err)
		}
		run.item = next
		return StateDecide

	case StateDecide:
		return o.decide(run)

	case StateUpdateSubWorkflow, StateOnboardSubWorkflow:
		child := o.children[state]
		if run.item.MarketplaceIDMerchantIDsMap.Empty() {
			return o.fail(ctx, run, fmt.Errorf("%w: empty merchant batch for %s", ErrUnroutableState, child))
		}

		run.pending = run.item
		run.result.SubWorkflowInvocations++

		next, err := o.subworkflow.Invoke(ctx, child, run.item)
		if err != nil {
			if ctx.Err() != nil {
				return o.fail(ctx, run, err)
			}
			o.logger.Warn("sub-workflow failed, recovering", "workflow", child, "error", err)
			return StateRecover
		}
		run.item = next
		return StateMerge

	case StateMerge:
		run.item = Merge(run.item)
		return StateDriverInvoke

	case StateRecover:
		run.result.Recoveries++
		run.item = Recover(run.pending, o.recovery)
		return StateDriverInvoke
	}

	return o.fail(ctx, run, fmt.Errorf("%w: no step defined for state %s", ErrUnroutableState, state))
}

func (o *Orchestrator) decide(run *execution) State {
	d := o.router.Route(run.item)

	switch d.Edge {
	case EdgeSucceed:
		return StateSucceed
	case EdgeFail:
		cause := d.Cause
		if cause == nil {
			cause = ErrUnroutableState
		}
		run.result.Cause = fmt.Errorf(
			"%w: rule %s (status=%q, workflowType=%q)",
			cause, d.Rule, run.item.Status, run.item.WorkflowType,
		)
		return StateFail
	}

	if state, ok := o.edges[d.Edge]; ok {
		return state
	}

	run.result.Cause = fmt.Errorf("%w: edge %s has no binding", ErrUnroutableState, d.Edge)
	return StateFail
}

// fail ends the execution with err, or marks it cancelled when ctx is done.
func (o *Orchestrator) fail(ctx context.Context, run *execution, err error) State {
	if ctxErr := ctx.Err(); ctxErr != nil {
		run.result.Cause = fmt.Errorf("%w: %w", ErrCancelled, ctxErr)
		return StateCancelled
	}
	run.result.Cause = err
	return StateFail
}

func (o *Orchestrator) enter(ctx context.Context, run *execution, from, to State) {
	run.result.Path = append(run.result.Path, to)
	run.seq++

	o.logger.Debug("transition", "seq", run.seq, "from", from, "to", to)

	if o.observer != nil {
		t := Transition{
			Seq:  run.seq,
			From: from,
			To:   to,
			Item: run.item.Clone(),
		}
		if to.Terminal() {
			t.Err = run.result.Cause
		}
		o.observer.Observe(ctx, t)
	}
}

func (o *Orchestrator) finish(run *execution, state State) (*Result, error) {
	r := run.result
	r.State = state
	r.Item = run.item
	r.CompletedAt = time.Now()

	attrs := []any{
		"state", state,
		"driver_invocations", r.DriverInvocations,
		"subworkflow_invocations", r.SubWorkflowInvocations,
		"recoveries", r.Recoveries,
		"duration", r.CompletedAt.Sub(r.StartedAt),
	}

	switch state {
	case StateSucceed:
		o.logger.Info("execution succeeded", attrs...)
		return r, nil
	case StateCancelled:
		o.logger.Warn("execution cancelled", attrs...)
		return r, r.Cause
	default:
		o.logger.Error("execution failed", append(attrs, "error", r.Cause)...)
		return r, nil
	}
}
