package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"

	"github.com/JaimeStill/meridian/internal/workflow"
)

type driverStep struct {
	resp workflow.DriverResponse
	err  error
}

type scriptedDriver struct {
	mu       sync.Mutex
	steps    []driverStep
	requests []workflow.DriverRequest
}

func (d *scriptedDriver) Invoke(_ context.Context, req workflow.DriverRequest) (workflow.DriverResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.requests = append(d.requests, req)
	if len(d.steps) == 0 {
		return workflow.DriverResponse{}, fmt.Errorf("%w: unexpected driver call", workflow.ErrPermanentInvocation)
	}
	step := d.steps[0]
	d.steps = d.steps[1:]
	return step.resp, step.err
}

type childStep struct {
	out workflow.SubWorkflowOutput
	err error
}

type scriptedChild struct {
	mu       sync.Mutex
	steps    []childStep
	requests []workflow.SubWorkflowRequest
}

func (c *scriptedChild) Run(_ context.Context, req workflow.SubWorkflowRequest) (workflow.SubWorkflowOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, req)
	if len(c.steps) == 0 {
		return workflow.SubWorkflowOutput{}, errors.New("unexpected child call")
	}
	step := c.steps[0]
	c.steps = c.steps[1:]
	return step.out, step.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRuntime(driver workflow.Driver, update, onboard workflow.SubWorkflow) *workflow.Runtime {
	children := map[string]workflow.SubWorkflow{}
	if update != nil {
		children[workflow.ChildUpdate] = update
	}
	if onboard != nil {
		children[workflow.ChildOnboard] = onboard
	}
	return &workflow.Runtime{
		Driver:   driver,
		Children: children,
		Retry:    fastPolicy(3),
		Logger:   testLogger(),
	}
}

func respond(status workflow.Status, wt workflow.WorkflowType, batch workflow.MerchantMap) driverStep {
	return driverStep{resp: workflow.DriverResponse{
		Status:                      status,
		WorkflowType:                wt,
		MarketplaceIDMerchantIDsMap: batch,
	}}
}

func assertPath(t *testing.T, got []workflow.State, want ...workflow.State) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("path: got %v, want %v", got, want)
	}
}

func TestScenarioSuccessOnFirstInvocation(t *testing.T) {
	driver := &scriptedDriver{steps: []driverStep{respond(workflow.StatusSuccess, "", nil)}}
	update := &scriptedChild{}

	res, err := workflow.Execute(context.Background(), newRuntime(driver, update, nil), workflow.WorkItem{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if res.State != workflow.StateSucceed {
		t.Errorf("state: got %s, want Succeed", res.State)
	}
	if res.DriverInvocations != 1 {
		t.Errorf("driver invocations: got %d, want 1", res.DriverInvocations)
	}
	if res.SubWorkflowInvocations != 0 || len(update.requests) != 0 {
		t.Errorf("sub-workflow invocations: got %d, want 0", res.SubWorkflowInvocations)
	}
	assertPath(t, res.Path,
		workflow.StateStart,
		workflow.StateDriverInvoke,
		workflow.StateDecide,
		workflow.StateSucceed,
	)
}

func TestScenarioMissingStatusFails(t *testing.T) {
	driver := &scriptedDriver{steps: []driverStep{respond("", workflow.WorkflowUpdate, workflow.MerchantMap{"US": {"M1"}})}}

	res, err := workflow.Execute(context.Background(), newRuntime(driver, &scriptedChild{}, nil), workflow.WorkItem{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if res.State != workflow.StateFail {
		t.Errorf("state: got %s, want Fail", res.State)
	}
	if res.DriverInvocations != 1 {
		t.Errorf("driver invocations: got %d, want 1", res.DriverInvocations)
	}
	if !errors.Is(res.Cause, workflow.ErrMissingStatus) {
		t.Errorf("cause: got %v, want ErrMissingStatus", res.Cause)
	}
}

func TestScenarioUpdatePartialFailureThenSuccess(t *testing.T) {
	driver := &scriptedDriver{steps: []driverStep{
		respond(workflow.StatusInProgress, workflow.WorkflowUpdate, workflow.MerchantMap{"US": {"M1", "M2"}}),
		respond(workflow.StatusSuccess, "", nil),
	}}
	update := &scriptedChild{steps: []childStep{{
		out: workflow.SubWorkflowOutput{FailedMarketplaceIDMerchantIDsMap: workflow.MerchantMap{"US": {"M2"}}},
	}}}

	res, err := workflow.Execute(context.Background(), newRuntime(driver, update, nil), workflow.WorkItem{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if res.State != workflow.StateSucceed {
		t.Fatalf("state: got %s, want Succeed (cause %v)", res.State, res.Cause)
	}
	if res.DriverInvocations != 2 {
		t.Errorf("driver invocations: got %d, want 2", res.DriverInvocations)
	}
	if res.SubWorkflowInvocations != 1 {
		t.Errorf("sub-workflow invocations: got %d, want 1", res.SubWorkflowInvocations)
	}

	if len(update.requests) != 1 {
		t.Fatalf("child requests: got %d, want 1", len(update.requests))
	}
	childReq := update.requests[0]
	if childReq.Requester != workflow.DefaultRequester {
		t.Errorf("requester: got %q, want %q", childReq.Requester, workflow.DefaultRequester)
	}
	if !reflect.DeepEqual(childReq.MarketplaceIDMerchantIDsMap, workflow.MerchantMap{"US": {"M1", "M2"}}) {
		t.Errorf("child batch: got %v", childReq.MarketplaceIDMerchantIDsMap)
	}

	second := driver.requests[1]
	want := workflow.MerchantMap{"US": {"M2"}}
	if !reflect.DeepEqual(second.FailedMarketplaceIDMerchantIDsMap, want) {
		t.Errorf("failed map: got %v, want %v", second.FailedMarketplaceIDMerchantIDsMap, want)
	}

	assertPath(t, res.Path,
		workflow.StateStart,
		workflow.StateDriverInvoke,
		workflow.StateDecide,
		workflow.StateUpdateSubWorkflow,
		workflow.StateMerge,
		workflow.StateDriverInvoke,
		workflow.StateDecide,
		workflow.StateSucceed,
	)

	if res.Item.JobResult != nil {
		t.Errorf("job result: got %v, want cleared after driver invocation", res.Item.JobResult)
	}
}

func TestScenarioSubWorkflowFailureRecovers(t *testing.T) {
	batch := workflow.MerchantMap{"US": {"M1", "M2"}, "DE": {"M3"}}
	driver := &scriptedDriver{steps: []driverStep{
		respond(workflow.StatusInProgress, workflow.WorkflowUpdate, batch),
		respond(workflow.StatusSuccess, "", nil),
	}}
	update := &scriptedChild{steps: []childStep{{err: errors.New("service unavailable")}}}

	res, err := workflow.Execute(
		context.Background(),
		newRuntime(driver, update, nil),
		workflow.WorkItem{InputFile: "manifests/batch.json", FailureFile: "failures/batch.json"},
	)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	assertPath(t, res.Path,
		workflow.StateStart,
		workflow.StateDriverInvoke,
		workflow.StateDecide,
		workflow.StateUpdateSubWorkflow,
		workflow.StateRecover,
		workflow.StateDriverInvoke,
		workflow.StateDecide,
		workflow.StateSucceed,
	)

	if res.Recoveries != 1 {
		t.Errorf("recoveries: got %d, want 1", res.Recoveries)
	}

	retry := driver.requests[1]
	if !reflect.DeepEqual(retry.MarketplaceIDMerchantIDsMap, batch) {
		t.Errorf("retry batch: got %v, want %v", retry.MarketplaceIDMerchantIDsMap, batch)
	}
	if retry.FailedMarketplaceIDMerchantIDsMap != nil {
		t.Errorf("failed map: got %v, want nil", retry.FailedMarketplaceIDMerchantIDsMap)
	}
	if retry.InputFile != "manifests/batch.json" || retry.FailureFile != "failures/batch.json" {
		t.Errorf("file references: got %q/%q", retry.InputFile, retry.FailureFile)
	}
	if retry.Status != "" || retry.WorkflowType != "" {
		t.Errorf("status/type: got %q/%q, want both empty", retry.Status, retry.WorkflowType)
	}
}

func TestSubWorkflowFailureNeverFailsDirectly(t *testing.T) {
	driver := &scriptedDriver{steps: []driverStep{
		respond(workflow.StatusInProgress, workflow.WorkflowOnboard, workflow.MerchantMap{"US": {"M1"}}),
		respond(workflow.StatusInProgress, workflow.WorkflowOnboard, workflow.MerchantMap{"US": {"M1"}}),
		respond(workflow.StatusSuccess, "", nil),
	}}
	onboard := &scriptedChild{steps: []childStep{
		{err: errors.New("timed out")},
		{err: fmt.Errorf("%w: throttled", workflow.ErrTransientInvocation)},
	}}

	var transitions []workflow.Transition
	rt := newRuntime(driver, nil, onboard)
	rt.Observer = workflow.ObserverFunc(func(_ context.Context, tr workflow.Transition) {
		transitions = append(transitions, tr)
	})

	res, err := workflow.Execute(context.Background(), rt, workflow.WorkItem{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.State != workflow.StateSucceed {
		t.Fatalf("state: got %s, want Succeed", res.State)
	}

	for _, tr := range transitions {
		if tr.From == workflow.StateOnboardSubWorkflow && tr.To != workflow.StateRecover {
			t.Errorf("after failed child: got %s, want Recover", tr.To)
		}
		if tr.From == workflow.StateRecover && tr.To != workflow.StateDriverInvoke {
			t.Errorf("after recover: got %s, want DriverInvoke", tr.To)
		}
	}

	for i, tr := range transitions {
		if tr.Seq != i+1 {
			t.Errorf("transition %d: seq got %d", i, tr.Seq)
		}
	}
}

func TestOnboardRouting(t *testing.T) {
	driver := &scriptedDriver{steps: []driverStep{
		respond(workflow.StatusInProgressWithPartialFailure, workflow.WorkflowOnboard, workflow.MerchantMap{"JP": {"M7"}}),
		respond(workflow.StatusSuccess, "", nil),
	}}
	update := &scriptedChild{}
	onboard := &scriptedChild{steps: []childStep{{}}}

	res, err := workflow.Execute(context.Background(), newRuntime(driver, update, onboard), workflow.WorkItem{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(onboard.requests) != 1 || len(update.requests) != 0 {
		t.Errorf("children: onboard %d, update %d", len(onboard.requests), len(update.requests))
	}

	failed := driver.requests[1].FailedMarketplaceIDMerchantIDsMap
	if failed == nil || !failed.Empty() {
		t.Errorf("failed map: got %v, want empty non-nil", failed)
	}
	if res.State != workflow.StateSucceed {
		t.Errorf("state: got %s, want Succeed", res.State)
	}
}

func TestDriverExhaustionFails(t *testing.T) {
	transient := driverStep{err: fmt.Errorf("%w: 503", workflow.ErrTransientInvocation)}
	driver := &scriptedDriver{steps: []driverStep{transient, transient, transient, respond(workflow.StatusSuccess, "", nil)}}

	res, err := workflow.Execute(context.Background(), newRuntime(driver, nil, nil), workflow.WorkItem{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if res.State != workflow.StateFail {
		t.Errorf("state: got %s, want Fail", res.State)
	}
	if !errors.Is(res.Cause, workflow.ErrDriverInvocation) {
		t.Errorf("cause: got %v, want ErrDriverInvocation", res.Cause)
	}
	if len(driver.requests) != 3 {
		t.Errorf("attempts: got %d, want 3", len(driver.requests))
	}
}

func TestDriverPermanentFailsWithoutRetry(t *testing.T) {
	driver := &scriptedDriver{steps: []driverStep{
		{err: fmt.Errorf("%w: 400 bad request", workflow.ErrPermanentInvocation)},
	}}

	res, _ := workflow.Execute(context.Background(), newRuntime(driver, nil, nil), workflow.WorkItem{})

	if res.State != workflow.StateFail {
		t.Errorf("state: got %s, want Fail", res.State)
	}
	if len(driver.requests) != 1 {
		t.Errorf("attempts: got %d, want 1", len(driver.requests))
	}
}

func TestEmptyBatchFailsBeforeChild(t *testing.T) {
	driver := &scriptedDriver{steps: []driverStep{
		respond(workflow.StatusInProgress, workflow.WorkflowUpdate, workflow.MerchantMap{}),
	}}
	update := &scriptedChild{}

	res, _ := workflow.Execute(context.Background(), newRuntime(driver, update, nil), workflow.WorkItem{})

	if res.State != workflow.StateFail {
		t.Errorf("state: got %s, want Fail", res.State)
	}
	if !errors.Is(res.Cause, workflow.ErrUnroutableState) {
		t.Errorf("cause: got %v, want ErrUnroutableState", res.Cause)
	}
	if len(update.requests) != 0 {
		t.Errorf("child calls: got %d, want 0", len(update.requests))
	}
}

func TestUnknownChildRecovers(t *testing.T) {
	driver := &scriptedDriver{steps: []driverStep{
		respond(workflow.StatusInProgress, workflow.WorkflowUpdate, workflow.MerchantMap{"US": {"M1"}}),
		respond(workflow.StatusSuccess, "", nil),
	}}

	res, _ := workflow.Execute(context.Background(), newRuntime(driver, nil, nil), workflow.WorkItem{})

	if res.Recoveries != 1 {
		t.Errorf("recoveries: got %d, want 1", res.Recoveries)
	}
	if res.State != workflow.StateSucceed {
		t.Errorf("state: got %s, want Succeed", res.State)
	}
}

func TestRecordRecoveryMode(t *testing.T) {
	batch := workflow.MerchantMap{"US": {"M1", "M2"}}
	driver := &scriptedDriver{steps: []driverStep{
		respond(workflow.StatusInProgress, workflow.WorkflowUpdate, batch),
		respond(workflow.StatusSuccess, "", nil),
	}}
	update := &scriptedChild{steps: []childStep{{err: errors.New("down")}}}

	rt := newRuntime(driver, update, nil)
	rt.Recovery = workflow.RecoveryRecord

	if _, err := workflow.Execute(context.Background(), rt, workflow.WorkItem{}); err != nil {
		t.Fatalf("execute: %v", err)
	}

	got := driver.requests[1].FailedMarketplaceIDMerchantIDsMap
	if !reflect.DeepEqual(got, batch) {
		t.Errorf("failed map: got %v, want %v", got, batch)
	}
}

func TestImmutableFileReferences(t *testing.T) {
	driver := &scriptedDriver{steps: []driverStep{{resp: workflow.DriverResponse{
		InputFile:   "elsewhere.json",
		FailureFile: "failures/new.json",
		Status:      workflow.StatusSuccess,
	}}}}

	res, _ := workflow.Execute(
		context.Background(),
		newRuntime(driver, nil, nil),
		workflow.WorkItem{InputFile: "manifests/original.json"},
	)

	if res.Item.InputFile != "manifests/original.json" {
		t.Errorf("input file: got %q", res.Item.InputFile)
	}
	if res.Item.FailureFile != "failures/new.json" {
		t.Errorf("failure file: got %q, want first value set by driver", res.Item.FailureFile)
	}
}

func TestCancellationBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	driver := workflow.DriverFunc(func(context.Context, workflow.DriverRequest) (workflow.DriverResponse, error) {
		cancel()
		return workflow.DriverResponse{
			Status:                      workflow.StatusInProgress,
			WorkflowType:                workflow.WorkflowUpdate,
			MarketplaceIDMerchantIDsMap: workflow.MerchantMap{"US": {"M1"}},
		}, nil
	})
	update := &scriptedChild{}

	res, err := workflow.Execute(ctx, newRuntime(driver, update, nil), workflow.WorkItem{})

	if !errors.Is(err, workflow.ErrCancelled) {
		t.Fatalf("err: got %v, want ErrCancelled", err)
	}
	if res.State != workflow.StateCancelled {
		t.Errorf("state: got %s, want Cancelled", res.State)
	}
	if len(update.requests) != 0 {
		t.Errorf("child calls: got %d, want 0", len(update.requests))
	}
	assertPath(t, res.Path,
		workflow.StateStart,
		workflow.StateDriverInvoke,
		workflow.StateDecide,
		workflow.StateCancelled,
	)
}

func TestExecuteRequiresDriver(t *testing.T) {
	if _, err := workflow.Execute(context.Background(), &workflow.Runtime{}, workflow.WorkItem{}); err == nil {
		t.Error("expected error for runtime without driver")
	}
}

func TestIndependentExecutions(t *testing.T) {
	o, err := workflow.New(&workflow.Runtime{
		Driver: workflow.DriverFunc(func(_ context.Context, req workflow.DriverRequest) (workflow.DriverResponse, error) {
			if req.FailedMarketplaceIDMerchantIDsMap != nil {
				return workflow.DriverResponse{Status: workflow.StatusSuccess}, nil
			}
			return workflow.DriverResponse{
				Status:                      workflow.StatusInProgress,
				WorkflowType:                workflow.WorkflowUpdate,
				MarketplaceIDMerchantIDsMap: workflow.MerchantMap{"US": {req.InputFile}},
			}, nil
		}),
		Children: map[string]workflow.SubWorkflow{
			workflow.ChildUpdate: workflow.SubWorkflowFunc(func(context.Context, workflow.SubWorkflowRequest) (workflow.SubWorkflowOutput, error) {
				return workflow.SubWorkflowOutput{}, nil
			}),
		},
		Retry:  fastPolicy(1),
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]*workflow.Result, 8)
	for i := range results {
		wg.Go(func() {
			results[i], _ = o.Execute(context.Background(), workflow.WorkItem{InputFile: fmt.Sprintf("batch-%d", i)})
		})
	}
	wg.Wait()

	for i, r := range results {
		if r == nil || r.State != workflow.StateSucceed || r.DriverInvocations != 2 {
			t.Errorf("execution %d: got %+v", i, r)
		}
	}
}
