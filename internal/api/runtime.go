package api

import (
	"fmt"

	"github.com/JaimeStill/meridian/internal/config"
	"github.com/JaimeStill/meridian/internal/infrastructure"
	"github.com/JaimeStill/meridian/internal/runs"
	"github.com/JaimeStill/meridian/internal/workflow"
	"github.com/JaimeStill/meridian/pkg/invoke"
	"github.com/JaimeStill/meridian/pkg/pagination"
)

// Runtime extends Infrastructure with the workflow runtime and API-specific
// configuration.
type Runtime struct {
	*infrastructure.Infrastructure
	Workflow   *workflow.Runtime
	Dispatch   runs.DispatchConfig
	Pagination pagination.Config
}

// NewRuntime creates an API runtime with a module-scoped logger and the
// remote driver and child workflow adapters built from cfg.
func NewRuntime(cfg *config.Config, infra *infrastructure.Infrastructure) (*Runtime, error) {
	logger := infra.Logger.With("module", "api")

	rt, err := newWorkflowRuntime(&cfg.Workflow, infra)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		Infrastructure: &infrastructure.Infrastructure{
			Lifecycle: infra.Lifecycle,
			Logger:    logger,
			Database:  infra.Database,
			Storage:   infra.Storage,
		},
		Workflow: rt,
		Dispatch: runs.DispatchConfig{
			MaxConcurrentRuns: cfg.Workflow.MaxConcurrentRuns,
			QueueSize:         cfg.Workflow.QueueSize,
		},
		Pagination: cfg.API.Pagination,
	}, nil
}

func newWorkflowRuntime(cfg *config.WorkflowConfig, infra *infrastructure.Infrastructure) (*workflow.Runtime, error) {
	driverClient, err := invoke.New(&cfg.Driver.Endpoint, infra.Logger)
	if err != nil {
		return nil, fmt.Errorf("driver client: %w", err)
	}

	childClient, err := invoke.New(&cfg.Children.Endpoint, infra.Logger)
	if err != nil {
		return nil, fmt.Errorf("children client: %w", err)
	}

	retry := cfg.Retry.Policy()
	poll := cfg.Children.PollIntervalDuration()

	return &workflow.Runtime{
		Driver: workflow.NewHTTPDriver(driverClient, cfg.Driver.Path),
		Children: map[string]workflow.SubWorkflow{
			workflow.ChildUpdate: workflow.NewHTTPSubWorkflow(
				childClient, cfg.Children.UpdateWorkflow, retry, poll, infra.Logger,
			),
			workflow.ChildOnboard: workflow.NewHTTPSubWorkflow(
				childClient, cfg.Children.OnboardWorkflow, retry, poll, infra.Logger,
			),
		},
		Retry:     retry,
		Requester: cfg.Requester,
		Recovery:  cfg.Recovery(),
		Logger:    infra.Logger,
	}, nil
}
