package config

import (
	"fmt"
	"time"

	"github.com/JaimeStill/meridian/internal/workflow"
	"github.com/JaimeStill/meridian/pkg/invoke"
)

const (
	EnvWorkflowRequester         = "MERIDIAN_WORKFLOW_REQUESTER"
	EnvWorkflowRecoveryMode      = "MERIDIAN_WORKFLOW_RECOVERY_MODE"
	EnvWorkflowMaxConcurrentRuns = "MERIDIAN_WORKFLOW_MAX_CONCURRENT_RUNS"
	EnvWorkflowQueueSize         = "MERIDIAN_WORKFLOW_QUEUE_SIZE"

	EnvRetryInterval          = "MERIDIAN_RETRY_INTERVAL"
	EnvRetryBackoffMultiplier = "MERIDIAN_RETRY_BACKOFF_MULTIPLIER"
	EnvRetryMaxAttempts       = "MERIDIAN_RETRY_MAX_ATTEMPTS"
	EnvRetryMaxDelay          = "MERIDIAN_RETRY_MAX_DELAY"

	EnvDriverPath           = "MERIDIAN_DRIVER_PATH"
	EnvChildrenPollInterval = "MERIDIAN_CHILDREN_POLL_INTERVAL"
	EnvChildrenUpdateName   = "MERIDIAN_CHILDREN_UPDATE_WORKFLOW"
	EnvChildrenOnboardName  = "MERIDIAN_CHILDREN_ONBOARD_WORKFLOW"
)

var driverEnv = &invoke.Env{
	BaseURL:           "MERIDIAN_DRIVER_BASE_URL",
	Timeout:           "MERIDIAN_DRIVER_TIMEOUT",
	RequestsPerSecond: "MERIDIAN_DRIVER_REQUESTS_PER_SECOND",
	Burst:             "MERIDIAN_DRIVER_BURST",
}

var childrenEnv = &invoke.Env{
	BaseURL:           "MERIDIAN_CHILDREN_BASE_URL",
	Timeout:           "MERIDIAN_CHILDREN_TIMEOUT",
	RequestsPerSecond: "MERIDIAN_CHILDREN_REQUESTS_PER_SECOND",
	Burst:             "MERIDIAN_CHILDREN_BURST",
}

// WorkflowConfig configures batch orchestration and the remote services it calls.
type WorkflowConfig struct {
	Requester         string         `toml:"requester"`
	RecoveryMode      string         `toml:"recovery_mode"`
	MaxConcurrentRuns int            `toml:"max_concurrent_runs"`
	QueueSize         int            `toml:"queue_size"`
	Retry             RetryConfig    `toml:"retry"`
	Driver            DriverConfig   `toml:"driver"`
	Children          ChildrenConfig `toml:"children"`
}

// RetryConfig is the TOML form of workflow.RetryPolicy.
type RetryConfig struct {
	Interval          string  `toml:"interval"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
	MaxAttempts       int     `toml:"max_attempts"`
	MaxDelay          string  `toml:"max_delay"`
}

// DriverConfig locates the batch driver endpoint.
type DriverConfig struct {
	Endpoint invoke.Config `toml:"endpoint"`
	Path     string        `toml:"path"`
}

// ChildrenConfig locates the sub-workflow execution service and names the
// remote workflows bound to the update and onboard edges.
type ChildrenConfig struct {
	Endpoint        invoke.Config `toml:"endpoint"`
	PollInterval    string        `toml:"poll_interval"`
	UpdateWorkflow  string        `toml:"update_workflow"`
	OnboardWorkflow string        `toml:"onboard_workflow"`
}

// Policy returns the retry settings as a workflow.RetryPolicy. Valid after Finalize.
func (c *RetryConfig) Policy() workflow.RetryPolicy {
	return workflow.RetryPolicy{
		Interval:          duration(c.Interval),
		BackoffMultiplier: c.BackoffMultiplier,
		MaxAttempts:       c.MaxAttempts,
		MaxDelay:          duration(c.MaxDelay),
	}
}

// PollIntervalDuration returns PollInterval as a time.Duration.
func (c *ChildrenConfig) PollIntervalDuration() time.Duration {
	return duration(c.PollInterval)
}

// Recovery returns the parsed recovery mode. Valid after Finalize.
func (c *WorkflowConfig) Recovery() workflow.RecoveryMode {
	mode, _ := workflow.ParseRecoveryMode(c.RecoveryMode)
	return mode
}

// Finalize applies defaults, environment overrides, and validation to the
// workflow section and both remote endpoints.
func (c *WorkflowConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.Driver.Endpoint.Finalize(driverEnv); err != nil {
		return fmt.Errorf("driver: %w", err)
	}
	if err := c.Children.Endpoint.Finalize(childrenEnv); err != nil {
		return fmt.Errorf("children: %w", err)
	}
	return nil
}

// Merge overwrites non-zero fields from overlay.
func (c *WorkflowConfig) Merge(overlay *WorkflowConfig) {
	mergeString(&c.Requester, overlay.Requester)
	mergeString(&c.RecoveryMode, overlay.RecoveryMode)
	mergeInt(&c.MaxConcurrentRuns, overlay.MaxConcurrentRuns)
	mergeInt(&c.QueueSize, overlay.QueueSize)

	mergeString(&c.Retry.Interval, overlay.Retry.Interval)
	if overlay.Retry.BackoffMultiplier != 0 {
		c.Retry.BackoffMultiplier = overlay.Retry.BackoffMultiplier
	}
	mergeInt(&c.Retry.MaxAttempts, overlay.Retry.MaxAttempts)
	mergeString(&c.Retry.MaxDelay, overlay.Retry.MaxDelay)

	c.Driver.Endpoint.Merge(&overlay.Driver.Endpoint)
	mergeString(&c.Driver.Path, overlay.Driver.Path)

	c.Children.Endpoint.Merge(&overlay.Children.Endpoint)
	mergeString(&c.Children.PollInterval, overlay.Children.PollInterval)
	mergeString(&c.Children.UpdateWorkflow, overlay.Children.UpdateWorkflow)
	mergeString(&c.Children.OnboardWorkflow, overlay.Children.OnboardWorkflow)
}

func (c *WorkflowConfig) loadDefaults() {
	defaults := workflow.DefaultRetryPolicy()

	if c.Requester == "" {
		c.Requester = workflow.DefaultRequester
	}
	if c.RecoveryMode == "" {
		c.RecoveryMode = string(workflow.RecoveryRetry)
	}
	if c.MaxConcurrentRuns == 0 {
		c.MaxConcurrentRuns = 4
	}
	if c.QueueSize == 0 {
		c.QueueSize = 64
	}
	if c.Retry.Interval == "" {
		c.Retry.Interval = defaults.Interval.String()
	}
	if c.Retry.BackoffMultiplier == 0 {
		c.Retry.BackoffMultiplier = defaults.BackoffMultiplier
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = defaults.MaxAttempts
	}
	if c.Retry.MaxDelay == "" {
		c.Retry.MaxDelay = defaults.MaxDelay.String()
	}
	if c.Driver.Path == "" {
		c.Driver.Path = "/batches/refresh"
	}
	if c.Children.PollInterval == "" {
		c.Children.PollInterval = "5s"
	}
	if c.Children.UpdateWorkflow == "" {
		c.Children.UpdateWorkflow = "update-merchants"
	}
	if c.Children.OnboardWorkflow == "" {
		c.Children.OnboardWorkflow = "onboard-merchants"
	}
}

func (c *WorkflowConfig) loadEnv() {
	envString(&c.Requester, EnvWorkflowRequester)
	envString(&c.RecoveryMode, EnvWorkflowRecoveryMode)
	envInt(&c.MaxConcurrentRuns, EnvWorkflowMaxConcurrentRuns)
	envInt(&c.QueueSize, EnvWorkflowQueueSize)
	envString(&c.Retry.Interval, EnvRetryInterval)
	envFloat(&c.Retry.BackoffMultiplier, EnvRetryBackoffMultiplier)
	envInt(&c.Retry.MaxAttempts, EnvRetryMaxAttempts)
	envString(&c.Retry.MaxDelay, EnvRetryMaxDelay)
	envString(&c.Driver.Path, EnvDriverPath)
	envString(&c.Children.PollInterval, EnvChildrenPollInterval)
	envString(&c.Children.UpdateWorkflow, EnvChildrenUpdateName)
	envString(&c.Children.OnboardWorkflow, EnvChildrenOnboardName)
}

func (c *WorkflowConfig) validate() error {
	if _, err := workflow.ParseRecoveryMode(c.RecoveryMode); err != nil {
		return err
	}
	if c.MaxConcurrentRuns < 1 {
		return fmt.Errorf("max_concurrent_runs must be positive")
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be positive")
	}
	interval, err := time.ParseDuration(c.Retry.Interval)
	if err != nil || interval < 0 {
		return fmt.Errorf("invalid retry.interval: %q", c.Retry.Interval)
	}
	if d, err := time.ParseDuration(c.Retry.MaxDelay); err != nil || d < interval {
		return fmt.Errorf("invalid retry.max_delay: %q must be a duration no shorter than retry.interval", c.Retry.MaxDelay)
	}
	if c.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("retry.backoff_multiplier must be at least 1")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be positive")
	}
	if d, err := time.ParseDuration(c.Children.PollInterval); err != nil || d <= 0 {
		return fmt.Errorf("invalid children.poll_interval: %q", c.Children.PollInterval)
	}
	return nil
}
