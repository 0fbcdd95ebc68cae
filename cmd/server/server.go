package main

import (
	"log/slog"
	"time"

	"github.com/JaimeStill/meridian/internal/config"
	"github.com/JaimeStill/meridian/internal/infrastructure"
)

// Server owns the shared infrastructure, the mounted modules, and the HTTP
// listener for one meridian process.
type Server struct {
	infra   *infrastructure.Infrastructure
	modules *Modules
	http    *httpServer
}

func NewServer(cfg *config.Config) (*Server, error) {
	infra, err := infrastructure.New(cfg)
	if err != nil {
		return nil, err
	}

	modules, err := NewModules(infra, cfg)
	if err != nil {
		return nil, err
	}

	router := buildRouter(infra)
	modules.Mount(router)

	logSettings(infra.Logger, cfg)

	return &Server{
		infra:   infra,
		modules: modules,
		http:    newHTTPServer(&cfg.Server, router, infra.Logger, cfg.ShutdownTimeoutDuration()),
	}, nil
}

// logSettings records the dispatch and remote-call settings the process
// runs batches with, so an operator can correlate run behavior to config.
func logSettings(logger *slog.Logger, cfg *config.Config) {
	wf := &cfg.Workflow
	retry := wf.Retry.Policy()

	logger.Info(
		"server initialized",
		"env", cfg.Env(),
		"addr", cfg.Server.Addr(),
		"base_path", cfg.API.BasePath,
	)
	logger.Info(
		"workflow settings",
		"workers", wf.MaxConcurrentRuns,
		"queue_size", wf.QueueSize,
		"recovery_mode", wf.Recovery(),
		"requester", wf.Requester,
		"retry_interval", retry.Interval,
		"retry_backoff", retry.BackoffMultiplier,
		"retry_max_attempts", retry.Attempts(),
		"retry_max_delay", retry.MaxDelay,
	)
	logger.Info(
		"remote endpoints",
		"driver", wf.Driver.Endpoint.BaseURL+wf.Driver.Path,
		"children", wf.Children.Endpoint.BaseURL,
		"update_workflow", wf.Children.UpdateWorkflow,
		"onboard_workflow", wf.Children.OnboardWorkflow,
		"poll_interval", wf.Children.PollIntervalDuration(),
	)
}

// Start registers infrastructure hooks and binds the listener. A bind
// failure is returned here rather than logged from the serve goroutine.
func (s *Server) Start() error {
	started := time.Now()
	s.infra.Logger.Info("starting service")

	if err := s.infra.Start(); err != nil {
		return err
	}

	if err := s.http.Start(s.infra.Lifecycle); err != nil {
		return err
	}

	go func() {
		s.infra.Lifecycle.WaitForStartup()
		if !s.infra.Database.Ready() {
			s.infra.Logger.Warn(
				"startup finished without a database connection; readiness stays false",
				"elapsed", time.Since(started),
			)
			return
		}
		s.infra.Logger.Info("all subsystems ready", "elapsed", time.Since(started))
	}()

	return nil
}

// Shutdown stops the listener and workers, then closes the database once
// in-flight runs have been released.
func (s *Server) Shutdown(timeout time.Duration) error {
	started := time.Now()
	s.infra.Logger.Info("initiating shutdown", "timeout", timeout)

	if err := s.infra.Lifecycle.Shutdown(timeout); err != nil {
		return err
	}

	s.infra.Logger.Info("shutdown complete", "elapsed", time.Since(started))
	return nil
}
