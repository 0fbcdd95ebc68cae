package api

import (
	"github.com/JaimeStill/meridian/internal/runs"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Runs runs.System
}

// NewDomain creates all domain systems from the API runtime.
func NewDomain(runtime *Runtime) *Domain {
	return &Domain{
		Runs: runs.New(
			runtime.Database.Connection(),
			runtime.Storage,
			runtime.Workflow,
			runtime.Dispatch,
			runtime.Logger,
			runtime.Pagination,
		),
	}
}

// Start registers every domain system's background work with the lifecycle.
func (d *Domain) Start(runtime *Runtime) error {
	return d.Runs.Start(runtime.Lifecycle)
}
