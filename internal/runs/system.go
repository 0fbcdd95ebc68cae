package runs

import (
	"context"

	"github.com/google/uuid"

	"github.com/JaimeStill/meridian/internal/workflow"
	"github.com/JaimeStill/meridian/pkg/lifecycle"
	"github.com/JaimeStill/meridian/pkg/pagination"
	"github.com/JaimeStill/meridian/pkg/storage"
)

// System defines the public contract for run domain operations.
type System interface {
	Handler(maxManifestSize int64) *Handler

	// Start registers the dispatcher with the lifecycle coordinator.
	Start(lc *lifecycle.Coordinator) error

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Run], error)

	Find(ctx context.Context, id uuid.UUID) (*Run, error)
	Steps(ctx context.Context, id uuid.UUID) ([]Step, error)

	// Submit records a PENDING run and queues it. When the queue is full the
	// run stays PENDING and ErrQueueFull is returned alongside it.
	Submit(ctx context.Context, cmd SubmitCommand) (*Run, error)

	// Upload stores the manifest at manifests/<run-id>/<name> and submits it.
	Upload(ctx context.Context, cmd UploadCommand) (*Run, error)

	Cancel(ctx context.Context, id uuid.UUID) (*Run, error)

	// Failures opens the run's failure file. The caller closes the body.
	Failures(ctx context.Context, id uuid.UUID) (*storage.Object, error)
}

// Store persists run progress for the dispatcher.
type Store interface {
	// Claim moves a PENDING run to RUNNING and clears steps from any earlier
	// attempt. Returns ErrNotClaimable when the run is not PENDING.
	Claim(ctx context.Context, id uuid.UUID) (*Run, error)
	// Record appends a step and updates the run's current state.
	Record(ctx context.Context, id uuid.UUID, t workflow.Transition) error
	// Complete stores the terminal outcome of an execution.
	Complete(ctx context.Context, id uuid.UUID, res *workflow.Result) error
	// Release returns a RUNNING run to PENDING so a later start resumes it.
	Release(ctx context.Context, id uuid.UUID) error
	// Recover releases every RUNNING run and returns the IDs of all PENDING
	// runs, oldest first.
	Recover(ctx context.Context) ([]uuid.UUID, error)
}
