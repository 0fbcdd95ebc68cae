package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/meridian/internal/workflow"
	"github.com/JaimeStill/meridian/pkg/lifecycle"
)

// DispatchConfig sizes the dispatcher.
type DispatchConfig struct {
	MaxConcurrentRuns int
	QueueSize         int
}

// Dispatcher executes queued runs on a bounded pool of workers.
type Dispatcher struct {
	store   Store
	rt      *workflow.Runtime
	queue   chan uuid.UUID
	workers int
	logger  *slog.Logger

	mu     sync.Mutex
	active map[uuid.UUID]context.CancelFunc
}

// NewDispatcher creates a dispatcher over store. Sizes below 1 are raised to 1.
func NewDispatcher(store Store, rt *workflow.Runtime, cfg DispatchConfig, logger *slog.Logger) *Dispatcher {
	if rt == nil {
		rt = &workflow.Runtime{}
	}
	return &Dispatcher{
		store:   store,
		rt:      rt,
		queue:   make(chan uuid.UUID, max(cfg.QueueSize, 1)),
		workers: max(cfg.MaxConcurrentRuns, 1),
		logger:  logger.With("system", "dispatcher"),
		active:  make(map[uuid.UUID]context.CancelFunc),
	}
}

// Start requeues interrupted and pending runs during startup and runs the
// worker pool until the coordinator shuts down.
func (d *Dispatcher) Start(lc *lifecycle.Coordinator) error {
	d.logger.Info("starting dispatcher", "workers", d.workers, "queue_size", cap(d.queue))

	lc.OnStartup(func() {
		if err := d.requeue(lc.Context()); err != nil {
			d.logger.Error("requeue failed", "error", err)
		}
	})

	lc.Go(d.run)
	return nil
}

// Enqueue schedules a PENDING run. Returns ErrQueueFull without blocking
// when the queue has no room.
func (d *Dispatcher) Enqueue(id uuid.UUID) error {
	select {
	case d.queue <- id:
		return nil
	default:
		return fmt.Errorf("%w: run %s remains pending", ErrQueueFull, id)
	}
}

// Cancel stops an executing run. Reports false when the run is not active here.
func (d *Dispatcher) Cancel(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	cancel, ok := d.active[id]
	if ok {
		cancel()
	}
	return ok
}

// Active returns the number of runs currently executing.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

func (d *Dispatcher) requeue(ctx context.Context) error {
	ids, err := d.store.Recover(ctx)
	if err != nil {
		return err
	}

	for i, id := range ids {
		if err := d.Enqueue(id); err != nil {
			d.logger.Warn("queue full during requeue", "queued", i, "pending", len(ids))
			return nil
		}
	}

	if len(ids) > 0 {
		d.logger.Info("requeued pending runs", "count", len(ids))
	}
	return nil
}

func (d *Dispatcher) run(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(d.workers)

	for {
		select {
		case <-ctx.Done():
			g.Wait()
			d.logger.Info("dispatcher stopped")
			return
		case id := <-d.queue:
			g.Go(func() error {
				d.process(ctx, id)
				return nil
			})
		}
	}
}

func (d *Dispatcher) process(parent context.Context, id uuid.UUID) {
	logger := d.logger.With("run_id", id)
	if parent.Err() != nil {
		return
	}

	// tracked before the claim so a cancel racing the PENDING to RUNNING
	// transition still reaches this execution
	ctx, cancel := context.WithCancel(parent)
	d.track(id, cancel)
	defer d.untrack(id)

	run, err := d.store.Claim(parent, id)
	if err != nil {
		if errors.Is(err, ErrNotClaimable) {
			logger.Debug("skipping run no longer pending")
			return
		}
		logger.Error("claim failed", "error", err)
		return
	}

	persist := context.WithoutCancel(parent)
	observer := workflow.ObserverFunc(func(_ context.Context, t workflow.Transition) {
		if err := d.store.Record(persist, id, t); err != nil {
			logger.Error("record step failed", "seq", t.Seq, "to", t.To, "error", err)
		}
	})

	logger.Info("run started", "input_file", run.InputFile)

	res, err := workflow.Execute(ctx, d.rt.WithObserver(observer), run.Input)
	if res == nil {
		res = &workflow.Result{
			State: workflow.StateFail,
			Item:  run.Input,
			Cause: err,
		}
	}

	if res.State == workflow.StateCancelled && parent.Err() != nil {
		if err := d.store.Release(persist, id); err != nil {
			logger.Error("release failed", "error", err)
			return
		}
		logger.Info("run released for resumption")
		return
	}

	if err := d.store.Complete(persist, id, res); err != nil {
		logger.Error("complete failed", "error", err)
		return
	}
	logger.Info("run completed", "status", StatusFor(res.State))
}

func (d *Dispatcher) track(id uuid.UUID, cancel context.CancelFunc) {
	d.mu.Lock()
	d.active[id] = cancel
	d.mu.Unlock()
}

func (d *Dispatcher) untrack(id uuid.UUID) {
	d.mu.Lock()
	if cancel, ok := d.active[id]; ok {
		cancel()
		delete(d.active, id)
	}
	d.mu.Unlock()
}
