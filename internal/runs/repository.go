package runs

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"

	"github.com/google/uuid"

	"github.com/JaimeStill/meridian/internal/workflow"
	"github.com/JaimeStill/meridian/pkg/lifecycle"
	"github.com/JaimeStill/meridian/pkg/pagination"
	"github.com/JaimeStill/meridian/pkg/query"
	"github.com/JaimeStill/meridian/pkg/repository"
	"github.com/JaimeStill/meridian/pkg/storage"
)

type repo struct {
	db         *sql.DB
	storage    storage.System
	dispatcher *Dispatcher
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates the run system. Runs execute on a dispatcher built from rt and
// cfg, which begins work once Start is called.
func New(
	db *sql.DB,
	store storage.System,
	rt *workflow.Runtime,
	cfg DispatchConfig,
	logger *slog.Logger,
	pagination pagination.Config,
) System {
	r := &repo{
		db:         db,
		storage:    store,
		logger:     logger.With("system", "runs"),
		pagination: pagination,
	}
	r.dispatcher = NewDispatcher(r, rt, cfg, logger)
	return r
}

func (r *repo) Handler(maxManifestSize int64) *Handler {
	return NewHandler(r, r.logger, r.pagination, maxManifestSize)
}

func (r *repo) Start(lc *lifecycle.Coordinator) error {
	return r.dispatcher.Start(lc)
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Run], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "InputFile", "FailureFile")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	total, err := repository.QueryCount(ctx, r.db, countSQL, countArgs)
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	runs, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanRun)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}

	result := pagination.NewPageResult(runs, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id uuid.UUID) (*Run, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	run, err := repository.QueryOne(ctx, r.db, q, args, scanRun)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &run, nil
}

func (r *repo) Steps(ctx context.Context, id uuid.UUID) ([]Step, error) {
	if _, err := r.Find(ctx, id); err != nil {
		return nil, err
	}

	const q = `
		SELECT run_id, seq, from_state, to_state, driver_status, workflow_type, merchant_count, error, occurred_at
		FROM run_steps
		WHERE run_id = $1
		ORDER BY seq`

	steps, err := repository.QueryMany(ctx, r.db, q, []any{id}, scanStep)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	return steps, nil
}

func (r *repo) Submit(ctx context.Context, cmd SubmitCommand) (*Run, error) {
	return r.submit(ctx, uuid.New(), cmd)
}

func (r *repo) Upload(ctx context.Context, cmd UploadCommand) (*Run, error) {
	if len(cmd.Data) == 0 {
		return nil, fmt.Errorf("%w: empty manifest", ErrInvalidInput)
	}

	id := uuid.New()
	key := manifestKey(id, cmd.Filename)

	if err := r.storage.Upload(ctx, key, bytes.NewReader(cmd.Data), cmd.ContentType); err != nil {
		return nil, fmt.Errorf("upload manifest: %w", err)
	}

	run, err := r.submit(ctx, id, SubmitCommand{InputFile: key, FailureFile: cmd.FailureFile})
	if err != nil && run == nil {
		if delErr := r.storage.Delete(ctx, key); delErr != nil {
			r.logger.Warn("compensating manifest delete failed", "key", key, "error", delErr)
		}
	}
	return run, err
}

func (r *repo) submit(ctx context.Context, id uuid.UUID, cmd SubmitCommand) (*Run, error) {
	if cmd.InputFile == "" {
		return nil, fmt.Errorf("%w: input_file required", ErrInvalidInput)
	}

	exists, err := r.storage.Exists(ctx, cmd.InputFile)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidKey) || errors.Is(err, storage.ErrEmptyKey) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("check input file: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrInputNotFound, cmd.InputFile)
	}

	item, err := encodeItem(cmd.WorkItem())
	if err != nil {
		return nil, err
	}

	q := `
		INSERT INTO runs(id, input_file, failure_file, input, item)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING ` + returning

	args := []any{id, cmd.InputFile, nullable(cmd.FailureFile), item}

	run, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Run, error) {
		return repository.QueryOne(ctx, tx, q, args, scanRun)
	})
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}

	r.logger.Info("run submitted", "id", run.ID, "input_file", run.InputFile)

	if err := r.dispatcher.Enqueue(run.ID); err != nil {
		return &run, err
	}
	return &run, nil
}

func (r *repo) Cancel(ctx context.Context, id uuid.UUID) (*Run, error) {
	run, err := r.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	switch run.Status {
	case StatusPending:
		const q = `
			UPDATE runs
			SET status = 'CANCELLED', state = 'Cancelled', error = $2, completed_at = now(), updated_at = now()
			WHERE id = $1 AND status = 'PENDING'`

		err := repository.ExecExpectOne(ctx, r.db, q, id, workflow.ErrCancelled.Error())
		if errors.Is(err, sql.ErrNoRows) {
			// claimed between Find and the update; the dispatcher now owns it
			if r.dispatcher.Cancel(id) {
				break
			}
			return nil, ErrNotCancellable
		}
		if err != nil {
			return nil, fmt.Errorf("cancel pending run: %w", err)
		}
	case StatusRunning:
		if !r.dispatcher.Cancel(id) {
			return nil, fmt.Errorf("%w: run %s is not active on this instance", ErrNotCancellable, id)
		}
	default:
		return nil, fmt.Errorf("%w: run is %s", ErrNotCancellable, run.Status)
	}

	r.logger.Info("run cancel requested", "id", id, "status", run.Status)
	return r.Find(ctx, id)
}

func (r *repo) Failures(ctx context.Context, id uuid.UUID) (*storage.Object, error) {
	run, err := r.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.FailureFile == nil {
		return nil, ErrNoFailureFile
	}

	obj, err := r.storage.Download(ctx, *run.FailureFile)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s missing from storage", ErrNoFailureFile, *run.FailureFile)
		}
		return nil, fmt.Errorf("download failure file: %w", err)
	}
	return obj, nil
}

func (r *repo) Claim(ctx context.Context, id uuid.UUID) (*Run, error) {
	const update = `
		UPDATE runs
		SET status = 'RUNNING', state = 'Start', item = input,
			driver_invocations = 0, subworkflow_invocations = 0, recoveries = 0,
			error = NULL, started_at = now(), completed_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING `

	run, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Run, error) {
		run, err := repository.QueryOne(ctx, tx, update+returning, []any{id}, scanRun)
		if err != nil {
			return run, err
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM run_steps WHERE run_id = $1", id)
		return run, err
	})
	if err != nil {
		return nil, repository.MapError(err, ErrNotClaimable, ErrDuplicate)
	}
	return &run, nil
}

func (r *repo) Record(ctx context.Context, id uuid.UUID, t workflow.Transition) error {
	item, err := encodeItem(t.Item)
	if err != nil {
		return err
	}

	const insert = `
		INSERT INTO run_steps(run_id, seq, from_state, to_state, driver_status, workflow_type, merchant_count, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	const update = `
		UPDATE runs
		SET state = $2, item = $3, driver_status = $4, workflow_type = $5,
			failure_file = COALESCE($6, failure_file), updated_at = now()
		WHERE id = $1`

	driverStatus := nullable(t.Item.Status)
	workflowType := nullable(t.Item.WorkflowType)

	_, err = repository.WithTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		if _, err := tx.ExecContext(
			ctx, insert,
			id, t.Seq, string(t.From), string(t.To),
			driverStatus, workflowType,
			t.Item.MarketplaceIDMerchantIDsMap.Count(),
			errorText(t.Err),
		); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, repository.ExecExpectOne(
			ctx, tx, update,
			id, string(t.To), item, driverStatus, workflowType, nullable(t.Item.FailureFile),
		)
	})
	return repository.MapError(err, ErrNotFound, ErrDuplicate)
}

func (r *repo) Complete(ctx context.Context, id uuid.UUID, res *workflow.Result) error {
	item, err := encodeItem(res.Item)
	if err != nil {
		return err
	}

	const q = `
		UPDATE runs
		SET status = $2, state = $3, item = $4, driver_status = $5, workflow_type = $6,
			failure_file = COALESCE($7, failure_file),
			driver_invocations = $8, subworkflow_invocations = $9, recoveries = $10,
			error = $11, completed_at = now(), updated_at = now()
		WHERE id = $1`

	err = repository.ExecExpectOne(
		ctx, r.db, q,
		id,
		string(StatusFor(res.State)),
		string(res.State),
		item,
		nullable(res.Item.Status),
		nullable(res.Item.WorkflowType),
		nullable(res.Item.FailureFile),
		res.DriverInvocations,
		res.SubWorkflowInvocations,
		res.Recoveries,
		errorText(res.Cause),
	)
	return repository.MapError(err, ErrNotFound, ErrDuplicate)
}

func (r *repo) Release(ctx context.Context, id uuid.UUID) error {
	const q = `
		UPDATE runs
		SET status = 'PENDING', state = 'Start', updated_at = now()
		WHERE id = $1 AND status = 'RUNNING'`

	err := repository.ExecExpectOne(ctx, r.db, q, id)
	return repository.MapError(err, ErrNotFound, ErrDuplicate)
}

func (r *repo) Recover(ctx context.Context) ([]uuid.UUID, error) {
	return repository.WithTx(ctx, r.db, func(tx *sql.Tx) ([]uuid.UUID, error) {
		res, err := tx.ExecContext(ctx, `
			UPDATE runs
			SET status = 'PENDING', state = 'Start', updated_at = now()
			WHERE status = 'RUNNING'`)
		if err != nil {
			return nil, fmt.Errorf("release running runs: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			r.logger.Warn("released interrupted runs", "count", n)
		}

		return repository.QueryMany(
			ctx, tx,
			"SELECT id FROM runs WHERE status = 'PENDING' ORDER BY submitted_at",
			nil,
			func(s repository.Scanner) (uuid.UUID, error) {
				var id uuid.UUID
				err := s.Scan(&id)
				return id, err
			},
		)
	})
}

func manifestKey(id uuid.UUID, filename string) string {
	name := path.Base(filename)
	if name == "." || name == "/" || name == "" || name == ".." {
		name = "manifest.json"
	}
	return fmt.Sprintf("manifests/%s/%s", id, url.PathEscape(name))
}
