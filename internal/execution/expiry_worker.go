package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"github.com/mihaicode/headshots-starter/internal/jobs"
	"github.com/mihaicode/headshots-starter/internal/models"
	"github.com/mihaicode/headshots-starter/internal/telemetry"
)

// ExpireStaleJobsArgs is the periodic sweep for jobs whose terminal webhook
// never arrived. Runs as a River periodic job.
type ExpireStaleJobsArgs struct{}

func (ExpireStaleJobsArgs) Kind() string { return "expire_stale_jobs" }

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Ledger is the subset of the credit ledger the sweep needs.
type Ledger interface {
	ReleaseJob(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) error
}

type ExpireStaleJobsWorker struct {
	river.WorkerDefaults[ExpireStaleJobsArgs]
	pool   TxBeginner
	store  jobs.Store
	ledger Ledger
	maxAge time.Duration
	log    *slog.Logger
}

func NewExpireStaleJobsWorker(pool TxBeginner, store jobs.Store, ledger Ledger, maxAge time.Duration, log *slog.Logger) *ExpireStaleJobsWorker {
	if log == nil {
		log = slog.Default()
	}
	return &ExpireStaleJobsWorker{pool: pool, store: store, ledger: ledger, maxAge: maxAge, log: log}
}

// Work fails every non-terminal job older than maxAge and returns its held
// credit. A webhook racing the sweep is safe: whichever transition commits
// first wins, the loser reads the terminal state and skips.
func (w *ExpireStaleJobsWorker) Work(ctx context.Context, _ *river.Job[ExpireStaleJobsArgs]) error {
	cutoff := time.Now().Add(-w.maxAge)
	stale, err := w.store.ListStale(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list stale jobs: %w", err)
	}

	var failed int
	for _, job := range stale {
		if err := w.expire(ctx, job); err != nil {
			w.log.Error("expire job failed", "job_id", job.ID, "error", err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("expire sweep: %d of %d jobs failed", failed, len(stale))
	}
	return nil
}

func (w *ExpireStaleJobsWorker) expire(ctx context.Context, job *models.Job) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	reason := fmt.Sprintf("no vendor response within %s", w.maxAge)
	err = w.store.Transition(ctx, tx, job.ID, models.JobStateFailed, jobs.TransitionDetails{FailureReason: &reason})
	if err != nil {
		if errors.Is(err, jobs.ErrInvalidTransition) {
			// A webhook got there first.
			return nil
		}
		return err
	}
	if err := w.ledger.ReleaseJob(ctx, tx, job.ID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	telemetry.JobsExpired.Inc()
	telemetry.LedgerReleases.Inc()
	w.log.Warn("job expired", "job_id", job.ID, "kind", job.Kind, "age_limit", w.maxAge)
	return nil
}
