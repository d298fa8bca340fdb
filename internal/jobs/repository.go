package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaicode/headshots-starter/internal/models"
)

const jobColumns = "id, account_id, kind, state, payload, vendor_ref, result_ref, failure_reason, created_at, updated_at"

// Repository is the Postgres implementation of Store. Transitions are
// conditional single-row updates keyed on the allowed source states, so the
// database linearizes racing writers without coarse locks.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// Begin starts a transaction on the underlying pool.
func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *Repository) Create(ctx context.Context, tx pgx.Tx, job *models.Job) error {
	return tx.QueryRow(ctx, `
		INSERT INTO jobs (id, account_id, kind, state, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, job.ID, job.AccountID, job.Kind, job.State, job.Payload).Scan(&job.CreatedAt, &job.UpdatedAt)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
}

func (r *Repository) GetByVendorRef(ctx context.Context, ref string) (*models.Job, error) {
	return scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE vendor_ref = $1`, ref))
}

func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error) {
	return scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
}

func (r *Repository) AttachVendorRef(ctx context.Context, tx pgx.Tx, id uuid.UUID, ref string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET vendor_ref = $2, state = $3, updated_at = now()
		WHERE id = $1 AND state = $4 AND vendor_ref IS NULL
	`, id, ref, models.JobStateSubmitted, models.JobStatePending)
	if err != nil {
		return fmt.Errorf("attach vendor ref: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	job, err := r.GetForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	// Idempotent replay: the same ref is already attached.
	if job.VendorRef != nil && *job.VendorRef == ref && job.State == models.JobStateSubmitted {
		return nil
	}
	return fmt.Errorf("attach vendor ref to %s job %s: %w", job.State, id, ErrInvalidTransition)
}

func (r *Repository) Transition(ctx context.Context, tx pgx.Tx, id uuid.UUID, newState string, details TransitionDetails) error {
	sources := models.JobTransitionSources(newState)
	if len(sources) == 0 {
		return fmt.Errorf("no transition leads to state %q: %w", newState, ErrInvalidTransition)
	}
	tag, err := tx.Exec(ctx, `
		UPDATE jobs
		SET state = $2,
		    result_ref = COALESCE($3, result_ref),
		    failure_reason = COALESCE($4, failure_reason),
		    updated_at = now()
		WHERE id = $1 AND state = ANY($5)
	`, id, newState, details.ResultRef, details.FailureReason, sources)
	if err != nil {
		return fmt.Errorf("transition job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	job, err := r.GetForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	// Replaying the transition the job already made is a no-op. This is
	// what makes duplicate webhook delivery safe.
	if job.State == newState {
		return nil
	}
	return fmt.Errorf("transition %s -> %s for job %s: %w", job.State, newState, id, ErrInvalidTransition)
}

func (r *Repository) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (r *Repository) ListStale(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE state = ANY($1) AND updated_at < $2
		ORDER BY updated_at ASC
	`, []string{models.JobStatePending, models.JobStateSubmitted, models.JobStateProcessing}, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.AccountID, &j.Kind, &j.State, &j.Payload, &j.VendorRef, &j.ResultRef, &j.FailureReason, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*models.Job, error) {
	var list []*models.Job
	for rows.Next() {
		var j models.Job
		if err := rows.Scan(&j.ID, &j.AccountID, &j.Kind, &j.State, &j.Payload, &j.VendorRef, &j.ResultRef, &j.FailureReason, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &j)
	}
	return list, rows.Err()
}
