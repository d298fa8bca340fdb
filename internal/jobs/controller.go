package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mihaicode/headshots-starter/internal/ledger"
	"github.com/mihaicode/headshots-starter/internal/models"
	"github.com/mihaicode/headshots-starter/internal/telemetry"
	"github.com/mihaicode/headshots-starter/internal/vendor"
)

// Ledger is the subset of the credit ledger the controller needs.
type Ledger interface {
	Reserve(ctx context.Context, tx pgx.Tx, accountID, jobID uuid.UUID, amount int) (*models.CreditEntry, error)
	Release(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) error
	ReleaseJob(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) error
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Costs holds the fixed credit price per job kind.
type Costs struct {
	Training   int
	Generation int
}

func (c Costs) For(kind string) int {
	if kind == models.JobKindTraining {
		return c.Training
	}
	return c.Generation
}

// Controller orchestrates the job lifecycle: it reserves credit, creates
// the job, hands it to the vendor and exposes status. Completion is
// observed later through the webhook reconciler, never by blocking here.
type Controller struct {
	Pool   TxBeginner
	Store  Store
	Ledger Ledger
	Vendor vendor.Client
	Costs  Costs
	Logger *slog.Logger
}

func NewController(pool TxBeginner, store Store, led Ledger, client vendor.Client, costs Costs, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{Pool: pool, Store: store, Ledger: led, Vendor: client, Costs: costs, Logger: logger}
}

// Submit reserves credit, creates the job and calls the vendor. The
// reservation and the pending job commit together, so an insufficient
// balance leaves nothing behind. A failed vendor call releases the
// reservation and fails the job before the error reaches the caller —
// a failed submission never strands a credit hold.
func (c *Controller) Submit(ctx context.Context, accountID uuid.UUID, kind string, payload json.RawMessage) (*models.Job, error) {
	if !models.ValidJobKind(kind) {
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}

	job := &models.Job{
		ID:        uuid.New(),
		AccountID: accountID,
		Kind:      kind,
		State:     models.JobStatePending,
		Payload:   payload,
	}

	tx, err := c.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin submit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// The reservation row carries a foreign key to the job row, so the job
	// insert must land first. Both still commit or roll back together.
	if err := c.Store.Create(ctx, tx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	entry, err := c.Ledger.Reserve(ctx, tx, accountID, job.ID, c.Costs.For(kind))
	if err != nil {
		reason := "reserve_error"
		if errors.Is(err, ledger.ErrInsufficientCredit) {
			reason = "insufficient_credit"
		}
		telemetry.SubmissionFailures.WithLabelValues(reason).Inc()
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit submit tx: %w", err)
	}

	ref, vendorErr := c.callVendor(ctx, kind, payload)
	if vendorErr != nil {
		if compErr := c.compensate(ctx, job.ID, entry.ID, vendorErr); compErr != nil {
			// The vendor retry-safe path is gone; surface both.
			return nil, fmt.Errorf("vendor call failed (%v) and compensation failed: %w", vendorErr, compErr)
		}
		telemetry.SubmissionFailures.WithLabelValues("adapter_error").Inc()
		return nil, vendorErr
	}

	tx, err = c.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin attach tx: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := c.Store.AttachVendorRef(ctx, tx, job.ID, ref); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit attach tx: %w", err)
	}

	job.VendorRef = &ref
	job.State = models.JobStateSubmitted
	telemetry.SubmissionsTotal.WithLabelValues(kind).Inc()
	c.Logger.Info("job submitted", "job_id", job.ID, "kind", kind, "vendor_ref", ref)
	return job, nil
}

func (c *Controller) callVendor(ctx context.Context, kind string, payload json.RawMessage) (string, error) {
	if kind == models.JobKindTraining {
		return c.Vendor.TrainModel(ctx, payload)
	}
	return c.Vendor.GenerateImages(ctx, payload)
}

// compensate fails the job and releases its reservation in one transaction.
func (c *Controller) compensate(ctx context.Context, jobID, entryID uuid.UUID, cause error) error {
	tx, err := c.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	reason := cause.Error()
	if err := c.Store.Transition(ctx, tx, jobID, models.JobStateFailed, TransitionDetails{FailureReason: &reason}); err != nil {
		return err
	}
	if err := c.Ledger.Release(ctx, tx, entryID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	telemetry.LedgerReleases.Inc()
	c.Logger.Warn("submission compensated", "job_id", jobID, "error", cause)
	return nil
}

// Status returns the current job snapshot.
func (c *Controller) Status(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	return c.Store.GetByID(ctx, jobID)
}

// List returns the account's jobs, newest first.
func (c *Controller) List(ctx context.Context, accountID uuid.UUID) ([]*models.Job, error) {
	return c.Store.ListByAccountID(ctx, accountID)
}

// Cancel stops a job that has not started processing and returns its held
// credit. It can race an in-flight webhook: whichever transition lands
// first wins, and the ledger is settled or released exactly once either way.
func (c *Controller) Cancel(ctx context.Context, jobID uuid.UUID) error {
	tx, err := c.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin cancel tx: %w", err)
	}
	defer tx.Rollback(ctx)

	job, err := c.Store.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if !models.JobCanTransition(job.State, models.JobStateCancelled) {
		return fmt.Errorf("cancel %s job %s: %w", job.State, jobID, ErrInvalidTransition)
	}
	if err := c.Store.Transition(ctx, tx, jobID, models.JobStateCancelled, TransitionDetails{}); err != nil {
		return err
	}
	if err := c.Ledger.ReleaseJob(ctx, tx, jobID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit cancel tx: %w", err)
	}
	telemetry.LedgerReleases.Inc()
	c.Logger.Info("job cancelled", "job_id", jobID)
	return nil
}
