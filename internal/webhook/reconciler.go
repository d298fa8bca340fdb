package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mihaicode/headshots-starter/internal/jobs"
	"github.com/mihaicode/headshots-starter/internal/models"
	"github.com/mihaicode/headshots-starter/internal/telemetry"
)

// Ledger is the subset of the credit ledger the reconciler needs.
type Ledger interface {
	SettleJob(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) error
	ReleaseJob(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) error
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Reconciler applies vendor signals to local state. Every signal is treated
// as "apply this fact if not already applied": duplicates no-op, conflicting
// terminal signals are logged as anomalies and dropped, and the job
// transition and its ledger settlement commit in one transaction.
type Reconciler struct {
	Pool   TxBeginner
	Jobs   jobs.Store
	Ledger Ledger
	Logger *slog.Logger
}

func NewReconciler(pool TxBeginner, store jobs.Store, ledger Ledger, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{Pool: pool, Jobs: store, Ledger: ledger, Logger: logger}
}

// Handle applies one authenticated, parsed signal. A nil return means the
// update is durably applied or idempotently skipped, and the HTTP layer may
// acknowledge with 2xx; anything else makes the vendor retry.
func (r *Reconciler) Handle(ctx context.Context, sig Signal) error {
	job, err := r.Jobs.GetByVendorRef(ctx, sig.VendorRef)
	if err != nil {
		telemetry.WebhookSignals.WithLabelValues(sig.Type, "unknown_ref").Inc()
		return fmt.Errorf("resolve vendor ref %q: %w", sig.VendorRef, err)
	}

	switch sig.Type {
	case SignalStarted:
		return r.handleStarted(ctx, job)
	case SignalSucceeded:
		return r.handleTerminal(ctx, job, models.JobStateSucceeded, jobs.TransitionDetails{ResultRef: &sig.ResultRef})
	case SignalFailed:
		reason := sig.Reason
		if reason == "" {
			reason = "vendor reported failure"
		}
		return r.handleTerminal(ctx, job, models.JobStateFailed, jobs.TransitionDetails{FailureReason: &reason})
	}
	return fmt.Errorf("%w: unknown signal type %q", ErrMalformedPayload, sig.Type)
}

// handleStarted moves submitted -> processing. If the job is already there
// or past it the signal is stale and dropped.
func (r *Reconciler) handleStarted(ctx context.Context, job *models.Job) error {
	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin started tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = r.Jobs.Transition(ctx, tx, job.ID, models.JobStateProcessing, jobs.TransitionDetails{})
	if err != nil {
		if errors.Is(err, jobs.ErrInvalidTransition) {
			telemetry.WebhookSignals.WithLabelValues(SignalStarted, "stale").Inc()
			r.Logger.Debug("stale started signal", "job_id", job.ID, "state", job.State)
			return nil
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit started tx: %w", err)
	}
	telemetry.WebhookSignals.WithLabelValues(SignalStarted, "applied").Inc()
	return nil
}

// handleTerminal applies a succeeded or failed fact together with its
// ledger outcome. The transition and the settle/release commit atomically,
// so a crash between them cannot split the accounting from the state.
func (r *Reconciler) handleTerminal(ctx context.Context, job *models.Job, newState string, details jobs.TransitionDetails) error {
	sigType := SignalSucceeded
	if newState == models.JobStateFailed {
		sigType = SignalFailed
	}

	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin terminal tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := r.Jobs.GetForUpdate(ctx, tx, job.ID)
	if err != nil {
		return err
	}
	if models.JobStateTerminal(current.State) {
		if current.State == newState {
			// Duplicate delivery of the same terminal fact: full no-op.
			telemetry.WebhookSignals.WithLabelValues(sigType, "duplicate").Inc()
			return nil
		}
		// Conflicting terminal signal, e.g. "failed" after "succeeded" was
		// applied. The settled ledger outcome must stand; drop it.
		telemetry.WebhookSignals.WithLabelValues(sigType, "conflict").Inc()
		r.Logger.Warn("conflicting terminal signal ignored",
			"job_id", job.ID, "applied_state", current.State, "signal_state", newState)
		return nil
	}

	if err := r.Jobs.Transition(ctx, tx, job.ID, newState, details); err != nil {
		return err
	}
	if newState == models.JobStateSucceeded {
		err = r.Ledger.SettleJob(ctx, tx, job.ID)
	} else {
		err = r.Ledger.ReleaseJob(ctx, tx, job.ID)
	}
	if err != nil {
		return fmt.Errorf("apply ledger outcome for job %s: %w", job.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit terminal tx: %w", err)
	}

	if newState == models.JobStateSucceeded {
		telemetry.LedgerSettlements.Inc()
	} else {
		telemetry.LedgerReleases.Inc()
	}
	telemetry.WebhookSignals.WithLabelValues(sigType, "applied").Inc()
	r.Logger.Info("terminal signal applied", "job_id", job.ID, "state", newState)
	return nil
}
