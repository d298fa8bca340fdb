package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mihaicode/headshots-starter/internal/models"
)

// ErrNotFound is returned when a referenced job does not exist.
var ErrNotFound = errors.New("job not found")

// ErrInvalidTransition is returned when a requested state change is not
// allowed by the lifecycle state machine. Replaying a transition the job has
// already made is NOT an error; see Store.Transition.
var ErrInvalidTransition = errors.New("invalid job transition")

// TransitionDetails carries the optional fields a transition may set.
type TransitionDetails struct {
	ResultRef     *string
	FailureReason *string
}

// Store is the durable record of jobs. Per-job transitions are linearized
// by the store: whichever caller's transition lands first determines the
// validity of later requests. Transition and AttachVendorRef are idempotent
// for a given (job, target-state) pair so webhook duplicates are safe.
type Store interface {
	Create(ctx context.Context, tx pgx.Tx, job *models.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetByVendorRef(ctx context.Context, ref string) (*models.Job, error)
	// GetForUpdate locks the job row for the duration of the transaction.
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error)
	// AttachVendorRef sets the vendor reference and moves pending -> submitted.
	// The reference is immutable once set.
	AttachVendorRef(ctx context.Context, tx pgx.Tx, id uuid.UUID, ref string) error
	// Transition moves the job to newState if the state machine allows it.
	// Replaying a transition the job already made returns nil; a conflicting
	// one returns ErrInvalidTransition.
	Transition(ctx context.Context, tx pgx.Tx, id uuid.UUID, newState string, details TransitionDetails) error
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Job, error)
	// ListStale returns non-terminal pending/submitted/processing jobs not
	// updated since the cutoff. Used by the expiry worker for the webhooks
	// that never arrive, and for pending jobs stranded by a crash between
	// the submit commit and the vendor call.
	ListStale(ctx context.Context, cutoff time.Time) ([]*models.Job, error)
}
