package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mihaicode/headshots-starter/internal/models"
)

// ErrInsufficientCredit is returned when the account balance is too low for
// the requested reservation.
var ErrInsufficientCredit = errors.New("insufficient credit")

// ErrNotFound is returned when a referenced credit entry does not exist.
var ErrNotFound = errors.New("credit entry not found")

// ErrInvalidState is returned when settling a released entry or releasing a
// settled one. The two are mutually exclusive terminal states.
var ErrInvalidState = errors.New("credit entry in invalid state")

// AccountStore is the minimal account repository interface for the ledger.
type AccountStore interface {
	// DeductCredits atomically deducts amount if balance >= amount and
	// returns the new balance; ErrInsufficientCredit otherwise.
	DeductCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error)
	AddCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error)
}

// EntryStore is the minimal credit entry repository interface for the ledger.
type EntryStore interface {
	Create(ctx context.Context, tx pgx.Tx, e *models.CreditEntry) error
	// GetForUpdate locks the entry row for the duration of the transaction.
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.CreditEntry, error)
	SetStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error
	// ReservationByJob returns the reservation entry tied to the job.
	ReservationByJob(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (*models.CreditEntry, error)
}

// Service is the credit ledger: it places reservations against account
// balances and settles or releases them exactly once per job. All mutation
// of balances and entries goes through here.
type Service struct {
	Accounts AccountStore
	Entries  EntryStore
	Logger   *slog.Logger
}

// NewService returns a ledger Service backed by the given stores.
func NewService(accounts AccountStore, entries EntryStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Accounts: accounts, Entries: entries, Logger: logger}
}

// Reserve deducts amount from the account and records a reserved entry tied
// to the job. Runs inside the caller's transaction; on ErrInsufficientCredit
// nothing is persisted once the caller rolls back.
func (s *Service) Reserve(ctx context.Context, tx pgx.Tx, accountID, jobID uuid.UUID, amount int) (*models.CreditEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("reservation amount must be > 0, got %d", amount)
	}
	newBalance, err := s.Accounts.DeductCredits(ctx, tx, accountID, amount)
	if err != nil {
		return nil, err
	}
	entry := &models.CreditEntry{
		ID:           uuid.New(),
		AccountID:    accountID,
		JobID:        &jobID,
		EntryType:    models.CreditEntryReservation,
		Amount:       amount,
		Status:       models.CreditStatusReserved,
		BalanceAfter: &newBalance,
	}
	if err := s.Entries.Create(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("create reservation entry: %w", err)
	}
	return entry, nil
}

// Settle marks a reserved entry settled: the held amount is consumed and
// never returns to the balance. Settling an already-settled entry is a
// no-op; settling a released entry is ErrInvalidState.
func (s *Service) Settle(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) error {
	entry, err := s.Entries.GetForUpdate(ctx, tx, entryID)
	if err != nil {
		return err
	}
	switch entry.Status {
	case models.CreditStatusSettled:
		return nil
	case models.CreditStatusReleased:
		return fmt.Errorf("settle entry %s: %w (already released)", entryID, ErrInvalidState)
	}
	return s.Entries.SetStatus(ctx, tx, entryID, models.CreditStatusSettled)
}

// Release marks a reserved entry released and restores the held amount to
// the account balance. Releasing an already-released entry is a no-op;
// releasing a settled entry is ErrInvalidState.
func (s *Service) Release(ctx context.Context, tx pgx.Tx, entryID uuid.UUID) error {
	entry, err := s.Entries.GetForUpdate(ctx, tx, entryID)
	if err != nil {
		return err
	}
	switch entry.Status {
	case models.CreditStatusReleased:
		return nil
	case models.CreditStatusSettled:
		return fmt.Errorf("release entry %s: %w (already settled)", entryID, ErrInvalidState)
	}
	if err := s.Entries.SetStatus(ctx, tx, entryID, models.CreditStatusReleased); err != nil {
		return err
	}
	if _, err := s.Accounts.AddCredits(ctx, tx, entry.AccountID, entry.Amount); err != nil {
		return fmt.Errorf("restore balance for entry %s: %w", entryID, err)
	}
	return nil
}

// SettleJob settles the reservation tied to the job.
func (s *Service) SettleJob(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) error {
	entry, err := s.Entries.ReservationByJob(ctx, tx, jobID)
	if err != nil {
		return err
	}
	return s.Settle(ctx, tx, entry.ID)
}

// ReleaseJob releases the reservation tied to the job.
func (s *Service) ReleaseJob(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) error {
	entry, err := s.Entries.ReservationByJob(ctx, tx, jobID)
	if err != nil {
		return err
	}
	return s.Release(ctx, tx, entry.ID)
}
