package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaicode/headshots-starter/internal/models"
)

// Repository is the Postgres implementation of AccountStore and EntryStore.
// The accounts table holds the available balance; credit_entries is the
// append-only audit trail. Atomicity is delegated to row-level conditional
// updates and FOR UPDATE locks, never to in-process mutexes.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var (
	_ AccountStore = (*Repository)(nil)
	_ EntryStore   = (*Repository)(nil)
)

// Begin starts a transaction on the underlying pool.
func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// DeductCredits deducts amount only if the balance covers it. The WHERE
// clause makes concurrent reservations on one account serialize correctly:
// two racing deductions can never both succeed when only one fits.
func (r *Repository) DeductCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (int, error) {
	var newBalance int
	err := tx.QueryRow(ctx, `
		UPDATE accounts SET credit_balance = credit_balance - $1, updated_at = now()
		WHERE id = $2 AND credit_balance >= $1
		RETURNING credit_balance
	`, amount, id).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInsufficientCredit
	}
	if err != nil {
		return 0, fmt.Errorf("deduct credits: %w", err)
	}
	return newBalance, nil
}

func (r *Repository) AddCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (int, error) {
	var newBalance int
	err := tx.QueryRow(ctx, `
		UPDATE accounts SET credit_balance = credit_balance + $1, updated_at = now()
		WHERE id = $2
		RETURNING credit_balance
	`, amount, id).Scan(&newBalance)
	if err != nil {
		return 0, fmt.Errorf("add credits: %w", err)
	}
	return newBalance, nil
}

func (r *Repository) Create(ctx context.Context, tx pgx.Tx, e *models.CreditEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO credit_entries (id, account_id, job_id, entry_type, amount, status, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, e.ID, e.AccountID, e.JobID, e.EntryType, e.Amount, e.Status, e.BalanceAfter).Scan(&e.CreatedAt, &e.UpdatedAt)
}

func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.CreditEntry, error) {
	return scanEntry(tx.QueryRow(ctx, `
		SELECT id, account_id, job_id, entry_type, amount, status, balance_after, created_at, updated_at
		FROM credit_entries WHERE id = $1 FOR UPDATE
	`, id))
}

func (r *Repository) SetStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE credit_entries SET status = $2, updated_at = now() WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("set entry status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) ReservationByJob(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) (*models.CreditEntry, error) {
	return scanEntry(tx.QueryRow(ctx, `
		SELECT id, account_id, job_id, entry_type, amount, status, balance_after, created_at, updated_at
		FROM credit_entries WHERE job_id = $1 AND entry_type = $2 FOR UPDATE
	`, jobID, models.CreditEntryReservation))
}

// RecordPurchase appends a settled purchase entry and credits the account.
// Used by the dashboard top-up endpoint; the payment provider is outside
// this core.
func (r *Repository) RecordPurchase(ctx context.Context, accountID uuid.UUID, amount int) (*models.CreditEntry, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	newBalance, err := r.AddCredits(ctx, tx, accountID, amount)
	if err != nil {
		return nil, err
	}
	e := &models.CreditEntry{
		ID:           uuid.New(),
		AccountID:    accountID,
		EntryType:    models.CreditEntryPurchase,
		Amount:       amount,
		Status:       models.CreditStatusSettled,
		BalanceAfter: &newBalance,
	}
	if err := r.Create(ctx, tx, e); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// ListByAccountID returns the account's full entry history, newest first.
func (r *Repository) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.CreditEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, job_id, entry_type, amount, status, balance_after, created_at, updated_at
		FROM credit_entries WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditEntry
	for rows.Next() {
		var e models.CreditEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.JobID, &e.EntryType, &e.Amount, &e.Status, &e.BalanceAfter, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	if list == nil {
		list = []*models.CreditEntry{}
	}
	return list, rows.Err()
}

func scanEntry(row pgx.Row) (*models.CreditEntry, error) {
	var e models.CreditEntry
	err := row.Scan(&e.ID, &e.AccountID, &e.JobID, &e.EntryType, &e.Amount, &e.Status, &e.BalanceAfter, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}
