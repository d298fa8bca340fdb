package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaicode/headshots-starter/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new account with the given starting balance.
func (r *Repository) Create(ctx context.Context, email, passwordHash, name string, credits int) (*models.Account, error) {
	a := models.Account{
		Email:         email,
		Name:          name,
		PasswordHash:  passwordHash,
		CreditBalance: credits,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (email, password_hash, name, credit_balance)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, email, passwordHash, name, credits).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByEmail returns the account for login. Returns nil if not found.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	var a models.Account
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, name, password_hash, credit_balance, created_at, updated_at
		FROM accounts WHERE email = $1
	`, email).Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.CreditBalance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}
