package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mihaicode/headshots-starter/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory mocks for AccountStore and EntryStore.
// These let us test the real Service logic without a database.
// ---------------------------------------------------------------------------

type mockAccounts struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int
}

func newMockAccounts() *mockAccounts {
	return &mockAccounts{balances: make(map[uuid.UUID]int)}
}

func (m *mockAccounts) DeductCredits(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, ok := m.balances[id]
	if !ok {
		return 0, fmt.Errorf("account %s not found", id)
	}
	if bal < amount {
		return 0, ErrInsufficientCredit
	}
	m.balances[id] = bal - amount
	return m.balances[id], nil
}

func (m *mockAccounts) AddCredits(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balances[id]; !ok {
		return 0, fmt.Errorf("account %s not found", id)
	}
	m.balances[id] += amount
	return m.balances[id], nil
}

func (m *mockAccounts) balance(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[id]
}

type mockEntries struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*models.CreditEntry
}

func newMockEntries() *mockEntries {
	return &mockEntries{entries: make(map[uuid.UUID]*models.CreditEntry)}
}

func (m *mockEntries) Create(_ context.Context, _ pgx.Tx, e *models.CreditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *mockEntries) GetForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.CreditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *mockEntries) SetStatus(_ context.Context, _ pgx.Tx, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = status
	return nil
}

func (m *mockEntries) ReservationByJob(_ context.Context, _ pgx.Tx, jobID uuid.UUID) (*models.CreditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.JobID != nil && *e.JobID == jobID && e.EntryType == models.CreditEntryReservation {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockEntries) status(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[id].Status
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func newTestService() (*Service, *mockAccounts, *mockEntries) {
	accounts := newMockAccounts()
	entries := newMockEntries()
	return NewService(accounts, entries, nil), accounts, entries
}

func TestReserve(t *testing.T) {
	svc, accounts, _ := newTestService()
	account := uuid.New()
	job := uuid.New()
	accounts.balances[account] = 5

	ctx := context.Background()
	entry, err := svc.Reserve(ctx, nil, account, job, 2)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if got := accounts.balance(account); got != 3 {
		t.Errorf("balance after reserve: got %d, want 3", got)
	}
	if entry.Status != models.CreditStatusReserved {
		t.Errorf("entry status: got %q, want reserved", entry.Status)
	}
	if entry.JobID == nil || *entry.JobID != job {
		t.Error("entry should reference the job")
	}
	if entry.BalanceAfter == nil || *entry.BalanceAfter != 3 {
		t.Errorf("balance_after: got %v, want 3", entry.BalanceAfter)
	}
}

func TestReserve_InsufficientCredit(t *testing.T) {
	svc, accounts, entries := newTestService()
	account := uuid.New()
	accounts.balances[account] = 1

	_, err := svc.Reserve(context.Background(), nil, account, uuid.New(), 2)
	if err != ErrInsufficientCredit {
		t.Fatalf("expected ErrInsufficientCredit, got: %v", err)
	}
	// No side effects: balance untouched, no entry written.
	if got := accounts.balance(account); got != 1 {
		t.Errorf("balance after failed reserve: got %d, want 1", got)
	}
	if len(entries.entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries.entries))
	}
}

func TestSettle_Idempotent(t *testing.T) {
	svc, accounts, entries := newTestService()
	account := uuid.New()
	accounts.balances[account] = 5

	ctx := context.Background()
	entry, err := svc.Reserve(ctx, nil, account, uuid.New(), 1)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	if err := svc.Settle(ctx, nil, entry.ID); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if got := entries.status(entry.ID); got != models.CreditStatusSettled {
		t.Errorf("entry status: got %q, want settled", got)
	}
	if got := accounts.balance(account); got != 4 {
		t.Errorf("balance after settle: got %d, want 4", got)
	}

	// Settling again is a no-op, not an error, and charges nothing.
	if err := svc.Settle(ctx, nil, entry.ID); err != nil {
		t.Fatalf("second Settle: %v", err)
	}
	if got := accounts.balance(account); got != 4 {
		t.Errorf("balance after duplicate settle: got %d, want 4", got)
	}
}

func TestRelease_Idempotent(t *testing.T) {
	svc, accounts, _ := newTestService()
	account := uuid.New()
	accounts.balances[account] = 5

	ctx := context.Background()
	entry, err := svc.Reserve(ctx, nil, account, uuid.New(), 2)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	if err := svc.Release(ctx, nil, entry.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got := accounts.balance(account); got != 5 {
		t.Errorf("balance after release: got %d, want 5", got)
	}

	// Releasing again must not refund a second time.
	if err := svc.Release(ctx, nil, entry.ID); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if got := accounts.balance(account); got != 5 {
		t.Errorf("balance after duplicate release: got %d, want 5", got)
	}
}

func TestSettleRelease_MutuallyExclusive(t *testing.T) {
	svc, accounts, _ := newTestService()
	account := uuid.New()
	accounts.balances[account] = 10
	ctx := context.Background()

	settled, _ := svc.Reserve(ctx, nil, account, uuid.New(), 1)
	if err := svc.Settle(ctx, nil, settled.ID); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if err := svc.Release(ctx, nil, settled.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("release of settled entry: got %v, want ErrInvalidState", err)
	}

	released, _ := svc.Reserve(ctx, nil, account, uuid.New(), 1)
	if err := svc.Release(ctx, nil, released.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := svc.Settle(ctx, nil, released.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("settle of released entry: got %v, want ErrInvalidState", err)
	}

	// The failed cross-calls changed nothing: one settled charge of 1.
	if got := accounts.balance(account); got != 9 {
		t.Errorf("final balance: got %d, want 9", got)
	}
}

func TestSettle_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	if err := svc.Settle(context.Background(), nil, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("settle of missing entry: got %v, want ErrNotFound", err)
	}
}

// TestConservation: after any mix of reserve/settle/release, the balance
// equals initial minus the sum of settled amounts.
func TestConservation(t *testing.T) {
	svc, accounts, _ := newTestService()
	account := uuid.New()
	const initial = 20
	accounts.balances[account] = initial
	ctx := context.Background()

	settledTotal := 0
	for i, step := range []struct {
		amount int
		settle bool
	}{
		{3, true}, {5, false}, {2, true}, {4, false}, {1, true},
	} {
		entry, err := svc.Reserve(ctx, nil, account, uuid.New(), step.amount)
		if err != nil {
			t.Fatalf("step %d reserve: %v", i, err)
		}
		if step.settle {
			if err := svc.Settle(ctx, nil, entry.ID); err != nil {
				t.Fatalf("step %d settle: %v", i, err)
			}
			settledTotal += step.amount
		} else {
			if err := svc.Release(ctx, nil, entry.ID); err != nil {
				t.Fatalf("step %d release: %v", i, err)
			}
		}
	}

	want := initial - settledTotal
	if got := accounts.balance(account); got != want {
		t.Errorf("balance: got %d, want %d (initial %d - settled %d)", got, want, initial, settledTotal)
	}
}

func TestSettleJob_ByJobReference(t *testing.T) {
	svc, accounts, _ := newTestService()
	account := uuid.New()
	job := uuid.New()
	accounts.balances[account] = 5
	ctx := context.Background()

	if _, err := svc.Reserve(ctx, nil, account, job, 1); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := svc.SettleJob(ctx, nil, job); err != nil {
		t.Fatalf("SettleJob: %v", err)
	}
	if err := svc.ReleaseJob(ctx, nil, job); !errors.Is(err, ErrInvalidState) {
		t.Errorf("ReleaseJob after SettleJob: got %v, want ErrInvalidState", err)
	}
	if got := accounts.balance(account); got != 4 {
		t.Errorf("balance: got %d, want 4", got)
	}

	if err := svc.SettleJob(ctx, nil, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("SettleJob for unknown job: got %v, want ErrNotFound", err)
	}
}
