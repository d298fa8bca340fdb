package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit entry types. A reservation is placed when a job is submitted and
// later settled (charged) or released (refunded). A purchase credits the
// account when the user buys a pack; it is born settled.
const (
	CreditEntryReservation = "reservation"
	CreditEntryPurchase    = "purchase"
)

// Reservation statuses. settled and released are mutually exclusive
// terminal states; a reservation reaches exactly one of them.
const (
	CreditStatusReserved = "reserved"
	CreditStatusSettled  = "settled"
	CreditStatusReleased = "released"
)

// CreditEntry is one row of the append-only credit audit trail. Rows are
// never deleted; only the status of a reservation flips, once.
type CreditEntry struct {
	ID           uuid.UUID  `json:"id"`
	AccountID    uuid.UUID  `json:"account_id"`
	JobID        *uuid.UUID `json:"job_id,omitempty"`
	EntryType    string     `json:"entry_type"`
	Amount       int        `json:"amount"`
	Status       string     `json:"status"`
	BalanceAfter *int       `json:"balance_after,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
