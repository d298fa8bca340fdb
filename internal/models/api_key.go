package models

import (
	"github.com/google/uuid"
)

// APIKey authenticates programmatic callers of the jobs API (as opposed to
// the JWT sessions the dashboard uses). Only a SHA-256 hash of the raw key
// is stored; KeyPrefix is the short "hs_..." fragment shown in the dashboard
// so users can tell their keys apart.
type APIKey struct {
	ID        uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"account_id"`
	KeyHash   string    `json:"-"`
	KeyPrefix string    `json:"key_prefix"`
	IsActive  bool      `json:"is_active"`
}
