package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job kinds: a fine-tune training run or an image generation batch.
const (
	JobKindTraining   = "training"
	JobKindGeneration = "generation"
)

// Job lifecycle states. pending is initial; succeeded, failed and
// cancelled are terminal and never overwritten.
const (
	JobStatePending    = "pending"
	JobStateSubmitted  = "submitted"
	JobStateProcessing = "processing"
	JobStateSucceeded  = "succeeded"
	JobStateFailed     = "failed"
	JobStateCancelled  = "cancelled"
)

// jobTransitions maps a target state to the states it may be entered from.
// Shared by the Postgres repo (conditional UPDATE) and test doubles so the
// state machine has exactly one definition.
var jobTransitions = map[string][]string{
	JobStateSubmitted:  {JobStatePending},
	JobStateProcessing: {JobStateSubmitted},
	JobStateSucceeded:  {JobStateSubmitted, JobStateProcessing},
	JobStateFailed:     {JobStatePending, JobStateSubmitted, JobStateProcessing},
	JobStateCancelled:  {JobStatePending, JobStateSubmitted},
}

// JobTransitionSources returns the states from which newState may be entered.
func JobTransitionSources(newState string) []string {
	return jobTransitions[newState]
}

// JobCanTransition reports whether from -> to is a legal state change.
func JobCanTransition(from, to string) bool {
	for _, s := range jobTransitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// JobStateTerminal reports whether the state can never be left.
func JobStateTerminal(state string) bool {
	switch state {
	case JobStateSucceeded, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

// ValidJobKind reports whether kind is a supported job kind.
func ValidJobKind(kind string) bool {
	return kind == JobKindTraining || kind == JobKindGeneration
}

type Job struct {
	ID            uuid.UUID       `json:"id"`
	AccountID     uuid.UUID       `json:"account_id"`
	Kind          string          `json:"kind"`
	State         string          `json:"state"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	VendorRef     *string         `json:"vendor_ref,omitempty"`
	ResultRef     *string         `json:"result_ref,omitempty"`
	FailureReason *string         `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
