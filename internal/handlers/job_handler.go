package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mihaicode/headshots-starter/internal/jobs"
	"github.com/mihaicode/headshots-starter/internal/ledger"
	"github.com/mihaicode/headshots-starter/internal/middleware"
	"github.com/mihaicode/headshots-starter/internal/models"
	"github.com/mihaicode/headshots-starter/internal/services"
	"github.com/mihaicode/headshots-starter/internal/vendor"
)

// JobController is the subset of the lifecycle controller the handler needs.
type JobController interface {
	Submit(ctx context.Context, accountID uuid.UUID, kind string, payload json.RawMessage) (*models.Job, error)
	Status(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	List(ctx context.Context, accountID uuid.UUID) ([]*models.Job, error)
	Cancel(ctx context.Context, jobID uuid.UUID) error
}

// JobHandler serves /v1/jobs endpoints.
type JobHandler struct {
	Controller JobController
	Validator  *services.Validator
	Logger     *slog.Logger
}

type submitJobRequest struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type jobResponse struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	State         string          `json:"state"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	VendorRef     *string         `json:"vendor_ref,omitempty"`
	ResultRef     *string         `json:"result_ref,omitempty"`
	FailureReason *string         `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// SubmitJob handles POST /v1/jobs.
// Auth -> CreditCheck (via middleware) -> Validate Payload -> Submit -> 202.
func (h *JobHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if !models.ValidJobKind(req.Kind) {
		http.Error(w, `{"error":"unknown job kind"}`, http.StatusBadRequest)
		return
	}

	// Hard reject malformed payloads before any credit moves.
	if err := h.Validator.ValidatePayload(req.Kind, req.Payload); err != nil {
		if errors.Is(err, services.ErrValidation) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		h.Logger.Error("validate payload", "error", err)
		http.Error(w, `{"error":"payload validation failed"}`, http.StatusBadRequest)
		return
	}

	job, err := h.Controller.Submit(r.Context(), acc.ID, req.Kind, req.Payload)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientCredit):
			http.Error(w, `{"error":"insufficient credit"}`, http.StatusPaymentRequired)
		case errors.Is(err, vendor.ErrAdapter):
			// Credit was already released by the controller; the client may retry.
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "vendor rejected the job"})
		default:
			h.Logger.Error("submit job", "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, jobToResponse(job))
}

// GetJob handles GET /v1/jobs/{id}. Jobs of other accounts read as absent.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid job id"}`, http.StatusBadRequest)
		return
	}

	job, err := h.Controller.Status(r.Context(), jobID)
	if err != nil || job.AccountID != acc.ID {
		http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, jobToResponse(job))
}

// ListJobs handles GET /v1/jobs.
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	list, err := h.Controller.List(r.Context(), acc.ID)
	if err != nil {
		h.Logger.Error("list jobs", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	out := make([]jobResponse, 0, len(list))
	for _, j := range list {
		out = append(out, jobToResponse(j))
	}
	writeJSON(w, http.StatusOK, out)
}

// CancelJob handles POST /v1/jobs/{id}/cancel.
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid job id"}`, http.StatusBadRequest)
		return
	}

	job, err := h.Controller.Status(r.Context(), jobID)
	if err != nil || job.AccountID != acc.ID {
		http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
		return
	}

	if err := h.Controller.Cancel(r.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, jobs.ErrInvalidTransition):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "job can no longer be cancelled", "state": job.State})
		case errors.Is(err, jobs.ErrNotFound):
			http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
		default:
			h.Logger.Error("cancel job", "job_id", jobID, "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": jobID.String(), "state": models.JobStateCancelled})
}

func jobToResponse(j *models.Job) jobResponse {
	return jobResponse{
		ID:            j.ID.String(),
		Kind:          j.Kind,
		State:         j.State,
		Payload:       j.Payload,
		VendorRef:     j.VendorRef,
		ResultRef:     j.ResultRef,
		FailureReason: j.FailureReason,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
