package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/mihaicode/headshots-starter/internal/jobs"
	"github.com/mihaicode/headshots-starter/internal/ledger"
	"github.com/mihaicode/headshots-starter/internal/middleware"
	"github.com/mihaicode/headshots-starter/internal/models"
	"github.com/mihaicode/headshots-starter/internal/services"
	"github.com/mihaicode/headshots-starter/internal/vendor"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubController struct {
	submitErr error
	cancelErr error
	job       *models.Job
	jobs      []*models.Job
	statusErr error
}

func (s *stubController) Submit(_ context.Context, accountID uuid.UUID, kind string, payload json.RawMessage) (*models.Job, error) {
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	ref := "tune-1"
	return &models.Job{
		ID:        uuid.New(),
		AccountID: accountID,
		Kind:      kind,
		State:     models.JobStateSubmitted,
		Payload:   payload,
		VendorRef: &ref,
	}, nil
}

func (s *stubController) Status(_ context.Context, _ uuid.UUID) (*models.Job, error) {
	return s.job, s.statusErr
}

func (s *stubController) List(_ context.Context, _ uuid.UUID) ([]*models.Job, error) {
	return s.jobs, nil
}

func (s *stubController) Cancel(_ context.Context, _ uuid.UUID) error {
	return s.cancelErr
}

func newJobHandler(t *testing.T, ctrl *stubController) *JobHandler {
	t.Helper()
	v, err := services.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return &JobHandler{Controller: ctrl, Validator: v, Logger: slog.Default()}
}

func authedRequest(method, target, body string, accountID uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	acc := &models.Account{ID: accountID, CreditBalance: 10}
	return req.WithContext(middleware.WithAccount(req.Context(), acc))
}

const validGeneration = `{"kind":"generation","payload":{"tune_ref":"tune-9","prompt":"studio headshot, gray backdrop"}}`

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestSubmitJob_Accepted(t *testing.T) {
	h := newJobHandler(t, &stubController{})
	rec := httptest.NewRecorder()
	h.SubmitJob(rec, authedRequest(http.MethodPost, "/v1/jobs", validGeneration, uuid.New()))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp jobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.State != models.JobStateSubmitted {
		t.Errorf("state: got %q, want submitted", resp.State)
	}
	if resp.VendorRef == nil {
		t.Error("expected vendor_ref in response")
	}
}

func TestSubmitJob_InsufficientCredit(t *testing.T) {
	h := newJobHandler(t, &stubController{submitErr: ledger.ErrInsufficientCredit})
	rec := httptest.NewRecorder()
	h.SubmitJob(rec, authedRequest(http.MethodPost, "/v1/jobs", validGeneration, uuid.New()))

	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("expected 402, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitJob_VendorDown(t *testing.T) {
	h := newJobHandler(t, &stubController{submitErr: vendor.ErrAdapter})
	rec := httptest.NewRecorder()
	h.SubmitJob(rec, authedRequest(http.MethodPost, "/v1/jobs", validGeneration, uuid.New()))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitJob_InvalidPayload(t *testing.T) {
	h := newJobHandler(t, &stubController{})
	body := `{"kind":"generation","payload":{"prompt":"no tune ref"}}`
	rec := httptest.NewRecorder()
	h.SubmitJob(rec, authedRequest(http.MethodPost, "/v1/jobs", body, uuid.New()))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitJob_UnknownKind(t *testing.T) {
	h := newJobHandler(t, &stubController{})
	rec := httptest.NewRecorder()
	h.SubmitJob(rec, authedRequest(http.MethodPost, "/v1/jobs", `{"kind":"video","payload":{}}`, uuid.New()))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestSubmitJob_Unauthenticated(t *testing.T) {
	h := newJobHandler(t, &stubController{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(validGeneration))
	h.SubmitJob(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestGetJob_OtherAccountReadsAsAbsent(t *testing.T) {
	owner := uuid.New()
	job := &models.Job{ID: uuid.New(), AccountID: owner, Kind: models.JobKindTraining, State: models.JobStateProcessing}
	h := newJobHandler(t, &stubController{job: job})

	req := authedRequest(http.MethodGet, "/v1/jobs/"+job.ID.String(), "", uuid.New())
	req.SetPathValue("id", job.ID.String())
	rec := httptest.NewRecorder()
	h.GetJob(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestGetJob_Owner(t *testing.T) {
	owner := uuid.New()
	job := &models.Job{ID: uuid.New(), AccountID: owner, Kind: models.JobKindTraining, State: models.JobStateProcessing}
	h := newJobHandler(t, &stubController{job: job})

	req := authedRequest(http.MethodGet, "/v1/jobs/"+job.ID.String(), "", owner)
	req.SetPathValue("id", job.ID.String())
	rec := httptest.NewRecorder()
	h.GetJob(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp jobResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.State != models.JobStateProcessing {
		t.Errorf("state: got %q, want processing", resp.State)
	}
}

func TestCancelJob_Conflict(t *testing.T) {
	owner := uuid.New()
	job := &models.Job{ID: uuid.New(), AccountID: owner, Kind: models.JobKindTraining, State: models.JobStateSucceeded}
	h := newJobHandler(t, &stubController{job: job, cancelErr: jobs.ErrInvalidTransition})

	req := authedRequest(http.MethodPost, "/v1/jobs/"+job.ID.String()+"/cancel", "", owner)
	req.SetPathValue("id", job.ID.String())
	rec := httptest.NewRecorder()
	h.CancelJob(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCancelJob_OK(t *testing.T) {
	owner := uuid.New()
	job := &models.Job{ID: uuid.New(), AccountID: owner, Kind: models.JobKindGeneration, State: models.JobStateSubmitted}
	h := newJobHandler(t, &stubController{job: job})

	req := authedRequest(http.MethodPost, "/v1/jobs/"+job.ID.String()+"/cancel", "", owner)
	req.SetPathValue("id", job.ID.String())
	rec := httptest.NewRecorder()
	h.CancelJob(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
