package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/mihaicode/headshots-starter/internal/jobs"
	"github.com/mihaicode/headshots-starter/internal/webhook"
)

// SignatureHeader carries the vendor's HMAC over the raw request body.
const SignatureHeader = "X-Vendor-Signature"

const maxWebhookBody = 1 << 20 // 1 MiB

// SignalReconciler applies a verified signal to local state.
type SignalReconciler interface {
	Handle(ctx context.Context, sig webhook.Signal) error
}

// WebhookHandler serves POST /v1/webhooks/vendor. Status codes drive the
// vendor's retry loop: a 2xx acknowledges the signal, anything else makes
// the vendor redeliver it later.
type WebhookHandler struct {
	Verifier   *webhook.Verifier
	Reconciler SignalReconciler
	Logger     *slog.Logger
}

func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return
	}

	if err := h.Verifier.Verify(body, r.Header.Get(SignatureHeader)); err != nil {
		h.Logger.Warn("webhook signature rejected", "remote", r.RemoteAddr)
		http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
		return
	}

	sig, err := webhook.ParseSignal(body)
	if err != nil {
		h.Logger.Warn("malformed webhook payload", "error", err)
		http.Error(w, `{"error":"malformed payload"}`, http.StatusBadRequest)
		return
	}

	if err := h.Reconciler.Handle(r.Context(), sig); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			// No job carries this vendor ref. Acknowledging would lose the
			// signal forever if the submitter's attach is still in flight,
			// so ask the vendor to redeliver.
			h.Logger.Warn("webhook for unknown vendor ref", "vendor_ref", sig.VendorRef)
			http.Error(w, `{"error":"unknown vendor ref"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("webhook reconcile failed", "vendor_ref", sig.VendorRef, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
