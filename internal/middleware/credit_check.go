package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mihaicode/headshots-starter/internal/jobs"
	"github.com/mihaicode/headshots-starter/internal/models"
)

const ctxSubmissionKey contextKey = "parsed_submission"

// parsedSubmission is stored in context so the handler can read the kind
// without re-parsing the body.
type parsedSubmission struct {
	Kind string `json:"kind"`
}

// KindFromCtx returns the job kind parsed by CreditCheck, or "" if not set.
func KindFromCtx(ctx context.Context) string {
	if s, ok := ctx.Value(ctxSubmissionKey).(*parsedSubmission); ok {
		return s.Kind
	}
	return ""
}

// CreditCheck rejects submissions whose kind is unknown or whose cost the
// authenticated account visibly cannot cover, before any vendor call is
// attempted. The check reads the cached balance and is advisory only; the
// ledger's conditional deduction remains the authority under concurrency.
// Reads the body to extract "kind", then replaces r.Body so downstream
// handlers can re-read it.
func CreditCheck(costs jobs.Costs) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acc := AccountFromCtx(r.Context())
			if acc == nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			bodyBytes, err := io.ReadAll(r.Body)
			r.Body.Close()
			if err != nil {
				http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
				return
			}
			// Restore body for the handler.
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			var peek parsedSubmission
			if err := json.Unmarshal(bodyBytes, &peek); err != nil {
				http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
				return
			}
			if !models.ValidJobKind(peek.Kind) {
				http.Error(w, fmt.Sprintf(`{"error":"unknown job kind %q"}`, peek.Kind), http.StatusBadRequest)
				return
			}

			if cost := costs.For(peek.Kind); acc.CreditBalance < cost {
				http.Error(w, fmt.Sprintf(`{"error":"insufficient credit: kind %q costs %d, balance is %d"}`, peek.Kind, cost, acc.CreditBalance), http.StatusPaymentRequired)
				return
			}

			ctx := context.WithValue(r.Context(), ctxSubmissionKey, &peek)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
