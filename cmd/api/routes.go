package main

import (
	"net/http"

	"github.com/mihaicode/headshots-starter/internal/auth"
	"github.com/mihaicode/headshots-starter/internal/dashboard"
	"github.com/mihaicode/headshots-starter/internal/handlers"
	"github.com/mihaicode/headshots-starter/internal/jobs"
	"github.com/mihaicode/headshots-starter/internal/middleware"
	"github.com/mihaicode/headshots-starter/internal/repository"
)

// RegisterV1Routes adds the /v1/ job API endpoints to the given mux.
// Middleware chain: APIKeyAuth -> (CreditCheck on POST /v1/jobs only) -> handler.
// The webhook endpoint is unauthenticated at the middleware level; the
// handler verifies the vendor's HMAC itself.
func RegisterV1Routes(
	mux *http.ServeMux,
	apiKeyRepo *repository.APIKeyRepo,
	jh *handlers.JobHandler,
	wh *handlers.WebhookHandler,
	costs jobs.Costs,
) {
	authMW := middleware.APIKeyAuth(apiKeyRepo)
	creditCheck := middleware.CreditCheck(costs)

	mux.Handle("POST /v1/jobs", authMW(creditCheck(http.HandlerFunc(jh.SubmitJob))))
	mux.Handle("GET /v1/jobs", authMW(http.HandlerFunc(jh.ListJobs)))
	mux.Handle("GET /v1/jobs/{id}", authMW(http.HandlerFunc(jh.GetJob)))
	mux.Handle("POST /v1/jobs/{id}/cancel", authMW(http.HandlerFunc(jh.CancelJob)))

	mux.HandleFunc("POST /v1/webhooks/vendor", wh.Receive)
}

// RegisterDashboardRoutes adds the JWT-authenticated /api/v1/ endpoints
// the web dashboard talks to.
func RegisterDashboardRoutes(mux *http.ServeMux, ah *auth.Handler, dh *dashboard.Handler) {
	mux.HandleFunc("POST /api/v1/auth/register", ah.Register)
	mux.HandleFunc("POST /api/v1/auth/login", ah.Login)

	mux.HandleFunc("GET /api/v1/account/me", dh.GetMe)
	mux.HandleFunc("GET /api/v1/credit-entries", dh.ListCreditEntries)
	mux.HandleFunc("POST /api/v1/credits/purchase", dh.PurchaseCredits)
	mux.HandleFunc("GET /api/v1/jobs", dh.ListJobs)
	mux.HandleFunc("GET /api/v1/api-keys", dh.ListAPIKeys)
	mux.HandleFunc("POST /api/v1/api-keys", dh.CreateAPIKey)
	mux.HandleFunc("DELETE /api/v1/api-keys/{id}", dh.DeleteAPIKey)
}
