package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	SubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_submitted_total", Help: "Jobs submitted to the vendor, by kind",
	}, []string{"kind"})
	SubmissionFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_submit_failures_total", Help: "Submissions rejected or failed, by reason",
	}, []string{"reason"})
	WebhookSignals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_signals_total", Help: "Vendor webhook signals received, by type and outcome",
	}, []string{"type", "outcome"})
	LedgerSettlements = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_settlements_total", Help: "Reservations settled (credit consumed)",
	})
	LedgerReleases = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_releases_total", Help: "Reservations released (credit returned)",
	})
	JobsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_expired_total", Help: "Stale jobs failed by the expiry worker",
	})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			SubmissionsTotal,
			SubmissionFailures,
			WebhookSignals,
			LedgerSettlements,
			LedgerReleases,
			JobsExpired,
		)
	})
	return promhttp.Handler()
}
