package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	paymentsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pix_payments_created_total",
			Help: "Pending PIX payments persisted, by plan type.",
		},
		[]string{"plan_type"},
	)

	paymentsPaid = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pix_payments_paid_total",
			Help: "Payments transitioned to paid, by plan type.",
		},
		[]string{"plan_type"},
	)

	revenueMinor = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pix_payments_revenue_minor_total",
			Help: "Sum of paid amounts in centavos.",
		},
	)

	gatewayProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pix_gateway_probe_total",
			Help: "Provider endpoint probes by operation and outcome (success/skip/fatal).",
		},
		[]string{"operation", "outcome"},
	)

	gatewayProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pix_gateway_probe_duration_seconds",
			Help:    "Latency of a single provider endpoint probe.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	webhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pix_webhook_deliveries_total",
			Help: "Provider webhook deliveries by result.",
		},
		[]string{"result"},
	)

	cacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pix_status_cache_requests_total",
			Help: "Status cache lookups by result (hit/miss/error).",
		},
		[]string{"result"},
	)
)

// MustRegister registers collectors with the default registry (idempotent).
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			paymentsCreated, paymentsPaid, revenueMinor,
			gatewayProbes, gatewayProbeDuration,
			webhookDeliveries, cacheRequests,
		)
	})
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func IncPaymentCreated(planType string) {
	paymentsCreated.WithLabelValues(norm(planType)).Inc()
}

func IncPaymentPaid(planType string, amount int64) {
	paymentsPaid.WithLabelValues(norm(planType)).Inc()
	revenueMinor.Add(float64(amount))
}

func ObserveProbe(operation, outcome string, elapsed time.Duration) {
	gatewayProbes.WithLabelValues(norm(operation), norm(outcome)).Inc()
	gatewayProbeDuration.WithLabelValues(norm(operation)).Observe(elapsed.Seconds())
}

// Webhook results.
const (
	WebhookProcessed = "processed"
	WebhookDuplicate = "duplicate"
	WebhookIgnored   = "ignored"
	WebhookNotFound  = "not_found"
	WebhookRejected  = "rejected"
	WebhookError     = "error"
)

func IncWebhook(result string) {
	webhookDeliveries.WithLabelValues(norm(result)).Inc()
}

func IncCacheRequest(result string) {
	cacheRequests.WithLabelValues(norm(result)).Inc()
}
