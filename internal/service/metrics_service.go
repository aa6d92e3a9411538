package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/pesantren-billing-api/internal/dto"
)

// Payment outcomes used as metric labels.
const (
	PaymentResultAccepted    = "accepted"
	PaymentResultReplayed    = "replayed"
	PaymentResultOverpayment = "overpayment"
	PaymentResultInvalid     = "invalid_amount"
	PaymentResultConflict    = "conflict"
)

// MetricsService encapsulates Prometheus instrumentation and keeps counters for the JSON snapshot.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	payments           *prometheus.CounterVec
	paymentAmount      prometheus.Counter
	paymentRetries     prometheus.Counter
	obligationsCreated *prometheus.CounterVec
	logins             *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	paymentAccepted      uint64
	paymentRejected      uint64
	paymentRetryCount    uint64
	obligationCount      uint64
}

// NewMetricsService registers HTTP, cache and billing collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_payments_total",
		Help: "Payment attempts by outcome",
	}, []string{"result"})

	paymentAmount := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billing_payment_amount_rupiah_total",
		Help: "Sum of accepted payment amounts in rupiah",
	})

	paymentRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billing_payment_conflict_retries_total",
		Help: "Payment writes retried after a concurrent update",
	})

	obligationsCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_obligations_created_total",
		Help: "Payment obligations inserted by the reconciler",
	}, []string{"trigger"})

	logins := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_logins_total",
		Help: "Login attempts by resolved role and result",
	}, []string{"role", "result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		payments, paymentAmount, paymentRetries, obligationsCreated, logins, goroutines)

	return &MetricsService{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		cacheLatency:       cacheLatency,
		cacheWrite:         cacheWrite,
		cacheHitRatio:      cacheHitRatio,
		cacheHits:          cacheHits,
		cacheMisses:        cacheMisses,
		payments:           payments,
		paymentAmount:      paymentAmount,
		paymentRetries:     paymentRetries,
		obligationsCreated: obligationsCreated,
		logins:             logins,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordPayment counts a payment attempt. amount is only summed for accepted payments.
func (m *MetricsService) RecordPayment(result string, amount int64) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(result).Inc()
	switch result {
	case PaymentResultAccepted:
		m.paymentAmount.Add(float64(amount))
		atomic.AddUint64(&m.paymentAccepted, 1)
	case PaymentResultReplayed:
	default:
		atomic.AddUint64(&m.paymentRejected, 1)
	}
}

// RecordPaymentRetry counts one lost compare-and-swap round.
func (m *MetricsService) RecordPaymentRetry() {
	if m == nil {
		return
	}
	m.paymentRetries.Inc()
	atomic.AddUint64(&m.paymentRetryCount, 1)
}

// RecordObligationsCreated counts obligations inserted by a reconciliation trigger.
func (m *MetricsService) RecordObligationsCreated(trigger string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.obligationsCreated.WithLabelValues(trigger).Add(float64(count))
	atomic.AddUint64(&m.obligationCount, uint64(count))
}

// RecordLogin counts a login attempt. role is empty for failed attempts.
func (m *MetricsService) RecordLogin(role string, success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	if role == "" {
		role = "none"
	}
	m.logins.WithLabelValues(role, result).Inc()
}

// Snapshot returns aggregated metrics suitable for the admin metrics endpoint.
func (m *MetricsService) Snapshot() dto.MetricsSnapshot {
	if m == nil {
		return dto.MetricsSnapshot{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	if lookups := hits + misses; lookups > 0 {
		cacheRatio = float64(hits) / float64(lookups)
	}
	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return dto.MetricsSnapshot{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		CacheHits:                hits,
		CacheMisses:              misses,
		CacheHitRatio:            cacheRatio,
		PaymentsRecorded:         atomic.LoadUint64(&m.paymentAccepted),
		PaymentsRejected:         atomic.LoadUint64(&m.paymentRejected),
		PaymentConflictRetries:   atomic.LoadUint64(&m.paymentRetryCount),
		ObligationsCreated:       atomic.LoadUint64(&m.obligationCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
