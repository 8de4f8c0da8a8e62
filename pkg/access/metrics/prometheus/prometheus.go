// Package prommetrics implements access.Metrics using Prometheus.
package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/goaccess/pkg/access"
)

// Metrics implements access.Metrics using Prometheus.
type Metrics struct {
	resolutionsTotal           *prometheus.CounterVec
	resolveDuration            prometheus.Histogram
	claimsTotal                *prometheus.CounterVec
	claimedRowsTotal           prometheus.Counter
	expirationCorrections      *prometheus.CounterVec
	cacheHitsTotal             *prometheus.CounterVec
	cacheMissesTotal           *prometheus.CounterVec
	storageOpsDuration         *prometheus.HistogramVec
	storageOpsErrors           *prometheus.CounterVec
	circuitBreakerStateChanges *prometheus.CounterVec
}

var _ access.Metrics = (*Metrics)(nil)

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		resolutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_resolutions_total",
			Help:      "Total number of access resolutions by source and outcome.",
		}, []string{"source", "has_access"}),

		resolveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "access_resolve_duration_seconds",
			Help:      "Latency of access resolutions.",
			Buckets:   prometheus.DefBuckets,
		}),

		claimsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_claims_total",
			Help:      "Total number of claim-by-email attempts.",
		}, []string{"success"}),

		claimedRowsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_claimed_rows_total",
			Help:      "Total number of subscription rows linked to a user by email.",
		}),

		expirationCorrections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_expiration_corrections_total",
			Help:      "Total number of subscriptions marked expired during resolution.",
		}, []string{"success"}),

		cacheHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits.",
		}, []string{"type"}),

		cacheMissesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses.",
		}, []string{"type"}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of storage operation errors.",
		}, []string{"operation"}),

		circuitBreakerStateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state changes.",
		}, []string{"state"}),
	}
}

func (m *Metrics) RecordResolution(source access.ResolutionSource, hasAccess bool) {
	m.resolutionsTotal.WithLabelValues(string(source), strconv.FormatBool(hasAccess)).Inc()
}

func (m *Metrics) RecordResolveDuration(duration time.Duration) {
	m.resolveDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordClaim(claimed int, err error) {
	m.claimsTotal.WithLabelValues(strconv.FormatBool(err == nil)).Inc()
	if claimed > 0 {
		m.claimedRowsTotal.Add(float64(claimed))
	}
}

func (m *Metrics) RecordExpirationCorrection(err error) {
	m.expirationCorrections.WithLabelValues(strconv.FormatBool(err == nil)).Inc()
}

func (m *Metrics) RecordCacheHit(cacheType string) {
	m.cacheHitsTotal.WithLabelValues(cacheType).Inc()
}

func (m *Metrics) RecordCacheMiss(cacheType string) {
	m.cacheMissesTotal.WithLabelValues(cacheType).Inc()
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordCircuitBreakerStateChange(state string) {
	m.circuitBreakerStateChanges.WithLabelValues(state).Inc()
}
