package access

import "time"

// Metrics defines the interface for tracking resolver operations and performance.
type Metrics interface {
	// RecordResolution records the outcome of a resolution and the step that produced it.
	RecordResolution(source ResolutionSource, hasAccess bool)

	// RecordResolveDuration records the duration of a full resolution.
	RecordResolveDuration(duration time.Duration)

	// RecordClaim records a claim-by-email attempt; claimed is the number of rows linked.
	RecordClaim(claimed int, err error)

	// RecordExpirationCorrection records a status flip to "expirada".
	RecordExpirationCorrection(err error)

	// RecordCacheHit records a cache hit for a specific cache type (e.g., "profile").
	RecordCacheHit(cacheType string)

	// RecordCacheMiss records a cache miss for a specific cache type.
	RecordCacheMiss(cacheType string)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)

	// RecordCircuitBreakerStateChange records a circuit breaker state change.
	RecordCircuitBreakerStateChange(state string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordResolution(source ResolutionSource, hasAccess bool)                   {}
func (n *NoopMetrics) RecordResolveDuration(duration time.Duration)                               {}
func (n *NoopMetrics) RecordClaim(claimed int, err error)                                         {}
func (n *NoopMetrics) RecordExpirationCorrection(err error)                                       {}
func (n *NoopMetrics) RecordCacheHit(cacheType string)                                            {}
func (n *NoopMetrics) RecordCacheMiss(cacheType string)                                           {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(state string)                               {}
