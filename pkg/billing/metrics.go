package billing

import "time"

// Metrics defines the interface for tracking billing provider operations.
// All methods are optional - providers should gracefully handle nil metrics.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from the billing provider.
	// eventType: The type of event (e.g., "subscription.created", "payment.refunded")
	// status: "success", "ignored" or "error"
	RecordWebhookEvent(provider, eventType, status string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: The type of error (e.g., "auth_failed", "invalid_payload", "processing_error")
	RecordWebhookError(provider, errorType string)

	// RecordPlanResolution records how a purchased product was mapped to a plan.
	// source: "mapping" when the plan table matched, "heuristic" otherwise
	RecordPlanResolution(provider, plan, source string)

	// RecordStatusChange records a subscription status written by a webhook.
	RecordStatusChange(provider, status string)

	// RecordAuditFailure records a failed write to the webhook audit trail.
	RecordAuditFailure(provider, operation string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordPlanResolution(_, _, _ string)                          {}
func (n *NoopMetrics) RecordStatusChange(_, _ string)                               {}
func (n *NoopMetrics) RecordAuditFailure(_, _ string)                               {}
