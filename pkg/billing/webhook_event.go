package billing

import (
	"time"

	"github.com/mihaimyh/goaccess/pkg/access"
)

// WebhookEvent contains information about a successfully applied webhook.
// This event is passed to the WebhookCallback after the subscription row
// has been written.
type WebhookEvent struct {
	// Provider is the billing provider name ("kiwify")
	Provider string

	// EventType is the provider-specific event type, e.g. "subscription.created"
	EventType string

	// ExternalSubscriptionID is the provider's subscription id (or the synthetic one)
	ExternalSubscriptionID string

	// Email is the buyer email, lower-cased. Empty for lifecycle-only events.
	Email string

	// Plan and Amount are set for create/approve events
	Plan   access.Plan
	Amount float64

	// Status is the subscription status written by the event
	Status access.Status

	// EventTimestamp is when the event occurred (from provider, zero if absent)
	EventTimestamp time.Time

	// ExpiresAt is the expiration written by the event (nil for none)
	ExpiresAt *time.Time

	// Metadata contains provider-specific additional data (customer id, product id, ...)
	Metadata map[string]interface{}
}
