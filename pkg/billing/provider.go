package billing

import "net/http"

// Provider is the generic interface that any billing backend must implement.
type Provider interface {
	// Name returns the provider name (e.g., "kiwify")
	Name() string

	// WebhookHandler returns the HTTP handler that processes real-time events.
	// The implementation handles verification, parsing, auditing and storage updates internally.
	WebhookHandler() http.Handler
}
