package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrMissingWebhookSecret is returned when no webhook secret is configured
	ErrMissingWebhookSecret = errors.New("webhook secret not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrInvalidPlanThreshold is returned for NaN or infinite plan amount thresholds
	ErrInvalidPlanThreshold = errors.New("invalid plan amount threshold")

	// ErrInvalidPlanMapping is returned when the plan table has empty keys or values
	ErrInvalidPlanMapping = errors.New("invalid plan mapping")
)
