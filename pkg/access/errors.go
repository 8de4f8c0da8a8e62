package access

import "errors"

var (
	// ErrStorageUnavailable is returned when storage is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrProfileNotFound is returned when a user has no profile row
	ErrProfileNotFound = errors.New("profile not found")

	// ErrSubscriptionNotFound is returned when no row matches an external subscription id
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrWebhookLogNotFound is returned when updating an unknown audit row
	ErrWebhookLogNotFound = errors.New("webhook log not found")

	// ErrAccessCodeNotFound is returned when a code does not exist
	ErrAccessCodeNotFound = errors.New("access code not found")

	// ErrAccessCodeExists is returned when inserting a code that is already taken
	ErrAccessCodeExists = errors.New("access code already exists")

	// ErrInvalidUser is returned for users without id or email
	ErrInvalidUser = errors.New("invalid user")

	// ErrInvalidSubscription is returned for rows missing required fields
	ErrInvalidSubscription = errors.New("invalid subscription")
)
