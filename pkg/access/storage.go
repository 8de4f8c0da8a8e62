package access

import (
	"context"
	"time"
)

// SubscriptionStore persists subscription rows.
// Rows are never deleted; KiwifySubscriptionID is unique.
type SubscriptionStore interface {
	// UpsertSubscription inserts or updates the row keyed by KiwifySubscriptionID.
	// An already-claimed user_id is kept when the incoming row has none.
	UpsertSubscription(ctx context.Context, sub *Subscription) (*Subscription, error)

	// UpdateSubscriptionByExternalID applies a lifecycle update to the row with the
	// given external id. Returns ErrSubscriptionNotFound when no row matches.
	UpdateSubscriptionByExternalID(ctx context.Context, externalID string, upd SubscriptionUpdate) error

	// ClaimSubscriptions links rows with a nil user_id and a matching email to userID.
	// Returns the number of rows claimed.
	ClaimSubscriptions(ctx context.Context, userID, email string) (int, error)

	// LatestActiveByUserID returns the "ativa" row with the latest CreatedAt for a user.
	// Returns ErrSubscriptionNotFound when there is none.
	LatestActiveByUserID(ctx context.Context, userID string) (*Subscription, error)

	// LatestActiveByEmail returns the "ativa" row with the latest CreatedAt for an email.
	// Returns ErrSubscriptionNotFound when there is none.
	LatestActiveByEmail(ctx context.Context, email string) (*Subscription, error)

	// SetSubscriptionStatus overwrites the status of the row with the given id
	SetSubscriptionStatus(ctx context.Context, id string, status Status) error

	// ListSubscriptions returns rows matching the filter, newest first
	ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]*Subscription, error)

	// CountSubscriptionsByStatus returns the number of rows per status
	CountSubscriptionsByStatus(ctx context.Context) (map[Status]int, error)
}

// ProfileStore persists application profiles
type ProfileStore interface {
	// GetProfile returns ErrProfileNotFound when the user has no profile
	GetProfile(ctx context.Context, userID string) (*Profile, error)

	UpsertProfile(ctx context.Context, profile *Profile) error
}

// WebhookLogStore persists the webhook audit trail
type WebhookLogStore interface {
	// InsertWebhookLog stores a new audit row and assigns its ID when empty
	InsertWebhookLog(ctx context.Context, log *WebhookLog) error

	// UpdateWebhookLog sets the final status of an audit row.
	// Returns ErrWebhookLogNotFound for unknown ids.
	UpdateWebhookLog(ctx context.Context, id string, status WebhookLogStatus, errorMessage string) error
}

// AccessCodeStore persists mentoring access codes
type AccessCodeStore interface {
	// FindActiveAccessCode returns the newest active code of a user that has not
	// expired at now. Returns ErrAccessCodeNotFound when there is none.
	FindActiveAccessCode(ctx context.Context, userID string, now time.Time) (*AccessCode, error)

	// InsertAccessCode returns ErrAccessCodeExists if the code is taken
	InsertAccessCode(ctx context.Context, code *AccessCode) error

	// GetAccessCode returns ErrAccessCodeNotFound for unknown codes
	GetAccessCode(ctx context.Context, code string) (*AccessCode, error)
}

// Storage is the full persistence surface used by the service
type Storage interface {
	SubscriptionStore
	ProfileStore
	WebhookLogStore
	AccessCodeStore
}
