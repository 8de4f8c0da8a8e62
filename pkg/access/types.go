package access

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Status is the lifecycle state of a subscription row
type Status string

const (
	// StatusActive marks a paid subscription that grants access until ExpiresAt
	StatusActive Status = "ativa"
	// StatusInactive marks a subscription that never became active
	StatusInactive Status = "inativa"
	// StatusCancelled is set when the billing provider reports a cancellation
	StatusCancelled Status = "cancelada"
	// StatusExpired is written by the resolver once ExpiresAt has passed
	StatusExpired Status = "expirada"
	// StatusRefunded is set when the billing provider reports a refund
	StatusRefunded Status = "reembolsada"
)

// Valid reports whether s is one of the known subscription statuses
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusCancelled, StatusExpired, StatusRefunded:
		return true
	}
	return false
}

// Plan is the canonical plan label stored on a subscription.
// Unknown product names are passed through verbatim.
type Plan string

const (
	// PlanMonthly is the monthly plan
	PlanMonthly Plan = "Mensal"
	// PlanAnnual is the yearly plan
	PlanAnnual Plan = "Anual"
)

// Subscription represents one purchase/renewal cycle of paid access
type Subscription struct {
	ID string `json:"id"`

	// UserID is nil until the row is claimed by its owner
	UserID *string `json:"user_id"`
	Email  string  `json:"email"`

	// KiwifySubscriptionID is the external idempotency key
	KiwifySubscriptionID string `json:"kiwify_subscription_id"`
	KiwifyCustomerID     string `json:"kiwify_customer_id,omitempty"`

	Plan   Plan    `json:"plano"`
	Amount float64 `json:"valor"`
	Status Status  `json:"status"`

	StartDate time.Time  `json:"data_inicio"`
	ExpiresAt *time.Time `json:"data_expiracao"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ActiveAt reports whether the subscription is within its validity window at t.
// A nil ExpiresAt never expires.
func (s *Subscription) ActiveAt(t time.Time) bool {
	return s.ExpiresAt == nil || s.ExpiresAt.After(t)
}

// SubscriptionUpdate carries the fields changed by provider lifecycle events
// (renewal, cancellation, refund) on an existing row.
type SubscriptionUpdate struct {
	Status Status

	// SetExpiresAt controls whether ExpiresAt is written; a nil ExpiresAt
	// with SetExpiresAt clears the expiration.
	SetExpiresAt bool
	ExpiresAt    *time.Time
}

// SubscriptionFilter selects rows for the admin dashboard
type SubscriptionFilter struct {
	Status Status
	Email  string
	UserID string

	// Limit limits the number of results returned (default: 100)
	Limit int
}

// Profile is the application profile attached one-to-one to an auth user
type Profile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	IsAdmin   bool   `json:"is_admin"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// WebhookLogStatus is the processing state of an audited webhook delivery
type WebhookLogStatus string

const (
	WebhookLogReceived  WebhookLogStatus = "received"
	WebhookLogProcessed WebhookLogStatus = "processed"
	WebhookLogError     WebhookLogStatus = "error"
)

// WebhookLog is an audit row written once per webhook delivery
type WebhookLog struct {
	ID           string           `json:"id"`
	Event        string           `json:"evento"`
	Payload      json.RawMessage  `json:"payload"`
	Status       WebhookLogStatus `json:"status"`
	ErrorMessage string           `json:"error_message,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// AccessCode is a short human-readable token for the embedded mentoring tool
type AccessCode struct {
	Code      string    `json:"code"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// UsableAt reports whether the code is active and not expired at t
func (c *AccessCode) UsableAt(t time.Time) bool {
	return c.IsActive && c.ExpiresAt.After(t)
}

// User is an authenticated identity as seen by the resolver
type User struct {
	ID    string
	Email string
}

// NormalizeEmail lower-cases and trims an email for matching
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ResolutionSource tells which step of the resolution produced the result
type ResolutionSource string

const (
	SourceAdmin  ResolutionSource = "admin"
	SourceUserID ResolutionSource = "user_id"
	SourceEmail  ResolutionSource = "email"
	SourceNone   ResolutionSource = "none"
	SourceError  ResolutionSource = "error"
)

// Resolution is the answer to "does this user currently have paid access?"
type Resolution struct {
	HasAccess    bool
	IsAdmin      bool
	Subscription *Subscription
	Source       ResolutionSource
}

// CacheConfig holds profile cache configuration
type CacheConfig struct {
	// Enabled determines if caching is active
	Enabled bool

	// ProfileTTL is the TTL for cached profiles (default: 1 minute)
	ProfileTTL time.Duration

	// MaxProfiles is the maximum number of profiles to cache (default: 1000)
	MaxProfiles int
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	// Enabled determines if the circuit breaker is active
	Enabled bool

	// FailureThreshold is the number of consecutive failures before opening the circuit (default: 5)
	FailureThreshold int

	// ResetTimeout is the duration to wait before transitioning from Open to Half-Open (default: 30 seconds)
	ResetTimeout time.Duration
}

// Config holds resolver configuration
type Config struct {
	// ClaimOnResolve links unclaimed rows matching the user's email before lookup.
	// Nil means enabled.
	ClaimOnResolve *bool

	// CacheConfig configures the profile cache
	CacheConfig *CacheConfig

	// CircuitBreakerConfig wraps storage with a circuit breaker
	CircuitBreakerConfig *CircuitBreakerConfig

	// Metrics is used for tracking resolver operations (default: NoopMetrics)
	Metrics Metrics

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// OnError receives lookup failures that were collapsed into "no access"
	OnError func(ctx context.Context, user User, err error)

	// Now returns the current time (default: time.Now)
	Now func() time.Time
}

// BoolPtr returns a pointer to b
func BoolPtr(b bool) *bool {
	return &b
}
