package api

import (
	"fmt"
	"net/http"

	"github.com/mihaimyh/goaccess/pkg/access"
	"github.com/mihaimyh/goaccess/pkg/accesscode"
	"github.com/mihaimyh/goaccess/pkg/auth"
)

// Config holds configuration for the access API handler
type Config struct {
	// Resolver decides whether the caller has paid access (required)
	Resolver *access.Resolver

	// Subscriptions backs the admin dashboard
	// If nil, the resolver's storage is used
	Subscriptions access.SubscriptionStore

	// Codes issues and validates SOPH access codes
	// If nil, the token endpoints answer 503
	Codes *accesscode.Service

	// GetUser extracts the authenticated user from the HTTP request (required)
	GetUser func(*http.Request) (access.User, bool)

	// OnError handles errors (auth, internal, etc.)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger is used for structured logging (default: access.NoopLogger)
	Logger access.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Resolver == nil {
		return fmt.Errorf("resolver is required")
	}
	if c.GetUser == nil {
		return fmt.Errorf("getUser is required")
	}
	return nil
}

// NewHandler creates a new access API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Subscriptions == nil {
		config.Subscriptions = config.Resolver.Storage()
	}
	if config.Logger == nil {
		config.Logger = &access.NoopLogger{}
	}
	return &Handler{
		config: config,
	}, nil
}

// Helper functions for common user extraction patterns

// FromAuthContext returns a GetUser function that reads the user stored by auth.Verifier.Middleware
func FromAuthContext() func(*http.Request) (access.User, bool) {
	return func(r *http.Request) (access.User, bool) {
		return auth.UserFromContext(r.Context())
	}
}

// FromVerifier returns a GetUser function that verifies the request's bearer token itself
func FromVerifier(v *auth.Verifier) func(*http.Request) (access.User, bool) {
	return func(r *http.Request) (access.User, bool) {
		if user, ok := auth.UserFromContext(r.Context()); ok {
			return user, true
		}
		user, err := v.FromRequest(r)
		if err != nil {
			return access.User{}, false
		}
		return user, true
	}
}

// FromHeader returns a GetUser function that reads the user id and email from headers.
// Only use behind a trusted proxy that sets them.
func FromHeader(idHeader, emailHeader string) func(*http.Request) (access.User, bool) {
	return func(r *http.Request) (access.User, bool) {
		user := access.User{
			ID:    r.Header.Get(idHeader),
			Email: r.Header.Get(emailHeader),
		}
		return user, user.ID != ""
	}
}
