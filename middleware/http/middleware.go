// Package http provides HTTP middleware for paid-access gating
package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mihaimyh/goaccess/pkg/access"
	"github.com/mihaimyh/goaccess/pkg/auth"
)

// UserExtractor extracts the authenticated user from an HTTP request
// Return false if user is not authenticated
type UserExtractor func(r *http.Request) (access.User, bool)

// Config holds middleware configuration
type Config struct {
	// Resolver is the access resolver instance (required)
	Resolver *access.Resolver

	// GetUser extracts the user from request (required)
	GetUser UserExtractor

	// RequireAdmin restricts the route to admins
	RequireAdmin bool

	// CheckoutURL is returned in the default deny response so clients can upgrade
	CheckoutURL string

	// OnDenied is called when the user has no access
	// If nil, returns 403 with {"error":"subscription required","checkout_url":...}
	OnDenied func(w http.ResponseWriter, r *http.Request, res access.Resolution)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)
}

// Middleware creates an HTTP middleware that only lets paying users (and admins) through
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.Resolver == nil {
		panic("goaccess/http: Config.Resolver is required")
	}
	if config.GetUser == nil {
		panic("goaccess/http: Config.GetUser is required")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := config.GetUser(r)
			if !ok || user.ID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
				}
				return
			}

			res := config.Resolver.Resolve(r.Context(), user)
			state := access.StateOf(res)
			if config.RequireAdmin {
				state.HasAccess = res.IsAdmin
			}

			if access.Decide(state) != access.DecisionAllow {
				if config.OnDenied != nil {
					config.OnDenied(w, r, res)
				} else {
					writeJSON(w, http.StatusForbidden, denyBody(config))
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(WithResolution(r.Context(), res)))
		})
	}
}

// HandlerFunc creates an HTTP middleware for access gating (HandlerFunc version)
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

func denyBody(config Config) map[string]string {
	if config.RequireAdmin {
		return map[string]string{"error": "admin access required"}
	}
	return map[string]string{
		"error":        "subscription required",
		"checkout_url": config.CheckoutURL,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// ResolutionKey is the context key for the access resolution of an allowed request
	ResolutionKey ContextKey = "access:resolution"
)

// WithResolution stores res in ctx
func WithResolution(ctx context.Context, res access.Resolution) context.Context {
	return context.WithValue(ctx, ResolutionKey, res)
}

// ResolutionFromContext returns the resolution stored by Middleware
func ResolutionFromContext(ctx context.Context) (access.Resolution, bool) {
	res, ok := ctx.Value(ResolutionKey).(access.Resolution)
	return res, ok
}

// Common extractors for convenience

// FromAuthContext returns a UserExtractor that reads the user set by auth.Verifier.Middleware
func FromAuthContext() UserExtractor {
	return func(r *http.Request) (access.User, bool) {
		return auth.UserFromContext(r.Context())
	}
}

// FromVerifier returns a UserExtractor that verifies the bearer token on each request
func FromVerifier(v *auth.Verifier) UserExtractor {
	return func(r *http.Request) (access.User, bool) {
		user, err := v.FromRequest(r)
		return user, err == nil
	}
}

// FromHeader returns a UserExtractor that gets user id and email from headers
func FromHeader(idHeader, emailHeader string) UserExtractor {
	return func(r *http.Request) (access.User, bool) {
		user := access.User{ID: r.Header.Get(idHeader), Email: r.Header.Get(emailHeader)}
		return user, user.ID != ""
	}
}
