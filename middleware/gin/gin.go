// Package gin provides Gin middleware for paid-access gating
package gin

import (
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/goaccess/pkg/access"
	"github.com/mihaimyh/goaccess/pkg/auth"
)

// ResolutionKey is the Gin context key holding the access.Resolution of an allowed request
const ResolutionKey = "access.resolution"

// UserExtractor extracts the authenticated user from a Gin context
// Return false if user is not authenticated
type UserExtractor func(c *gongin.Context) (access.User, bool)

// Config holds middleware configuration
type Config struct {
	// Resolver is the access resolver instance
	Resolver *access.Resolver

	// GetUser extracts user from context (required)
	GetUser UserExtractor

	// RequireAdmin restricts the route to admins
	RequireAdmin bool

	// CheckoutURL is returned in the default deny response
	CheckoutURL string

	// OnDenied is called when the user has no access.
	// The handler chain is aborted after it returns.
	// If nil, returns 403 JSON with the checkout URL
	OnDenied func(c *gongin.Context, res access.Resolution)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)
}

// Middleware creates a Gin middleware that only lets paying users (and admins) through
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Resolver == nil {
		panic("goaccess/gin: Config.Resolver is required")
	}
	if cfg.GetUser == nil {
		panic("goaccess/gin: Config.GetUser is required")
	}

	return func(c *gongin.Context) {
		user, ok := cfg.GetUser(c)
		if !ok || user.ID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				defaultUnauthorized(c)
			}
			c.Abort()
			return
		}

		res := cfg.Resolver.Resolve(c.Request.Context(), user)
		state := access.StateOf(res)
		if cfg.RequireAdmin {
			state.HasAccess = res.IsAdmin
		}

		if access.Decide(state) != access.DecisionAllow {
			if cfg.OnDenied != nil {
				cfg.OnDenied(c, res)
			} else {
				defaultDenied(c, cfg)
			}
			c.Abort()
			return
		}

		c.Set(ResolutionKey, res)
		c.Next()
	}
}

// Default error handlers

func defaultUnauthorized(c *gongin.Context) {
	c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
}

func defaultDenied(c *gongin.Context, cfg Config) {
	if cfg.RequireAdmin {
		c.JSON(http.StatusForbidden, gongin.H{"error": "admin access required"})
		return
	}
	c.JSON(http.StatusForbidden, gongin.H{
		"error":        "subscription required",
		"checkout_url": cfg.CheckoutURL,
	})
}

// ResolutionFromContext returns the resolution stored by Middleware
func ResolutionFromContext(c *gongin.Context) (access.Resolution, bool) {
	val, exists := c.Get(ResolutionKey)
	if !exists {
		return access.Resolution{}, false
	}
	res, ok := val.(access.Resolution)
	return res, ok
}

// Convenience extractors for User

// FromContext returns a UserExtractor that gets the user from Gin context values
// set by an upstream auth middleware via c.Set(key, access.User{...}).
func FromContext(key string) UserExtractor {
	return func(c *gongin.Context) (access.User, bool) {
		if val, exists := c.Get(key); exists {
			user, ok := val.(access.User)
			return user, ok
		}
		return access.User{}, false
	}
}

// FromVerifier returns a UserExtractor that verifies the bearer token on each request
func FromVerifier(v *auth.Verifier) UserExtractor {
	return func(c *gongin.Context) (access.User, bool) {
		user, err := v.FromRequest(c.Request)
		return user, err == nil
	}
}

// FromHeader returns a UserExtractor that gets user id and email from headers
func FromHeader(idHeader, emailHeader string) UserExtractor {
	return func(c *gongin.Context) (access.User, bool) {
		user := access.User{ID: c.GetHeader(idHeader), Email: c.GetHeader(emailHeader)}
		return user, user.ID != ""
	}
}
