// Package echo provides Echo middleware for paid-access gating
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/goaccess/pkg/access"
	"github.com/mihaimyh/goaccess/pkg/auth"
)

// ResolutionKey is the Echo context key holding the access.Resolution of an allowed request
const ResolutionKey = "access.resolution"

// UserExtractor extracts the authenticated user from an Echo context
// Return false if user is not authenticated
type UserExtractor func(c echo.Context) (access.User, bool)

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

	// OnDenied is called when the user has no access
	// If nil, returns 403 JSON with the checkout URL
	OnDenied func(c echo.Context, res access.Resolution) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c echo.Context) error
}

// Middleware creates an Echo middleware that only lets paying users (and admins) through
func Middleware(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Resolver == nil {
		panic("goaccess/echo: Config.Resolver is required")
	}
	if cfg.GetUser == nil {
		panic("goaccess/echo: Config.GetUser is required")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, ok := cfg.GetUser(c)
			if !ok || user.ID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return defaultUnauthorized(c)
			}

			res := cfg.Resolver.Resolve(c.Request().Context(), user)
			state := access.StateOf(res)
			if cfg.RequireAdmin {
				state.HasAccess = res.IsAdmin
			}

			if access.Decide(state) != access.DecisionAllow {
				if cfg.OnDenied != nil {
					return cfg.OnDenied(c, res)
				}
				return defaultDenied(c, cfg)
			}

			c.Set(ResolutionKey, res)
			return next(c)
		}
	}
}

// Default error handlers

func defaultUnauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
}

func defaultDenied(c echo.Context, cfg Config) error {
	if cfg.RequireAdmin {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "admin access required"})
	}
	return c.JSON(http.StatusForbidden, map[string]string{
		"error":        "subscription required",
		"checkout_url": cfg.CheckoutURL,
	})
}

// ResolutionFromContext returns the resolution stored by Middleware
func ResolutionFromContext(c echo.Context) (access.Resolution, bool) {
	res, ok := c.Get(ResolutionKey).(access.Resolution)
	return res, ok
}

// Convenience extractors for User

// FromContext returns a UserExtractor that gets the user from Echo context values.
// This is the recommended approach for integrating with auth middleware that sets
// user information via c.Set("User", access.User{...}).
//
// Example:
//
//	// In your auth middleware:
//	c.Set("User", user)
//
//	// In access middleware config:
//	GetUser: echo.FromContext("User")
func FromContext(key string) UserExtractor {
	return func(c echo.Context) (access.User, bool) {
		user, ok := c.Get(key).(access.User)
		return user, ok
	}
}

// FromVerifier returns a UserExtractor that verifies the bearer token on each request
func FromVerifier(v *auth.Verifier) UserExtractor {
	return func(c echo.Context) (access.User, bool) {
		user, err := v.FromRequest(c.Request())
		return user, err == nil
	}
}

// FromHeader returns a UserExtractor that gets user id and email from headers
func FromHeader(idHeader, emailHeader string) UserExtractor {
	return func(c echo.Context) (access.User, bool) {
		h := c.Request().Header
		user := access.User{ID: h.Get(idHeader), Email: h.Get(emailHeader)}
		return user, user.ID != ""
	}
}
