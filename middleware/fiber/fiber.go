// Package fiber provides Fiber middleware for paid-access gating
package fiber

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/goaccess/pkg/access"
	"github.com/mihaimyh/goaccess/pkg/auth"
)

// ResolutionKey is the Fiber Locals key holding the access.Resolution of an allowed request
const ResolutionKey = "access.resolution"

// UserExtractor extracts the authenticated user from a Fiber context
// Return false if user is not authenticated
type UserExtractor func(c *fiber.Ctx) (access.User, bool)

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
	OnDenied func(c *fiber.Ctx, res access.Resolution) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error
}

// Middleware creates a Fiber middleware that only lets paying users (and admins) through
func Middleware(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Resolver == nil {
		panic("goaccess/fiber: Config.Resolver is required")
	}
	if cfg.GetUser == nil {
		panic("goaccess/fiber: Config.GetUser is required")
	}

	return func(c *fiber.Ctx) error {
		user, ok := cfg.GetUser(c)
		if !ok || user.ID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return defaultUnauthorized(c)
		}

		// c.UserContext() defaults to context.Background()
		res := cfg.Resolver.Resolve(c.UserContext(), user)
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

		c.Locals(ResolutionKey, res)
		return c.Next()
	}
}

// Default error handlers

func defaultUnauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
}

func defaultDenied(c *fiber.Ctx, cfg Config) error {
	if cfg.RequireAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin access required"})
	}
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
		"error":        "subscription required",
		"checkout_url": cfg.CheckoutURL,
	})
}

// ResolutionFromContext returns the resolution stored by Middleware
func ResolutionFromContext(c *fiber.Ctx) (access.Resolution, bool) {
	res, ok := c.Locals(ResolutionKey).(access.Resolution)
	return res, ok
}

// Convenience extractors for User

// FromContext returns a UserExtractor that gets the user from Fiber Locals
// set by an upstream auth middleware via c.Locals(key, access.User{...}).
func FromContext(key string) UserExtractor {
	return func(c *fiber.Ctx) (access.User, bool) {
		user, ok := c.Locals(key).(access.User)
		return user, ok
	}
}

// FromVerifier returns a UserExtractor that verifies the bearer token on each request.
// Fiber v2 uses c.Get() for headers (not c.GetHeader())
func FromVerifier(v *auth.Verifier) UserExtractor {
	return func(c *fiber.Ctx) (access.User, bool) {
		tok, ok := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return access.User{}, false
		}
		user, err := v.Verify(tok)
		return user, err == nil
	}
}

// FromHeader returns a UserExtractor that gets user id and email from headers
func FromHeader(idHeader, emailHeader string) UserExtractor {
	return func(c *fiber.Ctx) (access.User, bool) {
		user := access.User{ID: c.Get(idHeader), Email: c.Get(emailHeader)}
		return user, user.ID != ""
	}
}
