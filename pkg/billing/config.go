package billing

import (
	"context"
	"math"
	"time"

	"github.com/mihaimyh/goaccess/pkg/access"
)

// WebhookCallback is invoked after a webhook event has been applied to storage.
// A callback error is logged but does not fail the webhook.
type WebhookCallback func(ctx context.Context, event WebhookEvent) error

// Config defines the standard configuration all providers should accept
type Config struct {
	// Subscriptions receives the upserts and lifecycle updates
	Subscriptions access.SubscriptionStore

	// WebhookLogs receives one audit row per delivery.
	// Optional: when nil, deliveries are not audited.
	WebhookLogs access.WebhookLogStore

	// PlanMapping maps provider product ids or product names (case-insensitive)
	// to canonical plans. For example:
	//   map[string]access.Plan{"prod_abc": access.PlanAnnual, "Plano Mensal": access.PlanMonthly}
	// Products missing from the table fall back to the amount/name heuristic.
	PlanMapping map[string]access.Plan

	// AnnualMinAmount is the smallest amount treated as an annual purchase.
	// Zero selects the default (147); a negative value disables the amount rule,
	// leaving the product name and PlanMapping to decide.
	AnnualMinAmount float64

	// MonthlyMinAmount is the smallest amount treated as a monthly purchase.
	// Zero selects the default (27); a negative value disables the amount rule.
	MonthlyMinAmount float64

	// WebhookSecret is the shared secret used to sign webhook bodies
	WebhookSecret string

	// RateLimitRequests is the number of webhook requests allowed per IP per window (default: 100)
	RateLimitRequests int

	// RateLimitWindow is the rate limit window (default: 1 minute)
	RateLimitWindow time.Duration

	// TrustForwardedFor keys the rate limiter and logs on the first X-Forwarded-For
	// entry instead of the connection address. Enable only behind a proxy that
	// overwrites the header (default: false)
	TrustForwardedFor bool

	// WebhookCallback is optional
	WebhookCallback WebhookCallback

	// Metrics is an optional metrics collector for tracking billing provider operations.
	// If nil, metrics will be silently ignored (no-op).
	Metrics Metrics

	// Logger is used for structured logging (default: access.NoopLogger)
	Logger access.Logger

	// Now returns the current time (default: time.Now)
	Now func() time.Time
}

// PlanRules builds the plan normalization rules described by the config
func (c *Config) PlanRules() access.PlanRules {
	rules := access.DefaultPlanRules()
	rules.AnnualMinAmount = threshold(c.AnnualMinAmount, rules.AnnualMinAmount)
	rules.MonthlyMinAmount = threshold(c.MonthlyMinAmount, rules.MonthlyMinAmount)
	if len(c.PlanMapping) > 0 {
		rules.Mapping = make(map[string]access.Plan, len(c.PlanMapping))
		for k, v := range c.PlanMapping {
			rules.Mapping[k] = v
		}
	}
	return rules
}

// Validate reports configuration errors that would make a provider unusable
func (c *Config) Validate() error {
	if c.Subscriptions == nil {
		return ErrProviderNotConfigured
	}
	if c.WebhookSecret == "" {
		return ErrMissingWebhookSecret
	}
	if !finite(c.AnnualMinAmount) || !finite(c.MonthlyMinAmount) {
		return ErrInvalidPlanThreshold
	}
	for k, v := range c.PlanMapping {
		if k == "" || v == "" {
			return ErrInvalidPlanMapping
		}
	}
	return nil
}

// threshold resolves a configured amount: zero keeps def, negative disables (0)
func threshold(configured, def float64) float64 {
	switch {
	case configured < 0:
		return 0
	case configured > 0:
		return configured
	}
	return def
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
