// Package kiwify ingests Kiwify payment webhooks into the subscription table.
package kiwify

import (
	"net/http"
	"time"

	"github.com/mihaimyh/goaccess/pkg/access"
	"github.com/mihaimyh/goaccess/pkg/billing"
	"github.com/mihaimyh/goaccess/pkg/billing/internal"
)

const (
	providerName             = "kiwify"
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	syntheticIDPrefix        = "kiwify_"
)

// Provider implements the billing.Provider interface for Kiwify
type Provider struct {
	subscriptions access.SubscriptionStore
	webhookLogs   access.WebhookLogStore
	config        billing.Config
	rules         access.PlanRules
	rateLimiter   *internal.RateLimiter
	webhookSecret []byte
	metrics       billing.Metrics
	logger        access.Logger
	now           func() time.Time
	newID         func() string
}

var _ billing.Provider = (*Provider)(nil)

// NewProvider creates a new Kiwify billing provider
func NewProvider(config billing.Config) (*Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	requests := config.RateLimitRequests
	if requests <= 0 {
		requests = defaultRateLimitRequests
	}
	window := config.RateLimitWindow
	if window <= 0 {
		window = defaultRateLimitWindow
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	logger := config.Logger
	if logger == nil {
		logger = &access.NoopLogger{}
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	limiter := internal.NewRateLimiter(requests, window)
	limiter.SetTrustForwardedFor(config.TrustForwardedFor)

	return &Provider{
		subscriptions: config.Subscriptions,
		webhookLogs:   config.WebhookLogs,
		config:        config,
		rules:         config.PlanRules(),
		rateLimiter:   limiter,
		webhookSecret: []byte(config.WebhookSecret),
		metrics:       metrics,
		logger:        logger,
		now:           now,
		newID:         newSyntheticID,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Kiwify webhooks, rate limited per client IP
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}
