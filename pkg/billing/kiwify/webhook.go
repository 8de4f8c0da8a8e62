package kiwify

import (
	"context"
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // Kiwify signs webhooks with HMAC-SHA1
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mihaimyh/goaccess/pkg/access"
	"github.com/mihaimyh/goaccess/pkg/billing"
	"github.com/mihaimyh/goaccess/pkg/billing/internal"
)

const signatureParam = "signature"

// handleWebhook processes incoming Kiwify webhook events
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	internal.SetCORSHeaders(w)
	internal.SetSecurityHeaders(w)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		internal.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := internal.ReadBodyStrict(w, r, internal.DefaultMaxBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			internal.WriteError(w, http.StatusRequestEntityTooLarge, "payload too large")
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
			return
		}
		internal.WriteError(w, http.StatusBadRequest, "invalid payload")
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		return
	}

	if !p.verifySignature(r.URL.Query().Get(signatureParam), body) {
		p.logger.Warn("rejected webhook with invalid signature",
			access.Field{Key: "client_ip", Value: internal.GetClientIP(r, p.config.TrustForwardedFor)})
		internal.WriteError(w, http.StatusUnauthorized, billing.ErrInvalidWebhookSignature.Error())
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	var payload webhookPayload
	if err := parseWebhookPayload(body, &payload); err != nil {
		internal.WriteError(w, http.StatusBadRequest, billing.ErrInvalidWebhookPayload.Error())
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		return
	}

	ctx := r.Context()
	logID := p.auditReceived(ctx, payload.Event, body)

	event, applied, err := p.processWebhookEvent(ctx, &payload)
	if err != nil {
		p.logger.Error("webhook processing failed",
			access.Field{Key: "event", Value: payload.Event},
			access.Field{Key: "subscription_id", Value: payload.Data.SubscriptionID},
			access.Field{Key: "error", Value: err.Error()},
		)
		p.auditFailed(ctx, logID, payload.Event, body, err)
		internal.WriteError(w, http.StatusInternalServerError, "failed to process webhook")
		p.metrics.RecordWebhookEvent(providerName, payload.Event, "error")
		p.metrics.RecordWebhookError(providerName, "processing_error")
		p.metrics.RecordWebhookProcessingDuration(providerName, payload.Event, time.Since(startTime))
		return
	}

	p.auditProcessed(ctx, logID)

	status := "ignored"
	if applied {
		status = "success"
		p.invokeCallback(ctx, event)
	}

	_ = internal.WriteJSON(w, http.StatusOK, map[string]string{"message": "Webhook processed successfully"})
	p.metrics.RecordWebhookEvent(providerName, payload.Event, status)
	p.metrics.RecordWebhookProcessingDuration(providerName, payload.Event, time.Since(startTime))
}

// verifySignature checks a hex HMAC-SHA1 of the raw body in constant time
func (p *Provider) verifySignature(signature string, body []byte) bool {
	signature = strings.TrimSpace(signature)
	if len(p.webhookSecret) == 0 || signature == "" {
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(provided, p.sign(body))
}

func (p *Provider) sign(body []byte) []byte {
	mac := hmac.New(sha1.New, p.webhookSecret)
	mac.Write(body)
	return mac.Sum(nil)
}

// processWebhookEvent dispatches on the event name. applied is false for
// events that did not change any row.
func (p *Provider) processWebhookEvent(ctx context.Context, payload *webhookPayload) (billing.WebhookEvent, bool, error) {
	switch payload.Event {
	case EventSubscriptionCreated, EventPaymentApproved:
		return p.upsertSubscription(ctx, payload)
	case EventSubscriptionRenewed:
		return p.updateSubscription(ctx, payload, access.SubscriptionUpdate{
			Status:       access.StatusActive,
			SetExpiresAt: true,
			ExpiresAt:    payload.Data.ExpiresAt.Ptr(),
		})
	case EventSubscriptionCancelled:
		return p.updateSubscription(ctx, payload, access.SubscriptionUpdate{Status: access.StatusCancelled})
	case EventPaymentRefunded:
		return p.updateSubscription(ctx, payload, access.SubscriptionUpdate{Status: access.StatusRefunded})
	default:
		p.logger.Info("ignoring unhandled webhook event", access.Field{Key: "event", Value: payload.Event})
		return billing.WebhookEvent{}, false, nil
	}
}

func (p *Provider) upsertSubscription(ctx context.Context, payload *webhookPayload) (billing.WebhookEvent, bool, error) {
	data := payload.Data

	plan, fromTable := p.rules.Normalize(data.Product.ID, data.Product.Name, float64(data.Amount))
	source := "heuristic"
	if fromTable {
		source = "mapping"
	}
	p.metrics.RecordPlanResolution(providerName, string(plan), source)

	start := p.now().UTC()
	if data.CreatedAt.Valid {
		start = data.CreatedAt.Time
	}

	externalID := data.SubscriptionID
	if externalID == "" {
		externalID = p.newID()
	}

	sub := &access.Subscription{
		Email:                access.NormalizeEmail(data.Customer.Email),
		KiwifySubscriptionID: externalID,
		KiwifyCustomerID:     data.Customer.ID,
		Plan:                 plan,
		Amount:               float64(data.Amount),
		Status:               access.StatusActive,
		StartDate:            start,
		ExpiresAt:            access.ComputeExpiration(plan, start, data.ExpiresAt.Ptr()),
	}

	saved, err := p.subscriptions.UpsertSubscription(ctx, sub)
	if err != nil {
		return billing.WebhookEvent{}, false, fmt.Errorf("upsert subscription %s: %w", externalID, err)
	}
	p.metrics.RecordStatusChange(providerName, string(access.StatusActive))

	p.logger.Info("subscription upserted",
		access.Field{Key: "event", Value: payload.Event},
		access.Field{Key: "kiwify_subscription_id", Value: externalID},
		access.Field{Key: "plan", Value: string(plan)},
	)

	return billing.WebhookEvent{
		Provider:               providerName,
		EventType:              payload.Event,
		ExternalSubscriptionID: externalID,
		Email:                  saved.Email,
		Plan:                   saved.Plan,
		Amount:                 saved.Amount,
		Status:                 saved.Status,
		EventTimestamp:         data.CreatedAt.Time,
		ExpiresAt:              saved.ExpiresAt,
		Metadata:               eventMetadata(data),
	}, true, nil
}

func (p *Provider) updateSubscription(ctx context.Context, payload *webhookPayload,
	upd access.SubscriptionUpdate) (billing.WebhookEvent, bool, error) {
	externalID := payload.Data.SubscriptionID
	if externalID == "" {
		p.logger.Warn("lifecycle event without subscription id", access.Field{Key: "event", Value: payload.Event})
		return billing.WebhookEvent{}, false, nil
	}

	err := p.subscriptions.UpdateSubscriptionByExternalID(ctx, externalID, upd)
	if errors.Is(err, access.ErrSubscriptionNotFound) {
		p.logger.Warn("lifecycle event for unknown subscription",
			access.Field{Key: "event", Value: payload.Event},
			access.Field{Key: "kiwify_subscription_id", Value: externalID},
		)
		return billing.WebhookEvent{}, false, nil
	}
	if err != nil {
		return billing.WebhookEvent{}, false, fmt.Errorf("update subscription %s: %w", externalID, err)
	}
	p.metrics.RecordStatusChange(providerName, string(upd.Status))

	p.logger.Info("subscription updated",
		access.Field{Key: "event", Value: payload.Event},
		access.Field{Key: "kiwify_subscription_id", Value: externalID},
		access.Field{Key: "status", Value: string(upd.Status)},
	)

	return billing.WebhookEvent{
		Provider:               providerName,
		EventType:              payload.Event,
		ExternalSubscriptionID: externalID,
		Email:                  access.NormalizeEmail(payload.Data.Customer.Email),
		Status:                 upd.Status,
		EventTimestamp:         payload.Data.CreatedAt.Time,
		ExpiresAt:              upd.ExpiresAt,
		Metadata:               eventMetadata(payload.Data),
	}, true, nil
}

func (p *Provider) auditReceived(ctx context.Context, event string, body []byte) string {
	if p.webhookLogs == nil {
		return ""
	}
	log := &access.WebhookLog{
		Event:   event,
		Payload: append([]byte(nil), body...),
		Status:  access.WebhookLogReceived,
	}
	if err := p.webhookLogs.InsertWebhookLog(ctx, log); err != nil {
		p.logger.Warn("failed to insert webhook audit row",
			access.Field{Key: "event", Value: event},
			access.Field{Key: "error", Value: err.Error()},
		)
		p.metrics.RecordAuditFailure(providerName, "insert")
		return ""
	}
	return log.ID
}

func (p *Provider) auditProcessed(ctx context.Context, logID string) {
	if p.webhookLogs == nil || logID == "" {
		return
	}
	if err := p.webhookLogs.UpdateWebhookLog(ctx, logID, access.WebhookLogProcessed, ""); err != nil {
		p.logger.Warn("failed to update webhook audit row",
			access.Field{Key: "log_id", Value: logID},
			access.Field{Key: "error", Value: err.Error()},
		)
		p.metrics.RecordAuditFailure(providerName, "update")
	}
}

// auditFailed records the error on the received row, or on a fresh row
// when the first insert did not succeed.
func (p *Provider) auditFailed(ctx context.Context, logID, event string, body []byte, cause error) {
	if p.webhookLogs == nil {
		return
	}
	var err error
	if logID != "" {
		err = p.webhookLogs.UpdateWebhookLog(ctx, logID, access.WebhookLogError, cause.Error())
	} else {
		err = p.webhookLogs.InsertWebhookLog(ctx, &access.WebhookLog{
			Event:        event,
			Payload:      append([]byte(nil), body...),
			Status:       access.WebhookLogError,
			ErrorMessage: cause.Error(),
		})
	}
	if err != nil {
		p.logger.Error("failed to record webhook error in audit trail",
			access.Field{Key: "event", Value: event},
			access.Field{Key: "error", Value: err.Error()},
		)
		p.metrics.RecordAuditFailure(providerName, "error")
	}
}

func (p *Provider) invokeCallback(ctx context.Context, event billing.WebhookEvent) {
	if p.config.WebhookCallback == nil {
		return
	}
	if err := p.config.WebhookCallback(ctx, event); err != nil {
		p.logger.Warn("webhook callback failed",
			access.Field{Key: "event", Value: event.EventType},
			access.Field{Key: "kiwify_subscription_id", Value: event.ExternalSubscriptionID},
			access.Field{Key: "error", Value: err.Error()},
		)
	}
}

func eventMetadata(data webhookData) map[string]interface{} {
	md := make(map[string]interface{}, 4)
	if data.Customer.ID != "" {
		md["customer_id"] = data.Customer.ID
	}
	if data.Customer.Name != "" {
		md["customer_name"] = data.Customer.Name
	}
	if data.Product.ID != "" {
		md["product_id"] = data.Product.ID
	}
	if data.Product.Name != "" {
		md["product_name"] = data.Product.Name
	}
	return md
}

func newSyntheticID() string {
	return syntheticIDPrefix + uuid.NewString()
}
