package kiwify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Event names delivered by Kiwify
const (
	EventSubscriptionCreated   = "subscription.created"
	EventPaymentApproved       = "payment.approved"
	EventSubscriptionRenewed   = "subscription.renewed"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventPaymentRefunded       = "payment.refunded"
)

// webhookPayload is the envelope posted by Kiwify. Unknown fields are ignored.
type webhookPayload struct {
	Event string      `json:"event"`
	Data  webhookData `json:"data"`
}

type webhookData struct {
	SubscriptionID string    `json:"subscription_id"`
	Customer       customer  `json:"customer"`
	Product        product   `json:"product"`
	Amount         amount    `json:"amount"`
	CreatedAt      timestamp `json:"created_at"`
	ExpiresAt      timestamp `json:"expires_at"`
}

type customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type product struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// amount accepts a JSON number, a numeric string or null
type amount float64

func (a *amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*a = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
		if s == "" {
			*a = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", s, err)
		}
		*a = amount(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	*a = amount(f)
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// timestamp accepts the date formats Kiwify emits; empty and null mean unset
type timestamp struct {
	time.Time
	Valid bool
}

func (t *timestamp) UnmarshalJSON(b []byte) error {
	*t = timestamp{}
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			t.Valid = true
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

// Ptr returns nil for unset timestamps
func (t timestamp) Ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// parseWebhookPayload decodes a single JSON object and requires an event name
func parseWebhookPayload(body []byte, payload *webhookPayload) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(payload); err != nil {
		return fmt.Errorf("failed to parse webhook payload: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("multiple JSON objects in payload")
	}
	payload.Event = strings.TrimSpace(payload.Event)
	if payload.Event == "" {
		return fmt.Errorf("missing event")
	}
	payload.Data.SubscriptionID = strings.TrimSpace(payload.Data.SubscriptionID)
	return nil
}
