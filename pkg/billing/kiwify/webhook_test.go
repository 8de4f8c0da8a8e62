package kiwify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // matches the provider's signing scheme
	"encoding/hex"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/goaccess/pkg/access"
	"github.com/mihaimyh/goaccess/pkg/billing"
	"github.com/mihaimyh/goaccess/storage/memory"
)

const testSecret = "kiwify_test_secret"

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func signBody(body string) string {
	mac := hmac.New(sha1.New, []byte(testSecret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestProvider(t *testing.T, store *memory.Storage, mutate func(*billing.Config)) *Provider {
	t.Helper()
	cfg := billing.Config{
		Subscriptions: store,
		WebhookLogs:   store,
		WebhookSecret: testSecret,
		Now:           func() time.Time { return testNow },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := NewProvider(cfg)
	require.NoError(t, err)
	return p
}

func deliver(t *testing.T, p *Provider, body string) *httptest.ResponseRecorder {
	t.Helper()
	return deliverSigned(t, p, body, signBody(body))
}

func deliverSigned(t *testing.T, p *Provider, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	target := "/functions/v1/kiwify-webhook"
	if signature != "" {
		target += "?signature=" + signature
	}
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	p.WebhookHandler().ServeHTTP(rec, req)
	return rec
}

func allSubscriptions(t *testing.T, store *memory.Storage) []*access.Subscription {
	t.Helper()
	subs, err := store.ListSubscriptions(context.Background(), access.SubscriptionFilter{})
	require.NoError(t, err)
	return subs
}

const createdAnnual = `{"event":"subscription.created","data":{"subscription_id":"sub_1",` +
	`"customer":{"email":"a@b.com","name":"Ana","id":"cus_1"},"product":{"name":"Plano Anual"},` +
	`"amount":147,"created_at":"2024-01-01T00:00:00Z"}}`

func TestWebhook_CreatesAnnualSubscription(t *testing.T) {
	store := memory.New()
	p := newTestProvider(t, store, nil)

	rec := deliver(t, p, createdAnnual)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"message":"Webhook processed successfully"}`, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	subs := allSubscriptions(t, store)
	require.Len(t, subs, 1)
	sub := subs[0]
	assert.Equal(t, "sub_1", sub.KiwifySubscriptionID)
	assert.Equal(t, "cus_1", sub.KiwifyCustomerID)
	assert.Equal(t, "a@b.com", sub.Email)
	assert.Equal(t, access.PlanAnnual, sub.Plan)
	assert.Equal(t, 147.0, sub.Amount)
	assert.Equal(t, access.StatusActive, sub.Status)
	assert.Nil(t, sub.UserID)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), sub.StartDate)
	require.NotNil(t, sub.ExpiresAt)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), *sub.ExpiresAt)

	logs := store.WebhookLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "subscription.created", logs[0].Event)
	assert.Equal(t, access.WebhookLogProcessed, logs[0].Status)
	assert.JSONEq(t, createdAnnual, string(logs[0].Payload))
}

func TestWebhook_RedeliveryIsIdempotent(t *testing.T) {
	store := memory.New()
	p := newTestProvider(t, store, nil)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, deliver(t, p, createdAnnual).Code)
	}
	require.Len(t, allSubscriptions(t, store), 1)

	// promotional price on redelivery updates the row in place
	promo := strings.Replace(createdAnnual, `"amount":147`, `"amount":97`, 1)
	require.Equal(t, http.StatusOK, deliver(t, p, promo).Code)

	subs := allSubscriptions(t, store)
	require.Len(t, subs, 1)
	assert.Equal(t, 97.0, subs[0].Amount)
	assert.Equal(t, access.PlanAnnual, subs[0].Plan)
}

func TestWebhook_RedeliveryKeepsClaimedUser(t *testing.T) {
	store := memory.New()
	p := newTestProvider(t, store, nil)

	require.Equal(t, http.StatusOK, deliver(t, p, createdAnnual).Code)
	n, err := store.ClaimSubscriptions(context.Background(), "user-1", "a@b.com")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Equal(t, http.StatusOK, deliver(t, p, createdAnnual).Code)

	subs := allSubscriptions(t, store)
	require.Len(t, subs, 1)
	require.NotNil(t, subs[0].UserID)
	assert.Equal(t, "user-1", *subs[0].UserID)
}

func TestWebhook_InvalidSignature(t *testing.T) {
	store := memory.New()
	p := newTestProvider(t, store, nil)

	tests := []struct {
		name      string
		signature string
	}{
		{"missing", ""},
		{"mismatch", signBody("something else")},
		{"not hex", "zz-not-hex"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := deliverSigned(t, p, createdAnnual, tt.signature)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), "error")
		})
	}

	assert.Empty(t, allSubscriptions(t, store))
	assert.Empty(t, store.WebhookLogs())
}

func TestWebhook_MalformedPayload(t *testing.T) {
	store := memory.New()
	p := newTestProvider(t, store, nil)

	for _, body := range []string{
		`{not json`,
		`{"data":{"subscription_id":"sub_1"}}`,
		`{"event":"   "}`,
		`{"event":"subscription.created","data":{"amount":"abc"}}`,
	} {
		rec := deliver(t, p, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Empty(t, allSubscriptions(t, store))
	assert.Empty(t, store.WebhookLogs())
}

func TestWebhook_MethodHandling(t *testing.T) {
	p := newTestProvider(t, memory.New(), nil)

	rec := httptest.NewRecorder()
	p.WebhookHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	p.WebhookHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWebhook_PayloadTooLarge(t *testing.T) {
	p := newTestProvider(t, memory.New(), nil)
	body := `{"event":"x","pad":"` + strings.Repeat("a", 300*1024) + `"}`

	rec := deliver(t, p, body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestWebhook_MonthlyAndPassThroughPlans(t *testing.T) {
	store := memory.New()
	p := newTestProvider(t, store, nil)

	monthly := `{"event":"payment.approved","data":{"subscription_id":"sub_m",` +
		`"customer":{"email":"M@Example.com"},"product":{"name":"Acesso"},"amount":"27,00",` +
		`"created_at":"2024-03-31T10:00:00Z"}}`
	other := `{"event":"payment.approved","data":{"subscription_id":"sub_e",` +
		`"customer":{"email":"e@example.com"},"product":{"name":"Ebook"},"amount":9.9}}`

	require.Equal(t, http.StatusOK, deliver(t, p, monthly).Code)
	require.Equal(t, http.StatusOK, deliver(t, p, other).Code)

	byID := map[string]*access.Subscription{}
	for _, s := range allSubscriptions(t, store) {
		byID[s.KiwifySubscriptionID] = s
	}

	m := byID["sub_m"]
	require.NotNil(t, m)
	assert.Equal(t, access.PlanMonthly, m.Plan)
	assert.Equal(t, "m@example.com", m.Email)
	require.NotNil(t, m.ExpiresAt)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), *m.ExpiresAt)

	e := byID["sub_e"]
	require.NotNil(t, e)
	assert.Equal(t, access.Plan("Ebook"), e.Plan)
	assert.Nil(t, e.ExpiresAt)
	assert.Equal(t, testNow, e.StartDate)
}

func TestWebhook_ExplicitExpirationWins(t *testing.T) {
	store := memory.New()
	p := newTestProvider(t, store, nil)

	body := `{"event":"subscription.created","data":{"subscription_id":"sub_x",` +
		`"customer":{"email":"x@example.com"},"product":{"name":"Plano Anual"},"amount":147,` +
		`"created_at":"2024-01-01T00:00:00Z","expires_at":"2024-07-01T00:00:00Z"}}`
	require.Equal(t, http.StatusOK, deliver(t, p, body).Code)

	subs := allSubscriptions(t, store)
	require.Len(t, subs, 1)
	require.NotNil(t, subs[0].ExpiresAt)
	assert.Equal(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), *subs[0].ExpiresAt)
}

func TestWebhook_PlanMappingTable(t *testing.T) {
	store := memory.New()
	p := newTestProvider(t, store, func(c *billing.Config) {
		c.PlanMapping = map[string]access.Plan{"prod_semestral": access.PlanAnnual}
	})

	body := `{"event":"subscription.created","data":{"subscription_id":"sub_t",` +
		`"customer":{"email":"t@example.com"},"product":{"id":"PROD_SEMESTRAL","name":"Plano Especial"},` +
		`"amount":10}}`
	require.Equal(t, http.StatusOK, deliver(t, p, body).Code)

	subs := allSubscriptions(t, store)
	require.Len(t, subs, 1)
	assert.Equal(t, access.PlanAnnual, subs[0].Plan)
}

func TestWebhook_NegativeThresholdsDisableAmountRule(t *testing.T) {
	store := memory.New()
	p := newTestProvider(t, store, func(c *billing.Config) {
		c.AnnualMinAmount = -1
		c.MonthlyMinAmount = -1
		c.PlanMapping = map[string]access.Plan{"prod_mapped": access.PlanMonthly}
	})

	unmapped := `{"event":"payment.approved","data":{"subscription_id":"sub_x",` +
		`"customer":{"email":"x@example.com"},"product":{"name":"Plano X"},"amount":147}}`
	mapped := `{"event":"payment.approved","data":{"subscription_id":"sub_m",` +
		`"customer":{"email":"m@example.com"},"product":{"id":"prod_mapped","name":"Outro"},"amount":147}}`
	named := `{"event":"payment.approved","data":{"subscription_id":"sub_a",` +
		`"customer":{"email":"a@example.com"},"product":{"name":"Plano Anual"},"amount":1}}`
	for _, body := range []string{unmapped, mapped, named} {
		require.Equal(t, http.StatusOK, deliver(t, p, body).Code)
	}

	byID := map[string]*access.Subscription{}
	for _, s := range allSubscriptions(t, store) {
		byID[s.KiwifySubscriptionID] = s
	}
	require.Len(t, byID, 3)
	assert.Equal(t, access.Plan("Plano X"), byID["sub_x"].Plan)
	assert.Equal(t, access.PlanMonthly, byID["sub_m"].Plan)
	assert.Equal(t, access.PlanAnnual, byID["sub_a"].Plan)
}

func TestWebhook_SyntheticIDWhenMissing(t *testing.T) {
	store := memory.New()
	p := newTestProvider(t, store, nil)

	body := `{"event":"payment.approved","data":{"customer":{"email":"n@example.com"},` +
		`"product":{"name":"Plano Mensal"},"amount":27}}`
	require.Equal(t, http.StatusOK, deliver(t, p, body).Code)
	require.Equal(t, http.StatusOK, deliver(t, p, body).Code)

	subs := allSubscriptions(t, store)
	require.Len(t, subs, 2, "each delivery without an id gets its own synthetic key")
	for _, s := range subs {
		assert.True(t, strings.HasPrefix(s.KiwifySubscriptionID, "kiwify_"))
	}
}

func TestWebhook_LifecycleEvents(t *testing.T) {
	store := memory.New()
	p := newTestProvider(t, store, nil)
	require.Equal(t, http.StatusOK, deliver(t, p, createdAnnual).Code)

	cancelled := `{"event":"subscription.cancelled","data":{"subscription_id":"sub_1"}}`
	require.Equal(t, http.StatusOK, deliver(t, p, cancelled).Code)
	assert.Equal(t, access.StatusCancelled, allSubscriptions(t, store)[0].Status)

	renewed := `{"event":"subscription.renewed","data":{"subscription_id":"sub_1",` +
		`"expires_at":"2026-01-01T00:00:00Z"}}`
	require.Equal(t, http.StatusOK, deliver(t, p, renewed).Code)
	sub := allSubscriptions(t, store)[0]
	assert.Equal(t, access.StatusActive, sub.Status)
	require.NotNil(t, sub.ExpiresAt)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), *sub.ExpiresAt)

	renewedNoExpiry := `{"event":"subscription.renewed","data":{"subscription_id":"sub_1"}}`
	require.Equal(t, http.StatusOK, deliver(t, p, renewedNoExpiry).Code)
	assert.Nil(t, allSubscriptions(t, store)[0].ExpiresAt)

	refunded := `{"event":"payment.refunded","data":{"subscription_id":"sub_1"}}`
	require.Equal(t, http.StatusOK, deliver(t, p, refunded).Code)
	assert.Equal(t, access.StatusRefunded, allSubscriptions(t, store)[0].Status)

	require.Len(t, allSubscriptions(t, store), 1)
}

func TestWebhook_UnknownEventIsNoop(t *testing.T) {
	store := memory.New()
	var called bool
	p := newTestProvider(t, store, func(c *billing.Config) {
		c.WebhookCallback = func(context.Context, billing.WebhookEvent) error {
			called = true
			return nil
		}
	})

	rec := deliver(t, p, `{"event":"boleto.generated","data":{"subscription_id":"sub_9"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, allSubscriptions(t, store))
	assert.False(t, called)

	logs := store.WebhookLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, access.WebhookLogProcessed, logs[0].Status)
}

func TestWebhook_LifecycleForUnknownSubscriptionIsNoop(t *testing.T) {
	store := memory.New()
	p := newTestProvider(t, store, nil)

	rec := deliver(t, p, `{"event":"subscription.cancelled","data":{"subscription_id":"nope"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, allSubscriptions(t, store))
}

// failingSubscriptions fails every write
type failingSubscriptions struct {
	access.SubscriptionStore
}

func (failingSubscriptions) UpsertSubscription(context.Context, *access.Subscription) (*access.Subscription, error) {
	return nil, errors.New("connection reset")
}

func TestWebhook_ProcessingErrorIsAudited(t *testing.T) {
	store := memory.New()
	p := newTestProvider(t, store, func(c *billing.Config) {
		c.Subscriptions = failingSubscriptions{store}
	})

	rec := deliver(t, p, createdAnnual)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"failed to process webhook"}`, rec.Body.String())

	logs := store.WebhookLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, access.WebhookLogError, logs[0].Status)
	assert.Contains(t, logs[0].ErrorMessage, "connection reset")
}

// brokenLogs refuses the first insert, then records everything
type brokenLogs struct {
	*memory.Storage
	inserts int
}

func (b *brokenLogs) InsertWebhookLog(ctx context.Context, log *access.WebhookLog) error {
	b.inserts++
	if b.inserts == 1 {
		return errors.New("audit table unavailable")
	}
	return b.Storage.InsertWebhookLog(ctx, log)
}

func TestWebhook_AuditIsBestEffort(t *testing.T) {
	store := memory.New()
	logs := &brokenLogs{Storage: store}
	p := newTestProvider(t, store, func(c *billing.Config) { c.WebhookLogs = logs })

	require.Equal(t, http.StatusOK, deliver(t, p, createdAnnual).Code)
	assert.Len(t, allSubscriptions(t, store), 1)
	assert.Empty(t, store.WebhookLogs())
}

func TestWebhook_ErrorInsertsFreshAuditRow(t *testing.T) {
	store := memory.New()
	logs := &brokenLogs{Storage: store}
	p := newTestProvider(t, store, func(c *billing.Config) {
		c.WebhookLogs = logs
		c.Subscriptions = failingSubscriptions{store}
	})

	require.Equal(t, http.StatusInternalServerError, deliver(t, p, createdAnnual).Code)

	rows := store.WebhookLogs()
	require.Len(t, rows, 1)
	assert.Equal(t, access.WebhookLogError, rows[0].Status)
	assert.Equal(t, "subscription.created", rows[0].Event)
}

func TestWebhook_Callback(t *testing.T) {
	store := memory.New()
	var got billing.WebhookEvent
	p := newTestProvider(t, store, func(c *billing.Config) {
		c.WebhookCallback = func(_ context.Context, e billing.WebhookEvent) error {
			got = e
			return errors.New("downstream failure is only logged")
		}
	})

	require.Equal(t, http.StatusOK, deliver(t, p, createdAnnual).Code)
	assert.Equal(t, "kiwify", got.Provider)
	assert.Equal(t, "subscription.created", got.EventType)
	assert.Equal(t, "sub_1", got.ExternalSubscriptionID)
	assert.Equal(t, "a@b.com", got.Email)
	assert.Equal(t, access.PlanAnnual, got.Plan)
	assert.Equal(t, access.StatusActive, got.Status)
	assert.Equal(t, "cus_1", got.Metadata["customer_id"])
}

func TestWebhook_RateLimited(t *testing.T) {
	p := newTestProvider(t, memory.New(), func(c *billing.Config) { c.RateLimitRequests = 1 })
	handler := p.WebhookHandler()

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/?signature="+signBody(createdAnnual),
			bytes.NewBufferString(createdAnnual))
		req.RemoteAddr = "203.0.113.5:1000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, send())
	assert.Equal(t, http.StatusTooManyRequests, send())
}

func TestNewProvider_Validation(t *testing.T) {
	_, err := NewProvider(billing.Config{WebhookSecret: "x"})
	assert.ErrorIs(t, err, billing.ErrProviderNotConfigured)

	_, err = NewProvider(billing.Config{Subscriptions: memory.New()})
	assert.ErrorIs(t, err, billing.ErrMissingWebhookSecret)

	_, err = NewProvider(billing.Config{Subscriptions: memory.New(), WebhookSecret: "x", AnnualMinAmount: -1})
	assert.NoError(t, err)

	_, err = NewProvider(billing.Config{Subscriptions: memory.New(), WebhookSecret: "x", MonthlyMinAmount: math.NaN()})
	assert.ErrorIs(t, err, billing.ErrInvalidPlanThreshold)

	p, err := NewProvider(billing.Config{Subscriptions: memory.New(), WebhookSecret: "x"})
	require.NoError(t, err)
	assert.Equal(t, "kiwify", p.Name())
}
