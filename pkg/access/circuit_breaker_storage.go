package access

import (
	"context"
	"time"
)

// CircuitBreakerStorage wraps a Storage implementation with circuit breaker protection.
type CircuitBreakerStorage struct {
	storage Storage
	cb      CircuitBreaker
}

// NewCircuitBreakerStorage creates a new storage wrapper with circuit breaker.
func NewCircuitBreakerStorage(storage Storage, cb CircuitBreaker) *CircuitBreakerStorage {
	return &CircuitBreakerStorage{
		storage: storage,
		cb:      cb,
	}
}

func (s *CircuitBreakerStorage) UpsertSubscription(ctx context.Context, sub *Subscription) (*Subscription, error) {
	var out *Subscription
	err := s.cb.Execute(ctx, func() error {
		var e error
		out, e = s.storage.UpsertSubscription(ctx, sub)
		return e
	})
	return out, err
}

func (s *CircuitBreakerStorage) UpdateSubscriptionByExternalID(ctx context.Context, externalID string,
	upd SubscriptionUpdate) error {
	return s.cb.Execute(ctx, func() error {
		return s.storage.UpdateSubscriptionByExternalID(ctx, externalID, upd)
	})
}

func (s *CircuitBreakerStorage) ClaimSubscriptions(ctx context.Context, userID, email string) (int, error) {
	var n int
	err := s.cb.Execute(ctx, func() error {
		var e error
		n, e = s.storage.ClaimSubscriptions(ctx, userID, email)
		return e
	})
	return n, err
}

func (s *CircuitBreakerStorage) LatestActiveByUserID(ctx context.Context, userID string) (*Subscription, error) {
	var sub *Subscription
	err := s.cb.Execute(ctx, func() error {
		var e error
		sub, e = s.storage.LatestActiveByUserID(ctx, userID)
		return e
	})
	return sub, err
}

func (s *CircuitBreakerStorage) LatestActiveByEmail(ctx context.Context, email string) (*Subscription, error) {
	var sub *Subscription
	err := s.cb.Execute(ctx, func() error {
		var e error
		sub, e = s.storage.LatestActiveByEmail(ctx, email)
		return e
	})
	return sub, err
}

func (s *CircuitBreakerStorage) SetSubscriptionStatus(ctx context.Context, id string, status Status) error {
	return s.cb.Execute(ctx, func() error {
		return s.storage.SetSubscriptionStatus(ctx, id, status)
	})
}

func (s *CircuitBreakerStorage) ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]*Subscription, error) {
	var subs []*Subscription
	err := s.cb.Execute(ctx, func() error {
		var e error
		subs, e = s.storage.ListSubscriptions(ctx, filter)
		return e
	})
	return subs, err
}

func (s *CircuitBreakerStorage) CountSubscriptionsByStatus(ctx context.Context) (map[Status]int, error) {
	var counts map[Status]int
	err := s.cb.Execute(ctx, func() error {
		var e error
		counts, e = s.storage.CountSubscriptionsByStatus(ctx)
		return e
	})
	return counts, err
}

func (s *CircuitBreakerStorage) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var p *Profile
	err := s.cb.Execute(ctx, func() error {
		var e error
		p, e = s.storage.GetProfile(ctx, userID)
		return e
	})
	return p, err
}

func (s *CircuitBreakerStorage) UpsertProfile(ctx context.Context, profile *Profile) error {
	return s.cb.Execute(ctx, func() error {
		return s.storage.UpsertProfile(ctx, profile)
	})
}

func (s *CircuitBreakerStorage) InsertWebhookLog(ctx context.Context, log *WebhookLog) error {
	return s.cb.Execute(ctx, func() error {
		return s.storage.InsertWebhookLog(ctx, log)
	})
}

func (s *CircuitBreakerStorage) UpdateWebhookLog(ctx context.Context, id string, status WebhookLogStatus,
	errorMessage string) error {
	return s.cb.Execute(ctx, func() error {
		return s.storage.UpdateWebhookLog(ctx, id, status, errorMessage)
	})
}

func (s *CircuitBreakerStorage) FindActiveAccessCode(ctx context.Context, userID string, now time.Time) (*AccessCode, error) {
	var c *AccessCode
	err := s.cb.Execute(ctx, func() error {
		var e error
		c, e = s.storage.FindActiveAccessCode(ctx, userID, now)
		return e
	})
	return c, err
}

func (s *CircuitBreakerStorage) InsertAccessCode(ctx context.Context, code *AccessCode) error {
	return s.cb.Execute(ctx, func() error {
		return s.storage.InsertAccessCode(ctx, code)
	})
}

func (s *CircuitBreakerStorage) GetAccessCode(ctx context.Context, code string) (*AccessCode, error) {
	var c *AccessCode
	err := s.cb.Execute(ctx, func() error {
		var e error
		c, e = s.storage.GetAccessCode(ctx, code)
		return e
	})
	return c, err
}
