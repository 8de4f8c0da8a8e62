package access

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const profileCacheType = "profile"

// Resolver answers whether a user currently has paid access.
//
// Resolution never returns an error: every backend failure collapses to
// "no access" and is reported through the logger, metrics and OnError.
type Resolver struct {
	storage Storage
	cache   Cache
	config  Config
	logger  Logger
	metrics Metrics
	now     func() time.Time
	claim   bool
}

// NewResolver creates a resolver over the given storage
func NewResolver(storage Storage, config Config) (*Resolver, error) {
	if storage == nil {
		return nil, ErrStorageUnavailable
	}

	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	var cache Cache = NewNoopCache()
	if config.CacheConfig != nil && config.CacheConfig.Enabled {
		if config.CacheConfig.ProfileTTL <= 0 {
			config.CacheConfig.ProfileTTL = time.Minute
		}
		cache = NewLRUCache(config.CacheConfig.MaxProfiles)
	}

	if cbc := config.CircuitBreakerConfig; cbc != nil && cbc.Enabled {
		metrics := config.Metrics
		logger := config.Logger
		cb := NewDefaultCircuitBreaker(cbc.FailureThreshold, cbc.ResetTimeout, func(state CircuitBreakerState) {
			metrics.RecordCircuitBreakerStateChange(string(state))
			logger.Warn("storage circuit breaker state changed", Field{"state", string(state)})
		})
		storage = NewCircuitBreakerStorage(storage, cb)
	}

	return &Resolver{
		storage: storage,
		cache:   cache,
		config:  config,
		logger:  config.Logger,
		metrics: config.Metrics,
		now:     config.Now,
		claim:   config.ClaimOnResolve == nil || *config.ClaimOnResolve,
	}, nil
}

// Resolve runs the admin check, the email claim, the user id and email
// lookups and the expiration check, in that order.
func (r *Resolver) Resolve(ctx context.Context, user User) Resolution {
	start := r.now()
	res := r.resolve(ctx, user)
	r.metrics.RecordResolveDuration(r.now().Sub(start))
	r.metrics.RecordResolution(res.Source, res.HasAccess)
	return res
}

func (r *Resolver) resolve(ctx context.Context, user User) Resolution {
	email := NormalizeEmail(user.Email)
	if user.ID == "" && email == "" {
		r.fail(ctx, user, ErrInvalidUser)
		return Resolution{Source: SourceError}
	}

	if user.ID != "" {
		profile, err := r.profile(ctx, user.ID)
		switch {
		case err == nil:
			if profile.IsAdmin {
				return Resolution{HasAccess: true, IsAdmin: true, Source: SourceAdmin}
			}
		case errors.Is(err, ErrProfileNotFound):
		default:
			r.fail(ctx, user, fmt.Errorf("profile lookup: %w", err))
			return Resolution{Source: SourceError}
		}

		if r.claim && email != "" {
			r.claimByEmail(ctx, user.ID, email)
		}
	}

	sub, source, err := r.lookup(ctx, user.ID, email)
	if err != nil {
		r.fail(ctx, user, err)
		return Resolution{Source: SourceError}
	}
	if sub == nil {
		return Resolution{Source: SourceNone}
	}

	if !sub.ActiveAt(r.now()) {
		r.expire(ctx, sub)
		return Resolution{Subscription: sub, Source: source}
	}
	return Resolution{HasAccess: true, Subscription: sub, Source: source}
}

func (r *Resolver) lookup(ctx context.Context, userID, email string) (*Subscription, ResolutionSource, error) {
	if userID != "" {
		sub, err := r.timed(ctx, "latest_active_by_user_id", func() (*Subscription, error) {
			return r.storage.LatestActiveByUserID(ctx, userID)
		})
		if err == nil {
			return sub, SourceUserID, nil
		}
		if !errors.Is(err, ErrSubscriptionNotFound) {
			return nil, SourceError, fmt.Errorf("lookup by user id: %w", err)
		}
	}

	if email != "" {
		sub, err := r.timed(ctx, "latest_active_by_email", func() (*Subscription, error) {
			return r.storage.LatestActiveByEmail(ctx, email)
		})
		if err == nil {
			return sub, SourceEmail, nil
		}
		if !errors.Is(err, ErrSubscriptionNotFound) {
			return nil, SourceError, fmt.Errorf("lookup by email: %w", err)
		}
	}

	return nil, SourceNone, nil
}

func (r *Resolver) timed(_ context.Context, op string, fn func() (*Subscription, error)) (*Subscription, error) {
	start := r.now()
	sub, err := fn()
	if errors.Is(err, ErrSubscriptionNotFound) {
		r.metrics.RecordStorageOperation(op, r.now().Sub(start), nil)
	} else {
		r.metrics.RecordStorageOperation(op, r.now().Sub(start), err)
	}
	return sub, err
}

func (r *Resolver) profile(ctx context.Context, userID string) (*Profile, error) {
	if p, ok := r.cache.GetProfile(userID); ok {
		r.metrics.RecordCacheHit(profileCacheType)
		return p, nil
	}
	r.metrics.RecordCacheMiss(profileCacheType)

	start := r.now()
	p, err := r.storage.GetProfile(ctx, userID)
	if errors.Is(err, ErrProfileNotFound) {
		r.metrics.RecordStorageOperation("get_profile", r.now().Sub(start), nil)
		return nil, err
	}
	r.metrics.RecordStorageOperation("get_profile", r.now().Sub(start), err)
	if err != nil {
		return nil, err
	}

	if r.config.CacheConfig != nil && r.config.CacheConfig.Enabled {
		r.cache.SetProfile(userID, p, r.config.CacheConfig.ProfileTTL)
	}
	return p, nil
}

func (r *Resolver) claimByEmail(ctx context.Context, userID, email string) {
	n, err := r.storage.ClaimSubscriptions(ctx, userID, email)
	r.metrics.RecordClaim(n, err)
	if err != nil {
		r.logger.Warn("failed to claim subscriptions by email",
			Field{"user_id", userID},
			Field{"error", err.Error()},
		)
		return
	}
	if n > 0 {
		r.logger.Info("claimed subscriptions by email",
			Field{"user_id", userID},
			Field{"claimed", n},
		)
	}
}

func (r *Resolver) expire(ctx context.Context, sub *Subscription) {
	if sub.Status != StatusActive {
		return
	}
	err := r.storage.SetSubscriptionStatus(ctx, sub.ID, StatusExpired)
	r.metrics.RecordExpirationCorrection(err)
	if err != nil {
		r.logger.Error("failed to mark subscription expired",
			Field{"subscription_id", sub.ID},
			Field{"error", err.Error()},
		)
		return
	}
	sub.Status = StatusExpired
	r.logger.Info("subscription expired",
		Field{"subscription_id", sub.ID},
		Field{"kiwify_subscription_id", sub.KiwifySubscriptionID},
	)
}

func (r *Resolver) fail(ctx context.Context, user User, err error) {
	r.logger.Error("access resolution failed",
		Field{"user_id", user.ID},
		Field{"error", err.Error()},
	)
	if r.config.OnError != nil {
		r.config.OnError(ctx, user, err)
	}
}

// InvalidateProfile drops a cached profile, e.g. after an admin flag change
func (r *Resolver) InvalidateProfile(userID string) {
	r.cache.InvalidateProfile(userID)
}

// Storage returns the storage used by the resolver, including any circuit breaker wrapper
func (r *Resolver) Storage() Storage {
	return r.storage
}
