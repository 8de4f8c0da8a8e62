package accesscode

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mihaimyh/goaccess/pkg/access"
)

var (
	// ErrAccessDenied is returned when the user has no paid access and is not an admin
	ErrAccessDenied = errors.New("active subscription required")

	// ErrGenerationExhausted is returned when every generated code collided
	ErrGenerationExhausted = errors.New("could not generate a unique access code")
)

const (
	defaultMaxAttempts = 5
)

// Resolver is the subset of access.Resolver used to gate issuance
type Resolver interface {
	Resolve(ctx context.Context, user access.User) access.Resolution
}

// Token is an issued code as returned to the caller
type Token struct {
	Code       string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
	IsExisting bool      `json:"is_existing"`
}

// Config configures the service
type Config struct {
	// Validity is how long a new code stays valid (default: 6 months)
	Validity time.Duration

	// MaxAttempts bounds collision retries (default: 5)
	MaxAttempts int

	// Logger is used for structured logging (default: access.NoopLogger)
	Logger access.Logger

	// Now returns the current time (default: time.Now)
	Now func() time.Time

	// Random is the entropy source (default: crypto/rand.Reader)
	Random io.Reader
}

// Service issues and validates access codes
type Service struct {
	resolver    Resolver
	store       access.AccessCodeStore
	validity    time.Duration
	maxAttempts int
	logger      access.Logger
	now         func() time.Time
	random      io.Reader
}

// NewService creates a new access code service
func NewService(resolver Resolver, store access.AccessCodeStore, config Config) (*Service, error) {
	if resolver == nil || store == nil {
		return nil, access.ErrStorageUnavailable
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaultMaxAttempts
	}
	if config.Logger == nil {
		config.Logger = &access.NoopLogger{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Random == nil {
		config.Random = rand.Reader
	}
	return &Service{
		resolver:    resolver,
		store:       store,
		validity:    config.Validity,
		maxAttempts: config.MaxAttempts,
		logger:      config.Logger,
		now:         config.Now,
		random:      config.Random,
	}, nil
}

func (s *Service) expiry(now time.Time) time.Time {
	if s.validity > 0 {
		return now.Add(s.validity)
	}
	return now.AddDate(0, 6, 0)
}

// Issue returns the user's current code, creating one if none is usable.
// Returns ErrAccessDenied when the user has neither paid access nor admin rights.
func (s *Service) Issue(ctx context.Context, user access.User) (*Token, error) {
	if user.ID == "" {
		return nil, access.ErrInvalidUser
	}

	res := s.resolver.Resolve(ctx, user)
	if !res.HasAccess && !res.IsAdmin {
		return nil, ErrAccessDenied
	}

	now := s.now().UTC()
	existing, err := s.store.FindActiveAccessCode(ctx, user.ID, now)
	switch {
	case err == nil:
		return &Token{Code: existing.Code, ExpiresAt: existing.ExpiresAt, IsExisting: true}, nil
	case !errors.Is(err, access.ErrAccessCodeNotFound):
		return nil, fmt.Errorf("find access code: %w", err)
	}

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		code, err := Generate(s.random)
		if err != nil {
			return nil, err
		}
		row := &access.AccessCode{
			Code:      code,
			UserID:    user.ID,
			Email:     access.NormalizeEmail(user.Email),
			ExpiresAt: s.expiry(now),
			IsActive:  true,
			CreatedAt: now,
		}
		err = s.store.InsertAccessCode(ctx, row)
		if errors.Is(err, access.ErrAccessCodeExists) {
			s.logger.Debug("access code collision, retrying", access.Field{Key: "attempt", Value: attempt + 1})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert access code: %w", err)
		}

		s.logger.Info("access code issued",
			access.Field{Key: "user_id", Value: user.ID},
			access.Field{Key: "expires_at", Value: row.ExpiresAt},
		)
		return &Token{Code: code, ExpiresAt: row.ExpiresAt}, nil
	}
	return nil, ErrGenerationExhausted
}

// Validate reports whether code exists, is active and has not expired.
// Malformed input and lookup failures are reported as invalid.
func (s *Service) Validate(ctx context.Context, code string) bool {
	code = Normalize(code)
	if !WellFormed(code) {
		return false
	}

	row, err := s.store.GetAccessCode(ctx, code)
	if err != nil {
		if !errors.Is(err, access.ErrAccessCodeNotFound) {
			s.logger.Error("access code lookup failed", access.Field{Key: "error", Value: err.Error()})
		}
		return false
	}
	return row.UsableAt(s.now())
}
