// Package auth verifies BaaS-issued bearer tokens and carries the
// authenticated user through request contexts.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mihaimyh/goaccess/pkg/access"
)

var (
	// ErrMissingToken is returned when a request carries no bearer token
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidToken is returned for tokens that fail verification
	ErrInvalidToken = errors.New("invalid token")
)

// DefaultAudience is the audience of signed-in users
const DefaultAudience = "authenticated"

// Claims are the token claims the service relies on
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Config configures token verification
type Config struct {
	// Secret is the HS256 signing secret shared with the auth provider (required)
	Secret string

	// Audience is the required "aud" claim (default: "authenticated")
	Audience string

	// Issuer is the required "iss" claim; empty disables the check
	Issuer string

	// Leeway tolerates clock skew on exp/nbf/iat (default: 30 seconds)
	Leeway time.Duration

	// Now returns the current time (default: time.Now)
	Now func() time.Time
}

// Verifier validates HS256 tokens
type Verifier struct {
	secret []byte
	config Config
	parser *jwt.Parser
}

// NewVerifier creates a token verifier
func NewVerifier(config Config) (*Verifier, error) {
	if config.Secret == "" {
		return nil, fmt.Errorf("auth: secret is required")
	}
	if config.Audience == "" {
		config.Audience = DefaultAudience
	}
	if config.Leeway == 0 {
		config.Leeway = 30 * time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(config.Audience),
		jwt.WithLeeway(config.Leeway),
		jwt.WithTimeFunc(config.Now),
		jwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}

	return &Verifier{
		secret: []byte(config.Secret),
		config: config,
		parser: jwt.NewParser(opts...),
	}, nil
}

// Verify parses tokenStr and returns the user it identifies
func (v *Verifier) Verify(tokenStr string) (access.User, error) {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return access.User{}, ErrMissingToken
	}

	var claims Claims
	tok, err := v.parser.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !tok.Valid {
		return access.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return access.User{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return access.User{ID: claims.Subject, Email: claims.Email}, nil
}

// Sign issues a token for user, valid for ttl. Used by demos and tests;
// production tokens come from the auth provider.
func (v *Verifier) Sign(user access.User, ttl time.Duration) (string, error) {
	now := v.config.Now()
	claims := Claims{
		Email: user.Email,
		Role:  DefaultAudience,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{v.config.Audience},
			Issuer:    v.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < len("bearer ") || !strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(header[len("bearer "):])
	return tok, tok != ""
}
