package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/goaccess/pkg/access"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

var testUser = access.User{ID: "8f2d8c7e-user", Email: "buyer@example.com"}

func newTestVerifier(t *testing.T, now time.Time) *Verifier {
	t.Helper()
	v, err := NewVerifier(Config{Secret: testSecret, Now: func() time.Time { return now }})
	require.NoError(t, err)
	return v
}

func TestVerifier_RoundTrip(t *testing.T) {
	v := newTestVerifier(t, time.Now())

	tok, err := v.Sign(testUser, time.Hour)
	require.NoError(t, err)

	got, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, testUser, got)
}

func TestVerifier_Expired(t *testing.T) {
	issued := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tok, err := newTestVerifier(t, issued).Sign(testUser, time.Hour)
	require.NoError(t, err)

	_, err = newTestVerifier(t, issued.Add(2*time.Hour)).Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifier_WrongSecret(t *testing.T) {
	other, err := NewVerifier(Config{Secret: "another-secret"})
	require.NoError(t, err)
	tok, err := other.Sign(testUser, time.Hour)
	require.NoError(t, err)

	_, err = newTestVerifier(t, time.Now()).Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifier_RejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   testUser.ID,
		Audience:  jwt.ClaimStrings{DefaultAudience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = newTestVerifier(t, time.Now()).Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifier_RequiresAudience(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   testUser.ID,
		Audience:  jwt.ClaimStrings{"anon"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = newTestVerifier(t, time.Now()).Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifier_Empty(t *testing.T) {
	_, err := newTestVerifier(t, time.Now()).Verify("  ")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	_, err := NewVerifier(Config{})
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("Bearer abc.def")
	assert.True(t, ok)
	assert.Equal(t, "abc.def", tok)

	tok, ok = BearerToken("bearer   xyz ")
	assert.True(t, ok)
	assert.Equal(t, "xyz", tok)

	_, ok = BearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = BearerToken("Bearer ")
	assert.False(t, ok)
}

func TestMiddleware(t *testing.T) {
	v := newTestVerifier(t, time.Now())
	tok, err := v.Sign(testUser, time.Hour)
	require.NoError(t, err)

	var seen access.User
	var authed bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, authed = UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/access", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	v.Middleware(true)(next).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, authed)
	assert.Equal(t, testUser, seen)

	rec = httptest.NewRecorder()
	v.Middleware(true)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/access", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"missing bearer token"}`, rec.Body.String())

	authed = true
	rec = httptest.NewRecorder()
	v.Middleware(false)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, authed)
}
