package accesscode

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/goaccess/pkg/access"
	"github.com/mihaimyh/goaccess/storage/memory"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type stubResolver struct {
	res access.Resolution
}

func (s stubResolver) Resolve(context.Context, access.User) access.Resolution {
	return s.res
}

func newTestService(t *testing.T, res access.Resolution, store access.AccessCodeStore) *Service {
	t.Helper()
	svc, err := NewService(stubResolver{res: res}, store, Config{Now: func() time.Time { return testNow }})
	require.NoError(t, err)
	return svc
}

var testUser = access.User{ID: "user-1", Email: "Buyer@Example.com"}

func TestGenerate_Format(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := Generate(rand.Reader)
		require.NoError(t, err)
		require.True(t, WellFormed(code), code)
		for _, c := range strings.ReplaceAll(code[len("SOPH-"):], "-", "") {
			assert.True(t, strings.ContainsRune(Alphabet, c), "unexpected character %q in %s", c, code)
		}
	}
	assert.NotContains(t, Alphabet, "0")
	assert.NotContains(t, Alphabet, "O")
	assert.NotContains(t, Alphabet, "1")
	assert.NotContains(t, Alphabet, "I")
	assert.NotContains(t, Alphabet, "L")
}

func TestGenerate_ReaderError(t *testing.T) {
	_, err := Generate(strings.NewReader(""))
	assert.Error(t, err)
}

func TestIssue_NewCode(t *testing.T) {
	store := memory.New()
	svc := newTestService(t, access.Resolution{HasAccess: true}, store)

	tok, err := svc.Issue(context.Background(), testUser)
	require.NoError(t, err)
	assert.True(t, WellFormed(tok.Code))
	assert.False(t, tok.IsExisting)
	assert.Equal(t, time.Date(2024, 12, 1, 12, 0, 0, 0, time.UTC), tok.ExpiresAt)

	row, err := store.GetAccessCode(context.Background(), tok.Code)
	require.NoError(t, err)
	assert.Equal(t, "user-1", row.UserID)
	assert.Equal(t, "buyer@example.com", row.Email)
	assert.True(t, row.IsActive)
}

func TestIssue_ReusesExistingCode(t *testing.T) {
	store := memory.New()
	svc := newTestService(t, access.Resolution{HasAccess: true}, store)

	first, err := svc.Issue(context.Background(), testUser)
	require.NoError(t, err)

	second, err := svc.Issue(context.Background(), testUser)
	require.NoError(t, err)
	assert.True(t, second.IsExisting)
	assert.Equal(t, first.Code, second.Code)
	assert.Equal(t, first.ExpiresAt, second.ExpiresAt)
}

func TestIssue_ExpiredCodeIsReplaced(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.InsertAccessCode(context.Background(), &access.AccessCode{
		Code:      "SOPH-AAAA-BBBB",
		UserID:    "user-1",
		ExpiresAt: testNow.Add(-time.Hour),
		IsActive:  true,
	}))
	svc := newTestService(t, access.Resolution{HasAccess: true}, store)

	tok, err := svc.Issue(context.Background(), testUser)
	require.NoError(t, err)
	assert.False(t, tok.IsExisting)
	assert.NotEqual(t, "SOPH-AAAA-BBBB", tok.Code)
}

func TestIssue_AdminWithoutSubscription(t *testing.T) {
	svc := newTestService(t, access.Resolution{HasAccess: true, IsAdmin: true}, memory.New())

	_, err := svc.Issue(context.Background(), testUser)
	assert.NoError(t, err)
}

func TestIssue_Denied(t *testing.T) {
	store := memory.New()
	svc := newTestService(t, access.Resolution{}, store)

	_, err := svc.Issue(context.Background(), testUser)
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = store.FindActiveAccessCode(context.Background(), "user-1", testNow)
	assert.ErrorIs(t, err, access.ErrAccessCodeNotFound)
}

func TestIssue_InvalidUser(t *testing.T) {
	svc := newTestService(t, access.Resolution{HasAccess: true}, memory.New())

	_, err := svc.Issue(context.Background(), access.User{})
	assert.ErrorIs(t, err, access.ErrInvalidUser)
}

// collidingStore rejects the first n inserts as duplicates
type collidingStore struct {
	*memory.Storage
	collisions int
	inserts    int
}

func (c *collidingStore) InsertAccessCode(ctx context.Context, code *access.AccessCode) error {
	c.inserts++
	if c.inserts <= c.collisions {
		return access.ErrAccessCodeExists
	}
	return c.Storage.InsertAccessCode(ctx, code)
}

func TestIssue_RetriesOnCollision(t *testing.T) {
	store := &collidingStore{Storage: memory.New(), collisions: 2}
	svc := newTestService(t, access.Resolution{HasAccess: true}, store)

	tok, err := svc.Issue(context.Background(), testUser)
	require.NoError(t, err)
	assert.True(t, WellFormed(tok.Code))
	assert.Equal(t, 3, store.inserts)
}

func TestIssue_CollisionsExhausted(t *testing.T) {
	store := &collidingStore{Storage: memory.New(), collisions: 100}
	svc := newTestService(t, access.Resolution{HasAccess: true}, store)

	_, err := svc.Issue(context.Background(), testUser)
	assert.ErrorIs(t, err, ErrGenerationExhausted)
	assert.Equal(t, defaultMaxAttempts, store.inserts)
}

func TestValidate(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.InsertAccessCode(ctx, &access.AccessCode{
		Code: "SOPH-GOOD-2345", UserID: "u", ExpiresAt: testNow.Add(time.Hour), IsActive: true,
	}))
	require.NoError(t, store.InsertAccessCode(ctx, &access.AccessCode{
		Code: "SOPH-OLDX-2345", UserID: "u", ExpiresAt: testNow.Add(-time.Hour), IsActive: true,
	}))
	require.NoError(t, store.InsertAccessCode(ctx, &access.AccessCode{
		Code: "SOPH-OFFX-2345", UserID: "u", ExpiresAt: testNow.Add(time.Hour), IsActive: false,
	}))
	svc := newTestService(t, access.Resolution{}, store)

	tests := []struct {
		code string
		want bool
	}{
		{"SOPH-GOOD-2345", true},
		{"  soph-good-2345 ", true},
		{"SOPH-OLDX-2345", false},
		{"SOPH-OFFX-2345", false},
		{"SOPH-AB12-CD34", false},
		{"SOPH-GOOD2345", false},
		{"", false},
		{"XXXX-GOOD-2345", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.Validate(ctx, tt.code))
		})
	}
}

type brokenCodeStore struct {
	*memory.Storage
}

func (brokenCodeStore) GetAccessCode(context.Context, string) (*access.AccessCode, error) {
	return nil, errors.New("timeout")
}

func TestValidate_LookupErrorIsInvalid(t *testing.T) {
	svc := newTestService(t, access.Resolution{}, brokenCodeStore{memory.New()})
	assert.False(t, svc.Validate(context.Background(), "SOPH-GOOD-2345"))
}
