package access_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/goaccess/pkg/access"
	"github.com/mihaimyh/goaccess/storage/memory"
)

func TestSessionManager_Lifecycle(t *testing.T) {
	store := memory.New()
	seedSubscription(t, store, "sub_1", nil)
	m := access.NewSessionManager(newTestResolver(t, store, access.Config{}))

	var seen []*access.Session
	unsubscribe := m.Subscribe(func(s *access.Session) { seen = append(seen, s) })

	s := m.Start(context.Background(), access.User{ID: testUserID, Email: testEmail})
	require.NotNil(t, s)
	assert.True(t, s.HasAccess())
	assert.False(t, s.IsAdmin())
	assert.True(t, s.CanUseMentoring())
	require.NotNil(t, s.Subscription())
	assert.Same(t, s, m.Current())

	m.End()
	assert.Nil(t, m.Current())
	require.Len(t, seen, 2)
	assert.Same(t, s, seen[0])
	assert.Nil(t, seen[1])

	unsubscribe()
	unsubscribe()
	m.Start(context.Background(), access.User{ID: testUserID, Email: testEmail})
	assert.Len(t, seen, 2)
}

func TestSessionManager_HandlersRunInOrder(t *testing.T) {
	m := access.NewSessionManager(newTestResolver(t, memory.New(), access.Config{}))

	var order []string
	m.Subscribe(func(*access.Session) { order = append(order, "first") })
	m.Subscribe(func(*access.Session) { order = append(order, "second") })
	m.Subscribe(func(s *access.Session) {
		// the new session is already current while handlers run
		assert.Same(t, s, m.Current())
		order = append(order, "third")
	})

	m.Start(context.Background(), access.User{ID: testUserID, Email: testEmail})
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestSessionManager_HandlerCanEndSession(t *testing.T) {
	m := access.NewSessionManager(newTestResolver(t, memory.New(), access.Config{}))

	var seen []*access.Session
	m.Subscribe(func(s *access.Session) {
		seen = append(seen, s)
		if s != nil && !s.HasAccess() {
			m.End()
		}
	})

	done := make(chan *access.Session)
	go func() {
		done <- m.Start(context.Background(), access.User{ID: testUserID, Email: testEmail})
	}()

	var s *access.Session
	select {
	case s = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return when a handler ended the session")
	}

	assert.Nil(t, m.Current())
	require.Len(t, seen, 2)
	assert.Same(t, s, seen[0])
	assert.Nil(t, seen[1])
}

func TestSessionManager_Refresh(t *testing.T) {
	store := memory.New()
	m := access.NewSessionManager(newTestResolver(t, store, access.Config{}))

	assert.Nil(t, m.Refresh(context.Background()))

	s := m.Start(context.Background(), access.User{ID: testUserID, Email: testEmail})
	assert.False(t, s.HasAccess())

	seedSubscription(t, store, "sub_late", nil)
	s = m.Refresh(context.Background())
	require.NotNil(t, s)
	assert.True(t, s.HasAccess())
}

func TestSession_SubscriptionIsCopy(t *testing.T) {
	store := memory.New()
	seedSubscription(t, store, "sub_1", nil)
	m := access.NewSessionManager(newTestResolver(t, store, access.Config{}))

	s := m.Start(context.Background(), access.User{ID: testUserID, Email: testEmail})
	sub := s.Subscription()
	sub.Status = access.StatusCancelled

	assert.Equal(t, access.StatusActive, s.Subscription().Status)
}
