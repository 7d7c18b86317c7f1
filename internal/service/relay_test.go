package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelocator/locator-relay/internal/config"
	apperrors "github.com/devicelocator/locator-relay/internal/errors"
	"github.com/devicelocator/locator-relay/internal/model"
	"github.com/devicelocator/locator-relay/internal/particle"
	"github.com/devicelocator/locator-relay/internal/push"
	"github.com/devicelocator/locator-relay/internal/relay"
	"github.com/devicelocator/locator-relay/internal/repository"
	"github.com/devicelocator/locator-relay/internal/subscription"
)

type fakeStream struct {
	events chan model.TelemetryEvent
}

func (s *fakeStream) Events() <-chan model.TelemetryEvent { return s.events }
func (s *fakeStream) Err() error                          { return nil }
func (s *fakeStream) Close() error                        { return nil }

type fakeCloud struct {
	mu        sync.Mutex
	password  string
	openErr   error
	streams   []*fakeStream
	authCalls int
}

func (c *fakeCloud) Authenticate(ctx context.Context, username, password string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authCalls++
	if password != c.password {
		return "", apperrors.AuthFailed("400: User credentials are invalid")
	}
	return "access-token", nil
}

func (c *fakeCloud) OpenEventStream(ctx context.Context, selector, credential string) (particle.EventStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return nil, c.openErr
	}
	stream := &fakeStream{events: make(chan model.TelemetryEvent)}
	c.streams = append(c.streams, stream)
	return stream, nil
}

func (c *fakeCloud) stream(i int) *fakeStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[i]
}

type frameConn struct {
	mu     sync.Mutex
	frames []string
}

func (c *frameConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, string(data))
	return nil
}

func (c *frameConn) SetWriteDeadline(time.Time) error { return nil }

func (c *frameConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

type relayFixture struct {
	cloud    *fakeCloud
	registry *push.Registry
	manager  *subscription.Manager
	sessions *SessionService
	relay    *RelayService
}

func newRelayFixture(t *testing.T, cancelOnLogout bool) *relayFixture {
	t.Helper()
	return newRelayFixtureWithPolicy(t, cancelOnLogout, config.PolicyReplace)
}

func newRelayFixtureWithPolicy(t *testing.T, cancelOnLogout bool, policy string) *relayFixture {
	t.Helper()
	cloud := &fakeCloud{password: "correct"}
	registry := push.NewRegistry()
	manager := subscription.NewManager(cloud, relay.NewTransformer("locator"), registry, nil, subscription.Options{
		AuthTimeout:       time.Second,
		StreamOpenTimeout: time.Second,
		Policy:            policy,
	})
	t.Cleanup(manager.Close)

	sessions := NewSessionService(repository.NewMemorySessionRepository(time.Hour), "secret")
	return &relayFixture{
		cloud:    cloud,
		registry: registry,
		manager:  manager,
		sessions: sessions,
		relay:    NewRelayService(manager, sessions, cancelOnLogout),
	}
}

func (f *relayFixture) newSession(t *testing.T) (*model.Session, string) {
	t.Helper()
	session, token, err := f.sessions.Start(context.Background())
	require.NoError(t, err)
	return session, token
}

func TestRelayService_LoginForwardsTelemetry(t *testing.T) {
	f := newRelayFixture(t, true)
	conn := &frameConn{}
	f.registry.Register(conn)
	session, token := f.newSession(t)

	result, err := f.relay.Login(context.Background(), session, "user@example.com", "correct")
	require.NoError(t, err)

	assert.Equal(t, RouteMap, result.Redirect)
	assert.NoError(t, result.Err)
	assert.NotEmpty(t, result.SubscriptionID)
	assert.Equal(t, 1, f.manager.ActiveCount())

	stored, err := f.sessions.Load(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "access-token", stored.AuthToken)
	assert.Equal(t, result.SubscriptionID, stored.SubscriptionID)
	assert.Empty(t, stored.FlashMessage)

	f.cloud.stream(0).events <- model.TelemetryEvent{
		Name:        "hook-response/locator/520041000351353337353037/0",
		Data:        "39.04,-77.48,10",
		PublishedAt: "2017-03-30T05:00:46.167Z",
	}

	require.Eventually(t, func() bool { return len(conn.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.JSONEq(t,
		`{"id":"520041000351353337353037","pub":"2017-03-30T05:00:46.167Z","pos":{"lat":39.04,"lng":-77.48},"acc":10}`,
		conn.received()[0])
}

func TestRelayService_LoginInvalidCredentials(t *testing.T) {
	f := newRelayFixture(t, true)
	session, token := f.newSession(t)

	result, err := f.relay.Login(context.Background(), session, "user@example.com", "wrong")
	require.NoError(t, err)

	assert.Equal(t, RouteLogin, result.Redirect)
	assert.True(t, apperrors.Is(result.Err, apperrors.ErrCodeAuthFailed))
	assert.Equal(t, 0, f.manager.ActiveCount())
	assert.Empty(t, f.cloud.streams)

	stored, err := f.sessions.Load(context.Background(), token)
	require.NoError(t, err)
	assert.False(t, stored.Authenticated())
	assert.Empty(t, stored.SubscriptionID)
	assert.Equal(t, "Login failed, please try again. 400: User credentials are invalid", stored.FlashMessage)
}

func TestRelayService_LoginStreamFailure(t *testing.T) {
	f := newRelayFixture(t, true)
	f.cloud.openErr = apperrors.StreamOpenFailed("401: invalid_token")
	session, token := f.newSession(t)

	result, err := f.relay.Login(context.Background(), session, "user@example.com", "correct")
	require.NoError(t, err)

	assert.Equal(t, RouteLogout, result.Redirect)
	assert.True(t, apperrors.Is(result.Err, apperrors.ErrCodeStreamOpenFailed))

	stored, err := f.sessions.Load(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "Get stream failed, please try again.401: invalid_token", stored.FlashMessage)
	assert.Equal(t, "access-token", stored.AuthToken)

	logout, err := f.relay.Logout(context.Background(), stored)
	require.NoError(t, err)

	assert.Equal(t, RouteRoot, logout.Redirect)
	require.NotNil(t, logout.Session)
	assert.NotEqual(t, token, logout.Token)
	assert.Equal(t, "Get stream failed, please try again.401: invalid_token", logout.Session.FlashMessage)
	assert.False(t, logout.Session.Authenticated())

	gone, err := f.sessions.Load(context.Background(), token)
	require.NoError(t, err)
	assert.Nil(t, gone)

	carried, err := f.sessions.Load(context.Background(), logout.Token)
	require.NoError(t, err)
	assert.Equal(t, logout.Session.FlashMessage, carried.FlashMessage)
}

func TestRelayService_Logout(t *testing.T) {
	t.Run("cancels the session subscription", func(t *testing.T) {
		f := newRelayFixture(t, true)
		session, token := f.newSession(t)

		result, err := f.relay.Login(context.Background(), session, "user", "correct")
		require.NoError(t, err)
		sub := f.manager.Get(result.SubscriptionID)
		require.NotNil(t, sub)

		logout, err := f.relay.Logout(context.Background(), session)
		require.NoError(t, err)

		assert.True(t, logout.Cancelled)
		assert.Nil(t, logout.Session)
		<-sub.Done()
		assert.Equal(t, model.EndReasonLogout, sub.EndReason())

		gone, err := f.sessions.Load(context.Background(), token)
		require.NoError(t, err)
		assert.Nil(t, gone)
	})

	t.Run("leaves the subscription running when configured", func(t *testing.T) {
		f := newRelayFixture(t, false)
		session, _ := f.newSession(t)

		result, err := f.relay.Login(context.Background(), session, "user", "correct")
		require.NoError(t, err)

		logout, err := f.relay.Logout(context.Background(), session)
		require.NoError(t, err)

		assert.False(t, logout.Cancelled)
		assert.NotNil(t, f.manager.Get(result.SubscriptionID))
	})

	t.Run("unauthenticated session", func(t *testing.T) {
		f := newRelayFixture(t, true)
		session, _ := f.newSession(t)

		logout, err := f.relay.Logout(context.Background(), session)
		require.NoError(t, err)
		assert.Equal(t, RouteRoot, logout.Redirect)
		assert.False(t, logout.Cancelled)
	})
}

func TestRelayService_ReloginStopsSessionsPreviousStream(t *testing.T) {
	f := newRelayFixtureWithPolicy(t, true, config.PolicyConcurrent)
	session, _ := f.newSession(t)
	other, _ := f.newSession(t)

	otherLogin, err := f.relay.Login(context.Background(), other, "other@example.com", "correct")
	require.NoError(t, err)
	first, err := f.relay.Login(context.Background(), session, "user@example.com", "correct")
	require.NoError(t, err)
	require.Equal(t, 2, f.manager.ActiveCount())

	second, err := f.relay.Login(context.Background(), session, "user@example.com", "correct")
	require.NoError(t, err)
	require.Equal(t, RouteMap, second.Redirect)
	assert.NotEqual(t, first.SubscriptionID, second.SubscriptionID)

	require.Eventually(t, func() bool {
		return f.manager.Get(first.SubscriptionID) == nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, f.manager.ActiveCount())
	assert.NotNil(t, f.manager.Get(otherLogin.SubscriptionID))

	logout, err := f.relay.Logout(context.Background(), session)
	require.NoError(t, err)
	assert.True(t, logout.Cancelled)

	require.Eventually(t, func() bool {
		return f.manager.ActiveCount() == 1
	}, time.Second, 5*time.Millisecond)
	assert.NotNil(t, f.manager.Get(otherLogin.SubscriptionID))
}
