package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelocator/locator-relay/internal/repository"
	"github.com/devicelocator/locator-relay/internal/util"
)

func TestSessionService(t *testing.T) {
	ctx := context.Background()
	svc := NewSessionService(repository.NewMemorySessionRepository(time.Hour), "test-secret")

	t.Run("start stores a session keyed by the token hmac", func(t *testing.T) {
		session, token, err := svc.Start(ctx)
		require.NoError(t, err)

		assert.Len(t, token, 64)
		assert.Equal(t, util.HmacSHA256("test-secret", token), session.ID)
		assert.False(t, session.Authenticated())

		loaded, err := svc.Load(ctx, token)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, session.ID, loaded.ID)
	})

	t.Run("session id is not a valid cookie token", func(t *testing.T) {
		session, _, err := svc.Start(ctx)
		require.NoError(t, err)

		loaded, err := svc.Load(ctx, session.ID)
		assert.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("empty token loads nothing", func(t *testing.T) {
		loaded, err := svc.Load(ctx, "")
		assert.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("save then destroy", func(t *testing.T) {
		session, token, err := svc.Start(ctx)
		require.NoError(t, err)

		session.AuthToken = "credential"
		require.NoError(t, svc.Save(ctx, session))

		loaded, err := svc.Load(ctx, token)
		require.NoError(t, err)
		assert.True(t, loaded.Authenticated())

		require.NoError(t, svc.Destroy(ctx, session))
		loaded, err = svc.Load(ctx, token)
		assert.NoError(t, err)
		assert.Nil(t, loaded)
	})
}
