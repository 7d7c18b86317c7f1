package particle

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/devicelocator/locator-relay/internal/errors"
)

func TestClient_Authenticate(t *testing.T) {
	t.Run("returns access token on success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/oauth/token", r.URL.Path)
			assert.Equal(t, http.MethodPost, r.Method)

			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "particle", user)
			assert.Equal(t, "particle", pass)

			require.NoError(t, r.ParseForm())
			assert.Equal(t, "password", r.PostForm.Get("grant_type"))
			assert.Equal(t, "user@example.com", r.PostForm.Get("username"))
			assert.Equal(t, "hunter2", r.PostForm.Get("password"))

			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"token_type":"bearer","access_token":"abc123","expires_in":7776000}`)
		}))
		defer server.Close()

		client := NewClient(server.URL, "particle", "particle")
		token, err := client.Authenticate(context.Background(), "user@example.com", "hunter2")

		require.NoError(t, err)
		assert.Equal(t, "abc123", token)
	})

	t.Run("maps rejection to AUTH_FAILED with upstream reason", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant","error_description":"User credentials are invalid"}`)
		}))
		defer server.Close()

		client := NewClient(server.URL, "particle", "particle")
		_, err := client.Authenticate(context.Background(), "user@example.com", "wrong")

		require.Error(t, err)
		appErr, ok := apperrors.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeAuthFailed, appErr.Code)
		assert.Equal(t, "400: User credentials are invalid", appErr.Message)
	})

	t.Run("empty token is a failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"token_type":"bearer"}`)
		}))
		defer server.Close()

		client := NewClient(server.URL, "particle", "particle")
		_, err := client.Authenticate(context.Background(), "u", "p")

		assert.True(t, apperrors.Is(err, apperrors.ErrCodeAuthFailed))
	})

	t.Run("honours context deadline", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer server.Close()

		client := NewClient(server.URL, "particle", "particle")
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := client.Authenticate(ctx, "u", "p")

		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestClient_OpenEventStream(t *testing.T) {
	t.Run("uses bearer credential on the mine endpoint", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/devices/events", r.URL.Path)
			assert.Equal(t, "Bearer abc123", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, ":ok\n\n")
		}))
		defer server.Close()

		client := NewClient(server.URL, "particle", "particle")
		stream, err := client.OpenEventStream(context.Background(), "mine", "abc123")
		require.NoError(t, err)
		defer stream.Close()

		for range stream.Events() {
		}
		assert.True(t, Ended(stream.Err()))
	})

	t.Run("maps rejection to STREAM_OPEN_FAILED", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"invalid_token","error_description":"The access token provided is invalid."}`)
		}))
		defer server.Close()

		client := NewClient(server.URL, "particle", "particle")
		_, err := client.OpenEventStream(context.Background(), "mine", "expired")

		require.Error(t, err)
		appErr, ok := apperrors.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeStreamOpenFailed, appErr.Code)
		assert.Equal(t, "401: The access token provided is invalid.", appErr.Message)
	})
}

func TestEventsPath(t *testing.T) {
	assert.Equal(t, "/v1/devices/events", eventsPath("mine"))
	assert.Equal(t, "/v1/devices/events", eventsPath(""))
	assert.Equal(t, "/v1/devices/520041/events", eventsPath("520041"))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "404: Not Found", describe(http.StatusNotFound, ""))
	assert.Equal(t, "400: bad", describe(http.StatusBadRequest, "bad"))
}
