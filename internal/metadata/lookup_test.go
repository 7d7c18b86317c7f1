package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/devicelocator/locator-relay/internal/errors"
)

func TestLookup_ExternalIP(t *testing.T) {
	t.Run("returns the metadata value and caches it", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			assert.Equal(t, "Google", r.Header.Get("Metadata-Flavor"))
			w.Write([]byte("35.188.10.20\n"))
		}))
		defer server.Close()

		lookup := NewLookup(server.URL, time.Minute)

		assert.Equal(t, "35.188.10.20", lookup.ExternalIP(context.Background()))
		assert.Equal(t, "35.188.10.20", lookup.ExternalIP(context.Background()))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("non-200 falls back to localhost and is not cached", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()

		lookup := NewLookup(server.URL, time.Minute)

		assert.Equal(t, "localhost", lookup.ExternalIP(context.Background()))
		assert.Equal(t, "localhost", lookup.ExternalIP(context.Background()))
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("unreachable server falls back to localhost", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		lookup := NewLookup(url, time.Minute)
		assert.Equal(t, "localhost", lookup.ExternalIP(context.Background()))
	})

	t.Run("empty body is a lookup failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		_, err := NewLookup(server.URL, time.Minute).lookup(context.Background())
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeMetadataLookup))
	})
}
