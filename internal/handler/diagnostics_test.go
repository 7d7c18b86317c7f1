package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

type fakePush struct {
	active bool
	sent   []any
}

func (p *fakePush) Send(message any) bool {
	if !p.active {
		return false
	}
	p.sent = append(p.sent, message)
	return true
}

func (p *fakePush) Active() bool { return p.active }

type fakeStats struct{}

func (fakeStats) ActiveCount() int { return 1 }
func (fakeStats) Policy() string   { return "replace" }

type staticIP string

func (s staticIP) ExternalIP(ctx context.Context) string { return string(s) }

func TestDiagnosticsHandler_Event(t *testing.T) {
	t.Run("pushes the sample message", func(t *testing.T) {
		push := &fakePush{active: true}
		h := NewDiagnosticsHandler(push, fakeStats{}, staticIP("1.2.3.4"), nil)

		rec := httptest.NewRecorder()
		h.Event(rec, httptest.NewRequest(http.MethodGet, "/event", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []any{SampleMessage}, push.sent)
		assert.Equal(t, "32001a001147343339383037", gjson.Get(rec.Body.String(), "message.id").String())
		assert.Equal(t, int64(3439), gjson.Get(rec.Body.String(), "message.acc").Int())
	})

	t.Run("no push connection", func(t *testing.T) {
		h := NewDiagnosticsHandler(&fakePush{}, fakeStats{}, staticIP("1.2.3.4"), nil)

		rec := httptest.NewRecorder()
		h.Event(rec, httptest.NewRequest(http.MethodGet, "/event", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "TRANSPORT_UNAVAILABLE", gjson.Get(rec.Body.String(), "code").String())
	})
}

func TestDiagnosticsHandler_IP(t *testing.T) {
	h := NewDiagnosticsHandler(&fakePush{}, fakeStats{}, staticIP("35.188.10.20"), nil)

	rec := httptest.NewRecorder()
	h.IP(rec, httptest.NewRequest(http.MethodGet, "/ip", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "35.188.10.20", rec.Body.String())
}

func TestDiagnosticsHandler_Health(t *testing.T) {
	t.Run("all checks pass", func(t *testing.T) {
		h := NewDiagnosticsHandler(&fakePush{active: true}, fakeStats{}, staticIP(""), map[string]HealthCheck{
			"redis": func(ctx context.Context) error { return nil },
		})

		rec := httptest.NewRecorder()
		h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		body := rec.Body.String()
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", gjson.Get(body, "status").String())
		assert.True(t, gjson.Get(body, "push.connected").Bool())
		assert.Equal(t, int64(1), gjson.Get(body, "subscriptions.active").Int())
		assert.Equal(t, "replace", gjson.Get(body, "subscriptions.policy").String())
		assert.Equal(t, "ok", gjson.Get(body, "checks.redis").String())
	})

	t.Run("failing check degrades", func(t *testing.T) {
		h := NewDiagnosticsHandler(&fakePush{}, fakeStats{}, staticIP(""), map[string]HealthCheck{
			"database": func(ctx context.Context) error { return errors.New("connection refused") },
		})

		rec := httptest.NewRecorder()
		h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		body := rec.Body.String()
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "degraded", gjson.Get(body, "status").String())
		assert.Equal(t, "unavailable", gjson.Get(body, "checks.database").String())
	})
}
