package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/devicelocator/locator-relay/internal/config"
	apperrors "github.com/devicelocator/locator-relay/internal/errors"
	"github.com/devicelocator/locator-relay/internal/httputil"
	"github.com/devicelocator/locator-relay/internal/model"
)

// SampleMessage is pushed by GET /event to check the browser side without a
// device.
var SampleMessage = model.CoordinateMessage{
	ID:  "32001a001147343339383037",
	Pub: "2017-03-30T05:00:46.167Z",
	Pos: model.Position{Lat: 39.043756699999996, Lng: -77.4874416},
	Acc: 3439,
}

type PushChannel interface {
	Send(message any) bool
	Active() bool
}

type SubscriptionStats interface {
	ActiveCount() int
	Policy() string
}

// HealthCheck probes one optional backing service.
type HealthCheck func(ctx context.Context) error

type DiagnosticsHandler struct {
	push          PushChannel
	subscriptions SubscriptionStats
	ip            ExternalIPSource
	checks        map[string]HealthCheck
}

func NewDiagnosticsHandler(
	push PushChannel,
	subscriptions SubscriptionStats,
	ip ExternalIPSource,
	checks map[string]HealthCheck,
) *DiagnosticsHandler {
	return &DiagnosticsHandler{
		push:          push,
		subscriptions: subscriptions,
		ip:            ip,
		checks:        checks,
	}
}

func (h *DiagnosticsHandler) Event(w http.ResponseWriter, r *http.Request) {
	if !h.push.Send(SampleMessage) {
		httputil.WriteError(w, apperrors.TransportUnavailable())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"delivered": true,
		"message":   SampleMessage,
	})
}

func (h *DiagnosticsHandler) IP(w http.ResponseWriter, r *http.Request) {
	ip := h.ip.ExternalIP(r.Context())
	log.Info().Str("externalIp", ip).Msg("external ip requested")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(ip))
}

func (h *DiagnosticsHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			log.Warn().Err(err).Str("check", name).Msg("health check failed")
			checks[name] = "unavailable"
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UnixMilli(),
		"push": map[string]any{
			"connected": h.push.Active(),
		},
		"subscriptions": map[string]any{
			"active": h.subscriptions.ActiveCount(),
			"policy": h.subscriptions.Policy(),
		},
		"checks": checks,
	})
}
