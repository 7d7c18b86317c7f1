package handler

import (
	"context"
	"embed"
	"html/template"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/devicelocator/locator-relay/internal/audit"
	apperrors "github.com/devicelocator/locator-relay/internal/errors"
	"github.com/devicelocator/locator-relay/internal/httputil"
	"github.com/devicelocator/locator-relay/internal/metrics"
	"github.com/devicelocator/locator-relay/internal/middleware"
	"github.com/devicelocator/locator-relay/internal/model"
	"github.com/devicelocator/locator-relay/internal/service"
)

//go:embed templates/*.html
var templateFiles embed.FS

var pageTemplates = template.Must(template.ParseFS(templateFiles, "templates/*.html"))

// ExternalIPSource resolves the address the browser should open the push
// channel against.
type ExternalIPSource interface {
	ExternalIP(ctx context.Context) string
}

type PageConfig struct {
	PushPort  int
	PushRoute string
	MapAPIKey string
	Secure    bool
}

type pageData struct {
	Title      string
	Flash      string
	CSRFToken  string
	ExternalIP string
	PushPort   int
	PushRoute  string
	MapAPIKey  string
}

type PagesHandler struct {
	relay    *service.RelayService
	sessions *service.SessionService
	ip       ExternalIPSource
	cfg      PageConfig
}

func NewPagesHandler(
	relay *service.RelayService,
	sessions *service.SessionService,
	ip ExternalIPSource,
	cfg PageConfig,
) *PagesHandler {
	return &PagesHandler{
		relay:    relay,
		sessions: sessions,
		ip:       ip,
		cfg:      cfg,
	}
}

func (h *PagesHandler) Index(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, service.RouteLogin, http.StatusFound)
}

func (h *PagesHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	h.render(w, r, session, "login", pageData{
		Title:     "Log in",
		CSRFToken: middleware.CSRFToken(r.Context()),
	})
}

func (h *PagesHandler) Login(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	result, err := h.relay.Login(r.Context(), session, username, password)
	if err != nil {
		log.Error().Err(err).Msg("login: session store failed")
		httputil.WriteError(w, apperrors.Internal("Session unavailable").WithCause(err))
		return
	}

	event := audit.Event{
		Type:           audit.EventLoginSuccess,
		SessionID:      session.ID,
		SubscriptionID: result.SubscriptionID,
		Username:       username,
	}
	outcome := metrics.LoginSucceeded
	if result.Err != nil {
		event.Type = audit.EventLoginFailure
		if result.Redirect == service.RouteLogout {
			event.Type = audit.EventStreamFailure
		}
		event.Details = map[string]interface{}{"code": string(apperrors.GetCode(result.Err))}
		outcome = string(apperrors.GetCode(result.Err))
	}
	metrics.LoginAttempts.WithLabelValues(outcome).Inc()
	audit.LogFromRequest(r, event)

	http.Redirect(w, r, result.Redirect, http.StatusFound)
}

func (h *PagesHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())

	result, err := h.relay.Logout(r.Context(), session)
	if err != nil {
		log.Error().Err(err).Str("sessionId", session.ID).Msg("logout failed")
	}

	if result.Session != nil {
		middleware.SetSessionCookie(w, result.Token, h.cfg.Secure)
	} else {
		middleware.ClearSessionCookie(w)
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventLogout,
		SessionID: session.ID,
		Details:   map[string]interface{}{"subscriptionCancelled": result.Cancelled},
	})

	http.Redirect(w, r, result.Redirect, http.StatusFound)
}

func (h *PagesHandler) Map(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSession(r.Context())
	h.render(w, r, session, "map", pageData{
		Title:      "Device map",
		ExternalIP: h.ip.ExternalIP(r.Context()),
		PushPort:   h.cfg.PushPort,
		PushRoute:  h.cfg.PushRoute,
		MapAPIKey:  h.cfg.MapAPIKey,
	})
}

// render consumes the session flash message before writing the page.
func (h *PagesHandler) render(w http.ResponseWriter, r *http.Request, session *model.Session, name string, data pageData) {
	if session != nil && session.FlashMessage != "" {
		data.Flash = session.ConsumeFlash()
		if err := h.sessions.Save(r.Context(), session); err != nil {
			log.Error().Err(err).Str("sessionId", session.ID).Msg("failed to clear flash message")
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := pageTemplates.ExecuteTemplate(w, name, data); err != nil {
		log.Error().Err(err).Str("template", name).Msg("failed to render page")
	}
}
