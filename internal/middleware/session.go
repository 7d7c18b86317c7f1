package middleware

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/devicelocator/locator-relay/internal/audit"
	"github.com/devicelocator/locator-relay/internal/config"
	apperrors "github.com/devicelocator/locator-relay/internal/errors"
	"github.com/devicelocator/locator-relay/internal/httputil"
	"github.com/devicelocator/locator-relay/internal/model"
	"github.com/devicelocator/locator-relay/internal/service"
)

type contextKey string

const SessionContextKey contextKey = "session"

func GetSession(ctx context.Context) *model.Session {
	if session, ok := ctx.Value(SessionContextKey).(*model.Session); ok {
		return session
	}
	return nil
}

func WithSession(ctx context.Context, session *model.Session) context.Context {
	return context.WithValue(ctx, SessionContextKey, session)
}

// SessionMiddleware loads the browser session from its cookie, starting a
// new one when the cookie is missing or stale.
type SessionMiddleware struct {
	sessions *service.SessionService
	secure   bool
}

func NewSessionMiddleware(sessions *service.SessionService, secure bool) *SessionMiddleware {
	return &SessionMiddleware{sessions: sessions, secure: secure}
}

func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var session *model.Session
		if cookie, err := r.Cookie(config.SessionCookieName); err == nil {
			session, err = m.sessions.Load(r.Context(), cookie.Value)
			if err != nil {
				log.Error().Err(err).Msg("session middleware: load failed")
				httputil.WriteError(w, apperrors.Internal("Session unavailable").WithCause(err))
				return
			}
		}

		if session == nil {
			fresh, token, err := m.sessions.Start(r.Context())
			if err != nil {
				log.Error().Err(err).Msg("session middleware: start failed")
				httputil.WriteError(w, apperrors.Internal("Session unavailable").WithCause(err))
				return
			}
			SetSessionCookie(w, token, m.secure)
			audit.LogFromRequest(r, audit.Event{Type: audit.EventSessionCreate, SessionID: fresh.ID})
			session = fresh
		}

		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
	})
}

func SetSessionCookie(w http.ResponseWriter, token string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     config.SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(config.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   config.SessionCookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}
