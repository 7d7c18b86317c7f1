package middleware

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/devicelocator/locator-relay/internal/audit"
	"github.com/devicelocator/locator-relay/internal/model"
	"github.com/devicelocator/locator-relay/internal/service"
)

const AccessDeniedMessage = "Access denied! Login required."

// Allow reports whether the session holds an upstream credential. A rejected
// session gets the access denied flash message.
func Allow(session *model.Session) bool {
	if session.Authenticated() {
		return true
	}
	if session != nil {
		session.FlashMessage = AccessDeniedMessage
	}
	return false
}

// SessionGate redirects unauthenticated sessions to the login page. It must
// run after SessionMiddleware.
type SessionGate struct {
	sessions *service.SessionService
}

func NewSessionGate(sessions *service.SessionService) *SessionGate {
	return &SessionGate{sessions: sessions}
}

func (g *SessionGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := GetSession(r.Context())
		if Allow(session) {
			next.ServeHTTP(w, r)
			return
		}

		if session != nil {
			if err := g.sessions.Save(r.Context(), session); err != nil {
				log.Error().Err(err).Msg("session gate: save failed")
			}
			audit.LogFromRequest(r, audit.Event{
				Type:      audit.EventAccessDenied,
				SessionID: session.ID,
				Details:   map[string]interface{}{"path": r.URL.Path},
			})
		}
		http.Redirect(w, r, service.RouteLogin, http.StatusFound)
	})
}
