package middleware

import (
	"net/http"
)

type SecurityHeadersMiddleware struct {
	isProduction bool
	csp          string
}

// NewSecurityHeadersMiddleware builds the page CSP. The map view loads the
// Google Maps script and opens a WebSocket to pushOrigin ("ws://host:port").
func NewSecurityHeadersMiddleware(isProduction bool, pushOrigins ...string) *SecurityHeadersMiddleware {
	connect := "'self' https://maps.googleapis.com"
	for _, origin := range pushOrigins {
		connect += " " + origin
	}

	csp := "default-src 'self'; " +
		"script-src 'self' 'unsafe-inline' https://maps.googleapis.com; " +
		"style-src 'self' 'unsafe-inline' https://fonts.googleapis.com; " +
		"img-src 'self' data: https:; " +
		"font-src 'self' https://fonts.gstatic.com; " +
		"connect-src " + connect + "; " +
		"frame-ancestors 'none'; " +
		"base-uri 'self'; " +
		"form-action 'self'"

	return &SecurityHeadersMiddleware{isProduction: isProduction, csp: csp}
}

func (m *SecurityHeadersMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		if m.isProduction {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		w.Header().Set("Content-Security-Policy", m.csp)

		next.ServeHTTP(w, r)
	})
}
