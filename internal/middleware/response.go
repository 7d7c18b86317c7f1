package middleware

import (
	"net/http"

	"github.com/devicelocator/locator-relay/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}
