package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"samplecart/internal/faults"
)

// authMiddleware validates bearer tokens. An empty token disables the check.
// Browsers cannot set headers on WebSocket upgrades, so a "token" query
// parameter is accepted as well.
func authMiddleware(token string, next http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		presented := r.URL.Query().Get("token")
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			presented = strings.TrimPrefix(auth, "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: faults.CodePermission})
			return
		}
		next(w, r)
	}
}
