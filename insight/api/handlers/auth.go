package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/cfuwib/insightbot/insight/api/metrics"
)

// APIKeyHeader carries the static API key.
const APIKeyHeader = "x-api-key"

const contentSecurityPolicy = "default-src 'self'; " +
	"script-src 'self' 'unsafe-inline' https://unpkg.com https://cdn.jsdelivr.net; " +
	"style-src 'self' 'unsafe-inline' https://unpkg.com https://cdn.jsdelivr.net https://fonts.googleapis.com; " +
	"img-src 'self' data:; " +
	"font-src 'self' https://fonts.gstatic.com data:; " +
	"connect-src 'self' ws: wss:;"

func validAPIKey(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// RequireAPIKey rejects requests whose x-api-key header does not match.
func (h *Handlers) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !validAPIKey(r.Header.Get(APIKeyHeader), h.cfg.APIKey) {
			metrics.APIKeyRejectionsTotal.WithLabelValues(metrics.TransportHTTP).Inc()
			writeError(w, http.StatusForbidden, "Could not validate API KEY")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SecurityHeaders sets the response security headers.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		hdr.Set("Content-Security-Policy", contentSecurityPolicy)
		hdr.Set("Cross-Origin-Embedder-Policy", "require-corp")
		hdr.Set("Cross-Origin-Resource-Policy", "cross-origin")
		hdr.Set("Cross-Origin-Opener-Policy", "same-origin")
		hdr.Set("X-Content-Type-Options", "nosniff")
		hdr.Set("X-Frame-Options", "DENY")
		hdr.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		hdr.Set("X-SERVER-STATUS", "OK")
		next.ServeHTTP(w, r)
	})
}
