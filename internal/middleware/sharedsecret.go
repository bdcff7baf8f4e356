package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Guillaume29200/esport-cms/internal/httputil"
	"github.com/Guillaume29200/esport-cms/internal/logging"
)

// RequireSharedSecret admits requests whose header matches secret. An empty
// secret rejects everything. Used for machine callers such as payment
// webhooks.
func RequireSharedSecret(header, secret string, logger *logging.Logger) mux.MiddlewareFunc {
	want := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(header))
			if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
				logger.LogSecurityEvent(r.Context(), "shared_secret_rejected", map[string]interface{}{
					"path":    r.URL.Path,
					"header":  header,
					"present": len(got) > 0,
				})
				httputil.Unauthorized(w, r, "Invalid shared secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
