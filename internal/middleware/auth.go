package middleware

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Guillaume29200/esport-cms/internal/httputil"
	"github.com/Guillaume29200/esport-cms/internal/identity"
)

// RequireAuthenticated rejects requests without a resolved identity.
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := identity.From(r.Context()); !ok {
			httputil.Unauthorized(w, r, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects requests whose identity has none of roles.
func RequireRole(roles ...string) mux.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := identity.From(r.Context())
			if !ok {
				httputil.Unauthorized(w, r, "")
				return
			}
			if !allowed[id.Role] {
				httputil.Forbidden(w, r, "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin is RequireRole(identity.RoleAdmin).
var RequireAdmin = RequireRole(identity.RoleAdmin)
