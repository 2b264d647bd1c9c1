package middlewares

import (
	"net/http"
	"strings"

	"github.com/dropDatabas3/hellogate/internal/http/errors"
)

// RequireScope verifica que el access token contenga el scope requerido.
// Debe usarse después de RequireAuth.
func RequireScope(scope string) Middleware {
	scope = strings.TrimSpace(scope)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if scope == "" {
				next.ServeHTTP(w, r)
				return
			}

			cl := GetClaims(r.Context())
			if cl == nil {
				errors.WriteError(w, errors.ErrUnauthorized)
				return
			}

			if !cl.HasScope(scope) {
				w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope", scope="`+scope+`"`)
				errors.WriteError(w, errors.ErrInsufficientScopes.WithDetail("required scope: "+scope))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
