package middlewares

import (
	"net/http"
	"strings"

	"github.com/dropDatabas3/hellogate/internal/http/errors"
	jwtx "github.com/dropDatabas3/hellogate/internal/jwt"
	"github.com/dropDatabas3/hellogate/internal/observability/logger"
)

// =================================================================================
// AUTHENTICATION MIDDLEWARES
// =================================================================================

// TokenValidator es lo que necesita el middleware. *jwt.Validator y *jwt.Providers lo implementan.
type TokenValidator interface {
	ValidateNow(token string) jwtx.Outcome
}

// SchemeNone indica que el header trae el token crudo, sin prefijo.
const SchemeNone = "none"

// AuthOptions configura de dónde sale el token. Vacío = "Authorization: Bearer <token>".
type AuthOptions struct {
	Header string
	Scheme string
}

func (o AuthOptions) withDefaults() AuthOptions {
	if o.Header == "" {
		o.Header = "Authorization"
	}
	if o.Scheme == "" {
		o.Scheme = "Bearer"
	}
	return o
}

// extract devuelve el token o "" si no hay header o el esquema no coincide.
func (o AuthOptions) extract(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get(o.Header))
	if v == "" {
		return ""
	}
	if strings.EqualFold(o.Scheme, SchemeNone) {
		return v
	}
	scheme, tok, ok := strings.Cut(v, " ")
	if !ok || !strings.EqualFold(scheme, o.Scheme) {
		return ""
	}
	return strings.TrimSpace(tok)
}

func (o AuthOptions) challenge(invalid bool) string {
	scheme := o.Scheme
	if strings.EqualFold(scheme, SchemeNone) {
		scheme = "Bearer"
	}
	if invalid {
		return scheme + ` error="invalid_token"`
	}
	return scheme + ` realm="api"`
}

// attach guarda claims + sub en el contexto y agrega el user_id al logger scoped.
func attach(r *http.Request, claims *jwtx.Claims) *http.Request {
	ctx := WithClaims(r.Context(), claims)
	if sub := claims.Subject(); sub != "" {
		ctx = WithUserID(ctx, sub)
		ctx = logger.ToContext(ctx, logger.From(ctx).With(logger.UserID(sub)))
	}
	return r.WithContext(ctx)
}

// RequireAuth valida el bearer token y guarda las claims en el contexto.
// Sin token o con token inválido responde 401 con el mismo cuerpo: el motivo del
// rechazo sólo va al log.
func RequireAuth(v TokenValidator, opts AuthOptions) Middleware {
	opts = opts.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := opts.extract(r)
			if raw == "" {
				w.Header().Set("WWW-Authenticate", opts.challenge(false))
				errors.WriteError(w, errors.ErrUnauthorized)
				return
			}

			out := v.ValidateNow(raw)
			if !out.Valid() {
				logger.From(r.Context()).Warn("bearer token rejected",
					logger.Reason(out.Reason().String()),
					logger.Err(out.Err()),
				)
				w.Header().Set("WWW-Authenticate", opts.challenge(true))
				errors.WriteError(w, errors.ErrUnauthorized)
				return
			}

			next.ServeHTTP(w, attach(r, out.Claims()))
		})
	}
}

// OptionalAuth intenta validar el token pero NO falla si no está o es inválido.
// Útil para endpoints que tienen comportamiento diferente para usuarios autenticados.
func OptionalAuth(v TokenValidator, opts AuthOptions) Middleware {
	opts = opts.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := opts.extract(r)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			out := v.ValidateNow(raw)
			if !out.Valid() {
				logger.From(r.Context()).Debug("optional bearer token ignored", logger.Reason(out.Reason().String()))
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, attach(r, out.Claims()))
		})
	}
}

// RequireUser verifica que haya un usuario autenticado en el contexto.
// Debe usarse después de RequireAuth u OptionalAuth.
func RequireUser() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetUserID(r.Context()) == "" {
				errors.WriteError(w, errors.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
