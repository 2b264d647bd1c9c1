package middlewares

import (
	"context"

	jwtx "github.com/dropDatabas3/hellogate/internal/jwt"
)

type ctxKey string

const (
	// ctxClaimsKey guarda las claims validadas
	ctxClaimsKey ctxKey = "claims"
	// ctxUserIDKey guarda el sub del token
	ctxUserIDKey ctxKey = "user_id"
	// ctxRequestIDKey guarda el request ID
	ctxRequestIDKey ctxKey = "request_id"
)

// WithClaims inyecta claims en el contexto
func WithClaims(ctx context.Context, claims *jwtx.Claims) context.Context {
	return context.WithValue(ctx, ctxClaimsKey, claims)
}

// WithUserID inyecta el user ID en el contexto
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxUserIDKey, userID)
}

func setRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

// GetClaims obtiene las claims del contexto.
// Retorna nil si no hay claims (token no validado o middleware no aplicado).
func GetClaims(ctx context.Context) *jwtx.Claims {
	c, _ := ctx.Value(ctxClaimsKey).(*jwtx.Claims)
	return c
}

// GetUserID obtiene el user ID del contexto, o "".
func GetUserID(ctx context.Context) string {
	s, _ := ctx.Value(ctxUserIDKey).(string)
	return s
}

// GetRequestID obtiene el request ID del contexto, o "".
func GetRequestID(ctx context.Context) string {
	s, _ := ctx.Value(ctxRequestIDKey).(string)
	return s
}
