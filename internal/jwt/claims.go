package jwt

import (
	"strings"
	"time"
)

// Claims son los claims de un token ya validado. Sólo los produce Validator; los
// accessors devuelven copias.
type Claims struct {
	subject   string
	issuer    string
	audience  []string
	expiresAt time.Time
	issuedAt  time.Time
	notBefore time.Time
	extra     map[string]any
}

var registeredClaims = map[string]struct{}{
	"sub": {}, "iss": {}, "aud": {}, "exp": {}, "iat": {}, "nbf": {},
}

func (c *Claims) Subject() string { return c.subject }
func (c *Claims) Issuer() string  { return c.issuer }

func (c *Claims) Audience() []string {
	return append([]string(nil), c.audience...)
}

func (c *Claims) ExpiresAt() time.Time { return c.expiresAt }

// IssuedAt es zero si el token no trae iat.
func (c *Claims) IssuedAt() time.Time { return c.issuedAt }

// NotBefore es zero si el token no trae nbf.
func (c *Claims) NotBefore() time.Time { return c.notBefore }

// Get devuelve un claim no registrado (jti, scope, email, ...).
func (c *Claims) Get(name string) (any, bool) {
	v, ok := c.extra[name]
	return v, ok
}

// String devuelve un claim string o "".
func (c *Claims) String(name string) string {
	s, _ := c.extra[name].(string)
	return s
}

// Extra devuelve una copia superficial de los claims no registrados.
func (c *Claims) Extra() map[string]any {
	out := make(map[string]any, len(c.extra))
	for k, v := range c.extra {
		out[k] = v
	}
	return out
}

// Scopes lee "scope" (separado por espacios, RFC 8693) o "scp" (array, Azure/Okta).
func (c *Claims) Scopes() []string {
	if s, ok := c.extra["scope"].(string); ok {
		return strings.Fields(s)
	}
	raw, _ := c.extra["scp"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// HasScope indica si el token trae el scope pedido.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes() {
		if s == scope {
			return true
		}
	}
	return false
}
