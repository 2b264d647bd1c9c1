package jwt

import (
	"errors"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// parsedToken es el resultado del paso estructural: nada acá está verificado.
type parsedToken struct {
	kid           string
	alg           string
	signingString string
	signature     []byte

	sub, iss string
	aud      []string
	exp      *jwtv5.NumericDate
	nbf      *jwtv5.NumericDate
	iat      *jwtv5.NumericDate
	extra    map[string]any
}

var parser = jwtv5.NewParser(jwtv5.WithJSONNumber())

// MaxKeyIDLength acota el kid del header: viene sin verificar y termina en logs y en
// el registro de misses del KeySetCache.
const MaxKeyIDLength = 256

// parseCompact valida la estructura JWS compacta y los tipos de los claims registrados.
// Un alg desconocido no es error acá: se reporta como AlgorithmMismatch más adelante,
// después de resolver el kid.
func parseCompact(token string) (*parsedToken, error) {
	tok, parts, err := parser.ParseUnverified(token, jwtv5.MapClaims{})
	if err != nil && !(errors.Is(err, jwtv5.ErrTokenUnverifiable) && tok != nil && tok.Header != nil) {
		return nil, err
	}
	if _, crit := tok.Header["crit"]; crit {
		return nil, errors.New("unsupported crit header")
	}

	sig, err := parser.DecodeSegment(parts[2])
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}

	p := &parsedToken{
		signingString: parts[0] + "." + parts[1],
		signature:     sig,
	}
	if v, ok := tok.Header["kid"]; ok {
		if p.kid, ok = v.(string); !ok {
			return nil, errors.New("kid is not a string")
		}
		if len(p.kid) > MaxKeyIDLength {
			return nil, fmt.Errorf("kid longer than %d bytes", MaxKeyIDLength)
		}
	}
	p.alg, _ = tok.Header["alg"].(string)

	mc, _ := tok.Claims.(jwtv5.MapClaims)
	if mc == nil {
		mc = jwtv5.MapClaims{}
	}
	if p.sub, err = mc.GetSubject(); err != nil {
		return nil, err
	}
	if p.iss, err = mc.GetIssuer(); err != nil {
		return nil, err
	}
	aud, err := mc.GetAudience()
	if err != nil {
		return nil, err
	}
	p.aud = []string(aud)
	if p.exp, err = mc.GetExpirationTime(); err != nil {
		return nil, err
	}
	if p.nbf, err = mc.GetNotBefore(); err != nil {
		return nil, err
	}
	if p.iat, err = mc.GetIssuedAt(); err != nil {
		return nil, err
	}

	p.extra = make(map[string]any, len(mc))
	for k, v := range mc {
		if _, reg := registeredClaims[k]; !reg {
			p.extra[k] = v
		}
	}
	return p, nil
}

func (p *parsedToken) claims() *Claims {
	c := &Claims{
		subject:  p.sub,
		issuer:   p.iss,
		audience: append([]string(nil), p.aud...),
		extra:    p.extra,
	}
	c.expiresAt = dateOf(p.exp)
	c.issuedAt = dateOf(p.iat)
	c.notBefore = dateOf(p.nbf)
	return c
}

func dateOf(d *jwtv5.NumericDate) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time
}
