package jwt

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/hellogate/internal/metrics"
	"github.com/dropDatabas3/hellogate/internal/observability/logger"
)

// Reason es el motivo tipado de un rechazo.
type Reason int

const (
	ReasonNone Reason = iota
	Malformed
	UnknownKey
	AlgorithmMismatch
	BadSignature
	Expired
	NotYetValid
	IssuerMismatch
	AudienceMismatch
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "valid"
	case Malformed:
		return "malformed"
	case UnknownKey:
		return "unknown_key"
	case AlgorithmMismatch:
		return "algorithm_mismatch"
	case BadSignature:
		return "bad_signature"
	case Expired:
		return "expired"
	case NotYetValid:
		return "not_yet_valid"
	case IssuerMismatch:
		return "issuer_mismatch"
	case AudienceMismatch:
		return "audience_mismatch"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// ValidationError es el error de un token rechazado. Detail es sólo para logs:
// nunca debe llegar al cliente.
type ValidationError struct {
	Reason Reason
	Detail error
}

func (e *ValidationError) Error() string {
	if e.Detail != nil {
		return fmt.Sprintf("jwt: invalid token (%s): %v", e.Reason, e.Detail)
	}
	return fmt.Sprintf("jwt: invalid token (%s)", e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Detail }

// Outcome es el resultado de Validate: claims o motivo, nunca ambos.
type Outcome struct {
	claims *Claims
	reason Reason
	detail error
	stale  bool
}

func (o Outcome) Valid() bool     { return o.claims != nil }
func (o Outcome) Claims() *Claims { return o.claims }
func (o Outcome) Reason() Reason  { return o.reason }

// StaleKey indica que la firma se verificó con una clave de un set vencido (fail-open).
func (o Outcome) StaleKey() bool { return o.stale }

// Err devuelve nil si el token es válido, o un *ValidationError.
func (o Outcome) Err() error {
	if o.Valid() {
		return nil
	}
	return &ValidationError{Reason: o.reason, Detail: o.detail}
}

func invalid(r Reason, detail error) Outcome {
	return Outcome{reason: r, detail: detail}
}

// KeyResolver resuelve claves por kid. *KeySetCache lo implementa.
type KeyResolver interface {
	Get(kid string) (Resolved, bool)
}

// ValidatorConfig: ClockSkew es obligatorio en configuración (puede ser 0).
type ValidatorConfig struct {
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Now       func() time.Time
}

// Validator verifica bearer tokens. No hace I/O: los misses de kid sólo disparan el
// refresh en background del KeySetCache.
type Validator struct {
	keys KeyResolver
	cfg  ValidatorConfig
	log  *zap.Logger
}

func NewValidator(keys KeyResolver, cfg ValidatorConfig) *Validator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ClockSkew < 0 {
		cfg.ClockSkew = 0
	}
	return &Validator{keys: keys, cfg: cfg, log: logger.Named("jwt.validator")}
}

// ValidateNow valida contra el issuer/audience configurados y el reloj del validator.
func (v *Validator) ValidateNow(token string) Outcome {
	return v.Validate(token, v.cfg.Issuer, v.cfg.Audience, v.cfg.Now())
}

// Validate aplica, en orden: estructura, kid, algoritmo, firma, exp/nbf, iss, aud.
// Los chequeos estructurales van antes que los criptográficos y éstos antes que los
// semánticos; el primer fallo decide el Reason.
func (v *Validator) Validate(token, expectedIssuer, expectedAudience string, now time.Time) Outcome {
	out := v.validate(token, expectedIssuer, expectedAudience, now)
	metrics.TokenValidations.WithLabelValues(out.reason.String()).Inc()
	if out.stale {
		v.log.Warn("token verified with stale key set")
	}
	return out
}

func (v *Validator) validate(token, expectedIssuer, expectedAudience string, now time.Time) Outcome {
	// 1. estructura
	p, err := parseCompact(token)
	if err != nil {
		return invalid(Malformed, err)
	}

	// 2. clave
	if p.kid == "" {
		return invalid(UnknownKey, fmt.Errorf("missing kid"))
	}
	res, ok := v.keys.Get(p.kid)
	if !ok {
		return invalid(UnknownKey, fmt.Errorf("kid %q not in key set", p.kid))
	}
	key := res.Key

	// 3. algoritmo: tag del header vs clase de la clave ("none" nunca está en la tabla)
	alg, known := ParseAlgorithm(p.alg)
	if !known || !key.Accepts(alg) {
		return invalid(AlgorithmMismatch, fmt.Errorf("alg %q not allowed for %s key %q", p.alg, key.Class, key.KeyID))
	}

	// 4. firma
	if !key.ActiveAt(now) {
		return invalid(UnknownKey, fmt.Errorf("key %q outside its validity window", key.KeyID))
	}
	if err := alg.method().Verify(p.signingString, p.signature, key.Material); err != nil {
		return invalid(BadSignature, err)
	}

	// 5. tiempo, en segundos enteros
	skew := int64(v.cfg.ClockSkew / time.Second)
	if p.exp == nil {
		return invalid(Expired, fmt.Errorf("missing exp"))
	}
	if now.Unix() >= p.exp.Unix()+skew {
		return invalid(Expired, nil)
	}
	if p.nbf != nil && p.nbf.Unix()-skew > now.Unix() {
		return invalid(NotYetValid, nil)
	}

	// 6. issuer / audience
	if p.iss != expectedIssuer {
		return invalid(IssuerMismatch, fmt.Errorf("iss %q", p.iss))
	}
	if !contains(p.aud, expectedAudience) {
		return invalid(AudienceMismatch, fmt.Errorf("aud %v", p.aud))
	}

	return Outcome{claims: p.claims(), stale: res.Stale}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
