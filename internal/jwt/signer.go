package jwt

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Signer firma tokens con una única clave. Lo usan el comando `token sign` y los tests;
// en producción los tokens los emite el issuer externo.
type Signer struct {
	Iss       string        // "iss"
	KeyID     string        // header "kid"
	Alg       Algorithm     // header "alg"
	AccessTTL time.Duration // TTL por defecto (ej: 15m)
	Now       func() time.Time

	priv any // []byte | *rsa.PrivateKey | *ecdsa.PrivateKey | ed25519.PrivateKey
	pub  any
}

// NewSigner valida que la clave corresponda a la clase del algoritmo.
func NewSigner(iss, kid string, alg Algorithm, priv any) (*Signer, error) {
	var pub any
	switch k := priv.(type) {
	case []byte:
		if alg.Class() == ClassHMAC && len(k) > 0 {
			pub = append([]byte(nil), k...)
		}
	case *rsa.PrivateKey:
		if alg.Class() == ClassRSA {
			pub = &k.PublicKey
		}
	case *ecdsa.PrivateKey:
		if alg.Class() == ClassECDSA && alg.method().(*jwtv5.SigningMethodECDSA).CurveBits == k.Curve.Params().BitSize {
			pub = &k.PublicKey
		}
	case ed25519.PrivateKey:
		if alg == EdDSA {
			pub = k.Public().(ed25519.PublicKey)
		}
	}
	if pub == nil {
		return nil, fmt.Errorf("%w: %T cannot sign %s", ErrInvalidKeyMaterial, priv, alg)
	}
	if kid == "" {
		return nil, invalidKey("", "missing kid")
	}
	return &Signer{
		Iss:       iss,
		KeyID:     kid,
		Alg:       alg,
		AccessTTL: 15 * time.Minute,
		Now:       time.Now,
		priv:      priv,
		pub:       pub,
	}, nil
}

// NewDevEd25519Signer genera una clave Ed25519 en memoria con un KID dado.
func NewDevEd25519Signer(iss, kid string) (*Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return NewSigner(iss, kid, EdDSA, priv)
}

// VerificationKey devuelve la SigningKey que verifica lo que este Signer firma.
func (s *Signer) VerificationKey() *SigningKey {
	return &SigningKey{KeyID: s.KeyID, Algorithm: s.Alg, Class: s.Alg.Class(), Material: s.pub}
}

// JWKS devuelve el documento público (falla para HMAC: el secreto no se publica).
func (s *Signer) JWKS() ([]byte, error) {
	return MarshalJWKS(s.VerificationKey())
}

// SignRaw firma un MapClaims arbitrario, setea header kid/typ y devuelve el JWT firmado.
func (s *Signer) SignRaw(claims jwtv5.MapClaims) (string, error) {
	if s == nil || s.priv == nil {
		return "", ErrNoSigningKey
	}
	tk := jwtv5.NewWithClaims(s.Alg.method(), claims)
	tk.Header["kid"] = s.KeyID
	tk.Header["typ"] = "JWT"
	return tk.SignedString(s.priv)
}

// IssueAccess emite un Access Token con claims estándar + extras (flat).
func (s *Signer) IssueAccess(sub, aud string, extra map[string]any) (string, time.Time, error) {
	now := s.Now().UTC()
	exp := now.Add(s.AccessTTL)

	claims := jwtv5.MapClaims{
		"iss": s.Iss,
		"sub": sub,
		"aud": aud,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}
	for k, v := range extra {
		if _, reg := registeredClaims[k]; reg {
			continue
		}
		claims[k] = v
	}

	signed, err := s.SignRaw(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, time.Unix(exp.Unix(), 0), nil
}

// ParsePrivateKeyPEM lee una clave privada PEM acorde a la clase de alg.
func ParsePrivateKeyPEM(alg Algorithm, data []byte) (any, error) {
	var (
		k   any
		err error
	)
	switch alg.Class() {
	case ClassRSA:
		k, err = jwtv5.ParseRSAPrivateKeyFromPEM(data)
	case ClassECDSA:
		k, err = jwtv5.ParseECPrivateKeyFromPEM(data)
	case ClassEdDSA:
		k, err = jwtv5.ParseEdPrivateKeyFromPEM(data)
	default:
		return nil, fmt.Errorf("%w: %s does not use a PEM private key", ErrInvalidKeyMaterial, alg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
	}
	return k, nil
}
