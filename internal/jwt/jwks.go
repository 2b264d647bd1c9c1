package jwt

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/jwk"
)

// jwkHeader son los miembros que miramos antes de decodificar el material con jwx.
// nbf/exp son extensiones que publican algunos proveedores (unix seconds).
type jwkHeader struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Crv string `json:"crv"`
	NBF int64  `json:"nbf"`
	EXP int64  `json:"exp"`
}

// curveAlgs: curva EC -> único algoritmo JWS que la usa.
var curveAlgs = map[string]Algorithm{
	"P-256": ES256,
	"P-384": ES384,
	"P-521": ES512,
}

// ParseJWKS decodifica un documento JWKS y devuelve las claves de firma.
//
// Se ignoran (sin error) las claves de cifrado (use=enc), los kty no soportados y los
// "alg" que no son JWS. Material roto en un kty soportado invalida el documento entero:
// preferimos quedarnos con el set anterior antes que instalar uno a medias.
func ParseJWKS(data []byte) ([]*SigningKey, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode jwks: %v", ErrInvalidKeyMaterial, err)
	}
	out := make([]*SigningKey, 0, len(doc.Keys))
	for _, raw := range doc.Keys {
		k, err := signingKeyFromJWK(raw)
		if err != nil {
			return nil, err
		}
		if k != nil {
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		return nil, ErrEmptyKeySet
	}
	return out, nil
}

// signingKeyFromJWK devuelve (nil, nil) si la clave no es de firma o no es soportada.
func signingKeyFromJWK(raw json.RawMessage) (*SigningKey, error) {
	var h jwkHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("%w: decode jwk: %v", ErrInvalidKeyMaterial, err)
	}
	if strings.EqualFold(h.Use, "enc") {
		return nil, nil
	}

	var alg Algorithm
	if h.Alg != "" {
		a, ok := ParseAlgorithm(h.Alg)
		if !ok {
			return nil, nil
		}
		alg = a
	}

	k := &SigningKey{KeyID: h.Kid, Algorithm: alg}
	if h.NBF > 0 {
		k.NotBefore = time.Unix(h.NBF, 0)
	}
	if h.EXP > 0 {
		k.NotAfter = time.Unix(h.EXP, 0)
	}

	switch h.Kty {
	case "RSA":
		k.Class = ClassRSA
	case "EC":
		k.Class = ClassECDSA
		curveAlg, ok := curveAlgs[h.Crv]
		if !ok {
			return nil, invalidKey(h.Kid, "EC: unsupported curve %q", h.Crv)
		}
		if alg != "" && alg != curveAlg {
			return nil, invalidKey(h.Kid, "alg %s does not match curve %s", alg, h.Crv)
		}
		k.Algorithm = curveAlg
	case "OKP":
		if h.Crv != "Ed25519" {
			return nil, nil // X25519 etc: acuerdo de claves, no firma
		}
		k.Class = ClassEdDSA
	case "oct":
		k.Class = ClassHMAC
	default:
		return nil, nil
	}
	if alg != "" && alg.Class() != k.Class {
		return nil, invalidKey(h.Kid, "alg %s not valid for kty %s", alg, h.Kty)
	}
	if h.Kid == "" {
		return nil, invalidKey("", "missing kid")
	}

	key, err := jwk.ParseKey(raw)
	if err != nil {
		return nil, invalidKey(h.Kid, "%s: %v", h.Kty, err)
	}
	var material any
	if err := key.Raw(&material); err != nil {
		return nil, invalidKey(h.Kid, "%s: %v", h.Kty, err)
	}
	if k.Material, err = publicMaterial(material); err != nil {
		return nil, invalidKey(h.Kid, "%s: %v", h.Kty, err)
	}
	if err := k.check(); err != nil {
		return nil, err
	}
	return k, nil
}

// publicMaterial se queda con la parte pública (un JWKS puede traer "d" por error) y
// aplica los mínimos que jwx no chequea.
func publicMaterial(m any) (any, error) {
	switch v := m.(type) {
	case *rsa.PrivateKey:
		return publicMaterial(&v.PublicKey)
	case *ecdsa.PrivateKey:
		return publicMaterial(&v.PublicKey)
	case ed25519.PrivateKey:
		return publicMaterial(v.Public())
	case *rsa.PublicKey:
		if v.N == nil || v.N.BitLen() < 1024 || v.E < 3 {
			return nil, fmt.Errorf("weak rsa key")
		}
		return v, nil
	case *ecdsa.PublicKey:
		// ECDH valida que el punto esté en la curva
		if _, err := v.ECDH(); err != nil {
			return nil, fmt.Errorf("point not on curve")
		}
		return v, nil
	case ed25519.PublicKey:
		if len(v) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("want %d bytes, got %d", ed25519.PublicKeySize, len(v))
		}
		return v, nil
	case []byte:
		if len(v) == 0 {
			return nil, fmt.Errorf("empty k")
		}
		return v, nil
	}
	return nil, fmt.Errorf("unsupported material %T", m)
}

// EncodeBase64URL codifica sin padding, como usan JWS/JWK.
func EncodeBase64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// PublicJWK serializa la parte pública de una SigningKey. Las claves HMAC nunca se
// publican y devuelven error.
func PublicJWK(k *SigningKey) (jwk.Key, error) {
	switch k.Material.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
	default:
		return nil, invalidKey(k.KeyID, "%T cannot be published", k.Material)
	}
	key, err := jwk.New(k.Material)
	if err != nil {
		return nil, invalidKey(k.KeyID, "%v", err)
	}
	if err := key.Set(jwk.KeyIDKey, k.KeyID); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, err
	}
	if k.Algorithm != "" {
		if err := key.Set(jwk.AlgorithmKey, string(k.Algorithm)); err != nil {
			return nil, err
		}
	}
	return key, nil
}

// MarshalJWKS arma el documento público para un conjunto de claves.
func MarshalJWKS(keys ...*SigningKey) ([]byte, error) {
	set := jwk.NewSet()
	for _, k := range keys {
		key, err := PublicJWK(k)
		if err != nil {
			return nil, err
		}
		set.Add(key)
	}
	return json.Marshal(set)
}
