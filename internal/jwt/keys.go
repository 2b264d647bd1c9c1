package jwt

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"
	"sort"
	"time"
)

// SigningKey es una clave de verificación resuelta por kid.
//
// Material según Class: []byte (HMAC), *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey.
// Algorithm vacío significa "cualquier algoritmo de la clase" (JWK sin "alg").
type SigningKey struct {
	KeyID     string
	Algorithm Algorithm
	Class     AlgorithmClass
	Material  any
	NotBefore time.Time // zero = sin límite
	NotAfter  time.Time // zero = sin límite
}

// Accepts indica si un token firmado con alg puede verificarse con esta clave.
func (k *SigningKey) Accepts(alg Algorithm) bool {
	if alg.Class() == ClassUnknown || alg.Class() != k.Class {
		return false
	}
	return k.Algorithm == "" || k.Algorithm == alg
}

// ActiveAt chequea la ventana de validez opcional de la clave.
func (k *SigningKey) ActiveAt(now time.Time) bool {
	if !k.NotBefore.IsZero() && now.Before(k.NotBefore) {
		return false
	}
	if !k.NotAfter.IsZero() && !now.Before(k.NotAfter) {
		return false
	}
	return true
}

func (k *SigningKey) check() error {
	if k == nil {
		return fmt.Errorf("%w: nil key", ErrInvalidKeyMaterial)
	}
	if k.KeyID == "" {
		return invalidKey("", "missing kid")
	}
	if k.Algorithm != "" && k.Algorithm.Class() != k.Class {
		return invalidKey(k.KeyID, "alg %s does not belong to class %s", k.Algorithm, k.Class)
	}
	ok := false
	switch m := k.Material.(type) {
	case []byte:
		ok = k.Class == ClassHMAC && len(m) > 0
	case *rsa.PublicKey:
		ok = k.Class == ClassRSA && m != nil && m.N != nil
	case *ecdsa.PublicKey:
		ok = k.Class == ClassECDSA && m != nil && m.X != nil
	case ed25519.PublicKey:
		ok = k.Class == ClassEdDSA && len(m) == ed25519.PublicKeySize
	}
	if !ok {
		return invalidKey(k.KeyID, "material %T does not match class %s", k.Material, k.Class)
	}
	return nil
}

// KeySet es el conjunto de claves instalado en el cache. Inmutable una vez construido.
type KeySet struct {
	keys      map[string]*SigningKey
	FetchedAt time.Time
	Source    string
}

// NewKeySet valida y arma un KeySet: al menos una clave, kids únicos, material coherente.
func NewKeySet(keys []*SigningKey, source string, fetchedAt time.Time) (*KeySet, error) {
	if len(keys) == 0 {
		return nil, ErrEmptyKeySet
	}
	m := make(map[string]*SigningKey, len(keys))
	for _, k := range keys {
		if err := k.check(); err != nil {
			return nil, err
		}
		if _, dup := m[k.KeyID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateKeyID, k.KeyID)
		}
		m[k.KeyID] = k
	}
	return &KeySet{keys: m, FetchedAt: fetchedAt, Source: source}, nil
}

// Lookup busca una clave por kid.
func (s *KeySet) Lookup(kid string) (*SigningKey, bool) {
	if s == nil {
		return nil, false
	}
	k, ok := s.keys[kid]
	return k, ok
}

// Len es la cantidad de claves.
func (s *KeySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// KeyIDs devuelve los kids ordenados.
func (s *KeySet) KeyIDs() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.keys))
	for kid := range s.keys {
		out = append(out, kid)
	}
	sort.Strings(out)
	return out
}

// Keys devuelve las claves ordenadas por kid.
func (s *KeySet) Keys() []*SigningKey {
	ids := s.KeyIDs()
	out := make([]*SigningKey, len(ids))
	for i, kid := range ids {
		out[i] = s.keys[kid]
	}
	return out
}
