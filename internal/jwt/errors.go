package jwt

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyKeySet        = errors.New("jwt: key set has no usable signing keys")
	ErrDuplicateKeyID     = errors.New("jwt: duplicate key id in key set")
	ErrInvalidKeyMaterial = errors.New("jwt: invalid key material")
	ErrNoSigningKey       = errors.New("jwt: signer has no key")
)

// FetchError envuelve cualquier fallo al obtener/validar un key set. El set instalado
// no cambia cuando Refresh devuelve este error.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("jwt: fetch key set from %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func invalidKey(kid, format string, args ...any) error {
	return fmt.Errorf("%w: kid=%q: %s", ErrInvalidKeyMaterial, kid, fmt.Sprintf(format, args...))
}
