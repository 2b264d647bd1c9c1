package tlsx

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidIdentity: material de certificado/clave ilegible o inconsistente.
	// Replace lo devuelve sin tocar la identidad instalada.
	ErrInvalidIdentity = errors.New("tlsx: invalid tls identity")

	// ErrNoIdentity: el store todavía no tiene identidad; la conexión se descarta.
	ErrNoIdentity = errors.New("tlsx: no tls identity installed")

	// ErrHandshakeFailure: el handshake falló (protocolo, cliente abortó, ClientHello inválido, timeout).
	ErrHandshakeFailure = errors.New("tlsx: handshake failed")
)

// HandshakeError describe el fallo de una única conexión. Nunca es fatal para el proceso.
type HandshakeError struct {
	Remote string
	Kind   error // ErrNoIdentity | ErrHandshakeFailure
	Err    error // causa original (puede ser nil)
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v (remote=%s): %v", e.Kind, e.Remote, e.Err)
	}
	return fmt.Sprintf("%v (remote=%s)", e.Kind, e.Remote)
}

func (e *HandshakeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func invalidIdentity(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidIdentity, fmt.Sprintf(format, args...))
}
