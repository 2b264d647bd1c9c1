package tlsx

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"os"
	"time"
)

// Identity es la identidad TLS del acceptor: cadena DER (leaf primero) + clave privada.
// Es inmutable; una rotación instala una Identity nueva, nunca modifica la existente.
// Sólo se construye vía NewIdentity / ParseIdentityPEM / LoadIdentityFiles, que validan
// que la clave corresponda al leaf.
type Identity struct {
	chain [][]byte
	key   crypto.Signer
	leaf  *x509.Certificate
	cert  tls.Certificate
}

// NewIdentity valida y arma una Identity a partir de la cadena DER y la clave privada.
func NewIdentity(chain [][]byte, key crypto.PrivateKey) (*Identity, error) {
	if len(chain) == 0 {
		return nil, invalidIdentity("empty certificate chain")
	}
	signer, ok := key.(crypto.Signer)
	if !ok || signer == nil {
		return nil, invalidIdentity("private key %T is not a crypto.Signer", key)
	}

	own := make([][]byte, len(chain))
	for i, der := range chain {
		if len(der) == 0 {
			return nil, invalidIdentity("certificate %d is empty", i)
		}
		if _, err := x509.ParseCertificate(der); err != nil {
			return nil, invalidIdentity("certificate %d: %v", i, err)
		}
		own[i] = append([]byte(nil), der...)
	}

	leaf, _ := x509.ParseCertificate(own[0])
	pub, ok := leaf.PublicKey.(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(signer.Public()) {
		return nil, invalidIdentity("private key does not match leaf certificate %q", leaf.Subject.CommonName)
	}

	return &Identity{
		chain: own,
		key:   signer,
		leaf:  leaf,
		cert: tls.Certificate{
			Certificate: own,
			PrivateKey:  signer,
			Leaf:        leaf,
		},
	}, nil
}

// ParseIdentityPEM arma una Identity desde cert chain + key en PEM.
func ParseIdentityPEM(certPEM, keyPEM []byte) (*Identity, error) {
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, invalidIdentity("%v", err)
	}
	return NewIdentity(pair.Certificate, pair.PrivateKey)
}

// LoadIdentityFiles lee cert/key desde disco. Es la única operación bloqueante del lado
// de certificados y corre fuera del hot path (reloader / arranque).
func LoadIdentityFiles(certFile, keyFile string) (*Identity, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, invalidIdentity("read cert: %v", err)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, invalidIdentity("read key: %v", err)
	}
	return ParseIdentityPEM(certPEM, keyPEM)
}

// Chain devuelve una copia de la cadena DER.
func (id *Identity) Chain() [][]byte {
	out := make([][]byte, len(id.chain))
	for i, der := range id.chain {
		out[i] = append([]byte(nil), der...)
	}
	return out
}

// PrivateKey devuelve la clave privada de la identidad.
func (id *Identity) PrivateKey() crypto.Signer { return id.key }

// Leaf devuelve el certificado leaf parseado. No debe modificarse.
func (id *Identity) Leaf() *x509.Certificate { return id.leaf }

// NotAfter es la expiración del leaf.
func (id *Identity) NotAfter() time.Time { return id.leaf.NotAfter }

// Subject es el CommonName del leaf (para logs).
func (id *Identity) Subject() string { return id.leaf.Subject.CommonName }

// TLSCertificate devuelve el tls.Certificate listo para un tls.Config.
func (id *Identity) TLSCertificate() tls.Certificate { return id.cert }

func (id *Identity) valid() bool {
	return id != nil && id.key != nil && id.leaf != nil && len(id.chain) > 0
}
