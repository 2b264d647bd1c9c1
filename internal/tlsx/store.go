package tlsx

import (
	"crypto/tls"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dropDatabas3/hellogate/internal/metrics"
	"github.com/dropDatabas3/hellogate/internal/observability/logger"
)

// installed empareja la identidad con su generación; se publica con un único swap.
type installed struct {
	id  *Identity
	gen uint64
}

// CertificateStore mantiene la Identity vigente. Las lecturas son lock-free y nunca
// fallan; los reemplazos se serializan entre sí y se publican con un swap atómico, así
// un lector ve siempre cadena y clave instaladas juntas.
type CertificateStore struct {
	mu  sync.Mutex // serializa writers
	cur atomic.Pointer[installed]
	log *zap.Logger
}

// NewCertificateStore crea el store. initial puede ser nil (sin identidad todavía).
func NewCertificateStore(initial *Identity) (*CertificateStore, error) {
	s := &CertificateStore{log: logger.Named("tlsx.store")}
	s.cur.Store(&installed{})
	if initial != nil {
		if err := s.Replace(initial); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Current devuelve el snapshot vigente (nil si todavía no se instaló ninguno).
// Un handshake que ya obtuvo su snapshot no se ve afectado por Replace posteriores.
func (s *CertificateStore) Current() *Identity {
	return s.cur.Load().id
}

// Generation es la cantidad de instalaciones exitosas; nunca retrocede.
func (s *CertificateStore) Generation() uint64 {
	return s.cur.Load().gen
}

// Replace instala id. Una identidad nil o no validada se rechaza y la anterior sigue vigente.
func (s *CertificateStore) Replace(id *Identity) error {
	if !id.valid() {
		metrics.TLSIdentityInstalls.WithLabelValues("rejected").Inc()
		err := invalidIdentity("identity was not built by a validating constructor")
		s.log.Warn("identity install rejected", logger.Err(err))
		return err
	}

	s.mu.Lock()
	next := &installed{id: id, gen: s.cur.Load().gen + 1}
	s.cur.Store(next)
	s.mu.Unlock()

	metrics.TLSIdentityInstalls.WithLabelValues("ok").Inc()
	metrics.TLSIdentityGeneration.Set(float64(next.gen))
	metrics.TLSIdentityNotAfter.Set(float64(id.NotAfter().Unix()))
	s.log.Info("tls identity installed",
		logger.Generation(next.gen),
		logger.Subject(id.Subject()),
		zap.Time("not_after", id.NotAfter()),
	)
	return nil
}

// ReplacePEM parsea y valida antes de instalar.
func (s *CertificateStore) ReplacePEM(certPEM, keyPEM []byte) error {
	id, err := ParseIdentityPEM(certPEM, keyPEM)
	if err != nil {
		s.reject(err)
		return err
	}
	return s.Replace(id)
}

// ReplaceFiles lee cert/key de disco, valida e instala.
func (s *CertificateStore) ReplaceFiles(certFile, keyFile string) error {
	id, err := LoadIdentityFiles(certFile, keyFile)
	if err != nil {
		s.reject(err)
		return err
	}
	return s.Replace(id)
}

// GetCertificate permite usar el store directamente como tls.Config.GetCertificate.
func (s *CertificateStore) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	id := s.Current()
	if id == nil {
		return nil, ErrNoIdentity
	}
	cert := id.TLSCertificate()
	return &cert, nil
}

func (s *CertificateStore) reject(err error) {
	metrics.TLSIdentityInstalls.WithLabelValues("rejected").Inc()
	s.log.Warn("identity install rejected, keeping previous identity",
		logger.Generation(s.Generation()),
		logger.Err(err),
	)
}
