package tlsx

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/hellogate/internal/metrics"
	"github.com/dropDatabas3/hellogate/internal/observability/logger"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	// capacidad del canal de conexiones ya negociadas en modo listener
	acceptQueue = 10
)

// Option configura un Acceptor.
type Option func(*Acceptor)

// WithHandshakeTimeout acota cada handshake. <= 0 deja el default (10s).
func WithHandshakeTimeout(d time.Duration) Option {
	return func(a *Acceptor) {
		if d > 0 {
			a.handshakeTimeout = d
		}
	}
}

// WithTCPNoDelay ajusta TCP_NODELAY en conexiones TCP crudas.
func WithTCPNoDelay(on bool) Option {
	return func(a *Acceptor) { a.noDelay = on }
}

// WithTCPKeepAlive habilita keepalive con el período dado; 0 deja el default del SO.
func WithTCPKeepAlive(d time.Duration) Option {
	return func(a *Acceptor) { a.keepAlive = d }
}

// WithBaseConfig define la plantilla tls.Config (versiones, ALPN, client auth).
// Los campos de certificado se pisan en cada conexión con el snapshot del store.
func WithBaseConfig(c *tls.Config) Option {
	return func(a *Acceptor) {
		if c != nil {
			a.base = c.Clone()
		}
	}
}

// WithLogger reemplaza el logger del componente.
func WithLogger(l *zap.Logger) Option {
	return func(a *Acceptor) {
		if l != nil {
			a.log = l
		}
	}
}

// SecureConn es una conexión con el handshake ya completo y la identidad que se usó.
type SecureConn struct {
	*tls.Conn
	identity *Identity
}

// Identity devuelve el snapshot con el que se negoció esta conexión.
func (c *SecureConn) Identity() *Identity { return c.identity }

// Acceptor termina TLS sobre conexiones crudas usando la identidad vigente del store.
// Cada conexión toma un único snapshot al empezar; un Replace concurrente sólo afecta
// a conexiones posteriores.
//
// Creado con NewListener también implementa net.Listener: acepta en un loop, negocia
// cada conexión en su propia goroutine y entrega sólo las que completaron el handshake.
type Acceptor struct {
	store            *CertificateStore
	base             *tls.Config
	handshakeTimeout time.Duration
	noDelay          bool
	keepAlive        time.Duration
	log              *zap.Logger

	// modo listener
	inner     net.Listener
	conns     chan net.Conn
	errc      chan error
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	closeOnce sync.Once
	mu        sync.Mutex // protege closed + wg.Add
	closed    bool
	wg        sync.WaitGroup
}

// NewAcceptor arma un acceptor para usar vía Handshake.
func NewAcceptor(store *CertificateStore, opts ...Option) *Acceptor {
	a := &Acceptor{
		store:            store,
		base:             &tls.Config{MinVersion: tls.VersionTLS12, NextProtos: []string{"h2", "http/1.1"}},
		handshakeTimeout: defaultHandshakeTimeout,
		noDelay:          true,
		log:              logger.Named("tlsx.acceptor"),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// NewListener envuelve inner: Accept devuelve *tls.Conn ya negociadas.
// Un handshake fallido se loguea y se descarta; nunca corta el loop.
func NewListener(inner net.Listener, store *CertificateStore, opts ...Option) *Acceptor {
	a := NewAcceptor(store, opts...)
	a.inner = inner
	a.conns = make(chan net.Conn, acceptQueue)
	a.errc = make(chan error, 1)
	a.done = make(chan struct{})
	a.ctx, a.cancel = context.WithCancel(context.Background())
	return a
}

// Handshake negocia TLS sobre raw con el snapshot vigente. En error raw queda cerrada.
// Cancelar ctx aborta el handshake.
func (a *Acceptor) Handshake(ctx context.Context, raw net.Conn) (*SecureConn, error) {
	tc, id, err := a.begin(raw)
	if err != nil {
		return nil, err
	}
	return a.finish(ctx, tc, id)
}

// begin toma el snapshot y arma la conexión TLS; no hace I/O.
func (a *Acceptor) begin(raw net.Conn) (*tls.Conn, *Identity, error) {
	id := a.store.Current()
	if id == nil {
		remote := remoteOf(raw)
		_ = raw.Close()
		metrics.TLSHandshakes.WithLabelValues("no_identity").Inc()
		a.log.Warn("dropping connection, no tls identity installed", logger.Remote(remote))
		return nil, nil, &HandshakeError{Remote: remote, Kind: ErrNoIdentity}
	}
	return tls.Server(raw, a.configFor(id)), id, nil
}

func (a *Acceptor) finish(ctx context.Context, tc *tls.Conn, id *Identity) (*SecureConn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	hctx, cancel := context.WithTimeout(ctx, a.handshakeTimeout)
	defer cancel()

	remote := remoteOf(tc)
	start := time.Now()
	err := tc.HandshakeContext(hctx)
	metrics.TLSHandshakeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		_ = tc.Close()
		metrics.TLSHandshakes.WithLabelValues("failed").Inc()
		a.log.Debug("tls handshake failed", logger.Remote(remote), logger.Err(err))
		return nil, &HandshakeError{Remote: remote, Kind: ErrHandshakeFailure, Err: err}
	}
	metrics.TLSHandshakes.WithLabelValues("ok").Inc()
	return &SecureConn{Conn: tc, identity: id}, nil
}

// configFor clona la plantilla y fija el certificado del snapshot. Nada en el config
// resultante vuelve a consultar el store.
func (a *Acceptor) configFor(id *Identity) *tls.Config {
	cfg := a.base.Clone()
	cfg.Certificates = []tls.Certificate{id.TLSCertificate()}
	cfg.GetCertificate = nil
	cfg.GetConfigForClient = nil
	return cfg
}

func (a *Acceptor) tune(c net.Conn) {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tc.SetNoDelay(a.noDelay); err != nil {
		a.log.Debug("set nodelay failed", logger.Err(err))
	}
	if a.keepAlive > 0 {
		_ = tc.SetKeepAlive(true)
		if err := tc.SetKeepAlivePeriod(a.keepAlive); err != nil {
			a.log.Debug("set keepalive failed", logger.Err(err))
		}
	}
}

// ─── net.Listener ───

// Accept devuelve la próxima conexión ya negociada (*tls.Conn, para que net/http
// complete r.TLS). Tras Close devuelve net.ErrClosed.
func (a *Acceptor) Accept() (net.Conn, error) {
	if a.inner == nil {
		return nil, errors.New("tlsx: acceptor was not created with NewListener")
	}
	a.startOnce.Do(func() { go a.loop() })

	select {
	case c := <-a.conns:
		return c, nil
	case err := <-a.errc:
		return nil, err
	case <-a.done:
		return nil, net.ErrClosed
	}
}

// Addr es la dirección del listener interno.
func (a *Acceptor) Addr() net.Addr {
	if a.inner == nil {
		return nil
	}
	return a.inner.Addr()
}

// Close cierra el listener interno, aborta handshakes en curso y descarta las
// conexiones negociadas que nadie llegó a aceptar.
func (a *Acceptor) Close() error {
	if a.inner == nil {
		return nil
	}
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()

		close(a.done)
		a.cancel()
		err = a.inner.Close()
		a.wg.Wait()
		for {
			select {
			case c := <-a.conns:
				_ = c.Close()
			default:
				return
			}
		}
	})
	return err
}

func (a *Acceptor) loop() {
	var backoff time.Duration
	for {
		raw, err := a.inner.Accept()
		if err != nil {
			select {
			case <-a.done:
				return
			default:
			}
			if isTemporary(err) {
				backoff = nextBackoff(backoff)
				a.log.Warn("accept error, retrying", logger.Err(err), zap.Duration("backoff", backoff))
				select {
				case <-time.After(backoff):
					continue
				case <-a.done:
					return
				}
			}
			a.errc <- err
			return
		}
		backoff = 0

		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			_ = raw.Close()
			return
		}
		a.wg.Add(1)
		a.mu.Unlock()

		a.tune(raw)
		go a.serveOne(raw)
	}
}

func (a *Acceptor) serveOne(raw net.Conn) {
	defer a.wg.Done()
	sc, err := a.Handshake(a.ctx, raw)
	if err != nil {
		return
	}
	select {
	case a.conns <- sc.Conn:
	case <-a.done:
		_ = sc.Close()
	}
}

func isTemporary(err error) bool {
	var ne interface{ Temporary() bool }
	return errors.As(err, &ne) && ne.Temporary()
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

func remoteOf(c net.Conn) string {
	if c == nil || c.RemoteAddr() == nil {
		return ""
	}
	return c.RemoteAddr().String()
}
