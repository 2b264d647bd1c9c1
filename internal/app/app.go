// Package app arma el gateway a partir de la configuración: cache de documentos,
// un key set y un validator por provider OIDC, certificate store y router. Nada acá es global: cmd/hellogate
// construye un Container y lo pasa por referencia.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/hellogate/internal/cache"
	"github.com/dropDatabas3/hellogate/internal/config"
	httpserver "github.com/dropDatabas3/hellogate/internal/http"
	mw "github.com/dropDatabas3/hellogate/internal/http/middlewares"
	"github.com/dropDatabas3/hellogate/internal/http/router"
	jwtx "github.com/dropDatabas3/hellogate/internal/jwt"
	"github.com/dropDatabas3/hellogate/internal/observability/logger"
	"github.com/dropDatabas3/hellogate/internal/tlsx"
)

// Container es el contenedor DI simple del gateway.
type Container struct {
	Config *config.Config

	// Cache compartido del documento de claves; nil con cache.kind=none.
	Cache cache.Client

	// Providers tiene un KeySetCache + Validator por issuer configurado.
	Providers *jwtx.Providers

	// Certs y Reloader son nil con TLS deshabilitado (Reloader también sin tls.watch).
	Certs    *tlsx.CertificateStore
	Reloader *tlsx.Reloader

	Handler http.Handler

	log *zap.Logger
}

// New construye todo sin abrir puertos. El key set arranca vacío: Run lo puebla.
// Con TLS habilitado el certificado inicial tiene que cargar; si no, New falla.
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{Config: cfg, log: logger.Named("app")}

	if cfg.Cache.Kind != "none" {
		cl, err := cache.New(ctx, cache.Config{
			Driver:     cfg.Cache.Kind,
			Addr:       cfg.Cache.Redis.Addr,
			DB:         cfg.Cache.Redis.DB,
			Prefix:     cfg.Cache.Redis.Prefix,
			DefaultTTL: config.Dur(cfg.Cache.TTL),
		})
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
		c.Cache = cl
	}

	policy, err := jwtx.ParseStalePolicy(cfg.OIDC.StalePolicy)
	if err != nil {
		c.Close()
		return nil, err
	}
	var (
		providers []*jwtx.Provider
		keys      = map[string]router.KeySetStatus{}
	)
	for _, pc := range cfg.OIDCProviders() {
		p, err := buildProvider(cfg, pc, policy, c.Cache)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("oidc provider %s: %w", pc.Name, err)
		}
		providers = append(providers, p)
		keys[p.Name] = p.Keys
	}
	c.Providers, err = jwtx.NewProviders(providers...)
	if err != nil {
		c.Close()
		return nil, err
	}

	deps := router.Deps{
		Validator:          c.Providers,
		Auth:               mw.AuthOptions{Header: cfg.Auth.Header, Scheme: cfg.Auth.Scheme},
		Keys:               keys,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		HonorXFF:           cfg.Server.HonorXFF,
		MetricsEnabled:     cfg.Metrics.Enabled,
		MetricsPath:        cfg.Metrics.Path,
	}

	if cfg.TLS.Enabled {
		c.Certs, err = tlsx.NewCertificateStore(nil)
		if err != nil {
			c.Close()
			return nil, err
		}
		if err := c.Certs.ReplaceFiles(cfg.TLS.CertFile, cfg.TLS.KeyFile); err != nil {
			c.Close()
			return nil, fmt.Errorf("tls: %w", err)
		}
		if cfg.TLS.Watch {
			c.Reloader = tlsx.NewReloader(c.Certs, cfg.TLS.CertFile, cfg.TLS.KeyFile, config.Dur(cfg.TLS.WatchDebounce))
		}
		deps.Certs = c.Certs
	}

	c.Handler = router.New(deps)
	return c, nil
}

func buildProvider(cfg *config.Config, pc config.OIDCProvider, policy jwtx.StalePolicy, cl cache.Client) (*jwtx.Provider, error) {
	fetcher, err := BuildFetcher(cfg, pc, cl)
	if err != nil {
		return nil, err
	}
	keys, err := jwtx.NewKeySetCache(fetcher, jwtx.CacheConfig{
		Policy:           policy,
		RefreshInterval:  config.Dur(cfg.OIDC.RefreshInterval),
		MaxAge:           config.Dur(cfg.OIDC.MaxAge),
		MaxStale:         config.Dur(cfg.OIDC.MaxStale),
		MissRefreshGrace: config.Dur(cfg.OIDC.MissRefreshGrace),
		FetchTimeout:     config.Dur(cfg.OIDC.FetchTimeout),
	})
	if err != nil {
		return nil, err
	}
	v := jwtx.NewValidator(keys, jwtx.ValidatorConfig{
		Issuer:    pc.Issuer,
		Audience:  pc.Audience,
		ClockSkew: config.Dur(cfg.OIDC.ClockSkew),
	})
	return &jwtx.Provider{Name: pc.Name, Keys: keys, Validator: v}, nil
}

// BuildFetcher elige de dónde salen las claves de un provider: secreto HMAC, jwks_url
// o discovery, opcionalmente detrás del cache compartido.
func BuildFetcher(cfg *config.Config, pc config.OIDCProvider, cl cache.Client) (jwtx.Fetcher, error) {
	if pc.HMACSecret != "" {
		alg, ok := jwtx.ParseAlgorithm(strings.ToUpper(pc.HMACAlg))
		if !ok {
			return nil, fmt.Errorf("hmac_alg: unsupported %q", pc.HMACAlg)
		}
		return jwtx.NewHMACFetcher(pc.HMACKeyID, alg, []byte(pc.HMACSecret))
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	var doc jwtx.DocumentFetcher
	switch {
	case pc.JWKSURL != "":
		doc = jwtx.NewHTTPSource(pc.JWKSURL, httpClient)
	case pc.Discovery:
		doc = jwtx.NewDiscoverySource(pc.Issuer, httpClient, config.Dur(cfg.OIDC.DiscoveryTTL))
	default:
		return nil, fmt.Errorf("no key source configured")
	}

	if cl != nil {
		doc = jwtx.NewCachedSource(doc, cl, config.Dur(cfg.Cache.TTL))
	}
	return jwtx.FromDocument(doc), nil
}

// Listen abre el listener TCP y, con TLS, lo envuelve en el acceptor del store.
func (c *Container) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", c.Config.Server.Addr)
	if err != nil {
		return nil, err
	}
	if c.Certs == nil {
		return ln, nil
	}
	opts := []tlsx.Option{
		tlsx.WithHandshakeTimeout(config.Dur(c.Config.TLS.HandshakeTimeout)),
		tlsx.WithTCPNoDelay(c.Config.TLS.TCPNoDelay),
	}
	if ka := config.Dur(c.Config.TLS.TCPKeepAlive); ka > 0 {
		opts = append(opts, tlsx.WithTCPKeepAlive(ka))
	}
	return tlsx.NewListener(ln, c.Certs, opts...), nil
}

// Run hace el primer refresh (un fallo sólo se loguea: el cache reintenta), arranca
// el refresco periódico, el watcher de certificados y el servidor sobre ln. Vuelve
// cuando ctx se cancela o algo falla.
func (c *Container) Run(ctx context.Context, ln net.Listener) error {
	if err := c.Providers.Refresh(ctx); err != nil {
		c.log.Warn("initial key set refresh failed", logger.Err(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range c.Providers.All() {
		keys := p.Keys
		g.Go(func() error {
			keys.Run(gctx)
			return nil
		})
	}
	if c.Reloader != nil {
		g.Go(func() error { return c.Reloader.Run(gctx) })
	}
	g.Go(func() error {
		c.log.Info("gateway listening",
			zap.String("addr", ln.Addr().String()),
			zap.Bool("tls", c.Certs != nil),
		)
		return httpserver.Serve(gctx, ln, c.Handler, httpserver.ServerOptions{
			ReadHeaderTimeout: config.Dur(c.Config.Server.ReadHeaderTimeout),
			ShutdownTimeout:   config.Dur(c.Config.Server.ShutdownTimeout),
		})
	})
	return g.Wait()
}

// Reload vuelve a leer cert/key (si hay TLS) y pide un refresh de todos los key sets.
// Lo usa SIGHUP. Con watcher pasa por el Reloader para que LastError refleje el resultado.
func (c *Container) Reload() {
	var err error
	switch {
	case c.Reloader != nil:
		err = c.Reloader.Reload()
	case c.Certs != nil:
		err = c.Certs.ReplaceFiles(c.Config.TLS.CertFile, c.Config.TLS.KeyFile)
	}
	if err != nil {
		c.log.Error("certificate reload failed, keeping previous identity", logger.Err(err))
	}
	c.Providers.TriggerRefresh()
}

// Close libera recursos opcionales del contenedor (si existen).
func (c *Container) Close() error {
	if c.Cache != nil {
		return c.Cache.Close()
	}
	return nil
}
