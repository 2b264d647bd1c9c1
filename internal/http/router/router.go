// Package router arma el árbol de rutas del gateway sobre chi.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/hellogate/internal/http/errors"
	mw "github.com/dropDatabas3/hellogate/internal/http/middlewares"
	jwtx "github.com/dropDatabas3/hellogate/internal/jwt"
	"github.com/dropDatabas3/hellogate/internal/tlsx"
)

// KeySetStatus expone el estado del key set. *jwt.KeySetCache lo implementa.
type KeySetStatus interface {
	Stats() jwtx.CacheStats
}

// CertStatus expone la identidad TLS instalada. *tlsx.CertificateStore lo implementa.
type CertStatus interface {
	Current() *tlsx.Identity
	Generation() uint64
}

// Deps contiene todo lo que necesita el router.
type Deps struct {
	Validator mw.TokenValidator
	Auth      mw.AuthOptions

	Keys  map[string]KeySetStatus // por nombre de provider
	Certs CertStatus              // nil con TLS deshabilitado

	CORSAllowedOrigins []string
	HonorXFF           bool

	MetricsEnabled bool
	MetricsPath    string
}

// New registra las rutas:
//
//	GET /healthz          liveness, sin middlewares de auth
//	GET /readyz           503 hasta que cada provider tenga claves (y certificado si hay TLS)
//	GET {metrics_path}    prometheus
//	GET /v1/whoami        protegida: devuelve las claims del token
func New(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(
		mw.WithRecover(),
		mw.WithRequestID(),
		mw.WithLogging(d.HonorXFF),
		mw.WithMetrics(),
		mw.WithSecurityHeaders(),
		mw.WithCORS(d.CORSAllowedOrigins),
	)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, errors.ErrRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, errors.ErrMethodNotAllowed)
	})

	h := &handlers{keys: d.Keys, certs: d.Certs}
	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)

	if d.MetricsEnabled {
		path := d.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, promhttp.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(mw.RequireAuth(d.Validator, d.Auth))
		r.Get("/whoami", h.whoami)
	})

	return r
}
