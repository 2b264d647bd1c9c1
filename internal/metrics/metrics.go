// Package metrics agrupa los collectors Prometheus del gateway. Se definen en un paquete
// aparte para que tlsx, jwt y los middlewares HTTP los compartan sin ciclos de import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TLSHandshakes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tls_handshakes_total",
		Help: "Handshakes TLS por resultado (ok|failed|no_identity)",
	}, []string{"result"})

	TLSHandshakeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tls_handshake_duration_seconds",
		Help:    "Duración de los handshakes TLS completados",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	TLSIdentityInstalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tls_identity_installs_total",
		Help: "Intentos de instalar un TlsIdentity por resultado (ok|rejected)",
	}, []string{"result"})

	TLSIdentityGeneration = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tls_identity_generation",
		Help: "Generación del TlsIdentity actualmente instalado",
	})

	TLSIdentityNotAfter = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tls_identity_not_after_seconds",
		Help: "Expiración (unix) del leaf certificate instalado",
	})

	KeySetRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jwks_refresh_total",
		Help: "Refresh del key set por resultado (ok|failed)",
	}, []string{"result"})

	KeySetKeys = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "jwks_keys",
		Help: "Cantidad de claves en el key set instalado",
	})

	KeySetFetchedAt = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "jwks_fetched_at_seconds",
		Help: "Timestamp (unix) del último refresh exitoso",
	})

	TokenValidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "token_validations_total",
		Help: "Validaciones de bearer tokens por resultado (valid o motivo de rechazo)",
	}, []string{"result"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Latencia de requests HTTP por ruta y status",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

func all() []prometheus.Collector {
	return []prometheus.Collector{
		TLSHandshakes,
		TLSHandshakeDuration,
		TLSIdentityInstalls,
		TLSIdentityGeneration,
		TLSIdentityNotAfter,
		KeySetRefreshes,
		KeySetKeys,
		KeySetFetchedAt,
		TokenValidations,
		HTTPRequestDuration,
	}
}

// Register registra todos los collectors en reg (o el default si es nil), ignorando duplicados.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range all() {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
