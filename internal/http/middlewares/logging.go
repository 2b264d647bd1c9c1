package middlewares

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/hellogate/internal/observability/logger"
)

// =================================================================================
// STATUS RECORDER
// =================================================================================

// statusRecorder captura el status code y bytes escritos de la respuesta.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.wroteHeader {
		return // Evitar llamadas múltiples
	}
	s.status = code
	s.wroteHeader = true
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.wroteHeader {
		s.status = http.StatusOK
		s.wroteHeader = true
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

// Unwrap expone el writer original a http.ResponseController.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func record(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

// =================================================================================
// LOGGING MIDDLEWARE
// =================================================================================

// WithLogging registra cada request usando el logger singleton con campos estructurados.
// También inyecta un logger "scoped" en el contexto con request_id, method, path.
// Con honorXFF la IP de cliente sale del primer X-Forwarded-For (sólo detrás de un
// proxy de confianza).
//
// Ejemplo de log (prod):
//
//	{"level":"info","ts":"2024-01-15T15:04:05.000Z","msg":"request completed","request_id":"abc123","method":"GET","path":"/v1/whoami","client_ip":"10.0.0.7","status":200,"bytes":256,"duration_ms":0.45}
func WithLogging(honorXFF bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqLog := logger.L().With(
				logger.RequestID(GetRequestID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.ClientIP(clientIP(r, honorXFF)),
			)
			ctx := logger.ToContext(r.Context(), reqLog)

			rec := record(w)
			next.ServeHTTP(rec, r.WithContext(ctx))

			dur := time.Since(start)
			switch {
			case rec.status >= 500:
				reqLog.Error("request failed", logger.Status(rec.status), logger.Bytes(rec.bytes), logger.DurationMs(dur))
			case rec.status >= 400:
				reqLog.Warn("request completed with client error", logger.Status(rec.status), logger.Bytes(rec.bytes), logger.DurationMs(dur))
			default:
				reqLog.Info("request completed", logger.Status(rec.status), logger.Bytes(rec.bytes), logger.DurationMs(dur))
			}
		})
	}
}

// clientIP devuelve la IP del peer, o el primer X-Forwarded-For si honorXFF.
func clientIP(r *http.Request, honorXFF bool) string {
	if honorXFF {
		if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
			first, _, _ := strings.Cut(xf, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
