package logger

import (
	"time"

	"go.uber.org/zap"
)

// ─── HTTP ───

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }
func Bytes(v int) zap.Field        { return zap.Int("bytes", v) }
func ClientIP(v string) zap.Field  { return zap.String("client_ip", v) }
func DurationMs(v time.Duration) zap.Field {
	return zap.Float64("duration_ms", float64(v.Microseconds())/1000)
}
func UserID(v string) zap.Field { return zap.String("user_id", v) }

// ─── TLS ───

// Remote es la dirección del peer de una conexión entrante.
func Remote(v string) zap.Field { return zap.String("remote", v) }

// Generation es la generación del TlsIdentity instalada en el store.
func Generation(v uint64) zap.Field { return zap.Uint64("generation", v) }

// Subject es el CN del leaf certificate.
func Subject(v string) zap.Field { return zap.String("subject", v) }

// ─── Keys / tokens ───

func KeyID(v string) zap.Field  { return zap.String("kid", v) }
func Source(v string) zap.Field { return zap.String("source", v) }
func Reason(v string) zap.Field { return zap.String("reason", v) }
func Count(v int) zap.Field     { return zap.Int("count", v) }

// ─── Sistema ───

func Component(v string) zap.Field    { return zap.String("component", v) }
func Op(v string) zap.Field           { return zap.String("op", v) }
func Err(err error) zap.Field         { return zap.Error(err) }
func Any(key string, v any) zap.Field { return zap.Any(key, v) }
