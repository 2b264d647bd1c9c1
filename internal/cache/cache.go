// Package cache provee un cache de documentos compartible entre procesos.
//
// El gateway lo usa para guardar el último documento JWKS descargado, de modo que
// varias réplicas detrás del mismo Redis no golpeen al issuer cada una por su cuenta.
//
// Soporta:
//   - Memory (in-process, go-cache)
//   - Redis (compartido entre réplicas)
package cache

import (
	"context"
	"errors"
	"time"
)

// Client define las operaciones de cache.
type Client interface {
	// Get obtiene un valor. Retorna ErrNotFound si no existe o expiró.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set guarda un valor. ttl 0 = sin expiración.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete elimina una key.
	Delete(ctx context.Context, key string) error

	// Ping verifica la conexión.
	Ping(ctx context.Context) error

	// Close libera recursos.
	Close() error
}

// Config configuración para crear un cliente de cache.
type Config struct {
	Driver     string // "memory" | "redis"
	Addr       string // host:port (redis)
	Password   string
	DB         int
	Prefix     string
	DefaultTTL time.Duration // memory
}

// ErrNotFound se retorna cuando la key no existe.
var ErrNotFound = errors.New("cache: key not found")

// IsNotFound verifica si el error es porque la key no existe.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// New crea un cliente según cfg.Driver.
func New(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedis(ctx, cfg)
	default:
		return NewMemory(cfg.Prefix, cfg.DefaultTTL), nil
	}
}

func prefixed(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return prefix + ":" + k
}
