package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryClient implementa Client sobre go-cache. Útil para desarrollo, tests y
// despliegues de una sola réplica.
type memoryClient struct {
	prefix string
	c      *gocache.Cache
}

// NewMemory crea un cliente en memoria. defaultTTL 0 => sin expiración por defecto.
func NewMemory(prefix string, defaultTTL time.Duration) Client {
	exp := gocache.NoExpiration
	if defaultTTL > 0 {
		exp = defaultTTL
	}
	return &memoryClient{prefix: prefix, c: gocache.New(exp, time.Minute)}
}

func (m *memoryClient) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.c.Get(prefixed(m.prefix, key))
	if !ok {
		return nil, ErrNotFound
	}
	b, _ := v.([]byte)
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (m *memoryClient) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b := make([]byte, len(value))
	copy(b, value)
	exp := gocache.DefaultExpiration
	if ttl > 0 {
		exp = ttl
	}
	m.c.Set(prefixed(m.prefix, key), b, exp)
	return nil
}

func (m *memoryClient) Delete(_ context.Context, key string) error {
	m.c.Delete(prefixed(m.prefix, key))
	return nil
}

func (m *memoryClient) Ping(context.Context) error { return nil }

func (m *memoryClient) Close() error {
	m.c.Flush()
	return nil
}
