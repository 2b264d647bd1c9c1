package jwt

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/hellogate/internal/cache"
	"github.com/dropDatabas3/hellogate/internal/observability/logger"
)

type bypassKey struct{}

// WithCacheBypass marca ctx para que CachedSource vaya directo al origen.
// KeySetCache lo usa en refreshes disparados por un kid desconocido: si el documento
// compartido tuviera la clave nueva no habríamos fallado el lookup.
func WithCacheBypass(ctx context.Context) context.Context {
	return context.WithValue(ctx, bypassKey{}, true)
}

func cacheBypassed(ctx context.Context) bool {
	v, _ := ctx.Value(bypassKey{}).(bool)
	return v
}

// CachedSource comparte el documento JWKS entre réplicas a través de cache.Client
// (memory o redis). Un fallo del cache nunca impide ir al origen.
type CachedSource struct {
	Inner DocumentFetcher
	Cache cache.Client
	Key   string
	TTL   time.Duration

	log *zap.Logger
}

func NewCachedSource(inner DocumentFetcher, c cache.Client, ttl time.Duration) *CachedSource {
	return &CachedSource{
		Inner: inner,
		Cache: c,
		Key:   "jwks:" + inner.Source(),
		TTL:   ttl,
		log:   logger.Named("jwt.cached_source"),
	}
}

func (s *CachedSource) Source() string { return s.Inner.Source() }

func (s *CachedSource) FetchDocument(ctx context.Context) ([]byte, error) {
	if !cacheBypassed(ctx) {
		b, err := s.Cache.Get(ctx, s.Key)
		if err == nil {
			return b, nil
		}
		if !cache.IsNotFound(err) {
			s.log.Warn("shared jwks cache read failed", logger.Source(s.Key), logger.Err(err))
		}
	}

	b, err := s.Inner.FetchDocument(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Cache.Set(ctx, s.Key, b, s.TTL); err != nil {
		s.log.Warn("shared jwks cache write failed", logger.Source(s.Key), logger.Err(err))
	}
	return b, nil
}
