package jwt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/hellogate/internal/metrics"
	"github.com/dropDatabas3/hellogate/internal/observability/logger"
)

// StalePolicy decide qué hace Get cuando el key set está vencido.
type StalePolicy int

const (
	// FailClosed: claves vencidas no resuelven (el token termina en UnknownKey).
	FailClosed StalePolicy = iota + 1
	// FailOpen: se siguen sirviendo, marcadas Stale, hasta MaxAge+MaxStale.
	FailOpen
)

func (p StalePolicy) String() string {
	switch p {
	case FailClosed:
		return "fail-closed"
	case FailOpen:
		return "fail-open"
	default:
		return "unset"
	}
}

// ParseStalePolicy acepta "fail-open" / "fail-closed".
func ParseStalePolicy(s string) (StalePolicy, error) {
	switch s {
	case "fail-open":
		return FailOpen, nil
	case "fail-closed":
		return FailClosed, nil
	}
	return 0, fmt.Errorf("unknown stale policy %q", s)
}

const (
	defaultRefreshInterval  = 5 * time.Minute
	defaultMaxAge           = 15 * time.Minute
	defaultMissRefreshGrace = 30 * time.Second
	defaultFetchTimeout     = 5 * time.Second

	// maxMissingKids acota el registro de kids desconocidos.
	maxMissingKids = 1024
)

// CacheConfig configura un KeySetCache. Policy es obligatoria.
type CacheConfig struct {
	Policy           StalePolicy
	RefreshInterval  time.Duration // período de Run
	MaxAge           time.Duration // pasado este tiempo sin refresh exitoso el set es stale
	MaxStale         time.Duration // FailOpen: margen extra sobre MaxAge; 0 = sin límite
	MissRefreshGrace time.Duration // mínimo entre refreshes disparados por kids desconocidos
	FetchTimeout     time.Duration
	Now              func() time.Time
}

// Resolved es el resultado de Get. Stale indica que la clave viene de un set vencido
// servido por FailOpen.
type Resolved struct {
	Key   *SigningKey
	Stale bool
}

// CacheStats es una foto para introspección (CLI, logs).
type CacheStats struct {
	Source      string
	Keys        int
	FetchedAt   time.Time
	LastError   error
	Stale       bool
	Fetches     uint64
	Refreshes   uint64
	LastAttempt time.Time
}

// cacheState se reemplaza entero en cada refresh; los lectores nunca ven mezclas.
type cacheState struct {
	set         *KeySet
	lastSuccess time.Time
	lastErr     error
}

// KeySetCache mantiene el key set vigente. Get es lock-free; Refresh colapsa llamadas
// concurrentes en un único fetch.
type KeySetCache struct {
	fetcher Fetcher
	cfg     CacheConfig
	log     *zap.Logger

	cur         atomic.Pointer[cacheState]
	mu          sync.Mutex // serializa la instalación
	group       singleflight.Group
	lastAttempt atomic.Int64 // unix nanos del último intento (o trigger) de refresh
	missing     *gocache.Cache

	fetches   atomic.Uint64
	refreshes atomic.Uint64
}

// NewKeySetCache crea el cache vacío. No hace I/O: llamar Refresh (o Run) para poblarlo.
func NewKeySetCache(f Fetcher, cfg CacheConfig) (*KeySetCache, error) {
	if f == nil {
		return nil, errors.New("jwt: key set cache needs a fetcher")
	}
	if cfg.Policy != FailOpen && cfg.Policy != FailClosed {
		return nil, errors.New("jwt: stale policy is required (fail-open or fail-closed)")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultMaxAge
	}
	if cfg.MissRefreshGrace <= 0 {
		cfg.MissRefreshGrace = defaultMissRefreshGrace
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &KeySetCache{
		fetcher: f,
		cfg:     cfg,
		log:     logger.Named("jwt.keyset").With(logger.Source(f.Source())),
		missing: gocache.New(cfg.MissRefreshGrace, 2*cfg.MissRefreshGrace),
	}
	c.cur.Store(&cacheState{})
	return c, nil
}

// Get resuelve kid contra el set instalado. Nunca bloquea ni hace I/O; un miss puede
// disparar un refresh en background.
func (c *KeySetCache) Get(kid string) (Resolved, bool) {
	st := c.cur.Load()
	k, ok := st.set.Lookup(kid)
	if !ok {
		c.onMiss(kid)
		return Resolved{}, false
	}

	now := c.cfg.Now()
	if !c.isStale(st, now) {
		return Resolved{Key: k}, true
	}

	c.maybeRefresh(false)
	if c.cfg.Policy == FailClosed {
		return Resolved{}, false
	}
	if c.cfg.MaxStale > 0 && now.Sub(st.lastSuccess) > c.cfg.MaxAge+c.cfg.MaxStale {
		return Resolved{}, false
	}
	return Resolved{Key: k, Stale: true}, true
}

func (c *KeySetCache) isStale(st *cacheState, now time.Time) bool {
	return st.lastErr != nil || now.Sub(st.lastSuccess) > c.cfg.MaxAge
}

// Refresh trae un set nuevo y lo instala. Llamadas concurrentes comparten el mismo
// fetch; si ctx termina antes, el caller deja de esperar pero el fetch sigue.
func (c *KeySetCache) Refresh(ctx context.Context) error {
	return c.refresh(ctx, false)
}

// TriggerRefresh dispara un refresh en background (SIGHUP, admin).
func (c *KeySetCache) TriggerRefresh() {
	c.lastAttempt.Store(c.cfg.Now().UnixNano())
	go func() { _ = c.refresh(context.Background(), false) }()
}

// Run refresca periódicamente hasta que ctx se cancele.
func (c *KeySetCache) Run(ctx context.Context) {
	t := time.NewTicker(c.cfg.RefreshInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
				c.log.Debug("periodic refresh failed", logger.Err(err))
			}
		}
	}
}

func (c *KeySetCache) refresh(ctx context.Context, bypass bool) error {
	ch := c.group.DoChan("refresh", func() (any, error) {
		return nil, c.doRefresh(bypass)
	})
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *KeySetCache) doRefresh(bypass bool) error {
	now := c.cfg.Now()
	c.lastAttempt.Store(now.UnixNano())
	c.fetches.Add(1)

	fctx, cancel := context.WithTimeout(context.Background(), c.cfg.FetchTimeout)
	defer cancel()
	if bypass {
		fctx = WithCacheBypass(fctx)
	}

	keys, err := c.fetcher.Fetch(fctx)
	var set *KeySet
	if err == nil {
		set, err = NewKeySet(keys, c.fetcher.Source(), now)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.cur.Load()

	if err != nil {
		c.cur.Store(&cacheState{set: prev.set, lastSuccess: prev.lastSuccess, lastErr: err})
		metrics.KeySetRefreshes.WithLabelValues("failed").Inc()
		c.log.Warn("key set refresh failed, keeping previous set",
			logger.Count(prev.set.Len()),
			logger.Err(err),
		)
		return &FetchError{Source: c.fetcher.Source(), Err: err}
	}

	c.cur.Store(&cacheState{set: set, lastSuccess: now})
	c.refreshes.Add(1)
	metrics.KeySetRefreshes.WithLabelValues("ok").Inc()
	metrics.KeySetKeys.Set(float64(set.Len()))
	metrics.KeySetFetchedAt.Set(float64(now.Unix()))
	c.log.Info("key set installed",
		logger.Count(set.Len()),
		zap.Strings("kids", set.KeyIDs()),
	)
	return nil
}

// onMiss recuerda kids desconocidos durante MissRefreshGrace: basura repetida no
// vuelve a disparar refresh.
// Kids demasiado largos o un registro lleno no se guardan; el refresh sigue limitado
// por MissRefreshGrace.
func (c *KeySetCache) onMiss(kid string) {
	if _, seen := c.missing.Get(kid); seen {
		return
	}
	if len(kid) <= MaxKeyIDLength && c.missing.ItemCount() < maxMissingKids {
		c.missing.SetDefault(kid, struct{}{})
		c.log.Debug("unknown kid", logger.KeyID(kid))
	}
	c.maybeRefresh(true)
}

// maybeRefresh dispara un refresh async si pasó MissRefreshGrace desde el último intento.
func (c *KeySetCache) maybeRefresh(bypass bool) {
	last := c.lastAttempt.Load()
	now := c.cfg.Now()
	if last != 0 && now.Sub(time.Unix(0, last)) < c.cfg.MissRefreshGrace {
		return
	}
	if !c.lastAttempt.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	go func() { _ = c.refresh(context.Background(), bypass) }()
}

// Snapshot devuelve el set instalado (nil si nunca hubo refresh exitoso).
func (c *KeySetCache) Snapshot() *KeySet {
	return c.cur.Load().set
}

// Stats arma una foto del estado del cache.
func (c *KeySetCache) Stats() CacheStats {
	st := c.cur.Load()
	s := CacheStats{
		Source:    c.fetcher.Source(),
		Keys:      st.set.Len(),
		LastError: st.lastErr,
		Stale:     st.set != nil && c.isStale(st, c.cfg.Now()),
		Fetches:   c.fetches.Load(),
		Refreshes: c.refreshes.Load(),
	}
	if st.set != nil {
		s.FetchedAt = st.set.FetchedAt
	}
	if la := c.lastAttempt.Load(); la != 0 {
		s.LastAttempt = time.Unix(0, la)
	}
	return s
}
