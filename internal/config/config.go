package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Políticas de staleness del key set (ver oidc.stale_policy).
const (
	StalePolicyFailOpen   = "fail-open"
	StalePolicyFailClosed = "fail-closed"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Server struct {
		Addr               string   `yaml:"addr"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
		HonorXFF           bool     `yaml:"honor_xff"` // usar X-Forwarded-For como IP de cliente en logs
		ReadHeaderTimeout  string   `yaml:"read_header_timeout"`
		ShutdownTimeout    string   `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	TLS struct {
		Enabled          bool   `yaml:"enabled"`
		CertFile         string `yaml:"cert_file"`
		KeyFile          string `yaml:"key_file"`
		Watch            bool   `yaml:"watch"`          // fsnotify sobre cert/key
		WatchDebounce    string `yaml:"watch_debounce"` // ej: 500ms
		HandshakeTimeout string `yaml:"handshake_timeout"`
		TCPNoDelay       bool   `yaml:"tcp_nodelay"`
		TCPKeepAlive     string `yaml:"tcp_keepalive"` // vacío = default del SO
	} `yaml:"tls"`

	OIDC struct {
		Issuer    string `yaml:"issuer"`
		Audience  string `yaml:"audience"`
		JWKSURL   string `yaml:"jwks_url"`
		Discovery bool   `yaml:"discovery"` // resolver jwks_uri desde {issuer}/.well-known/openid-configuration

		// Obligatorios: no se adivinan defaults.
		ClockSkew   string `yaml:"clock_skew"`
		StalePolicy string `yaml:"stale_policy"` // fail-open | fail-closed

		RefreshInterval  string `yaml:"refresh_interval"`
		MaxAge           string `yaml:"max_age"`
		MaxStale         string `yaml:"max_stale"` // sólo fail-open; vacío/0 = sin límite
		MissRefreshGrace string `yaml:"miss_refresh_grace"`
		FetchTimeout     string `yaml:"fetch_timeout"`
		DiscoveryTTL     string `yaml:"discovery_ttl"`

		// Modo secreto compartido (HMAC), sin endpoint de claves.
		HMACSecret string `yaml:"hmac_secret"`
		HMACKeyID  string `yaml:"hmac_kid"`
		HMACAlg    string `yaml:"hmac_alg"`

		// Issuers adicionales, cada uno con su key set. Comparten skew, política y tiempos
		// de refresh del bloque oidc.
		Providers []OIDCProvider `yaml:"providers"`
	} `yaml:"oidc"`

	Auth struct {
		Header string `yaml:"header"`
		Scheme string `yaml:"scheme"`
	} `yaml:"auth"`

	Cache struct {
		Kind  string `yaml:"kind"` // none | memory | redis
		TTL   string `yaml:"ttl"`
		Redis struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
}

// OIDCProvider es un issuer con su propia fuente de claves.
type OIDCProvider struct {
	Name      string `yaml:"name"`
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"` // vacío = oidc.audience
	JWKSURL   string `yaml:"jwks_url"`
	Discovery bool   `yaml:"discovery"`

	HMACSecret string `yaml:"hmac_secret"`
	HMACKeyID  string `yaml:"hmac_kid"`
	HMACAlg    string `yaml:"hmac_alg"`
}

// DefaultProviderName es el nombre del provider que arma el bloque oidc de primer nivel.
const DefaultProviderName = "default"

// OIDCProviders devuelve los providers efectivos: el bloque oidc (si tiene issuer) como
// "default" y después oidc.providers en orden.
func (c *Config) OIDCProviders() []OIDCProvider {
	out := make([]OIDCProvider, 0, len(c.OIDC.Providers)+1)
	if strings.TrimSpace(c.OIDC.Issuer) != "" {
		out = append(out, c.defaultProvider())
	}
	for _, p := range c.OIDC.Providers {
		if p.Audience == "" {
			p.Audience = c.OIDC.Audience
		}
		out = append(out, p)
	}
	return out
}

func (c *Config) defaultProvider() OIDCProvider {
	return OIDCProvider{
		Name:       DefaultProviderName,
		Issuer:     c.OIDC.Issuer,
		Audience:   c.OIDC.Audience,
		JWKSURL:    c.OIDC.JWKSURL,
		Discovery:  c.OIDC.Discovery,
		HMACSecret: c.OIDC.HMACSecret,
		HMACKeyID:  c.OIDC.HMACKeyID,
		HMACAlg:    c.OIDC.HMACAlg,
	}
}

// Load lee el YAML (si path no está vacío), aplica defaults, overrides por env y valida.
func Load(path string) (*Config, error) {
	var c Config
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	c.applyDefaults()
	c.applyEnvOverrides()

	// rutas relativas de cert/key respecto al directorio del YAML
	if path != "" {
		base := filepath.Dir(path)
		c.TLS.CertFile = resolvePath(base, c.TLS.CertFile)
		c.TLS.KeyFile = resolvePath(base, c.TLS.KeyFile)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8443"
	}
	if c.Server.ReadHeaderTimeout == "" {
		c.Server.ReadHeaderTimeout = "10s"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "15s"
	}
	if c.TLS.WatchDebounce == "" {
		c.TLS.WatchDebounce = "500ms"
	}
	if c.TLS.HandshakeTimeout == "" {
		c.TLS.HandshakeTimeout = "10s"
	}
	if c.OIDC.RefreshInterval == "" {
		c.OIDC.RefreshInterval = "5m"
	}
	if c.OIDC.MaxAge == "" {
		c.OIDC.MaxAge = "15m"
	}
	if c.OIDC.MissRefreshGrace == "" {
		c.OIDC.MissRefreshGrace = "30s"
	}
	if c.OIDC.FetchTimeout == "" {
		c.OIDC.FetchTimeout = "5s"
	}
	if c.OIDC.DiscoveryTTL == "" {
		c.OIDC.DiscoveryTTL = "24h"
	}
	if c.OIDC.HMACKeyID == "" {
		c.OIDC.HMACKeyID = "shared"
	}
	if c.OIDC.HMACAlg == "" {
		c.OIDC.HMACAlg = "HS256"
	}
	for i := range c.OIDC.Providers {
		p := &c.OIDC.Providers[i]
		if p.HMACKeyID == "" {
			p.HMACKeyID = "shared"
		}
		if p.HMACAlg == "" {
			p.HMACAlg = "HS256"
		}
	}
	if c.Auth.Header == "" {
		c.Auth.Header = "Authorization"
	}
	if c.Auth.Scheme == "" {
		c.Auth.Scheme = "Bearer"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "none"
	}
	if c.Cache.TTL == "" {
		c.Cache.TTL = "2m"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "hellogate"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate chequea combinaciones y formatos. Los errores se acumulan para reportar todo de una vez.
func (c *Config) Validate() error {
	var errs []error

	if c.TLS.Enabled {
		if strings.TrimSpace(c.TLS.CertFile) == "" || strings.TrimSpace(c.TLS.KeyFile) == "" {
			errs = append(errs, errors.New("tls.cert_file and tls.key_file are required when tls.enabled"))
		}
	}

	providers := c.OIDCProviders()
	top := strings.TrimSpace(c.OIDC.Issuer) != ""
	if !top {
		if len(providers) == 0 {
			// sin providers el bloque oidc es obligatorio: se valida igual para reportar todo
			providers, top = []OIDCProvider{c.defaultProvider()}, true
		} else if c.OIDC.JWKSURL != "" || c.OIDC.Discovery || c.OIDC.HMACSecret != "" {
			errs = append(errs, errors.New("oidc.issuer is required when oidc.jwks_url, oidc.discovery or oidc.hmac_secret are set"))
		}
	}
	names := map[string]bool{}
	issuers := map[string]bool{}
	for i, p := range providers {
		field, idx := "oidc", i
		if top {
			idx = i - 1
		}
		switch {
		case top && i == 0:
		case strings.TrimSpace(p.Name) == "":
			field = fmt.Sprintf("oidc.providers[%d]", idx)
		default:
			field = fmt.Sprintf("oidc.providers[%s]", p.Name)
		}
		if strings.TrimSpace(p.Name) == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", field))
		} else if names[p.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate provider name", field))
		}
		names[p.Name] = true
		if strings.TrimSpace(p.Issuer) == "" {
			errs = append(errs, fmt.Errorf("%s.issuer is required", field))
		} else if issuers[p.Issuer] {
			errs = append(errs, fmt.Errorf("%s: issuer %q is used by another provider", field, p.Issuer))
		}
		issuers[p.Issuer] = true
		if strings.TrimSpace(p.Audience) == "" {
			errs = append(errs, fmt.Errorf("%s.audience is required", field))
		}
		if p.JWKSURL == "" && !p.Discovery && p.HMACSecret == "" {
			errs = append(errs, fmt.Errorf("one of %[1]s.jwks_url, %[1]s.discovery or %[1]s.hmac_secret is required", field))
		}
		switch strings.ToUpper(p.HMACAlg) {
		case "HS256", "HS384", "HS512":
		default:
			errs = append(errs, fmt.Errorf("%s.hmac_alg: unsupported %q", field, p.HMACAlg))
		}
	}
	if strings.TrimSpace(c.OIDC.ClockSkew) == "" {
		errs = append(errs, errors.New("oidc.clock_skew is required"))
	}
	switch c.OIDC.StalePolicy {
	case StalePolicyFailOpen, StalePolicyFailClosed:
	case "":
		errs = append(errs, errors.New("oidc.stale_policy is required (fail-open|fail-closed)"))
	default:
		errs = append(errs, fmt.Errorf("oidc.stale_policy: unknown value %q", c.OIDC.StalePolicy))
	}
	switch c.Cache.Kind {
	case "none", "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, errors.New("cache.redis.addr is required when cache.kind=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.kind: unknown value %q", c.Cache.Kind))
	}

	durations := map[string]string{
		"server.read_header_timeout": c.Server.ReadHeaderTimeout,
		"server.shutdown_timeout":    c.Server.ShutdownTimeout,
		"tls.watch_debounce":         c.TLS.WatchDebounce,
		"tls.handshake_timeout":      c.TLS.HandshakeTimeout,
		"tls.tcp_keepalive":          c.TLS.TCPKeepAlive,
		"oidc.clock_skew":            c.OIDC.ClockSkew,
		"oidc.refresh_interval":      c.OIDC.RefreshInterval,
		"oidc.max_age":               c.OIDC.MaxAge,
		"oidc.max_stale":             c.OIDC.MaxStale,
		"oidc.miss_refresh_grace":    c.OIDC.MissRefreshGrace,
		"oidc.fetch_timeout":         c.OIDC.FetchTimeout,
		"oidc.discovery_ttl":         c.OIDC.DiscoveryTTL,
		"cache.ttl":                  c.Cache.TTL,
	}
	for name, v := range durations {
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s: must not be negative", name))
		}
	}

	return errors.Join(errs...)
}

// Dur parsea un string de duración ya validado. Vacío => 0.
func Dur(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, _ := time.ParseDuration(s)
	return d
}

func resolvePath(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvCSV(key string) ([]string, bool) {
	s, ok := getEnvStr(key)
	if !ok {
		return nil, false
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, true
}

// applyEnvOverrides pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}

	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvCSV("SERVER_CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = v
	}
	if v, ok := getEnvBool("SERVER_HONOR_XFF"); ok {
		c.Server.HonorXFF = v
	}

	// TLS
	if v, ok := getEnvBool("TLS_ENABLED"); ok {
		c.TLS.Enabled = v
	}
	if v, ok := getEnvStr("TLS_CERT_FILE"); ok {
		c.TLS.CertFile = v
	}
	if v, ok := getEnvStr("TLS_KEY_FILE"); ok {
		c.TLS.KeyFile = v
	}
	if v, ok := getEnvBool("TLS_WATCH"); ok {
		c.TLS.Watch = v
	}
	if v, ok := getEnvStr("TLS_HANDSHAKE_TIMEOUT"); ok {
		c.TLS.HandshakeTimeout = v
	}

	// OIDC
	if v, ok := getEnvStr("OIDC_ISSUER"); ok {
		c.OIDC.Issuer = v
	}
	if v, ok := getEnvStr("OIDC_AUDIENCE"); ok {
		c.OIDC.Audience = v
	}
	if v, ok := getEnvStr("OIDC_JWKS_URL"); ok {
		c.OIDC.JWKSURL = v
	}
	if v, ok := getEnvBool("OIDC_DISCOVERY"); ok {
		c.OIDC.Discovery = v
	}
	if v, ok := getEnvStr("OIDC_CLOCK_SKEW"); ok {
		c.OIDC.ClockSkew = v
	}
	if v, ok := getEnvStr("OIDC_STALE_POLICY"); ok {
		c.OIDC.StalePolicy = strings.ToLower(v)
	}
	if v, ok := getEnvStr("OIDC_REFRESH_INTERVAL"); ok {
		c.OIDC.RefreshInterval = v
	}
	if v, ok := getEnvStr("OIDC_MAX_AGE"); ok {
		c.OIDC.MaxAge = v
	}
	if v, ok := getEnvStr("OIDC_MAX_STALE"); ok {
		c.OIDC.MaxStale = v
	}
	if v, ok := getEnvStr("OIDC_HMAC_SECRET"); ok {
		c.OIDC.HMACSecret = v
	}

	// AUTH
	if v, ok := getEnvStr("AUTH_HEADER"); ok {
		c.Auth.Header = v
	}
	if v, ok := getEnvStr("AUTH_SCHEME"); ok {
		c.Auth.Scheme = v
	}

	// CACHE
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Cache.Redis.Prefix = v
	}

	// LOG / METRICS
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := getEnvBool("METRICS_ENABLED"); ok {
		c.Metrics.Enabled = v
	}
}
