package jwt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	maxDocumentBytes    = 1 << 20
	defaultRetries      = 2
	defaultRetryBackoff = 200 * time.Millisecond
	defaultDiscoveryTTL = 24 * time.Hour
)

// HTTPSource descarga un JWKS por HTTP. Honra ETag/If-None-Match: un 304 devuelve
// el último documento conocido.
type HTTPSource struct {
	URL     string
	Client  *http.Client
	Retries int           // reintentos ante error de red / 5xx / 429
	Backoff time.Duration // backoff inicial, se duplica por intento

	mu   sync.Mutex
	etag string
	body []byte
}

func NewHTTPSource(url string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSource{URL: url, Client: client, Retries: defaultRetries, Backoff: defaultRetryBackoff}
}

func (s *HTTPSource) Source() string { return s.URL }

func (s *HTTPSource) FetchDocument(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	etag, last := s.etag, s.body
	s.mu.Unlock()

	hdr := http.Header{}
	if etag != "" && last != nil {
		hdr.Set("If-None-Match", etag)
	}
	status, body, respHdr, err := getWithRetry(ctx, s.Client, s.URL, hdr, s.Retries, s.Backoff)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotModified {
		return last, nil
	}

	s.mu.Lock()
	s.body = body
	s.etag = respHdr.Get("ETag")
	s.mu.Unlock()
	return body, nil
}

type discoveryDoc struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// DiscoverySource resuelve jwks_uri desde {issuer}/.well-known/openid-configuration y
// re-descubre cada TTL (el issuer puede mover su endpoint de claves).
type DiscoverySource struct {
	Issuer string
	Client *http.Client
	TTL    time.Duration

	mu           sync.Mutex // serializa discovery, incluido el I/O
	jwks         *HTTPSource
	discoveredAt time.Time

	jwksURL atomic.Pointer[string] // Source() no toma mu
}

func NewDiscoverySource(issuer string, client *http.Client, ttl time.Duration) *DiscoverySource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if ttl <= 0 {
		ttl = defaultDiscoveryTTL
	}
	return &DiscoverySource{Issuer: issuer, Client: client, TTL: ttl}
}

func (d *DiscoverySource) Source() string {
	if u := d.jwksURL.Load(); u != nil {
		return *u
	}
	return d.discoveryURL()
}

func (d *DiscoverySource) discoveryURL() string {
	return strings.TrimSuffix(d.Issuer, "/") + "/.well-known/openid-configuration"
}

func (d *DiscoverySource) FetchDocument(ctx context.Context) ([]byte, error) {
	src, err := d.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return src.FetchDocument(ctx)
}

func (d *DiscoverySource) resolve(ctx context.Context) (*HTTPSource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.jwks != nil && time.Since(d.discoveredAt) < d.TTL {
		return d.jwks, nil
	}

	status, body, _, err := getWithRetry(ctx, d.Client, d.discoveryURL(), nil, defaultRetries, defaultRetryBackoff)
	if err == nil && status != http.StatusOK {
		err = fmt.Errorf("discovery http %d", status)
	}
	if err != nil {
		if d.jwks != nil {
			// discovery caído: seguimos con el endpoint conocido
			return d.jwks, nil
		}
		return nil, err
	}

	var doc discoveryDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode discovery: %w", err)
	}
	if strings.TrimSuffix(doc.Issuer, "/") != strings.TrimSuffix(d.Issuer, "/") {
		return nil, fmt.Errorf("discovery issuer %q does not match %q", doc.Issuer, d.Issuer)
	}
	if doc.JWKSURI == "" {
		return nil, errors.New("discovery document has no jwks_uri")
	}
	if d.jwks == nil || d.jwks.URL != doc.JWKSURI {
		d.jwks = NewHTTPSource(doc.JWKSURI, d.Client)
		u := doc.JWKSURI
		d.jwksURL.Store(&u)
	}
	d.discoveredAt = time.Now()
	return d.jwks, nil
}

type retryableError struct{ error }

// getWithRetry hace GET con reintentos y backoff exponencial. 2xx y 304 son éxito;
// 5xx/429 y errores de red se reintentan; el resto de 4xx falla de inmediato.
func getWithRetry(ctx context.Context, c *http.Client, url string, hdr http.Header, retries int, backoff time.Duration) (int, []byte, http.Header, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, nil, nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		status, body, respHdr, err := getOnce(ctx, c, url, hdr)
		if err == nil {
			return status, body, respHdr, nil
		}
		lastErr = err
		var re retryableError
		if !errors.As(err, &re) || ctx.Err() != nil {
			break
		}
	}
	return 0, nil, nil, lastErr
}

func getOnce(ctx context.Context, c *http.Client, url string, hdr http.Header) (int, []byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, nil, err
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return 0, nil, nil, retryableError{err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return resp.StatusCode, nil, resp.Header, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDocumentBytes))
		return 0, nil, nil, retryableError{fmt.Errorf("GET %s: http %d", url, resp.StatusCode)}
	case resp.StatusCode/100 != 2:
		return 0, nil, nil, fmt.Errorf("GET %s: http %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return 0, nil, nil, retryableError{err}
	}
	if len(body) > maxDocumentBytes {
		return 0, nil, nil, fmt.Errorf("GET %s: document larger than %d bytes", url, maxDocumentBytes)
	}
	return resp.StatusCode, body, resp.Header, nil
}
