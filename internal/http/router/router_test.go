package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mw "github.com/dropDatabas3/hellogate/internal/http/middlewares"
	jwtx "github.com/dropDatabas3/hellogate/internal/jwt"
	"github.com/dropDatabas3/hellogate/internal/testutil"
	"github.com/dropDatabas3/hellogate/internal/tlsx"
)

const (
	iss = "https://issuer.test"
	aud = "api://gate"
)

type fixture struct {
	handler http.Handler
	signer  *jwtx.Signer
	keys    *jwtx.KeySetCache
	certs   *tlsx.CertificateStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	secret := []byte("router-test-secret-with-enough-bytes")
	signer, err := jwtx.NewSigner(iss, "k1", jwtx.HS256, secret)
	require.NoError(t, err)
	f, err := jwtx.NewHMACFetcher("k1", jwtx.HS256, secret)
	require.NoError(t, err)
	keys, err := jwtx.NewKeySetCache(f, jwtx.CacheConfig{Policy: jwtx.FailClosed})
	require.NoError(t, err)
	certs, err := tlsx.NewCertificateStore(nil)
	require.NoError(t, err)

	h := New(Deps{
		Validator:      jwtx.NewValidator(keys, jwtx.ValidatorConfig{Issuer: iss, Audience: aud}),
		Keys:           map[string]KeySetStatus{"default": keys},
		Certs:          certs,
		MetricsEnabled: true,
	})
	return &fixture{handler: h, signer: signer, keys: keys, certs: certs}
}

func (f *fixture) do(method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestReadyz_WaitsForKeysAndCertificate(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/readyz", "").Code)

	require.NoError(t, f.keys.Refresh(context.Background()))
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/readyz", "").Code)

	c := testutil.SelfSigned(t, "gate.test")
	require.NoError(t, f.certs.ReplacePEM(c.CertPEM, c.KeyPEM))

	rr := f.do(http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body readiness
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Keys)
	require.Len(t, body.Providers, 1)
	assert.Equal(t, "default", body.Providers[0].Name)
	assert.Equal(t, "static:k1", body.Providers[0].Source)
	assert.Equal(t, uint64(1), body.CertGen)
	assert.NotNil(t, body.CertExpiry)
}

func TestReadyz_EveryProviderNeedsKeys(t *testing.T) {
	secret := []byte("router-test-secret-with-enough-bytes")
	newKeys := func(kid string) *jwtx.KeySetCache {
		f, err := jwtx.NewHMACFetcher(kid, jwtx.HS256, secret)
		require.NoError(t, err)
		keys, err := jwtx.NewKeySetCache(f, jwtx.CacheConfig{Policy: jwtx.FailClosed})
		require.NoError(t, err)
		return keys
	}
	corp, partner := newKeys("corp"), newKeys("partner")
	require.NoError(t, corp.Refresh(context.Background()))

	h := New(Deps{Keys: map[string]KeySetStatus{"corp": corp, "partner": partner}})
	do := func() *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		return rr
	}

	rr := do()
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var body readiness
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "not_ready", body.Status)
	require.Len(t, body.Providers, 2)
	assert.Equal(t, "corp", body.Providers[0].Name)
	assert.Equal(t, 1, body.Providers[0].Keys)
	assert.Zero(t, body.Providers[1].Keys)

	require.NoError(t, partner.Refresh(context.Background()))
	rr = do()
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestWhoami(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.keys.Refresh(context.Background()))

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/v1/whoami", "").Code)

	tok, _, err := f.signer.IssueAccess("user-1", aud, map[string]any{"scope": "read write", "tenant": "acme"})
	require.NoError(t, err)

	rr := f.do(http.MethodGet, "/v1/whoami", tok)
	require.Equal(t, http.StatusOK, rr.Code)

	var body whoamiResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "user-1", body.Subject)
	assert.Equal(t, iss, body.Issuer)
	assert.Equal(t, []string{aud}, body.Audience)
	assert.Equal(t, []string{"read", "write"}, body.Scopes)
	assert.Equal(t, "acme", body.Extra["tenant"])
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/nope", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(http.MethodPost, "/healthz", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

var _ mw.TokenValidator = (*jwtx.Validator)(nil)
