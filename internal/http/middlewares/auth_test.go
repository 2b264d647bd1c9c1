package middlewares

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwtx "github.com/dropDatabas3/hellogate/internal/jwt"
)

const (
	testIssuer   = "https://issuer.test"
	testAudience = "api://gate"
)

type countingValidator struct {
	inner *jwtx.Validator
	calls int
}

func (c *countingValidator) ValidateNow(token string) jwtx.Outcome {
	c.calls++
	return c.inner.ValidateNow(token)
}

func newTestValidator(t *testing.T) (*countingValidator, *jwtx.Signer) {
	t.Helper()
	secret := []byte("a-shared-secret-long-enough-for-hs256")
	signer, err := jwtx.NewSigner(testIssuer, "k1", jwtx.HS256, secret)
	require.NoError(t, err)

	f, err := jwtx.NewHMACFetcher("k1", jwtx.HS256, secret)
	require.NoError(t, err)
	keys, err := jwtx.NewKeySetCache(f, jwtx.CacheConfig{Policy: jwtx.FailClosed})
	require.NoError(t, err)
	require.NoError(t, keys.Refresh(context.Background()))

	v := jwtx.NewValidator(keys, jwtx.ValidatorConfig{Issuer: testIssuer, Audience: testAudience})
	return &countingValidator{inner: v}, signer
}

func echoSubject(t *testing.T, called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		cl := GetClaims(r.Context())
		require.NotNil(t, cl)
		w.Write([]byte(GetUserID(r.Context()) + "|" + cl.Subject()))
	})
}

func decodeCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body.Code
}

func TestRequireAuth_ValidToken(t *testing.T) {
	v, signer := newTestValidator(t)
	tok, _, err := signer.IssueAccess("user-42", testAudience, nil)
	require.NoError(t, err)

	var called bool
	h := RequireAuth(v, AuthOptions{})(echoSubject(t, &called))

	req := httptest.NewRequest(http.MethodGet, "/v1/whoami", nil)
	req.Header.Set("Authorization", "bearer "+tok)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, called)
	assert.Equal(t, "user-42|user-42", rr.Body.String())
}

func TestRequireAuth_MissingTokenSkipsValidator(t *testing.T) {
	v, _ := newTestValidator(t)
	var called bool
	h := RequireAuth(v, AuthOptions{})(echoSubject(t, &called))

	for _, hdr := range []string{"", "Basic dXNlcjpwYXNz", "Bearer", "Bearer   "} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if hdr != "" {
			req.Header.Set("Authorization", hdr)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code, "header %q", hdr)
		assert.Equal(t, "UNAUTHORIZED", decodeCode(t, rr))
		assert.Equal(t, `Bearer realm="api"`, rr.Header().Get("WWW-Authenticate"))
	}
	assert.False(t, called)
	assert.Zero(t, v.calls)
}

func TestRequireAuth_InvalidTokensLookAlike(t *testing.T) {
	v, signer := newTestValidator(t)

	wrongAud, _, err := signer.IssueAccess("u", "someone-else", nil)
	require.NoError(t, err)
	other, err := jwtx.NewSigner("https://evil.test", "k1", jwtx.HS256, []byte("another-secret-of-decent-length!!"))
	require.NoError(t, err)
	forged, _, err := other.IssueAccess("u", testAudience, nil)
	require.NoError(t, err)

	var bodies []string
	for _, tok := range []string{"not-a-jwt", wrongAud, forged} {
		var called bool
		h := RequireAuth(v, AuthOptions{})(echoSubject(t, &called))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		assert.False(t, called)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, `Bearer error="invalid_token"`, rr.Header().Get("WWW-Authenticate"))
		bodies = append(bodies, rr.Body.String())
	}
	assert.Equal(t, 3, v.calls)
	// el motivo nunca llega al cliente
	assert.Equal(t, bodies[0], bodies[1])
	assert.Equal(t, bodies[1], bodies[2])
}

func TestRequireAuth_CustomHeaderAndScheme(t *testing.T) {
	v, signer := newTestValidator(t)
	tok, _, err := signer.IssueAccess("svc", testAudience, nil)
	require.NoError(t, err)

	t.Run("prefix", func(t *testing.T) {
		var called bool
		h := RequireAuth(v, AuthOptions{Scheme: "Token"})(echoSubject(t, &called))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Token "+tok)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)

		req.Header.Set("Authorization", "Bearer "+tok)
		rr = httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, `Token realm="api"`, rr.Header().Get("WWW-Authenticate"))
	})

	t.Run("raw header", func(t *testing.T) {
		var called bool
		h := RequireAuth(v, AuthOptions{Header: "X-Api-Token", Scheme: SchemeNone})(echoSubject(t, &called))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Api-Token", tok)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.True(t, called)
	})
}

func TestOptionalAuth(t *testing.T) {
	v, signer := newTestValidator(t)
	tok, _, err := signer.IssueAccess("user-7", testAudience, nil)
	require.NoError(t, err)

	var seen []string
	h := OptionalAuth(v, AuthOptions{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, GetUserID(r.Context()))
	}))

	for _, hdr := range []string{"", "Bearer garbage", "Bearer " + tok} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if hdr != "" {
			req.Header.Set("Authorization", hdr)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	}
	assert.Equal(t, []string{"", "", "user-7"}, seen)
}

func TestRequireUser(t *testing.T) {
	h := RequireUser()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithUserID(req.Context(), "u1"))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequireScope(t *testing.T) {
	v, signer := newTestValidator(t)
	tok, _, err := signer.IssueAccess("u", testAudience, map[string]any{"scope": "read:items write:items"})
	require.NoError(t, err)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	run := func(scope string) *httptest.ResponseRecorder {
		h := Chain(ok, RequireAuth(v, AuthOptions{}), RequireScope(scope))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusOK, run("read:items").Code)
	assert.Equal(t, http.StatusOK, run("").Code)

	rr := run("admin")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "INSUFFICIENT_SCOPES", decodeCode(t, rr))
	assert.Contains(t, rr.Header().Get("WWW-Authenticate"), `insufficient_scope`)

	// sin RequireAuth antes
	rr = httptest.NewRecorder()
	RequireScope("read:items")(ok).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
