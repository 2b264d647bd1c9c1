package jwt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/hellogate/internal/cache"
)

func jwksDoc(t *testing.T, signers ...*Signer) []byte {
	t.Helper()
	keys := make([]*SigningKey, 0, len(signers))
	for _, s := range signers {
		keys = append(keys, s.VerificationKey())
	}
	b, err := MarshalJWKS(keys...)
	require.NoError(t, err)
	return b
}

func TestHTTPSource_ETag(t *testing.T) {
	doc := jwksDoc(t, edSigner(t, "ed-1"))
	var hits, notModified atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write(doc)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, srv.Client())
	f := FromDocument(src)

	keys, err := f.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, keys, 1)

	keys, err = f.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "ed-1", keys[0].KeyID)

	assert.EqualValues(t, 2, hits.Load())
	assert.EqualValues(t, 1, notModified.Load())
	assert.Equal(t, srv.URL, f.Source())
}

func TestHTTPSource_RetriesServerErrors(t *testing.T) {
	doc := jwksDoc(t, edSigner(t, "ed-1"))
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(doc)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, srv.Client())
	src.Backoff = time.Millisecond

	_, err := src.FetchDocument(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, hits.Load())
}

func TestHTTPSource_NoRetryOnClientError(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, srv.Client())
	src.Backoff = time.Millisecond

	_, err := src.FetchDocument(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, 1, hits.Load())
}

func TestDiscoverySource(t *testing.T) {
	doc := jwksDoc(t, edSigner(t, "ed-1"))
	var discoveries atomic.Int64

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		discoveries.Add(1)
		_, _ = w.Write([]byte(`{"issuer":"` + srv.URL + `","jwks_uri":"` + srv.URL + `/keys"}`))
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(doc)
	})

	d := NewDiscoverySource(srv.URL+"/", srv.Client(), time.Hour)
	f := FromDocument(d)

	for i := 0; i < 3; i++ {
		keys, err := f.Fetch(context.Background())
		require.NoError(t, err)
		require.Len(t, keys, 1)
	}
	assert.EqualValues(t, 1, discoveries.Load(), "discovery document is cached for the TTL")
	assert.Equal(t, srv.URL+"/keys", d.Source())
}

func TestDiscoverySource_IssuerMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"issuer":"https://someone-else","jwks_uri":"https://someone-else/keys"}`))
	}))
	defer srv.Close()

	_, err := NewDiscoverySource(srv.URL, srv.Client(), 0).FetchDocument(context.Background())
	require.Error(t, err)
}

func TestDiscoverySource_SourceDoesNotWaitForDiscovery(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(entered) })
		<-release
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	defer close(release)

	d := NewDiscoverySource(srv.URL, srv.Client(), 0)
	go func() { _, _ = d.FetchDocument(context.Background()) }()
	<-entered

	got := make(chan string, 1)
	go func() { got <- d.Source() }()
	select {
	case s := <-got:
		assert.Equal(t, srv.URL+"/.well-known/openid-configuration", s)
	case <-time.After(time.Second):
		t.Fatal("Source blocked behind an in-flight discovery")
	}
}

type countingDoc struct {
	doc   []byte
	calls atomic.Int64
}

func (c *countingDoc) Source() string { return "https://issuer.example.com/keys" }

func (c *countingDoc) FetchDocument(context.Context) ([]byte, error) {
	c.calls.Add(1)
	return c.doc, nil
}

func TestCachedSource_SharesDocument(t *testing.T) {
	inner := &countingDoc{doc: jwksDoc(t, edSigner(t, "ed-1"))}
	shared := cache.NewMemory("test", time.Minute)

	// dos "réplicas" sobre el mismo cache
	r1 := NewCachedSource(inner, shared, time.Minute)
	r2 := NewCachedSource(inner, shared, time.Minute)

	_, err := r1.FetchDocument(context.Background())
	require.NoError(t, err)
	b, err := r2.FetchDocument(context.Background())
	require.NoError(t, err)
	assert.Equal(t, inner.doc, b)
	assert.EqualValues(t, 1, inner.calls.Load())

	_, err = r2.FetchDocument(WithCacheBypass(context.Background()))
	require.NoError(t, err)
	assert.EqualValues(t, 2, inner.calls.Load())
}

func TestStaticFetcher_HMAC(t *testing.T) {
	_, err := NewHMACFetcher("k", RS256, []byte("x"))
	require.ErrorIs(t, err, ErrInvalidKeyMaterial)
	_, err = NewHMACFetcher("k", HS256, nil)
	require.ErrorIs(t, err, ErrInvalidKeyMaterial)

	f, err := NewHMACFetcher("shared", HS384, []byte("secret"))
	require.NoError(t, err)
	keys, err := f.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, HS384, keys[0].Algorithm)
	assert.Equal(t, "static:shared", f.Source())
}
