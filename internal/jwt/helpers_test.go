package jwt

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://issuer.example.com"
	testAudience = "api://gateway"
)

var testEpoch = time.Unix(1_700_000_000, 0)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock { return &fakeClock{t: testEpoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// mutableFetcher sirve lo que tenga configurado en cada llamada y cuenta los fetches.
type mutableFetcher struct {
	mu    sync.Mutex
	keys  []*SigningKey
	err   error
	calls atomic.Int64
}

func (f *mutableFetcher) Source() string { return "test" }

func (f *mutableFetcher) Fetch(context.Context) ([]*SigningKey, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]*SigningKey(nil), f.keys...), nil
}

func (f *mutableFetcher) set(err error, keys ...*SigningKey) {
	f.mu.Lock()
	f.keys, f.err = keys, err
	f.mu.Unlock()
}

func rsaSigner(t testing.TB, kid string) *Signer {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	s, err := NewSigner(testIssuer, kid, RS256, k)
	require.NoError(t, err)
	return s
}

func ecSigner(t testing.TB, kid string) *Signer {
	t.Helper()
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	s, err := NewSigner(testIssuer, kid, ES256, k)
	require.NoError(t, err)
	return s
}

func edSigner(t testing.TB, kid string) *Signer {
	t.Helper()
	_, k, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	s, err := NewSigner(testIssuer, kid, EdDSA, k)
	require.NoError(t, err)
	return s
}

func hmacSigner(t testing.TB, kid string, secret string) *Signer {
	t.Helper()
	s, err := NewSigner(testIssuer, kid, HS256, []byte(secret))
	require.NoError(t, err)
	return s
}

// stdClaims arma claims válidos respecto de testEpoch.
func stdClaims() jwtv5.MapClaims {
	return jwtv5.MapClaims{
		"iss": testIssuer,
		"sub": "user-123",
		"aud": testAudience,
		"iat": testEpoch.Unix(),
		"exp": testEpoch.Add(time.Hour).Unix(),
	}
}

func sign(t testing.TB, s *Signer, claims jwtv5.MapClaims) string {
	t.Helper()
	tok, err := s.SignRaw(claims)
	require.NoError(t, err)
	return tok
}

// newCache arma un KeySetCache ya poblado con las claves verificadoras de los signers.
func newCache(t testing.TB, policy StalePolicy, clock *fakeClock, signers ...*Signer) (*KeySetCache, *mutableFetcher) {
	t.Helper()
	f := &mutableFetcher{}
	keys := make([]*SigningKey, 0, len(signers))
	for _, s := range signers {
		keys = append(keys, s.VerificationKey())
	}
	f.set(nil, keys...)

	c, err := NewKeySetCache(f, CacheConfig{
		Policy:           policy,
		MaxAge:           10 * time.Minute,
		MissRefreshGrace: 30 * time.Second,
		Now:              clock.Now,
	})
	require.NoError(t, err)
	require.NoError(t, c.Refresh(context.Background()))
	return c, f
}
