package jwt

import (
	"context"
	"errors"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const partnerIssuer = "https://partner.example.org"

func providerFor(t *testing.T, name, issuer string, signers ...*Signer) (*Provider, *mutableFetcher) {
	t.Helper()
	keys, f := newCache(t, FailClosed, newClock(), signers...)
	v := NewValidator(keys, ValidatorConfig{
		Issuer:   issuer,
		Audience: testAudience,
		Now:      func() time.Time { return testEpoch },
	})
	return &Provider{Name: name, Keys: keys, Validator: v}, f
}

func claimsFor(issuer string) jwtv5.MapClaims {
	c := stdClaims()
	c["iss"] = issuer
	return c
}

func TestProviders_RoutesByIssuer(t *testing.T) {
	corpKey := edSigner(t, "corp-1")
	partnerKey := hmacSigner(t, "partner-1", "partner-shared-secret")
	corp, _ := providerFor(t, "corp", testIssuer, corpKey)
	partner, _ := providerFor(t, "partner", partnerIssuer, partnerKey)

	ps, err := NewProviders(corp, partner)
	require.NoError(t, err)

	out := ps.ValidateNow(sign(t, corpKey, claimsFor(testIssuer)))
	require.True(t, out.Valid(), out.Err())
	assert.Equal(t, testIssuer, out.Claims().Issuer())

	out = ps.ValidateNow(sign(t, partnerKey, claimsFor(partnerIssuer)))
	require.True(t, out.Valid(), out.Err())

	// clave de un provider con el iss del otro: el key set elegido no la conoce
	out = ps.ValidateNow(sign(t, corpKey, claimsFor(partnerIssuer)))
	assert.Equal(t, UnknownKey, out.Reason())

	out = ps.ValidateNow(sign(t, corpKey, claimsFor("https://stranger.example.net")))
	assert.Equal(t, UnknownKey, out.Reason())

	assert.Equal(t, Malformed, ps.ValidateNow("not-a-token").Reason())

	p, ok := ps.Provider("partner")
	require.True(t, ok)
	assert.Equal(t, partnerIssuer, p.Issuer())
	names := []string{}
	for _, p := range ps.All() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"corp", "partner"}, names)
}

func TestProviders_RotationIsPerIssuer(t *testing.T) {
	oldCorp := edSigner(t, "corp-1")
	newCorp := edSigner(t, "corp-2")
	partnerKey := rsaSigner(t, "partner-1")
	corp, corpFetcher := providerFor(t, "corp", testIssuer, oldCorp)
	partner, partnerFetcher := providerFor(t, "partner", partnerIssuer, partnerKey)
	ps, err := NewProviders(corp, partner)
	require.NoError(t, err)

	partnerTok := sign(t, partnerKey, claimsFor(partnerIssuer))

	corpFetcher.set(nil, newCorp.VerificationKey())
	require.NoError(t, corp.Keys.Refresh(context.Background()))

	assert.Equal(t, UnknownKey, ps.ValidateNow(sign(t, oldCorp, claimsFor(testIssuer))).Reason())
	assert.True(t, ps.ValidateNow(sign(t, newCorp, claimsFor(testIssuer))).Valid())
	assert.True(t, ps.ValidateNow(partnerTok).Valid())

	// el issuer del partner se cae: corp refresca igual y el set del partner sigue instalado
	partnerFetcher.set(errors.New("partner down"))
	err = ps.Refresh(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider partner")
	assert.True(t, ps.ValidateNow(sign(t, newCorp, claimsFor(testIssuer))).Valid())
	assert.Equal(t, 1, partner.Keys.Stats().Keys)
}

func TestProviders_SingleProviderKeepsIssuerMismatch(t *testing.T) {
	s := hmacSigner(t, "k", "secret-secret-secret")
	only, _ := providerFor(t, "default", testIssuer, s)
	ps, err := NewProviders(only)
	require.NoError(t, err)

	assert.Equal(t, IssuerMismatch, ps.ValidateNow(sign(t, s, claimsFor(partnerIssuer))).Reason())
}

func TestNewProviders_Validation(t *testing.T) {
	a, _ := providerFor(t, "a", testIssuer, hmacSigner(t, "k", "secret-a"))
	sameName, _ := providerFor(t, "a", partnerIssuer, hmacSigner(t, "k", "secret-b"))
	sameIssuer, _ := providerFor(t, "b", testIssuer, hmacSigner(t, "k", "secret-c"))

	_, err := NewProviders()
	require.Error(t, err)
	_, err = NewProviders(a, sameName)
	require.ErrorContains(t, err, "duplicate provider name")
	_, err = NewProviders(a, sameIssuer)
	require.ErrorContains(t, err, "duplicate provider issuer")
}
