package jwt

import (
	"context"
	"fmt"
)

// Fetcher entrega las claves de firma vigentes. Lo consume KeySetCache.Refresh.
type Fetcher interface {
	Fetch(ctx context.Context) ([]*SigningKey, error)
	Source() string
}

// DocumentFetcher entrega el documento JWKS crudo (HTTP, discovery, cache compartido).
type DocumentFetcher interface {
	FetchDocument(ctx context.Context) ([]byte, error)
	Source() string
}

// FromDocument adapta un DocumentFetcher a Fetcher parseando el JWKS.
func FromDocument(d DocumentFetcher) Fetcher {
	return &jwksFetcher{doc: d}
}

type jwksFetcher struct {
	doc DocumentFetcher
}

func (f *jwksFetcher) Source() string { return f.doc.Source() }

func (f *jwksFetcher) Fetch(ctx context.Context) ([]*SigningKey, error) {
	b, err := f.doc.FetchDocument(ctx)
	if err != nil {
		return nil, err
	}
	return ParseJWKS(b)
}

// StaticFetcher sirve un conjunto fijo de claves. Es el modo secreto compartido
// (HMAC) y lo usan los tests.
type StaticFetcher struct {
	Keys []*SigningKey
	Name string
}

// NewHMACFetcher arma un StaticFetcher con un único secreto compartido.
func NewHMACFetcher(kid string, alg Algorithm, secret []byte) (*StaticFetcher, error) {
	if alg.Class() != ClassHMAC {
		return nil, fmt.Errorf("%w: %s is not an HMAC algorithm", ErrInvalidKeyMaterial, alg)
	}
	if len(secret) == 0 {
		return nil, invalidKey(kid, "empty secret")
	}
	return &StaticFetcher{
		Keys: []*SigningKey{{
			KeyID:     kid,
			Algorithm: alg,
			Class:     ClassHMAC,
			Material:  append([]byte(nil), secret...),
		}},
		Name: "static:" + kid,
	}, nil
}

func (s *StaticFetcher) Source() string {
	if s.Name == "" {
		return "static"
	}
	return s.Name
}

func (s *StaticFetcher) Fetch(context.Context) ([]*SigningKey, error) {
	out := make([]*SigningKey, len(s.Keys))
	copy(out, s.Keys)
	return out, nil
}
