package tlsx

import (
	"crypto"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/hellogate/internal/testutil"
)

func mustIdentity(t *testing.T, c testutil.Cert) *Identity {
	t.Helper()
	id, err := ParseIdentityPEM(c.CertPEM, c.KeyPEM)
	require.NoError(t, err)
	return id
}

func TestStore_EmptyThenReplace(t *testing.T) {
	s, err := NewCertificateStore(nil)
	require.NoError(t, err)
	assert.Nil(t, s.Current())
	assert.Zero(t, s.Generation())

	_, err = s.GetCertificate(nil)
	require.ErrorIs(t, err, ErrNoIdentity)

	a := mustIdentity(t, testutil.SelfSigned(t, "a.local"))
	require.NoError(t, s.Replace(a))
	assert.Same(t, a, s.Current())
	assert.EqualValues(t, 1, s.Generation())

	cert, err := s.GetCertificate(nil)
	require.NoError(t, err)
	assert.Equal(t, "a.local", cert.Leaf.Subject.CommonName)
}

func TestStore_RejectedReplaceKeepsPrevious(t *testing.T) {
	a := mustIdentity(t, testutil.SelfSigned(t, "a.local"))
	s, err := NewCertificateStore(a)
	require.NoError(t, err)

	other := testutil.SelfSigned(t, "b.local")
	require.ErrorIs(t, s.ReplacePEM(other.CertPEM, []byte("garbage")), ErrInvalidIdentity)
	require.ErrorIs(t, s.ReplacePEM(other.CertPEM, testutil.SelfSigned(t, "c").KeyPEM), ErrInvalidIdentity)
	require.ErrorIs(t, s.Replace(nil), ErrInvalidIdentity)
	require.ErrorIs(t, s.Replace(&Identity{}), ErrInvalidIdentity)
	require.ErrorIs(t, s.ReplaceFiles("/nonexistent/cert.pem", "/nonexistent/key.pem"), ErrInvalidIdentity)

	assert.Same(t, a, s.Current())
	assert.EqualValues(t, 1, s.Generation())
}

func TestStore_ReplaceFiles(t *testing.T) {
	s, err := NewCertificateStore(nil)
	require.NoError(t, err)

	certFile, keyFile := testutil.WriteFiles(t, t.TempDir(), testutil.SelfSigned(t, "files.local"))
	require.NoError(t, s.ReplaceFiles(certFile, keyFile))
	assert.Equal(t, "files.local", s.Current().Subject())
}

// Un lector concurrente nunca ve una cadena de una identidad con la clave de otra.
func TestStore_ConcurrentReadersSeeConsistentPairs(t *testing.T) {
	ids := []*Identity{
		mustIdentity(t, testutil.SelfSigned(t, "a.local")),
		mustIdentity(t, testutil.SelfSigned(t, "b.local")),
		mustIdentity(t, testutil.SelfSigned(t, "c.local")),
	}
	s, err := NewCertificateStore(ids[0])
	require.NoError(t, err)

	var stop atomic.Bool
	var bad atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var lastGen uint64
			for !stop.Load() {
				gen := s.Generation()
				if gen < lastGen {
					bad.Add(1)
				}
				lastGen = gen

				id := s.Current()
				cert := id.TLSCertificate()
				pub := cert.Leaf.PublicKey.(interface{ Equal(crypto.PublicKey) bool })
				if !pub.Equal(id.PrivateKey().Public()) {
					bad.Add(1)
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		require.NoError(t, s.Replace(ids[i%len(ids)]))
	}
	stop.Store(true)
	wg.Wait()

	assert.Zero(t, bad.Load())
	assert.EqualValues(t, 501, s.Generation())
}
