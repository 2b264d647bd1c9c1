package tlsx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/hellogate/internal/testutil"
)

func TestInstall_WritesValidPairOnly(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "live")
	certFile := filepath.Join(dir, "tls.crt")
	keyFile := filepath.Join(dir, "tls.key")

	a := testutil.SelfSigned(t, "a.local")
	id, err := Install(certFile, keyFile, a.CertPEM, a.KeyPEM)
	require.NoError(t, err)
	assert.Equal(t, "a.local", id.Subject())

	st, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	// par inconsistente: no se toca lo instalado
	b := testutil.SelfSigned(t, "b.local")
	_, err = Install(certFile, keyFile, b.CertPEM, a.KeyPEM)
	require.ErrorIs(t, err, ErrInvalidIdentity)

	got, err := LoadIdentityFiles(certFile, keyFile)
	require.NoError(t, err)
	assert.Equal(t, "a.local", got.Subject())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}
