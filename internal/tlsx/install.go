package tlsx

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Install valida certPEM/keyPEM como identidad y recién entonces los escribe en
// certFile/keyFile. Cada archivo se reemplaza con write+fsync+rename, la clave
// primero: un Reloader que mire esos paths nunca lee un archivo a medio escribir.
func Install(certFile, keyFile string, certPEM, keyPEM []byte) (*Identity, error) {
	id, err := ParseIdentityPEM(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(keyFile, keyPEM, 0o600); err != nil {
		return nil, err
	}
	if err := writeAtomic(certFile, certPEM, 0o644); err != nil {
		return nil, err
	}
	return id, nil
}

// writeAtomic: tmp en el mismo directorio → Sync → Close → Chmod → Rename.
// Si rename falla (Windows con el destino abierto) intenta remove+rename.
func writeAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(path)
		if err2 := os.Rename(tmpPath, path); err2 != nil {
			return fmt.Errorf("rename %s: %v (after remove: %v)", path, err, err2)
		}
	}
	return nil
}
