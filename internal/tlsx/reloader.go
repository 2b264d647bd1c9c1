package tlsx

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/dropDatabas3/hellogate/internal/observability/logger"
)

const defaultDebounce = 500 * time.Millisecond

// Reloader reinstala la identidad cuando cambian cert/key en disco.
// Observa los directorios (no los archivos) para sobrevivir a reemplazos por rename
// y a los symlinks ..data de los volúmenes de Kubernetes.
type Reloader struct {
	store    *CertificateStore
	certFile string
	keyFile  string
	debounce time.Duration
	log      *zap.Logger

	mu      sync.Mutex // serializa Reload
	lastErr error
}

// NewReloader crea el reloader. debounce <= 0 usa 500ms.
func NewReloader(store *CertificateStore, certFile, keyFile string, debounce time.Duration) *Reloader {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Reloader{
		store:    store,
		certFile: filepath.Clean(certFile),
		keyFile:  filepath.Clean(keyFile),
		debounce: debounce,
		log:      logger.Named("tlsx.reloader"),
	}
}

// Reload lee cert/key y los instala. Si fallan, la identidad anterior sigue vigente.
// También lo usa el handler de SIGHUP.
func (r *Reloader) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.store.ReplaceFiles(r.certFile, r.keyFile)
	r.lastErr = err
	if err != nil {
		return fmt.Errorf("reload %s: %w", r.certFile, err)
	}
	return nil
}

// LastError devuelve el resultado del último Reload (nil si fue exitoso).
func (r *Reloader) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Run observa los archivos hasta que ctx se cancele. Ráfagas de eventos (un editor
// escribe cert y key por separado) se agrupan en un único Reload.
func (r *Reloader) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	dirs := map[string]struct{}{
		filepath.Dir(r.certFile): {},
		filepath.Dir(r.keyFile):  {},
	}
	for d := range dirs {
		if err := w.Add(d); err != nil {
			return fmt.Errorf("watch %s: %w", d, err)
		}
	}
	r.log.Info("watching tls identity files",
		zap.String("cert_file", r.certFile),
		zap.String("key_file", r.keyFile),
		zap.Duration("debounce", r.debounce),
	)

	timer := time.NewTimer(r.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !r.relevant(ev) {
				continue
			}
			if pending && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(r.debounce)
			pending = true

		case <-timer.C:
			pending = false
			if err := r.Reload(); err != nil {
				r.log.Warn("tls identity reload failed", logger.Err(err))
			}

		case werr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("watcher error", logger.Err(werr))
		}
	}
}

func (r *Reloader) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	name := filepath.Clean(ev.Name)
	if name == r.certFile || name == r.keyFile {
		return true
	}
	// swaps atómicos de Kubernetes (..data, ..2024_01_01...)
	return strings.HasPrefix(filepath.Base(name), "..")
}
