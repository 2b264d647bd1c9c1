package http

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/hellogate/internal/observability/logger"
)

// ServerOptions son los timeouts del http.Server.
type ServerOptions struct {
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Serve atiende handler sobre ln (plano o el listener TLS de tlsx) hasta que ctx se
// cancela, y entonces hace un shutdown ordenado. Devuelve nil en un cierre normal.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, opts ServerOptions) error {
	if opts.ReadHeaderTimeout <= 0 {
		opts.ReadHeaderTimeout = 10 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 15 * time.Second
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
		ErrorLog:          errorLog(),
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		_ = srv.Close()
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func errorLog() *log.Logger {
	l, err := zap.NewStdLogAt(logger.Named("http.server"), zap.WarnLevel)
	if err != nil {
		return zap.NewStdLog(logger.L())
	}
	return l
}
