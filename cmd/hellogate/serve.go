package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dropDatabas3/hellogate/internal/app"
	"github.com/dropDatabas3/hellogate/internal/config"
	"github.com/dropDatabas3/hellogate/internal/metrics"
	"github.com/dropDatabas3/hellogate/internal/observability/logger"
)

func newServeCmd() *cobra.Command {
	var (
		configPath = envOr("HELLOGATE_CONFIG", "")
		envFile    = ".env"
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Levanta el gateway (SIGHUP recarga certificado y claves)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("env file: %w", err)
				}
			}
			if configPath == "" && fileExists("configs/config.yaml") {
				configPath = "configs/config.yaml"
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "hellogate"})
			defer func() { _ = logger.Sync() }()
			log := logger.Named("serve")

			if cfg.Metrics.Enabled {
				if err := metrics.Register(nil); err != nil {
					return fmt.Errorf("metrics: %w", err)
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ctr, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer ctr.Close()

			ln, err := ctr.Listen()
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
			}

			go reloadOnHangup(ctx, ctr)

			log.Info("starting",
				zap.String("env", cfg.App.Env),
				zap.String("config", configPath),
				zap.String("issuer", cfg.OIDC.Issuer),
				zap.String("stale_policy", cfg.OIDC.StalePolicy),
			)
			if err := ctr.Run(ctx, ln); err != nil {
				return err
			}
			log.Info("stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", configPath, "ruta a config.yaml (env HELLOGATE_CONFIG)")
	cmd.Flags().StringVar(&envFile, "env-file", envFile, "ruta a .env (se ignora si no existe)")
	return cmd
}

func reloadOnHangup(ctx context.Context, ctr *app.Container) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			logger.Named("serve").Info("SIGHUP received, reloading certificate and key set")
			ctr.Reload()
		}
	}
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}
