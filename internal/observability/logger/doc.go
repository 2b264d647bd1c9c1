// Package logger provee un logger Zap singleton con scoping por contexto.
//
// # Decisiones
//
//   - Singleton: una sola instancia inicializada con Init() desde el comando serve.
//   - Context Scoping: cada request/conexión puede llevar su propio logger "scoped"
//     (request_id, remote, kid...) sin crear un nuevo core.
//   - Entornos: "dev" usa consola con colores, "prod" usa JSON.
//   - Niveles: debug, info, warn, error (LOG_LEVEL).
//
// # Uso
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level})
//	defer logger.Sync()
//
//	log := logger.From(ctx)
//	log.Warn("token rejected", logger.Reason(out.Reason().String()))
package logger
