package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu       sync.RWMutex
	instance *zap.Logger
)

// Init inicializa el logger global. Llamadas posteriores reemplazan la instancia
// (el comando serve lo llama una vez, los tests pueden usar Set con un observer).
func Init(cfg Config) {
	Set(build(cfg))
}

// Set instala un logger ya construido (útil en tests con zaptest/observer).
func Set(l *zap.Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	instance = l
	mu.Unlock()
}

// L retorna el logger global. Sin Init devuelve un Nop para no ensuciar la salida de tests.
func L() *zap.Logger {
	mu.RLock()
	l := instance
	mu.RUnlock()
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Named retorna un logger con nombre de componente.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// Sync flushea buffers pendientes. Usar con defer en main.
func Sync() error {
	mu.RLock()
	l := instance
	mu.RUnlock()
	if l != nil {
		return l.Sync()
	}
	return nil
}
