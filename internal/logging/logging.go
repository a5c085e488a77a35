// Package logging wraps zap behind a single process-wide sugared logger,
// mirroring the singleton logger.Logger() pattern common across the Go ecosystem.
package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once   sync.Once
	sugar  *zap.SugaredLogger
)

// Logger returns the process-wide structured logger. The run log is JSON,
// so production config is used unconditionally.
func Logger() *zap.SugaredLogger {
	once.Do(func() {
		l, err := zap.NewProduction()
		if err != nil {
			l = zap.NewNop()
		}
		sugar = l.Sugar()
	})
	return sugar
}

// Configure replaces the logger returned by later Logger calls. Package-level
// loggers already obtained from Logger keep the logger they were given.
func Configure(l *zap.Logger) {
	sugar = l.Sugar()
}

// Sync flushes any buffered log entries; call on process exit.
func Sync() {
	if sugar != nil {
		_ = sugar.Sync()
	}
}
