// Package zap adapts go.uber.org/zap to access.Logger.
package zap

import (
	"go.uber.org/zap"

	"github.com/mihaimyh/goaccess/pkg/access"
)

// Logger implements access.Logger using zap.
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates a new zap logger adapter. A nil logger is replaced by zap.NewNop.
func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger}
}

func (l *Logger) Debug(msg string, fields ...access.Field) {
	l.logger.Debug(msg, convert(fields)...)
}

func (l *Logger) Info(msg string, fields ...access.Field) {
	l.logger.Info(msg, convert(fields)...)
}

func (l *Logger) Warn(msg string, fields ...access.Field) {
	l.logger.Warn(msg, convert(fields)...)
}

func (l *Logger) Error(msg string, fields ...access.Field) {
	l.logger.Error(msg, convert(fields)...)
}

func convert(fields []access.Field) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		if err, ok := f.Value.(error); ok {
			out[i] = zap.NamedError(f.Key, err)
			continue
		}
		out[i] = zap.Any(f.Key, f.Value)
	}
	return out
}
