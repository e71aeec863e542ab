package observability

import "go.uber.org/zap"

// Logger is the logging surface library packages accept. Both the gofulmen
// *logging.Logger and a plain *zap.Logger satisfy it.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

// NopLogger discards everything.
func NopLogger() Logger {
	return zap.NewNop()
}

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
