package logger

import "strings"

// Logger is the structured logger used across the module.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

type NoopLogger struct{}

func (NoopLogger) Debug(string, map[string]any) {}
func (NoopLogger) Info(string, map[string]any)  {}
func (NoopLogger) Warn(string, map[string]any)  {}
func (NoopLogger) Error(string, map[string]any) {}

// New builds a logger for the named backend ("zap" or "logrus").
func New(backend, level string) Logger {
	switch strings.ToLower(backend) {
	case "logrus":
		return NewLogrusLogger(level)
	default:
		return NewZapLogger(level)
	}
}
