package quip

import (
	"os"

	"github.com/hashicorp/go-hclog"
	"go.uber.org/zap"
)

// Logger receives the client's diagnostics. Arguments after the message are
// alternating keys and values. hclog.Logger satisfies it as is.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

var _ Logger = hclog.Logger(nil)

// DefaultLogger returns the logger a Client uses when none is configured:
// hclog at Info level on stderr, so only errors show up.
func DefaultLogger() Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "quip",
		Level:  hclog.Info,
		Output: os.Stderr,
	})
}

// ZapLogger adapts a zap logger to Logger.
func ZapLogger(l *zap.Logger) Logger {
	if l == nil {
		return discardLogger{}
	}
	return zapLogger{s: l.Sugar()}
}

type zapLogger struct {
	s *zap.SugaredLogger
}

func (z zapLogger) Debug(msg string, args ...any) { z.s.Debugw(msg, args...) }
func (z zapLogger) Error(msg string, args ...any) { z.s.Errorw(msg, args...) }

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Error(string, ...any) {}
