// Package logging builds the controller logger and emits audit events.
package logging

import (
	"github.com/go-logr/logr"
	"go.uber.org/zap/zapcore"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/dc-tec/vaultsync-operator/internal/config"
)

// Level maps a configured log level onto zap. logr V(n) corresponds to zap level -n,
// so verbose enables V(2) and debug enables V(1).
func Level(level config.LogLevel) zapcore.Level {
	switch level {
	case config.LogLevelVerbose:
		return zapcore.Level(-2)
	case config.LogLevelDebug:
		return zapcore.DebugLevel
	case config.LogLevelWarning:
		return zapcore.WarnLevel
	case config.LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ZapOptions returns controller-runtime zap options seeded from cfg. Callers may
// bind them to flags before building the logger.
func ZapOptions(cfg config.Config) zap.Options {
	return zap.Options{
		// Development selects the console encoder; production selects JSON.
		Development: !cfg.EnableJSONLogging,
		Level:       Level(cfg.LogLevel),
		TimeEncoder: zapcore.ISO8601TimeEncoder,
	}
}

// New builds a logger from options returned by ZapOptions, possibly overridden
// by --zap-* flags. extra is applied last.
func New(opts zap.Options, extra ...zap.Opts) logr.Logger {
	return zap.New(append([]zap.Opts{zap.UseFlagOptions(&opts)}, extra...)...)
}
