// Package logger wraps zap behind logr, the same shape used throughout
// this codebase: a named root logger, sub-loggers per subsystem, and
// Info/Debug/Trace convenience methods mapped onto logr verbosity levels.
package logger

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log wraps a logr.Logger with Info/Debug/Trace helpers.
type Log struct {
	logr.Logger
}

// New creates a root logger. If logPath is non-empty, output also goes to
// <logPath>/<name>.log.
func New(name, logPath string, production bool) (*Log, error) {
	var zc zap.Config
	if production {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zc.DisableCaller = true
	zc.DisableStacktrace = true

	if logPath != "" {
		if err := os.MkdirAll(logPath, fs.ModeDir); err != nil {
			return nil, err
		}
		zc.OutputPaths = []string{filepath.Join(logPath, fmt.Sprintf("%s.log", name))}
	}

	z, err := zc.Build()
	if err != nil {
		return nil, err
	}

	log := zapr.NewLogger(z)
	return &Log{Logger: log.WithName(name)}, nil
}

// NewSimple returns a logger over the already-configured global zap
// logger, for short-lived tools (CLIs) that don't need their own sinks.
func NewSimple(name string) *Log {
	return &Log{Logger: zapr.NewLogger(zap.L().Named(name))}
}

// New returns a named sub-logger.
func (l *Log) New(name string) *Log {
	return &Log{Logger: l.WithName(name)}
}

// Info logs at the default verbosity.
func (l *Log) Info(msg string, args ...any) {
	l.Logger.V(0).WithValues(args...).Info(msg)
}

// Debug logs at verbosity 1.
func (l *Log) Debug(msg string, args ...any) {
	l.Logger.V(1).WithValues(args...).Info(msg)
}

// Trace logs at verbosity 2.
func (l *Log) Trace(msg string, args ...any) {
	l.Logger.V(2).WithValues(args...).Info(msg)
}
