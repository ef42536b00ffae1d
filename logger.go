package main

import (
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// diagLogger is the process-wide diagnostics sink: stderr-only, never
// touches stdout, since stdout carries the RPC wire protocol. Level is
// gated by Config.Debug; format (text vs. json) by Config.LogFormat.
type diagLogger struct {
	inner *log.Logger
}

func newDiagLogger(cfg *Config) *diagLogger {
	level := log.InfoLevel
	if cfg.Debug {
		level = log.DebugLevel
	}
	l := log.NewWithOptions(os.Stderr, log.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	if cfg.LogFormat == "json" {
		l.SetFormatter(log.JSONFormatter)
	}
	return &diagLogger{inner: l}
}

func (d *diagLogger) Debugf(format string, args ...any) {
	d.inner.Debugf(format, args...)
}

func (d *diagLogger) Infof(format string, args ...any) {
	d.inner.Infof(format, args...)
}

func (d *diagLogger) Warnf(format string, args ...any) {
	d.inner.Warnf(format, args...)
}

func (d *diagLogger) Errorf(format string, args ...any) {
	d.inner.Errorf(format, args...)
}

// With attaches structured key/value pairs to a derived logger, matching
// charmbracelet/log's contextual-fields idiom.
func (d *diagLogger) With(keyvals ...any) *diagLogger {
	return &diagLogger{inner: d.inner.With(keyvals...)}
}
