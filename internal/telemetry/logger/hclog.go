package logger

import (
	"bytes"
	"context"
	"io"
	"log"
	"log/slog"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// HCLog adapts l to hclog.Logger for hashicorp libraries.
func HCLog(l *slog.Logger, name string) hclog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return &hclogAdapter{logger: l.With("component", name), name: name}
}

type hclogAdapter struct {
	logger  *slog.Logger
	name    string
	implied []any
}

func toSlogLevel(level hclog.Level) slog.Level {
	switch level {
	case hclog.Trace, hclog.Debug:
		return slog.LevelDebug
	case hclog.Warn:
		return slog.LevelWarn
	case hclog.Error:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *hclogAdapter) Log(level hclog.Level, msg string, args ...any) {
	l.logger.Log(context.Background(), toSlogLevel(level), msg, args...)
}

func (l *hclogAdapter) Trace(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *hclogAdapter) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *hclogAdapter) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *hclogAdapter) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *hclogAdapter) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l *hclogAdapter) enabled(level slog.Level) bool {
	return l.logger.Enabled(context.Background(), level)
}

func (l *hclogAdapter) IsTrace() bool { return false }
func (l *hclogAdapter) IsDebug() bool { return l.enabled(slog.LevelDebug) }
func (l *hclogAdapter) IsInfo() bool  { return l.enabled(slog.LevelInfo) }
func (l *hclogAdapter) IsWarn() bool  { return l.enabled(slog.LevelWarn) }
func (l *hclogAdapter) IsError() bool { return l.enabled(slog.LevelError) }

func (l *hclogAdapter) ImpliedArgs() []any { return l.implied }

func (l *hclogAdapter) With(args ...any) hclog.Logger {
	implied := append(append([]any(nil), l.implied...), args...)
	return &hclogAdapter{logger: l.logger.With(args...), name: l.name, implied: implied}
}

func (l *hclogAdapter) Name() string { return l.name }

func (l *hclogAdapter) Named(name string) hclog.Logger {
	if l.name != "" {
		name = l.name + "." + name
	}
	return l.ResetNamed(name)
}

func (l *hclogAdapter) ResetNamed(name string) hclog.Logger {
	return &hclogAdapter{logger: l.logger.With("component", name), name: name, implied: l.implied}
}

// SetLevel is a no-op; the process level is owned by SetLevel in this
// package.
func (l *hclogAdapter) SetLevel(hclog.Level) {}

func (l *hclogAdapter) GetLevel() hclog.Level {
	switch globalLevel.Level() {
	case slog.LevelDebug:
		return hclog.Debug
	case slog.LevelWarn:
		return hclog.Warn
	case slog.LevelError:
		return hclog.Error
	default:
		return hclog.Info
	}
}

func (l *hclogAdapter) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger {
	return log.New(l.StandardWriter(opts), "", 0)
}

func (l *hclogAdapter) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	w := &stdWriter{logger: l.logger, level: slog.LevelInfo}
	if opts != nil {
		w.infer = opts.InferLevels
		if opts.ForceLevel != hclog.NoLevel {
			w.level = toSlogLevel(opts.ForceLevel)
			w.infer = false
		}
	}
	return w
}

// stdWriter turns standard library log lines into slog records. With infer
// set, a leading "[LEVEL]" tag selects the level and is stripped.
type stdWriter struct {
	logger *slog.Logger
	level  slog.Level
	infer  bool
}

func (w *stdWriter) Write(p []byte) (int, error) {
	msg := string(bytes.TrimRight(p, " \t\n"))
	level := w.level
	if w.infer {
		level, msg = inferLevel(msg, level)
	}
	w.logger.Log(context.Background(), level, msg)
	return len(p), nil
}

func inferLevel(msg string, def slog.Level) (slog.Level, string) {
	if !strings.HasPrefix(msg, "[") {
		return def, msg
	}
	end := strings.IndexByte(msg, ']')
	if end < 0 {
		return def, msg
	}
	rest := strings.TrimSpace(msg[end+1:])
	switch msg[1:end] {
	case "TRACE", "DEBUG":
		return slog.LevelDebug, rest
	case "INFO":
		return slog.LevelInfo, rest
	case "WARN":
		return slog.LevelWarn, rest
	case "ERR", "ERROR":
		return slog.LevelError, rest
	}
	return def, msg
}
