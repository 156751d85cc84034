// logging_backend.go: Logging backends and sinks
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package entrypoint

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields are structured key/value pairs attached to a record.
type Fields map[string]interface{}

// Sink is the installed process-wide log destination as seen by the pipeline.
type Sink interface {
	Log(level Level, msg string, fields Fields)
}

// Backend installs a concrete logging library as the process-wide sink.
type Backend interface {
	Install(settings LogSettings) (Sink, error)
}

// LogrusBackend configures a logrus logger, the standard logger by default.
type LogrusBackend struct {
	Logger *logrus.Logger
}

// Install implements Backend.
func (b LogrusBackend) Install(settings LogSettings) (Sink, error) {
	logger := b.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	logger.SetOutput(settings.writer())
	logger.SetLevel(logrusLevel(settings.Level))
	switch settings.Format {
	case FormatJSON:
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	}

	return logrusSink{logger: logger}, nil
}

func logrusLevel(l Level) logrus.Level {
	switch l {
	case LevelTrace:
		return logrus.TraceLevel
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

type logrusSink struct {
	logger *logrus.Logger
}

func (s logrusSink) Log(level Level, msg string, fields Fields) {
	s.logger.WithFields(logrus.Fields(fields)).Log(logrusLevel(level), msg)
}

// SlogBackend installs a log/slog handler with slog.SetDefault.
type SlogBackend struct{}

// slog has no trace level; this sits one step below debug.
const slogLevelTrace = slog.Level(-8)

// Install implements Backend.
func (SlogBackend) Install(settings LogSettings) (Sink, error) {
	opts := &slog.HandlerOptions{Level: slogLevel(settings.Level)}

	var handler slog.Handler
	switch settings.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(settings.writer(), opts)
	default:
		handler = slog.NewTextHandler(settings.writer(), opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return slogSink{logger: logger}, nil
}

func slogLevel(l Level) slog.Level {
	switch l {
	case LevelTrace:
		return slogLevelTrace
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type slogSink struct {
	logger *slog.Logger
}

func (s slogSink) Log(level Level, msg string, fields Fields) {
	attrs := make([]slog.Attr, 0, len(fields))
	for _, k := range sortedFieldKeys(fields) {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}
	s.logger.LogAttrs(context.Background(), slogLevel(level), msg, attrs...)
}

// fallbackSink writes warnings and errors as single plain lines. It serves
// before logging is ready and when the application bypasses installation.
type fallbackSink struct {
	mu   sync.Mutex
	w    io.Writer
	name string
}

func newFallbackSink(w io.Writer, name string) *fallbackSink {
	return &fallbackSink{w: w, name: name}
}

func (s *fallbackSink) Log(level Level, msg string, fields Fields) {
	if level < LevelWarn {
		return
	}

	var b strings.Builder
	b.WriteString(s.name)
	b.WriteString(": ")
	b.WriteString(msg)
	for _, k := range sortedFieldKeys(fields) {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	b.WriteByte('\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = io.WriteString(s.w, b.String())
}

func sortedFieldKeys(fields Fields) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RotatingFile returns a size-rotated log file usable as LogSettings.Writer.
// Old files are kept for 30 days and compressed.
func RotatingFile(path string, maxSizeMB, maxBackups int) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     30,
		Compress:   true,
	}
}
