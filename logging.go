// logging.go: Logging initializer
//
// Settings are derived from the resolved configuration through optional
// provider interfaces, so an application overrides only what it needs.
// The process-wide sink is installed at most once.
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package entrypoint

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/agilira/go-errors"
)

// Level is a severity threshold.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

func (l Level) valid() bool {
	return l >= LevelTrace && l <= LevelError
}

// ParseLevel parses a level name. "warning" is accepted for LevelWarn.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, errors.New(ErrCodeLoggingInvalid, "invalid log level: "+s).
			WithContext("level", s)
	}
}

// Format selects human-readable or line-delimited structured output.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatJSON:
		return "json"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "human", "pretty":
		return FormatText, nil
	case "json", "structured":
		return FormatJSON, nil
	default:
		return FormatText, errors.New(ErrCodeLoggingInvalid, "invalid log format: "+s).
			WithContext("format", s)
	}
}

// LogSettings is consumed once to install the process-wide sink.
type LogSettings struct {
	Level  Level
	Format Format
	// Writer nil means stderr.
	Writer io.Writer

	// err holds a rejected LOG_LEVEL or LOG_FORMAT value.
	err error
}

func (s LogSettings) validate() error {
	if s.err != nil {
		return s.err
	}
	if !s.Level.valid() {
		return errors.New(ErrCodeLoggingInvalid, "invalid log level: "+s.Level.String())
	}
	if s.Format != FormatText && s.Format != FormatJSON {
		return errors.New(ErrCodeLoggingInvalid, "invalid log format: "+s.Format.String())
	}
	return nil
}

func (s LogSettings) writer() io.Writer {
	if s.Writer == nil {
		return os.Stderr
	}
	return s.Writer
}

// Optional interfaces a configuration type implements to steer logging.
type (
	LevelProvider interface {
		LogLevel() Level
	}
	FormatProvider interface {
		LogFormat() Format
	}
	WriterProvider interface {
		LogWriter() io.Writer
	}
	// LogBypasser skips sink installation; the application sets up its own.
	LogBypasser interface {
		BypassLogInit() bool
	}
)

// Environment keys consulted when the configuration provides no setting.
const (
	EnvLogLevel  = "LOG_LEVEL"
	EnvLogFormat = "LOG_FORMAT"
)

// LogInitializer derives log settings from the resolved configuration and
// installs the process-wide sink.
type LogInitializer[C any] interface {
	LogSettings(cfg C, env *Environment) LogSettings
	InstallLogging(settings LogSettings) (Sink, error)
}

// InstallMode decides what a second installation does.
type InstallMode int

const (
	// InstallReject fails a second installation with ErrCodeLoggingAlreadyInstalled.
	InstallReject InstallMode = iota
	// InstallNoOp returns the sink installed first and changes nothing.
	InstallNoOp
)

// DefaultLogging is the default LogInitializer. A nil Backend means logrus.
type DefaultLogging[C any] struct {
	Backend Backend
	Mode    InstallMode
}

// LogSettings implements LogInitializer. Each setting comes from the
// matching provider interface on cfg, then from LOG_LEVEL / LOG_FORMAT,
// then from the defaults: info, text, stderr. An unparseable LOG_LEVEL or
// LOG_FORMAT makes the settings fail installation with ErrCodeLoggingInvalid.
func (d DefaultLogging[C]) LogSettings(cfg C, env *Environment) LogSettings {
	settings := LogSettings{Level: LevelInfo, Format: FormatText}

	if p, ok := implements[LevelProvider](&cfg); ok {
		settings.Level = p.LogLevel()
	} else if v, ok := env.Lookup(EnvLogLevel); ok {
		level, err := ParseLevel(v)
		if err != nil {
			settings.err = envLogSettingError(EnvLogLevel, v, err)
		}
		settings.Level = level
	}

	if p, ok := implements[FormatProvider](&cfg); ok {
		settings.Format = p.LogFormat()
	} else if v, ok := env.Lookup(EnvLogFormat); ok {
		format, err := ParseFormat(v)
		if err != nil && settings.err == nil {
			settings.err = envLogSettingError(EnvLogFormat, v, err)
		}
		settings.Format = format
	}

	if p, ok := implements[WriterProvider](&cfg); ok {
		settings.Writer = p.LogWriter()
	}

	return settings
}

func envLogSettingError(key, value string, err error) error {
	return errors.Wrap(err, ErrCodeLoggingInvalid, fmt.Sprintf("invalid %s: %q", key, value)).
		WithContext("env_key", key)
}

// Err reports a rejected LOG_LEVEL or LOG_FORMAT value.
func (s LogSettings) Err() error {
	return s.err
}

// InstallLogging implements LogInitializer.
func (d DefaultLogging[C]) InstallLogging(settings LogSettings) (Sink, error) {
	backend := d.Backend
	if backend == nil {
		backend = LogrusBackend{}
	}
	return Install(backend, settings, d.Mode)
}

// implements finds P on the configuration value or on its address.
func implements[P any, C any](cfg *C) (P, bool) {
	if p, ok := any(*cfg).(P); ok {
		return p, true
	}
	p, ok := any(cfg).(P)
	return p, ok
}

var (
	logInstalled  atomic.Bool
	installedSink atomic.Pointer[Sink]
)

// Install installs backend as the process-wide sink. Invalid settings are
// rejected before the install gate is touched.
func Install(backend Backend, settings LogSettings, mode InstallMode) (Sink, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}

	if !logInstalled.CompareAndSwap(false, true) {
		if mode == InstallNoOp {
			if existing := installedSink.Load(); existing != nil {
				return *existing, nil
			}
		}
		return nil, errors.New(ErrCodeLoggingAlreadyInstalled, "a logging sink is already installed")
	}

	sink, err := backend.Install(settings)
	if err != nil {
		logInstalled.Store(false)
		return nil, errors.Wrap(err, ErrCodeLoggingInvalid, "logging backend rejected settings: "+err.Error())
	}
	installedSink.Store(&sink)
	return sink, nil
}

// LoggingInstalled reports whether a process-wide sink is installed.
func LoggingInstalled() bool {
	return logInstalled.Load()
}

// InstalledSink returns the process-wide sink, or nil.
func InstalledSink() Sink {
	if s := installedSink.Load(); s != nil {
		return *s
	}
	return nil
}
