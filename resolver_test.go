// resolver_test.go: Tests for the configuration resolver
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package entrypoint

import (
	"fmt"
	"testing"
	"time"

	flashflags "github.com/agilira/flash-flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serverConfig struct {
	Host     string
	Port     int
	Verbose  bool
	Timeout  time.Duration
	Tags     []string
	MaxBytes int64
	Ratio    float64
	Addr     string
}

func bindServer(b *Binder, cfg *serverConfig) {
	b.String(&cfg.Host, "host", "localhost", "listen host").
		Int(&cfg.Port, "port", 8080, "listen port").
		Bool(&cfg.Verbose, "verbose", false, "verbose output").
		Duration(&cfg.Timeout, "timeout", 5*time.Second, "request timeout").
		StringSlice(&cfg.Tags, "tags", []string{"default"}, "tags")
}

func serverFlags() Flags[serverConfig] {
	return Flags[serverConfig]{Name: "server", Prefix: "APP", Bind: bindServer}
}

func TestFlagsResolveMatchesParserAlone(t *testing.T) {
	argSets := [][]string{
		{},
		{"--host=example.com"},
		{"--port=9090", "--verbose"},
		{"--host=h", "--port=1", "--timeout=3s", "--tags=a,b"},
	}

	for _, args := range argSets {
		t.Run(fmt.Sprint(args), func(t *testing.T) {
			fs := flashflags.New("server")
			fs.String("host", "localhost", "listen host")
			fs.Int("port", 8080, "listen port")
			fs.Bool("verbose", false, "verbose output")
			fs.Duration("timeout", 5*time.Second, "request timeout")
			fs.StringSlice("tags", []string{"default"}, "tags")
			require.NoError(t, fs.Parse(args))
			want := serverConfig{
				Host:    fs.GetString("host"),
				Port:    fs.GetInt("port"),
				Verbose: fs.GetBool("verbose"),
				Timeout: fs.GetDuration("timeout"),
				Tags:    fs.GetStringSlice("tags"),
			}

			got, err := serverFlags().Resolve(args, NewEnvironment(nil))
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestFlagsPrecedence(t *testing.T) {
	env := NewEnvironment(map[string]string{
		"APP_PORT":    "9000",
		"APP_VERBOSE": "yes",
		"APP_TAGS":    "x, y",
	})

	t.Run("argument beats environment", func(t *testing.T) {
		cfg, err := serverFlags().Resolve([]string{"--port=7000"}, env)
		require.NoError(t, err)
		assert.Equal(t, 7000, cfg.Port)
	})

	t.Run("environment beats default", func(t *testing.T) {
		cfg, err := serverFlags().Resolve(nil, env)
		require.NoError(t, err)
		assert.Equal(t, 9000, cfg.Port)
		assert.True(t, cfg.Verbose)
		assert.Equal(t, []string{"x", "y"}, cfg.Tags)
	})

	t.Run("default when neither is set", func(t *testing.T) {
		cfg, err := serverFlags().Resolve(nil, env)
		require.NoError(t, err)
		assert.Equal(t, "localhost", cfg.Host)
		assert.Equal(t, 5*time.Second, cfg.Timeout)
	})
}

func TestFlagsEnvKeyWithoutPrefix(t *testing.T) {
	env := NewEnvironment(map[string]string{"LOG_LEVEL": "debug"})
	var level string
	resolver := Flags[struct{}]{
		Bind: func(b *Binder, _ *struct{}) {
			assert.Equal(t, "LOG_LEVEL", b.EnvKey("log-level"))
			b.String(&level, "log-level", "info", "log level")
		},
	}

	_, err := resolver.Resolve(nil, env)
	require.NoError(t, err)
	assert.Equal(t, "debug", level)
}

func TestFlagsInvalidEnvironmentValue(t *testing.T) {
	env := NewEnvironment(map[string]string{"APP_PORT": "eighty"})

	_, err := serverFlags().Resolve(nil, env)
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeInvalidArguments))
	assert.Contains(t, err.Error(), "APP_PORT")
	assert.Equal(t, ExitArguments, ExitCode(err))
}

func TestFlagsInvalidBoolEnvironmentValue(t *testing.T) {
	env := NewEnvironment(map[string]string{"APP_VERBOSE": "maybe"})

	_, err := serverFlags().Resolve(nil, env)
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeInvalidArguments))
	assert.Contains(t, err.Error(), "APP_VERBOSE")
	assert.Equal(t, ExitArguments, ExitCode(err))
}

func TestFlagsUnknownArgument(t *testing.T) {
	_, err := serverFlags().Resolve([]string{"--no-such-flag=1"}, NewEnvironment(nil))
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeInvalidArguments))
}

func TestFlagsWideNumericBindings(t *testing.T) {
	type limits struct {
		MaxBytes int64
		Ratio    float64
	}
	resolver := Flags[limits]{
		Prefix: "LIM",
		Bind: func(b *Binder, cfg *limits) {
			b.Int64(&cfg.MaxBytes, "max-bytes", 1024, "max bytes").
				Float64(&cfg.Ratio, "ratio", 0.5, "ratio")
		},
	}

	cfg, err := resolver.Resolve(nil, NewEnvironment(nil))
	require.NoError(t, err)
	assert.Equal(t, int64(1024), cfg.MaxBytes)
	assert.Equal(t, 0.5, cfg.Ratio)

	cfg, err = resolver.Resolve([]string{"--max-bytes=8589934592"}, NewEnvironment(map[string]string{"LIM_RATIO": "0.75"}))
	require.NoError(t, err)
	assert.Equal(t, int64(8589934592), cfg.MaxBytes)
	assert.Equal(t, 0.75, cfg.Ratio)

	_, err = resolver.Resolve([]string{"--ratio=half"}, NewEnvironment(nil))
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeInvalidArguments))
	assert.Contains(t, err.Error(), "--ratio")
}

func TestFlagsDeriveHooks(t *testing.T) {
	resolver := serverFlags()
	resolver.Derive = []func(*serverConfig, *Environment) error{
		func(cfg *serverConfig, _ *Environment) error {
			cfg.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
			return nil
		},
		func(cfg *serverConfig, env *Environment) error {
			cfg.Ratio = float64(env.GetInt("APP_WEIGHT", 1))
			return nil
		},
	}

	cfg, err := resolver.Resolve([]string{"--host=db", "--port=5432"}, NewEnvironment(map[string]string{"APP_WEIGHT": "3"}))
	require.NoError(t, err)
	assert.Equal(t, "db:5432", cfg.Addr)
	assert.Equal(t, 3.0, cfg.Ratio)
	assert.Equal(t, "db", cfg.Host)
}

func TestFlagsDeriveHookError(t *testing.T) {
	resolver := serverFlags()
	resolver.Derive = []func(*serverConfig, *Environment) error{
		func(*serverConfig, *Environment) error { return fmt.Errorf("tls key missing") },
	}

	_, err := resolver.Resolve(nil, NewEnvironment(nil))
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeInvalidArguments))
	assert.Contains(t, err.Error(), "tls key missing")
}

type portConfig struct {
	Port int
}

func (c portConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	return nil
}

func TestFlagsValidator(t *testing.T) {
	resolver := Flags[portConfig]{
		Bind: func(b *Binder, cfg *portConfig) {
			b.Int(&cfg.Port, "port", 80, "port")
		},
	}

	cfg, err := resolver.Resolve(nil, NewEnvironment(nil))
	require.NoError(t, err)
	assert.Equal(t, 80, cfg.Port)

	_, err = resolver.Resolve([]string{"--port=70000"}, NewEnvironment(nil))
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeInvalidArguments))
	assert.Contains(t, err.Error(), "out of range")
}

func TestFlagsHelpRequested(t *testing.T) {
	for _, arg := range []string{"--help", "-h"} {
		_, err := serverFlags().Resolve([]string{arg}, NewEnvironment(nil))
		require.Error(t, err)
		assert.True(t, HasCode(err, ErrCodeHelpRequested))
		assert.Equal(t, ExitOK, ExitCode(err))
	}
}

func TestResolverFunc(t *testing.T) {
	var r Resolver[string] = ResolverFunc[string](func(args []string, env *Environment) (string, error) {
		return env.GetWithDefault("GREETING", "hi") + " " + args[0], nil
	})

	got, err := r.Resolve([]string{"there"}, NewEnvironment(map[string]string{"GREETING": "hello"}))
	require.NoError(t, err)
	assert.Equal(t, "hello there", got)
}
