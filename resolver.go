// resolver.go: Configuration resolver
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package entrypoint

import (
	"fmt"

	flashflags "github.com/agilira/flash-flags"
	"github.com/agilira/go-errors"
)

// Resolver produces the configuration value handed to the application.
type Resolver[C any] interface {
	Resolve(args []string, env *Environment) (C, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc[C any] func(args []string, env *Environment) (C, error)

// Resolve implements Resolver.
func (f ResolverFunc[C]) Resolve(args []string, env *Environment) (C, error) {
	return f(args, env)
}

// Validator is implemented by configuration types that check themselves
// once every field is populated.
type Validator interface {
	Validate() error
}

// Flags is the default Resolver. It parses arguments with flash-flags and
// falls back to the environment view for any flag not given on the command
// line.
//
// Example:
//
//	resolver := entrypoint.Flags[Config]{
//		Prefix: "APP",
//		Bind: func(b *entrypoint.Binder, cfg *Config) {
//			b.String(&cfg.Host, "host", "localhost", "listen host").
//				Int(&cfg.Port, "port", 8080, "listen port")
//		},
//		Derive: []func(*Config, *entrypoint.Environment) error{
//			func(cfg *Config, _ *entrypoint.Environment) error {
//				cfg.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
//				return nil
//			},
//		},
//	}
type Flags[C any] struct {
	// Name is the program name shown in usage output.
	Name        string
	Prefix      string
	Description string
	Version     string

	// Bind declares the flag-backed fields of the configuration.
	Bind func(b *Binder, cfg *C)

	// Derive hooks run in order after parsing. Each one owns a group of
	// fields and may read the environment view.
	Derive []func(cfg *C, env *Environment) error
}

// Resolve implements Resolver.
func (f Flags[C]) Resolve(args []string, env *Environment) (C, error) {
	var cfg C

	fs := f.flagSet()
	binder := newBinder(fs, f.Prefix, env)
	if f.Bind != nil {
		f.Bind(binder, &cfg)
	}
	if binder.err != nil {
		return cfg, binder.err
	}

	if helpRequested(args) {
		fs.PrintHelp()
		return cfg, ErrHelpRequested
	}

	if err := fs.Parse(args); err != nil {
		return cfg, errors.Wrap(err, ErrCodeInvalidArguments, "failed to parse arguments: "+err.Error())
	}
	if err := binder.apply(); err != nil {
		return cfg, err
	}

	for i, derive := range f.Derive {
		if err := derive(&cfg, env); err != nil {
			return cfg, errors.Wrap(err, ErrCodeInvalidArguments, fmt.Sprintf("derive hook %d failed: %v", i, err)).
				WithContext("hook", i)
		}
	}

	if v, ok := any(&cfg).(Validator); ok {
		if err := v.Validate(); err != nil {
			return cfg, errors.Wrap(err, ErrCodeInvalidArguments, "invalid configuration: "+err.Error())
		}
	}

	return cfg, nil
}

func (f Flags[C]) flagSet() *flashflags.FlagSet {
	name := f.Name
	if name == "" {
		name = "app"
	}
	fs := flashflags.New(name)
	if f.Description != "" {
		fs.SetDescription(f.Description)
	}
	if f.Version != "" {
		fs.SetVersion(f.Version)
	}
	return fs
}

func helpRequested(args []string) bool {
	for _, arg := range args {
		if arg == "--" {
			return false
		}
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}
