// binder.go: Flag binding for the default configuration resolver
//
// A Binder registers one flash-flags flag per configuration field and
// writes parsed values back into the field after Parse. Defaults are seeded
// from the environment view before parsing, which yields the precedence
// argument > environment > declared default without touching parsed values.
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package entrypoint

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unsafe"

	flashflags "github.com/agilira/flash-flags"
	"github.com/agilira/go-errors"
)

// bindKind represents the type of binding for fast type switching
type bindKind uint8

const (
	bindString bindKind = iota
	bindInt
	bindInt64
	bindBool
	bindFloat64
	bindDuration
	bindStringSlice
)

// binding ties a flag to the field it populates.
type binding struct {
	target unsafe.Pointer
	name   string
	envKey string
	kind   bindKind
}

// Binder declares flag-backed configuration fields. Methods return the
// binder for chaining; the first error stops further registration and is
// reported by the resolver.
type Binder struct {
	flags    *flashflags.FlagSet
	env      *Environment
	prefix   string
	bindings []binding
	err      error
}

func newBinder(flags *flashflags.FlagSet, prefix string, env *Environment) *Binder {
	return &Binder{
		flags:    flags,
		env:      env,
		prefix:   prefix,
		bindings: make([]binding, 0, 16),
	}
}

// EnvKey returns the environment key consulted for a flag name:
// "server-port" with prefix "APP" reads APP_SERVER_PORT.
func (b *Binder) EnvKey(name string) string {
	return flagEnvKey(b.prefix, name)
}

func flagEnvKey(prefix, name string) string {
	key := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
	if prefix == "" {
		return key
	}
	return strings.ToUpper(prefix) + "_" + key
}

// envDefault returns the environment override for a flag, if any.
func (b *Binder) envDefault(name string) (string, string, bool) {
	key := b.EnvKey(name)
	value, ok := b.env.Lookup(key)
	if !ok || value == "" {
		return key, "", false
	}
	return key, value, true
}

func (b *Binder) add(target unsafe.Pointer, name, envKey string, kind bindKind) {
	b.bindings = append(b.bindings, binding{target: target, name: name, envKey: envKey, kind: kind})
}

func (b *Binder) fail(key, value string, err error) {
	b.err = errors.New(ErrCodeInvalidArguments,
		fmt.Sprintf("invalid value %q for %s: %v", value, key, err)).
		WithContext("key", key)
}

// String binds a string flag.
func (b *Binder) String(target *string, name, defaultValue, usage string) *Binder {
	if b.err != nil {
		return b
	}
	key, value, ok := b.envDefault(name)
	if ok {
		defaultValue = value
	}
	b.flags.String(name, defaultValue, usage)
	b.add(unsafe.Pointer(target), name, key, bindString) // #nosec G103 - intentional unsafe.Pointer usage for zero-reflection binding
	return b
}

// Int binds an int flag.
func (b *Binder) Int(target *int, name string, defaultValue int, usage string) *Binder {
	if b.err != nil {
		return b
	}
	key, value, ok := b.envDefault(name)
	if ok {
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			b.fail(key, value, err)
			return b
		}
		defaultValue = n
	}
	b.flags.Int(name, defaultValue, usage)
	b.add(unsafe.Pointer(target), name, key, bindInt) // #nosec G103 - intentional unsafe.Pointer usage for zero-reflection binding
	return b
}

// Int64 binds an int64 flag. The flag is carried as text and parsed after Parse.
func (b *Binder) Int64(target *int64, name string, defaultValue int64, usage string) *Binder {
	if b.err != nil {
		return b
	}
	def := strconv.FormatInt(defaultValue, 10)
	key, value, ok := b.envDefault(name)
	if ok {
		if _, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err != nil {
			b.fail(key, value, err)
			return b
		}
		def = strings.TrimSpace(value)
	}
	b.flags.String(name, def, usage)
	b.add(unsafe.Pointer(target), name, key, bindInt64) // #nosec G103 - intentional unsafe.Pointer usage for zero-reflection binding
	return b
}

// Bool binds a bool flag. Environment values accept the same spellings as
// Environment.GetBool.
func (b *Binder) Bool(target *bool, name string, defaultValue bool, usage string) *Binder {
	if b.err != nil {
		return b
	}
	key, value, ok := b.envDefault(name)
	if ok {
		parsed, valid := parseBool(value)
		if !valid {
			b.fail(key, value, fmt.Errorf("expected true/false, 1/0, yes/no, on/off or enabled/disabled"))
			return b
		}
		defaultValue = parsed
	}
	b.flags.Bool(name, defaultValue, usage)
	b.add(unsafe.Pointer(target), name, key, bindBool) // #nosec G103 - intentional unsafe.Pointer usage for zero-reflection binding
	return b
}

// Float64 binds a float64 flag.
func (b *Binder) Float64(target *float64, name string, defaultValue float64, usage string) *Binder {
	if b.err != nil {
		return b
	}
	key, value, ok := b.envDefault(name)
	if ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			b.fail(key, value, err)
			return b
		}
		defaultValue = f
	}
	b.flags.Float64(name, defaultValue, usage)
	b.add(unsafe.Pointer(target), name, key, bindFloat64) // #nosec G103 - intentional unsafe.Pointer usage for zero-reflection binding
	return b
}

// Duration binds a time.Duration flag.
func (b *Binder) Duration(target *time.Duration, name string, defaultValue time.Duration, usage string) *Binder {
	if b.err != nil {
		return b
	}
	key, value, ok := b.envDefault(name)
	if ok {
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			b.fail(key, value, err)
			return b
		}
		defaultValue = d
	}
	b.flags.Duration(name, defaultValue, usage)
	b.add(unsafe.Pointer(target), name, key, bindDuration) // #nosec G103 - intentional unsafe.Pointer usage for zero-reflection binding
	return b
}

// StringSlice binds a comma-separated list flag.
func (b *Binder) StringSlice(target *[]string, name string, defaultValue []string, usage string) *Binder {
	if b.err != nil {
		return b
	}
	key, value, ok := b.envDefault(name)
	if ok {
		defaultValue = splitList(value)
	}
	b.flags.StringSlice(name, defaultValue, usage)
	b.add(unsafe.Pointer(target), name, key, bindStringSlice) // #nosec G103 - intentional unsafe.Pointer usage for zero-reflection binding
	return b
}

// apply copies parsed flag values into the bound fields.
func (b *Binder) apply() error {
	if b.err != nil {
		return b.err
	}
	for _, bd := range b.bindings {
		if err := b.applyBinding(bd); err != nil {
			return errors.New(ErrCodeInvalidArguments,
				fmt.Sprintf("invalid value for --%s: %v", bd.name, err)).
				WithContext("flag", bd.name)
		}
	}
	return nil
}

func (b *Binder) applyBinding(bd binding) error {
	switch bd.kind {
	case bindString:
		*(*string)(bd.target) = b.flags.GetString(bd.name)
	case bindInt:
		*(*int)(bd.target) = b.flags.GetInt(bd.name)
	case bindInt64:
		val, err := strconv.ParseInt(strings.TrimSpace(b.flags.GetString(bd.name)), 10, 64)
		if err != nil {
			return err
		}
		*(*int64)(bd.target) = val
	case bindBool:
		*(*bool)(bd.target) = b.flags.GetBool(bd.name)
	case bindFloat64:
		*(*float64)(bd.target) = b.flags.GetFloat64(bd.name)
	case bindDuration:
		*(*time.Duration)(bd.target) = b.flags.GetDuration(bd.name)
	case bindStringSlice:
		*(*[]string)(bd.target) = b.flags.GetStringSlice(bd.name)
	default:
		return fmt.Errorf("unsupported binding kind: %d", bd.kind)
	}
	return nil
}
