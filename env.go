// env.go: Environment loader for the entrypoint pipeline
//
// Environment files are merged left-to-right, then combined with the process
// environment under an explicit OverridePolicy. The resulting view is
// immutable; the process environment itself is written at most once.
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package entrypoint

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/agilira/go-errors"
)

// OverridePolicy decides who wins when a key is defined both in an
// environment file and in the process environment.
type OverridePolicy int

const (
	// ProcessWins keeps values already present in the process environment.
	ProcessWins OverridePolicy = iota
	// FileWins lets environment files replace process values.
	FileWins
)

func (p OverridePolicy) String() string {
	switch p {
	case ProcessWins:
		return "process"
	case FileWins:
		return "file"
	default:
		return "unknown"
	}
}

// ParseOverridePolicy accepts "process" / "process-wins" and "file" / "file-wins".
func ParseOverridePolicy(s string) (OverridePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "process", "process-wins", "process_wins":
		return ProcessWins, nil
	case "file", "file-wins", "file_wins":
		return FileWins, nil
	default:
		return ProcessWins, errors.New(ErrCodeInvalidArguments, "invalid override policy: "+s).
			WithContext("policy", s)
	}
}

// EnvLoader produces the environment view consumed by the rest of the pipeline.
type EnvLoader interface {
	LoadEnv() (*Environment, error)
}

// EnvLoaderFunc adapts a function to EnvLoader.
type EnvLoaderFunc func() (*Environment, error)

// LoadEnv implements EnvLoader.
func (f EnvLoaderFunc) LoadEnv() (*Environment, error) { return f() }

// DefaultEnvFile is the conventional environment file in the working directory.
const DefaultEnvFile = ".env"

// DotEnv is the default EnvLoader. The zero value reads ./.env if present,
// keeps process values on conflict and exports file-only keys.
type DotEnv struct {
	// Files are merged after the convention file, left-to-right.
	Files []string

	// Convention is the conventional file name. Empty means ".env", "-" disables it.
	Convention string

	Policy OverridePolicy

	// Strict turns missing files into errors.
	Strict bool

	// SkipMalformed records malformed lines as warnings instead of failing.
	SkipMalformed bool

	// FilesVar names a key holding extra comma-separated files. It is looked
	// up after the convention and explicit files have been merged.
	FilesVar string

	// Environ returns the process environment. Defaults to os.Environ.
	Environ func() []string

	// NoExport leaves the process environment untouched.
	NoExport bool
}

// Load merges paths left-to-right with the process environment under policy.
// Missing files contribute nothing. The convention file is not consulted.
func Load(paths []string, policy OverridePolicy) (*Environment, error) {
	return DotEnv{Files: paths, Convention: "-", Policy: policy}.LoadEnv()
}

// LoadEnv implements EnvLoader.
func (d DotEnv) LoadEnv() (*Environment, error) {
	environ := d.Environ
	if environ == nil {
		environ = os.Environ
	}
	process := environMap(environ())

	acc := &envAccumulator{loader: d, vars: make(map[string]string)}
	if convention, ok := d.convention(); ok {
		if err := acc.merge(convention, true); err != nil {
			return nil, err
		}
	}
	for _, path := range d.Files {
		if err := acc.merge(path, false); err != nil {
			return nil, err
		}
	}

	if d.FilesVar != "" {
		partial := Merge(acc.vars, process, d.Policy)
		for _, path := range splitList(partial[d.FilesVar]) {
			if err := acc.merge(path, false); err != nil {
				return nil, err
			}
		}
	}

	if !d.NoExport {
		if err := exportEnv(acc.vars, d.Policy); err != nil {
			return nil, err
		}
	}

	return &Environment{
		vars:     Merge(acc.vars, process, d.Policy),
		sources:  acc.sources,
		warnings: acc.warnings,
	}, nil
}

// convention returns the conventional file, if enabled.
func (d DotEnv) convention() (string, bool) {
	switch d.Convention {
	case "":
		return DefaultEnvFile, true
	case "-":
		return "", false
	default:
		return d.Convention, true
	}
}

// envAccumulator collects file contributions in merge order.
type envAccumulator struct {
	loader   DotEnv
	vars     map[string]string
	sources  []string
	warnings []*MalformedSourceError
}

// merge reads one file. A missing optional file contributes nothing even in
// strict mode; only the convention slot is optional.
func (a *envAccumulator) merge(path string, optional bool) error {
	data, err := os.ReadFile(path) // #nosec G304 -- environment files are chosen by the application
	if err != nil {
		if os.IsNotExist(err) {
			if !a.loader.Strict || optional {
				return nil
			}
			return errors.Wrap(err, ErrCodeEnvFileNotFound, "environment file not found: "+path).
				WithContext("path", path)
		}
		return errors.Wrap(err, ErrCodeEnvRead, "failed to read environment file "+path+": "+err.Error()).
			WithContext("path", path)
	}

	vars, malformed := parseSource(path, data)
	if len(malformed) > 0 {
		if !a.loader.SkipMalformed {
			return malformed[0]
		}
		a.warnings = append(a.warnings, malformed...)
	}

	for k, v := range vars {
		a.vars[k] = v
	}
	a.sources = append(a.sources, path)
	return nil
}

// Merge combines file-derived values with the process environment.
// Under FileWins a key present in both takes the file value; under
// ProcessWins it keeps the process value. Inputs are not modified.
func Merge(files, process map[string]string, policy OverridePolicy) map[string]string {
	out := make(map[string]string, len(files)+len(process))
	first, second := files, process
	if policy == FileWins {
		first, second = process, files
	}
	for k, v := range first {
		out[k] = v
	}
	for k, v := range second {
		out[k] = v
	}
	return out
}

var envExported atomic.Bool

// exportEnv writes file values into the process environment once per process.
// ProcessWins never replaces a variable the process already has.
func exportEnv(files map[string]string, policy OverridePolicy) error {
	if !envExported.CompareAndSwap(false, true) {
		return nil
	}
	for _, key := range sortedKeys(files) {
		if policy == ProcessWins {
			if _, exists := os.LookupEnv(key); exists {
				continue
			}
		}
		if err := os.Setenv(key, files[key]); err != nil {
			return errors.Wrap(err, ErrCodeEnvRead, "failed to export "+key).WithContext("key", key)
		}
	}
	return nil
}

// EnvExported reports whether the process environment has already been written.
func EnvExported() bool {
	return envExported.Load()
}

// Environment is an immutable view of merged environment values.
type Environment struct {
	vars     map[string]string
	sources  []string
	warnings []*MalformedSourceError
}

// NewEnvironment builds a view over a copy of vars.
func NewEnvironment(vars map[string]string) *Environment {
	cp := make(map[string]string, len(vars))
	for k, v := range vars {
		cp[k] = v
	}
	return &Environment{vars: cp}
}

// Lookup returns the value for key and whether it is defined.
func (e *Environment) Lookup(key string) (string, bool) {
	if e == nil {
		return "", false
	}
	v, ok := e.vars[key]
	return v, ok
}

// Get returns the value for key, or "" when undefined.
func (e *Environment) Get(key string) string {
	v, _ := e.Lookup(key)
	return v
}

// GetWithDefault returns the value for key or defaultValue if it is unset or empty.
func (e *Environment) GetWithDefault(key, defaultValue string) string {
	if v := e.Get(key); v != "" {
		return v
	}
	return defaultValue
}

// GetBool accepts true/false, 1/0, yes/no, on/off, enabled/disabled.
// Any other value returns defaultValue.
func (e *Environment) GetBool(key string, defaultValue bool) bool {
	if b, ok := parseBool(e.Get(key)); ok {
		return b
	}
	return defaultValue
}

func (e *Environment) GetInt(key string, defaultValue int) int {
	if v := e.Get(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return defaultValue
}

func (e *Environment) GetDuration(key string, defaultValue time.Duration) time.Duration {
	if v := e.Get(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return defaultValue
}

// Keys returns all defined keys in sorted order.
func (e *Environment) Keys() []string {
	if e == nil {
		return nil
	}
	return sortedKeys(e.vars)
}

// Map returns a copy of the merged values.
func (e *Environment) Map() map[string]string {
	out := make(map[string]string, e.Len())
	if e == nil {
		return out
	}
	for k, v := range e.vars {
		out[k] = v
	}
	return out
}

func (e *Environment) Len() int {
	if e == nil {
		return 0
	}
	return len(e.vars)
}

// Sources lists the files that contributed, in merge order.
func (e *Environment) Sources() []string {
	if e == nil {
		return nil
	}
	return append([]string(nil), e.sources...)
}

// Warnings lists malformed lines that were skipped.
func (e *Environment) Warnings() []*MalformedSourceError {
	if e == nil {
		return nil
	}
	return append([]*MalformedSourceError(nil), e.warnings...)
}

// parseBool parses boolean values from environment variables
// Supports: true/false, 1/0, yes/no, on/off, enabled/disabled
// The second result is false for any other spelling.
func parseBool(value string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on", "enabled":
		return true, true
	case "false", "0", "no", "off", "disabled":
		return false, true
	default:
		return false, false
	}
}

// MaskValue hides a value for display. Empty values stay empty.
func MaskValue(value string) string {
	if value == "" {
		return ""
	}
	n := len(value)
	if n > 8 {
		n = 8
	}
	return strings.Repeat("*", n)
}

func environMap(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i > 0 {
			out[kv[:i]] = kv[i+1:]
		}
	}
	return out
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
