// binder_test.go: Tests for flag binding
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package entrypoint

import (
	"testing"
	"time"

	flashflags "github.com/agilira/flash-flags"
)

func newTestBinder(prefix string, vars map[string]string) *Binder {
	return newBinder(flashflags.New("test"), prefix, NewEnvironment(vars))
}

func TestBinder_BasicTypesFromEnvironment(t *testing.T) {
	b := newTestBinder("APP", map[string]string{
		"APP_NAME":        "test-app",
		"APP_PORT":        "8080",
		"APP_ENABLED":     "true",
		"APP_TIMEOUT":     "30s",
		"APP_RETRY_COUNT": "5",
		"APP_RATE_LIMIT":  "99.5",
		"APP_HOSTS":       "a, b,c",
	})

	var (
		appName    string
		port       int
		enabled    bool
		timeout    time.Duration
		retryCount int64
		rateLimit  float64
		hosts      []string
	)

	b.String(&appName, "name", "", "").
		Int(&port, "port", 0, "").
		Bool(&enabled, "enabled", false, "").
		Duration(&timeout, "timeout", 0, "").
		Int64(&retryCount, "retry-count", 0, "").
		Float64(&rateLimit, "rate-limit", 0, "").
		StringSlice(&hosts, "hosts", nil, "")

	if err := b.flags.Parse(nil); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if err := b.apply(); err != nil {
		t.Fatalf("Binding failed: %v", err)
	}

	if appName != "test-app" {
		t.Errorf("Expected appName='test-app', got '%s'", appName)
	}
	if port != 8080 {
		t.Errorf("Expected port=8080, got %d", port)
	}
	if !enabled {
		t.Errorf("Expected enabled=true, got %t", enabled)
	}
	if timeout != 30*time.Second {
		t.Errorf("Expected timeout=30s, got %v", timeout)
	}
	if retryCount != 5 {
		t.Errorf("Expected retryCount=5, got %d", retryCount)
	}
	if rateLimit != 99.5 {
		t.Errorf("Expected rateLimit=99.5, got %f", rateLimit)
	}
	if len(hosts) != 3 || hosts[1] != "b" {
		t.Errorf("Expected trimmed host list, got %v", hosts)
	}
}

func TestBinder_WithDefaults(t *testing.T) {
	b := newTestBinder("APP", nil)

	var (
		host    string
		port    int
		debug   bool
		timeout time.Duration
	)
	b.String(&host, "host", "localhost", "").
		Int(&port, "port", 9000, "").
		Bool(&debug, "debug", true, "").
		Duration(&timeout, "timeout", 15*time.Second, "")

	if err := b.flags.Parse(nil); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if err := b.apply(); err != nil {
		t.Fatalf("Binding failed: %v", err)
	}

	if host != "localhost" || port != 9000 || !debug || timeout != 15*time.Second {
		t.Errorf("Defaults not applied: host=%s port=%d debug=%t timeout=%v", host, port, debug, timeout)
	}
}

func TestBinder_EmptyEnvironmentValueIgnored(t *testing.T) {
	b := newTestBinder("", map[string]string{"PORT": ""})

	var port int
	b.Int(&port, "port", 8080, "")
	if b.err != nil {
		t.Fatalf("Empty value should fall back to the default: %v", b.err)
	}
	if err := b.flags.Parse(nil); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if err := b.apply(); err != nil {
		t.Fatalf("Binding failed: %v", err)
	}
	if port != 8080 {
		t.Errorf("Expected default port, got %d", port)
	}
}

func TestBinder_EnvKey(t *testing.T) {
	tests := []struct {
		prefix string
		name   string
		want   string
	}{
		{"APP", "port", "APP_PORT"},
		{"app", "server-port", "APP_SERVER_PORT"},
		{"APP", "db.pool.size", "APP_DB_POOL_SIZE"},
		{"", "log-level", "LOG_LEVEL"},
	}
	for _, tt := range tests {
		if got := newTestBinder(tt.prefix, nil).EnvKey(tt.name); got != tt.want {
			t.Errorf("EnvKey(%q, %q) = %q, want %q", tt.prefix, tt.name, got, tt.want)
		}
	}
}

func TestBinder_InvalidEnvironmentValues(t *testing.T) {
	tests := []struct {
		name string
		bind func(b *Binder)
	}{
		{"int", func(b *Binder) { var v int; b.Int(&v, "value", 0, "") }},
		{"int64", func(b *Binder) { var v int64; b.Int64(&v, "value", 0, "") }},
		{"float64", func(b *Binder) { var v float64; b.Float64(&v, "value", 0, "") }},
		{"duration", func(b *Binder) { var v time.Duration; b.Duration(&v, "value", 0, "") }},
		{"bool", func(b *Binder) { var v bool; b.Bool(&v, "value", true, "") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBinder("APP", map[string]string{"APP_VALUE": "not-a-value"})
			tt.bind(b)
			if b.err == nil {
				t.Fatal("Expected binding error")
			}
			if !HasCode(b.err, ErrCodeInvalidArguments) {
				t.Errorf("Expected %s, got %v", ErrCodeInvalidArguments, b.err)
			}
		})
	}
}

func TestBinder_FirstErrorStopsRegistration(t *testing.T) {
	b := newTestBinder("", map[string]string{"PORT": "eighty"})

	var (
		port int
		host string
	)
	b.Int(&port, "port", 0, "").String(&host, "host", "localhost", "")

	if b.err == nil {
		t.Fatal("Expected binding error")
	}
	if len(b.bindings) != 0 {
		t.Errorf("No bindings should be registered after an error, got %d", len(b.bindings))
	}
	if err := b.apply(); err != b.err {
		t.Errorf("apply should report the registration error, got %v", err)
	}
}

func TestBinder_BoolSpellings(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true}, {"1", true}, {"yes", true}, {"ON", true}, {"enabled", true},
		{"false", false}, {"0", false}, {"no", false}, {"off", false}, {"Disabled", false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			b := newTestBinder("APP", map[string]string{"APP_DEBUG": tt.value})

			debug := !tt.want
			b.Bool(&debug, "debug", !tt.want, "")
			if b.err != nil {
				t.Fatalf("Unexpected binding error: %v", b.err)
			}
			if err := b.flags.Parse(nil); err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if err := b.apply(); err != nil {
				t.Fatalf("Binding failed: %v", err)
			}
			if debug != tt.want {
				t.Errorf("APP_DEBUG=%s: expected %t, got %t", tt.value, tt.want, debug)
			}
		})
	}
}
