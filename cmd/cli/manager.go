// Package cli provides the command-line interface for inspecting process startup.
//
// The tool is built on the Orpheus framework and shares the loaders of the
// entrypoint package, so what it prints is exactly what a pipeline would see.
//
// Commands:
// - env show: merged environment view, masked by default
// - env check: malformed input report for environment files
// - audit query / audit stats: startup audit history
// - completion: shell completion scripts
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"io"
	"os"

	"github.com/agilira/orpheus/pkg/orpheus"
)

// Manager routes CLI commands to their handlers.
type Manager struct {
	app     *orpheus.App
	out     io.Writer
	environ func() []string
}

// NewManager creates a CLI manager writing to stdout.
func NewManager() *Manager {
	app := orpheus.New("entrypoint").
		SetDescription("Inspect environment files and startup audit history").
		SetVersion("1.0.0")

	manager := &Manager{
		app:     app,
		out:     os.Stdout,
		environ: os.Environ,
	}

	manager.setupEnvCommands()
	manager.setupAuditCommands()
	manager.setupUtilityCommands()

	return manager
}

// WithOutput redirects command output.
func (m *Manager) WithOutput(w io.Writer) *Manager {
	if w != nil {
		m.out = w
	}
	return m
}

// WithEnviron replaces the process environment seen by the env commands.
func (m *Manager) WithEnviron(environ func() []string) *Manager {
	if environ != nil {
		m.environ = environ
	}
	return m
}

// Run executes the CLI application with the provided arguments.
func (m *Manager) Run(args []string) error {
	return m.app.Run(args)
}

// setupEnvCommands configures the 'env' command group.
func (m *Manager) setupEnvCommands() {
	envCmd := orpheus.NewCommand("env", "Environment file operations")

	// env show [files...] [--policy=process] [--strict] [--reveal]
	showCmd := envCmd.Subcommand("show", "Show the merged environment", m.handleEnvShow)
	showCmd.AddFlag("policy", "p", "process", "Override policy (process|file)")
	showCmd.AddFlag("prefix", "", "", "Only show keys with this prefix")
	showCmd.AddBoolFlag("strict", "s", false, "Fail on missing files")
	showCmd.AddBoolFlag("reveal", "r", false, "Print values unmasked")

	// env check [files...] [--strict]
	checkCmd := envCmd.Subcommand("check", "Report malformed environment input", m.handleEnvCheck)
	checkCmd.AddBoolFlag("strict", "s", false, "Fail on missing files")

	m.app.AddCommand(envCmd)
}

// setupAuditCommands configures the 'audit' command group.
func (m *Manager) setupAuditCommands() {
	auditCmd := orpheus.NewCommand("audit", "Startup audit history")

	queryCmd := auditCmd.Subcommand("query", "List recorded stage events", m.handleAuditQuery)
	queryCmd.AddFlag("db", "d", "", "Audit database (defaults to the shared startup audit)")
	queryCmd.AddFlag("run", "r", "", "Run ID filter")
	queryCmd.AddFlag("app", "a", "", "Application name filter")
	queryCmd.AddBoolFlag("failed", "f", false, "Only failed stages")
	queryCmd.AddIntFlag("limit", "l", 100, "Maximum results")

	statsCmd := auditCmd.Subcommand("stats", "Summarize the audit database", m.handleAuditStats)
	statsCmd.AddFlag("db", "d", "", "Audit database (defaults to the shared startup audit)")

	m.app.AddCommand(auditCmd)
}

// setupUtilityCommands configures completion.
func (m *Manager) setupUtilityCommands() {
	completionCmd := orpheus.NewCommand("completion", "Generate shell completion scripts")
	completionCmd.SetHandler(m.handleCompletion)
	m.app.AddCommand(completionCmd)
}
