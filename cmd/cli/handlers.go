// Command handlers for the entrypoint CLI
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/agilira/entrypoint"
	"github.com/agilira/go-errors"
	"github.com/agilira/orpheus/pkg/orpheus"
)

// handleEnvShow prints the merged view of the given files and the process
// environment, sorted by key.
func (m *Manager) handleEnvShow(ctx *orpheus.Context) error {
	policy, err := entrypoint.ParseOverridePolicy(ctx.GetFlagString("policy"))
	if err != nil {
		return err
	}

	env, err := m.loadEnv(positionalArgs(ctx), policy, ctx.GetFlagBool("strict"), false)
	if err != nil {
		return err
	}

	reveal := ctx.GetFlagBool("reveal")
	prefix := ctx.GetFlagString("prefix")
	for _, key := range env.Keys() {
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		value := env.Get(key)
		if !reveal {
			value = entrypoint.MaskValue(value)
		}
		fmt.Fprintf(m.out, "%s=%s\n", key, value)
	}
	return nil
}

// handleEnvCheck reports every malformed line in the given files.
func (m *Manager) handleEnvCheck(ctx *orpheus.Context) error {
	files := positionalArgs(ctx)
	if len(files) == 0 {
		files = []string{entrypoint.DefaultEnvFile}
	}

	env, err := m.loadEnv(files, entrypoint.ProcessWins, ctx.GetFlagBool("strict"), true)
	if err != nil {
		return err
	}

	warnings := env.Warnings()
	for _, w := range warnings {
		fmt.Fprintf(m.out, "%s:%d: %v\n", w.Path, w.Line, w.Err)
	}
	if len(warnings) > 0 {
		return errors.New(entrypoint.ErrCodeEnvMalformed,
			fmt.Sprintf("%d malformed line(s) in %s", len(warnings), strings.Join(env.Sources(), ", ")))
	}

	fmt.Fprintf(m.out, "%d file(s) ok\n", len(env.Sources()))
	return nil
}

// handleAuditQuery lists startup audit events matching the filters.
func (m *Manager) handleAuditQuery(ctx *orpheus.Context) error {
	observer, err := openAudit(ctx.GetFlagString("db"))
	if err != nil {
		return err
	}
	defer func() { _ = observer.Close() }()

	events, err := observer.Query(entrypoint.AuditFilter{
		RunID:      ctx.GetFlagString("run"),
		App:        ctx.GetFlagString("app"),
		FailedOnly: ctx.GetFlagBool("failed"),
		Limit:      ctx.GetFlagInt("limit"),
	})
	if err != nil {
		return err
	}

	if len(events) == 0 {
		fmt.Fprintln(m.out, "No audit events found")
		return nil
	}
	for _, e := range events {
		fmt.Fprintln(m.out, formatAuditEvent(e))
	}
	return nil
}

// handleAuditStats prints a summary of the audit database.
func (m *Manager) handleAuditStats(ctx *orpheus.Context) error {
	observer, err := openAudit(ctx.GetFlagString("db"))
	if err != nil {
		return err
	}
	defer func() { _ = observer.Close() }()

	stats, err := observer.Stats()
	if err != nil {
		return err
	}

	fmt.Fprintf(m.out, "Events: %d\n", stats.TotalEvents)
	fmt.Fprintf(m.out, "Runs: %d (%d failed)\n", stats.Runs, stats.FailedRuns)
	for _, stage := range stageNames() {
		if n, ok := stats.EventsByStage[stage]; ok {
			fmt.Fprintf(m.out, "  %s: %d\n", stage, n)
		}
	}
	if stats.SchemaVersion > 0 {
		fmt.Fprintf(m.out, "Schema version: %d\n", stats.SchemaVersion)
	}
	return nil
}

// handleCompletion generates shell completion scripts.
func (m *Manager) handleCompletion(ctx *orpheus.Context) error {
	shell := ctx.GetArg(0)
	commands := "env audit completion"

	switch shell {
	case "bash":
		fmt.Fprintf(m.out, "# Bash completion for entrypoint\n")
		fmt.Fprintf(m.out, "# Add to ~/.bashrc: source <(entrypoint completion bash)\n")
		fmt.Fprintf(m.out, "_entrypoint_completion() {\n")
		fmt.Fprintf(m.out, "  COMPREPLY=($(compgen -W '%s' -- \"${COMP_WORDS[COMP_CWORD]}\"))\n", commands)
		fmt.Fprintf(m.out, "}\n")
		fmt.Fprintf(m.out, "complete -F _entrypoint_completion entrypoint\n")
	case "zsh":
		fmt.Fprintf(m.out, "#compdef entrypoint\n")
		fmt.Fprintf(m.out, "_entrypoint() {\n")
		fmt.Fprintf(m.out, "  _arguments '1: :(%s)'\n", commands)
		fmt.Fprintf(m.out, "}\n")
	case "fish":
		fmt.Fprintf(m.out, "complete -c entrypoint -f -a '%s'\n", commands)
	default:
		return errors.New(entrypoint.ErrCodeInvalidArguments, fmt.Sprintf("unsupported shell: %s", shell))
	}
	return nil
}

// openAudit opens an existing audit database. A missing file is an error so
// that a typo does not silently create an empty database.
func openAudit(path string) (*entrypoint.AuditObserver, error) {
	if path == "" {
		path = entrypoint.DefaultAuditPath()
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, entrypoint.ErrCodeAudit, "audit database not available: "+path).
			WithContext("path", path)
	}
	return entrypoint.NewAuditObserver(entrypoint.AuditConfig{OutputFile: path})
}
