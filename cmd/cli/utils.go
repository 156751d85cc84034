// Utility functions for the entrypoint CLI
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/agilira/entrypoint"
	"github.com/agilira/orpheus/pkg/orpheus"
)

// positionalArgs collects positional arguments until the first empty one.
func positionalArgs(ctx *orpheus.Context) []string {
	var args []string
	for i := 0; ; i++ {
		arg := ctx.GetArg(i)
		if arg == "" {
			return args
		}
		args = append(args, arg)
	}
}

// loadEnv reads files the way a pipeline would, without touching the process
// environment. The convention file is not consulted: the command line names
// every file explicitly.
func (m *Manager) loadEnv(files []string, policy entrypoint.OverridePolicy, strict, skipMalformed bool) (*entrypoint.Environment, error) {
	return entrypoint.DotEnv{
		Files:         files,
		Convention:    "-",
		Policy:        policy,
		Strict:        strict,
		SkipMalformed: skipMalformed,
		Environ:       m.environ,
		NoExport:      true,
	}.LoadEnv()
}

// formatAuditEvent renders one audit event as a single line.
func formatAuditEvent(e entrypoint.AuditEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s %-11s %-17s %8.2fms",
		e.Timestamp.UTC().Format(time.RFC3339), e.RunID, e.App, e.Stage, e.State, e.DurationMS)
	if e.Error != "" {
		fmt.Fprintf(&b, " error=%q", e.Error)
	}
	if !entrypoint.VerifyChecksum(e) {
		b.WriteString(" checksum=invalid")
	}
	return b.String()
}

// stageNames lists stages in pipeline order.
func stageNames() []string {
	return []string{
		entrypoint.StageEnvironment.String(),
		entrypoint.StageArguments.String(),
		entrypoint.StageLogging.String(),
		entrypoint.StageApplication.String(),
	}
}
