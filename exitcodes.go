// exitcodes.go: Process exit codes
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package entrypoint

import goerrors "errors"

// Exit codes. Startup misconfiguration and application failure never share
// a code, so operators can tell them apart.
const (
	ExitOK          = 0
	ExitApplication = 1
	ExitArguments   = 2
	ExitEnvironment = 3
	ExitLogging     = 4
)

// ExitCode maps an error to a process exit code. A nil error and
// ErrHelpRequested both map to ExitOK.
func ExitCode(err error) int {
	if err == nil || HasCode(err, ErrCodeHelpRequested) {
		return ExitOK
	}

	var se *StageError
	if goerrors.As(err, &se) {
		return se.Stage.exitCode()
	}

	switch errorCodeOf(err) {
	case ErrCodeInvalidArguments:
		return ExitArguments
	case ErrCodeEnvMalformed, ErrCodeEnvFileNotFound, ErrCodeEnvRead:
		return ExitEnvironment
	case ErrCodeLoggingAlreadyInstalled, ErrCodeLoggingInvalid:
		return ExitLogging
	default:
		return ExitApplication
	}
}
