// errors.go: Error taxonomy for the entrypoint startup pipeline
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package entrypoint

import (
	goerrors "errors"
	"fmt"

	"github.com/agilira/go-errors"
)

// Error codes for entrypoint operations
const (
	ErrCodeInvalidArguments        = "ENTRYPOINT_INVALID_ARGUMENTS"
	ErrCodeHelpRequested           = "ENTRYPOINT_HELP_REQUESTED"
	ErrCodeEnvMalformed            = "ENTRYPOINT_ENV_MALFORMED"
	ErrCodeEnvFileNotFound         = "ENTRYPOINT_ENV_FILE_NOT_FOUND"
	ErrCodeEnvRead                 = "ENTRYPOINT_ENV_READ"
	ErrCodeLoggingAlreadyInstalled = "ENTRYPOINT_LOGGING_ALREADY_INSTALLED"
	ErrCodeLoggingInvalid          = "ENTRYPOINT_LOGGING_INVALID"
	ErrCodeApplication             = "ENTRYPOINT_APPLICATION"
	ErrCodePanic                   = "ENTRYPOINT_PANIC"
	ErrCodeAudit                   = "ENTRYPOINT_AUDIT"
)

// ErrHelpRequested is returned by a resolver when the arguments ask for usage.
// The pipeline treats it as a successful run.
var ErrHelpRequested = errors.New(ErrCodeHelpRequested, "help requested")

// MalformedSourceError reports an environment file line that could not be parsed.
type MalformedSourceError struct {
	Path string
	Line int
	Err  error
}

func (e *MalformedSourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("malformed environment source %s:%d", e.Path, e.Line)
	}
	return fmt.Sprintf("malformed environment source %s:%d: %v", e.Path, e.Line, e.Err)
}

func (e *MalformedSourceError) Unwrap() error { return e.Err }

// ErrorCode implements errors.ErrorCoder.
func (e *MalformedSourceError) ErrorCode() errors.ErrorCode {
	return ErrCodeEnvMalformed
}

// StageError carries a failure out of one pipeline stage. The orchestrator
// is the only producer; Stage decides the exit code.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ErrorCode returns the code of the wrapped error, or a code derived from
// the stage when the cause carries none.
func (e *StageError) ErrorCode() errors.ErrorCode {
	if code := errorCodeOf(e.Err); code != "" {
		return errors.ErrorCode(code)
	}
	return errors.ErrorCode(e.Stage.defaultCode())
}

// errorCodeOf walks the chain and returns the first go-errors code found.
func errorCodeOf(err error) string {
	for err != nil {
		if ec, ok := err.(errors.ErrorCoder); ok {
			if code := string(ec.ErrorCode()); code != "" {
				return code
			}
		}
		err = goerrors.Unwrap(err)
	}
	return ""
}

// HasCode reports whether err, or any error it wraps, carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		if ec, ok := err.(errors.ErrorCoder); ok && string(ec.ErrorCode()) == code {
			return true
		}
		err = goerrors.Unwrap(err)
	}
	return false
}
