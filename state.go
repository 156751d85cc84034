// state.go: Pipeline states and stages
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package entrypoint

// State is a position in the pipeline state machine:
//
//	Start -> EnvLoaded -> ConfigResolved -> LoggingReady -> UserCodeRunning -> {Completed, Failed}
//
// Transitions are strictly sequential. Any failure moves straight to Failed.
type State int

const (
	StateStart State = iota
	StateEnvLoaded
	StateConfigResolved
	StateLoggingReady
	StateUserCodeRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateEnvLoaded:
		return "env_loaded"
	case StateConfigResolved:
		return "config_resolved"
	case StateLoggingReady:
		return "logging_ready"
	case StateUserCodeRunning:
		return "user_code_running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Stage identifies the unit of work that moves the pipeline from one state
// to the next.
type Stage int

const (
	StageEnvironment Stage = iota
	StageArguments
	StageLogging
	StageApplication
)

func (s Stage) String() string {
	switch s {
	case StageEnvironment:
		return "environment"
	case StageArguments:
		return "arguments"
	case StageLogging:
		return "logging"
	case StageApplication:
		return "application"
	default:
		return "unknown"
	}
}

// target is the state reached when the stage succeeds.
func (s Stage) target() State {
	switch s {
	case StageEnvironment:
		return StateEnvLoaded
	case StageArguments:
		return StateConfigResolved
	case StageLogging:
		return StateLoggingReady
	default:
		return StateCompleted
	}
}

func (s Stage) exitCode() int {
	switch s {
	case StageEnvironment:
		return ExitEnvironment
	case StageArguments:
		return ExitArguments
	case StageLogging:
		return ExitLogging
	default:
		return ExitApplication
	}
}

func (s Stage) defaultCode() string {
	switch s {
	case StageEnvironment:
		return ErrCodeEnvRead
	case StageArguments:
		return ErrCodeInvalidArguments
	case StageLogging:
		return ErrCodeLoggingInvalid
	default:
		return ErrCodeApplication
	}
}
