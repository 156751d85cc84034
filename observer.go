// observer.go: Stage observers
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package entrypoint

import "time"

// StageEvent describes the outcome of one pipeline stage.
type StageEvent struct {
	RunID    string
	App      string
	Stage    Stage
	State    State // state entered: the stage target, or StateFailed
	Duration time.Duration
	Err      error
	At       time.Time
}

// Failed reports whether the stage failed.
func (e StageEvent) Failed() bool {
	return e.State == StateFailed
}

// Observer is notified after every stage. Observer errors are reported but
// never change the outcome of a run.
type Observer interface {
	ObserveStage(event StageEvent) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(event StageEvent) error

// ObserveStage implements Observer.
func (f ObserverFunc) ObserveStage(event StageEvent) error { return f(event) }

// flusher is implemented by observers that buffer events. The pipeline
// flushes them before returning from Run.
type flusher interface {
	Flush() error
}
