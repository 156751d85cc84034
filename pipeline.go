// pipeline.go: Pipeline orchestrator
//
// The orchestrator runs environment loading, configuration resolution and
// logging installation in that order, then calls the application function.
// It is the only place where a failure becomes a diagnostic and an exit code.
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package entrypoint

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
	"github.com/google/uuid"
)

// Pipeline wires the four startup stages around an application function.
// Every stage has a default and can be replaced independently.
//
// Example:
//
//	func main() {
//		entrypoint.New("svc", run).
//			WithResolver(entrypoint.Flags[Config]{Name: "svc", Prefix: "SVC", Bind: bind}).
//			Main()
//	}
type Pipeline[C any] struct {
	name      string
	fn        func(C) error
	env       EnvLoader
	resolver  Resolver[C]
	logging   LogInitializer[C]
	fallback  io.Writer
	observers []Observer

	exit func(code int)

	state         State
	runID         string
	sink          Sink
	observerFails map[int]bool
}

// New returns a pipeline with the default stages: DotEnv, Flags and
// DefaultLogging with the logrus backend. Pre-logging diagnostics go to stderr.
func New[C any](name string, fn func(C) error) *Pipeline[C] {
	return &Pipeline[C]{
		name:     name,
		fn:       fn,
		env:      DotEnv{},
		resolver: Flags[C]{Name: name},
		logging:  DefaultLogging[C]{},
		fallback: os.Stderr,
		exit:     os.Exit,
	}
}

// WithEnv replaces the environment loader.
func (p *Pipeline[C]) WithEnv(loader EnvLoader) *Pipeline[C] {
	p.env = loader
	return p
}

// WithResolver replaces the configuration resolver.
func (p *Pipeline[C]) WithResolver(resolver Resolver[C]) *Pipeline[C] {
	p.resolver = resolver
	return p
}

// WithLogging replaces the logging initializer.
func (p *Pipeline[C]) WithLogging(initializer LogInitializer[C]) *Pipeline[C] {
	p.logging = initializer
	return p
}

// WithFallback sets where diagnostics go before logging is ready.
func (p *Pipeline[C]) WithFallback(w io.Writer) *Pipeline[C] {
	p.fallback = w
	return p
}

// WithObserver adds stage observers.
func (p *Pipeline[C]) WithObserver(observers ...Observer) *Pipeline[C] {
	p.observers = append(p.observers, observers...)
	return p
}

// State returns the state reached by the last run.
func (p *Pipeline[C]) State() State { return p.state }

// RunID returns the identifier of the last run.
func (p *Pipeline[C]) RunID() string { return p.runID }

// Entrypoint returns the zero-argument process entry: it runs the pipeline
// on os.Args[1:] and exits with the resulting code.
func (p *Pipeline[C]) Entrypoint() func() {
	return func() {
		p.exit(p.Run(os.Args[1:]))
	}
}

// Main runs the entry point returned by Entrypoint.
func (p *Pipeline[C]) Main() {
	p.Entrypoint()()
}

// Run executes the pipeline once and returns the process exit code.
func (p *Pipeline[C]) Run(args []string) int {
	return ExitCode(p.Execute(args))
}

// Execute executes the pipeline once. The returned error is nil on success,
// ErrHelpRequested when usage was printed, or a *StageError.
func (p *Pipeline[C]) Execute(args []string) error {
	p.runID = uuid.NewString()
	p.state = StateStart
	p.sink = nil
	p.observerFails = make(map[int]bool)

	err := p.execute(args)
	p.flushObservers()
	return err
}

func (p *Pipeline[C]) execute(args []string) error {
	var env *Environment
	err := p.step(StageEnvironment, func() (err error) {
		env, err = p.env.LoadEnv()
		return err
	})
	if err != nil {
		return err
	}

	var cfg C
	err = p.step(StageArguments, func() (err error) {
		cfg, err = p.resolver.Resolve(args, env)
		return err
	})
	if err != nil {
		return err
	}

	var sink Sink
	err = p.step(StageLogging, func() (err error) {
		sink, err = p.installLogging(cfg, env)
		return err
	})
	if err != nil {
		return err
	}
	p.sink = sink
	p.traceStartup(env)

	p.state = StateUserCodeRunning
	p.trace("starting application", nil)
	err = p.step(StageApplication, func() error {
		return p.invoke(cfg)
	})
	if err != nil {
		return err
	}
	p.trace("application completed", nil)
	return nil
}

// installLogging derives settings from the resolved configuration and
// installs the sink, unless the configuration asks to bypass installation.
func (p *Pipeline[C]) installLogging(cfg C, env *Environment) (Sink, error) {
	if b, ok := implements[LogBypasser](&cfg); ok && b.BypassLogInit() {
		return newFallbackSink(p.fallback, p.name), nil
	}

	sink, err := p.logging.InstallLogging(p.logging.LogSettings(cfg, env))
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = newFallbackSink(p.fallback, p.name)
	}
	return sink, nil
}

// invoke calls the application function and turns a panic into an error.
func (p *Pipeline[C]) invoke(cfg C) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(ErrCodePanic, fmt.Sprintf("panic: %v", r)).
				WithContext("stack", string(debug.Stack()))
		}
	}()
	return p.fn(cfg)
}

// step runs one stage, records the transition and reports a failure once.
func (p *Pipeline[C]) step(stage Stage, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	switch {
	case err == nil:
		p.transition(stage, stage.target(), elapsed, nil)
		return nil
	case HasCode(err, ErrCodeHelpRequested):
		p.transition(stage, StateCompleted, elapsed, nil)
		return err
	default:
		p.transition(stage, StateFailed, elapsed, err)
		se := &StageError{Stage: stage, Err: err}
		p.report(se)
		return se
	}
}

func (p *Pipeline[C]) transition(stage Stage, to State, elapsed time.Duration, err error) {
	p.state = to
	event := StageEvent{
		RunID:    p.runID,
		App:      p.name,
		Stage:    stage,
		State:    to,
		Duration: elapsed,
		Err:      err,
		At:       timecache.CachedTime(),
	}
	for i, o := range p.observers {
		if oerr := o.ObserveStage(event); oerr != nil {
			p.observerFailed(i, oerr)
		}
	}
}

// report emits the single diagnostic for a failed stage.
func (p *Pipeline[C]) report(se *StageError) {
	if p.sink == nil {
		fmt.Fprintf(p.fallback, "%s: %s failed: %s\n", p.name, se.Stage, oneLine(se.Err))
		return
	}
	p.sink.Log(LevelError, se.Stage.String()+" failed", Fields{
		"stage":  se.Stage.String(),
		"run_id": p.runID,
		"error":  se.Err.Error(),
	})
}

func (p *Pipeline[C]) observerFailed(index int, err error) {
	if p.observerFails[index] {
		return
	}
	p.observerFails[index] = true

	msg := errors.Wrap(err, ErrCodeAudit, "stage observer failed: "+err.Error()).
		WithContext("observer", index)
	p.warn("stage observer failed", Fields{"observer": index, "error": msg.Error()})
}

func (p *Pipeline[C]) flushObservers() {
	for i, o := range p.observers {
		f, ok := o.(flusher)
		if !ok {
			continue
		}
		if err := f.Flush(); err != nil {
			p.observerFailed(i, err)
		}
	}
}

func (p *Pipeline[C]) warn(msg string, fields Fields) {
	if p.sink != nil {
		fields["run_id"] = p.runID
		p.sink.Log(LevelWarn, msg, fields)
		return
	}
	newFallbackSink(p.fallback, p.name).Log(LevelWarn, msg, fields)
}

func (p *Pipeline[C]) trace(msg string, fields Fields) {
	if p.sink == nil {
		return
	}
	if fields == nil {
		fields = Fields{}
	}
	fields["run_id"] = p.runID
	p.sink.Log(LevelTrace, msg, fields)
}

// traceStartup records what the first three stages produced. Values are
// masked; only key names are visible.
func (p *Pipeline[C]) traceStartup(env *Environment) {
	p.trace("environment loaded", Fields{
		"sources":  strings.Join(env.Sources(), ","),
		"keys":     env.Len(),
		"warnings": len(env.Warnings()),
	})
	for _, w := range env.Warnings() {
		p.trace("skipped malformed environment line", Fields{"path": w.Path, "line": w.Line})
	}
	for _, key := range env.Keys() {
		p.trace("environment variable", Fields{"key": key, "value": MaskValue(env.Get(key))})
	}
	p.trace("logging ready", nil)
}

// oneLine keeps fallback diagnostics on a single line.
func oneLine(err error) string {
	return strings.ReplaceAll(err.Error(), "\n", " ")
}
