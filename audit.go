// audit.go: Startup audit trail
//
// AuditObserver persists every stage event of every run, so operators can
// see which startups failed, where, and how long each stage took.
//
// Features:
// - Tamper detection through per-record SHA-256 checksums
// - Buffered writes with optional background flushing
// - SQLite storage by default, JSONL for .jsonl paths
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package entrypoint

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// AuditEvent is the persisted form of a StageEvent.
type AuditEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	RunID       string    `json:"run_id"`
	App         string    `json:"app"`
	Stage       string    `json:"stage"`
	State       string    `json:"state"`
	DurationMS  float64   `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
	ErrorCode   string    `json:"error_code,omitempty"`
	ProcessID   int       `json:"process_id"`
	ProcessName string    `json:"process_name"`
	Checksum    string    `json:"checksum"` // For tamper detection
}

// Failed reports whether the recorded stage failed.
func (e AuditEvent) Failed() bool {
	return e.State == StateFailed.String()
}

// AuditConfig configures the audit observer.
type AuditConfig struct {
	// OutputFile selects the backend: a .jsonl path is written as JSON
	// lines, anything else is a SQLite database. Empty uses DefaultAuditPath.
	OutputFile    string        `json:"output_file"`
	BufferSize    int           `json:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval"`
	// RetentionDays bounds SQLite history. Zero keeps 90 days.
	RetentionDays int `json:"retention_days"`
}

// DefaultAuditConfig returns the configuration used when none is given.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		OutputFile:    DefaultAuditPath(),
		BufferSize:    64,
		FlushInterval: 0,
		RetentionDays: 90,
	}
}

// DefaultAuditPath is the shared SQLite database for startup audits.
func DefaultAuditPath() string {
	return filepath.Join(os.TempDir(), "entrypoint", "startup-audit.db")
}

// AuditFilter selects events in Query. Zero fields match everything.
type AuditFilter struct {
	RunID      string
	App        string
	FailedOnly bool
	// Limit caps the number of events returned, newest last. Zero means 100.
	Limit int
}

func (f AuditFilter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

func (f AuditFilter) match(e AuditEvent) bool {
	if f.RunID != "" && e.RunID != f.RunID {
		return false
	}
	if f.App != "" && e.App != f.App {
		return false
	}
	return !f.FailedOnly || e.Failed()
}

// AuditObserver records stage events. It implements Observer; the pipeline
// flushes it at the end of every run. Close releases the backend.
type AuditObserver struct {
	config      AuditConfig
	backend     auditBackend
	buffer      []AuditEvent
	bufferMu    sync.Mutex
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
	processID   int
	processName string
}

// NewAuditObserver opens the configured backend. A positive FlushInterval
// starts a background flusher that Close stops.
func NewAuditObserver(config AuditConfig) (*AuditObserver, error) {
	if config.OutputFile == "" {
		config.OutputFile = DefaultAuditPath()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 64
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = 90
	}

	backend, err := createAuditBackend(config)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeAudit, "failed to initialize audit backend: "+err.Error()).
			WithContext("output_file", config.OutputFile)
	}

	observer := &AuditObserver{
		config:      config,
		backend:     backend,
		buffer:      make([]AuditEvent, 0, config.BufferSize),
		stopCh:      make(chan struct{}),
		processID:   os.Getpid(),
		processName: filepath.Base(os.Args[0]),
	}

	if config.FlushInterval > 0 {
		observer.flushTicker = time.NewTicker(config.FlushInterval)
		go observer.flushLoop()
	}

	return observer, nil
}

// ObserveStage implements Observer.
func (a *AuditObserver) ObserveStage(event StageEvent) error {
	record := AuditEvent{
		Timestamp:   event.At,
		RunID:       event.RunID,
		App:         event.App,
		Stage:       event.Stage.String(),
		State:       event.State.String(),
		DurationMS:  float64(event.Duration) / float64(time.Millisecond),
		ProcessID:   a.processID,
		ProcessName: a.processName,
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = timecache.CachedTime()
	}
	if event.Err != nil {
		record.Error = event.Err.Error()
		record.ErrorCode = errorCodeOf(event.Err)
	}
	record.Checksum = auditChecksum(record)

	a.bufferMu.Lock()
	defer a.bufferMu.Unlock()
	a.buffer = append(a.buffer, record)
	if len(a.buffer) >= a.config.BufferSize {
		return a.flushBufferUnsafe()
	}
	return nil
}

// Flush immediately writes all buffered events
func (a *AuditObserver) Flush() error {
	a.bufferMu.Lock()
	defer a.bufferMu.Unlock()
	return a.flushBufferUnsafe()
}

// Query returns recorded events matching filter, oldest first.
func (a *AuditObserver) Query(filter AuditFilter) ([]AuditEvent, error) {
	if err := a.Flush(); err != nil {
		return nil, err
	}
	events, err := a.backend.Query(filter)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeAudit, "failed to query audit events: "+err.Error())
	}
	return events, nil
}

// Stats summarizes the stored events.
func (a *AuditObserver) Stats() (*AuditStats, error) {
	if err := a.Flush(); err != nil {
		return nil, err
	}
	stats, err := a.backend.GetStats()
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeAudit, "failed to read audit statistics: "+err.Error())
	}
	return stats, nil
}

// Close gracefully shuts down the observer
func (a *AuditObserver) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.stopCh)
		if a.flushTicker != nil {
			a.flushTicker.Stop()
		}

		if ferr := a.Flush(); ferr != nil {
			err = ferr
			return
		}
		if cerr := a.backend.Close(); cerr != nil {
			err = errors.Wrap(cerr, ErrCodeAudit, "failed to close audit backend: "+cerr.Error())
		}
	})
	return err
}

func (a *AuditObserver) flushLoop() {
	for {
		select {
		case <-a.flushTicker.C:
			_ = a.Flush() // background flush errors resurface on the next explicit Flush
		case <-a.stopCh:
			return
		}
	}
}

// flushBufferUnsafe writes the buffer to the backend (caller must hold bufferMu).
func (a *AuditObserver) flushBufferUnsafe() error {
	if len(a.buffer) == 0 {
		return nil
	}
	if err := a.backend.Write(a.buffer); err != nil {
		return errors.Wrap(err, ErrCodeAudit, "failed to write audit events: "+err.Error())
	}
	a.buffer = a.buffer[:0]
	return nil
}

// VerifyChecksum reports whether an event still matches its checksum.
func VerifyChecksum(event AuditEvent) bool {
	return event.Checksum != "" && event.Checksum == auditChecksum(event)
}

func auditChecksum(e AuditEvent) string {
	data := fmt.Sprintf("%s:%s:%s:%s:%s:%.3f:%s:%s",
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.RunID, e.App, e.Stage, e.State, e.DurationMS, e.Error, e.ErrorCode)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
