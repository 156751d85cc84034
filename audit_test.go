// audit_test.go: Tests for the startup audit trail
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package entrypoint

import (
	"bufio"
	"database/sql"
	goerrors "errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestAuditObserver(t *testing.T, name string, bufferSize int) (*AuditObserver, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	observer, err := NewAuditObserver(AuditConfig{OutputFile: path, BufferSize: bufferSize})
	if err != nil {
		t.Fatalf("Failed to create audit observer: %v", err)
	}
	t.Cleanup(func() { _ = observer.Close() })
	return observer, path
}

func sampleRun(runID string, failAt Stage) []StageEvent {
	stages := []Stage{StageEnvironment, StageArguments, StageLogging, StageApplication}
	var events []StageEvent
	for _, stage := range stages {
		e := StageEvent{
			RunID:    runID,
			App:      "svc",
			Stage:    stage,
			State:    stage.target(),
			Duration: 1500 * time.Microsecond,
			At:       time.Now(),
		}
		if stage == failAt {
			e.State = StateFailed
			e.Err = &MalformedSourceError{Path: ".env", Line: 4}
			events = append(events, e)
			break
		}
		events = append(events, e)
	}
	return events
}

func observeAll(t *testing.T, o Observer, events []StageEvent) {
	t.Helper()
	for _, e := range events {
		if err := o.ObserveStage(e); err != nil {
			t.Fatalf("ObserveStage failed: %v", err)
		}
	}
}

func TestAuditSQLiteQuery(t *testing.T) {
	observer, _ := newTestAuditObserver(t, "audit.db", 100)

	observeAll(t, observer, sampleRun("run-ok", Stage(-1)))
	observeAll(t, observer, sampleRun("run-bad", StageEnvironment))

	events, err := observer.Query(AuditFilter{RunID: "run-ok"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("Expected 4 events for run-ok, got %d", len(events))
	}
	if events[0].Stage != "environment" || events[3].Stage != "application" {
		t.Errorf("Events out of order: first=%s last=%s", events[0].Stage, events[3].Stage)
	}
	if events[3].State != "completed" {
		t.Errorf("Expected completed application stage, got %s", events[3].State)
	}
	if events[0].DurationMS != 1.5 {
		t.Errorf("Expected 1.5ms duration, got %v", events[0].DurationMS)
	}

	failed, err := observer.Query(AuditFilter{FailedOnly: true})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("Expected 1 failed event, got %d", len(failed))
	}
	if failed[0].RunID != "run-bad" || failed[0].ErrorCode != ErrCodeEnvMalformed {
		t.Errorf("Unexpected failed event: %+v", failed[0])
	}

	limited, err := observer.Query(AuditFilter{Limit: 2})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(limited) != 2 || limited[1].RunID != "run-bad" {
		t.Errorf("Expected the 2 newest events, got %+v", limited)
	}
}

func TestAuditSQLiteStatsAndSchema(t *testing.T) {
	observer, _ := newTestAuditObserver(t, "stats.db", 100)
	observeAll(t, observer, sampleRun("a", Stage(-1)))
	observeAll(t, observer, sampleRun("b", StageEnvironment))

	stats, err := observer.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalEvents != 5 {
		t.Errorf("Expected 5 events, got %d", stats.TotalEvents)
	}
	if stats.Runs != 2 || stats.FailedRuns != 1 {
		t.Errorf("Expected 2 runs with 1 failure, got %d/%d", stats.Runs, stats.FailedRuns)
	}
	if stats.EventsByStage["environment"] != 2 {
		t.Errorf("Expected 2 environment events, got %d", stats.EventsByStage["environment"])
	}
	if stats.SchemaVersion != auditSchemaVersion {
		t.Errorf("Expected schema version %d, got %d", auditSchemaVersion, stats.SchemaVersion)
	}
}

func TestAuditSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")

	first, err := NewAuditObserver(AuditConfig{OutputFile: path})
	if err != nil {
		t.Fatalf("Failed to create audit observer: %v", err)
	}
	observeAll(t, first, sampleRun("persisted", Stage(-1)))
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}

	second, err := NewAuditObserver(AuditConfig{OutputFile: path})
	if err != nil {
		t.Fatalf("Failed to reopen audit observer: %v", err)
	}
	defer func() { _ = second.Close() }()

	events, err := second.Query(AuditFilter{RunID: "persisted"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("Expected 4 persisted events, got %d", len(events))
	}
	for _, e := range events {
		if !VerifyChecksum(e) {
			t.Errorf("Checksum mismatch after reopen for stage %s", e.Stage)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()
	var version int
	if err := db.QueryRow("SELECT version FROM schema_info ORDER BY version DESC LIMIT 1").Scan(&version); err != nil {
		t.Fatalf("Failed to read schema version: %v", err)
	}
	if version != auditSchemaVersion {
		t.Errorf("Expected schema version %d, got %d", auditSchemaVersion, version)
	}
}

func TestAuditJSONLBackend(t *testing.T) {
	observer, path := newTestAuditObserver(t, "audit.jsonl", 100)
	observeAll(t, observer, sampleRun("jsonl-run", StageApplication))

	if err := observer.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open JSONL file: %v", err)
	}
	defer func() { _ = f.Close() }()
	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
	}
	if lines != 4 {
		t.Errorf("Expected 4 JSONL lines, got %d", lines)
	}

	failed, err := observer.Query(AuditFilter{RunID: "jsonl-run", FailedOnly: true})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(failed) != 1 || failed[0].Stage != "application" {
		t.Fatalf("Expected the failed application stage, got %+v", failed)
	}
	if !VerifyChecksum(failed[0]) {
		t.Error("Checksum should survive a JSON round trip")
	}

	stats, err := observer.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalEvents != 4 || stats.FailedRuns != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestAuditBufferFlushesWhenFull(t *testing.T) {
	observer, path := newTestAuditObserver(t, "buffer.jsonl", 2)

	observeAll(t, observer, sampleRun("buffered", Stage(-1))[:2])

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read JSONL file: %v", err)
	}
	if len(data) == 0 {
		t.Error("Expected a full buffer to be written without an explicit flush")
	}
}

func TestAuditChecksumDetectsTampering(t *testing.T) {
	observer, _ := newTestAuditObserver(t, "tamper.db", 10)
	observeAll(t, observer, sampleRun("tamper", StageLogging))

	events, err := observer.Query(AuditFilter{RunID: "tamper"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("Expected events")
	}

	e := events[len(events)-1]
	if !VerifyChecksum(e) {
		t.Fatal("Untouched event should verify")
	}
	e.State = "completed"
	if VerifyChecksum(e) {
		t.Error("Modified event should not verify")
	}
}

func TestAuditObserverInPipeline(t *testing.T) {
	freshLoggingGate(t)
	observer, _ := newTestAuditObserver(t, "pipeline.db", 100)

	p := New("svc", func(struct{}) error { return goerrors.New("disk full") }).
		WithEnv(DotEnv{Convention: "-", Environ: staticEnviron(), NoExport: true}).
		WithResolver(Flags[struct{}]{Name: "svc"}).
		WithLogging(DefaultLogging[struct{}]{Backend: &countingBackend{}}).
		WithFallback(io.Discard).
		WithObserver(observer)

	if code := p.Run(nil); code != ExitApplication {
		t.Fatalf("Expected exit %d, got %d", ExitApplication, code)
	}

	events, err := observer.Query(AuditFilter{RunID: p.RunID()})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("Expected 4 events, got %d", len(events))
	}
	last := events[3]
	if last.Error != "disk full" || last.ErrorCode != "" {
		t.Errorf("Unexpected application event: %+v", last)
	}
}

func TestAuditObserverRejectsUnwritablePath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := NewAuditObserver(AuditConfig{OutputFile: filepath.Join(blocker, "audit.jsonl")})
	if err == nil {
		t.Fatal("Expected an error for a path below a regular file")
	}
	if !HasCode(err, ErrCodeAudit) {
		t.Errorf("Expected %s, got %v", ErrCodeAudit, err)
	}
}
