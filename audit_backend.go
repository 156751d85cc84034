// audit_backend.go: Storage backends for the startup audit trail
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package entrypoint

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

// auditBackend abstracts where audit events are stored.
type auditBackend interface {
	// Write persists a batch of events.
	Write(events []AuditEvent) error
	// Query returns matching events, oldest first.
	Query(filter AuditFilter) ([]AuditEvent, error)
	// Maintenance applies retention and housekeeping.
	Maintenance() error
	GetStats() (*AuditStats, error)
	Close() error
}

// AuditStats summarizes an audit store.
type AuditStats struct {
	TotalEvents   int64            `json:"total_events"`
	Runs          int64            `json:"runs"`
	FailedRuns    int64            `json:"failed_runs"`
	EventsByStage map[string]int64 `json:"events_by_stage"`
	SchemaVersion int              `json:"schema_version,omitempty"`
}

// createAuditBackend picks JSONL for .jsonl paths and SQLite otherwise.
func createAuditBackend(config AuditConfig) (auditBackend, error) {
	if filepath.Ext(config.OutputFile) == ".jsonl" {
		return newJSONLBackend(config)
	}
	return newSQLiteBackend(config)
}

const auditSchemaVersion = 2

type sqliteAuditBackend struct {
	db            *sql.DB
	dbPath        string
	retentionDays int
	insertStmt    *sql.Stmt
	mu            sync.RWMutex
	closed        bool
}

func newSQLiteBackend(config AuditConfig) (*sqliteAuditBackend, error) {
	if err := os.MkdirAll(filepath.Dir(config.OutputFile), 0750); err != nil {
		return nil, fmt.Errorf("failed to create audit database directory: %w", err)
	}

	// WAL keeps readers (the CLI) from blocking a starting process.
	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_cache_size=1000", config.OutputFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping audit database: %w", err)
	}

	backend := &sqliteAuditBackend{
		db:            db,
		dbPath:        config.OutputFile,
		retentionDays: config.RetentionDays,
	}

	if err := backend.ensureSchemaVersion(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize audit database schema: %w", err)
	}

	stmt, err := db.Prepare(`
	INSERT INTO startup_events (
		timestamp, run_id, app, stage, state, duration_ms,
		error, error_code, process_id, process_name, checksum
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	backend.insertStmt = stmt

	// Retention is best effort; an old database must not block startup.
	_ = backend.Maintenance()

	return backend, nil
}

// ensureSchemaVersion creates or migrates the schema.
//   - Version 1: events table with basic indexes
//   - Version 2: composite indexes for per-run and per-app queries
func (s *sqliteAuditBackend) ensureSchemaVersion() error {
	if _, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_info (
		version INTEGER PRIMARY KEY,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("failed to create schema_info table: %w", err)
	}

	var version int
	err := s.db.QueryRow("SELECT version FROM schema_info ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check schema version: %w", err)
	}
	if version >= auditSchemaVersion {
		return nil
	}

	if err := s.migrateSchema(version, auditSchemaVersion); err != nil {
		return fmt.Errorf("schema migration from v%d to v%d failed: %w", version, auditSchemaVersion, err)
	}

	if _, err := s.db.Exec(`INSERT OR REPLACE INTO schema_info (version, updated_at) VALUES (?, CURRENT_TIMESTAMP)`, auditSchemaVersion); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	return nil
}

func (s *sqliteAuditBackend) migrateSchema(oldVersion, newVersion int) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for version := oldVersion; version < newVersion; version++ {
		var stmts []string
		switch version {
		case 0:
			stmts = []string{
				`CREATE TABLE IF NOT EXISTS startup_events (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					timestamp TEXT NOT NULL,
					run_id TEXT NOT NULL,
					app TEXT NOT NULL,
					stage TEXT NOT NULL,
					state TEXT NOT NULL,
					duration_ms REAL NOT NULL,
					error TEXT,
					error_code TEXT,
					process_id INTEGER NOT NULL,
					process_name TEXT NOT NULL,
					checksum TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);`,
				"CREATE INDEX IF NOT EXISTS idx_startup_timestamp ON startup_events(timestamp)",
				"CREATE INDEX IF NOT EXISTS idx_startup_run ON startup_events(run_id)",
				"CREATE INDEX IF NOT EXISTS idx_startup_created_at ON startup_events(created_at)",
			}
		case 1:
			stmts = []string{
				"CREATE INDEX IF NOT EXISTS idx_startup_app_time ON startup_events(app, timestamp)",
				"CREATE INDEX IF NOT EXISTS idx_startup_state_stage ON startup_events(state, stage)",
			}
		default:
			return fmt.Errorf("unknown migration path from version %d", version)
		}
		for _, stmt := range stmts {
			if _, err = tx.Exec(stmt); err != nil {
				return fmt.Errorf("migration to v%d failed: %w", version+1, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}
	return nil
}

func (s *sqliteAuditBackend) Write(events []AuditEvent) (err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("cannot write to closed SQLite audit backend")
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt := tx.Stmt(s.insertStmt)
	defer func() { _ = stmt.Close() }()

	for _, e := range events {
		if _, err = stmt.Exec(
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.RunID, e.App, e.Stage, e.State, e.DurationMS,
			e.Error, e.ErrorCode, e.ProcessID, e.ProcessName, e.Checksum,
		); err != nil {
			return fmt.Errorf("failed to insert audit event: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit transaction: %w", err)
	}
	return nil
}

func (s *sqliteAuditBackend) Query(filter AuditFilter) ([]AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("cannot query closed SQLite audit backend")
	}

	var (
		where []string
		args  []interface{}
	)
	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.App != "" {
		where = append(where, "app = ?")
		args = append(args, filter.App)
	}
	if filter.FailedOnly {
		where = append(where, "state = ?")
		args = append(args, StateFailed.String())
	}

	query := `SELECT id, timestamp, run_id, app, stage, state, duration_ms,
		COALESCE(error, ''), COALESCE(error_code, ''), process_id, process_name, COALESCE(checksum, '')
		FROM startup_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	// newest N, returned oldest first
	query = "SELECT * FROM (" + query + " ORDER BY id DESC LIMIT ?) ORDER BY id ASC"
	args = append(args, filter.limit())

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []AuditEvent
	for rows.Next() {
		var (
			e  AuditEvent
			id int64
			ts string
		)
		if err := rows.Scan(&id, &ts, &e.RunID, &e.App, &e.Stage, &e.State, &e.DurationMS,
			&e.Error, &e.ErrorCode, &e.ProcessID, &e.ProcessName, &e.Checksum); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("invalid audit timestamp %q: %w", ts, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *sqliteAuditBackend) Maintenance() error {
	if _, err := s.db.Exec(`DELETE FROM startup_events WHERE created_at < datetime('now', '-' || ? || ' days')`, s.retentionDays); err != nil {
		return fmt.Errorf("failed to cleanup old audit events: %w", err)
	}
	_, _ = s.db.Exec("PRAGMA optimize")
	return nil
}

func (s *sqliteAuditBackend) GetStats() (*AuditStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &AuditStats{EventsByStage: make(map[string]int64)}
	if err := s.db.QueryRow("SELECT COUNT(*), COUNT(DISTINCT run_id) FROM startup_events").Scan(&stats.TotalEvents, &stats.Runs); err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(DISTINCT run_id) FROM startup_events WHERE state = ?", StateFailed.String()).Scan(&stats.FailedRuns); err != nil {
		return nil, fmt.Errorf("failed to count failed runs: %w", err)
	}

	rows, err := s.db.Query("SELECT stage, COUNT(*) FROM startup_events GROUP BY stage")
	if err != nil {
		return nil, fmt.Errorf("failed to get events by stage: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var stage string
		var count int64
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stage stats: %w", err)
		}
		stats.EventsByStage[stage] = count
	}

	if err := s.db.QueryRow("SELECT version FROM schema_info ORDER BY version DESC LIMIT 1").Scan(&stats.SchemaVersion); err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get schema version: %w", err)
	}
	return stats, rows.Err()
}

func (s *sqliteAuditBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []string
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		errs = append(errs, err.Error())
	}
	if err := s.insertStmt.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing SQLite audit backend: %s", strings.Join(errs, "; "))
	}
	return nil
}

// jsonlAuditBackend appends one JSON object per line.
type jsonlAuditBackend struct {
	path   string
	file   *os.File
	mu     sync.Mutex
	closed bool
}

func newJSONLBackend(config AuditConfig) (*jsonlAuditBackend, error) {
	if err := os.MkdirAll(filepath.Dir(config.OutputFile), 0750); err != nil {
		return nil, fmt.Errorf("failed to create JSONL audit log directory: %w", err)
	}
	file, err := os.OpenFile(config.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL audit log file: %w", err)
	}
	return &jsonlAuditBackend{path: config.OutputFile, file: file}, nil
}

func (j *jsonlAuditBackend) Write(events []AuditEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return fmt.Errorf("cannot write to closed JSONL audit backend")
	}

	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal audit event: %w", err)
		}
		if _, err := j.file.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write audit event: %w", err)
		}
	}
	return j.file.Sync()
}

func (j *jsonlAuditBackend) Query(filter AuditFilter) ([]AuditEvent, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var events []AuditEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("corrupt audit line: %w", err)
		}
		if filter.match(e) {
			events = append(events, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read JSONL audit log: %w", err)
	}

	if n := filter.limit(); len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}

func (j *jsonlAuditBackend) Maintenance() error { return nil }

func (j *jsonlAuditBackend) GetStats() (*AuditStats, error) {
	events, err := j.Query(AuditFilter{Limit: int(^uint(0) >> 1)})
	if err != nil {
		return nil, err
	}
	stats := &AuditStats{EventsByStage: make(map[string]int64), TotalEvents: int64(len(events))}
	runs := make(map[string]bool)
	failed := make(map[string]bool)
	for _, e := range events {
		stats.EventsByStage[e.Stage]++
		runs[e.RunID] = true
		if e.Failed() {
			failed[e.RunID] = true
		}
	}
	stats.Runs = int64(len(runs))
	stats.FailedRuns = int64(len(failed))
	return stats, nil
}

func (j *jsonlAuditBackend) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.file.Close()
}
