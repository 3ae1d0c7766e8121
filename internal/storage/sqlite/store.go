// Package sqlite provides the SQLite-backed mission ledger and audit store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/ppiankov/missionctl/internal/audit"
	"github.com/ppiankov/missionctl/internal/ledger"
	"github.com/ppiankov/missionctl/internal/model"
	"github.com/ppiankov/missionctl/internal/storage/sqlite/migrations"
)

// Store persists mission runs, timeline events and audit entries.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite store and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// CreateRun inserts a run header.
func (s *Store) CreateRun(ctx context.Context, run model.MissionRun) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO mission_runs (id, bundle_root, status, created_at, finished_at, detail)
VALUES (?, ?, ?, ?, ?, ?)
`,
		run.ID,
		run.BundleRoot,
		string(run.Status),
		toNanos(run.CreatedAt),
		toNanos(run.FinishedAt),
		run.Detail,
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: %s", ledger.ErrRunExists, run.ID)
		}
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// UpdateRun sets the mutable columns of a run.
func (s *Store) UpdateRun(ctx context.Context, runID string, status model.RunStatus, finishedAt time.Time, detail string) error {
	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE mission_runs SET status = ?, finished_at = ?, detail = ? WHERE id = ?
`, string(status), toNanos(finishedAt), detail, runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrRunNotFound, runID)
	}
	return nil
}

// GetRun loads one run header.
func (s *Store) GetRun(ctx context.Context, runID string) (model.MissionRun, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, bundle_root, status, created_at, finished_at, detail FROM mission_runs WHERE id = ?
`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MissionRun{}, fmt.Errorf("%w: %s", ledger.ErrRunNotFound, runID)
	}
	if err != nil {
		return model.MissionRun{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]model.MissionRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, bundle_root, status, created_at, finished_at, detail
FROM mission_runs
ORDER BY created_at DESC, rowid DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []model.MissionRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// AppendEvent inserts one timeline event. The run must exist.
func (s *Store) AppendEvent(ctx context.Context, e model.TimelineEvent) error {
	res, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO timeline_events (run_id, seq, phase, step, status, ts, message, evidence_ref)
SELECT ?, ?, ?, ?, ?, ?, ?, ?
WHERE EXISTS (SELECT 1 FROM mission_runs WHERE id = ?)
`,
		e.RunID,
		e.Seq,
		string(e.Phase),
		e.Step,
		string(e.Status),
		toNanos(e.Timestamp),
		e.Message,
		e.EvidenceRef,
		e.RunID,
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: run %s seq %d", ledger.ErrDuplicateSeq, e.RunID, e.Seq)
		}
		return fmt.Errorf("append event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrRunNotFound, e.RunID)
	}
	return nil
}

// ListEvents returns a run's events by ascending seq.
func (s *Store) ListEvents(ctx context.Context, runID string) ([]model.TimelineEvent, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT run_id, seq, phase, step, status, ts, message, evidence_ref
FROM timeline_events
WHERE run_id = ?
ORDER BY seq ASC
`, runID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := []model.TimelineEvent{}
	for rows.Next() {
		var (
			e             model.TimelineEvent
			phase, status string
			ts            int64
		)
		if err := rows.Scan(&e.RunID, &e.Seq, &phase, &e.Step, &status, &ts, &e.Message, &e.EvidenceRef); err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		e.Phase = model.Phase(phase)
		e.Status = model.EventStatus(status)
		e.Timestamp = fromNanos(ts)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// AppendAudit inserts an audit entry and returns it with its row id.
func (s *Store) AppendAudit(ctx context.Context, e audit.AuditEntry) (audit.AuditEntry, error) {
	res, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO audit_entries (ts, actor, host, action, target, result, detail, previous_hash, entry_hash)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		e.Timestamp.UTC().Format(audit.TimestampFormat),
		e.Actor,
		e.Host,
		e.Action,
		e.Target,
		e.Result,
		e.Detail,
		e.PreviousHash,
		e.EntryHash,
	)
	if err != nil {
		return audit.AuditEntry{}, fmt.Errorf("append audit: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return audit.AuditEntry{}, fmt.Errorf("append audit: %w", err)
	}
	e.ID = id
	return e, nil
}

// LastAudit returns the newest audit entry.
func (s *Store) LastAudit(ctx context.Context) (audit.AuditEntry, bool, error) {
	row := s.sqlDB.QueryRowContext(ctx, auditSelect+` ORDER BY id DESC LIMIT 1`)
	e, err := scanAudit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.AuditEntry{}, false, nil
	}
	if err != nil {
		return audit.AuditEntry{}, false, fmt.Errorf("last audit: %w", err)
	}
	return e, true, nil
}

// ListAudit returns every audit entry, oldest first.
func (s *Store) ListAudit(ctx context.Context) ([]audit.AuditEntry, error) {
	rows, err := s.sqlDB.QueryContext(ctx, auditSelect+` ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var entries []audit.AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("list audit: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return entries, nil
}

const auditSelect = `
SELECT id, ts, actor, host, action, target, result, detail, previous_hash, entry_hash
FROM audit_entries`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (model.MissionRun, error) {
	var (
		run                 model.MissionRun
		status              string
		created, finishedAt int64
	)
	if err := row.Scan(&run.ID, &run.BundleRoot, &status, &created, &finishedAt, &run.Detail); err != nil {
		return model.MissionRun{}, err
	}
	run.Status = model.RunStatus(status)
	run.CreatedAt = fromNanos(created)
	run.FinishedAt = fromNanos(finishedAt)
	return run, nil
}

func scanAudit(row scanner) (audit.AuditEntry, error) {
	var (
		e  audit.AuditEntry
		ts string
	)
	if err := row.Scan(&e.ID, &ts, &e.Actor, &e.Host, &e.Action, &e.Target, &e.Result, &e.Detail, &e.PreviousHash, &e.EntryHash); err != nil {
		return audit.AuditEntry{}, err
	}
	parsed, err := time.Parse(audit.TimestampFormat, ts)
	if err != nil {
		return audit.AuditEntry{}, fmt.Errorf("parse audit timestamp %q: %w", ts, err)
	}
	e.Timestamp = parsed.UTC()
	return e, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3lib.SQLITE_CONSTRAINT, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}

var (
	_ ledger.Store = (*Store)(nil)
	_ audit.Store  = (*Store)(nil)
)
