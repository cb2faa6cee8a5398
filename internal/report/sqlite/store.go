// Package sqlite provides a SQLite-backed run history store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/louisbranch/ensemble/internal/errors"
	"github.com/louisbranch/ensemble/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/ensemble/internal/report"
	"github.com/louisbranch/ensemble/internal/report/sqlite/migrations"
)

// Store persists run reports in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// RunRecord is one run's summary row in history listings.
type RunRecord struct {
	RunID          string
	Scenario       string
	StartedAt      time.Time
	ElapsedSeconds float64
	Steps          int
	Passed         int
	Failed         int
	Skipped        int
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite run history store and applies embedded migrations.
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
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveReport inserts one finished run.
func (s *Store) SaveReport(ctx context.Context, r *report.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if r == nil || strings.TrimSpace(r.RunID) == "" {
		return fmt.Errorf("report with run id is required")
	}

	startedAt, err := time.Parse(time.RFC3339, r.StartedAtUTC)
	if err != nil {
		return fmt.Errorf("parse started at: %w", err)
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO runs (run_id, scenario, started_at, elapsed_seconds, steps, passed, failed, skipped, report_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID,
		r.Scenario,
		toMillis(startedAt),
		r.ElapsedSeconds,
		r.Totals.Steps,
		r.Totals.Passed,
		r.Totals.Failed,
		r.Totals.Skipped,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// ListRuns returns run summaries, most recent first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT run_id, scenario, started_at, elapsed_seconds, steps, passed, failed, skipped
FROM runs
ORDER BY started_at DESC, run_id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var record RunRecord
		var startedAt int64
		if err := rows.Scan(
			&record.RunID,
			&record.Scenario,
			&startedAt,
			&record.ElapsedSeconds,
			&record.Steps,
			&record.Passed,
			&record.Failed,
			&record.Skipped,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		record.StartedAt = fromMillis(startedAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return records, nil
}

// GetRun loads one run's full report by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*report.Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}

	var payload string
	row := s.sqlDB.QueryRowContext(ctx, "SELECT report_json FROM runs WHERE run_id = ?", runID)
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.New(errors.CodeNotFound, fmt.Sprintf("run %s not found", runID))
		}
		return nil, fmt.Errorf("load run: %w", err)
	}

	var out report.Report
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &out, nil
}
