package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"oape-orchestrator/internal/models"
)

// sqliteTime is fixed width so timestamps sort as text.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLite keeps job history in a local database file.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path and migrates it.
func NewSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS job_history (
		id TEXT PRIMARY KEY,
		ep_url TEXT NOT NULL,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		output TEXT NOT NULL DEFAULT '',
		cost_usd REAL NOT NULL DEFAULT 0,
		error TEXT,
		message_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		finished_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_job_history_finished_at ON job_history(finished_at);
	`)
	return err
}

func (s *SQLite) Save(ctx context.Context, rec models.JobRecord) error {
	var errText sql.NullString
	if rec.Error != nil {
		errText = sql.NullString{String: *rec.Error, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO job_history (id, ep_url, mode, status, output, cost_usd, error, message_count, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.EPURL, rec.Mode, string(rec.Status), rec.Output, rec.CostUSD, errText, rec.MessageCount,
		rec.CreatedAt.UTC().Format(sqliteTime), rec.FinishedAt.UTC().Format(sqliteTime))
	if err != nil {
		return fmt.Errorf("insert job history: %w", err)
	}
	return nil
}

const sqliteSelect = `
	SELECT id, ep_url, mode, status, output, cost_usd, error, message_count, created_at, finished_at
	FROM job_history`

func (s *SQLite) Get(ctx context.Context, id string) (models.JobRecord, error) {
	rec, err := scanSQLite(s.db.QueryRowContext(ctx, sqliteSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.JobRecord{}, ErrNotFound
	}
	return rec, err
}

func (s *SQLite) List(ctx context.Context, limit int) ([]models.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSelect+` ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query job history: %w", err)
	}
	defer rows.Close()

	var out []models.JobRecord
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row scanner) (models.JobRecord, error) {
	var rec models.JobRecord
	var status, created, finished string
	var errText sql.NullString
	if err := row.Scan(&rec.ID, &rec.EPURL, &rec.Mode, &status, &rec.Output, &rec.CostUSD, &errText, &rec.MessageCount, &created, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.JobRecord{}, err
		}
		return models.JobRecord{}, fmt.Errorf("scan job history: %w", err)
	}
	rec.Status = models.JobStatus(status)
	if errText.Valid {
		rec.Error = &errText.String
	}
	rec.CreatedAt, _ = time.Parse(sqliteTime, created)
	rec.FinishedAt, _ = time.Parse(sqliteTime, finished)
	return rec, nil
}
