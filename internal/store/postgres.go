package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"oape-orchestrator/internal/models"
)

// Postgres wraps pgxpool for job history persistence.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Save inserts rec, replacing any earlier row with the same id.
func (s *Postgres) Save(ctx context.Context, rec models.JobRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_history (id, ep_url, mode, status, output, cost_usd, error, message_count, created_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			output = EXCLUDED.output,
			cost_usd = EXCLUDED.cost_usd,
			error = EXCLUDED.error,
			message_count = EXCLUDED.message_count,
			finished_at = EXCLUDED.finished_at
	`, rec.ID, rec.EPURL, rec.Mode, string(rec.Status), rec.Output, rec.CostUSD, rec.Error, rec.MessageCount, rec.CreatedAt, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert job history: %w", err)
	}
	return nil
}

const pgSelect = `
	SELECT id, ep_url, mode, status, output, cost_usd, error, message_count, created_at, finished_at
	FROM job_history`

// Get fetches one history row.
func (s *Postgres) Get(ctx context.Context, id string) (models.JobRecord, error) {
	rec, err := scanPG(s.pool.QueryRow(ctx, pgSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.JobRecord{}, ErrNotFound
	}
	return rec, err
}

// List returns up to limit rows, newest first.
func (s *Postgres) List(ctx context.Context, limit int) ([]models.JobRecord, error) {
	rows, err := s.pool.Query(ctx, pgSelect+` ORDER BY finished_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query job history: %w", err)
	}
	defer rows.Close()

	var out []models.JobRecord
	for rows.Next() {
		rec, err := scanPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanPG(row pgx.Row) (models.JobRecord, error) {
	var rec models.JobRecord
	var status string
	var errText pgtype.Text
	if err := row.Scan(&rec.ID, &rec.EPURL, &rec.Mode, &status, &rec.Output, &rec.CostUSD, &errText, &rec.MessageCount, &rec.CreatedAt, &rec.FinishedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.JobRecord{}, err
		}
		return models.JobRecord{}, fmt.Errorf("scan job history: %w", err)
	}
	rec.Status = models.JobStatus(status)
	rec.Error = textPtr(errText)
	return rec, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
