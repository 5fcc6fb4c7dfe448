// Package store persists finalized jobs so their outcome outlives the process.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"oape-orchestrator/internal/config"
	"oape-orchestrator/internal/models"
)

// ErrNotFound is returned when no history row exists for an id.
var ErrNotFound = errors.New("job not in history")

// History is a durable log of finished jobs.
type History interface {
	Save(ctx context.Context, rec models.JobRecord) error
	Get(ctx context.Context, id string) (models.JobRecord, error)
	// List returns the most recently finished jobs first.
	List(ctx context.Context, limit int) ([]models.JobRecord, error)
	Close() error
}

// Open picks Postgres when a DSN is configured and SQLite otherwise.
func Open(ctx context.Context, cfg config.Config) (History, error) {
	if cfg.PostgresDSN != "" {
		pg, err := NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := pg.RunMigrations(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	}
	return NewSQLite(cfg.SQLitePath)
}

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

// Recorder saves every finalized job into a History. It implements
// jobs.Observer. Saves run in the background so Finalize never waits on the
// database; Flush waits for them.
type Recorder struct {
	history History
	timeout time.Duration
	logger  Logger
	wg      sync.WaitGroup
}

// NewRecorder returns an observer writing to history.
func NewRecorder(history History, logger Logger) *Recorder {
	return &Recorder{history: history, timeout: 5 * time.Second, logger: logger}
}

func (r *Recorder) OnCreate(models.Job) {}

func (r *Recorder) OnAppend(string, int, models.Event) {}

func (r *Recorder) OnFinalize(job models.Job) {
	rec := Record(job)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.history.Save(ctx, rec); err != nil && r.logger != nil {
			r.logger.Printf("history: save %s: %v", rec.ID, err)
		}
	}()
}

// Flush blocks until every pending save has finished.
func (r *Recorder) Flush() { r.wg.Wait() }

// Record converts a finalized job snapshot into a history row.
func Record(job models.Job) models.JobRecord {
	rec := models.JobRecord{
		ID:           job.ID,
		EPURL:        job.EPURL,
		Mode:         job.Mode,
		Status:       job.Status,
		Output:       job.Output,
		CostUSD:      job.CostUSD,
		Error:        job.Error,
		MessageCount: job.MessageCount,
		CreatedAt:    job.CreatedAt,
	}
	if job.FinishedAt != nil {
		rec.FinishedAt = *job.FinishedAt
	} else {
		rec.FinishedAt = time.Now().UTC()
	}
	return rec
}
