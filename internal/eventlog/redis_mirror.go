package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"oape-orchestrator/internal/config"
	"oape-orchestrator/internal/models"
)

// ErrNotFound is returned when Redis holds nothing for a job.
var ErrNotFound = errors.New("job not mirrored")

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// NewClient builds a Redis client from config. Per-call context deadlines
// bound every round-trip.
func NewClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:                  cfg.RedisAddr,
		Password:              cfg.RedisPassword,
		DB:                    cfg.RedisDB,
		ContextTimeoutEnabled: true,
	})
}

// op is one queued write. A job's ops run in order in one transaction.
type op func(ctx context.Context, pipe redis.Pipeliner)

// RedisMirror copies job state and event logs into Redis so they outlive the
// process and can be replayed by cursor. It implements jobs.Observer.
//
// Observer callbacks only enqueue. Each job has its own queue drained by a
// single goroutine, so writes keep log order and a slow Redis never holds up
// the agent's event path.
type RedisMirror struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	logger  Logger

	mu     sync.Mutex
	queues map[string][]op
	wg     sync.WaitGroup
}

// NewRedisMirror returns a mirror whose keys expire ttl after the last write.
// A zero ttl keeps keys forever.
func NewRedisMirror(client *redis.Client, ttl time.Duration, logger Logger) *RedisMirror {
	if logger == nil {
		logger = nopLogger{}
	}
	return &RedisMirror{
		client:  client,
		prefix:  "oape:job:",
		ttl:     ttl,
		timeout: 2 * time.Second,
		logger:  logger,
		queues:  make(map[string][]op),
	}
}

func (m *RedisMirror) eventsKey(jobID string) string { return m.prefix + jobID + ":events" }
func (m *RedisMirror) statusKey(jobID string) string { return m.prefix + jobID + ":status" }

// Channel is the pub/sub channel announcing new events and completion for jobID.
func (m *RedisMirror) Channel(jobID string) string { return m.prefix + jobID + ":notify" }

func (m *RedisMirror) expire(ctx context.Context, pipe redis.Pipeliner, keys ...string) {
	if m.ttl <= 0 {
		return
	}
	for _, k := range keys {
		pipe.Expire(ctx, k, m.ttl)
	}
}

// enqueue adds o to the job's queue and starts a drainer if none is running.
// A key present in queues means a drainer owns that job.
func (m *RedisMirror) enqueue(jobID string, o op) {
	m.mu.Lock()
	q, draining := m.queues[jobID]
	m.queues[jobID] = append(q, o)
	if draining {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()
	go m.drain(jobID)
}

func (m *RedisMirror) drain(jobID string) {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		batch := m.queues[jobID]
		if len(batch) == 0 {
			delete(m.queues, jobID)
			m.mu.Unlock()
			return
		}
		m.queues[jobID] = nil
		m.mu.Unlock()
		m.exec(jobID, batch)
	}
}

func (m *RedisMirror) exec(jobID string, batch []op) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	pipe := m.client.TxPipeline()
	for _, o := range batch {
		o(ctx, pipe)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.Printf("eventlog: mirror %s: %d writes lost: %v", jobID, len(batch), err)
	}
}

// Flush blocks until every queued write has been attempted.
func (m *RedisMirror) Flush() { m.wg.Wait() }

// OnCreate records the new job's status hash.
func (m *RedisMirror) OnCreate(job models.Job) {
	createdAt := job.CreatedAt.UTC().Format(time.RFC3339Nano)
	m.enqueue(job.ID, func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.HSet(ctx, m.statusKey(job.ID),
			"status", string(job.Status),
			"ep_url", job.EPURL,
			"mode", job.Mode,
			"created_at", createdAt,
		)
		m.expire(ctx, pipe, m.statusKey(job.ID))
	})
}

// OnAppend pushes the event onto the job's list and announces its index.
func (m *RedisMirror) OnAppend(jobID string, index int, ev models.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		m.logger.Printf("eventlog: marshal event %s/%d: %v", jobID, index, err)
		return
	}
	m.enqueue(jobID, func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.RPush(ctx, m.eventsKey(jobID), data)
		pipe.HSet(ctx, m.statusKey(jobID), "message_count", index+1)
		m.expire(ctx, pipe, m.eventsKey(jobID), m.statusKey(jobID))
		pipe.Publish(ctx, m.Channel(jobID), strconv.Itoa(index))
	})
}

// OnFinalize stores the terminal fields and announces completion.
func (m *RedisMirror) OnFinalize(job models.Job) {
	fields := []any{
		"status", string(job.Status),
		"output", job.Output,
		"cost_usd", strconv.FormatFloat(job.CostUSD, 'f', -1, 64),
		"message_count", job.MessageCount,
	}
	if job.Error != nil {
		fields = append(fields, "error", *job.Error)
	}
	if job.FinishedAt != nil {
		fields = append(fields, "finished_at", job.FinishedAt.UTC().Format(time.RFC3339Nano))
	}
	m.enqueue(job.ID, func(ctx context.Context, pipe redis.Pipeliner) {
		pipe.HSet(ctx, m.statusKey(job.ID), fields...)
		m.expire(ctx, pipe, m.eventsKey(job.ID), m.statusKey(job.ID))
		pipe.Publish(ctx, m.Channel(job.ID), "complete")
	})
}

// Replay returns the mirrored events from cursor on and the cursor to resume from.
func (m *RedisMirror) Replay(ctx context.Context, jobID string, cursor int) ([]models.Event, int, error) {
	if cursor < 0 {
		cursor = 0
	}
	raw, err := m.client.LRange(ctx, m.eventsKey(jobID), int64(cursor), -1).Result()
	if err != nil {
		return nil, cursor, fmt.Errorf("replay %s: %w", jobID, err)
	}
	events := make([]models.Event, 0, len(raw))
	for i, item := range raw {
		var ev models.Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, cursor, fmt.Errorf("decode event %s/%d: %w", jobID, cursor+i, err)
		}
		events = append(events, ev)
	}
	return events, cursor + len(events), nil
}

// Status rebuilds the job snapshot from the status hash.
func (m *RedisMirror) Status(ctx context.Context, jobID string) (models.Job, error) {
	vals, err := m.client.HGetAll(ctx, m.statusKey(jobID)).Result()
	if err != nil {
		return models.Job{}, fmt.Errorf("status %s: %w", jobID, err)
	}
	if len(vals) == 0 {
		return models.Job{}, ErrNotFound
	}
	job := models.Job{
		ID:     jobID,
		Status: models.JobStatus(vals["status"]),
		EPURL:  vals["ep_url"],
		Mode:   vals["mode"],
		Output: vals["output"],
	}
	if v, ok := vals["cost_usd"]; ok {
		job.CostUSD, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := vals["message_count"]; ok {
		job.MessageCount, _ = strconv.Atoi(v)
	}
	if v, ok := vals["error"]; ok {
		job.Error = &v
	}
	if t, err := time.Parse(time.RFC3339Nano, vals["created_at"]); err == nil {
		job.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, vals["finished_at"]); err == nil {
		job.FinishedAt = &t
	}
	return job, nil
}

// Follow subscribes to jobID's notifications. The returned channel receives
// a value after new events or completion are mirrored; bursts coalesce into
// one wake-up. It is closed after stop is called or the subscription ends.
func (m *RedisMirror) Follow(ctx context.Context, jobID string) (<-chan struct{}, func(), error) {
	sub := m.client.Subscribe(ctx, m.Channel(jobID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, fmt.Errorf("follow %s: %w", jobID, err)
	}

	notify := make(chan struct{}, 1)
	msgs := sub.Channel()
	go func() {
		defer close(notify)
		for range msgs {
			select {
			case notify <- struct{}{}:
			default:
			}
		}
	}()

	var once sync.Once
	stop := func() { once.Do(func() { sub.Close() }) }
	return notify, stop, nil
}

// Ping checks connectivity.
func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}
