package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"oape-orchestrator/internal/models"
)

// Outcome is the terminal state written by Finalize.
type Outcome struct {
	Status  models.JobStatus
	Output  string
	CostUSD float64
	Error   *string
}

// WaitResult describes why Wait returned.
type WaitResult struct {
	Events   []models.Event
	Next     int
	Terminal bool
	// Keepalive is set when the idle window elapsed with nothing new.
	Keepalive bool
}

// Store is the process-wide job registry.
type Store interface {
	Create(epURL, mode string) (models.Job, error)
	Get(id string) (models.Job, error)
	Append(id string, ev models.Event) (int, error)
	ReadSince(id string, cursor int) ([]models.Event, int, error)
	Finalize(id string, out Outcome) error
	Wait(ctx context.Context, id string, cursor int, idle time.Duration) (WaitResult, error)
	List() []models.Job
}

// Observer follows job mutations outside the reader path. Callbacks for one
// job run in log order and never block readers.
type Observer interface {
	OnCreate(job models.Job)
	OnAppend(jobID string, index int, ev models.Event)
	OnFinalize(job models.Job)
}

type entry struct {
	// writeMu orders observer callbacks with the log. Taken before mu.
	writeMu sync.Mutex
	mu      sync.Mutex
	job     models.Job
	events  []models.Event
	changed chan struct{}
}

// notifyLocked wakes every current waiter. Caller holds e.mu.
func (e *entry) notifyLocked() {
	close(e.changed)
	e.changed = make(chan struct{})
}

func (e *entry) snapshotLocked() models.Job {
	job := e.job
	job.MessageCount = len(e.events)
	return job
}

// MemoryStore keeps every job in memory for the life of the process.
type MemoryStore struct {
	mu        sync.RWMutex
	jobs      map[string]*entry
	order     []string
	observers []Observer
	now       func() time.Time
	newID     func() string
}

// NewMemoryStore returns an empty store. Observers are notified of every mutation.
func NewMemoryStore(observers ...Observer) *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[string]*entry),
		observers: observers,
		now:       time.Now,
		newID:     NewID,
	}
}

// NewID returns a 12 character hex identifier.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func (s *MemoryStore) Create(epURL, mode string) (models.Job, error) {
	s.mu.Lock()
	id := s.newID()
	for s.jobs[id] != nil {
		id = s.newID()
	}
	e := &entry{
		job: models.Job{
			ID:        id,
			Status:    models.StatusRunning,
			EPURL:     epURL,
			Mode:      mode,
			CreatedAt: s.now().UTC(),
		},
		changed: make(chan struct{}),
	}
	s.jobs[id] = e
	s.order = append(s.order, id)
	s.mu.Unlock()

	job := e.job
	for _, o := range s.observers {
		o.OnCreate(job)
	}
	return job, nil
}

func (s *MemoryStore) lookup(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

func (s *MemoryStore) Get(id string) (models.Job, error) {
	e, err := s.lookup(id)
	if err != nil {
		return models.Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(), nil
}

// Append adds ev to the job log and returns its position.
func (s *MemoryStore) Append(id string, ev models.Event) (int, error) {
	e, err := s.lookup(id)
	if err != nil {
		return 0, err
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.mu.Lock()
	if e.job.Status.Terminal() {
		e.mu.Unlock()
		return 0, fmt.Errorf("append to %s: %w", id, ErrFinalized)
	}
	idx := len(e.events)
	e.events = append(e.events, ev)
	e.notifyLocked()
	e.mu.Unlock()

	for _, o := range s.observers {
		o.OnAppend(id, idx, ev)
	}
	return idx, nil
}

// ReadSince returns events[cursor:] and the cursor to use next.
// Cursors beyond the end are clamped.
func (s *MemoryStore) ReadSince(id string, cursor int) ([]models.Event, int, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	evs, next := e.readLocked(cursor)
	return evs, next, nil
}

func (e *entry) readLocked(cursor int) ([]models.Event, int) {
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= len(e.events) {
		return nil, len(e.events)
	}
	out := make([]models.Event, len(e.events)-cursor)
	copy(out, e.events[cursor:])
	return out, len(e.events)
}

// Finalize sets the terminal status, output, cost and error together.
// It succeeds once per job.
func (s *MemoryStore) Finalize(id string, out Outcome) error {
	if !out.Status.Terminal() {
		return ErrInvalidOutcome
	}
	e, err := s.lookup(id)
	if err != nil {
		return err
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.mu.Lock()
	if e.job.Status.Terminal() {
		e.mu.Unlock()
		return fmt.Errorf("finalize %s: %w", id, ErrFinalized)
	}
	finished := s.now().UTC()
	e.job.Status = out.Status
	e.job.Output = out.Output
	e.job.CostUSD = out.CostUSD
	e.job.Error = out.Error
	e.job.FinishedAt = &finished
	e.notifyLocked()
	job := e.snapshotLocked()
	e.mu.Unlock()

	for _, o := range s.observers {
		o.OnFinalize(job)
	}
	return nil
}

// Wait blocks until the job has events past cursor, the job is terminal,
// idle elapses, or ctx is done. Pending events are returned before the
// terminal flag so readers drain the log first.
func (s *MemoryStore) Wait(ctx context.Context, id string, cursor int, idle time.Duration) (WaitResult, error) {
	e, err := s.lookup(id)
	if err != nil {
		return WaitResult{}, err
	}

	var timer *time.Timer
	var timeout <-chan time.Time
	if idle > 0 {
		timer = time.NewTimer(idle)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		e.mu.Lock()
		evs, next := e.readLocked(cursor)
		terminal := e.job.Status.Terminal()
		changed := e.changed
		e.mu.Unlock()

		if len(evs) > 0 {
			return WaitResult{Events: evs, Next: next}, nil
		}
		if terminal {
			return WaitResult{Next: next, Terminal: true}, nil
		}

		select {
		case <-changed:
		case <-timeout:
			return WaitResult{Next: next, Keepalive: true}, nil
		case <-ctx.Done():
			return WaitResult{Next: next}, ctx.Err()
		}
	}
}

// List returns snapshots of every job in creation order.
func (s *MemoryStore) List() []models.Job {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, s.jobs[id])
	}
	s.mu.RUnlock()

	out := make([]models.Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.snapshotLocked())
		e.mu.Unlock()
	}
	return out
}
