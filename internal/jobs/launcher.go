package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"oape-orchestrator/internal/models"
	"oape-orchestrator/internal/telemetry"
)

// ErrUnknownMode is returned when no handler is registered for a submission's mode.
var ErrUnknownMode = errors.New("no handler registered for mode")

// Submission is a validated request to run a workflow.
type Submission struct {
	EPURL         string
	Mode          string
	RepoURL       string
	BaseBranch    string
	RepoShortName string
}

// EmitFunc appends one event to the running job's log.
type EmitFunc func(models.Event)

// Handler executes a job for a given mode and reports its terminal outcome.
type Handler func(ctx context.Context, job models.Job, sub Submission, emit EmitFunc) Outcome

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

// Handle tracks one launched job.
type Handle struct {
	JobID string
	done  chan struct{}
}

// Done is closed once the job has been finalized.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Launcher starts job handlers in the background and guarantees every job is
// finalized, even when its handler panics.
type Launcher struct {
	store    Store
	handlers map[string]Handler
	logger   Logger

	wg      sync.WaitGroup
	mu      sync.Mutex
	handles map[string]*Handle
}

// NewLauncher creates a launcher over store.
func NewLauncher(store Store, logger Logger) *Launcher {
	return &Launcher{
		store:    store,
		handlers: make(map[string]Handler),
		logger:   logger,
		handles:  make(map[string]*Handle),
	}
}

// RegisterHandler binds a handler to a mode.
func (l *Launcher) RegisterHandler(mode string, handler Handler) {
	if mode == "" || handler == nil {
		return
	}
	l.handlers[mode] = handler
}

// Supports reports whether a handler is registered for mode.
func (l *Launcher) Supports(mode string) bool {
	_, ok := l.handlers[mode]
	return ok
}

// Launch creates the job and runs its handler on a new goroutine bound to ctx.
func (l *Launcher) Launch(ctx context.Context, sub Submission) (models.Job, *Handle, error) {
	handler, ok := l.handlers[sub.Mode]
	if !ok {
		return models.Job{}, nil, fmt.Errorf("%w: %q", ErrUnknownMode, sub.Mode)
	}
	job, err := l.store.Create(sub.EPURL, sub.Mode)
	if err != nil {
		return models.Job{}, nil, fmt.Errorf("create job: %w", err)
	}

	h := &Handle{JobID: job.ID, done: make(chan struct{})}
	l.mu.Lock()
	l.handles[job.ID] = h
	l.mu.Unlock()

	telemetry.JobsSubmitted.WithLabelValues(sub.Mode).Inc()
	telemetry.JobsRunning.Inc()
	l.logf("job %s started mode=%s ep=%s", job.ID, sub.Mode, sub.EPURL)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(h.done)
		l.execute(ctx, job, sub, handler)
	}()
	return job, h, nil
}

func (l *Launcher) execute(ctx context.Context, job models.Job, sub Submission, handler Handler) {
	emit := func(ev models.Event) {
		if _, err := l.store.Append(job.ID, ev); err != nil {
			l.logf("job %s: drop event: %v", job.ID, err)
			return
		}
		telemetry.EventsAppended.WithLabelValues(string(ev.Type)).Inc()
	}

	out := l.invoke(ctx, job, sub, handler, emit)
	if err := l.store.Finalize(job.ID, out); err != nil {
		l.logf("job %s: finalize: %v", job.ID, err)
	}
	telemetry.JobsRunning.Dec()
	telemetry.JobsCompleted.WithLabelValues(string(out.Status)).Inc()
	if out.Error != nil {
		l.logf("job %s finished status=%s cost=$%.4f error=%s", job.ID, out.Status, out.CostUSD, *out.Error)
	} else {
		l.logf("job %s finished status=%s cost=$%.4f", job.ID, out.Status, out.CostUSD)
	}
}

func (l *Launcher) invoke(ctx context.Context, job models.Job, sub Submission, handler Handler, emit EmitFunc) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			l.logf("job %s panicked: %v\n%s", job.ID, p, debug.Stack())
			out = Failed(fmt.Sprintf("job handler panicked: %v", p), "", 0)
		}
	}()
	out = handler(ctx, job, sub, emit)
	if !out.Status.Terminal() {
		out.Status = models.StatusFailed
		if out.Error == nil {
			out.Error = strPtr("job handler returned without a terminal status")
		}
	}
	return out
}

// Handle returns the tracking handle for a job launched by this launcher.
func (l *Launcher) Handle(jobID string) (*Handle, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.handles[jobID]
	return h, ok
}

// Wait blocks until every launched job has been finalized.
func (l *Launcher) Wait() { l.wg.Wait() }

func (l *Launcher) logf(format string, args ...any) {
	if l.logger != nil {
		l.logger.Printf(format, args...)
	}
}

// Succeeded builds a success outcome.
func Succeeded(output string, cost float64) Outcome {
	return Outcome{Status: models.StatusSuccess, Output: output, CostUSD: cost}
}

// Failed builds a failure outcome carrying msg.
func Failed(msg, output string, cost float64) Outcome {
	return Outcome{Status: models.StatusFailed, Output: output, CostUSD: cost, Error: strPtr(msg)}
}

func strPtr(s string) *string { return &s }
