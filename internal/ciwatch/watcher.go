package ciwatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"oape-orchestrator/internal/telemetry"
)

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Ref names one PR to watch.
type Ref struct {
	Label string
	URL   string
}

// Report is the final classification of every watched PR. Label lists are
// disjoint and keep the order the refs were given in.
type Report struct {
	Refs     []Ref
	Passed   []string
	Closed   []string
	TimedOut []string
	Polls    int
}

// Outcome returns the classification for label.
func (r Report) Outcome(label string) Outcome {
	for _, l := range r.Passed {
		if l == label {
			return Passed
		}
	}
	for _, l := range r.Closed {
		if l == label {
			return Closed
		}
	}
	for _, l := range r.TimedOut {
		if l == label {
			return TimedOut
		}
	}
	return Pending
}

// Markdown renders the CI status section of the final summary.
func (r Report) Markdown() string {
	var b strings.Builder
	b.WriteString("## CI Status\n")
	fmt.Fprintf(&b, "- Passed: %s\n", joinOrNone(r.Passed))
	fmt.Fprintf(&b, "- Failed/Closed: %s\n", joinOrNone(r.Closed))
	fmt.Fprintf(&b, "- Timed out: %s\n", joinOrNone(r.TimedOut))
	return b.String()
}

func joinOrNone(labels []string) string {
	if len(labels) == 0 {
		return "none"
	}
	return strings.Join(labels, ", ")
}

// Watcher polls PR status until every PR is terminal or the wait budget runs out.
type Watcher struct {
	provider Provider
	interval time.Duration
	maxWait  time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	logger   Logger
}

// Option customizes a Watcher.
type Option func(*Watcher)

// WithInterval sets the delay between poll rounds.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) { w.interval = d }
}

// WithMaxWait sets the total wait budget. Zero means no polling at all.
func WithMaxWait(d time.Duration) Option {
	return func(w *Watcher) { w.maxWait = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) {
		if now != nil {
			w.now = now
		}
	}
}

// WithSleep overrides how the watcher waits between rounds.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Watcher) {
		if sleep != nil {
			w.sleep = sleep
		}
	}
}

// WithLogger sets the progress logger.
func WithLogger(l Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWatcher returns a watcher that polls every minute for up to two hours.
func NewWatcher(provider Provider, opts ...Option) *Watcher {
	w := &Watcher{
		provider: provider,
		interval: time.Minute,
		maxWait:  120 * time.Minute,
		now:      time.Now,
		sleep:    sleepContext,
		logger:   nopLogger{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// With returns a copy of w with opts applied.
func (w *Watcher) With(opts ...Option) *Watcher {
	c := *w
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Watch polls refs until none is pending, the wait budget is spent, or ctx
// ends. Anything still pending at that point is reported as timed out.
func (w *Watcher) Watch(ctx context.Context, refs []Ref) Report {
	report := Report{Refs: refs}
	outcomes := make(map[string]Outcome, len(refs))
	for _, ref := range refs {
		outcomes[ref.Label] = Pending
	}

	start := w.now()
	for {
		pending := pendingRefs(refs, outcomes)
		if len(pending) == 0 || w.now().Sub(start) >= w.maxWait || ctx.Err() != nil {
			break
		}

		for _, ref := range pending {
			if ctx.Err() != nil {
				break
			}
			elapsed := int(w.now().Sub(start).Minutes())
			st, err := w.provider.PRStatus(ctx, ref.URL)
			report.Polls++
			if err != nil {
				telemetry.CIPolls.WithLabelValues("error").Inc()
				w.logger.Printf("[%dm] %s: status unavailable: %v", elapsed, ref.Label, err)
				continue
			}
			next := Classify(st)
			telemetry.CIPolls.WithLabelValues(string(next)).Inc()
			switch next {
			case Passed:
				w.logger.Printf("[%dm] %s: all checks passed (%d checks)", elapsed, ref.Label, st.NumChecks)
			case Closed:
				w.logger.Printf("[%dm] %s: PR closed", elapsed, ref.Label)
			default:
				w.logger.Printf("[%dm] %s: waiting (%d pending of %d)", elapsed, ref.Label, st.PendingNum, st.NumChecks)
			}
			outcomes[ref.Label] = next
		}

		if len(pendingRefs(refs, outcomes)) == 0 {
			break
		}
		remaining := w.maxWait - w.now().Sub(start)
		if remaining <= 0 {
			break
		}
		if err := w.sleep(ctx, min(w.interval, remaining)); err != nil {
			break
		}
	}

	for _, ref := range refs {
		switch outcomes[ref.Label] {
		case Passed:
			report.Passed = append(report.Passed, ref.Label)
		case Closed:
			report.Closed = append(report.Closed, ref.Label)
		default:
			report.TimedOut = append(report.TimedOut, ref.Label)
		}
	}
	if len(report.TimedOut) > 0 {
		w.logger.Printf("still pending after %s: %s", w.maxWait, strings.Join(report.TimedOut, ", "))
	}
	return report
}

func pendingRefs(refs []Ref, outcomes map[string]Outcome) []Ref {
	var out []Ref
	for _, ref := range refs {
		if !outcomes[ref.Label].Terminal() {
			out = append(out, ref)
		}
	}
	return out
}
