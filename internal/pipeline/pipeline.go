package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"oape-orchestrator/internal/agent"
	"oape-orchestrator/internal/ciwatch"
	"oape-orchestrator/internal/models"
)

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Session labels, also used as PR labels.
const (
	LabelAPITypes   = "api-types"
	LabelController = "controller"
	LabelE2E        = "e2e-tests"
	labelPipeline   = "pipeline"
	labelCI         = "ci"
)

// Pipeline runs the phased workflow: sequential API types, parallel
// controller and e2e branches, then CI watching.
type Pipeline struct {
	runner    *agent.Runner
	watcher   *ciwatch.Watcher
	workspace *Workspace
	base      agent.Options
	now       func() time.Time
	logger    Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the time source used for branch names.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the progress logger.
func WithLogger(l Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New builds a pipeline. base supplies the agent settings shared by every
// session; its WorkDir and prompts are set per session.
func New(runner *agent.Runner, watcher *ciwatch.Watcher, workspace *Workspace, base agent.Options, opts ...Option) *Pipeline {
	p := &Pipeline{
		runner:    runner,
		watcher:   watcher,
		workspace: workspace,
		base:      base,
		now:       time.Now,
		logger:    nopLogger{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result is the outcome of one pipeline run.
type Result struct {
	APITypes    PhaseResult
	Branches    []BranchResult
	CI          ciwatch.Report
	SummaryPath string
	Report      string
	CostUSD     float64
	Err         error
}

// Success reports whether the run completed without a fatal error.
func (r Result) Success() bool { return r.Err == nil }

// PhaseResult describes the sequential phase.
type PhaseResult struct {
	PRURL       string
	SummaryPath string
	CostUSD     float64
	FailedTurns []string
	// SessionID is the agent session the phase ran in, for resuming by hand.
	SessionID string
}

// run carries per-run collaborators so concurrent runs never share callbacks.
type run struct {
	*Pipeline
	state *WorkflowState
	emit  agent.EventFunc
}

// Run executes every phase for state. Events from all sessions, plus
// pipeline progress notes, are passed to onEvent.
func (p *Pipeline) Run(ctx context.Context, state *WorkflowState, onEvent agent.EventFunc) Result {
	if state.RepoURL == "" || state.BaseBranch == "" {
		return Result{Err: ErrMissingRepo}
	}
	r := &run{Pipeline: p, state: state, emit: onEvent}
	var res Result

	r.note(labelPipeline, "Phase 1: API types pipeline for %s", state.RepoShortName)
	res.APITypes = r.apiTypes(ctx)
	res.CostUSD += res.APITypes.CostUSD

	if state.RepoLocalPath() == "" {
		res.Err = ErrRepoPathUnresolved
		r.note(labelPipeline, "Phase 1 failed to establish the repository local path. Aborting.")
		res.Report = r.report(res)
		return res
	}
	if err := ctx.Err(); err != nil {
		res.Err = fmt.Errorf("run cancelled after phase 1: %w", err)
		res.Report = r.report(res)
		return res
	}

	r.note(labelPipeline, "Phase 2: controller and e2e sub-agents")
	res.Branches = r.fanOut(ctx, []branchPlan{controllerBranch, e2eBranch})
	for _, b := range res.Branches {
		res.CostUSD += b.CostUSD
		switch b.Outcome {
		case BranchSuccess:
			r.note(labelPipeline, "%s PR: %s", b.Label, b.PRURL)
		case BranchNoResult:
			r.note(labelPipeline, "%s: no PR URL captured", b.Label)
		default:
			r.note(labelPipeline, "%s sub-agent failed: %v", b.Label, b.Err)
		}
	}

	refs := state.PRs()
	if len(refs) == 0 {
		r.note(labelCI, "No PRs to watch.")
	} else {
		r.note(labelPipeline, "Phase 3: watching %d PRs for CI", len(refs))
		res.CI = r.watcher.With(ciwatch.WithLogger(noteLogger{r: r, session: labelCI})).Watch(ctx, refs)
	}
	res.CI.Refs = refs

	path, err := r.finalSummary(ctx, res.CI)
	if err != nil {
		r.logger.Printf("write final summary: %v", err)
	}
	res.SummaryPath = path
	res.Report = r.report(res)
	return res
}

// options returns the base agent options for a session in dir.
func (r *run) options(dir, appendPrompt string) agent.Options {
	opts := r.base
	opts.WorkDir = dir
	opts.AppendSystemPrompt = appendPrompt
	return opts
}

func (r *run) data() promptData {
	return promptData{
		EPURL:         r.state.EPURL,
		RepoShortName: r.state.RepoShortName,
		RepoURL:       r.state.RepoURL,
		BaseBranch:    r.state.BaseBranch,
		RepoLocalPath: r.state.RepoLocalPath(),
	}
}

func (r *run) branchName(kind string) string {
	return fmt.Sprintf("oape/%s-%d", kind, r.now().Unix())
}

// note logs a progress line and mirrors it into the event stream.
func (r *run) note(session, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.logger.Printf("[%s] %s", session, msg)
	if r.emit != nil {
		r.emit(models.Event{Type: models.EventText, Role: models.RoleOrchestrator, Session: session, Content: msg})
	}
}

// noteLogger adapts note to the Printf logger interface for the CI watcher.
type noteLogger struct {
	r       *run
	session string
}

func (n noteLogger) Printf(format string, args ...any) { n.r.note(n.session, format, args...) }

// sendWithRetry sends prompt and, when the reply carries no PR URL, asks
// once more. The PR URL is "" when both attempts come back without one.
func sendWithRetry(ctx context.Context, sess *agent.Session, prompt string) (prURL, text string, err error) {
	res := sess.Send(ctx, prompt)
	text = res.Output
	if !res.Success() {
		return "", text, res.Err
	}
	if url, ok := agent.ExtractPRURL(text); ok {
		return url, text, nil
	}
	if ctx.Err() != nil {
		return "", text, ctx.Err()
	}
	retry := sess.Send(ctx, mustRender("corrective", promptData{}))
	text = text + "\n" + retry.Output
	if url, ok := agent.ExtractPRURL(retry.Output); ok {
		return url, text, nil
	}
	if !retry.Success() {
		return "", text, retry.Err
	}
	return "", text, nil
}

func (r *run) report(res Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "OAPE workflow for %s\n", r.state.EPURL)
	fmt.Fprintf(&b, "Target repository: %s (base: %s)\n", r.state.RepoURL, r.state.BaseBranch)
	if res.Err != nil {
		fmt.Fprintf(&b, "Run aborted: %v\n", res.Err)
	}
	for _, ref := range r.state.PRs() {
		fmt.Fprintf(&b, "PR %s: %s\n", ref.Label, ref.URL)
	}
	for _, br := range res.Branches {
		if br.Outcome == BranchFailed {
			fmt.Fprintf(&b, "%s failed: %v\n", br.Label, br.Err)
		} else if br.Outcome == BranchNoResult {
			fmt.Fprintf(&b, "%s: no PR URL captured\n", br.Label)
		}
	}
	if len(res.CI.Refs) > 0 {
		b.WriteString(res.CI.Markdown())
	}
	if res.SummaryPath != "" {
		fmt.Fprintf(&b, "Full summary: %s\n", res.SummaryPath)
	}
	fmt.Fprintf(&b, "Total cost: $%.4f\n", res.CostUSD)
	return b.String()
}

func (r *run) finalSummary(ctx context.Context, report ciwatch.Report) (string, error) {
	d := r.data()
	d.PRs = r.state.PRs()
	d.CIMarkdown = report.Markdown()
	body, err := render("final-summary", d)
	if err != nil {
		return "", err
	}
	path, err := r.workspace.WriteSummary(ctx, dirFinal, "workflow-summary.md", body)
	if err != nil {
		return "", err
	}
	r.state.SetSummary(dirFinal, path)
	return path, nil
}

// IsFatal reports whether err aborted a pipeline run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrRepoPathUnresolved) || errors.Is(err, ErrMissingRepo)
}
