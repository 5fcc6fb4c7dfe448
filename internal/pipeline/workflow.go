package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"oape-orchestrator/internal/agent"
)

// Workflow drives the whole feature workflow from one long agent session
// guided by the workflow system prompt.
type Workflow struct {
	runner       *agent.Runner
	base         agent.Options
	root         string
	teamReposCSV string
}

// NewWorkflow returns a single-session workflow. Each run works in
// root/oape-<job id>.
func NewWorkflow(runner *agent.Runner, base agent.Options, root, teamReposCSV string) *Workflow {
	return &Workflow{runner: runner, base: base, root: root, teamReposCSV: teamReposCSV}
}

// SystemPrompt renders the workflow instructions.
func (w *Workflow) SystemPrompt() (string, error) {
	return render("workflow-system", promptData{TeamReposCSV: w.teamReposCSV})
}

// Prompt is the user turn that starts a workflow for epURL.
func Prompt(epURL string) string {
	return "Execute the full OAPE feature development workflow for this Enhancement Proposal: " + epURL
}

// Run executes the workflow for epURL under a fresh working directory.
func (w *Workflow) Run(ctx context.Context, jobID, epURL string, onEvent agent.EventFunc) agent.Result {
	dir := filepath.Join(w.root, "oape-"+jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return agent.Result{Err: fmt.Errorf("create working dir: %w", err)}
	}
	system, err := w.SystemPrompt()
	if err != nil {
		return agent.Result{Err: err}
	}
	opts := w.base
	opts.WorkDir = dir
	opts.SystemPrompt = system
	return w.runner.Run(ctx, Prompt(epURL), opts, onEvent)
}
