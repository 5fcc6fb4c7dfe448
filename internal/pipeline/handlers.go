package pipeline

import (
	"context"

	"oape-orchestrator/internal/jobs"
	"oape-orchestrator/internal/models"
	"oape-orchestrator/internal/repos"
)

// JobHandler adapts the single-session workflow to the job launcher.
func (w *Workflow) JobHandler() jobs.Handler {
	return func(ctx context.Context, job models.Job, sub jobs.Submission, emit jobs.EmitFunc) jobs.Outcome {
		res := w.Run(ctx, job.ID, sub.EPURL, func(ev models.Event) { emit(ev) })
		if !res.Success() {
			return jobs.Failed(res.ErrorText(), res.Output, res.CostUSD)
		}
		return jobs.Succeeded(res.Output, res.CostUSD)
	}
}

// JobHandler adapts the phased pipeline to the job launcher. Each job gets
// its own workspace under root.
func (p *Pipeline) JobHandler(newWorkspace func(jobID string) *Workspace) jobs.Handler {
	return func(ctx context.Context, job models.Job, sub jobs.Submission, emit jobs.EmitFunc) jobs.Outcome {
		short := sub.RepoShortName
		if short == "" {
			short = repos.ShortName(sub.RepoURL)
		}
		state := NewWorkflowState(sub.EPURL, short, sub.RepoURL, sub.BaseBranch)

		runner := p
		if newWorkspace != nil {
			clone := *p
			clone.workspace = newWorkspace(job.ID)
			runner = &clone
		}
		res := runner.Run(ctx, state, func(ev models.Event) { emit(ev) })
		if !res.Success() {
			return jobs.Failed(res.Err.Error(), res.Report, res.CostUSD)
		}
		return jobs.Succeeded(res.Report, res.CostUSD)
	}
}
