package pipeline

import (
	"context"
	"fmt"
	"sync"
)

// BranchOutcome classifies one fan-out branch.
type BranchOutcome string

const (
	BranchSuccess  BranchOutcome = "success"
	BranchNoResult BranchOutcome = "no_result"
	BranchFailed   BranchOutcome = "failed"
)

// BranchResult is the report for one parallel sub-agent.
type BranchResult struct {
	Label       string
	Outcome     BranchOutcome
	PRURL       string
	SummaryPath string
	CostUSD     float64
	SessionID   string
	Err         error
}

// branchPlan describes one parallel sub-agent.
type branchPlan struct {
	Label       string
	Title       string
	Dir         string
	BranchKind  string
	System      string
	User        string
	SummaryFile string
}

var (
	controllerBranch = branchPlan{
		Label:       LabelController,
		Title:       "Controller Implementation",
		Dir:         dirController,
		BranchKind:  "controller-impl",
		System:      "controller-system",
		User:        "controller-user",
		SummaryFile: "controller-summary.md",
	}
	e2eBranch = branchPlan{
		Label:       LabelE2E,
		Title:       "E2E Test Generation",
		Dir:         dirE2E,
		BranchKind:  "e2e-tests",
		System:      "e2e-system",
		User:        "e2e-user",
		SummaryFile: "e2e-summary.md",
	}
)

// fanOut runs every branch concurrently and waits for all of them. A branch
// that fails or panics is reported on its own and never stops the others.
func (r *run) fanOut(ctx context.Context, plans []branchPlan) []BranchResult {
	results := make([]BranchResult, len(plans))
	var wg sync.WaitGroup
	for i, plan := range plans {
		wg.Add(1)
		go func(i int, plan branchPlan) {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					results[i] = BranchResult{Label: plan.Label, Outcome: BranchFailed, Err: fmt.Errorf("sub-agent panicked: %v", p)}
				}
			}()
			results[i] = r.branch(ctx, plan)
		}(i, plan)
	}
	wg.Wait()
	return results
}

func (r *run) branch(ctx context.Context, plan branchPlan) BranchResult {
	res := BranchResult{Label: plan.Label}

	if _, err := r.workspace.Dir(plan.Dir); err != nil {
		res.Outcome, res.Err = BranchFailed, err
		return res
	}

	apiSummary := ReadSummary(r.state.Summary(LabelAPITypes))
	if _, err := r.workspace.WriteSummary(ctx, plan.Dir, "api-types-summary.md", apiSummary); err != nil {
		r.logger.Printf("%s: copy api summary: %v", plan.Label, err)
	}

	d := r.data()
	d.APISummary = excerpt(apiSummary, 3000)
	d.Branch = r.branchName(plan.BranchKind)
	system, err := render(plan.System, d)
	if err != nil {
		res.Outcome, res.Err = BranchFailed, err
		return res
	}
	user, err := render(plan.User, d)
	if err != nil {
		res.Outcome, res.Err = BranchFailed, err
		return res
	}

	r.note(plan.Label, "%s sub-agent started in %s", plan.Title, r.state.RepoLocalPath())
	sess := r.runner.NewSession(r.options(r.state.RepoLocalPath(), system), plan.Label, r.emit)
	prURL, text, sendErr := sendWithRetry(ctx, sess, user)
	res.CostUSD = sess.TotalCost()
	res.SessionID = sess.SessionID()

	sd := promptData{Title: plan.Title, PRURL: prURL, OutputExcerpt: excerpt(text, 3000)}
	if body, err := render("branch-summary", sd); err == nil {
		if p, err := r.workspace.WriteSummary(ctx, plan.Dir, plan.SummaryFile, body); err == nil {
			res.SummaryPath = p
			r.state.SetSummary(plan.Label, p)
		} else {
			r.logger.Printf("%s summary: %v", plan.Label, err)
		}
	}

	switch {
	case prURL != "":
		res.Outcome, res.PRURL = BranchSuccess, prURL
		r.state.SetPR(plan.Label, prURL)
	case sendErr != nil:
		res.Outcome, res.Err = BranchFailed, sendErr
	default:
		res.Outcome = BranchNoResult
	}
	return res
}
