package pipeline

import "context"

// apiTypes runs the sequential phase in one resumed session: init, generate
// types, generate tests, review, then commit and raise a PR.
func (r *run) apiTypes(ctx context.Context) PhaseResult {
	var out PhaseResult

	workdir, err := r.workspace.Dir(dirAPITypes)
	if err != nil {
		r.logger.Printf("phase 1: %v", err)
		return out
	}
	sess := r.runner.NewSession(r.options(workdir, mustRender("api-types-system", r.data())), LabelAPITypes, r.emit)
	defer func() {
		out.CostUSD = sess.TotalCost()
		out.SessionID = sess.SessionID()
	}()

	step := func(n int, name, prompt string) string {
		r.note(LabelAPITypes, "Step %d/5: %s", n, name)
		res := sess.Send(ctx, prompt)
		if !res.Success() {
			out.FailedTurns = append(out.FailedTurns, name)
			r.note(LabelAPITypes, "%s failed: %v", name, res.Err)
		}
		return res.Output
	}

	step(1, "/oape:init", mustRender("api-types-init", r.data()))
	if path := detectRepoPath(workdir, r.state.RepoShortName); path != "" {
		r.state.SetRepoLocalPath(path)
	}

	var generateText, testsText string
	if r.state.RepoLocalPath() != "" && ctx.Err() == nil {
		generateText = step(2, "/oape:api-generate", mustRender("api-types-generate", r.data()))
		testsText = step(3, "/oape:api-generate-tests", mustRender("api-types-tests", r.data()))
		step(4, "review and fix", mustRender("api-types-review", r.data()))

		d := r.data()
		d.Branch = r.branchName("api-types")
		r.note(LabelAPITypes, "Step 5/5: raise PR")
		prURL, _, err := sendWithRetry(ctx, sess, mustRender("api-types-pr", d))
		if err != nil {
			out.FailedTurns = append(out.FailedTurns, "raise PR")
			r.note(LabelAPITypes, "raise PR failed: %v", err)
		}
		if prURL != "" {
			out.PRURL = prURL
			r.state.SetPR(LabelAPITypes, prURL)
			r.note(LabelAPITypes, "API types PR: %s", prURL)
		}
	}

	d := r.data()
	d.PRURL = out.PRURL
	d.GenerateExcerpt = excerpt(generateText, 2000)
	d.TestsExcerpt = excerpt(testsText, 2000)
	body, err := render("api-types-summary", d)
	if err == nil {
		out.SummaryPath, err = r.workspace.WriteSummary(ctx, dirAPITypes, "api-types-summary.md", body)
	}
	if err != nil {
		r.logger.Printf("phase 1 summary: %v", err)
	} else {
		r.state.SetSummary(LabelAPITypes, out.SummaryPath)
	}
	return out
}
