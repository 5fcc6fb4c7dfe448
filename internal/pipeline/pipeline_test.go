package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"oape-orchestrator/internal/agent"
	"oape-orchestrator/internal/agent/agenttest"
	"oape-orchestrator/internal/ciwatch"
	"oape-orchestrator/internal/models"
)

const testEP = "https://github.com/openshift/enhancements/pull/1234"

type greenProvider struct {
	mu   sync.Mutex
	seen []string
}

func (g *greenProvider) PRStatus(_ context.Context, url string) (ciwatch.PRStatus, error) {
	g.mu.Lock()
	g.seen = append(g.seen, url)
	g.mu.Unlock()
	return ciwatch.NewPRStatus("OPEN", "MERGEABLE", "CLEAN", []ciwatch.Check{
		{Name: "unit", Status: "COMPLETED", Conclusion: "SUCCESS"},
	}), nil
}

type collector struct {
	mu     sync.Mutex
	events []models.Event
}

func (c *collector) add(ev models.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) has(session, substr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range c.events {
		if ev.Session == session && strings.Contains(ev.Content, substr) {
			return true
		}
	}
	return false
}

// scripted answers each workflow prompt. Overrides are matched by substring
// before the defaults.
func scripted(t *testing.T, cloneRepo bool, overrides map[string]agenttest.Script) *agenttest.Client {
	t.Helper()
	return &agenttest.Client{Respond: func(req agent.Request) agenttest.Script {
		for key, sc := range overrides {
			if strings.Contains(req.Prompt, key) {
				return sc
			}
		}
		switch {
		case strings.Contains(req.Prompt, "/oape:init"):
			if cloneRepo {
				if err := os.MkdirAll(filepath.Join(req.WorkDir, "cluster-foo-operator", ".git"), 0o755); err != nil {
					t.Errorf("clone: %v", err)
				}
			}
			return agenttest.Reply("cloned", 0.1)
		case strings.Contains(req.Prompt, "raise a PR:"):
			return agenttest.Reply("Created https://github.com/openshift/cluster-foo-operator/pull/1", 0.1)
		case strings.Contains(req.Prompt, "/oape:api-implement"):
			return agenttest.Reply("PR: https://github.com/openshift/cluster-foo-operator/pull/2", 0.2)
		case strings.Contains(req.Prompt, "/oape:e2e-generate"):
			return agenttest.Reply("see https://github.com/openshift/cluster-foo-operator/pull/3", 0.3)
		default:
			return agenttest.Reply("ok", 0.1)
		}
	}}
}

func newTestPipeline(t *testing.T, client agent.Client, provider ciwatch.Provider) (*Pipeline, *Workspace) {
	t.Helper()
	ws := NewWorkspace(t.TempDir(), nil)
	watcher := ciwatch.NewWatcher(provider,
		ciwatch.WithMaxWait(10*time.Minute),
		ciwatch.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	p := New(agent.NewRunner(client), watcher, ws, agent.Options{MaxTurns: 5},
		WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
	)
	return p, ws
}

func testState() *WorkflowState {
	return NewWorkflowState(testEP, "cluster-foo-operator", "https://github.com/openshift/cluster-foo-operator", "main")
}

func TestRunHappyPath(t *testing.T) {
	client := scripted(t, true, nil)
	provider := &greenProvider{}
	p, ws := newTestPipeline(t, client, provider)
	events := &collector{}
	state := testState()

	res := p.Run(context.Background(), state, events.add)
	if res.Err != nil {
		t.Fatalf("run failed: %v", res.Err)
	}
	if res.APITypes.PRURL != "https://github.com/openshift/cluster-foo-operator/pull/1" {
		t.Fatalf("unexpected api PR %q", res.APITypes.PRURL)
	}
	if len(res.APITypes.FailedTurns) != 0 {
		t.Fatalf("unexpected failed turns %v", res.APITypes.FailedTurns)
	}
	if res.APITypes.SessionID != "sess-1" {
		t.Fatalf("expected phase session id, got %q", res.APITypes.SessionID)
	}

	prs := state.PRs()
	if len(prs) != 3 || prs[0].Label != LabelAPITypes {
		t.Fatalf("unexpected PRs %+v", prs)
	}
	if len(res.CI.Passed) != 3 {
		t.Fatalf("expected every PR to pass CI, got %+v", res.CI)
	}
	for _, b := range res.Branches {
		if b.Outcome != BranchSuccess {
			t.Fatalf("branch %s: %s (%v)", b.Label, b.Outcome, b.Err)
		}
		if b.SessionID != "sess-1" {
			t.Fatalf("branch %s: expected session id, got %q", b.Label, b.SessionID)
		}
	}

	wantRepo := filepath.Join(ws.Root, dirAPITypes, "cluster-foo-operator")
	if state.RepoLocalPath() != wantRepo {
		t.Fatalf("repo path %q, want %q", state.RepoLocalPath(), wantRepo)
	}

	reqs := client.Requests()
	if len(reqs) != 7 {
		t.Fatalf("expected 7 agent requests, got %d", len(reqs))
	}
	for i := 1; i < 5; i++ {
		if reqs[i].Resume != "sess-1" {
			t.Fatalf("phase 1 turn %d did not resume: %q", i+1, reqs[i].Resume)
		}
	}
	for _, req := range reqs[5:] {
		if req.WorkDir != wantRepo {
			t.Fatalf("sub-agent ran in %q", req.WorkDir)
		}
		if req.Resume != "" {
			t.Fatalf("sub-agent resumed %q", req.Resume)
		}
	}
	if !strings.Contains(reqs[4].Prompt, "oape/api-types-1700000000") {
		t.Fatalf("PR prompt missing branch name: %s", reqs[4].Prompt)
	}

	if res.SummaryPath != filepath.Join(ws.Root, dirFinal, "workflow-summary.md") {
		t.Fatalf("unexpected summary path %q", res.SummaryPath)
	}
	summary := ReadSummary(res.SummaryPath)
	if !strings.Contains(summary, "- Passed: api-types, ") {
		t.Fatalf("summary missing CI section:\n%s", summary)
	}
	if ReadSummary(filepath.Join(ws.Root, dirController, "api-types-summary.md")) == "" {
		t.Fatal("api summary not copied into controller dir")
	}
	if res.CostUSD < 0.99 || res.CostUSD > 1.01 {
		t.Fatalf("unexpected total cost %.4f", res.CostUSD)
	}
	if !strings.Contains(res.Report, "PR controller: https://github.com/openshift/cluster-foo-operator/pull/2") {
		t.Fatalf("report missing controller PR:\n%s", res.Report)
	}
	if !events.has(labelCI, "all checks passed") {
		t.Fatal("expected CI progress notes in the event stream")
	}
	if !events.has(LabelAPITypes, "Step 1/5") {
		t.Fatal("expected step notes in the event stream")
	}
}

func TestRunAbortsWithoutRepoPath(t *testing.T) {
	client := scripted(t, false, nil)
	p, _ := newTestPipeline(t, client, &greenProvider{})
	events := &collector{}

	res := p.Run(context.Background(), testState(), events.add)
	if !errors.Is(res.Err, ErrRepoPathUnresolved) {
		t.Fatalf("expected ErrRepoPathUnresolved, got %v", res.Err)
	}
	if !IsFatal(res.Err) {
		t.Fatal("expected fatal error")
	}
	if n := len(client.Requests()); n != 1 {
		t.Fatalf("expected only the init turn, got %d requests", n)
	}
	if len(res.Branches) != 0 {
		t.Fatalf("fan-out should not run, got %+v", res.Branches)
	}
	if !events.has(labelPipeline, "Aborting") {
		t.Fatal("expected abort note")
	}
}

func TestRunRequiresRepo(t *testing.T) {
	p, _ := newTestPipeline(t, scripted(t, true, nil), &greenProvider{})
	res := p.Run(context.Background(), NewWorkflowState(testEP, "x", "", ""), nil)
	if !errors.Is(res.Err, ErrMissingRepo) {
		t.Fatalf("expected ErrMissingRepo, got %v", res.Err)
	}
}

func TestFanOutIsolatesFailures(t *testing.T) {
	client := scripted(t, true, map[string]agenttest.Script{
		"/oape:api-implement": {Panic: "boom"},
	})
	provider := &greenProvider{}
	p, _ := newTestPipeline(t, client, provider)
	state := testState()

	res := p.Run(context.Background(), state, nil)
	if res.Err != nil {
		t.Fatalf("branch failure must not fail the run: %v", res.Err)
	}
	if len(res.Branches) != 2 {
		t.Fatalf("expected 2 branches, got %d", len(res.Branches))
	}
	if res.Branches[0].Label != LabelController || res.Branches[0].Outcome != BranchFailed {
		t.Fatalf("unexpected controller result %+v", res.Branches[0])
	}
	if res.Branches[1].Outcome != BranchSuccess {
		t.Fatalf("unexpected e2e result %+v", res.Branches[1])
	}
	if _, ok := state.PR(LabelController); ok {
		t.Fatal("failed branch recorded a PR")
	}
	if len(res.CI.Refs) != 2 {
		t.Fatalf("expected 2 watched PRs, got %+v", res.CI.Refs)
	}
	if !strings.Contains(res.Report, "controller failed") {
		t.Fatalf("report missing failure:\n%s", res.Report)
	}
}

func TestCorrectiveTurnRecoversPR(t *testing.T) {
	var mu sync.Mutex
	asked := 0
	client := scripted(t, true, map[string]agenttest.Script{
		"/oape:e2e-generate": agenttest.Reply("tests written", 0.1),
	})
	inner := client.Respond
	client.Respond = func(req agent.Request) agenttest.Script {
		if strings.Contains(req.Prompt, "Please create the PR now") && strings.HasSuffix(req.WorkDir, "cluster-foo-operator") && req.AppendSystemPrompt != "" && strings.Contains(req.AppendSystemPrompt, "e2e tests") {
			mu.Lock()
			asked++
			mu.Unlock()
			return agenttest.Reply("https://github.com/openshift/cluster-foo-operator/pull/9", 0.1)
		}
		return inner(req)
	}
	p, _ := newTestPipeline(t, client, &greenProvider{})
	state := testState()

	res := p.Run(context.Background(), state, nil)
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if asked != 1 {
		t.Fatalf("expected one corrective turn, got %d", asked)
	}
	url, ok := state.PR(LabelE2E)
	if !ok || url != "https://github.com/openshift/cluster-foo-operator/pull/9" {
		t.Fatalf("unexpected e2e PR %q", url)
	}
}

func TestNoPRsToWatch(t *testing.T) {
	client := scripted(t, true, map[string]agenttest.Script{
		"raise a PR:":          agenttest.Reply("could not push", 0),
		"/oape:api-implement":  agenttest.Reply("done", 0),
		"/oape:e2e-generate":   agenttest.Reply("done", 0),
		"Please create the PR": agenttest.Reply("still nothing", 0),
	})
	provider := &greenProvider{}
	p, _ := newTestPipeline(t, client, provider)
	events := &collector{}

	res := p.Run(context.Background(), testState(), events.add)
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	for _, b := range res.Branches {
		if b.Outcome != BranchNoResult {
			t.Fatalf("branch %s: expected no_result, got %s", b.Label, b.Outcome)
		}
	}
	if !events.has(labelCI, "No PRs to watch.") {
		t.Fatal("expected no-PR note")
	}
	if len(provider.seen) != 0 {
		t.Fatalf("provider polled %v", provider.seen)
	}
}

func TestDetectRepoPath(t *testing.T) {
	dir := t.TempDir()
	if got := detectRepoPath(dir, "foo"); got != "" {
		t.Fatalf("expected no path, got %q", got)
	}
	if err := os.MkdirAll(filepath.Join(dir, "other", ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	if got := detectRepoPath(dir, "foo"); got != filepath.Join(dir, "other") {
		t.Fatalf("expected git fallback, got %q", got)
	}
	if err := os.MkdirAll(filepath.Join(dir, "foo"), 0o755); err != nil {
		t.Fatal(err)
	}
	if got := detectRepoPath(dir, "foo"); got != filepath.Join(dir, "foo") {
		t.Fatalf("expected named dir, got %q", got)
	}
}

func TestWorkflowStateKeepsFirstPosition(t *testing.T) {
	s := testState()
	s.SetPR("b", "u1")
	s.SetPR("a", "u2")
	s.SetPR("b", "u3")
	prs := s.PRs()
	if len(prs) != 2 || prs[0].Label != "b" || prs[0].URL != "u3" || prs[1].Label != "a" {
		t.Fatalf("unexpected order %+v", prs)
	}
}

func TestWorkflowRun(t *testing.T) {
	client := &agenttest.Client{Respond: func(agent.Request) agenttest.Script {
		return agenttest.Reply("all phases done", 2.5)
	}}
	root := t.TempDir()
	w := NewWorkflow(agent.NewRunner(client), agent.Options{Model: "opus"}, root, "/srv/team-repos.csv")

	res := w.Run(context.Background(), "abc123", testEP, nil)
	if !res.Success() || res.Output != "all phases done" || res.CostUSD != 2.5 {
		t.Fatalf("unexpected result %+v", res)
	}
	reqs := client.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected a single session, got %d", len(reqs))
	}
	req := reqs[0]
	if req.WorkDir != filepath.Join(root, "oape-abc123") {
		t.Fatalf("unexpected workdir %q", req.WorkDir)
	}
	if req.Prompt != Prompt(testEP) {
		t.Fatalf("unexpected prompt %q", req.Prompt)
	}
	if !strings.Contains(req.SystemPrompt, "/srv/team-repos.csv") {
		t.Fatal("system prompt missing team repos path")
	}
	if req.Model != "opus" {
		t.Fatalf("base options not applied: %+v", req)
	}
	if _, err := os.Stat(req.WorkDir); err != nil {
		t.Fatalf("workdir not created: %v", err)
	}
}

func TestExcerptKeepsRunesWhole(t *testing.T) {
	s := "ok ✓ done"
	for n := 0; n <= len(s); n++ {
		got := excerpt(s, n)
		if !utf8.ValidString(got) {
			t.Fatalf("excerpt(%d) split a rune: %q", n, got)
		}
		if len(got) > n {
			t.Fatalf("excerpt(%d) too long: %q", n, got)
		}
	}
	if got := excerpt(s, 4); got != "ok " {
		t.Fatalf("expected cut before the check mark, got %q", got)
	}
}

func TestProgressNotesAreMarked(t *testing.T) {
	p, _ := newTestPipeline(t, scripted(t, true, nil), &greenProvider{})
	events := &collector{}
	if res := p.Run(context.Background(), testState(), events.add); res.Err != nil {
		t.Fatalf("run failed: %v", res.Err)
	}

	var notes, agentText int
	for _, ev := range events.events {
		if ev.Type != models.EventText {
			continue
		}
		switch ev.Role {
		case models.RoleOrchestrator:
			if !ev.IsNote() {
				t.Fatalf("orchestrator text not reported as a note: %+v", ev)
			}
			notes++
		case "assistant":
			if ev.IsNote() {
				t.Fatalf("agent text reported as a note: %+v", ev)
			}
			agentText++
		default:
			t.Fatalf("text event with unexpected role %q: %q", ev.Role, ev.Content)
		}
	}
	if notes == 0 || agentText == 0 {
		t.Fatalf("expected both notes and agent text, got %d notes and %d agent lines", notes, agentText)
	}
}
