package ciwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

var prRefPattern = regexp.MustCompile(`^https://github\.com/([^/]+/[^/]+)/pull/(\d+)`)

// CommandRunner executes an external command and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Provider fetches the CI status of a PR.
type Provider interface {
	PRStatus(ctx context.Context, prURL string) (PRStatus, error)
}

// GitHubProvider queries PRs through the gh CLI.
type GitHubProvider struct {
	Binary  string
	Timeout time.Duration
	Run     CommandRunner
}

// NewGitHubProvider returns a provider using gh with a 30 second command timeout.
func NewGitHubProvider() *GitHubProvider {
	return &GitHubProvider{Binary: "gh", Timeout: 30 * time.Second, Run: execRunner}
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// ParseRef splits a PR URL into "owner/repo" and the PR number.
func ParseRef(prURL string) (repo, number string, err error) {
	m := prRefPattern.FindStringSubmatch(prURL)
	if m == nil {
		return "", "", fmt.Errorf("%w: %s", ErrBadReference, prURL)
	}
	return m[1], m[2], nil
}

// ghPRView mirrors the fields requested from gh pr view.
type ghPRView struct {
	State             string         `json:"state"` // "OPEN", "MERGED", "CLOSED"
	Mergeable         string         `json:"mergeable"`
	MergeStateStatus  string         `json:"mergeStateStatus"`
	StatusCheckRollup []ghRollupItem `json:"statusCheckRollup"`
}

// ghRollupItem is either a CheckRun (status + conclusion) or a StatusContext (state).
type ghRollupItem struct {
	TypeName   string `json:"__typename"`
	Name       string `json:"name"`
	Context    string `json:"context"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	State      string `json:"state"`
}

func (p *GitHubProvider) PRStatus(ctx context.Context, prURL string) (PRStatus, error) {
	repo, number, err := ParseRef(prURL)
	if err != nil {
		return PRStatus{}, err
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	run := p.Run
	if run == nil {
		run = execRunner
	}
	bin := p.Binary
	if bin == "" {
		bin = "gh"
	}
	out, err := run(ctx, bin,
		"pr", "view", number,
		"--repo", repo,
		"--json", "state,statusCheckRollup,mergeable,mergeStateStatus",
	)
	if err != nil {
		return PRStatus{}, fmt.Errorf("gh pr view %s: %w", prURL, err)
	}
	return ParsePRView(out)
}

// ParsePRView decodes gh pr view JSON output into a PRStatus.
func ParsePRView(data []byte) (PRStatus, error) {
	var v ghPRView
	if err := json.Unmarshal(data, &v); err != nil {
		return PRStatus{}, fmt.Errorf("decode gh output: %w", err)
	}
	checks := make([]Check, 0, len(v.StatusCheckRollup))
	for _, item := range v.StatusCheckRollup {
		checks = append(checks, item.check())
	}
	state := v.State
	if state == "" {
		state = "UNKNOWN"
	}
	return NewPRStatus(state, v.Mergeable, v.MergeStateStatus, checks), nil
}

// check normalizes commit status contexts into the check run shape.
func (i ghRollupItem) check() Check {
	if i.Status != "" || i.TypeName == "CheckRun" {
		return Check{Name: i.Name, Status: i.Status, Conclusion: i.Conclusion}
	}
	name := i.Context
	if name == "" {
		name = i.Name
	}
	switch i.State {
	case "SUCCESS":
		return Check{Name: name, Status: "COMPLETED", Conclusion: "SUCCESS"}
	case "FAILURE", "ERROR":
		return Check{Name: name, Status: "COMPLETED", Conclusion: "FAILURE"}
	default:
		return Check{Name: name, Status: "IN_PROGRESS"}
	}
}
