package pipeline

import (
	"sync"

	"oape-orchestrator/internal/ciwatch"
)

// WorkflowState carries artifacts between phases of one run. Fan-out
// branches write to it concurrently.
type WorkflowState struct {
	EPURL         string
	RepoShortName string
	RepoURL       string
	BaseBranch    string

	mu            sync.Mutex
	repoLocalPath string
	prs           []ciwatch.Ref
	summaries     map[string]string
}

// NewWorkflowState starts the state for one run.
func NewWorkflowState(epURL, shortName, repoURL, baseBranch string) *WorkflowState {
	return &WorkflowState{
		EPURL:         epURL,
		RepoShortName: shortName,
		RepoURL:       repoURL,
		BaseBranch:    baseBranch,
		summaries:     make(map[string]string),
	}
}

func (s *WorkflowState) SetRepoLocalPath(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repoLocalPath = p
}

func (s *WorkflowState) RepoLocalPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repoLocalPath
}

// SetPR records the PR for label. A label keeps the position of its first write.
func (s *WorkflowState) SetPR(label, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.prs {
		if s.prs[i].Label == label {
			s.prs[i].URL = url
			return
		}
	}
	s.prs = append(s.prs, ciwatch.Ref{Label: label, URL: url})
}

// PR returns the PR recorded for label.
func (s *WorkflowState) PR(label string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.prs {
		if r.Label == label {
			return r.URL, true
		}
	}
	return "", false
}

// PRs returns every recorded PR in creation order.
func (s *WorkflowState) PRs() []ciwatch.Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ciwatch.Ref, len(s.prs))
	copy(out, s.prs)
	return out
}

func (s *WorkflowState) SetSummary(label, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[label] = path
}

func (s *WorkflowState) Summary(label string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaries[label]
}
