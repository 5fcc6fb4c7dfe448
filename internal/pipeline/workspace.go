package pipeline

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"oape-orchestrator/internal/artifacts"
)

// Per-phase working directory names under the workspace root.
const (
	dirAPITypes   = "phase1-api-types"
	dirController = "phase2a-controller"
	dirE2E        = "phase2b-e2e-tests"
	dirFinal      = "final"
)

// Workspace is the per-run root holding one subdirectory per session.
type Workspace struct {
	Root      string
	publisher *artifacts.Publisher
}

// NewWorkspace roots a workspace at root. Summaries are written through
// publisher, which must share the same base directory; nil uses a local-only one.
func NewWorkspace(root string, publisher *artifacts.Publisher) *Workspace {
	if publisher == nil {
		publisher = artifacts.NewPublisher(root, nil)
	}
	return &Workspace{Root: root, publisher: publisher}
}

// Dir returns (creating if needed) the directory for label.
func (w *Workspace) Dir(label string) (string, error) {
	dir := filepath.Join(w.Root, label)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workdir %s: %w", label, err)
	}
	return dir, nil
}

// WriteSummary stores a summary document in label's directory and returns its path.
func (w *Workspace) WriteSummary(ctx context.Context, label, name, body string) (string, error) {
	if _, err := w.Dir(label); err != nil {
		return "", err
	}
	return w.publisher.Publish(ctx, path.Join(label, name), []byte(body))
}

// ReadSummary returns the contents at p, or "" when it cannot be read.
func ReadSummary(p string) string {
	if p == "" {
		return ""
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return ""
	}
	return string(data)
}

// detectRepoPath finds the working copy cloned into workdir: the directory
// named after the repository if present, otherwise the first child holding .git.
func detectRepoPath(workdir, shortName string) string {
	if shortName != "" {
		candidate := filepath.Join(workdir, shortName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
	}
	entries, err := os.ReadDir(workdir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		child := filepath.Join(workdir, e.Name())
		if info, err := os.Stat(filepath.Join(child, ".git")); err == nil && info.IsDir() {
			return child
		}
	}
	return ""
}
