package repos

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var (
	// ErrEmptyRegistry is returned when the CSV holds no usable rows.
	ErrEmptyRegistry = errors.New("repository registry is empty or malformed")
	// ErrNoMatch is returned when a selection matches no repository.
	ErrNoMatch = errors.New("no repository matches selection")
)

// Repo is one target repository the workflow may open PRs against.
type Repo struct {
	ShortName  string
	URL        string
	BaseBranch string
}

// Registry is the ordered list of allowed repositories.
type Registry struct {
	Repos []Repo
}

// Load reads a registry from a CSV file with repo_url and base_branch columns.
func Load(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a registry from CSV. Rows missing either column are skipped.
func Parse(r io.Reader) (*Registry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, ErrEmptyRegistry
	}
	urlCol, branchCol := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case "repo_url":
			urlCol = i
		case "base_branch":
			branchCol = i
		}
	}
	if urlCol < 0 || branchCol < 0 {
		return nil, fmt.Errorf("%w: missing repo_url or base_branch column", ErrEmptyRegistry)
	}

	reg := &Registry{}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read registry: %w", err)
		}
		if len(rec) <= urlCol || len(rec) <= branchCol {
			continue
		}
		url := strings.TrimSpace(rec[urlCol])
		branch := strings.TrimSpace(rec[branchCol])
		if url == "" || branch == "" {
			continue
		}
		reg.Repos = append(reg.Repos, Repo{ShortName: ShortName(url), URL: url, BaseBranch: branch})
	}
	if len(reg.Repos) == 0 {
		return nil, ErrEmptyRegistry
	}
	return reg, nil
}

// Resolve picks a repository by 1-based index or by case-insensitive
// substring of its short name.
func (r *Registry) Resolve(choice string) (Repo, error) {
	choice = strings.TrimSpace(choice)
	if n, err := strconv.Atoi(choice); err == nil {
		if n >= 1 && n <= len(r.Repos) {
			return r.Repos[n-1], nil
		}
		return Repo{}, fmt.Errorf("%w: index %d out of range", ErrNoMatch, n)
	}
	if choice == "" {
		return Repo{}, fmt.Errorf("%w: empty selection", ErrNoMatch)
	}
	lower := strings.ToLower(choice)
	for _, repo := range r.Repos {
		if strings.Contains(strings.ToLower(repo.ShortName), lower) {
			return repo, nil
		}
	}
	return Repo{}, fmt.Errorf("%w: %q", ErrNoMatch, choice)
}

// ShortName returns the last path element of a clone URL without a .git suffix.
func ShortName(url string) string {
	url = strings.TrimSuffix(strings.TrimRight(url, "/"), ".git")
	if i := strings.LastIndex(url, "/"); i >= 0 {
		return url[i+1:]
	}
	return url
}
