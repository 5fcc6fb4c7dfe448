package pipeline

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"oape-orchestrator/internal/ciwatch"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.New("prompts").ParseFS(promptFS, "prompts/*.tmpl"))

// promptData holds template variables shared by every prompt and summary.
type promptData struct {
	EPURL         string
	RepoShortName string
	RepoURL       string
	BaseBranch    string
	RepoLocalPath string
	Branch        string
	APISummary    string
	TeamReposCSV  string

	Title           string
	PRURL           string
	OutputExcerpt   string
	GenerateExcerpt string
	TestsExcerpt    string

	PRs        []ciwatch.Ref
	CIMarkdown string
}

func render(name string, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name+".tmpl", data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func mustRender(name string, data promptData) string {
	s, err := render(name, data)
	if err != nil {
		panic(err)
	}
	return s
}

func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
