package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"oape-orchestrator/internal/api"
	"oape-orchestrator/internal/app"
	"oape-orchestrator/internal/config"
	"oape-orchestrator/internal/jobs"
	"oape-orchestrator/internal/models"
	"oape-orchestrator/internal/pipeline"
	"oape-orchestrator/internal/repos"
)

var runCmd = &cobra.Command{
	Use:   "run [EP_URL]",
	Short: "Run the workflow for an enhancement proposal",
	Example: `  oape run https://github.com/openshift/enhancements/pull/1234 --repo cert-manager
  oape run https://github.com/openshift/enhancements/pull/1234 --repo-url https://github.com/openshift/foo --base-branch main
  oape run --ep https://github.com/openshift/enhancements/pull/1234 --mode workflow`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var (
	runEP         string
	runMode       string
	runRepo       string
	runRepoURL    string
	runBaseBranch string
	runWorkDir    string
	runCIMaxWait  time.Duration
)

func init() {
	f := runCmd.Flags()
	f.StringVar(&runEP, "ep", "", "enhancement proposal PR URL (alternative to the positional argument)")
	f.StringVar(&runMode, "mode", models.ModePhased, "phased or workflow")
	f.StringVar(&runRepo, "repo", "", "registry entry by index or short name")
	f.StringVar(&runRepoURL, "repo-url", "", "target repository URL (skips the registry)")
	f.StringVar(&runBaseBranch, "base-branch", "", "base branch for --repo-url")
	f.StringVar(&runWorkDir, "work-dir", ".oape-work", "directory for session working copies and summaries")
	f.DurationVar(&runCIMaxWait, "ci-max-wait", 0, "override the CI wait budget (0 keeps the configured value)")
}

func runRun(cmd *cobra.Command, args []string) error {
	epURL, err := epArg(args, runEP)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if runCIMaxWait > 0 {
		cfg.CIMaxWait = runCIMaxWait
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New(cmd.ErrOrStderr(), "oape: ", log.LstdFlags)
	services, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer services.Close()

	out := newPrinter(cmd.OutOrStdout())
	runID := jobs.NewID()

	switch runMode {
	case models.ModeWorkflow:
		res := services.Workflow().Run(ctx, runID, epURL, out.Event)
		fmt.Fprintf(cmd.OutOrStdout(), "\nTotal cost: $%.4f\n", res.CostUSD)
		if !res.Success() {
			return errors.New(res.ErrorText())
		}
		return nil

	case models.ModePhased:
		repo, err := resolveRepo(cfg, runRepo, runRepoURL, runBaseBranch)
		if err != nil {
			return err
		}
		root, err := filepath.Abs(runWorkDir)
		if err != nil {
			return err
		}
		logger.Printf("target %s (%s) on %s, work dir %s", repo.ShortName, repo.URL, repo.BaseBranch, root)

		state := pipeline.NewWorkflowState(epURL, repo.ShortName, repo.URL, repo.BaseBranch)
		res := services.Pipeline(root, runID).Run(ctx, state, out.Event)
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s", res.Report)
		return res.Err

	default:
		return fmt.Errorf("unknown mode %q", runMode)
	}
}

// epArg takes the EP URL from the positional argument or --ep.
func epArg(args []string, flag string) (string, error) {
	ep := flag
	if len(args) == 1 {
		if flag != "" && flag != args[0] {
			return "", errors.New("EP URL given both as argument and --ep")
		}
		ep = args[0]
	}
	if ep == "" {
		return "", errors.New("an enhancement proposal URL is required")
	}
	if !api.ValidEPURL(ep) {
		return "", api.ErrInvalidEPURL
	}
	return ep, nil
}

// resolveRepo picks the target from an explicit URL or the registry.
func resolveRepo(cfg config.Config, choice, url, branch string) (repos.Repo, error) {
	if url != "" {
		if branch == "" {
			return repos.Repo{}, errors.New("--base-branch is required with --repo-url")
		}
		return repos.Repo{ShortName: repos.ShortName(url), URL: url, BaseBranch: branch}, nil
	}
	if choice == "" {
		return repos.Repo{}, errors.New("one of --repo or --repo-url is required in phased mode")
	}
	reg, err := repos.Load(cfg.Agent.TeamReposCSV)
	if err != nil {
		return repos.Repo{}, err
	}
	repo, err := reg.Resolve(choice)
	if err != nil {
		return repos.Repo{}, err
	}
	if branch != "" {
		repo.BaseBranch = branch
	}
	return repo, nil
}

// printer renders events from concurrent sessions one line at a time.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func newPrinter(w io.Writer) *printer { return &printer{w: w} }

func (p *printer) Event(ev models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prefix := ""
	if ev.Session != "" {
		prefix = "[" + ev.Session + "] "
	}
	if ev.IsNote() {
		fmt.Fprintf(p.w, "%s-- %s\n", prefix, ev.Content)
		return
	}
	switch ev.Type {
	case models.EventText:
		fmt.Fprintf(p.w, "%s%s\n", prefix, ev.Content)
	case models.EventToolUse:
		fmt.Fprintf(p.w, "%stool: %s\n", prefix, ev.ToolName)
	case models.EventToolResult:
		if ev.IsError {
			fmt.Fprintf(p.w, "%stool error: %s\n", prefix, firstLine(ev.Content))
		}
	case models.EventResult:
		fmt.Fprintf(p.w, "%sturn complete ($%.4f)\n", prefix, ev.CostUSD)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
