package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"oape-orchestrator/internal/ciwatch"
)

var watchCmd = &cobra.Command{
	Use:   "watch PR_URL...",
	Short: "Poll PRs until their CI passes, they close, or the wait runs out",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWatch,
}

var (
	watchInterval time.Duration
	watchMaxWait  time.Duration
)

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "poll interval (0 keeps the configured value)")
	watchCmd.Flags().DurationVar(&watchMaxWait, "max-wait", 0, "total wait budget (0 keeps the configured value)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if watchInterval > 0 {
		cfg.CIPollInterval = watchInterval
	}
	if watchMaxWait > 0 {
		cfg.CIMaxWait = watchMaxWait
	}

	refs := make([]ciwatch.Ref, 0, len(args))
	for i, url := range args {
		if _, _, err := ciwatch.ParseRef(url); err != nil {
			return err
		}
		refs = append(refs, ciwatch.Ref{Label: fmt.Sprintf("pr-%d", i+1), URL: url})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gh := ciwatch.NewGitHubProvider()
	gh.Timeout = cfg.GHCommandTimeout
	w := ciwatch.NewWatcher(gh,
		ciwatch.WithInterval(cfg.CIPollInterval),
		ciwatch.WithMaxWait(cfg.CIMaxWait),
		ciwatch.WithLogger(log.New(cmd.OutOrStdout(), "", 0)),
	)
	report := w.Watch(ctx, refs)

	fmt.Fprintln(cmd.OutOrStdout())
	for _, r := range refs {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", r.Label, report.Outcome(r.Label), r.URL)
	}
	fmt.Fprint(cmd.OutOrStdout(), report.Markdown())
	if len(report.Passed) != len(refs) {
		return fmt.Errorf("%d of %d PRs did not pass CI", len(refs)-len(report.Passed), len(refs))
	}
	return nil
}
