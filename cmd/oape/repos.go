package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"oape-orchestrator/internal/repos"
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List repositories from the team registry",
	RunE:  runRepos,
}

func runRepos(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	reg, err := repos.Load(cfg.Agent.TeamReposCSV)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tBASE\tURL")
	for i, r := range reg.Repos {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i+1, r.ShortName, r.BaseBranch, r.URL)
	}
	return w.Flush()
}
