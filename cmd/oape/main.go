package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"oape-orchestrator/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "oape",
	Short: "OAPE - drive the AI feature workflow from an enhancement proposal",
	Long: `oape runs the OpenShift operator feature workflow locally: it takes an
enhancement proposal PR, generates API types, controller code and e2e tests
through the Claude agent, raises PRs and watches their CI.`,
	SilenceUsage: true,
}

var (
	configPath   string
	claudeBin    string
	pluginDir    string
	teamReposCSV string
	model        string
	maxTurns     int
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML config file (overrides OAPE_CONFIG)")
	pf.StringVar(&claudeBin, "claude-bin", "", "claude CLI binary")
	pf.StringVar(&pluginDir, "plugin-dir", "", "OAPE plugin directory")
	pf.StringVar(&teamReposCSV, "team-repos", "", "team repository registry CSV")
	pf.StringVar(&model, "model", "", "agent model")
	pf.IntVar(&maxTurns, "max-turns", 0, "maximum agent turns per session")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(reposCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads environment configuration and applies flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	if configPath != "" {
		if err := os.Setenv("OAPE_CONFIG", configPath); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("claude-bin") {
		cfg.Agent.Binary = claudeBin
	}
	if flags.Changed("plugin-dir") {
		cfg.Agent.PluginDir = pluginDir
	}
	if flags.Changed("team-repos") {
		cfg.Agent.TeamReposCSV = teamReposCSV
	}
	if flags.Changed("model") {
		cfg.Agent.Model = model
	}
	if flags.Changed("max-turns") {
		cfg.Agent.MaxTurns = maxTurns
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
