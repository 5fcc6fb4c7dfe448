package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the optional YAML overlay. Zero values leave the
// environment-derived setting untouched.
type fileConfig struct {
	Agent AgentConfig `yaml:"agent"`
	CI    struct {
		PollInterval string `yaml:"poll_interval"`
		MaxWait      string `yaml:"max_wait"`
	} `yaml:"ci"`
	WorkRoot string `yaml:"work_root"`
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	a := fc.Agent
	if a.Binary != "" {
		cfg.Agent.Binary = a.Binary
	}
	if a.PluginDir != "" {
		cfg.Agent.PluginDir = a.PluginDir
	}
	if a.TeamReposCSV != "" {
		cfg.Agent.TeamReposCSV = a.TeamReposCSV
	}
	if len(a.AllowedTools) > 0 {
		cfg.Agent.AllowedTools = a.AllowedTools
	}
	if a.MaxTurns > 0 {
		cfg.Agent.MaxTurns = a.MaxTurns
	}
	if a.Model != "" {
		cfg.Agent.Model = a.Model
	}
	if a.PermissionMode != "" {
		cfg.Agent.PermissionMode = a.PermissionMode
	}
	if fc.WorkRoot != "" {
		cfg.WorkRoot = fc.WorkRoot
	}
	if fc.CI.PollInterval != "" {
		d, err := time.ParseDuration(fc.CI.PollInterval)
		if err != nil {
			return fmt.Errorf("ci.poll_interval: %w", err)
		}
		cfg.CIPollInterval = d
	}
	if fc.CI.MaxWait != "" {
		d, err := time.ParseDuration(fc.CI.MaxWait)
		if err != nil {
			return fmt.Errorf("ci.max_wait: %w", err)
		}
		cfg.CIMaxWait = d
	}
	return nil
}
