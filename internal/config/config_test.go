package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OAPE_CONFIG", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CIPollInterval != 60*time.Second {
		t.Fatalf("expected 60s poll interval, got %s", cfg.CIPollInterval)
	}
	if cfg.CIMaxWait != 120*time.Minute {
		t.Fatalf("expected 120m max wait, got %s", cfg.CIMaxWait)
	}
	if cfg.Agent.MaxTurns != 200 {
		t.Fatalf("expected 200 max turns, got %d", cfg.Agent.MaxTurns)
	}
	if len(cfg.Agent.AllowedTools) == 0 {
		t.Fatalf("expected default allowed tools")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("OAPE_CONFIG", "")
	t.Setenv("CI_POLL_INTERVAL", "5s")
	t.Setenv("CLAUDE_ALLOWED_TOOLS", "Bash, Read ,")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CIPollInterval != 5*time.Second {
		t.Fatalf("expected 5s, got %s", cfg.CIPollInterval)
	}
	if len(cfg.Agent.AllowedTools) != 2 || cfg.Agent.AllowedTools[1] != "Read" {
		t.Fatalf("unexpected tools %v", cfg.Agent.AllowedTools)
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oape.yaml")
	body := `agent:
  binary: /opt/claude
  allowed_tools: [Bash]
  max_turns: 50
ci:
  poll_interval: 10s
  max_wait: 1h
work_root: /srv/oape
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("OAPE_CONFIG", path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Agent.Binary != "/opt/claude" || cfg.Agent.MaxTurns != 50 {
		t.Fatalf("agent overlay not applied: %+v", cfg.Agent)
	}
	if cfg.CIPollInterval != 10*time.Second || cfg.CIMaxWait != time.Hour {
		t.Fatalf("ci overlay not applied: %s %s", cfg.CIPollInterval, cfg.CIMaxWait)
	}
	if cfg.WorkRoot != "/srv/oape" {
		t.Fatalf("work root not applied: %s", cfg.WorkRoot)
	}
}

func TestLoadYAMLBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oape.yaml")
	if err := os.WriteFile(path, []byte("ci:\n  max_wait: soon\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("OAPE_CONFIG", path)
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for bad duration")
	}
}

func TestLoadRejectsNonPositiveIntervals(t *testing.T) {
	cases := map[string]string{
		"STREAM_KEEPALIVE": "0s",
		"CI_POLL_INTERVAL": "-1m",
		"CI_MAX_WAIT":      "-5m",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv("OAPE_CONFIG", "")
			t.Setenv(key, val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%s to be rejected", key, val)
			}
		})
	}
}

func TestLoadRejectsZeroPollIntervalFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oape.yaml")
	if err := os.WriteFile(path, []byte("ci:\n  poll_interval: 0s\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("OAPE_CONFIG", path)
	if _, err := Load(); err == nil {
		t.Fatalf("expected zero poll interval to be rejected")
	}
}
